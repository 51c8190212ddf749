package orchestrator

import (
	"fmt"
	"strings"

	"github.com/hupe1980/convoflow/config"
	"github.com/hupe1980/convoflow/core"
)

// Decision is the outcome of routing one turn. Exactly one of Agent or
// Complete is meaningful: a completed conversation short-circuits dispatch.
type Decision struct {
	Agent    string
	Rule     string // label of the matched rule, for logging
	Complete bool
}

// Router evaluates the ordered rule table over the context snapshot and turn
// text. Evaluation is deterministic, first-match-wins and total: every input
// resolves to exactly one agent, with the configured default as catch-all.
type Router struct {
	rules              []config.Rule
	defaultAgent       string
	completionKeywords []string
}

// NewRouter builds a router from validated configuration.
func NewRouter(cfg config.Config) *Router {
	return &Router{
		rules:              cfg.Routing,
		defaultAgent:       cfg.DefaultAgent,
		completionKeywords: cfg.CompletionKeywords,
	}
}

// Route selects the target for a turn. Completion keywords are checked
// first; after that the rule table is scanned in order and the first match
// wins. Inputs matching nothing fall through to the default agent.
func (r *Router) Route(snap core.Snapshot, text string) Decision {
	lower := strings.ToLower(text)

	for _, kw := range r.completionKeywords {
		if strings.Contains(lower, strings.ToLower(kw)) {
			return Decision{Complete: true, Rule: "completion"}
		}
	}

	for i, rule := range r.rules {
		if matchesPhase(rule, snap.Phase) && matchesKeywords(rule, lower) {
			return Decision{Agent: rule.Agent, Rule: fmt.Sprintf("rule-%d", i)}
		}
	}

	return Decision{Agent: r.defaultAgent, Rule: "default"}
}

func matchesPhase(rule config.Rule, phase string) bool {
	if len(rule.Phases) == 0 {
		return true
	}
	for _, p := range rule.Phases {
		if p == phase {
			return true
		}
	}
	return false
}

func matchesKeywords(rule config.Rule, lowerText string) bool {
	if len(rule.Keywords) == 0 {
		return true
	}
	for _, kw := range rule.Keywords {
		if strings.Contains(lowerText, strings.ToLower(kw)) {
			return true
		}
	}
	return false
}
