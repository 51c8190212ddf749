package agent

import (
	"context"
	"fmt"
	"strings"

	"github.com/hupe1980/convoflow/core"
)

// goalPrefixes are stripped from the input to isolate the goal statement.
var goalPrefixes = []string{
	"i want to ",
	"i plan to ",
	"i would like to ",
	"i'd like to ",
	"my goal is to ",
	"my goal is ",
}

// GoalSettingAdapter turns goal statements into concrete commitments. It
// extracts the goal from the turn text, stores it as an insight and asks for
// the first actionable step.
type GoalSettingAdapter struct {
	BaseAdapter
}

// NewGoalSettingAdapter constructs the stock goal-setting adapter.
func NewGoalSettingAdapter() *GoalSettingAdapter {
	a := &GoalSettingAdapter{BaseAdapter: NewBaseAdapter("GoalSetting")}
	a.SetDescription("Helps turn intentions into concrete, committed goals")
	return a
}

// Process implements Adapter.
func (a *GoalSettingAdapter) Process(_ context.Context, ev core.RoutedEvent) core.AgentReply {
	return a.Memoize(ev, func() core.AgentReply {
		goal := extractGoal(ev.Text)

		insights := map[string]string{}
		var reply string
		if goal != "" {
			insights["goal"] = goal
			reply = fmt.Sprintf("%q sounds like a goal worth committing to. What is the first concrete step you could take today?", goal)
		} else {
			reply = "What would you like to achieve? Try naming one specific outcome."
		}

		if prev, ok := ev.Context.Insights["goal"]; ok && goal != "" && prev != goal {
			reply = fmt.Sprintf("Earlier you mentioned %q. %s", prev, reply)
		}

		return core.NewAgentReply(ev, a.Name(), reply, insights)
	})
}

// extractGoal isolates the goal statement from free-form text. Returns an
// empty string when no goal phrasing is present.
func extractGoal(text string) string {
	trimmed := strings.TrimSpace(text)
	lower := strings.ToLower(trimmed)

	for _, prefix := range goalPrefixes {
		if strings.HasPrefix(lower, prefix) {
			goal := strings.TrimSpace(trimmed[len(prefix):])
			return strings.TrimRight(goal, ".!?")
		}
	}

	if strings.Contains(lower, "goal") {
		return strings.TrimRight(trimmed, ".!?")
	}

	return ""
}
