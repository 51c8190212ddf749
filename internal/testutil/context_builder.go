package testutil

import (
	"github.com/hupe1980/convoflow/core"
)

// ContextBuilder helps construct conversation contexts with fluent chaining
// for tests. Example:
//
//	ctx := NewContextBuilder("sess-1").Phase("idle").Insight("goal", "run").Build()
type ContextBuilder struct {
	sessionID string
	phase     string
	limit     int
	insights  map[string]string
	turns     []core.Turn
	active    string
}

// NewContextBuilder creates a new builder for a context with the given
// session id. Use chainable methods then call Build.
func NewContextBuilder(sessionID string) *ContextBuilder {
	return &ContextBuilder{sessionID: sessionID, phase: core.PhaseIdle, insights: map[string]string{}}
}

// Phase sets the conversation phase (chainable).
func (b *ContextBuilder) Phase(phase string) *ContextBuilder {
	b.phase = phase
	return b
}

// HistoryLimit sets the retained history bound (chainable).
func (b *ContextBuilder) HistoryLimit(n int) *ContextBuilder {
	b.limit = n
	return b
}

// Insight sets or overwrites an insight pair (chainable).
func (b *ContextBuilder) Insight(key, value string) *ContextBuilder {
	b.insights[key] = value
	return b
}

// ActiveAgent sets the active agent name (chainable).
func (b *ContextBuilder) ActiveAgent(name string) *ContextBuilder {
	b.active = name
	return b
}

// CompletedTurn appends a completed turn with the given id, text and reply
// (chainable).
func (b *ContextBuilder) CompletedTurn(id int64, text, agent, reply string) *ContextBuilder {
	t := core.NewTurn(id, text)
	t.Status = core.TurnCompleted
	t.Agent = agent
	t.Reply = reply
	b.turns = append(b.turns, t)
	return b
}

// FailedTurn appends a failed turn with the given id and text (chainable).
func (b *ContextBuilder) FailedTurn(id int64, text string) *ContextBuilder {
	t := core.NewTurn(id, text)
	t.Status = core.TurnFailed
	b.turns = append(b.turns, t)
	return b
}

// Build returns a *core.ConversationContext with the configured state.
func (b *ContextBuilder) Build() *core.ConversationContext {
	ctx := core.NewConversationContext(b.sessionID, b.phase, b.limit)
	for _, t := range b.turns {
		ctx.RecordTurn(t)
	}
	ctx.MergeInsights(b.insights)
	if b.active != "" {
		ctx.SetActiveAgent(b.active)
	}
	return ctx
}
