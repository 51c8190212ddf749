package core

import (
	"sync"
	"time"
)

// DefaultHistoryLimit bounds the retained turn history when no explicit
// limit is configured.
const DefaultHistoryLimit = 50

// ConversationContext is the accumulated state visible to agents for one
// session: a bounded ordered history of prior turns, a map of extracted
// insights and the currently active agent name (empty when none).
//
// Contract:
//   - Mutated only by the orchestrator after a turn reaches a terminal state
//   - Agents receive an immutable Snapshot taken at dispatch time
//   - Snapshot reflects exactly the state after the previous completed turn,
//     never a partially-updated one
type ConversationContext struct {
	SessionID string    `json:"session_id"`
	Phase     string    `json:"phase"`
	Updated   time.Time `json:"updated"`

	mu           sync.RWMutex
	turns        []Turn
	insights     map[string]string
	activeAgent  string
	historyLimit int
}

// NewConversationContext creates an empty context for a session. A
// historyLimit <= 0 falls back to DefaultHistoryLimit.
func NewConversationContext(sessionID, phase string, historyLimit int) *ConversationContext {
	if historyLimit <= 0 {
		historyLimit = DefaultHistoryLimit
	}
	return &ConversationContext{
		SessionID:    sessionID,
		Phase:        phase,
		Updated:      time.Now().UTC(),
		turns:        []Turn{},
		insights:     map[string]string{},
		historyLimit: historyLimit,
	}
}

// RecordTurn appends a terminal turn to the history, evicting the oldest
// entries beyond the history limit. Non-terminal turns are rejected silently
// by the orchestrator before reaching this point; the method itself only
// guards the bound.
func (c *ConversationContext) RecordTurn(t Turn) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.turns = append(c.turns, t)
	if len(c.turns) > c.historyLimit {
		c.turns = c.turns[len(c.turns)-c.historyLimit:]
	}
	c.Updated = time.Now().UTC()
}

// Turns returns a defensive copy of the retained history.
func (c *ConversationContext) Turns() []Turn {
	c.mu.RLock()
	defer c.mu.RUnlock()
	turns := make([]Turn, len(c.turns))
	copy(turns, c.turns)
	return turns
}

// LastTurn returns the most recent recorded turn, if any.
func (c *ConversationContext) LastTurn() (Turn, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if len(c.turns) == 0 {
		return Turn{}, false
	}
	return c.turns[len(c.turns)-1], true
}

// SetInsight stores an extracted insight under key.
func (c *ConversationContext) SetInsight(key, value string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.insights[key] = value
	c.Updated = time.Now().UTC()
}

// MergeInsights copies all pairs from delta into the insight map.
func (c *ConversationContext) MergeInsights(delta map[string]string) {
	if len(delta) == 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for k, v := range delta {
		c.insights[k] = v
	}
	c.Updated = time.Now().UTC()
}

// Insight returns the value and existence flag for an insight key.
func (c *ConversationContext) Insight(key string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.insights[key]
	return v, ok
}

// Insights returns a copy of the full insight map.
func (c *ConversationContext) Insights() map[string]string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]string, len(c.insights))
	for k, v := range c.insights {
		out[k] = v
	}
	return out
}

// ActiveAgent returns the name of the agent that handled the last turn, or
// an empty string when none has.
func (c *ConversationContext) ActiveAgent() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.activeAgent
}

// SetActiveAgent records the agent currently handling the conversation.
func (c *ConversationContext) SetActiveAgent(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.activeAgent = name
	c.Updated = time.Now().UTC()
}

// Snapshot is the immutable view of a ConversationContext handed to agents
// inside a RoutedEvent. Copies are deep; mutating a snapshot never affects
// the live context.
type Snapshot struct {
	SessionID   string            `json:"session_id"`
	Phase       string            `json:"phase"`
	Updated     time.Time         `json:"updated"`
	Turns       []Turn            `json:"turns"`
	Insights    map[string]string `json:"insights"`
	ActiveAgent string            `json:"active_agent,omitempty"`
}

// Snapshot captures the current state as an immutable deep copy.
func (c *ConversationContext) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	turns := make([]Turn, len(c.turns))
	copy(turns, c.turns)
	insights := make(map[string]string, len(c.insights))
	for k, v := range c.insights {
		insights[k] = v
	}
	return Snapshot{
		SessionID:   c.SessionID,
		Phase:       c.Phase,
		Updated:     c.Updated,
		Turns:       turns,
		Insights:    insights,
		ActiveAgent: c.activeAgent,
	}
}

// Clone returns a deep copy safe for independent mutation. Used by stores to
// avoid leaking internal references.
func (c *ConversationContext) Clone() *ConversationContext {
	snap := c.Snapshot()
	clone := NewConversationContext(snap.SessionID, snap.Phase, c.historyLimit)
	clone.Updated = snap.Updated
	clone.turns = snap.Turns
	clone.insights = snap.Insights
	clone.activeAgent = snap.ActiveAgent
	return clone
}

// RestoreFromSnapshot rebuilds a context from a persisted snapshot.
func RestoreFromSnapshot(snap Snapshot, historyLimit int) *ConversationContext {
	c := NewConversationContext(snap.SessionID, snap.Phase, historyLimit)
	c.Updated = snap.Updated
	c.turns = append(c.turns, snap.Turns...)
	for k, v := range snap.Insights {
		c.insights[k] = v
	}
	c.activeAgent = snap.ActiveAgent
	return c
}

// Equal reports whether two snapshots carry identical state. Primarily used
// by store round-trip tests and idempotence checks.
func (s Snapshot) Equal(other Snapshot) bool {
	if s.SessionID != other.SessionID || s.Phase != other.Phase || s.ActiveAgent != other.ActiveAgent {
		return false
	}
	if len(s.Turns) != len(other.Turns) || len(s.Insights) != len(other.Insights) {
		return false
	}
	for i := range s.Turns {
		a, b := s.Turns[i], other.Turns[i]
		if a.ID != b.ID || a.Text != b.Text || a.Agent != b.Agent || a.Reply != b.Reply || a.Status != b.Status {
			return false
		}
	}
	for k, v := range s.Insights {
		if other.Insights[k] != v {
			return false
		}
	}
	return true
}
