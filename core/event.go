package core

import (
	"time"

	"github.com/google/uuid"
)

// RoutedEvent is the envelope placed on the event bus to carry one turn to
// its selected agent. It is created by the orchestrator, consumed by exactly
// one adapter and never mutated. ReplyID correlates the eventual AgentReply
// back to the awaiting orchestrator; the bus delivers at-least-once, so
// adapters must handle redelivery of the same (SessionID, TurnID)
// idempotently.
type RoutedEvent struct {
	SessionID string    `json:"session_id"`
	TurnID    int64     `json:"turn_id"`
	Agent     string    `json:"agent"`
	Text      string    `json:"text"`
	Context   Snapshot  `json:"context"`
	ReplyID   string    `json:"reply_id"`
	Timestamp time.Time `json:"timestamp"`
}

// NewRoutedEvent builds a routed event for the given turn and context
// snapshot with a fresh reply correlation id.
func NewRoutedEvent(sessionID string, turnID int64, agent, text string, snap Snapshot) RoutedEvent {
	return RoutedEvent{
		SessionID: sessionID,
		TurnID:    turnID,
		Agent:     agent,
		Text:      text,
		Context:   snap,
		ReplyID:   NewID(),
		Timestamp: time.Now().UTC(),
	}
}

// AgentReply is the envelope an adapter publishes back onto the bus after
// processing a routed event. An internal agent failure is reported through
// Err rather than a dropped reply, so the orchestrator can apply its
// retry/failure policy uniformly.
type AgentReply struct {
	SessionID string            `json:"session_id"`
	TurnID    int64             `json:"turn_id"`
	ReplyID   string            `json:"reply_id"`
	Agent     string            `json:"agent"`
	Text      string            `json:"text"`
	Insights  map[string]string `json:"insights,omitempty"`
	Err       string            `json:"error,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
}

// NewAgentReply builds a successful reply correlated to the routed event.
func NewAgentReply(ev RoutedEvent, agent, text string, insights map[string]string) AgentReply {
	return AgentReply{
		SessionID: ev.SessionID,
		TurnID:    ev.TurnID,
		ReplyID:   ev.ReplyID,
		Agent:     agent,
		Text:      text,
		Insights:  insights,
		Timestamp: time.Now().UTC(),
	}
}

// NewErrorReply builds a reply carrying an explicit error marker.
func NewErrorReply(ev RoutedEvent, agent string, err error) AgentReply {
	r := NewAgentReply(ev, agent, "", nil)
	if err != nil {
		r.Err = err.Error()
	}
	return r
}

// IsError reports whether the reply carries an agent processing error.
func (r AgentReply) IsError() bool { return r.Err != "" }

// NewID generates a unique identifier for reply correlation and session
// defaults.
func NewID() string { return uuid.NewString() }
