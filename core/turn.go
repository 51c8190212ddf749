package core

import (
	"fmt"
	"time"
)

// TurnStatus tracks a turn through its lifecycle. Transitions are strictly
// received → routed → (completed | failed); terminal states never change.
type TurnStatus string

const (
	// TurnReceived is the initial status assigned when input arrives.
	TurnReceived TurnStatus = "received"
	// TurnRouted means the routed event has been published to the bus.
	TurnRouted TurnStatus = "routed"
	// TurnCompleted means an agent reply arrived before the deadline.
	TurnCompleted TurnStatus = "completed"
	// TurnFailed means the turn timed out, errored or was cancelled.
	TurnFailed TurnStatus = "failed"
)

// Terminal reports whether the status admits no further transitions.
func (s TurnStatus) Terminal() bool { return s == TurnCompleted || s == TurnFailed }

// Turn is one inbound message plus its computed reply. IDs are monotonic per
// session with no gaps; a failed turn is recorded, never omitted. Once a turn
// reaches a terminal status it must be treated as immutable.
type Turn struct {
	ID        int64      `json:"id"`
	Text      string     `json:"text"`
	Timestamp time.Time  `json:"timestamp"`
	Agent     string     `json:"agent,omitempty"`
	Reply     string     `json:"reply,omitempty"`
	Status    TurnStatus `json:"status"`
}

// NewTurn creates a turn in the received state.
func NewTurn(id int64, text string) Turn {
	return Turn{ID: id, Text: text, Timestamp: time.Now().UTC(), Status: TurnReceived}
}

// Transition validates and applies a status change. It returns an error for
// any move out of a terminal state or a skip over the routed state.
func (t *Turn) Transition(next TurnStatus) error {
	if t.Status.Terminal() {
		return fmt.Errorf("turn %d: cannot transition from terminal status %q", t.ID, t.Status)
	}

	switch next {
	case TurnRouted:
		if t.Status != TurnReceived {
			return fmt.Errorf("turn %d: cannot route from status %q", t.ID, t.Status)
		}
	case TurnCompleted, TurnFailed:
		// Failure is legal from received (validation) and routed (timeout,
		// agent error, cancellation). Completion requires a prior route.
		if next == TurnCompleted && t.Status != TurnRouted {
			return fmt.Errorf("turn %d: cannot complete from status %q", t.ID, t.Status)
		}
	default:
		return fmt.Errorf("turn %d: invalid target status %q", t.ID, next)
	}

	t.Status = next

	return nil
}
