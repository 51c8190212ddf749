package core

import (
	"errors"
	"fmt"
)

var (
	// ErrSessionNotFound is returned when a turn references a session id the
	// supervisor does not know. Surfaced immediately, never retried.
	ErrSessionNotFound = errors.New("session not found")

	// ErrEmptyInput is returned when the inbound text fails basic validation.
	// Surfaced immediately, never retried.
	ErrEmptyInput = errors.New("turn text must not be empty")

	// ErrSessionClosed is returned when a turn arrives for a session that has
	// been closed, or when an in-flight turn is cancelled by session close.
	ErrSessionClosed = errors.New("session closed")

	// ErrUnavailable is returned when the supervisor has stopped accepting
	// new sessions after repeated context store failures.
	ErrUnavailable = errors.New("service unavailable")

	// ErrContextNotFound is returned by stores when no context has been
	// saved for the session yet.
	ErrContextNotFound = errors.New("conversation context not found")
)

// AgentTimeoutError means the target agent did not reply within its timeout.
// The orchestrator retries once before marking the turn failed.
type AgentTimeoutError struct {
	Agent  string
	TurnID int64
}

func (e *AgentTimeoutError) Error() string {
	return fmt.Sprintf("agent %s did not reply for turn %d before the deadline", e.Agent, e.TurnID)
}

// AgentProcessingError means the agent explicitly reported an internal
// failure. Retried like a timeout but logged with the agent-provided detail.
type AgentProcessingError struct {
	Agent  string
	TurnID int64
	Detail string
}

func (e *AgentProcessingError) Error() string {
	return fmt.Sprintf("agent %s failed turn %d: %s", e.Agent, e.TurnID, e.Detail)
}

// ContextStoreError wraps a persistence failure. Fatal for the current turn;
// state consistency cannot be guaranteed, so it is never retried and the
// supervisor treats repeated occurrences as a process health signal.
type ContextStoreError struct {
	Op        string // "load" or "save"
	SessionID string
	Err       error
}

func (e *ContextStoreError) Error() string {
	return fmt.Sprintf("context store %s failed for session %s: %v", e.Op, e.SessionID, e.Err)
}

func (e *ContextStoreError) Unwrap() error { return e.Err }
