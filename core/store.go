package core

// ContextStore persists ConversationContext keyed by session id. Save must be
// atomic with respect to Load for the same session: no reader observes a
// partially written context. External collaborators may snapshot the stored
// state for analytics but must never mutate it; only the orchestrator calls
// Save (single-writer rule).
type ContextStore interface {
	// Load returns the stored context for the session. Implementations return
	// ErrContextNotFound (wrapped) when no context exists yet; callers decide
	// whether that is an error or a signal to start fresh.
	Load(sessionID string) (*ConversationContext, error)

	// Save atomically replaces the stored context for the session.
	Save(sessionID string, ctx *ConversationContext) error

	// Delete removes the stored context on session teardown.
	Delete(sessionID string) error
}
