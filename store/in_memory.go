package store

import (
	"fmt"
	"sync"

	"github.com/hupe1980/convoflow/core"
)

// InMemoryStore is a volatile ContextStore implementation holding contexts
// in a process local map. It is safe for concurrent access and best suited
// for tests or ephemeral demo setups. Contexts are cloned on both load and
// save so no caller can mutate the stored state in place, which is what
// makes Save atomic with respect to Load.
type InMemoryStore struct {
	mu       sync.RWMutex
	contexts map[string]*core.ConversationContext
}

// NewInMemoryStore constructs an empty in-memory context store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{contexts: make(map[string]*core.ConversationContext)}
}

// Load returns a clone of the stored context or ErrContextNotFound.
func (s *InMemoryStore) Load(sessionID string) (*core.ConversationContext, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ctx, ok := s.contexts[sessionID]
	if !ok {
		return nil, fmt.Errorf("session %s: %w", sessionID, core.ErrContextNotFound)
	}
	return ctx.Clone(), nil
}

// Save atomically replaces the stored context with a clone of the snapshot.
func (s *InMemoryStore) Save(sessionID string, ctx *core.ConversationContext) error {
	if ctx == nil {
		return fmt.Errorf("session %s: context must not be nil", sessionID)
	}
	clone := ctx.Clone()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.contexts[sessionID] = clone
	return nil
}

// Delete removes the stored context. Deleting an unknown session is a no-op.
func (s *InMemoryStore) Delete(sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.contexts, sessionID)
	return nil
}
