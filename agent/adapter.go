package agent

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/hupe1980/convoflow/core"
)

// Adapter wraps one specialized conversational capability behind a uniform
// request/response contract. Implementations must:
//   - Respect context cancellation (the orchestrator bounds every dispatch
//     with a per-agent timeout)
//   - Return a reply with an explicit error marker on internal failure
//     instead of panicking, so retry policy can be applied uniformly
//   - Handle redelivery of the same (session, turn) idempotently: the same
//     event must yield the same reply
type Adapter interface {
	Name() string
	Description() string
	Process(ctx context.Context, ev core.RoutedEvent) core.AgentReply
}

// Registry holds the closed set of adapters available to the orchestrator.
// It is an explicit object injected at construction time rather than a
// module-level table, so no shared mutable state leaks across sessions.
type Registry struct {
	mu       sync.RWMutex
	adapters map[string]Adapter
}

// NewRegistry constructs an empty registry.
func NewRegistry() *Registry {
	return &Registry{adapters: make(map[string]Adapter)}
}

// Register adds an adapter under its name. Registering a duplicate name is
// an error; replacing an adapter mid-flight would break in-flight turns.
func (r *Registry) Register(a Adapter) error {
	if a == nil {
		return fmt.Errorf("adapter must not be nil")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.adapters[a.Name()]; exists {
		return fmt.Errorf("adapter %s already registered", a.Name())
	}
	r.adapters[a.Name()] = a

	return nil
}

// Get retrieves a registered adapter by name.
func (r *Registry) Get(name string) (Adapter, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.adapters[name]
	return a, ok
}

// Names returns the sorted registered adapter names.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.adapters))
	for name := range r.adapters {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
