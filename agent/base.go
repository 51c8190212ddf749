package agent

import (
	"fmt"
	"sync"

	"github.com/hupe1980/convoflow/core"
)

// replyCacheSize bounds the number of memoized replies per adapter. Old
// entries are evicted in insertion order once the bound is reached.
const replyCacheSize = 256

// BaseAdapter bundles identity helpers and the idempotent reply cache shared
// by all adapter implementations. Embed it in concrete adapters and supply a
// Process method (usually via Memoize) to satisfy the Adapter interface.
// All exported methods are goroutine-safe.
type BaseAdapter struct {
	name        string
	description string

	mu    sync.Mutex
	cache map[string]core.AgentReply
	order []string
}

// NewBaseAdapter constructs a BaseAdapter with a generated description
// (customizable via SetDescription).
func NewBaseAdapter(name string) BaseAdapter {
	return BaseAdapter{
		name:        name,
		description: fmt.Sprintf("Agent %s", name),
		cache:       make(map[string]core.AgentReply),
	}
}

// Name returns the registered name for this adapter.
func (b *BaseAdapter) Name() string { return b.name }

// Description returns a detailed description of this adapter's purpose.
func (b *BaseAdapter) Description() string { return b.description }

// SetDescription updates the adapter's description.
func (b *BaseAdapter) SetDescription(desc string) { b.description = desc }

// Memoize returns the cached reply for a redelivered event, or computes and
// caches a fresh one. The bus delivers at-least-once, so processing the same
// (session, turn) twice must yield the identical reply; this is the single
// place that invariant is enforced for every adapter. Only successful replies
// are cached: an error-marked reply must not pin the failure, or the
// orchestrator's retry could never recover.
func (b *BaseAdapter) Memoize(ev core.RoutedEvent, compute func() core.AgentReply) core.AgentReply {
	key := fmt.Sprintf("%s/%d", ev.SessionID, ev.TurnID)

	b.mu.Lock()
	if reply, ok := b.cache[key]; ok {
		b.mu.Unlock()
		// Redelivery keeps the original ReplyID stale; rewrite it so the
		// orchestrator's current wait can correlate the reply.
		reply.ReplyID = ev.ReplyID
		return reply
	}
	b.mu.Unlock()

	reply := compute()

	if reply.IsError() {
		return reply
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if cached, ok := b.cache[key]; ok {
		// A concurrent compute for the same turn won the insert; hand back
		// its reply under this event's correlation id.
		cached.ReplyID = ev.ReplyID
		return cached
	}
	b.cache[key] = reply
	b.order = append(b.order, key)
	if len(b.order) > replyCacheSize {
		delete(b.cache, b.order[0])
		b.order = b.order[1:]
	}
	return reply
}
