// Package bus provides the in-process event bus used to route turns from the
// orchestrator to agent adapters and replies back again. Delivery is
// at-least-once with per-topic FIFO ordering: every topic owns a single
// dispatch goroutine that invokes subscribed handlers sequentially in publish
// order, and a failed handler invocation is redelivered up to a configurable
// number of times. Consumers are expected to handle redelivered payloads
// idempotently.
package bus

import (
	"fmt"
	"sync"
	"time"

	"github.com/hupe1980/convoflow/logging"
)

// Handler consumes one published payload. Returning an error triggers
// redelivery; handlers must therefore be safe to call more than once with
// the same payload.
type Handler func(msg any) error

// Options tunes bus behaviour.
type Options struct {
	// BufferSize is the per-topic queue capacity. Publish blocks when the
	// queue is full, providing natural backpressure.
	BufferSize int

	// MaxRedeliveries bounds how often a payload is re-offered to handlers
	// after an error before it is dropped with a warning.
	MaxRedeliveries int

	// Logger receives dispatch diagnostics. Defaults to NoOpLogger.
	Logger logging.Logger
}

// Bus is an in-memory topic based publish/subscribe channel. Safe for
// concurrent use. Topics are created lazily on first publish or subscribe,
// so publish order is preserved even for messages enqueued before a
// subscriber attaches.
type Bus struct {
	mu     sync.RWMutex
	topics map[string]*topic
	closed bool
	opts   Options
	wg     sync.WaitGroup
}

type topic struct {
	name     string
	queue    chan any
	mu       sync.RWMutex
	handlers map[uint64]Handler
	nextID   uint64
	done     chan struct{}
}

// New constructs a bus with optional overrides.
func New(optFns ...func(o *Options)) *Bus {
	opts := Options{
		BufferSize:      100,
		MaxRedeliveries: 1,
		Logger:          logging.NoOpLogger{},
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	return &Bus{topics: make(map[string]*topic), opts: opts}
}

// Publish enqueues a payload on the named topic. It blocks when the topic
// queue is full and returns an error once the bus is closed.
func (b *Bus) Publish(name string, msg any) error {
	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return fmt.Errorf("bus closed: cannot publish to %s", name)
	}
	t, ok := b.topics[name]
	b.mu.RUnlock()

	if !ok {
		t = b.getOrCreateTopic(name)
	}

	select {
	case t.queue <- msg:
		return nil
	case <-t.done:
		return fmt.Errorf("topic %s closed", name)
	}
}

// Subscribe registers a handler on the named topic and returns an
// unsubscribe function. Handlers on the same topic are invoked sequentially
// in publish order.
func (b *Bus) Subscribe(name string, h Handler) (func(), error) {
	if h == nil {
		return nil, fmt.Errorf("handler must not be nil")
	}

	b.mu.RLock()
	closed := b.closed
	b.mu.RUnlock()
	if closed {
		return nil, fmt.Errorf("bus closed: cannot subscribe to %s", name)
	}

	t := b.getOrCreateTopic(name)

	t.mu.Lock()
	t.nextID++
	id := t.nextID
	t.handlers[id] = h
	t.mu.Unlock()

	cancel := func() {
		t.mu.Lock()
		delete(t.handlers, id)
		t.mu.Unlock()
	}

	return cancel, nil
}

// Close stops all topic dispatchers and rejects further publishes. Payloads
// still queued at close time are discarded.
func (b *Bus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	topics := make([]*topic, 0, len(b.topics))
	for _, t := range b.topics {
		topics = append(topics, t)
	}
	b.mu.Unlock()

	for _, t := range topics {
		close(t.done)
	}

	b.wg.Wait()
}

func (b *Bus) getOrCreateTopic(name string) *topic {
	b.mu.Lock()
	defer b.mu.Unlock()
	if t, ok := b.topics[name]; ok {
		return t
	}

	t := &topic{
		name:     name,
		queue:    make(chan any, b.opts.BufferSize),
		handlers: make(map[uint64]Handler),
		done:     make(chan struct{}),
	}
	b.topics[name] = t

	b.wg.Add(1)
	go b.dispatch(t)

	return t
}

// dispatch is the single consumer loop for one topic. Sequential handler
// invocation per topic is what provides the per-session ordering guarantee;
// the orchestrator keys its topics so that all messages of one session land
// on the same topic. A message read before any subscriber attached is parked
// in a local pending slot and re-offered before anything newer is read, so
// retained messages keep their publish order.
func (b *Bus) dispatch(t *topic) {
	defer b.wg.Done()

	var pending any
	hasPending := false

	for {
		if !hasPending {
			select {
			case <-t.done:
				return
			case msg := <-t.queue:
				pending, hasPending = msg, true
			}
		}

		if !b.deliver(t, pending) {
			// No subscriber yet. Keep the message parked and poll for one;
			// backpressure applies naturally because the queue is not drained
			// in the meantime.
			select {
			case <-t.done:
				return
			case <-time.After(5 * time.Millisecond):
			}
			continue
		}

		pending, hasPending = nil, false
	}
}

// deliver invokes all handlers for one payload, redelivering on error. It
// reports false when no handler is attached yet.
func (b *Bus) deliver(t *topic, msg any) bool {
	t.mu.RLock()
	handlers := make([]Handler, 0, len(t.handlers))
	for _, h := range t.handlers {
		handlers = append(handlers, h)
	}
	t.mu.RUnlock()

	if len(handlers) == 0 {
		return false
	}

	for _, h := range handlers {
		var err error
		for attempt := 0; attempt <= b.opts.MaxRedeliveries; attempt++ {
			if err = h(msg); err == nil {
				break
			}
			b.opts.Logger.Warn("handler error, redelivering", "topic", t.name, "attempt", attempt+1, "error", err)
		}
		if err != nil {
			b.opts.Logger.Error("handler failed after redeliveries, dropping message", "topic", t.name, "error", err)
		}
	}

	return true
}
