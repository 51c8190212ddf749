// Package orchestrator contains the routing/decision core of ConvoFlow. For
// every inbound turn it selects exactly one agent adapter, dispatches the
// turn over the event bus, awaits the correlated reply under a bounded
// timeout with a configurable retry budget, and commits the resulting
// context mutation as the single writer of the context store.
//
// Topic layout on the bus:
//   - "turns.<agent>"  routed events for one adapter
//   - "replies"        all agent replies, demultiplexed by reply id
//
// Per-session ordering holds because the supervisor serializes turns within
// a session: at most one routed event per session is in flight, so publish
// order and delivery order coincide for any one session regardless of which
// agent topic a turn lands on.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/hupe1980/convoflow/agent"
	"github.com/hupe1980/convoflow/bus"
	"github.com/hupe1980/convoflow/config"
	"github.com/hupe1980/convoflow/core"
	"github.com/hupe1980/convoflow/logging"
)

const replyTopic = "replies"

func turnTopic(agentName string) string { return "turns." + agentName }

// Options holds configuration overrides passed to New().
type Options struct {
	// Config carries the routing table, timeouts and retry budget.
	Config config.Config

	// Logger receives structured routing and lifecycle diagnostics.
	Logger logging.Logger
}

// Orchestrator decides which adapter handles a turn and manages the round
// trip. Public methods are safe for concurrent use across sessions; within a
// session the supervisor guarantees serialized calls.
type Orchestrator struct {
	core.LoggerAdapter

	cfg      config.Config
	bus      *bus.Bus
	registry *agent.Registry
	store    core.ContextStore
	router   *Router

	mu      sync.Mutex
	waiters map[string]chan core.AgentReply

	unsubscribe []func()
}

// New constructs an orchestrator over the given bus, registry and store.
// Call Start to bind adapters before handling turns.
func New(b *bus.Bus, registry *agent.Registry, store core.ContextStore, optFns ...func(o *Options)) *Orchestrator {
	opts := Options{
		Config: config.Default(),
		Logger: logging.NoOpLogger{},
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	return &Orchestrator{
		LoggerAdapter: core.NewLoggerAdapter(opts.Logger),
		cfg:           opts.Config,
		bus:           b,
		registry:      registry,
		store:         store,
		router:        NewRouter(opts.Config),
		waiters:       make(map[string]chan core.AgentReply),
	}
}

// Start subscribes every registered adapter to its turn topic and the
// orchestrator to the shared reply topic. It must be called once, after all
// adapters are registered and before the first turn.
func (o *Orchestrator) Start() error {
	cancel, err := o.bus.Subscribe(replyTopic, o.handleReply)
	if err != nil {
		return fmt.Errorf("subscribe replies: %w", err)
	}
	o.unsubscribe = append(o.unsubscribe, cancel)

	for _, name := range o.registry.Names() {
		a, _ := o.registry.Get(name)
		cancel, err := o.bus.Subscribe(turnTopic(name), o.adapterHandler(a))
		if err != nil {
			return fmt.Errorf("subscribe %s: %w", turnTopic(name), err)
		}
		o.unsubscribe = append(o.unsubscribe, cancel)
	}

	return nil
}

// Stop detaches all bus subscriptions.
func (o *Orchestrator) Stop() {
	for _, cancel := range o.unsubscribe {
		cancel()
	}
	o.unsubscribe = nil
}

// adapterHandler returns the bus handler for one adapter. Delivery stays in
// publish order; processing happens on a fresh goroutine per event so a slow
// adapter invocation for one session never blocks turns of other sessions.
func (o *Orchestrator) adapterHandler(a agent.Adapter) bus.Handler {
	return func(msg any) error {
		ev, ok := msg.(core.RoutedEvent)
		if !ok {
			return fmt.Errorf("unexpected payload %T on %s", msg, turnTopic(a.Name()))
		}

		go o.processEvent(a, ev)

		return nil
	}
}

// processEvent runs one adapter invocation under its configured timeout and
// publishes the reply.
func (o *Orchestrator) processEvent(a agent.Adapter, ev core.RoutedEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), o.cfg.TimeoutFor(a.Name()))
	defer cancel()

	reply := a.Process(ctx, ev)

	if err := o.bus.Publish(replyTopic, reply); err != nil {
		o.LogError("failed to publish reply", "agent", a.Name(), "session_id", ev.SessionID, "turn_id", ev.TurnID, "error", err)
	}
}

// handleReply demultiplexes replies to the waiting turn by reply id. Replies
// with no waiter are late (turn already timed out or cancelled) or
// duplicates (bus redelivery); both are discarded, leaving committed state
// untouched.
func (o *Orchestrator) handleReply(msg any) error {
	reply, ok := msg.(core.AgentReply)
	if !ok {
		return fmt.Errorf("unexpected payload %T on %s", msg, replyTopic)
	}

	o.mu.Lock()
	waiter, ok := o.waiters[reply.ReplyID]
	if ok {
		delete(o.waiters, reply.ReplyID)
	}
	o.mu.Unlock()

	if !ok {
		o.LogDebug("discarding late or duplicate reply", "session_id", reply.SessionID, "turn_id", reply.TurnID, "agent", reply.Agent)
		return nil
	}

	waiter <- reply

	return nil
}

// HandleTurn processes one inbound turn for a session end to end and returns
// the reply text. The caller (supervisor) must serialize invocations per
// session; ctx is cancelled when the session closes.
func (o *Orchestrator) HandleTurn(ctx context.Context, sess *core.Session, text string) (string, error) {
	if text == "" {
		return "", core.ErrEmptyInput
	}

	convCtx, err := o.loadContext(sess)
	if err != nil {
		return "", err
	}

	turn := core.NewTurn(sess.NextTurnID(), text)
	start := time.Now()

	snap := convCtx.Snapshot()
	decision := o.router.Route(snap, text)
	o.LogInfo("turn routed", "session_id", sess.ID, "turn_id", turn.ID, "agent", decision.Agent, "rule", decision.Rule, "phase", snap.Phase)

	if decision.Complete {
		return o.completeConversation(sess, convCtx, turn)
	}

	// Routing is total over the configured table, but configuration and
	// registry can drift; treat an unknown target as a routing error.
	if _, ok := o.registry.Get(decision.Agent); !ok {
		if err := turn.Transition(core.TurnFailed); err != nil {
			o.LogWarn("turn transition", "error", err)
		}
		if err := o.commitTurn(sess, convCtx, turn); err != nil {
			return "", err
		}
		return "", fmt.Errorf("no adapter registered for agent %s", decision.Agent)
	}

	reply, dispatchErr := o.dispatch(ctx, sess, convCtx, &turn, decision.Agent)

	if dispatchErr != nil {
		if err := turn.Transition(core.TurnFailed); err != nil {
			o.LogWarn("turn transition", "error", err)
		}
		turn.Agent = decision.Agent
		turn.Reply = o.cfg.FallbackReply
		if err := o.commitTurn(sess, convCtx, turn); err != nil {
			return "", err
		}
		o.LogWarn("turn failed", "session_id", sess.ID, "turn_id", turn.ID, "error", dispatchErr)

		if ctx.Err() != nil {
			// Session closed while the turn was in flight; no fallback reply
			// reaches a caller that is gone.
			return "", core.ErrSessionClosed
		}

		return o.cfg.FallbackReply, nil
	}

	turn.Agent = reply.Agent
	turn.Reply = reply.Text
	if err := turn.Transition(core.TurnCompleted); err != nil {
		o.LogWarn("turn transition", "error", err)
	}

	convCtx.MergeInsights(reply.Insights)
	convCtx.SetActiveAgent(reply.Agent)

	if err := o.commitTurn(sess, convCtx, turn); err != nil {
		return "", err
	}

	o.LogInfo("turn completed", "session_id", sess.ID, "turn_id", turn.ID, "agent", reply.Agent, "duration", time.Since(start))

	return reply.Text, nil
}

// dispatch publishes the routed event and awaits the correlated reply,
// retrying per the configured budget on timeout or agent processing error.
func (o *Orchestrator) dispatch(ctx context.Context, sess *core.Session, convCtx *core.ConversationContext, turn *core.Turn, agentName string) (core.AgentReply, error) {
	timeout := o.cfg.TimeoutFor(agentName)
	attempts := o.cfg.Retries + 1

	var lastErr error

	for attempt := 1; attempt <= attempts; attempt++ {
		// Each attempt gets a fresh correlation id; adapters memoize by
		// (session, turn), so a retry after a slow first attempt yields the
		// identical reply under the new id.
		ev := core.NewRoutedEvent(sess.ID, turn.ID, agentName, turn.Text, convCtx.Snapshot())

		waiter := make(chan core.AgentReply, 1)
		o.mu.Lock()
		o.waiters[ev.ReplyID] = waiter
		o.mu.Unlock()

		if turn.Status == core.TurnReceived {
			if err := turn.Transition(core.TurnRouted); err != nil {
				o.removeWaiter(ev.ReplyID)
				return core.AgentReply{}, err
			}
		}

		attemptStart := time.Now()

		if err := o.bus.Publish(turnTopic(agentName), ev); err != nil {
			o.removeWaiter(ev.ReplyID)
			return core.AgentReply{}, fmt.Errorf("publish routed event: %w", err)
		}

		timer := time.NewTimer(timeout)

		select {
		case <-ctx.Done():
			timer.Stop()
			o.removeWaiter(ev.ReplyID)
			return core.AgentReply{}, ctx.Err()

		case <-timer.C:
			o.removeWaiter(ev.ReplyID)
			lastErr = &core.AgentTimeoutError{Agent: agentName, TurnID: turn.ID}
			o.LogWarn("agent timeout", "session_id", sess.ID, "turn_id", turn.ID, "agent", agentName, "attempt", attempt, "duration", time.Since(attemptStart))

		case reply := <-waiter:
			timer.Stop()
			if reply.IsError() {
				lastErr = &core.AgentProcessingError{Agent: agentName, TurnID: turn.ID, Detail: reply.Err}
				o.LogWarn("agent processing error", "session_id", sess.ID, "turn_id", turn.ID, "agent", agentName, "attempt", attempt, "detail", reply.Err)
				continue
			}
			return reply, nil
		}
	}

	return core.AgentReply{}, lastErr
}

// completeConversation short-circuits dispatch when the router concludes the
// conversation: the turn completes with the closing reply and the session
// drops to the idle phase.
func (o *Orchestrator) completeConversation(sess *core.Session, convCtx *core.ConversationContext, turn core.Turn) (string, error) {
	if err := turn.Transition(core.TurnRouted); err != nil {
		o.LogWarn("turn transition", "error", err)
	}
	turn.Reply = o.cfg.ClosingReply
	if err := turn.Transition(core.TurnCompleted); err != nil {
		o.LogWarn("turn transition", "error", err)
	}

	sess.SetPhase(core.PhaseIdle)
	convCtx.Phase = core.PhaseIdle

	if err := o.commitTurn(sess, convCtx, turn); err != nil {
		return "", err
	}

	o.LogInfo("conversation completed", "session_id", sess.ID, "turn_id", turn.ID)

	return o.cfg.ClosingReply, nil
}

// loadContext reads the session's context, starting a fresh one when none
// has been persisted yet.
func (o *Orchestrator) loadContext(sess *core.Session) (*core.ConversationContext, error) {
	convCtx, err := o.store.Load(sess.ID)
	if err == nil {
		return convCtx, nil
	}
	if isNotFound(err) {
		return core.NewConversationContext(sess.ID, sess.Phase(), o.cfg.HistoryLimit), nil
	}
	return nil, &core.ContextStoreError{Op: "load", SessionID: sess.ID, Err: err}
}

// commitTurn records the terminal turn and persists the context. Persistence
// failure is fatal for the turn: no retry, surfaced as a store error.
func (o *Orchestrator) commitTurn(sess *core.Session, convCtx *core.ConversationContext, turn core.Turn) error {
	convCtx.RecordTurn(turn)
	if err := o.store.Save(sess.ID, convCtx); err != nil {
		return &core.ContextStoreError{Op: "save", SessionID: sess.ID, Err: err}
	}
	return nil
}

func (o *Orchestrator) removeWaiter(replyID string) {
	o.mu.Lock()
	delete(o.waiters, replyID)
	o.mu.Unlock()
}

func isNotFound(err error) bool {
	return errors.Is(err, core.ErrContextNotFound)
}
