// Package convoflow provides a high-level façade over the orchestrator core
// and its service abstractions (sessions, context storage, event bus &
// logging) enabling rapid construction of multi-agent conversational
// systems. Most applications interact with this package by:
//  1. Creating a ConvoFlow via New() (optionally overriding defaults)
//  2. Registering adapters (the stock set via RegisterDefaultAdapters, or
//     custom / model-backed ones via RegisterAdapter)
//  3. Opening sessions and submitting turns (OpenSession / SubmitTurn)
//
// The façade delegates routing to orchestrator.Orchestrator and lifecycle to
// supervisor.Supervisor while keeping setup and usage ergonomics concise.
// All defaults are safe for local development and testing; production
// deployments typically supply a durable context store and a structured
// logger.
package convoflow

import (
	"context"
	"fmt"

	"github.com/hupe1980/convoflow/agent"
	"github.com/hupe1980/convoflow/bus"
	"github.com/hupe1980/convoflow/config"
	"github.com/hupe1980/convoflow/core"
	"github.com/hupe1980/convoflow/logging"
	"github.com/hupe1980/convoflow/orchestrator"
	"github.com/hupe1980/convoflow/store"
	"github.com/hupe1980/convoflow/supervisor"
)

// Options configures the ConvoFlow instance.
type Options struct {
	// Config carries routing rules, timeouts, retry budget and limits.
	Config config.Config

	// ContextStore persists conversation contexts (defaults to in-memory).
	ContextStore core.ContextStore

	// Logger (defaults to NoOp logger if nil).
	Logger logging.Logger
}

// ConvoFlow is the high-level façade aggregating the orchestrator,
// supervisor, registry, bus and stores.
type ConvoFlow struct {
	cfg      config.Config
	bus      *bus.Bus
	registry *agent.Registry
	store    core.ContextStore
	orch     *orchestrator.Orchestrator
	sup      *supervisor.Supervisor
	started  bool
}

// New creates a new ConvoFlow instance with optional overrides. Any unset
// service is initialized with an in-memory implementation.
func New(optFns ...func(o *Options)) *ConvoFlow {
	opts := Options{
		Config:       config.Default(),
		ContextStore: store.NewInMemoryStore(),
		Logger:       logging.NoOpLogger{},
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	b := bus.New(func(o *bus.Options) {
		o.BufferSize = opts.Config.BusBufferSize
		o.Logger = opts.Logger
	})

	registry := agent.NewRegistry()

	orch := orchestrator.New(b, registry, opts.ContextStore, func(o *orchestrator.Options) {
		o.Config = opts.Config
		o.Logger = opts.Logger
	})

	sup := supervisor.New(orch, opts.ContextStore, func(o *supervisor.Options) {
		o.IdleTimeout = opts.Config.IdleTimeout
		o.StoreFailureThreshold = opts.Config.StoreFailureThreshold
		o.Logger = opts.Logger
	})

	return &ConvoFlow{
		cfg:      opts.Config,
		bus:      b,
		registry: registry,
		store:    opts.ContextStore,
		orch:     orch,
		sup:      sup,
	}
}

// RegisterAdapter adds an adapter to the registry. All adapters must be
// registered before Start.
func (c *ConvoFlow) RegisterAdapter(a agent.Adapter) error {
	if c.started {
		return fmt.Errorf("cannot register adapter after start")
	}
	return c.registry.Register(a)
}

// RegisterDefaultAdapters registers the four stock adapters (GoalSetting,
// Reflection, Challenge, Context).
func (c *ConvoFlow) RegisterDefaultAdapters() error {
	adapters := []agent.Adapter{
		agent.NewGoalSettingAdapter(),
		agent.NewReflectionAdapter(),
		agent.NewChallengeAdapter(),
		agent.NewContextAdapter(),
	}
	for _, a := range adapters {
		if err := c.registry.Register(a); err != nil {
			return err
		}
	}
	return nil
}

// Start binds all registered adapters to the event bus. Must be called once
// before the first turn.
func (c *ConvoFlow) Start() error {
	if c.started {
		return fmt.Errorf("already started")
	}
	if err := c.orch.Start(); err != nil {
		return err
	}
	c.started = true
	return nil
}

// OpenSession creates (or resumes) a session. An empty phase is derived from
// the time of day.
func (c *ConvoFlow) OpenSession(sessionID, phase string) (*core.Session, error) {
	if !c.started {
		return nil, fmt.Errorf("not started")
	}
	return c.sup.GetOrCreate(sessionID, phase)
}

// SubmitTurn processes one inbound turn for an existing session and returns
// the reply text. Turns for the same session are processed strictly in
// submission order; turns for different sessions run in parallel.
func (c *ConvoFlow) SubmitTurn(ctx context.Context, sessionID, text string) (string, error) {
	return c.sup.Submit(ctx, sessionID, text)
}

// CloseSession tears down one session, cancelling any in-flight turn.
func (c *ConvoFlow) CloseSession(sessionID string) error {
	return c.sup.Close(sessionID)
}

// Context returns a snapshot of the persisted conversation context for
// external collaborators (read-only by contract).
func (c *ConvoFlow) Context(sessionID string) (core.Snapshot, error) {
	convCtx, err := c.store.Load(sessionID)
	if err != nil {
		return core.Snapshot{}, err
	}
	return convCtx.Snapshot(), nil
}

// Healthy reports whether new sessions are being accepted.
func (c *ConvoFlow) Healthy() bool { return c.sup.Healthy() }

// Shutdown closes all sessions, detaches bus subscriptions and stops the bus.
func (c *ConvoFlow) Shutdown() {
	c.sup.Shutdown()
	c.orch.Stop()
	c.bus.Close()
}
