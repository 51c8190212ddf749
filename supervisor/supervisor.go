// Package supervisor owns conversation session lifecycle: creation, strict
// serialization of turns within a session, idle teardown and the process
// health gate driven by repeated context store failures. Sessions across the
// supervisor run fully in parallel; within one session turns are processed
// strictly in submission order.
package supervisor

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/hupe1980/convoflow/core"
	"github.com/hupe1980/convoflow/logging"
)

// TurnHandler is the orchestrator-facing contract the supervisor drives.
type TurnHandler interface {
	HandleTurn(ctx context.Context, sess *core.Session, text string) (string, error)
}

// Options holds configuration overrides passed to New().
type Options struct {
	// IdleTimeout tears down sessions with no activity. Zero disables the reaper.
	IdleTimeout time.Duration

	// ReapInterval is how often idle sessions are scanned for.
	ReapInterval time.Duration

	// StoreFailureThreshold is the number of consecutive context store
	// failures after which new sessions are rejected with ErrUnavailable.
	StoreFailureThreshold int

	// Logger receives lifecycle diagnostics.
	Logger logging.Logger
}

// handle pairs one session with the mutex that serializes its turns and the
// context cancelled on close.
type handle struct {
	sess   *core.Session
	turnMu sync.Mutex
	ctx    context.Context
	cancel context.CancelFunc
}

// Supervisor creates sessions, serializes concurrent inbound turns for the
// same session and tears down idle sessions. Safe for concurrent use.
type Supervisor struct {
	core.LoggerAdapter

	handler TurnHandler
	store   core.ContextStore
	opts    Options

	mu            sync.Mutex
	sessions      map[string]*handle
	storeFailures int
	unhealthy     bool
	closed        bool

	reaperStop chan struct{}
	reaperDone chan struct{}
}

// New constructs a supervisor and starts the idle reaper when an idle
// timeout is configured.
func New(handler TurnHandler, store core.ContextStore, optFns ...func(o *Options)) *Supervisor {
	opts := Options{
		IdleTimeout:           30 * time.Minute,
		ReapInterval:          time.Minute,
		StoreFailureThreshold: 3,
		Logger:                logging.NoOpLogger{},
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	s := &Supervisor{
		LoggerAdapter: core.NewLoggerAdapter(opts.Logger),
		handler:       handler,
		store:         store,
		opts:          opts,
		sessions:      make(map[string]*handle),
	}

	if opts.IdleTimeout > 0 {
		s.reaperStop = make(chan struct{})
		s.reaperDone = make(chan struct{})
		go s.reap()
	}

	return s
}

// GetOrCreate returns the session for the id, creating it when unknown. A
// recovered durable context seeds the phase and the turn id sequence so ids
// stay strictly increasing across restarts. New sessions are rejected with
// ErrUnavailable while the supervisor is unhealthy.
func (s *Supervisor) GetOrCreate(sessionID, phase string) (*core.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, core.ErrUnavailable
	}

	if h, ok := s.sessions[sessionID]; ok {
		return h.sess, nil
	}

	if s.unhealthy {
		return nil, core.ErrUnavailable
	}

	sess := core.NewSession(sessionID, phase)

	if convCtx, err := s.store.Load(sessionID); err == nil {
		sess.SetPhase(convCtx.Phase)
		if last, ok := convCtx.LastTurn(); ok {
			sess.SeedTurnID(last.ID + 1)
		}
	} else if !errors.Is(err, core.ErrContextNotFound) {
		s.recordStoreFailureLocked(err)
		return nil, core.ErrUnavailable
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.sessions[sessionID] = &handle{sess: sess, ctx: ctx, cancel: cancel}

	s.LogInfo("session created", "session_id", sessionID, "phase", sess.Phase())

	return sess, nil
}

// Submit processes one inbound turn for an existing session, blocking until
// any prior turn of the same session reached a terminal state. Turns for a
// session are therefore handled strictly in submission order.
func (s *Supervisor) Submit(ctx context.Context, sessionID, text string) (string, error) {
	s.mu.Lock()
	h, ok := s.sessions[sessionID]
	s.mu.Unlock()

	if !ok {
		return "", core.ErrSessionNotFound
	}

	h.turnMu.Lock()
	defer h.turnMu.Unlock()

	select {
	case <-h.ctx.Done():
		return "", core.ErrSessionClosed
	default:
	}

	// The turn context ends when either the caller gives up or the session
	// closes; closing a session cancels its in-flight turn.
	turnCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(h.ctx, cancel)
	defer stop()

	h.sess.Touch()

	reply, err := s.handler.HandleTurn(turnCtx, h.sess, text)
	s.recordOutcome(err)

	return reply, err
}

// Close tears down one session, cancelling any in-flight turn. The persisted
// context is retained so the conversation can resume later.
func (s *Supervisor) Close(sessionID string) error {
	s.mu.Lock()
	h, ok := s.sessions[sessionID]
	if ok {
		delete(s.sessions, sessionID)
	}
	s.mu.Unlock()

	if !ok {
		return core.ErrSessionNotFound
	}

	h.cancel()
	s.LogInfo("session closed", "session_id", sessionID)

	return nil
}

// Healthy reports whether new sessions are being accepted.
func (s *Supervisor) Healthy() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.unhealthy && !s.closed
}

// SessionCount returns the number of live sessions.
func (s *Supervisor) SessionCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// Shutdown closes every session and stops the reaper.
func (s *Supervisor) Shutdown() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	handles := make([]*handle, 0, len(s.sessions))
	for _, h := range s.sessions {
		handles = append(handles, h)
	}
	s.sessions = make(map[string]*handle)
	s.mu.Unlock()

	for _, h := range handles {
		h.cancel()
	}

	if s.reaperStop != nil {
		close(s.reaperStop)
		<-s.reaperDone
	}
}

// recordOutcome tracks consecutive context store failures. Any successful
// turn or non-store error resets the streak; crossing the threshold flips
// the supervisor unhealthy, which stops new sessions while existing ones
// continue to drain.
func (s *Supervisor) recordOutcome(err error) {
	var storeErr *core.ContextStoreError
	if err != nil && errors.As(err, &storeErr) {
		s.mu.Lock()
		s.recordStoreFailureLocked(err)
		s.mu.Unlock()
		return
	}

	s.mu.Lock()
	if s.storeFailures > 0 {
		s.storeFailures = 0
		if s.unhealthy {
			s.unhealthy = false
			s.LogInfo("context store recovered, accepting sessions again")
		}
	}
	s.mu.Unlock()
}

func (s *Supervisor) recordStoreFailureLocked(err error) {
	s.storeFailures++
	s.LogWarn("context store failure", "consecutive", s.storeFailures, "error", err)
	if s.storeFailures >= s.opts.StoreFailureThreshold && !s.unhealthy {
		s.unhealthy = true
		s.LogError("context store failing repeatedly, rejecting new sessions")
	}
}

// reap periodically closes sessions idle beyond the configured timeout.
func (s *Supervisor) reap() {
	defer close(s.reaperDone)

	interval := s.opts.ReapInterval
	if interval <= 0 {
		interval = time.Minute
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.reaperStop:
			return
		case <-ticker.C:
			cutoff := time.Now().UTC().Add(-s.opts.IdleTimeout)

			s.mu.Lock()
			var stale []string
			for id, h := range s.sessions {
				if h.sess.LastActive().Before(cutoff) {
					stale = append(stale, id)
				}
			}
			s.mu.Unlock()

			for _, id := range stale {
				if err := s.Close(id); err == nil {
					s.LogInfo("idle session reaped", "session_id", id)
				}
			}
		}
	}
}
