package orchestrator

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/convoflow/agent"
	"github.com/hupe1980/convoflow/bus"
	"github.com/hupe1980/convoflow/config"
	"github.com/hupe1980/convoflow/core"
	"github.com/hupe1980/convoflow/store"
)

func newTestOrchestrator(t *testing.T, cfg config.Config, adapters ...agent.Adapter) (*Orchestrator, *store.InMemoryStore) {
	t.Helper()

	b := bus.New()
	t.Cleanup(b.Close)

	registry := agent.NewRegistry()
	if len(adapters) == 0 {
		adapters = []agent.Adapter{
			agent.NewGoalSettingAdapter(),
			agent.NewReflectionAdapter(),
			agent.NewChallengeAdapter(),
			agent.NewContextAdapter(),
		}
	}
	for _, a := range adapters {
		require.NoError(t, registry.Register(a))
	}

	st := store.NewInMemoryStore()
	o := New(b, registry, st, func(o *Options) {
		o.Config = cfg
	})
	require.NoError(t, o.Start())
	t.Cleanup(o.Stop)

	return o, st
}

func TestHandleTurn_GoalSetting(t *testing.T) {
	o, st := newTestOrchestrator(t, config.Default())
	sess := core.NewSession("s1", core.PhaseMorningGoalSetting)

	reply, err := o.HandleTurn(context.Background(), sess, "I want to run a marathon")
	require.NoError(t, err)
	assert.Contains(t, reply, "run a marathon")

	ctx, err := st.Load("s1")
	require.NoError(t, err)

	goal, ok := ctx.Insight("goal")
	require.True(t, ok)
	assert.Equal(t, "run a marathon", goal)
	assert.Equal(t, "GoalSetting", ctx.ActiveAgent())

	turns := ctx.Turns()
	require.Len(t, turns, 1)
	assert.Equal(t, int64(1), turns[0].ID)
	assert.Equal(t, core.TurnCompleted, turns[0].Status)
	assert.Equal(t, reply, turns[0].Reply)
}

func TestHandleTurn_EmptyInput(t *testing.T) {
	o, _ := newTestOrchestrator(t, config.Default())
	sess := core.NewSession("s1", core.PhaseIdle)

	_, err := o.HandleTurn(context.Background(), sess, "")
	assert.ErrorIs(t, err, core.ErrEmptyInput)
}

func TestHandleTurn_Completion(t *testing.T) {
	cfg := config.Default()
	o, st := newTestOrchestrator(t, cfg)
	sess := core.NewSession("s1", core.PhaseEveningReflection)

	reply, err := o.HandleTurn(context.Background(), sess, "That's all, see you tomorrow")
	require.NoError(t, err)
	assert.Equal(t, cfg.ClosingReply, reply)
	assert.Equal(t, core.PhaseIdle, sess.Phase())

	ctx, err := st.Load("s1")
	require.NoError(t, err)
	assert.Equal(t, core.PhaseIdle, ctx.Phase)
	turns := ctx.Turns()
	require.Len(t, turns, 1)
	assert.Equal(t, core.TurnCompleted, turns[0].Status)
}

func TestHandleTurn_TimeoutFallsBack(t *testing.T) {
	cfg := config.Default()
	cfg.AgentTimeout = 50 * time.Millisecond
	cfg.Retries = 1
	cfg.DefaultAgent = "Stall"

	stall := &stallAdapter{BaseAdapter: agent.NewBaseAdapter("Stall")}
	o, st := newTestOrchestrator(t, cfg, stall)
	sess := core.NewSession("s1", core.PhaseIdle)

	start := time.Now()
	reply, err := o.HandleTurn(context.Background(), sess, "hello")
	require.NoError(t, err)
	assert.Equal(t, cfg.FallbackReply, reply)
	// Both attempts must have run their full timeout.
	assert.GreaterOrEqual(t, time.Since(start), 100*time.Millisecond)

	ctx, err := st.Load("s1")
	require.NoError(t, err)
	turns := ctx.Turns()
	require.Len(t, turns, 1)
	assert.Equal(t, core.TurnFailed, turns[0].Status)
	assert.Equal(t, cfg.FallbackReply, turns[0].Reply)

	// The session stays usable after a failed turn, with a gapless turn id.
	reply2, err := o.HandleTurn(context.Background(), sess, "hello again")
	require.NoError(t, err)
	assert.Equal(t, cfg.FallbackReply, reply2)

	ctx, err = st.Load("s1")
	require.NoError(t, err)
	turns = ctx.Turns()
	require.Len(t, turns, 2)
	assert.Equal(t, int64(2), turns[1].ID)
}

func TestHandleTurn_RetryAfterProcessingError(t *testing.T) {
	cfg := config.Default()
	cfg.Retries = 1
	cfg.DefaultAgent = "Flaky"

	flaky := &flakyAdapter{BaseAdapter: agent.NewBaseAdapter("Flaky"), failures: 1}
	o, _ := newTestOrchestrator(t, cfg, flaky)
	sess := core.NewSession("s1", core.PhaseIdle)

	reply, err := o.HandleTurn(context.Background(), sess, "hello")
	require.NoError(t, err)
	assert.Equal(t, "recovered", reply)
	assert.Equal(t, 2, flaky.calls())
}

func TestHandleTurn_RetriesExhausted(t *testing.T) {
	cfg := config.Default()
	cfg.Retries = 1
	cfg.DefaultAgent = "Flaky"

	flaky := &flakyAdapter{BaseAdapter: agent.NewBaseAdapter("Flaky"), failures: 5}
	o, st := newTestOrchestrator(t, cfg, flaky)
	sess := core.NewSession("s1", core.PhaseIdle)

	reply, err := o.HandleTurn(context.Background(), sess, "hello")
	require.NoError(t, err)
	assert.Equal(t, cfg.FallbackReply, reply)
	assert.Equal(t, 2, flaky.calls())

	ctx, err := st.Load("s1")
	require.NoError(t, err)
	assert.Equal(t, core.TurnFailed, ctx.Turns()[0].Status)
}

func TestHandleTurn_UnknownAgent(t *testing.T) {
	cfg := config.Default()
	cfg.Routing = []config.Rule{{Agent: "Ghost", Keywords: []string{"boo"}}}

	o, st := newTestOrchestrator(t, cfg)
	sess := core.NewSession("s1", core.PhaseIdle)

	_, err := o.HandleTurn(context.Background(), sess, "boo")
	require.Error(t, err)

	// The failed turn is still recorded, never omitted.
	ctx, err := st.Load("s1")
	require.NoError(t, err)
	turns := ctx.Turns()
	require.Len(t, turns, 1)
	assert.Equal(t, core.TurnFailed, turns[0].Status)
}

func TestHandleTurn_SessionClosedMidFlight(t *testing.T) {
	cfg := config.Default()
	cfg.DefaultAgent = "Stall"

	stall := &stallAdapter{BaseAdapter: agent.NewBaseAdapter("Stall")}
	o, _ := newTestOrchestrator(t, cfg, stall)
	sess := core.NewSession("s1", core.PhaseIdle)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(30 * time.Millisecond)
		cancel()
	}()

	_, err := o.HandleTurn(ctx, sess, "hello")
	assert.ErrorIs(t, err, core.ErrSessionClosed)
}

func TestHandleTurn_StoreSaveFailure(t *testing.T) {
	b := bus.New()
	t.Cleanup(b.Close)

	registry := agent.NewRegistry()
	require.NoError(t, registry.Register(agent.NewContextAdapter()))

	st := &mockStore{}
	st.On("Load", "s1").Return(nil, core.ErrContextNotFound)
	st.On("Save", "s1", mock.Anything).Return(assert.AnError)

	o := New(b, registry, st)
	require.NoError(t, o.Start())
	t.Cleanup(o.Stop)

	sess := core.NewSession("s1", core.PhaseIdle)
	_, err := o.HandleTurn(context.Background(), sess, "hello")

	var storeErr *core.ContextStoreError
	require.ErrorAs(t, err, &storeErr)
	assert.Equal(t, "save", storeErr.Op)
	st.AssertExpectations(t)
}

func TestHandleTurn_CrossSessionIndependence(t *testing.T) {
	cfg := config.Default()
	cfg.AgentTimeout = time.Second
	cfg.Routing = []config.Rule{{Agent: "Stall", Keywords: []string{"slow"}}}

	stall := &stallAdapter{BaseAdapter: agent.NewBaseAdapter("Stall")}
	o, _ := newTestOrchestrator(t, cfg, stall, agent.NewContextAdapter())

	slowSess := core.NewSession("slow", core.PhaseIdle)
	fastSess := core.NewSession("fast", core.PhaseIdle)

	done := make(chan struct{})
	go func() {
		defer close(done)
		o.HandleTurn(context.Background(), slowSess, "slow request") //nolint:errcheck
	}()

	// The fast session completes while the slow one is still in flight.
	start := time.Now()
	_, err := o.HandleTurn(context.Background(), fastSess, "quick question")
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 500*time.Millisecond)

	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("slow turn never finished")
	}
}

func TestHandleReply_DiscardsUnknownReply(t *testing.T) {
	o, _ := newTestOrchestrator(t, config.Default())

	// A reply with no registered waiter is late or duplicated; it must be
	// swallowed without error so the bus does not redeliver it.
	err := o.handleReply(core.AgentReply{SessionID: "s1", TurnID: 1, ReplyID: core.NewID()})
	assert.NoError(t, err)
}

func TestHandleReply_ReplayAfterCommitIsNoOp(t *testing.T) {
	o, st := newTestOrchestrator(t, config.Default())
	sess := core.NewSession("s1", core.PhaseMorningGoalSetting)

	_, err := o.HandleTurn(context.Background(), sess, "I want to run a marathon")
	require.NoError(t, err)

	before, err := st.Load("s1")
	require.NoError(t, err)

	// Replaying the reply of the committed turn must not touch the store.
	replay := core.AgentReply{
		SessionID: "s1",
		TurnID:    1,
		ReplyID:   core.NewID(),
		Agent:     "GoalSetting",
		Text:      "different text",
		Insights:  map[string]string{"goal": "something else"},
	}
	require.NoError(t, o.handleReply(replay))

	after, err := st.Load("s1")
	require.NoError(t, err)
	assert.True(t, before.Snapshot().Equal(after.Snapshot()))
}

// stallAdapter never answers within any deadline.
type stallAdapter struct {
	agent.BaseAdapter
}

func (a *stallAdapter) Process(ctx context.Context, ev core.RoutedEvent) core.AgentReply {
	<-ctx.Done()
	return core.NewErrorReply(ev, a.Name(), ctx.Err())
}

// flakyAdapter fails its first N computations, then succeeds. It goes
// through Memoize like the stock adapters so retries exercise the same
// idempotence path: failures must recompute, only the success is cached.
type flakyAdapter struct {
	agent.BaseAdapter

	mu       sync.Mutex
	failures int
	invoked  int
}

func (a *flakyAdapter) Process(_ context.Context, ev core.RoutedEvent) core.AgentReply {
	return a.Memoize(ev, func() core.AgentReply {
		a.mu.Lock()
		a.invoked++
		fail := a.invoked <= a.failures
		a.mu.Unlock()

		if fail {
			return core.NewErrorReply(ev, a.Name(), assert.AnError)
		}
		return core.NewAgentReply(ev, a.Name(), "recovered", nil)
	})
}

func (a *flakyAdapter) calls() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.invoked
}

// mockStore is a testify mock of core.ContextStore.
type mockStore struct {
	mock.Mock
}

func (s *mockStore) Load(sessionID string) (*core.ConversationContext, error) {
	args := s.Called(sessionID)
	if ctx := args.Get(0); ctx != nil {
		return ctx.(*core.ConversationContext), args.Error(1)
	}
	return nil, args.Error(1)
}

func (s *mockStore) Save(sessionID string, ctx *core.ConversationContext) error {
	return s.Called(sessionID, ctx).Error(0)
}

func (s *mockStore) Delete(sessionID string) error {
	return s.Called(sessionID).Error(0)
}
