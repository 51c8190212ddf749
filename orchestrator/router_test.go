package orchestrator

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/convoflow/config"
	"github.com/hupe1980/convoflow/core"
)

func snapIn(phase string) core.Snapshot {
	return core.Snapshot{SessionID: "s1", Phase: phase}
}

func TestRouter_PhaseMatch(t *testing.T) {
	r := NewRouter(config.Default())

	d := r.Route(snapIn(core.PhaseMorningGoalSetting), "good morning")
	assert.Equal(t, "GoalSetting", d.Agent)
	assert.False(t, d.Complete)

	d = r.Route(snapIn(core.PhaseEveningReflection), "hello")
	assert.Equal(t, "Reflection", d.Agent)
}

func TestRouter_KeywordMatch(t *testing.T) {
	r := NewRouter(config.Default())

	d := r.Route(snapIn(core.PhaseIdle), "I want to run a marathon")
	assert.Equal(t, "GoalSetting", d.Agent)

	d = r.Route(snapIn(core.PhaseIdle), "I'm stuck on this")
	assert.Equal(t, "Challenge", d.Agent)

	d = r.Route(snapIn(core.PhaseIdle), "Today I learned something")
	assert.Equal(t, "Reflection", d.Agent)
}

func TestRouter_FirstMatchWins(t *testing.T) {
	// Morning phase rule precedes the Challenge keyword rule, so a stuck
	// message in the morning still goes to GoalSetting.
	r := NewRouter(config.Default())

	d := r.Route(snapIn(core.PhaseMorningGoalSetting), "I'm stuck")
	assert.Equal(t, "GoalSetting", d.Agent)
}

func TestRouter_DefaultFallthrough(t *testing.T) {
	r := NewRouter(config.Default())

	d := r.Route(snapIn(core.PhaseIdle), "the weather is nice")
	assert.Equal(t, "Context", d.Agent)
	assert.Equal(t, "default", d.Rule)
}

func TestRouter_CompletionShortCircuits(t *testing.T) {
	r := NewRouter(config.Default())

	// Completion wins even when other rules would match.
	d := r.Route(snapIn(core.PhaseMorningGoalSetting), "Goodbye, I want to go now")
	assert.True(t, d.Complete)
	assert.Empty(t, d.Agent)
}

func TestRouter_CaseInsensitive(t *testing.T) {
	r := NewRouter(config.Default())

	d := r.Route(snapIn(core.PhaseIdle), "I WANT TO ACHIEVE MORE")
	assert.Equal(t, "GoalSetting", d.Agent)
}

// Every input resolves to a completion or exactly one agent, never neither.
func TestRouter_Totality(t *testing.T) {
	r := NewRouter(config.Default())

	phases := []string{core.PhaseMorningGoalSetting, core.PhaseEveningReflection, core.PhaseIdle, "unknown-phase", ""}
	inputs := []string{
		"", "hello", "I want to learn Go", "stuck", "today i rested",
		"goodbye", "zzz", "what's next", "我想学习", "!!!",
	}

	for _, phase := range phases {
		for _, input := range inputs {
			d := r.Route(snapIn(phase), input)
			if d.Complete {
				continue
			}
			require.NotEmpty(t, d.Agent, fmt.Sprintf("phase=%q input=%q", phase, input))
		}
	}
}

func TestRouter_EmptyRuleTableUsesDefault(t *testing.T) {
	cfg := config.Default()
	cfg.Routing = nil
	r := NewRouter(cfg)

	d := r.Route(snapIn(core.PhaseMorningGoalSetting), "I want to achieve things")
	assert.Equal(t, "Context", d.Agent)
}
