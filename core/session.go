package core

import (
	"sync"
	"time"
)

// Conversation phases used by the router. The set is open: configuration may
// introduce additional phases without code changes.
const (
	PhaseMorningGoalSetting = "morning-goal-setting"
	PhaseEveningReflection  = "evening-reflection"
	PhaseIdle               = "idle"
)

// Session identifies one ongoing conversation. It is owned exclusively by the
// supervisor and destroyed on explicit close or idle timeout. All exported
// methods are safe for concurrent use.
type Session struct {
	ID      string    `json:"id"`
	Created time.Time `json:"created"`

	mu         sync.RWMutex
	phase      string
	lastActive time.Time
	nextTurnID int64
}

// NewSession creates a session in the given phase. An empty phase is derived
// from the wall clock (mornings start in goal setting, evenings in
// reflection, everything else idle).
func NewSession(id, phase string) *Session {
	now := time.Now().UTC()
	if phase == "" {
		phase = PhaseForTime(now)
	}
	return &Session{ID: id, Created: now, phase: phase, lastActive: now, nextTurnID: 1}
}

// PhaseForTime derives a default conversation phase from the time of day.
func PhaseForTime(t time.Time) string {
	switch h := t.Hour(); {
	case h >= 5 && h < 12:
		return PhaseMorningGoalSetting
	case h >= 18 && h < 23:
		return PhaseEveningReflection
	default:
		return PhaseIdle
	}
}

// Phase returns the current conversation phase.
func (s *Session) Phase() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.phase
}

// SetPhase updates the conversation phase and touches the session.
func (s *Session) SetPhase(phase string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.phase = phase
	s.lastActive = time.Now().UTC()
}

// LastActive returns the time of the most recent activity.
func (s *Session) LastActive() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastActive
}

// Touch records activity, deferring idle teardown.
func (s *Session) Touch() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastActive = time.Now().UTC()
}

// SeedTurnID fast-forwards the turn id sequence, used when a session resumes
// on top of a recovered context so ids stay strictly increasing.
func (s *Session) SeedTurnID(next int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if next > s.nextTurnID {
		s.nextTurnID = next
	}
}

// NextTurnID allocates the next monotonic turn id for this session. IDs are
// strictly increasing and gapless; every allocated id must end up recorded as
// a completed or failed turn.
func (s *Session) NextTurnID() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextTurnID
	s.nextTurnID++
	s.lastActive = time.Now().UTC()
	return id
}
