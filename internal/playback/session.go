package playback

import (
	"github.com/nerrad567/motion-core/internal/motion"
)

// Phase is the playback state of a session.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseStart
	PhaseLoop
)

// String returns the lowercase phase name.
func (p Phase) String() string {
	switch p {
	case PhaseStart:
		return "start"
	case PhaseLoop:
		return "loop"
	default:
		return "idle"
	}
}

// MarshalText encodes the phase by name for JSON payloads.
func (p Phase) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// Session is one playback run. It is created by Scheduler.Start and only
// mutated by the scheduler while holding its lock.
type Session struct {
	id        uint64
	phase     Phase
	start     []motion.Movement
	loop      []motion.Movement
	loopIndex int
	cancelled bool
	timer     Timer
	envelope  motion.Envelope
}

// newSession installs plan in the start phase, or in the loop phase when
// the set had no start movements. A loop-only plan may still lead in from
// the tracked position; those segments are tagged loop.
func newSession(id uint64, plan motion.Plan, env motion.Envelope, hasStart bool) *Session {
	phase := PhaseStart
	if !hasStart || len(plan.Start) == 0 {
		phase = PhaseLoop
	}
	return &Session{
		id:       id,
		phase:    phase,
		start:    plan.Start,
		loop:     plan.Loop,
		envelope: env,
	}
}

// next is the single transition function of the phase machine. It returns
// the movement to play and the phase it belongs to, or false when nothing is
// left and the session must go idle.
func (s *Session) next() (motion.Movement, Phase, bool) {
	switch {
	case s.phase == PhaseIdle:
	case len(s.start) > 0:
		m := s.start[0]
		s.start = s.start[1:]
		return m, s.phase, true
	case len(s.loop) > 0:
		s.phase = PhaseLoop
		m := s.loop[s.loopIndex]
		s.loopIndex = (s.loopIndex + 1) % len(s.loop)
		return m, PhaseLoop, true
	}

	s.phase = PhaseIdle
	return motion.Movement{}, PhaseIdle, false
}

// cancel marks the session cancelled, stops its pending timer and resets
// its queues.
func (s *Session) cancel() {
	s.cancelled = true
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.start = nil
	s.loop = nil
	s.loopIndex = 0
	s.phase = PhaseIdle
}
