package playback

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/nerrad567/motion-core/internal/motion"
)

// DefaultInitialPosition is the tracked position before anything has been
// played, in percent.
const DefaultInitialPosition = 50.0

// DefaultDispatchTimeout bounds a single sink call.
const DefaultDispatchTimeout = 2 * time.Second

// Sink receives position commands.
type Sink interface {
	// SendLinear moves the device to position (0.0-1.0) over durationMs.
	SendLinear(ctx context.Context, position float64, durationMs int) error
}

// Logger defines the logging interface for the scheduler.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Config holds scheduler settings.
type Config struct {
	Envelope        motion.Envelope
	DispatchTimeout time.Duration
	// Clock defaults to the wall clock.
	Clock Clock
}

// Command describes one dispatched movement.
type Command struct {
	SessionID   uint64    `json:"session_id"`
	Phase       Phase     `json:"phase"`
	From        float64   `json:"from"`
	To          float64   `json:"to"`
	Position    float64   `json:"position"`
	RequestedMs int       `json:"requested_ms"`
	DurationMs  int       `json:"duration_ms"`
	Speed       float64   `json:"speed_mm_s"`
	Timestamp   time.Time `json:"timestamp"`

	seq uint64
}

// Status is a snapshot of the scheduler.
type Status struct {
	Phase          Phase   `json:"phase"`
	SessionID      uint64  `json:"session_id,omitempty"`
	Position       float64 `json:"position"`
	StartRemaining int     `json:"start_remaining"`
	LoopLength     int     `json:"loop_length"`
	LoopIndex      int     `json:"loop_index"`
	DeviceReady    bool    `json:"device_ready"`
}

// Scheduler plays movement sets on a Sink, one session at a time.
type Scheduler struct {
	sink   Sink
	clock  Clock
	logger Logger

	dispatchTimeout time.Duration

	// sendMu serialises sink calls and guards lastSent. It is never taken
	// while holding mu.
	sendMu   sync.Mutex
	lastSent uint64

	mu       sync.Mutex
	envelope motion.Envelope
	position float64
	ready    bool
	session  *Session
	nextID   uint64
	seq      uint64

	callbackMu    sync.RWMutex
	onCommand     func(Command)
	onStateChange func(Status)
}

// NewScheduler creates a scheduler dispatching to sink. The device is
// assumed ready until SetDeviceReady says otherwise.
func NewScheduler(sink Sink, cfg Config, logger Logger) *Scheduler {
	if logger == nil {
		logger = noopLogger{}
	}
	if cfg.Clock == nil {
		cfg.Clock = realClock{}
	}
	if cfg.DispatchTimeout <= 0 {
		cfg.DispatchTimeout = DefaultDispatchTimeout
	}
	return &Scheduler{
		sink:            sink,
		clock:           cfg.Clock,
		logger:          logger,
		dispatchTimeout: cfg.DispatchTimeout,
		envelope:        cfg.Envelope,
		position:        DefaultInitialPosition,
		ready:           true,
	}
}

// SetOnCommand registers a callback invoked after every dispatch.
func (s *Scheduler) SetOnCommand(callback func(Command)) {
	s.callbackMu.Lock()
	s.onCommand = callback
	s.callbackMu.Unlock()
}

// SetOnStateChange registers a callback invoked when a session starts,
// changes phase, or ends.
func (s *Scheduler) SetOnStateChange(callback func(Status)) {
	s.callbackMu.Lock()
	s.onStateChange = callback
	s.callbackMu.Unlock()
}

// SetEnvelope replaces the envelope used by the next session.
func (s *Scheduler) SetEnvelope(env motion.Envelope) {
	s.mu.Lock()
	s.envelope = env
	s.mu.Unlock()
}

// Envelope returns the envelope the next session will use.
func (s *Scheduler) Envelope() motion.Envelope {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.envelope
}

// SetPosition overrides the tracked device position, for example after the
// device reports where it is.
func (s *Scheduler) SetPosition(percent float64) {
	s.mu.Lock()
	s.position = percent
	s.mu.Unlock()
}

// Start cancels any active session, then plans set from the tracked
// position and begins playing it. The first movement is dispatched before
// Start returns.
//
// Returns motion.ErrEmptyMovementSet when there is nothing to play and
// ErrDeviceUnavailable when the device is not ready. The previous session
// is cancelled in either case.
func (s *Scheduler) Start(set motion.MovementSet) error {
	s.mu.Lock()
	var replaced *Status
	if prev := s.session; prev != nil {
		prev.cancel()
		s.session = nil
		st := s.statusLocked()
		replaced = &st
	}

	reject := func(err error, reason string) error {
		s.mu.Unlock()
		s.logger.Warn("playback rejected", "reason", reason)
		if replaced != nil {
			s.emitState(*replaced)
		}
		return err
	}

	if err := set.Validate(); err != nil {
		return reject(err, "empty movement set")
	}
	if !s.ready {
		return reject(ErrDeviceUnavailable, "device not ready")
	}

	env := s.envelope
	plan := motion.BuildPlan(s.position, set, env)
	if plan.Empty() {
		return reject(fmt.Errorf("planning produced no movements: %w", motion.ErrEmptyMovementSet), "empty plan")
	}

	s.nextID++
	sess := newSession(s.nextID, plan, env, len(set.Start) > 0)
	s.session = sess

	s.logger.Info("playback started",
		"session", sess.id,
		"start_movements", len(set.Start),
		"loop_movements", len(set.Loop),
		"start_segments", len(plan.Start),
		"loop_segments", len(plan.Loop),
	)

	started := s.statusLocked()
	cmd, ended, ok := s.step(sess)
	s.mu.Unlock()

	s.emitState(started)
	if ok {
		s.dispatch(sess, cmd)
		s.emitCommand(cmd)
	}
	if ended != nil {
		s.emitState(*ended)
	}
	return nil
}

// Stop cancels the active session. It is safe to call when idle.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	sess := s.session
	if sess == nil {
		s.mu.Unlock()
		return
	}
	sess.cancel()
	s.session = nil
	st := s.statusLocked()
	s.mu.Unlock()

	s.logger.Info("playback stopped", "session", sess.id)
	s.emitState(st)
}

// SetDeviceReady records device availability. Losing the device stops the
// active session.
func (s *Scheduler) SetDeviceReady(ready bool) {
	s.mu.Lock()
	changed := s.ready != ready
	s.ready = ready
	s.mu.Unlock()

	if !changed {
		return
	}
	if ready {
		s.logger.Info("device ready")
		return
	}
	s.logger.Warn("device lost, stopping playback")
	s.Stop()
}

// Active reports whether a session is playing.
func (s *Scheduler) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.session != nil
}

// Status returns a snapshot of the scheduler.
func (s *Scheduler) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.statusLocked()
}

func (s *Scheduler) statusLocked() Status {
	st := Status{
		Phase:       PhaseIdle,
		Position:    s.position,
		DeviceReady: s.ready,
	}
	if sess := s.session; sess != nil {
		st.Phase = sess.phase
		st.SessionID = sess.id
		st.StartRemaining = len(sess.start)
		st.LoopLength = len(sess.loop)
		st.LoopIndex = sess.loopIndex
	}
	return st
}

// resume is the timer callback continuing sess.
func (s *Scheduler) resume(sess *Session) {
	s.mu.Lock()
	if sess.cancelled || s.session != sess {
		s.mu.Unlock()
		return
	}
	prev := sess.phase
	cmd, ended, ok := s.step(sess)
	var changed *Status
	if ok && cmd.Phase != prev {
		st := s.statusLocked()
		changed = &st
	}
	s.mu.Unlock()

	if changed != nil {
		s.emitState(*changed)
	}
	if ok {
		s.dispatch(sess, cmd)
		s.emitCommand(cmd)
	}
	if ended != nil {
		s.emitState(*ended)
	}
}

// step takes the next movement of sess, updates the tracked position and
// arms the timer for the following step. It must be called with s.mu held;
// the caller dispatches the returned command after releasing it, so the
// timer runs from the moment the command is issued and a slow device never
// holds the lock. When the session runs dry it is retired and the idle
// status returned.
func (s *Scheduler) step(sess *Session) (Command, *Status, bool) {
	if sess.cancelled {
		return Command{}, nil, false
	}

	m, phase, ok := sess.next()
	if !ok {
		s.session = nil
		s.logger.Info("playback finished", "session", sess.id)
		st := s.statusLocked()
		return Command{}, &st, false
	}

	from := s.position
	duration := motion.Govern(from, m.Position, m.DelayMs, sess.envelope)
	s.position = m.Position

	sess.timer = s.clock.AfterFunc(time.Duration(duration)*time.Millisecond, func() {
		s.resume(sess)
	})
	s.seq++

	return Command{
		SessionID:   sess.id,
		Phase:       phase,
		From:        from,
		To:          m.Position,
		Position:    clampFraction(m.Position / 100),
		RequestedMs: m.Duration(),
		DurationMs:  duration,
		Speed:       sess.envelope.Speed(from, m.Position, duration),
		Timestamp:   time.Now(),
		seq:         s.seq,
	}, nil, true
}

// live reports whether sess is still the playing session.
func (s *Scheduler) live(sess *Session) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.session == sess && !sess.cancelled
}

// dispatch sends cmd to the sink unless sess was cancelled in the
// meantime or a later command already went out behind a slow send. Sends
// are serialised, so the device sees commands in order. Failures and
// panics are logged only.
func (s *Scheduler) dispatch(sess *Session, cmd Command) {
	if s.sink == nil {
		return
	}

	s.sendMu.Lock()
	defer s.sendMu.Unlock()
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("device sink panicked", "session", cmd.SessionID, "panic", r)
		}
	}()

	if cmd.seq <= s.lastSent {
		s.logger.Debug("linear command superseded", "session", cmd.SessionID, "position", cmd.Position)
		return
	}
	s.lastSent = cmd.seq
	if !s.live(sess) {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.dispatchTimeout)
	defer cancel()

	if err := s.sink.SendLinear(ctx, cmd.Position, cmd.DurationMs); err != nil {
		s.logger.Warn("linear command failed",
			"session", cmd.SessionID,
			"position", cmd.Position,
			"duration_ms", cmd.DurationMs,
			"error", err,
		)
		return
	}
	s.logger.Debug("linear command sent",
		"session", cmd.SessionID,
		"phase", cmd.Phase.String(),
		"position", cmd.Position,
		"duration_ms", cmd.DurationMs,
	)
}

func (s *Scheduler) emitCommand(cmd Command) {
	s.callbackMu.RLock()
	callback := s.onCommand
	s.callbackMu.RUnlock()
	if callback != nil {
		callback(cmd)
	}
}

func (s *Scheduler) emitState(st Status) {
	s.callbackMu.RLock()
	callback := s.onStateChange
	s.callbackMu.RUnlock()
	if callback != nil {
		callback(st)
	}
}

func clampFraction(f float64) float64 {
	switch {
	case f < 0:
		return 0
	case f > 1:
		return 1
	default:
		return f
	}
}
