package playback

import (
	"context"
	"errors"
	"math"
	"sort"
	"sync"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/nerrad567/motion-core/internal/motion"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// ─── Mock Dependencies ──────────────────────────────────────────────

type sentCommand struct {
	position float64
	duration int
}

type mockSink struct {
	mu    sync.Mutex
	sent  []sentCommand
	err   error
	panic bool

	// onSend runs at the start of every SendLinear, outside mu.
	onSend func()
}

func (m *mockSink) SendLinear(_ context.Context, position float64, durationMs int) error {
	if m.onSend != nil {
		m.onSend()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, sentCommand{position: position, duration: durationMs})
	if m.panic {
		panic("sink exploded")
	}
	return m.err
}

func (m *mockSink) commands() []sentCommand {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]sentCommand, len(m.sent))
	copy(out, m.sent)
	return out
}

// fakeClock fires timers only when Advance is called.
type fakeClock struct {
	mu     sync.Mutex
	now    time.Duration
	timers []*fakeTimer
}

type fakeTimer struct {
	clock   *fakeClock
	at      time.Duration
	f       func()
	stopped bool
	fired   bool
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{clock: c, at: c.now + d, f: f}
	c.timers = append(c.timers, t)
	return t
}

func (t *fakeTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	if t.fired || t.stopped {
		return false
	}
	t.stopped = true
	return true
}

// Advance moves time forward, firing due timers in order.
func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	target := c.now + d
	c.mu.Unlock()

	for {
		c.mu.Lock()
		var pending []*fakeTimer
		for _, t := range c.timers {
			if !t.fired && !t.stopped && t.at <= target {
				pending = append(pending, t)
			}
		}
		if len(pending) == 0 {
			c.now = target
			c.mu.Unlock()
			return
		}
		sort.Slice(pending, func(i, j int) bool { return pending[i].at < pending[j].at })
		next := pending[0]
		next.fired = true
		c.now = next.at
		c.mu.Unlock()

		next.f()
	}
}

// pending returns the number of armed timers.
func (c *fakeClock) pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, t := range c.timers {
		if !t.fired && !t.stopped {
			n++
		}
	}
	return n
}

func testEnvelope() motion.Envelope {
	return motion.Envelope{
		MinSpeed:         32,
		MaxSpeed:         450,
		StrokeLength:     125,
		ExpansionEnabled: true,
		StepSizePercent:  1,
	}
}

func newTestScheduler(env motion.Envelope) (*Scheduler, *mockSink, *fakeClock) {
	sink := &mockSink{}
	clock := &fakeClock{}
	s := NewScheduler(sink, Config{Envelope: env, Clock: clock}, nil)
	return s, sink, clock
}

func assertSent(t *testing.T, got []sentCommand, want []sentCommand) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("sent %d commands %+v, want %d %+v", len(got), got, len(want), want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("command %d = %+v, want %+v", i, got[i], want[i])
		}
	}
}

// ─── Tests ──────────────────────────────────────────────────────────

func TestScheduler_TwoPointLoop(t *testing.T) {
	env := testEnvelope()
	env.StrokeLength = 62.5
	s, sink, clock := newTestScheduler(env)

	set := motion.ParseMovementSet(nil, []string{"200,100", "200,0"})
	if err := s.Start(set); err != nil {
		t.Fatalf("Start: %v", err)
	}

	// First movement is dispatched synchronously.
	assertSent(t, sink.commands(), []sentCommand{{1.0, 200}})

	for i := 0; i < 5; i++ {
		clock.Advance(200 * time.Millisecond)
	}
	assertSent(t, sink.commands(), []sentCommand{
		{1.0, 200}, {0.0, 200}, {1.0, 200}, {0.0, 200}, {1.0, 200}, {0.0, 200},
	})

	if st := s.Status(); st.Phase != PhaseLoop {
		t.Errorf("Phase = %v, want loop", st.Phase)
	}

	s.Stop()
	clock.Advance(10 * time.Second)
	if got := len(sink.commands()); got != 6 {
		t.Errorf("commands after Stop = %d, want 6", got)
	}
	if st := s.Status(); st.Phase != PhaseIdle || st.SessionID != 0 {
		t.Errorf("Status after Stop = %+v, want idle", st)
	}
}

func TestScheduler_FullStrokeIsClampedToMaxSpeed(t *testing.T) {
	s, sink, clock := newTestScheduler(testEnvelope())

	set := motion.ParseMovementSet(nil, []string{"200,100", "200,0"})
	if err := s.Start(set); err != nil {
		t.Fatalf("Start: %v", err)
	}
	clock.Advance(200 * time.Millisecond)
	clock.Advance(278 * time.Millisecond)
	clock.Advance(278 * time.Millisecond)
	s.Stop()

	// 50 -> 100 is 62.5mm in 200ms; each full stroke after that is 125mm
	// and would need 625mm/s, so it is stretched to 450mm/s.
	assertSent(t, sink.commands(), []sentCommand{{1.0, 200}, {0.0, 278}, {1.0, 278}, {0.0, 278}})
}

func TestScheduler_TooSlowMovementIsExpanded(t *testing.T) {
	s, sink, clock := newTestScheduler(testEnvelope())
	s.SetPosition(0)

	set := motion.ParseMovementSet([]string{"3000,50"}, nil)
	if err := s.Start(set); err != nil {
		t.Fatalf("Start: %v", err)
	}
	clock.Advance(3 * time.Second)

	sent := sink.commands()
	if len(sent) < 2 {
		t.Fatalf("sent %d commands, want step-and-hold segments", len(sent))
	}
	total := 0
	for _, c := range sent {
		total += c.duration
	}
	if total != 3000 {
		t.Errorf("total duration = %d, want 3000", total)
	}
	if last := sent[len(sent)-1]; last.position != 0.5 {
		t.Errorf("final position = %v, want 0.5", last.position)
	}
	if s.Active() {
		t.Error("session still active after start-only set finished")
	}
	if got := s.Status().Position; got != 50 {
		t.Errorf("tracked position = %v, want 50", got)
	}
}

func TestScheduler_StartOnlyGoesIdle(t *testing.T) {
	s, sink, clock := newTestScheduler(testEnvelope())

	var mu sync.Mutex
	var phases []Phase
	s.SetOnStateChange(func(st Status) {
		mu.Lock()
		phases = append(phases, st.Phase)
		mu.Unlock()
	})

	if err := s.Start(motion.ParseMovementSet([]string{"1000,100"}, nil)); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if !s.Active() {
		t.Fatal("Active() = false after Start")
	}
	clock.Advance(time.Second)

	assertSent(t, sink.commands(), []sentCommand{{1.0, 1000}})
	if s.Active() {
		t.Error("Active() = true after start sequence finished")
	}
	if clock.pending() != 0 {
		t.Errorf("pending timers = %d, want 0", clock.pending())
	}

	mu.Lock()
	defer mu.Unlock()
	if len(phases) != 2 || phases[0] != PhaseStart || phases[1] != PhaseIdle {
		t.Errorf("state changes = %v, want [start idle]", phases)
	}
}

func TestScheduler_RejectsEmptySet(t *testing.T) {
	s, sink, _ := newTestScheduler(testEnvelope())

	err := s.Start(motion.ParseMovementSet([]string{"oops"}, []string{"200,abc"}))
	if !errors.Is(err, motion.ErrEmptyMovementSet) {
		t.Fatalf("Start error = %v, want ErrEmptyMovementSet", err)
	}
	if len(sink.commands()) != 0 {
		t.Error("commands dispatched for empty set")
	}
	if s.Active() {
		t.Error("session started for empty set")
	}
}

func TestScheduler_RejectedStartCancelsActiveSession(t *testing.T) {
	s, sink, clock := newTestScheduler(testEnvelope())

	var mu sync.Mutex
	var phases []Phase
	s.SetOnStateChange(func(st Status) {
		mu.Lock()
		phases = append(phases, st.Phase)
		mu.Unlock()
	})

	if err := s.Start(motion.ParseMovementSet(nil, []string{"500,0", "500,100"})); err != nil {
		t.Fatalf("Start: %v", err)
	}
	err := s.Start(motion.ParseMovementSet([]string{"oops"}, []string{"bad"}))
	if !errors.Is(err, motion.ErrEmptyMovementSet) {
		t.Fatalf("Start error = %v, want ErrEmptyMovementSet", err)
	}
	if s.Active() {
		t.Error("previous session still active after rejected Start")
	}
	if clock.pending() != 0 {
		t.Errorf("pending timers = %d, want 0", clock.pending())
	}

	clock.Advance(5 * time.Second)
	if got := len(sink.commands()); got != 1 {
		t.Errorf("commands = %d, want only the first movement", got)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(phases) != 2 || phases[1] != PhaseIdle {
		t.Errorf("state changes = %v, want [loop idle]", phases)
	}
}

func TestScheduler_LoopOnlySetStartsInLoop(t *testing.T) {
	s, _, clock := newTestScheduler(testEnvelope())

	var mu sync.Mutex
	var first *Status
	s.SetOnStateChange(func(st Status) {
		mu.Lock()
		if first == nil {
			first = &st
		}
		mu.Unlock()
	})

	// From the initial 50% the lead-in to 0 is a separate segment.
	if err := s.Start(motion.ParseMovementSet(nil, []string{"500,0", "500,100"})); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if st := s.Status(); st.Phase != PhaseLoop {
		t.Errorf("Phase = %v, want loop", st.Phase)
	}
	clock.Advance(500 * time.Millisecond)
	s.Stop()

	mu.Lock()
	defer mu.Unlock()
	if first == nil || first.Phase != PhaseLoop {
		t.Errorf("first state change = %+v, want loop", first)
	}
}

func TestScheduler_DispatchOutsideLock(t *testing.T) {
	s, sink, clock := newTestScheduler(testEnvelope())

	// A device link reports the device lost while the command is in flight,
	// as Intiface does when DeviceRemoved overtakes the Ok reply.
	var armed int
	lost := make(chan struct{})
	var once sync.Once
	sink.onSend = func() {
		once.Do(func() {
			armed = clock.pending()
			go func() {
				s.SetDeviceReady(false)
				close(lost)
			}()
			select {
			case <-lost:
			case <-time.After(time.Second):
			}
		})
	}

	begin := time.Now()
	if err := s.Start(motion.ParseMovementSet(nil, []string{"500,0", "500,100"})); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if elapsed := time.Since(begin); elapsed > 500*time.Millisecond {
		t.Errorf("Start took %v while the sink waited on the scheduler", elapsed)
	}

	select {
	case <-lost:
	default:
		t.Fatal("SetDeviceReady blocked during dispatch")
	}
	if armed != 1 {
		t.Errorf("timers armed at dispatch = %d, want 1", armed)
	}
	if s.Active() {
		t.Error("session active after device loss")
	}
	clock.Advance(5 * time.Second)
	if got := len(sink.commands()); got != 1 {
		t.Errorf("commands = %d, want 1", got)
	}
}

func TestScheduler_StartReplacesSession(t *testing.T) {
	s, sink, clock := newTestScheduler(testEnvelope())

	if err := s.Start(motion.ParseMovementSet(nil, []string{"500,20", "500,40"})); err != nil {
		t.Fatalf("Start A: %v", err)
	}
	first := s.Status().SessionID

	if err := s.Start(motion.ParseMovementSet(nil, []string{"500,80", "500,60"})); err != nil {
		t.Fatalf("Start B: %v", err)
	}
	if second := s.Status().SessionID; second == first {
		t.Fatalf("session ID unchanged after restart: %d", second)
	}
	if clock.pending() != 1 {
		t.Errorf("pending timers = %d, want 1", clock.pending())
	}

	clock.Advance(500 * time.Millisecond)
	clock.Advance(500 * time.Millisecond)

	assertSent(t, sink.commands(), []sentCommand{{0.2, 500}, {0.8, 500}, {0.6, 500}, {0.8, 500}})
	s.Stop()
}

func TestScheduler_DeviceLossStopsPlayback(t *testing.T) {
	s, sink, clock := newTestScheduler(testEnvelope())

	if err := s.Start(motion.ParseMovementSet(nil, []string{"500,0", "500,100"})); err != nil {
		t.Fatalf("Start: %v", err)
	}
	s.SetDeviceReady(false)
	clock.Advance(5 * time.Second)

	if got := len(sink.commands()); got != 1 {
		t.Errorf("commands = %d, want 1", got)
	}
	if s.Active() {
		t.Error("session active after device loss")
	}

	err := s.Start(motion.ParseMovementSet(nil, []string{"500,0"}))
	if !errors.Is(err, ErrDeviceUnavailable) {
		t.Errorf("Start while not ready = %v, want ErrDeviceUnavailable", err)
	}

	s.SetDeviceReady(true)
	if err := s.Start(motion.ParseMovementSet(nil, []string{"500,0"})); err != nil {
		t.Errorf("Start after ready: %v", err)
	}
	s.Stop()
}

func TestScheduler_SinkFailuresAreNotFatal(t *testing.T) {
	tests := []struct {
		name string
		sink *mockSink
	}{
		{name: "error", sink: &mockSink{err: errors.New("link down")}},
		{name: "panic", sink: &mockSink{panic: true}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clock := &fakeClock{}
			s := NewScheduler(tt.sink, Config{Envelope: testEnvelope(), Clock: clock}, nil)

			if err := s.Start(motion.ParseMovementSet(nil, []string{"500,0", "500,100"})); err != nil {
				t.Fatalf("Start: %v", err)
			}
			clock.Advance(500 * time.Millisecond)
			clock.Advance(500 * time.Millisecond)
			s.Stop()

			if got := len(tt.sink.commands()); got != 3 {
				t.Errorf("commands = %d, want playback to continue through failures", got)
			}
		})
	}
}

func TestScheduler_PositionClampedAtDispatch(t *testing.T) {
	s, sink, clock := newTestScheduler(testEnvelope())

	if err := s.Start(motion.ParseMovementSet(nil, []string{"1000,150", "1000,-20"})); err != nil {
		t.Fatalf("Start: %v", err)
	}
	clock.Advance(time.Second)
	s.Stop()

	sent := sink.commands()
	if len(sent) != 2 {
		t.Fatalf("sent %+v, want 2 commands", sent)
	}
	if sent[0].position != 1 || sent[1].position != 0 {
		t.Errorf("positions = %v, %v, want 1 and 0", sent[0].position, sent[1].position)
	}
}

func TestScheduler_EnvelopeSnapshotPerSession(t *testing.T) {
	env := testEnvelope()
	env.StrokeLength = 62.5
	s, sink, clock := newTestScheduler(env)

	set := motion.ParseMovementSet(nil, []string{"200,100", "200,0"})
	if err := s.Start(set); err != nil {
		t.Fatalf("Start: %v", err)
	}

	longer := env
	longer.StrokeLength = 125
	s.SetEnvelope(longer)

	clock.Advance(200 * time.Millisecond)
	assertSent(t, sink.commands(), []sentCommand{{1.0, 200}, {0.0, 200}})

	// A new session picks up the new stroke length: 0 -> 100 is now 125mm.
	if err := s.Start(motion.ParseMovementSet(nil, []string{"200,100"})); err != nil {
		t.Fatalf("Start: %v", err)
	}
	s.Stop()
	if last := sink.commands()[2]; last != (sentCommand{1.0, 278}) {
		t.Errorf("new session command = %+v, want {1 278}", last)
	}
}

func TestScheduler_OnCommand(t *testing.T) {
	env := testEnvelope()
	env.StrokeLength = 62.5
	s, _, clock := newTestScheduler(env)

	var mu sync.Mutex
	var cmds []Command
	s.SetOnCommand(func(c Command) {
		mu.Lock()
		cmds = append(cmds, c)
		mu.Unlock()
		// Callbacks run outside the lock.
		_ = s.Status()
	})

	if err := s.Start(motion.ParseMovementSet(nil, []string{"200,100", "200,0"})); err != nil {
		t.Fatalf("Start: %v", err)
	}
	clock.Advance(200 * time.Millisecond)
	s.Stop()

	mu.Lock()
	defer mu.Unlock()
	if len(cmds) != 2 {
		t.Fatalf("callbacks = %d, want 2", len(cmds))
	}
	if cmds[0].Phase != PhaseLoop || cmds[1].Phase != PhaseLoop {
		t.Errorf("phases = %v, %v, want loop, loop", cmds[0].Phase, cmds[1].Phase)
	}
	if cmds[1].From != 100 || cmds[1].To != 0 || math.Abs(cmds[1].Speed-312.5) > 1e-6 {
		t.Errorf("second command = %+v", cmds[1])
	}
}

func TestScheduler_StopIsIdempotent(t *testing.T) {
	s, _, _ := newTestScheduler(testEnvelope())
	s.Stop()
	s.Stop()

	if err := s.Start(motion.ParseMovementSet(nil, []string{"500,10"})); err != nil {
		t.Fatalf("Start: %v", err)
	}
	s.Stop()
	s.Stop()
	if s.Active() {
		t.Error("Active() = true after Stop")
	}
}

func TestScheduler_RealClock(t *testing.T) {
	sink := &mockSink{}
	env := testEnvelope()
	env.ExpansionEnabled = false
	env.MinSpeed = 0
	s := NewScheduler(sink, Config{Envelope: env}, nil)

	if err := s.Start(motion.ParseMovementSet(nil, []string{"5,20", "5,30"})); err != nil {
		t.Fatalf("Start: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for len(sink.commands()) < 4 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	s.Stop()

	if got := len(sink.commands()); got < 4 {
		t.Errorf("commands = %d, want at least 4", got)
	}
	if s.Active() {
		t.Error("Active() = true after Stop")
	}
}

func TestScheduler_ConcurrentControl(t *testing.T) {
	sink := &mockSink{}
	s := NewScheduler(sink, Config{Envelope: testEnvelope()}, nil)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				switch (i + j) % 3 {
				case 0:
					_ = s.Start(motion.ParseMovementSet(nil, []string{"20,10", "20,15"}))
				case 1:
					s.Stop()
				default:
					_ = s.Status()
				}
			}
		}(i)
	}
	wg.Wait()
	s.Stop()

	if s.Active() {
		t.Error("Active() = true after final Stop")
	}
}
