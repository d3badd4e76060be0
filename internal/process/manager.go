package process

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// Status is the lifecycle state of a supervised process.
type Status string

const (
	StatusStopped  Status = "stopped"
	StatusStarting Status = "starting"
	StatusRunning  Status = "running"
	StatusFailed   Status = "failed"
)

var (
	// ErrRestartLimit ends Run once MaxRestartAttempts restarts in a row
	// have failed.
	ErrRestartLimit = errors.New("process: restart limit reached")

	// ErrUnrecoverable ends Run when a health check says a restart will
	// not help.
	ErrUnrecoverable = errors.New("process: unrecoverable failure")

	// ErrAlreadyRunning is returned by a second concurrent Run.
	ErrAlreadyRunning = errors.New("process: already running")
)

// RecoverableError is implemented by health check errors that know whether
// a restart could fix them. Other errors count as recoverable.
type RecoverableError interface {
	error
	IsRecoverable() bool
}

func unrecoverable(err error) bool {
	var rec RecoverableError
	return errors.As(err, &rec) && !rec.IsRecoverable()
}

// Config describes the process to supervise. Zero durations take the
// defaults applied by NewManager.
type Config struct {
	Name    string
	Binary  string
	Args    []string
	Env     []string // appended to the parent environment when non-nil
	WorkDir string

	RestartOnFailure bool

	// Restart waits start at RestartDelay and double up to
	// MaxRestartDelay. A run lasting StableThreshold resets both the wait
	// and the attempt count.
	RestartDelay       time.Duration
	MaxRestartDelay    time.Duration
	StableThreshold    time.Duration
	MaxRestartAttempts int // 0 is unlimited

	// GracefulTimeout is the gap between SIGTERM and SIGKILL on stop.
	GracefulTimeout time.Duration

	HealthCheckFunc     func(ctx context.Context) error
	HealthCheckInterval time.Duration

	OnStart   func(pid int)
	OnExit    func(err error) // err is nil for a requested stop
	OnRestart func(attempt int, delay time.Duration)
}

// Logger is the logging surface the manager needs.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Manager keeps one subprocess alive for the lifetime of Run.
type Manager struct {
	config Config
	logger Logger

	mu       sync.RWMutex
	active   bool // inside Run
	status   Status
	pid      int
	since    time.Time
	restarts int
	lastErr  error
}

// NewManager returns a stopped manager for cfg.
func NewManager(cfg Config) *Manager {
	withDefault := func(d *time.Duration, v time.Duration) {
		if *d == 0 {
			*d = v
		}
	}
	withDefault(&cfg.RestartDelay, 5*time.Second)
	withDefault(&cfg.MaxRestartDelay, 5*time.Minute)
	withDefault(&cfg.StableThreshold, 2*time.Minute)
	withDefault(&cfg.GracefulTimeout, 10*time.Second)
	withDefault(&cfg.HealthCheckInterval, 30*time.Second)
	if cfg.MaxRestartDelay < cfg.RestartDelay {
		cfg.MaxRestartDelay = cfg.RestartDelay
	}

	return &Manager{config: cfg, logger: noopLogger{}, status: StatusStopped}
}

// SetLogger replaces the logger. Call it before Run.
func (m *Manager) SetLogger(logger Logger) {
	if logger == nil {
		logger = noopLogger{}
	}
	m.logger = logger
}

// Run starts the process and keeps it running until ctx is cancelled, at
// which point the process group is stopped and Run returns nil.
//
// Run returns an error when the process fails with restarts disabled,
// when the restart limit is hit, or when a health check reports an
// unrecoverable failure.
func (m *Manager) Run(ctx context.Context) error {
	if err := m.enter(); err != nil {
		return err
	}
	defer m.leave()

	policy := newRestartPolicy(m.config)
	for {
		began := time.Now()
		err := m.runOnce(ctx)

		if ctx.Err() != nil {
			m.transition(StatusStopped, 0, nil)
			m.logger.Info("process stopped", "name", m.config.Name)
			m.exited(nil)
			return nil
		}

		m.transition(StatusFailed, 0, err)
		m.logger.Warn("process exited unexpectedly", "name", m.config.Name, "error", err)
		m.exited(err)

		switch {
		case unrecoverable(err):
			m.logger.Error("process failure is not recoverable, giving up", "name", m.config.Name, "error", err)
			return fmt.Errorf("%w: %s: %w", ErrUnrecoverable, m.config.Name, err)
		case !m.config.RestartOnFailure:
			return fmt.Errorf("%s exited: %w", m.config.Name, err)
		}

		attempt, delay, ok := policy.next(time.Since(began))
		if !ok {
			m.logger.Error("max restart attempts reached", "name", m.config.Name, "attempts", attempt-1)
			return fmt.Errorf("%w: %s after %d attempts: %w", ErrRestartLimit, m.config.Name, attempt-1, err)
		}

		m.mu.Lock()
		m.restarts++
		m.mu.Unlock()
		m.logger.Info("restarting process", "name", m.config.Name, "attempt", attempt, "delay", delay)
		if m.config.OnRestart != nil {
			m.config.OnRestart(attempt, delay)
		}

		if !sleep(ctx, delay) {
			m.transition(StatusStopped, 0, nil)
			return nil
		}
	}
}

func (m *Manager) enter() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active {
		return fmt.Errorf("%w: %s", ErrAlreadyRunning, m.config.Name)
	}
	m.active = true
	m.restarts = 0
	m.lastErr = nil
	return nil
}

func (m *Manager) leave() {
	m.mu.Lock()
	m.active = false
	m.mu.Unlock()
}

// transition records a state change. pid is non-zero only for
// StatusRunning; a non-nil err becomes LastError.
func (m *Manager) transition(status Status, pid int, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.status = status
	m.pid = pid
	if status == StatusRunning {
		m.since = time.Now()
	}
	if err != nil {
		m.lastErr = err
	}
}

func (m *Manager) exited(err error) {
	if m.config.OnExit != nil {
		m.config.OnExit(err)
	}
}

// restartPolicy decides whether and when to restart after a failure.
type restartPolicy struct {
	delays      *backoff.ExponentialBackOff
	stable      time.Duration
	maxAttempts int
	attempts    int
}

func newRestartPolicy(cfg Config) *restartPolicy {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = cfg.RestartDelay
	b.MaxInterval = cfg.MaxRestartDelay
	b.Multiplier = 2
	b.RandomizationFactor = 0.1
	b.Reset()
	return &restartPolicy{delays: b, stable: cfg.StableThreshold, maxAttempts: cfg.MaxRestartAttempts}
}

// next returns the attempt number and wait for the restart following a
// run that lasted ran. ok is false once the attempt limit is exceeded.
func (p *restartPolicy) next(ran time.Duration) (attempt int, delay time.Duration, ok bool) {
	if ran >= p.stable {
		p.delays.Reset()
		p.attempts = 0
	}
	p.attempts++
	if p.maxAttempts > 0 && p.attempts > p.maxAttempts {
		return p.attempts, 0, false
	}
	return p.attempts, p.delays.NextBackOff(), true
}

// sleep waits for d and reports false if ctx ended first.
func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// Status returns the current lifecycle state.
func (m *Manager) Status() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.status
}

// IsRunning reports whether the process is up.
func (m *Manager) IsRunning() bool {
	return m.Status() == StatusRunning
}

// LastError returns the error behind the most recent unexpected exit.
func (m *Manager) LastError() error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastErr
}

// RestartCount returns how many restarts the current Run has made.
func (m *Manager) RestartCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.restarts
}

// PID returns the running process ID, or 0.
func (m *Manager) PID() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.pid
}

// Stats is a point-in-time view of the supervised process.
type Stats struct {
	Name         string        `json:"name"`
	Status       Status        `json:"status"`
	PID          int           `json:"pid,omitempty"`
	Uptime       time.Duration `json:"uptime,omitempty"`
	RestartCount int           `json:"restart_count"`
	LastError    string        `json:"last_error,omitempty"`
}

func (m *Manager) Stats() Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	st := Stats{
		Name:         m.config.Name,
		Status:       m.status,
		PID:          m.pid,
		RestartCount: m.restarts,
	}
	if m.status == StatusRunning {
		st.Uptime = time.Since(m.since)
	}
	if m.lastErr != nil {
		st.LastError = m.lastErr.Error()
	}
	return st
}
