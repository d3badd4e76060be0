// Package simulator provides an in-process linear actuator.
//
// Device accepts the same commands as a real actuator and tracks where the
// rod would be: each command starts a linear move from the current
// (interpolated) position to the target over the requested duration. It is
// used as the device driver when no hardware is attached and as a sink in
// tests and the simulate command.
package simulator

import (
	"context"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"
)

const (
	// MinDurationMs is the shortest move the simulated rod performs.
	MinDurationMs = 10

	// DefaultStrokeMm matches the stroke of a typical stroker device.
	DefaultStrokeMm = 125.0

	// stillThreshold is the fraction of stroke below which a command is a hold.
	stillThreshold = 0.001
)

// Logger defines the logging interface for the simulator.
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

// State is a snapshot of the simulated rod.
type State struct {
	Position    float64 `json:"position"`
	Target      float64 `json:"target"`
	Moving      bool    `json:"moving"`
	Speed       float64 `json:"speed_mm_s"`
	Progress    float64 `json:"progress"`
	RemainingMs int     `json:"remaining_ms"`
	Commands    int     `json:"commands"`
}

type move struct {
	from, to float64
	duration time.Duration
	started  time.Time
}

// Device is a simulated linear actuator. Positions are fractions 0.0-1.0.
type Device struct {
	strokeMm float64
	logger   Logger
	now      func() time.Time

	mu       sync.Mutex
	position float64
	target   float64
	speed    float64
	current  *move
	commands int
}

// New creates a device resting at mid-stroke.
func New(strokeMm float64, logger Logger) *Device {
	if strokeMm <= 0 {
		strokeMm = DefaultStrokeMm
	}
	if logger == nil {
		logger = noopLogger{}
	}
	return &Device{
		strokeMm: strokeMm,
		logger:   logger,
		now:      time.Now,
		position: 0.5,
		target:   0.5,
	}
}

// SendLinear starts a move to position over durationMs. The position is
// clamped to [0,1] and the duration floored at MinDurationMs.
func (d *Device) SendLinear(ctx context.Context, position float64, durationMs int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	position = math.Max(0, math.Min(1, position))
	if durationMs < MinDurationMs {
		durationMs = MinDurationMs
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	d.advanceLocked(now)

	distance := math.Abs(position - d.position)
	d.speed = 0
	if distance > stillThreshold {
		d.speed = distance * d.strokeMm / (float64(durationMs) / 1000)
	}

	d.current = &move{
		from:     d.position,
		to:       position,
		duration: time.Duration(durationMs) * time.Millisecond,
		started:  now,
	}
	d.target = position
	d.commands++

	d.logger.Debug("simulated move",
		"from", fmt.Sprintf("%.1f%%", d.position*100),
		"to", fmt.Sprintf("%.1f%%", position*100),
		"duration_ms", durationMs,
		"speed_mm_s", math.Round(d.speed),
	)
	return nil
}

// SendStop halts the rod where it is.
func (d *Device) SendStop(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	d.advanceLocked(d.now())
	d.current = nil
	d.target = d.position
	d.speed = 0
	d.logger.Debug("simulated stop", "position", d.position)
	return nil
}

// Name identifies the driver.
func (d *Device) Name() string { return "simulator" }

// Ready is always true; the simulated rod cannot go away.
func (d *Device) Ready() bool { return true }

// Detail returns the current State.
func (d *Device) Detail() any { return d.State() }

// State returns the rod's current interpolated state.
func (d *Device) State() State {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	d.advanceLocked(now)

	st := State{
		Position: d.position,
		Target:   d.target,
		Speed:    d.speed,
		Commands: d.commands,
		Progress: 1,
	}
	if m := d.current; m != nil {
		elapsed := now.Sub(m.started)
		st.Moving = true
		st.Progress = float64(elapsed) / float64(m.duration)
		st.RemainingMs = int((m.duration - elapsed).Milliseconds())
	}
	return st
}

// advanceLocked moves the tracked position along the active move.
func (d *Device) advanceLocked(now time.Time) {
	m := d.current
	if m == nil {
		return
	}
	elapsed := now.Sub(m.started)
	if elapsed >= m.duration {
		d.position = m.to
		d.speed = 0
		d.current = nil
		return
	}
	progress := float64(elapsed) / float64(m.duration)
	d.position = m.from + (m.to-m.from)*progress
}

// Bar renders the state as a one-line gauge, the filled block marking the
// rod and the ring marking the target.
func (s State) Bar(width int) string {
	if width < 2 {
		width = 2
	}
	cell := func(f float64) int {
		i := int(f * float64(width))
		return max(0, min(width, i))
	}

	bar := []rune(strings.Repeat("─", width))
	if t := cell(s.Target); t < width {
		bar[t] = '◦'
	}
	if p := cell(s.Position); p < width {
		bar[p] = '█'
	}

	status := "■ IDLE"
	if s.Moving {
		status = "▶ MOVING"
		if s.Speed > 0 {
			status += fmt.Sprintf(" @ %.0f mm/s", s.Speed)
		}
	}
	return fmt.Sprintf("[%s] %5.1f%% → %5.1f%% %s", string(bar), s.Position*100, s.Target*100, status)
}
