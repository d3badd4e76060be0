package motion

import (
	"errors"
	"fmt"
	"math"
)

// Envelope describes the physical limits of the actuator.
//
// An envelope is read-only to playback. A scheduler snapshots it when a
// session starts, so changes only apply to the next session.
type Envelope struct {
	MinSpeed         float64 // mm/s
	MaxSpeed         float64 // mm/s
	StrokeLength     float64 // mm
	ExpansionEnabled bool
	StepSizePercent  float64
}

// DefaultEnvelope returns the limits of a typical stroker-style actuator.
func DefaultEnvelope() Envelope {
	return Envelope{
		MinSpeed:         32,
		MaxSpeed:         450,
		StrokeLength:     125,
		ExpansionEnabled: true,
		StepSizePercent:  5,
	}
}

// Validate checks the envelope and returns all problems joined.
func (e Envelope) Validate() error {
	var errs []error
	if e.StrokeLength <= 0 {
		errs = append(errs, fmt.Errorf("%w: stroke length must be positive", ErrInvalidEnvelope))
	}
	if e.MaxSpeed <= 0 {
		errs = append(errs, fmt.Errorf("%w: max speed must be positive", ErrInvalidEnvelope))
	}
	if e.MinSpeed < 0 {
		errs = append(errs, fmt.Errorf("%w: min speed must not be negative", ErrInvalidEnvelope))
	}
	if e.MinSpeed > e.MaxSpeed {
		errs = append(errs, fmt.Errorf("%w: min speed %.1f exceeds max speed %.1f", ErrInvalidEnvelope, e.MinSpeed, e.MaxSpeed))
	}
	if e.ExpansionEnabled && e.StepSizePercent <= 0 {
		errs = append(errs, fmt.Errorf("%w: step size must be positive when expansion is enabled", ErrInvalidEnvelope))
	}
	return errors.Join(errs...)
}

// usable reports whether speed maths can be applied at all. Governing and
// expansion pass movements through untouched otherwise.
func (e Envelope) usable() bool {
	return e.StrokeLength > 0 && e.MaxSpeed > 0 && e.MinSpeed >= 0 && e.MinSpeed <= e.MaxSpeed
}

// DistanceMm converts a percentage delta into millimetres of travel.
func (e Envelope) DistanceMm(deltaPercent float64) float64 {
	return math.Abs(deltaPercent) / 100 * e.StrokeLength
}

// Speed returns the implied speed in mm/s of moving between two positions in
// durationMs. A non-positive duration yields +Inf for any real move.
func (e Envelope) Speed(from, to float64, durationMs int) float64 {
	dist := e.DistanceMm(to - from)
	if dist == 0 {
		return 0
	}
	if durationMs <= 0 {
		return math.Inf(1)
	}
	return dist / (float64(durationMs) / 1000)
}
