package motion

import "math"

// Govern returns the duration to use for moving from one position to another
// so the implied speed stays within the envelope.
//
// A pure hold (no position change) keeps the requested duration. A move whose
// implied speed is in range keeps it too. Otherwise the speed is clamped to
// the nearest bound and the duration recomputed from the travel distance.
// Zero or negative durations are replaced by DefaultDurationMs first.
//
// Govern never fails. An unusable envelope leaves durations unchanged.
func Govern(from, to float64, durationMs int, env Envelope) int {
	if durationMs <= 0 {
		durationMs = DefaultDurationMs
	}

	delta := math.Abs(to - from)
	if delta == 0 || !env.usable() {
		return durationMs
	}

	distMm := env.DistanceMm(delta)
	speed := distMm / (float64(durationMs) / 1000)

	switch {
	case speed > env.MaxSpeed:
		return roundMs(distMm / env.MaxSpeed * 1000)
	case speed < env.MinSpeed:
		return roundMs(distMm / env.MinSpeed * 1000)
	default:
		return durationMs
	}
}

// roundMs rounds to whole milliseconds with a 1 ms floor, so a real move is
// never dispatched with a zero duration.
func roundMs(ms float64) int {
	r := int(math.Round(ms))
	if r < 1 {
		return 1
	}
	return r
}
