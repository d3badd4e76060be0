package motion

import "math"

// positionEpsilon is the delta, in percent, below which a move counts as a hold.
const positionEpsilon = 1e-9

// Expand decomposes a move that is too slow for the device into segments
// moving at minimum speed separated by holds.
//
// The move from `from` to m.Position is split into n equal steps of at most
// StepSizePercent. Each step moves at minimum speed. The time left over from
// the requested duration is spread across the holds between steps, so the
// segment delays sum to the requested duration (to within one millisecond per
// step when the minimum-speed move time rounds up). The last segment lands on
// m.Position exactly and is never followed by a hold.
//
// Moves already within the envelope, holds, and any move when expansion is
// disabled come back as the single original movement.
//
// Parameters:
//   - from: position the device is at when the movement begins (percent)
//   - m: movement to expand
//   - env: device envelope
//
// Returns:
//   - []Movement: one or more segments replacing m
func Expand(from float64, m Movement, env Envelope) []Movement {
	if !env.ExpansionEnabled || !env.usable() || env.MinSpeed <= 0 {
		return []Movement{m}
	}

	delta := math.Abs(m.Position - from)
	if delta < positionEpsilon {
		return []Movement{m}
	}

	total := m.Duration()
	distMm := env.DistanceMm(delta)
	if distMm/(float64(total)/1000) >= env.MinSpeed {
		return []Movement{m}
	}

	step := env.StepSizePercent
	if step <= 0 || step > delta {
		step = delta
	}
	n := int(math.Ceil(delta/step - positionEpsilon))
	if n < 1 {
		n = 1
	}

	stepPct := delta / float64(n)
	moveMs := roundMs(env.DistanceMm(stepPct) / env.MinSpeed * 1000)
	hold := total - n*moveMs
	if hold < 0 {
		hold = 0
	}

	dir := 1.0
	if m.Position < from {
		dir = -1
	}

	// A single step has no gap to hold in, so it waits before moving.
	if n == 1 {
		out := make([]Movement, 0, 2)
		if hold > 0 {
			out = append(out, Movement{DelayMs: hold, Position: from})
		}
		return append(out, Movement{DelayMs: moveMs, Position: m.Position})
	}

	gaps := n - 1
	base, extra := hold/gaps, hold%gaps

	out := make([]Movement, 0, 2*n)
	for i := 1; i <= n; i++ {
		pos := from + dir*stepPct*float64(i)
		if i == n {
			pos = m.Position
		}
		out = append(out, Movement{DelayMs: moveMs, Position: pos})
		if i == n {
			break
		}
		h := base
		if i <= extra {
			h++
		}
		if h > 0 {
			out = append(out, Movement{DelayMs: h, Position: pos})
		}
	}
	return out
}
