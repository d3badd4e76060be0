package motion

// Plan is a movement set prepared for playback: slow moves expanded, the
// start queue ending on the first loop position, and the loop queue cyclic.
type Plan struct {
	Start []Movement
	Loop  []Movement
}

// Empty reports whether the plan has nothing to play.
func (p Plan) Empty() bool {
	return len(p.Start) == 0 && len(p.Loop) == 0
}

// Duration returns the requested length of the start queue and of one loop
// cycle in milliseconds, before governing.
func (p Plan) Duration() (startMs, cycleMs int) {
	for _, m := range p.Start {
		startMs += m.Duration()
	}
	for _, m := range p.Loop {
		cycleMs += m.Duration()
	}
	return startMs, cycleMs
}

// BuildPlan prepares a movement set for playback from the device's current
// position. With expansion disabled the sequences are played as given.
func BuildPlan(from float64, set MovementSet, env Envelope) Plan {
	if !env.ExpansionEnabled {
		return Plan{
			Start: append([]Movement(nil), set.Start...),
			Loop:  append([]Movement(nil), set.Loop...),
		}
	}
	return Plan{
		Start: ExpandStart(from, set.Start, set.Loop, env),
		Loop:  ExpandLoop(set.Loop, env),
	}
}

// ExpandStart expands the start sequence from the given position and appends
// a transition to the first loop position, timed by the first loop
// movement's delay. The queue therefore always ends where ExpandLoop's cycle
// begins.
func ExpandStart(from float64, start, loop []Movement, env Envelope) []Movement {
	out := make([]Movement, 0, len(start)+1)
	pos := from
	for _, m := range start {
		out = append(out, Expand(pos, m, env)...)
		pos = m.Position
	}
	if len(loop) > 0 {
		out = append(out, Expand(pos, loop[0], env)...)
	}
	return out
}

// ExpandLoop expands the loop as a cycle starting at loop[0]: the queue
// holds the moves to loop[1] through loop[n-1] followed by the wrap back to
// loop[0].
//
// The wrap is timed from the last movement's delay rather than the first's.
// When the wrap needs no expansion loop[0] is played as given.
func ExpandLoop(loop []Movement, env Envelope) []Movement {
	n := len(loop)
	if n == 0 {
		return nil
	}

	out := make([]Movement, 0, n)
	for i := 1; i < n; i++ {
		out = append(out, Expand(loop[i-1].Position, loop[i], env)...)
	}

	wrap := Movement{DelayMs: loop[n-1].DelayMs, Position: loop[0].Position}
	segs := Expand(loop[n-1].Position, wrap, env)
	if len(segs) == 1 && segs[0] == wrap {
		segs = []Movement{loop[0]}
	}
	return append(out, segs...)
}
