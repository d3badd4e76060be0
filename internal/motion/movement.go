package motion

import (
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
)

// DefaultDurationMs replaces a zero or missing delay before a movement is used.
const DefaultDurationMs = 500

// positionPrefix matches the numeric head of a position field. Anything after
// it (producer comments, units) is ignored.
var positionPrefix = regexp.MustCompile(`^\s*-?\d+(\.\d+)?`)

// Movement is one timed position target.
//
// Position is a percentage of stroke. Values outside [0,100] are kept as
// parsed and clamped only when a command is dispatched.
type Movement struct {
	DelayMs  int     `json:"delay_ms"`
	Position float64 `json:"position"`
}

// Duration returns the delay to use for this movement, substituting
// DefaultDurationMs when no positive delay was given.
func (m Movement) Duration() int {
	if m.DelayMs <= 0 {
		return DefaultDurationMs
	}
	return m.DelayMs
}

// String returns the movement in wire token form.
func (m Movement) String() string {
	return FormatToken(m)
}

// ParseToken parses a single "delayMs,posPercent" token.
//
// The token must split into exactly two comma-separated fields. The delay may
// be an integer or a decimal (rounded); negative delays become zero so the
// default duration applies. The position is read from the numeric prefix of
// the second field.
func ParseToken(token string) (Movement, error) {
	fields := strings.Split(token, ",")
	if len(fields) != 2 {
		return Movement{}, fmt.Errorf("%w: %q: want 2 fields, got %d", ErrInvalidToken, token, len(fields))
	}

	delay, err := parseDelay(fields[0])
	if err != nil {
		return Movement{}, fmt.Errorf("%w: %q: delay: %w", ErrInvalidToken, token, err)
	}

	head := positionPrefix.FindString(fields[1])
	if head == "" {
		return Movement{}, fmt.Errorf("%w: %q: position is not numeric", ErrInvalidToken, token)
	}
	pos, err := strconv.ParseFloat(strings.TrimSpace(head), 64)
	if err != nil {
		return Movement{}, fmt.Errorf("%w: %q: position: %w", ErrInvalidToken, token, err)
	}

	return Movement{DelayMs: delay, Position: pos}, nil
}

func parseDelay(field string) (int, error) {
	field = strings.TrimSpace(field)
	delay, err := strconv.Atoi(field)
	if err != nil {
		f, ferr := strconv.ParseFloat(field, 64)
		if ferr != nil || math.IsNaN(f) || math.IsInf(f, 0) {
			return 0, err
		}
		delay = int(math.Round(f))
	}
	if delay < 0 {
		delay = 0
	}
	return delay, nil
}

// FormatToken renders a movement as a wire token. ParseToken(FormatToken(m))
// returns m for any non-negative delay.
func FormatToken(m Movement) string {
	return strconv.Itoa(m.DelayMs) + "," + strconv.FormatFloat(m.Position, 'f', -1, 64)
}

// ParseTokens parses a token sequence, dropping tokens that fail to parse.
// The number of dropped tokens is returned alongside the movements.
func ParseTokens(tokens []string) ([]Movement, int) {
	out := make([]Movement, 0, len(tokens))
	dropped := 0
	for _, tok := range tokens {
		m, err := ParseToken(tok)
		if err != nil {
			dropped++
			continue
		}
		out = append(out, m)
	}
	return out, dropped
}

// MovementSet is a one-shot start sequence followed by a repeating loop.
type MovementSet struct {
	Start []Movement
	Loop  []Movement
}

// ParseMovementSet parses start and loop token sequences. Invalid tokens are
// dropped; the result may be empty, so callers validate before playback.
func ParseMovementSet(start, loop []string) MovementSet {
	s, _ := ParseTokens(start)
	l, _ := ParseTokens(loop)
	return MovementSet{Start: s, Loop: l}
}

// Empty reports whether both sequences are empty.
func (s MovementSet) Empty() bool {
	return len(s.Start) == 0 && len(s.Loop) == 0
}

// Validate returns ErrEmptyMovementSet when there is nothing to play.
func (s MovementSet) Validate() error {
	if s.Empty() {
		return ErrEmptyMovementSet
	}
	return nil
}

// Tokens returns both sequences in wire token form.
func (s MovementSet) Tokens() (start, loop []string) {
	start = make([]string, len(s.Start))
	for i, m := range s.Start {
		start[i] = FormatToken(m)
	}
	loop = make([]string, len(s.Loop))
	for i, m := range s.Loop {
		loop[i] = FormatToken(m)
	}
	return start, loop
}

// wireSet is the JSON shape exchanged with producers, the API and MQTT.
type wireSet struct {
	Start []string `json:"start"`
	Loop  []string `json:"loop"`
}

// MarshalJSON encodes the set in the {"start":[...],"loop":[...]} wire format.
func (s MovementSet) MarshalJSON() ([]byte, error) {
	start, loop := s.Tokens()
	return json.Marshal(wireSet{Start: start, Loop: loop})
}

// UnmarshalJSON decodes the wire format, dropping malformed tokens.
func (s *MovementSet) UnmarshalJSON(data []byte) error {
	var w wireSet
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	*s = ParseMovementSet(w.Start, w.Loop)
	return nil
}
