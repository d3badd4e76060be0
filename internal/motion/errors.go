package motion

import "errors"

// Domain errors for the motion package.
//
// These errors can be checked using errors.Is():
//
//	if errors.Is(err, motion.ErrEmptyMovementSet) {
//	    // nothing to play
//	}
var (
	// ErrInvalidToken is returned when a movement token cannot be parsed.
	ErrInvalidToken = errors.New("motion: invalid token")

	// ErrEmptyMovementSet is returned when both sequences are empty.
	ErrEmptyMovementSet = errors.New("motion: empty movement set")

	// ErrInvalidEnvelope is returned when envelope values are unusable.
	ErrInvalidEnvelope = errors.New("motion: invalid envelope")
)
