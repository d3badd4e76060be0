package analysis

import "errors"

// Attempt and terminal errors. Every attempt error wraps one of the first
// four; the error returned after the last attempt wraps ErrAnalysisFailed
// and the last attempt's error.
var (
	// ErrGeneration is returned when the generator call fails.
	ErrGeneration = errors.New("analysis: generation failed")

	// ErrEmptyResponse is returned when the generator replies with nothing.
	ErrEmptyResponse = errors.New("analysis: empty response")

	// ErrNoObject is returned when no movement object can be extracted.
	ErrNoObject = errors.New("analysis: no movement object in response")

	// ErrSchema is returned when start or loop is missing or not an array.
	ErrSchema = errors.New("analysis: start and loop must be arrays")

	// ErrAnalysisFailed is returned once every attempt has failed.
	ErrAnalysisFailed = errors.New("analysis: all attempts failed")

	// ErrNotFound is returned when a stored analysis does not exist.
	ErrNotFound = errors.New("analysis: not found")
)
