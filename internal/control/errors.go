package control

import "errors"

var (
	// ErrEmptyInput is returned when Analyze is given blank text.
	ErrEmptyInput = errors.New("control: input text is empty")

	// ErrHistoryDisabled is returned by history operations when no
	// repository is configured.
	ErrHistoryDisabled = errors.New("control: analysis history is disabled")

	// ErrNothingToPlay is returned when a stored analysis has no movements.
	ErrNothingToPlay = errors.New("control: analysis has no movements")

	// ErrUnknownCommand is returned for an MQTT command with no handler.
	ErrUnknownCommand = errors.New("control: unknown command")

	// ErrInvalidPayload is returned when a command payload cannot be decoded.
	ErrInvalidPayload = errors.New("control: invalid command payload")
)
