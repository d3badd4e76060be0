package playback

import "errors"

var (
	// ErrDeviceUnavailable is returned when playback is requested while the
	// device is not ready.
	ErrDeviceUnavailable = errors.New("playback: device unavailable")
)
