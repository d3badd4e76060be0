package intiface

import "errors"

// Domain errors for the Intiface link.
var (
	// ErrNotConnected is returned when a request is made without a live
	// server connection.
	ErrNotConnected = errors.New("intiface: not connected")

	// ErrHandshakeFailed is returned when the server rejects or mangles the
	// RequestServerInfo exchange.
	ErrHandshakeFailed = errors.New("intiface: handshake failed")

	// ErrServer wraps an Error reply from the server.
	ErrServer = errors.New("intiface: server error")

	// ErrUnexpectedReply is returned when a reply of the wrong kind arrives.
	ErrUnexpectedReply = errors.New("intiface: unexpected reply")

	// ErrInvalidFrame is returned when an incoming frame cannot be decoded.
	ErrInvalidFrame = errors.New("intiface: invalid frame")
)
