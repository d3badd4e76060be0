// Package logging builds the slog logger shared by every Motion Core
// component.
//
// Console output is JSON by default or text for local work; an optional
// file receives the same records as JSON. Each record carries service and
// version, and components add their own name with With:
//
//	logger := logging.New(cfg.Logging, version)
//	defer logger.Close()
//	logger.With("component", "playback").Info("session started", "session", id)
//
// The level can be raised or lowered at runtime with SetLevel, which also
// affects loggers derived with With.
//
// Analysis input is user text; log it at debug only. API keys are never
// logged.
package logging
