// Package control composes the analyzer, the playback scheduler and the
// device into the operations Motion Core exposes.
//
// Service is the single entry point used by the HTTP API, the MQTT command
// handler and the CLI:
//
//	text ──Analyze──▶ Analyzer ──▶ history + telemetry + analysis.completed
//	                        │
//	                        └─ autoplay ─▶ Play ─▶ Scheduler ─▶ Device
//
// Every scheduler command and state change is fanned out to the registered
// Broadcasters (the websocket hub and the MQTT state publisher) and to
// telemetry.
//
// Stop is the external stop-all path: it cancels the active session and
// then tells the device to halt, so a move already in flight is cut short.
package control
