// Package api provides the HTTP REST API and WebSocket server for Motion Core.
//
// Routes live under /api/v1:
//
//	GET  /health                 liveness and version
//	POST /analyze                analyse text, optionally start playback
//	GET  /playback               playback, device and settings snapshot
//	POST /playback               play an inline movement set
//	POST /playback/stop          stop playback and halt the device
//	GET  /analyses               recent analyses, newest first
//	GET  /analyses/{id}          one stored analysis
//	POST /analyses/{id}/play     replay a stored analysis
//	GET  /device                 driver and readiness
//	POST /auth/ws-ticket         single-use WebSocket ticket
//	GET  /ws                     live events
//
// When security.jwt.secret is set every route except /health requires an
// HS256 bearer token, and /ws requires a ticket obtained with one.
//
// WebSocket clients subscribe to the channels playback.state,
// playback.command, analysis.completed and device.state:
//
//	{"type": "subscribe", "id": "1", "payload": {"channels": ["playback.state"]}}
package api
