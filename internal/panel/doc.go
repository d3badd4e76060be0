// Package panel serves the live rod view, a single-page browser UI that
// subscribes to the playback WebSocket channels and draws the actuator
// position as commands are dispatched.
//
// The page is embedded into the binary with go:embed. For UI work a
// directory on disk can be served instead so edits show up on reload.
// Unknown paths fall back to index.html.
package panel
