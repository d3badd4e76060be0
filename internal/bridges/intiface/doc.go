// Package intiface connects the playback engine to a linear actuator through
// an Intiface (Buttplug protocol v3) server.
//
// # Architecture
//
//	┌─────────────────┐          ┌─────────────────┐            ┌─────────┐
//	│    Scheduler    │  Sink    │   Link (this)   │ websocket  │Intiface │◄──► Device
//	│   (playback)    │─────────►│                 │◄──────────►│ server  │
//	└─────────────────┘          └─────────────────┘            └─────────┘
//
// Frames on the wire are JSON arrays of single-key objects, the key naming the
// message type. Incoming frames are decoded once into the Message variants
// defined in messages.go; everything after decoding switches on Kind.
//
// # Readiness
//
// The link is ready when the handshake has completed and a device that
// accepts LinearCmd is attached. Readiness changes are reported through
// SetOnReadyChange so the scheduler can stop playback when the device goes
// away.
//
// # Usage
//
//	link := intiface.New(intiface.Config{URL: "ws://127.0.0.1:12345"}, logger)
//	link.SetOnReadyChange(scheduler.SetDeviceReady)
//	go link.Run(ctx)
//	err := link.SendLinear(ctx, 0.8, 400)
package intiface
