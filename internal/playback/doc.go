// Package playback executes movement plans against a device sink.
//
// The Scheduler owns at most one Session. A session runs its start queue
// once and then cycles its loop queue until it is stopped, replaced, or the
// device reports that it is no longer ready:
//
//	        Start(set)                 start queue empty
//	Idle ──────────────▶ PhaseStart ─────────────────────▶ PhaseLoop
//	  ▲                      │                                 │
//	  │      Stop / device lost / nothing left to play         │
//	  └──────────────────────┴─────────────────────────────────┘
//
// Each step governs the next movement against the tracked device position,
// dispatches it, and arms a timer for the governed duration. The timer
// callback re-enters the step function under the scheduler lock, so exactly
// one timer chain is live at any time. Cancellation is checked when a step
// begins and when its timer fires; a command already sent to the device is
// never recalled.
//
// # Thread Safety
//
// All Scheduler methods are safe for concurrent use. Callbacks registered
// with SetOnCommand and SetOnStateChange run outside the scheduler lock and
// may call back into the Scheduler.
package playback
