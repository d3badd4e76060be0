// Package motion holds the movement model and the pure timing rules used to
// play it back on a linear actuator.
//
// A movement description arrives as two sequences of "delayMs,posPercent"
// tokens: a one-shot start sequence and a loop sequence that repeats until
// stopped. This package parses those tokens, governs each move so the implied
// speed stays inside the device envelope, and expands moves that are too slow
// for the device into step-and-hold segments.
//
// Pipeline:
//
//	tokens ──▶ ParseMovementSet ──▶ MovementSet
//	                                    │
//	                                    ▼
//	                     BuildPlan (ExpandStart, ExpandLoop)
//	                                    │
//	                                    ▼
//	                   Plan{Start, Loop} ──▶ playback.Scheduler
//	                                             │
//	                                             ▼
//	                                 Govern(from, to, delay)
//
// # Key Types
//
//   - Movement: one (delay, target position) instruction
//   - MovementSet: start and loop sequences as parsed from the wire format
//   - Envelope: device speed bounds, stroke length, expansion settings
//   - Plan: the pre-expanded start and loop queues a scheduler plays
//
// Everything in this package is pure and safe for concurrent use.
package motion
