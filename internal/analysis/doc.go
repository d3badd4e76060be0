// Package analysis turns free text into a movement set by asking a text
// generator for a movement description and recovering it from the reply.
//
// Each attempt runs the same pipeline:
//
//	prompt ──▶ Generator.Generate ──▶ extract.Extract ──▶ schema check ──▶ motion.ParseMovementSet
//
// Any stage failing fails the attempt. The Analyzer retries failed attempts
// up to Config.MaxRetries times with a fixed backoff between them, and the
// first successful attempt wins. Attempts are strictly sequential.
//
// Completed analyses can be stored through Repository; SQLiteRepository
// keeps them in the analyses table so they can be listed and replayed.
package analysis
