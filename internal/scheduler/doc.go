// Package scheduler runs regeneration jobs from the queue with bounded
// concurrency.
//
// A single claim loop hands each claimed job to its own supervised goroutine
// and immediately looks for the next one while the limit allows. Each job is
// released exactly once: DONE on success, FAILED on error or panic, PENDING
// when interrupted by shutdown.
package scheduler
