// Package thread runs a future on a dedicated goroutine locked to its own
// OS thread and exposes it as an awaitable, abortable [JoinHandle].
//
// The spawned thread drives its own host loop. It holds the loop until the
// result is sent, so the loop outlives the function that built the future.
// Completion and an abort request race; the first to resolve decides the
// outcome. A panic while polling the future is caught and reported through
// [JoinError]; a thread that goes away without sending reports a failure.
package thread
