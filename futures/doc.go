// Package futures runs poll-based computations on a host loop.
//
// A [Future] reports progress through [Poll]. Spawned futures are wrapped
// in tasks that are polled on the loop's [Queue]; a pending future keeps a
// clone of its [Waker] and calls it when it can make progress.
//
// Two task kinds exist. Single-thread tasks re-queue themselves when woken.
// Multi-thread tasks flip an atomic flag and wait on it with
// atomics.WaitAsync, so a wake from any goroutine resumes the task on its
// own loop; repeated wakes while already awake issue a single notify.
//
// Panics raised while polling are not recovered here.
package futures
