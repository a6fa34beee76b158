// Package atomics implements 32-bit wait and notify on *atomic.Int32 cells.
//
// [Wait] parks the calling goroutine; it is for threads that may block.
// Code running on a host loop uses [WaitAsync] instead, which returns a
// promise resolved on the loop when the cell is notified. When the native
// asynchronous wait is disabled, WaitAsync falls back to a per-loop pool of
// helper goroutines that perform the blocking wait and post the result back
// ([Polyfill]).
//
// Waiters are woken in FIFO order per cell, matching memory.atomic.notify.
package atomics
