// Package engine runs rewritten modules on wazero.
//
// An [Engine] owns a runtime with the threads proposal enabled. [Engine.Load]
// applies the wait rewrite when a module has memory and is not rewritten
// yet, instantiates the host modules it imports and compiles it:
//
//	<import module>.__wait_clock_ns      monotonic nanoseconds
//	<import module>.__wait_spin_timeout  traps with ErrSpinTimeout
//	wasi.thread-hold                     Loop.Hold on the calling loop
//	wasi.thread-release                  Loop.Release on the calling loop
//
// The thread imports find their loop through host.FromContext, so exports
// that use them are called with [Instance.Run] or with a context built by
// host.WithLoop.
package engine
