// Package wasmthreads runs poll-based tasks cooperatively on host loops and
// rewrites WebAssembly modules so their atomic waits are safe to execute on
// threads that must not block.
//
// # Architecture Overview
//
//	wasmthreads/         Root package with the version
//	├── host/            Event loop: microtasks, macrotasks, timers, promises, hold/release
//	├── atomics/         32-bit wait/notify, asynchronous wait and its helper polyfill
//	├── futures/         Futures, wakers, the microtask task queue, Spawn and BlockOn
//	├── thread/          Futures on dedicated OS threads with join and abort
//	├── waitxform/       Rewrite pass replacing memory.atomic.wait32
//	├── wasm/            Section-preserving binary module IR
//	├── engine/          wazero integration for rewritten modules
//	├── config/          Process settings from the environment and TOML
//	├── errors/          Structured errors with phase and kind
//	└── cmd/waitxform/   Command line front end
//
// # Tasks
//
// A spawned future becomes a task on its loop's queue. Single-thread tasks
// re-queue themselves when woken. Multi-thread tasks keep an atomic wake
// flag; a waker on any goroutine flips it and notifies, and the task
// resumes on its loop through an asynchronous wait on the flag. Where no
// native asynchronous wait exists a pooled helper goroutine performs a
// blocking wait on the loop's behalf.
//
// # Rewrite pass
//
// Threads that must not block, such as a browser main thread, cannot run
// memory.atomic.wait32. The pass routes every wait through a generated
// dispatcher that spins while the exported wait_prohibited global is set
// and waits natively otherwise.
package wasmthreads
