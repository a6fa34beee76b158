// Package host provides the cooperative event loop that tasks run on.
//
// A [Loop] owns one goroutine while running and never blocks it on guest
// work: computations that must wait register callbacks and return. Work
// enters the loop through macrotasks ([Loop.Post]), timers
// ([Loop.AfterFunc]), microtasks ([Loop.QueueMicrotask]) and promise
// reactions ([Promise.Then]).
//
// A loop started for a thread is kept alive with [Loop.Hold] until the
// thread's entry point calls [Loop.Release]. Work that completes on another
// goroutine keeps the loop alive through [Loop.Ref].
//
//	l := host.New()
//	_ = l.Post(func() { fmt.Println("tick") })
//	_ = l.Run(ctx)
package host
