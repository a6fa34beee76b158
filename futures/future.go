package futures

import (
	"sync"
	"time"

	"github.com/wippyai/wasm-threads/host"
)

// Poll is the result of polling a Future.
type Poll[T any] struct {
	Value T
	Ready bool
}

// Ready returns a completed poll holding v.
func Ready[T any](v T) Poll[T] {
	return Poll[T]{Value: v, Ready: true}
}

// Pending returns a poll that is not complete.
func Pending[T any]() Poll[T] {
	return Poll[T]{}
}

// Context is passed to Poll. The waker it carries is borrowed: a future
// that needs to be woken later must Clone it.
type Context struct {
	waker Waker
	loop  *host.Loop
}

// NewContext returns a poll context for waker on loop l.
func NewContext(waker Waker, l *host.Loop) *Context {
	return &Context{waker: waker, loop: l}
}

// Waker returns the waker of the task being polled.
func (c *Context) Waker() Waker {
	return c.waker
}

// Loop returns the loop the task runs on.
func (c *Context) Loop() *host.Loop {
	return c.loop
}

// Future is a suspended computation. Poll must not block: when the value
// is not available it arranges for the context's waker to be called and
// returns Pending.
type Future[T any] interface {
	Poll(cx *Context) Poll[T]
}

// FutureFunc adapts a poll function to Future.
type FutureFunc[T any] func(cx *Context) Poll[T]

// Poll calls f.
func (f FutureFunc[T]) Poll(cx *Context) Poll[T] {
	return f(cx)
}

// Value returns a future that is immediately ready with v.
func Value[T any](v T) Future[T] {
	return FutureFunc[T](func(*Context) Poll[T] { return Ready(v) })
}

// YieldNow returns a future that is pending once, waking itself, and then
// ready.
func YieldNow() Future[struct{}] {
	yielded := false
	return FutureFunc[struct{}](func(cx *Context) Poll[struct{}] {
		if yielded {
			return Ready(struct{}{})
		}
		yielded = true
		cx.Waker().WakeByRef()
		return Pending[struct{}]()
	})
}

// promiseFuture completes with the value of a host promise.
type promiseFuture[T any] struct {
	p          *host.Promise[T]
	waker      Waker
	mu         sync.Mutex
	registered bool
}

// FromPromise returns a future that completes when p settles.
func FromPromise[T any](p *host.Promise[T]) Future[T] {
	return &promiseFuture[T]{p: p}
}

func (f *promiseFuture[T]) Poll(cx *Context) Poll[T] {
	if v, ok := f.p.Value(); ok {
		f.mu.Lock()
		w := f.waker
		f.waker = nil
		f.mu.Unlock()
		if w != nil {
			w.Drop()
		}
		return Ready(v)
	}

	f.mu.Lock()
	old := f.waker
	f.waker = cx.Waker().Clone()
	register := !f.registered
	f.registered = true
	f.mu.Unlock()
	if old != nil {
		old.Drop()
	}
	if register {
		f.p.Then(func(T) {
			f.mu.Lock()
			w := f.waker
			f.waker = nil
			f.mu.Unlock()
			if w != nil {
				w.Wake()
			}
		})
	}
	return Pending[T]()
}

// Sleep returns a future that completes after d, timed by the loop it is
// polled on.
func Sleep(d time.Duration) Future[struct{}] {
	var p *host.Promise[struct{}]
	var inner Future[struct{}]
	return FutureFunc[struct{}](func(cx *Context) Poll[struct{}] {
		if inner == nil {
			var resolve func(struct{}) bool
			p, resolve = host.NewPromise[struct{}](cx.Loop())
			if _, err := cx.Loop().AfterFunc(d, func() { resolve(struct{}{}) }); err != nil {
				resolve(struct{}{})
			}
			inner = FromPromise(p)
		}
		return inner.Poll(cx)
	})
}
