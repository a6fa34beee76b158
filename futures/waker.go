package futures

import (
	"sync"
	"sync/atomic"
)

// Waker is a handle a pending future uses to have its task polled again.
//
// Handles share a reference count. Wake consumes the handle it is called
// on; WakeByRef does not. Once the last handle is dropped the wake target
// is released. Calls on a dropped handle do nothing.
type Waker interface {
	Wake()
	WakeByRef()
	Clone() Waker
	Drop()
}

type wakerShared struct {
	target func()
	refs   atomic.Int64
	mu     sync.Mutex
}

type rcWaker struct {
	shared  *wakerShared
	dropped atomic.Bool
}

// WakerFunc returns a waker calling fn. fn may be called from any
// goroutine and more than once.
func WakerFunc(fn func()) Waker {
	s := &wakerShared{target: fn}
	s.refs.Store(1)
	return &rcWaker{shared: s}
}

func (w *rcWaker) Wake() {
	w.WakeByRef()
	w.Drop()
}

func (w *rcWaker) WakeByRef() {
	if w.dropped.Load() {
		return
	}
	w.shared.mu.Lock()
	fn := w.shared.target
	w.shared.mu.Unlock()
	if fn != nil {
		fn()
	}
}

func (w *rcWaker) Clone() Waker {
	if w.dropped.Load() {
		return NoopWaker()
	}
	w.shared.refs.Add(1)
	return &rcWaker{shared: w.shared}
}

func (w *rcWaker) Drop() {
	if w.dropped.Swap(true) {
		return
	}
	if w.shared.refs.Add(-1) == 0 {
		w.shared.mu.Lock()
		w.shared.target = nil
		w.shared.mu.Unlock()
	}
}

type noopWaker struct{}

func (noopWaker) Wake()        {}
func (noopWaker) WakeByRef()   {}
func (noopWaker) Clone() Waker { return noopWaker{} }
func (noopWaker) Drop()        {}

// NoopWaker returns a waker that does nothing.
func NoopWaker() Waker {
	return noopWaker{}
}
