// Package oneshot provides a single-value channel whose receiver is a
// future. The receiver learns whether the sender delivered a value or went
// away without one.
package oneshot

import (
	"context"
	"sync"

	"github.com/wippyai/wasm-threads/futures"
)

// Outcome is what a Receiver resolves to. OK is false when the Sender was
// closed without sending.
type Outcome[T any] struct {
	Value T
	OK    bool
}

type shared[T any] struct {
	mu       sync.Mutex
	value    T
	sent     bool
	closed   bool
	dropped  bool
	waker    futures.Waker
	done     chan struct{}
	doneOnce sync.Once
}

func (s *shared[T]) finish() {
	s.doneOnce.Do(func() { close(s.done) })
}

// Sender delivers at most one value.
type Sender[T any] struct {
	s *shared[T]
}

// Receiver is a future over the value sent, usable from one task at a time.
type Receiver[T any] struct {
	s *shared[T]
}

// New returns a connected pair.
func New[T any]() (*Sender[T], *Receiver[T]) {
	s := &shared[T]{done: make(chan struct{})}
	return &Sender[T]{s: s}, &Receiver[T]{s: s}
}

// Send stores v and wakes the receiver. It returns false if a value was
// already sent, the sender was closed or the receiver is gone.
func (tx *Sender[T]) Send(v T) bool {
	s := tx.s
	s.mu.Lock()
	if s.sent || s.closed || s.dropped {
		s.mu.Unlock()
		return false
	}
	s.value = v
	s.sent = true
	w := s.waker
	s.waker = nil
	s.mu.Unlock()

	s.finish()
	if w != nil {
		w.Wake()
	}
	return true
}

// Close drops the sender. A receiver still waiting resolves with OK false.
func (tx *Sender[T]) Close() {
	s := tx.s
	s.mu.Lock()
	if s.sent || s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	w := s.waker
	s.waker = nil
	s.mu.Unlock()

	s.finish()
	if w != nil {
		w.Wake()
	}
}

// Canceled reports whether the receiver was closed.
func (tx *Sender[T]) Canceled() bool {
	tx.s.mu.Lock()
	defer tx.s.mu.Unlock()
	return tx.s.dropped
}

// Poll implements futures.Future.
func (rx *Receiver[T]) Poll(cx *futures.Context) futures.Poll[Outcome[T]] {
	s := rx.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sent {
		return futures.Ready(Outcome[T]{Value: s.value, OK: true})
	}
	if s.closed {
		return futures.Ready(Outcome[T]{})
	}
	if s.waker != nil {
		s.waker.Drop()
	}
	s.waker = cx.Waker().Clone()
	return futures.Pending[Outcome[T]]()
}

// TryRecv returns the outcome if the channel has settled.
func (rx *Receiver[T]) TryRecv() (Outcome[T], bool) {
	s := rx.s
	s.mu.Lock()
	defer s.mu.Unlock()
	switch {
	case s.sent:
		return Outcome[T]{Value: s.value, OK: true}, true
	case s.closed:
		return Outcome[T]{}, true
	}
	return Outcome[T]{}, false
}

// Recv blocks the calling goroutine until the channel settles or ctx is
// done. It must not be called from a loop goroutine that the sender needs.
func (rx *Receiver[T]) Recv(ctx context.Context) (Outcome[T], error) {
	select {
	case <-rx.s.done:
	case <-ctx.Done():
		return Outcome[T]{}, ctx.Err()
	}
	out, _ := rx.TryRecv()
	return out, nil
}

// Close drops the receiver. Later sends fail and a stored waker is
// released.
func (rx *Receiver[T]) Close() {
	s := rx.s
	s.mu.Lock()
	s.dropped = true
	w := s.waker
	s.waker = nil
	s.mu.Unlock()
	if w != nil {
		w.Drop()
	}
}
