// Package pool is a bounded free list of reusable objects.
//
// Unlike sync.Pool, objects are never dropped by the garbage collector and
// the pool owns their lifetime: an object returned to a full pool is
// destroyed instead of kept.
package pool

import "sync"

// Pool holds up to a fixed number of idle objects.
type Pool[T any] struct {
	create  func() T
	destroy func(T)
	idle    []T
	mu      sync.Mutex
	cap     int
	closed  bool
}

// New returns a pool keeping at most capacity idle objects. destroy may be nil.
func New[T any](capacity int, create func() T, destroy func(T)) *Pool[T] {
	if capacity < 0 {
		capacity = 0
	}
	return &Pool[T]{create: create, destroy: destroy, cap: capacity}
}

// Get returns an idle object, or a new one when the pool is empty.
// Objects are reused most recently released first.
func (p *Pool[T]) Get() T {
	p.mu.Lock()
	if n := len(p.idle); n > 0 {
		v := p.idle[n-1]
		var zero T
		p.idle[n-1] = zero
		p.idle = p.idle[:n-1]
		p.mu.Unlock()
		return v
	}
	p.mu.Unlock()
	return p.create()
}

// Put returns v to the pool. It reports false when v was destroyed because
// the pool was full or closed.
func (p *Pool[T]) Put(v T) bool {
	p.mu.Lock()
	if !p.closed && len(p.idle) < p.cap {
		p.idle = append(p.idle, v)
		p.mu.Unlock()
		return true
	}
	p.mu.Unlock()
	if p.destroy != nil {
		p.destroy(v)
	}
	return false
}

// Len returns the number of idle objects.
func (p *Pool[T]) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.idle)
}

// Close destroys every idle object. Objects released afterwards are
// destroyed immediately.
func (p *Pool[T]) Close() {
	p.mu.Lock()
	idle := p.idle
	p.idle = nil
	p.closed = true
	p.mu.Unlock()
	if p.destroy == nil {
		return
	}
	for _, v := range idle {
		p.destroy(v)
	}
}
