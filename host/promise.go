package host

import "sync"

// Promise is a single-assignment value whose reactions run as microtasks
// on its loop. Resolve and Then are safe for concurrent use.
type Promise[T any] struct {
	loop      *Loop
	value     T
	reactions []func(T)
	mu        sync.Mutex
	settled   bool
}

// NewPromise returns a pending promise bound to l and the function that
// resolves it. Only the first resolution counts.
func NewPromise[T any](l *Loop) (*Promise[T], func(T) bool) {
	p := &Promise[T]{loop: l}
	return p, p.resolve
}

// Resolved returns a promise already holding v. Reactions attached to it
// still run asynchronously, on the next microtask checkpoint.
func Resolved[T any](l *Loop, v T) *Promise[T] {
	return &Promise[T]{loop: l, value: v, settled: true}
}

// Loop returns the loop the promise reports to.
func (p *Promise[T]) Loop() *Loop {
	return p.loop
}

// Then registers fn to run with the value once the promise settles.
func (p *Promise[T]) Then(fn func(T)) {
	p.mu.Lock()
	if !p.settled {
		p.reactions = append(p.reactions, fn)
		p.mu.Unlock()
		return
	}
	v := p.value
	p.mu.Unlock()
	p.react(fn, v)
}

// Value returns the settled value, if any.
func (p *Promise[T]) Value() (T, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.value, p.settled
}

func (p *Promise[T]) resolve(v T) bool {
	p.mu.Lock()
	if p.settled {
		p.mu.Unlock()
		return false
	}
	p.value = v
	p.settled = true
	reactions := p.reactions
	p.reactions = nil
	p.mu.Unlock()

	for _, fn := range reactions {
		p.react(fn, v)
	}
	return true
}

func (p *Promise[T]) react(fn func(T), v T) {
	if err := p.loop.enqueueMicro(func() { fn(v) }); err != nil {
		Logger().Debug("dropping promise reaction: loop terminated")
	}
}
