package host

import (
	"container/heap"
	"context"
	"errors"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

var (
	// ErrLoopRunning is returned by Run when the loop is already running.
	ErrLoopRunning = errors.New("host: loop is already running")

	// ErrLoopTerminated is returned when scheduling onto a loop that exited.
	ErrLoopTerminated = errors.New("host: loop has been terminated")

	// ErrNoMicrotask is returned by QueueMicrotask when the loop was built
	// without a microtask primitive.
	ErrNoMicrotask = errors.New("host: microtasks are not available")

	// ErrAlreadyHeld is returned by Hold when the loop is already held.
	ErrAlreadyHeld = errors.New("host: thread is already held")

	// ErrNotHeld is returned by Release without a matching Hold.
	ErrNotHeld = errors.New("host: thread is not held")
)

const (
	stateIdle int32 = iota
	stateRunning
	stateTerminated
)

var loopIDCounter atomic.Uint64

// Loop is a cooperative event loop driven by a single goroutine.
//
// Each iteration runs expired timers, then queued macrotasks in FIFO order,
// draining microtasks after every macrotask. The loop exits when the context
// is done, or when it is neither held nor referenced and has no queued work
// or pending timers.
//
// Scheduling methods are safe for concurrent use; callbacks always run on
// the goroutine that called Run.
type Loop struct {
	values map[any]any
	wake   chan struct{}
	onExit []func()

	micro  []func()
	macro  []func()
	timers timerHeap

	mu    sync.Mutex
	id    uint64
	refs  int
	state atomic.Int32

	held         bool
	noMicrotasks bool
}

// Option configures a Loop.
type Option func(*Loop)

// WithoutMicrotasks builds a loop whose QueueMicrotask always fails, as in
// hosts that only offer promise reactions for deferred work.
func WithoutMicrotasks() Option {
	return func(l *Loop) {
		l.noMicrotasks = true
	}
}

// New creates an idle loop.
func New(opts ...Option) *Loop {
	l := &Loop{
		id:     loopIDCounter.Add(1),
		values: make(map[any]any),
		wake:   make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// ID returns a process-unique loop identifier.
func (l *Loop) ID() uint64 {
	return l.id
}

// HasMicrotask reports whether QueueMicrotask is available.
func (l *Loop) HasMicrotask() bool {
	return !l.noMicrotasks
}

// QueueMicrotask runs fn after the current callback, before any further
// macrotask or timer.
func (l *Loop) QueueMicrotask(fn func()) error {
	if l.noMicrotasks {
		return ErrNoMicrotask
	}
	return l.enqueueMicro(fn)
}

// enqueueMicro is the microtask path used by promise reactions. It is
// available even without the public primitive.
func (l *Loop) enqueueMicro(fn func()) error {
	l.mu.Lock()
	if l.state.Load() == stateTerminated {
		l.mu.Unlock()
		return ErrLoopTerminated
	}
	l.micro = append(l.micro, fn)
	l.mu.Unlock()
	l.signal()
	return nil
}

// Post queues fn as a macrotask.
func (l *Loop) Post(fn func()) error {
	l.mu.Lock()
	if l.state.Load() == stateTerminated {
		l.mu.Unlock()
		return ErrLoopTerminated
	}
	l.macro = append(l.macro, fn)
	l.mu.Unlock()
	l.signal()
	return nil
}

// Hold keeps the loop alive after its queued work is exhausted.
func (l *Loop) Hold() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held {
		return ErrAlreadyHeld
	}
	l.held = true
	return nil
}

// Release ends a Hold. The loop exits once the current callback returns
// and queued work drains.
func (l *Loop) Release() error {
	l.mu.Lock()
	if !l.held {
		l.mu.Unlock()
		return ErrNotHeld
	}
	l.held = false
	l.mu.Unlock()
	l.signal()
	return nil
}

// Held reports whether the loop is held.
func (l *Loop) Held() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.held
}

// Ref keeps the loop alive until the returned function is called, for work
// that will Post back from another goroutine. The function is idempotent.
func (l *Loop) Ref() (unref func()) {
	l.mu.Lock()
	l.refs++
	l.mu.Unlock()
	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			l.refs--
			l.mu.Unlock()
			l.signal()
		})
	}
}

// Value returns the loop-local value for key, creating it with init on
// first use. init runs without the loop lock and may call back into the
// loop. When two callers race, the first stored value wins.
func (l *Loop) Value(key any, init func() any) any {
	l.mu.Lock()
	v, ok := l.values[key]
	l.mu.Unlock()
	if ok || init == nil {
		return v
	}

	created := init()
	l.mu.Lock()
	defer l.mu.Unlock()
	if v, ok := l.values[key]; ok {
		return v
	}
	l.values[key] = created
	return created
}

// OnExit registers fn to run on the loop goroutine when Run returns.
// Hooks run in registration order.
func (l *Loop) OnExit(fn func()) {
	l.mu.Lock()
	l.onExit = append(l.onExit, fn)
	l.mu.Unlock()
}

// Terminated reports whether Run has returned.
func (l *Loop) Terminated() bool {
	return l.state.Load() == stateTerminated
}

func (l *Loop) signal() {
	select {
	case l.wake <- struct{}{}:
	default:
	}
}

// Run drives the loop on the calling goroutine, locked to its OS thread,
// until it exits. A loop runs at most once.
//
// Panics raised by callbacks are not recovered; they terminate the loop
// and unwind through Run.
func (l *Loop) Run(ctx context.Context) error {
	if !l.state.CompareAndSwap(stateIdle, stateRunning) {
		if l.state.Load() == stateTerminated {
			return ErrLoopTerminated
		}
		return ErrLoopRunning
	}
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	defer l.terminate()

	log := Logger().With(zap.Uint64("loop", l.id))
	log.Debug("loop started")

	for {
		l.runTimers()
		l.runMacrotasks()
		l.drainMicrotasks()

		if err := ctx.Err(); err != nil {
			log.Debug("loop cancelled", zap.Error(err))
			return err
		}

		l.mu.Lock()
		idle := len(l.macro) == 0 && len(l.micro) == 0
		if idle && !l.held && l.refs == 0 && len(l.timers) == 0 {
			l.state.Store(stateTerminated)
			l.mu.Unlock()
			log.Debug("loop finished")
			return nil
		}
		var deadline <-chan time.Time
		var tm *time.Timer
		if idle && len(l.timers) > 0 {
			tm = time.NewTimer(time.Until(l.timers[0].when))
			deadline = tm.C
		}
		l.mu.Unlock()

		if !idle {
			continue
		}
		select {
		case <-l.wake:
		case <-deadline:
		case <-ctx.Done():
		}
		if tm != nil {
			tm.Stop()
		}
	}
}

func (l *Loop) terminate() {
	l.mu.Lock()
	l.state.Store(stateTerminated)
	l.micro = nil
	l.macro = nil
	l.timers = nil
	hooks := l.onExit
	l.onExit = nil
	l.mu.Unlock()

	for _, fn := range hooks {
		fn()
	}
}

func (l *Loop) runMacrotasks() {
	l.mu.Lock()
	tasks := l.macro
	l.macro = nil
	l.mu.Unlock()

	for i, fn := range tasks {
		tasks[i] = nil
		fn()
		l.drainMicrotasks()
	}
}

// drainMicrotasks runs microtasks until the queue is empty, including
// those queued while draining.
func (l *Loop) drainMicrotasks() {
	for {
		l.mu.Lock()
		if len(l.micro) == 0 {
			l.mu.Unlock()
			return
		}
		fn := l.micro[0]
		l.micro[0] = nil
		l.micro = l.micro[1:]
		l.mu.Unlock()
		fn()
	}
}

func (l *Loop) runTimers() {
	now := time.Now()
	for {
		l.mu.Lock()
		if len(l.timers) == 0 || l.timers[0].when.After(now) {
			l.mu.Unlock()
			return
		}
		t := heap.Pop(&l.timers).(*Timer)
		t.index = -1
		l.mu.Unlock()
		t.fn()
		l.drainMicrotasks()
	}
}
