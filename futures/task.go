package futures

import (
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/wippyai/wasm-threads/atomics"
	"github.com/wippyai/wasm-threads/config"
	"github.com/wippyai/wasm-threads/host"
)

// pollable is a future with its output discarded.
type pollable interface {
	poll(cx *Context) bool
}

type erased[T any] struct {
	f Future[T]
}

func (e erased[T]) poll(cx *Context) bool {
	return e.f.Poll(cx).Ready
}

// taskState is either *running or completed. Moving to completed is the
// only place a task releases its future and waker.
type taskState interface {
	isTaskState()
}

type running struct {
	fut   pollable
	waker Waker
}

type completed struct{}

func (*running) isTaskState()  {}
func (completed) isTaskState() {}

// singleTask is polled on its loop and re-queued there when woken, from
// any goroutine.
type singleTask struct {
	state taskState
	loop  *host.Loop
}

func newSingleTask(l *host.Loop, fut pollable) *singleTask {
	t := &singleTask{loop: l}
	q := QueueFor(l)
	t.state = &running{fut: fut, waker: WakerFunc(func() { q.Schedule(t) })}
	return t
}

// Run polls the task once. Runs after completion return immediately.
func (t *singleTask) Run() {
	r, ok := t.state.(*running)
	if !ok {
		return
	}
	if r.fut.poll(NewContext(r.waker, t.loop)) {
		t.state = completed{}
		r.waker.Drop()
	}
}

// Wake flag values of a multiTask.
const (
	sleeping int32 = 0
	awake    int32 = 1
)

// multiTask can be woken from any goroutine. Wakers flip an atomic flag and
// notify it; the task itself waits on the flag asynchronously, so the
// notification always resumes it on its own loop.
type multiTask struct {
	state   taskState
	loop    *host.Loop
	notify  func(addr *atomic.Int32, count int) int
	waitFor func(l *host.Loop, addr *atomic.Int32, expected int32, timeout time.Duration) *host.Promise[atomics.WaitResult]
	flag    atomic.Int32
	timeout time.Duration

	// lastTimedOut suppresses the spurious wakeup diagnostic after a
	// bounded polyfill wait expired.
	lastTimedOut bool
}

func newMultiTask(l *host.Loop, fut pollable) *multiTask {
	t := &multiTask{
		loop:    l,
		notify:  atomics.Notify,
		waitFor: atomics.WaitAsync,
		timeout: -1,
	}
	if !atomics.WaitAsyncAvailable() {
		if d := config.Get().PolyfillTimeout; d > 0 {
			t.timeout = d
		}
	}
	t.flag.Store(awake)
	t.state = &running{fut: fut, waker: WakerFunc(t.wake)}
	return t
}

// wake coalesces: only a sleeping to awake transition issues a notify.
func (t *multiTask) wake() {
	if t.flag.Swap(awake) == sleeping {
		t.notify(&t.flag, 1)
	}
}

// Run polls until the future is pending with the flag still sleeping,
// then parks on the flag.
func (t *multiTask) Run() {
	for {
		r, ok := t.state.(*running)
		if !ok {
			return
		}

		prev := t.flag.Swap(sleeping)
		if prev != awake && !t.lastTimedOut {
			Logger().Warn("spurious wakeup",
				zap.Uint64("loop", t.loop.ID()),
				zap.Int32("prev", prev),
				zap.Int32("want", awake))
		}
		t.lastTimedOut = false

		if r.fut.poll(NewContext(r.waker, t.loop)) {
			t.state = completed{}
			r.waker.Drop()
			return
		}

		p := t.waitFor(t.loop, &t.flag, sleeping, t.timeout)
		if p == nil {
			// woken between the swap and the wait
			continue
		}
		p.Then(func(res atomics.WaitResult) {
			t.lastTimedOut = res == atomics.TimedOut
			t.Run()
		})
		return
	}
}
