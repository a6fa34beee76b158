package futures

import (
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/wippyai/wasm-threads/atomics"
	"github.com/wippyai/wasm-threads/host"
)

// counting is ready after `after` polls and counts every poll.
type counting struct {
	polls int
	after int
}

func (c *counting) Poll(cx *Context) Poll[int] {
	c.polls++
	if c.polls >= c.after {
		return Ready(c.polls)
	}
	cx.Waker().WakeByRef()
	return Pending[int]()
}

func TestSingleTaskReentryAfterCompletion(t *testing.T) {
	l := host.New()
	f := &counting{after: 1}
	task := newSingleTask(l, erased[int]{f: f})

	task.Run()
	if _, ok := task.state.(completed); !ok {
		t.Fatal("task should be completed")
	}
	task.Run()
	task.Run()
	if f.polls != 1 {
		t.Errorf("polls after completion: %d", f.polls)
	}
}

func TestSpawnLocalRepolls(t *testing.T) {
	l := host.New()
	f := &counting{after: 3}
	SpawnLocal[int](l, f)
	runLoop(t, l)
	if f.polls != 3 {
		t.Errorf("polls: got %d, want 3", f.polls)
	}
}

func TestMultiTaskWakeCoalesces(t *testing.T) {
	l := host.New()
	task := newMultiTask(l, erased[int]{f: &counting{after: 1}})
	notifies := 0
	task.notify = func(*atomic.Int32, int) int {
		notifies++
		return 0
	}

	task.wake()
	if notifies != 0 {
		t.Error("waking an awake task must not notify")
	}

	task.flag.Store(sleeping)
	task.wake()
	task.wake()
	task.wake()
	if notifies != 1 {
		t.Errorf("notifies: got %d, want 1", notifies)
	}

	task.flag.Store(sleeping)
	task.wake()
	if notifies != 2 {
		t.Errorf("notifies after a new sleep: got %d, want 2", notifies)
	}
}

// external is pending until set from another goroutine.
type external struct {
	waker atomic.Pointer[Waker]
	done  atomic.Bool
	polls atomic.Int32
}

func (e *external) Poll(cx *Context) Poll[struct{}] {
	e.polls.Add(1)
	if e.done.Load() {
		return Ready(struct{}{})
	}
	w := cx.Waker().Clone()
	if old := e.waker.Swap(&w); old != nil {
		(*old).Drop()
	}
	if e.done.Load() {
		return Ready(struct{}{})
	}
	return Pending[struct{}]()
}

func (e *external) complete() {
	e.done.Store(true)
	if w := e.waker.Swap(nil); w != nil {
		(*w).Wake()
	}
}

func polyfillWait(l *host.Loop, addr *atomic.Int32, expected int32, timeout time.Duration) *host.Promise[atomics.WaitResult] {
	if addr.Load() != expected {
		return nil
	}
	return atomics.Polyfill(l).Wait(addr, expected, timeout)
}

func TestMultiTaskCrossGoroutineWake(t *testing.T) {
	for name, wait := range map[string]func(*host.Loop, *atomic.Int32, int32, time.Duration) *host.Promise[atomics.WaitResult]{
		"native":   atomics.WaitAsync,
		"polyfill": polyfillWait,
	} {
		t.Run(name, func(t *testing.T) {
			l := host.New()
			f := &external{}
			task := newMultiTask(l, erased[struct{}]{f: f})
			task.waitFor = wait
			QueueFor(l).Schedule(task)

			go func() {
				for f.waker.Load() == nil {
					time.Sleep(time.Millisecond)
				}
				time.Sleep(5 * time.Millisecond)
				f.complete()
			}()
			runLoop(t, l)

			if !f.done.Load() {
				t.Fatal("future did not complete")
			}
			if _, ok := task.state.(completed); !ok {
				t.Error("task should be completed")
			}
			if f.polls.Load() < 2 {
				t.Errorf("polls: %d", f.polls.Load())
			}
		})
	}
}

func TestMultiTaskSpuriousWakeupLogged(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	SetLogger(zap.New(core))
	defer SetLogger(nil)

	l := host.New()
	task := newMultiTask(l, erased[int]{f: &counting{after: 3}})
	spurious := true
	task.waitFor = func(l *host.Loop, addr *atomic.Int32, expected int32, timeout time.Duration) *host.Promise[atomics.WaitResult] {
		if spurious {
			spurious = false
			addr.Store(sleeping)
			return host.Resolved(l, atomics.Ok)
		}
		return atomics.WaitAsync(l, addr, expected, timeout)
	}
	QueueFor(l).Schedule(task)
	runLoop(t, l)

	if _, ok := task.state.(completed); !ok {
		t.Fatal("task should complete despite the spurious wakeup")
	}
	if n := logs.FilterMessage("spurious wakeup").Len(); n != 1 {
		t.Errorf("spurious wakeup logs: %d", n)
	}
}

func TestMultiTaskTimedOutWaitIsNotSpurious(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	SetLogger(zap.New(core))
	defer SetLogger(nil)

	l := host.New()
	f := &external{}
	task := newMultiTask(l, erased[struct{}]{f: f})
	task.timeout = 2 * time.Millisecond
	task.waitFor = polyfillWait
	QueueFor(l).Schedule(task)
	go func() {
		time.Sleep(20 * time.Millisecond)
		f.complete()
	}()
	runLoop(t, l)

	if f.polls.Load() < 3 {
		t.Errorf("timed out waits should re-poll, polls=%d", f.polls.Load())
	}
	if logs.Len() != 0 {
		t.Errorf("unexpected warnings: %v", logs.All())
	}
}
