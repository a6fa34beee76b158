package atomics

import (
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/wippyai/wasm-threads/config"
	"github.com/wippyai/wasm-threads/host"
)

var (
	availableOnce sync.Once
	available     bool
)

// WaitAsyncAvailable reports whether the native asynchronous wait is used.
// It is computed once; setting WASM_THREADS_DISABLE_WAIT_ASYNC switches
// every loop to the helper polyfill.
func WaitAsyncAvailable() bool {
	availableOnce.Do(func() {
		available = !config.Get().DisableWaitAsync
	})
	return available
}

// WaitAsync waits for a Notify on addr without blocking the loop. It returns
// nil when addr no longer holds expected; otherwise the promise resolves on
// l with Ok or TimedOut. A negative timeout waits forever.
//
// The native path parks an asynchronous waiter; with the polyfill a helper
// goroutine from the loop's pool performs a blocking Wait instead.
func WaitAsync(l *host.Loop, addr *atomic.Int32, expected int32, timeout time.Duration) *host.Promise[WaitResult] {
	if !WaitAsyncAvailable() {
		if addr.Load() != expected {
			return nil
		}
		return Polyfill(l).Wait(addr, expected, timeout)
	}
	return waitAsyncNative(l, addr, expected, timeout)
}

func waitAsyncNative(l *host.Loop, addr *atomic.Int32, expected int32, timeout time.Duration) *host.Promise[WaitResult] {
	p, resolve := host.NewPromise[WaitResult](l)
	unref := l.Ref()

	var (
		mu    sync.Mutex
		timer *host.Timer
		woken bool
	)
	w, el, wt := park(addr, expected, func() {
		mu.Lock()
		woken = true
		t := timer
		mu.Unlock()
		if t != nil {
			t.Stop()
		}
		resolve(Ok)
		unref()
	})
	if el == nil {
		unref()
		return nil
	}
	if timeout < 0 {
		return p
	}

	t, err := l.AfterFunc(timeout, func() {
		if w.unpark(el, wt) {
			resolve(TimedOut)
			unref()
		}
	})
	if err != nil {
		Logger().Debug("wait timeout not armed", zap.Error(err))
		return p
	}
	mu.Lock()
	timer = t
	done := woken
	mu.Unlock()
	if done {
		t.Stop()
	}
	return p
}
