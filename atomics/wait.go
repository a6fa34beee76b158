package atomics

import (
	"container/list"
	"sync"
	"sync/atomic"
	"time"
)

// WaitResult is the outcome of a wait, numbered like memory.atomic.wait32.
type WaitResult int32

const (
	// Ok means the waiter was woken by Notify.
	Ok WaitResult = 0
	// NotEqual means the cell did not hold the expected value.
	NotEqual WaitResult = 1
	// TimedOut means the timeout expired before a notify.
	TimedOut WaitResult = 2
)

func (r WaitResult) String() string {
	switch r {
	case Ok:
		return "ok"
	case NotEqual:
		return "not-equal"
	case TimedOut:
		return "timed-out"
	}
	return "unknown"
}

// waiter is one parked wait. woken is guarded by the owning waiters mutex.
type waiter struct {
	wake  func()
	woken bool
}

// waiters is the FIFO of waiters parked on one cell.
type waiters struct {
	addr *atomic.Int32
	l    *list.List
	mu   sync.Mutex
}

// lot maps a cell address to its waiters. An entry is removed once its
// list drains, under the list lock.
var lot sync.Map

func waitersFor(addr *atomic.Int32) *waiters {
	if w, ok := lot.Load(addr); ok {
		return w.(*waiters)
	}
	w, _ := lot.LoadOrStore(addr, &waiters{addr: addr, l: list.New()})
	return w.(*waiters)
}

// lockLive locks the current waiters of addr, retrying if the entry was
// dropped between lookup and lock.
func lockLive(addr *atomic.Int32) *waiters {
	for {
		w := waitersFor(addr)
		w.mu.Lock()
		if cur, ok := lot.Load(addr); ok && cur == w {
			return w
		}
		w.mu.Unlock()
	}
}

// park adds a waiter for addr if it still holds expected. The returned
// element is nil when the value differs.
func park(addr *atomic.Int32, expected int32, wake func()) (*waiters, *list.Element, *waiter) {
	w := lockLive(addr)
	defer w.mu.Unlock()
	if addr.Load() != expected {
		w.dropIfEmpty()
		return w, nil, nil
	}
	wt := &waiter{wake: wake}
	return w, w.l.PushBack(wt), wt
}

// unpark removes a waiter that gave up. It reports false if a notify
// already claimed it.
func (w *waiters) unpark(el *list.Element, wt *waiter) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if wt.woken {
		return false
	}
	wt.woken = true
	w.l.Remove(el)
	w.dropIfEmpty()
	return true
}

// dropIfEmpty must be called with w.mu held.
func (w *waiters) dropIfEmpty() {
	if w.l.Len() == 0 {
		lot.CompareAndDelete(w.addr, w)
	}
}

// Wait blocks the calling goroutine while addr holds expected, until a
// Notify on addr or until timeout elapses. A negative timeout waits forever.
//
// Wait must not be called from a host loop goroutine; use WaitAsync there.
func Wait(addr *atomic.Int32, expected int32, timeout time.Duration) WaitResult {
	ready := make(chan struct{})
	w, el, wt := park(addr, expected, func() { close(ready) })
	if el == nil {
		return NotEqual
	}
	if timeout < 0 {
		<-ready
		return Ok
	}

	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case <-ready:
		return Ok
	case <-t.C:
		if w.unpark(el, wt) {
			return TimedOut
		}
		<-ready
		return Ok
	}
}

// Notify wakes up to count waiters parked on addr in FIFO order and
// returns how many were woken. A negative count wakes all of them.
func Notify(addr *atomic.Int32, count int) int {
	var w *waiters
	for {
		v, ok := lot.Load(addr)
		if !ok {
			return 0
		}
		w = v.(*waiters)
		w.mu.Lock()
		if cur, ok := lot.Load(addr); ok && cur == w {
			break
		}
		w.mu.Unlock()
	}

	var woken []*waiter
	for count < 0 || len(woken) < count {
		el := w.l.Front()
		if el == nil {
			break
		}
		wt := w.l.Remove(el).(*waiter)
		wt.woken = true
		woken = append(woken, wt)
	}
	w.dropIfEmpty()
	w.mu.Unlock()

	for _, wt := range woken {
		wt.wake()
	}
	return len(woken)
}
