package atomics

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestWaitNotEqual(t *testing.T) {
	var cell atomic.Int32
	cell.Store(5)
	if got := Wait(&cell, 4, -1); got != NotEqual {
		t.Errorf("got %v, want not-equal", got)
	}
}

func TestWaitTimeout(t *testing.T) {
	var cell atomic.Int32
	start := time.Now()
	if got := Wait(&cell, 0, 10*time.Millisecond); got != TimedOut {
		t.Errorf("got %v, want timed-out", got)
	}
	if time.Since(start) < 10*time.Millisecond {
		t.Error("returned before the timeout")
	}
	if n := Notify(&cell, 1); n != 0 {
		t.Errorf("timed out waiter should be gone, notify woke %d", n)
	}
}

// untilParked polls until n waiters are parked on addr.
func untilParked(addr *atomic.Int32, n int) bool {
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		parked := 0
		if v, ok := lot.Load(addr); ok {
			w := v.(*waiters)
			w.mu.Lock()
			parked = w.l.Len()
			w.mu.Unlock()
		}
		if parked >= n {
			return true
		}
		time.Sleep(time.Millisecond)
	}
	return false
}

func waitParked(t *testing.T, addr *atomic.Int32, n int) {
	t.Helper()
	if !untilParked(addr, n) {
		t.Fatalf("%d waiters never parked", n)
	}
}

func TestWaitNotify(t *testing.T) {
	var cell atomic.Int32
	results := make(chan WaitResult, 3)
	for i := 0; i < 3; i++ {
		go func() { results <- Wait(&cell, 0, -1) }()
	}
	waitParked(t, &cell, 3)

	if n := Notify(&cell, 2); n != 2 {
		t.Errorf("Notify(2): woke %d", n)
	}
	if n := Notify(&cell, -1); n != 1 {
		t.Errorf("Notify(all): woke %d", n)
	}
	for i := 0; i < 3; i++ {
		if got := <-results; got != Ok {
			t.Errorf("waiter %d: got %v", i, got)
		}
	}
	if n := Notify(&cell, -1); n != 0 {
		t.Errorf("no waiters left, woke %d", n)
	}
	if _, ok := lot.Load(&cell); ok {
		t.Error("drained cell should leave the parking lot")
	}
}

func TestNotifyFIFO(t *testing.T) {
	var cell atomic.Int32
	var mu sync.Mutex
	var order []int
	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			Wait(&cell, 0, -1)
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
		}(i)
		waitParked(t, &cell, i+1)
	}
	for i := 0; i < 3; i++ {
		Notify(&cell, 1)
		deadline := time.Now().Add(5 * time.Second)
		for {
			mu.Lock()
			n := len(order)
			mu.Unlock()
			if n == i+1 || time.Now().After(deadline) {
				break
			}
			time.Sleep(time.Millisecond)
		}
	}
	wg.Wait()
	for i, v := range order {
		if v != i {
			t.Fatalf("wake order %v, want FIFO", order)
		}
	}
}

func TestWaitResultString(t *testing.T) {
	for r, want := range map[WaitResult]string{Ok: "ok", NotEqual: "not-equal", TimedOut: "timed-out", 9: "unknown"} {
		if r.String() != want {
			t.Errorf("%d: got %q", r, r.String())
		}
	}
}
