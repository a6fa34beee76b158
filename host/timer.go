package host

import (
	"container/heap"
	"time"
)

// Timer is a callback scheduled with AfterFunc.
type Timer struct {
	when  time.Time
	fn    func()
	loop  *Loop
	index int
}

type timerHeap []*Timer

func (h timerHeap) Len() int           { return len(h) }
func (h timerHeap) Less(i, j int) bool { return h[i].when.Before(h[j].when) }
func (h timerHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *timerHeap) Push(x any) {
	t := x.(*Timer)
	t.index = len(*h)
	*h = append(*h, t)
}

func (h *timerHeap) Pop() any {
	old := *h
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return t
}

// AfterFunc runs fn on the loop once d has elapsed. Pending timers keep the
// loop alive.
func (l *Loop) AfterFunc(d time.Duration, fn func()) (*Timer, error) {
	t := &Timer{when: time.Now().Add(d), fn: fn, loop: l}
	l.mu.Lock()
	if l.state.Load() == stateTerminated {
		l.mu.Unlock()
		return nil, ErrLoopTerminated
	}
	heap.Push(&l.timers, t)
	l.mu.Unlock()
	l.signal()
	return t, nil
}

// Stop cancels the timer. It reports false if the timer already fired or
// was stopped.
func (t *Timer) Stop() bool {
	l := t.loop
	l.mu.Lock()
	defer l.mu.Unlock()
	if t.index < 0 || t.index >= len(l.timers) || l.timers[t.index] != t {
		return false
	}
	heap.Remove(&l.timers, t.index)
	t.index = -1
	l.signal()
	return true
}
