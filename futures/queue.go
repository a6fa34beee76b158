package futures

import (
	"sync"

	"go.uber.org/zap"

	"github.com/wippyai/wasm-threads/host"
)

// Runnable is a unit of work run by a Queue.
type Runnable interface {
	Run()
}

// RunnableFunc adapts a function to Runnable.
type RunnableFunc func()

// Run calls f.
func (f RunnableFunc) Run() { f() }

// Queue is the ready-task queue of one loop. It asks the loop for a flush
// on the next tick whenever work is added and no flush is pending.
//
// A flush runs at most the number of tasks queued when it started; tasks
// added while it runs wait for the next flush.
type Queue struct {
	loop  *host.Loop
	tasks []Runnable
	mu    sync.Mutex

	pending      bool
	useMicrotask bool
}

type queueKey struct{}

// QueueFor returns the queue of l, creating it on first use.
func QueueFor(l *host.Loop) *Queue {
	return l.Value(queueKey{}, func() any {
		return &Queue{loop: l, useMicrotask: l.HasMicrotask()}
	}).(*Queue)
}

// Schedule appends t and requests a flush if none is pending. It is safe
// to call from any goroutine; t always runs on the loop.
func (q *Queue) Schedule(t Runnable) {
	q.mu.Lock()
	q.tasks = append(q.tasks, t)
	if q.pending {
		q.mu.Unlock()
		return
	}
	q.pending = true
	q.mu.Unlock()
	q.requestFlush()
}

// Push is Schedule. Work pushed during a flush runs in the next one.
func (q *Queue) Push(t Runnable) {
	q.Schedule(t)
}

// Len returns the number of queued tasks.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.tasks)
}

func (q *Queue) requestFlush() {
	if q.useMicrotask {
		if err := q.loop.QueueMicrotask(q.flush); err != nil {
			Logger().Debug("queue flush not scheduled", zap.Error(err))
		}
		return
	}
	host.Resolved(q.loop, struct{}{}).Then(func(struct{}) { q.flush() })
}

func (q *Queue) flush() {
	q.mu.Lock()
	q.pending = false
	n := len(q.tasks)
	q.mu.Unlock()

	for i := 0; i < n; i++ {
		q.mu.Lock()
		if len(q.tasks) == 0 {
			q.mu.Unlock()
			return
		}
		t := q.tasks[0]
		q.tasks[0] = nil
		q.tasks = q.tasks[1:]
		q.mu.Unlock()
		t.Run()
	}
}
