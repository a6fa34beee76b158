package futures

import (
	"context"
	"reflect"
	"testing"
	"time"

	"github.com/wippyai/wasm-threads/host"
)

func runLoop(t *testing.T, l *host.Loop) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := l.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}
}

func TestQueueFlushSnapshot(t *testing.T) {
	for name, opts := range map[string][]host.Option{
		"microtask": nil,
		"promise":   {host.WithoutMicrotasks()},
	} {
		t.Run(name, func(t *testing.T) {
			l := host.New(opts...)
			q := QueueFor(l)
			if QueueFor(l) != q {
				t.Fatal("QueueFor should return the loop's queue")
			}

			var got []string
			var pendingAtLast int
			for i, name := range []string{"a", "b", "c"} {
				i, name := i, name
				q.Schedule(RunnableFunc(func() {
					got = append(got, name)
					q.Push(RunnableFunc(func() { got = append(got, name+"'") }))
					if i == 2 {
						pendingAtLast = q.Len()
					}
				}))
			}
			runLoop(t, l)

			want := []string{"a", "b", "c", "a'", "b'", "c'"}
			if !reflect.DeepEqual(got, want) {
				t.Errorf("got %v, want %v", got, want)
			}
			if pendingAtLast != 3 {
				t.Errorf("tasks queued during the flush should wait, %d pending", pendingAtLast)
			}
		})
	}
}

func TestQueuePendingFlag(t *testing.T) {
	l := host.New()
	q := QueueFor(l)
	var checked bool
	q.Schedule(RunnableFunc(func() {
		q.mu.Lock()
		cleared := !q.pending
		q.mu.Unlock()
		if !cleared {
			t.Error("pending flag should be cleared when the flush starts")
		}
		q.Schedule(RunnableFunc(func() {}))
		q.mu.Lock()
		if !q.pending {
			t.Error("scheduling during a flush should request the next flush")
		}
		q.mu.Unlock()
		checked = true
	}))
	for i := 0; i < 4; i++ {
		q.Schedule(RunnableFunc(func() {}))
	}
	q.mu.Lock()
	if !q.pending || len(q.tasks) != 5 {
		t.Errorf("pending=%v len=%d before the loop runs", q.pending, len(q.tasks))
	}
	q.mu.Unlock()

	runLoop(t, l)
	if !checked {
		t.Error("task did not run")
	}
	if q.Len() != 0 {
		t.Errorf("queue not drained: %d", q.Len())
	}
}
