package thread

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/wippyai/wasm-threads/futures"
)

func joinCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func pendingUntil(done *atomic.Bool, v int) futures.Future[int] {
	return futures.FutureFunc[int](func(cx *futures.Context) futures.Poll[int] {
		if done.Load() {
			return futures.Ready(v)
		}
		w := cx.Waker().Clone()
		go func() {
			time.Sleep(time.Millisecond)
			w.Wake()
		}()
		return futures.Pending[int]()
	})
}

func TestSpawnValue(t *testing.T) {
	h := Spawn(func() futures.Future[int] { return futures.Value(5) })
	v, err := h.Join(joinCtx(t))
	if err != nil || v != 5 {
		t.Errorf("got %d %v, want 5", v, err)
	}
}

func TestSpawnSleep(t *testing.T) {
	h := Spawn(func() futures.Future[string] {
		sleep := futures.Sleep(5 * time.Millisecond)
		return futures.FutureFunc[string](func(cx *futures.Context) futures.Poll[string] {
			if !sleep.Poll(cx).Ready {
				return futures.Pending[string]()
			}
			return futures.Ready("done")
		})
	})
	v, err := h.Join(joinCtx(t))
	if err != nil || v != "done" {
		t.Errorf("got %q %v", v, err)
	}
}

func TestSpawnPanic(t *testing.T) {
	h := Spawn(func() futures.Future[int] {
		return futures.FutureFunc[int](func(*futures.Context) futures.Poll[int] {
			panic("boom")
		})
	})
	_, err := h.Join(joinCtx(t))
	var je *JoinError
	if !errors.As(err, &je) {
		t.Fatalf("got %v, want JoinError", err)
	}
	if !je.IsPanic() || je.IsCancelled() || je.IsFailed() {
		t.Errorf("unexpected state: %v", je)
	}
	if je.PanicMessage() != "boom" {
		t.Errorf("PanicMessage: %q", je.PanicMessage())
	}
	if v, ok := je.Panic(); !ok || v != "boom" {
		t.Errorf("Panic: %v %v", v, ok)
	}
	if je.Error() != "task panicked with message boom" {
		t.Errorf("Error: %q", je.Error())
	}
	if !strings.Contains(string(je.Stack()), "goroutine") {
		t.Error("stack not captured")
	}
	if !errors.Is(err, ErrPanicked) {
		t.Error("errors.Is(ErrPanicked)")
	}
}

func TestSpawnPanicWithoutMessage(t *testing.T) {
	h := Spawn(func() futures.Future[int] {
		return futures.FutureFunc[int](func(*futures.Context) futures.Poll[int] {
			panic(42)
		})
	})
	_, err := h.Join(joinCtx(t))
	if err == nil || err.Error() != "task panicked" {
		t.Errorf("got %v", err)
	}
}

func TestAbortBeforeCompletion(t *testing.T) {
	var done atomic.Bool
	h := Spawn(func() futures.Future[int] { return pendingUntil(&done, 1) })
	time.Sleep(5 * time.Millisecond)
	h.Abort()

	_, err := h.Join(joinCtx(t))
	if !errors.Is(err, ErrCancelled) {
		t.Fatalf("got %v, want cancelled", err)
	}
	if err.Error() != "task was cancelled" {
		t.Errorf("Error: %q", err.Error())
	}
	done.Store(true)
}

func TestAbortAfterCompletion(t *testing.T) {
	h := Spawn(func() futures.Future[int] { return futures.Value(7) })
	ctx := joinCtx(t)
	v, err := h.Join(ctx)
	if err != nil || v != 7 {
		t.Fatalf("got %d %v", v, err)
	}
	h.Abort()
	v, err = h.Join(ctx)
	if err != nil || v != 7 {
		t.Errorf("result changed after abort: %d %v", v, err)
	}
}

func TestSpawnFactoryPanicFails(t *testing.T) {
	h := Spawn(func() futures.Future[int] { panic("no future") })
	_, err := h.Join(joinCtx(t))
	var je *JoinError
	if !errors.As(err, &je) || !je.IsFailed() {
		t.Fatalf("got %v, want failed", err)
	}
	if je.Error() != "task failed" {
		t.Errorf("Error: %q", je.Error())
	}
	if _, ok := je.Panic(); ok {
		t.Error("failed join should not carry a panic")
	}
}

func TestJoinHandleAsFuture(t *testing.T) {
	res, err := futures.BlockOn(joinCtx(t), futures.Future[Result[int]](
		Spawn(func() futures.Future[int] { return futures.Value(11) })))
	if err != nil {
		t.Fatalf("BlockOn: %v", err)
	}
	if res.Err != nil || res.Value != 11 {
		t.Errorf("got %+v", res)
	}
}

func TestJoinContextDone(t *testing.T) {
	var done atomic.Bool
	defer done.Store(true)
	h := Spawn(func() futures.Future[int] { return pendingUntil(&done, 1) })
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Millisecond)
	defer cancel()
	if _, err := h.Join(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("got %v", err)
	}
}
