package thread

import (
	"context"
	"runtime/debug"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/wippyai/wasm-threads/futures"
	"github.com/wippyai/wasm-threads/host"
	"github.com/wippyai/wasm-threads/internal/oneshot"
)

// Result is what a JoinHandle resolves to. Err is nil when Value is set.
type Result[T any] struct {
	Value T
	Err   *JoinError
}

// JoinHandle is an owned permission to await a spawned task. It is a
// futures.Future and can also be joined from a plain goroutine.
type JoinHandle[T any] struct {
	id     uint64
	result *oneshot.Receiver[Result[T]]
	abort  *oneshot.Sender[struct{}]
}

var threadSeq atomic.Uint64

// Spawn runs the future built by f on a new thread. f itself is called on
// that thread.
func Spawn[T any](f func() futures.Future[T]) *JoinHandle[T] {
	resultTx, resultRx := oneshot.New[Result[T]]()
	abortTx, abortRx := oneshot.New[struct{}]()
	id := threadSeq.Add(1)

	go run(id, f, resultTx, abortRx)
	return &JoinHandle[T]{id: id, result: resultRx, abort: abortTx}
}

func run[T any](id uint64, f func() futures.Future[T], tx *oneshot.Sender[Result[T]], abort *oneshot.Receiver[struct{}]) {
	log := Logger().With(zap.Uint64("thread", id))
	defer func() {
		if v := recover(); v != nil {
			log.Error("thread failed", zap.Any("panic", v))
		}
		// no-op once a result was sent
		tx.Close()
	}()

	l := host.New()
	if err := l.Hold(); err != nil {
		log.Error("hold thread", zap.Error(err))
		return
	}
	futures.Spawn[struct{}](l, &joinTask[T]{f: f, tx: tx, abort: abort, loop: l})

	log.Debug("thread started", zap.Uint64("loop", l.ID()))
	if err := l.Run(host.WithLoop(context.Background(), l)); err != nil {
		log.Error("thread loop", zap.Error(err))
	}
}

// joinTask races the user future against the abort signal. The future is
// polled first on every wake.
type joinTask[T any] struct {
	f         func() futures.Future[T]
	fut       futures.Future[T]
	tx        *oneshot.Sender[Result[T]]
	abort     *oneshot.Receiver[struct{}]
	abortGone bool
	loop      *host.Loop
}

func (t *joinTask[T]) Poll(cx *futures.Context) futures.Poll[struct{}] {
	if t.fut == nil {
		t.fut = t.f()
	}

	if res, ok := t.pollFuture(cx); ok {
		return t.finish(res)
	}

	if !t.abortGone {
		if p := t.abort.Poll(cx); p.Ready {
			if p.Value.OK {
				return t.finish(Result[T]{Err: errAborted})
			}
			// handle dropped its abort side; stop watching it
			t.abortGone = true
		}
	}
	return futures.Pending[struct{}]()
}

func (t *joinTask[T]) pollFuture(cx *futures.Context) (res Result[T], ready bool) {
	defer func() {
		if v := recover(); v != nil {
			res, ready = Result[T]{Err: panicked(v, debug.Stack())}, true
		}
	}()
	p := t.fut.Poll(cx)
	if !p.Ready {
		return Result[T]{}, false
	}
	return Result[T]{Value: p.Value}, true
}

func (t *joinTask[T]) finish(res Result[T]) futures.Poll[struct{}] {
	t.abort.Close()
	t.tx.Send(res)
	if err := t.loop.Release(); err != nil {
		Logger().Warn("release thread", zap.Error(err))
	}
	return futures.Ready(struct{}{})
}

// Poll implements futures.Future.
func (h *JoinHandle[T]) Poll(cx *futures.Context) futures.Poll[Result[T]] {
	p := h.result.Poll(cx)
	if !p.Ready {
		return futures.Pending[Result[T]]()
	}
	return futures.Ready(settle(p.Value))
}

// Join blocks until the task settles or ctx is done. The returned error is
// a *JoinError or the context error.
func (h *JoinHandle[T]) Join(ctx context.Context) (T, error) {
	out, err := h.result.Recv(ctx)
	if err != nil {
		var zero T
		return zero, err
	}
	res := settle(out)
	if res.Err != nil {
		return res.Value, res.Err
	}
	return res.Value, nil
}

// Abort asks the task to stop. It has no effect once the task completed.
func (h *JoinHandle[T]) Abort() {
	if !h.abort.Send(struct{}{}) {
		Logger().Debug("abort ignored", zap.Uint64("thread", h.id))
	}
}

// ID returns the sequence number of the spawned thread.
func (h *JoinHandle[T]) ID() uint64 { return h.id }

func settle[T any](out oneshot.Outcome[Result[T]]) Result[T] {
	if !out.OK {
		return Result[T]{Err: errFailed}
	}
	return out.Value
}
