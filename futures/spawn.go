package futures

import (
	"context"
	stderrors "errors"
	"sync"

	"github.com/wippyai/wasm-threads/config"
	"github.com/wippyai/wasm-threads/errors"
	"github.com/wippyai/wasm-threads/host"
)

// Mode selects the task implementation used by SpawnWith.
type Mode int

const (
	// ModeAuto uses ModeMulti unless single-threaded operation is configured.
	ModeAuto Mode = iota
	// ModeSingle tasks are re-queued on their loop when woken.
	ModeSingle
	// ModeMulti tasks wait on an atomic flag and may be woken from any
	// goroutine without touching the loop.
	ModeMulti
)

func (m Mode) String() string {
	switch m {
	case ModeAuto:
		return "auto"
	case ModeSingle:
		return "single"
	case ModeMulti:
		return "multi"
	}
	return "unknown"
}

var (
	autoModeOnce sync.Once
	autoMode     Mode
)

// resolveMode maps ModeAuto to the configured mode, read once.
func resolveMode(m Mode) Mode {
	if m != ModeAuto {
		return m
	}
	autoModeOnce.Do(func() {
		autoMode = ModeMulti
		if config.Get().SingleThreaded {
			autoMode = ModeSingle
		}
	})
	return autoMode
}

// Spawn runs f on l, discarding its output. The first poll happens on the
// next flush of the loop's queue.
func Spawn[T any](l *host.Loop, f Future[T]) {
	SpawnWith(l, ModeAuto, f)
}

// SpawnLocal runs f on l as a single-thread task.
func SpawnLocal[T any](l *host.Loop, f Future[T]) {
	SpawnWith(l, ModeSingle, f)
}

// SpawnWith runs f on l with the given task mode.
func SpawnWith[T any](l *host.Loop, mode Mode, f Future[T]) {
	fut := erased[T]{f: f}
	switch resolveMode(mode) {
	case ModeMulti:
		QueueFor(l).Schedule(newMultiTask(l, fut))
	default:
		QueueFor(l).Schedule(newSingleTask(l, fut))
	}
}

// BlockOn runs f to completion on a new loop driven by the calling
// goroutine. The loop is held until f completes or ctx is done; the
// context error is wrapped in a schedule-phase *errors.Error.
func BlockOn[T any](ctx context.Context, f Future[T]) (T, error) {
	l := host.New()
	_ = l.Hold()

	var out T
	SpawnLocal(l, FutureFunc[struct{}](func(cx *Context) Poll[struct{}] {
		p := f.Poll(cx)
		if !p.Ready {
			return Pending[struct{}]()
		}
		out = p.Value
		_ = l.Release()
		return Ready(struct{}{})
	}))

	if err := l.Run(host.WithLoop(ctx, l)); err != nil {
		var zero T
		kind := errors.KindInternal
		if stderrors.Is(err, context.DeadlineExceeded) {
			kind = errors.KindTimeout
		}
		return zero, errors.Wrap(errors.PhaseSchedule, kind, err, "block on future")
	}
	return out, nil
}
