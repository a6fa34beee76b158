package engine

import (
	"context"
	"time"

	"github.com/tetratelabs/wazero/api"
	"go.uber.org/zap"

	"github.com/wippyai/wasm-threads/errors"
	"github.com/wippyai/wasm-threads/host"
	"github.com/wippyai/wasm-threads/waitxform"
)

// Instance is a running guest.
type Instance struct {
	mod     api.Module
	toggles bool
}

// Module returns the wazero module.
func (i *Instance) Module() api.Module {
	return i.mod
}

func (i *Instance) global(name string) (api.MutableGlobal, error) {
	if !i.toggles {
		return nil, errors.NotFound(errors.PhaseEngine, "export", name)
	}
	g, ok := i.mod.ExportedGlobal(name).(api.MutableGlobal)
	if !ok {
		return nil, errors.NotFound(errors.PhaseEngine, "mutable global", name)
	}
	return g, nil
}

// SetWaitProhibited switches every rewritten wait between blocking and
// spinning. Set it on instances driven by a loop goroutine.
func (i *Instance) SetWaitProhibited(prohibited bool) error {
	g, err := i.global(waitxform.WaitProhibitedGlobal)
	if err != nil {
		return err
	}
	var v uint32
	if prohibited {
		v = 1
	}
	g.Set(api.EncodeU32(v))
	return nil
}

// WaitProhibited reports the current flag.
func (i *Instance) WaitProhibited() (bool, error) {
	g, err := i.global(waitxform.WaitProhibitedGlobal)
	if err != nil {
		return false, err
	}
	return api.DecodeU32(g.Get()) != 0, nil
}

// SetMaxSpin changes the spin ceiling. Zero or negative disables it.
func (i *Instance) SetMaxSpin(d time.Duration) error {
	g, err := i.global(waitxform.MaxSpinGlobal)
	if err != nil {
		return err
	}
	if d < 0 {
		d = 0
	}
	g.Set(api.EncodeI64(d.Nanoseconds()))
	return nil
}

// MaxSpin returns the spin ceiling; zero means disabled.
func (i *Instance) MaxSpin() (time.Duration, error) {
	g, err := i.global(waitxform.MaxSpinGlobal)
	if err != nil {
		return 0, err
	}
	return time.Duration(int64(g.Get())), nil
}

// Call invokes an exported function with ctx as given.
func (i *Instance) Call(ctx context.Context, name string, params ...uint64) ([]uint64, error) {
	fn := i.mod.ExportedFunction(name)
	if fn == nil {
		return nil, errors.NotFound(errors.PhaseEngine, "export", name)
	}
	return fn.Call(ctx, params...)
}

// Run calls an export from a new loop and drives the loop until it exits,
// so a guest that calls thread-hold keeps running callbacks until it calls
// thread-release or ctx is done.
func (i *Instance) Run(ctx context.Context, name string, params ...uint64) ([]uint64, error) {
	fn := i.mod.ExportedFunction(name)
	if fn == nil {
		return nil, errors.NotFound(errors.PhaseEngine, "export", name)
	}

	l := host.New()
	lctx := host.WithLoop(ctx, l)
	var (
		results []uint64
		callErr error
	)
	if err := l.Post(func() {
		results, callErr = fn.Call(lctx, params...)
		if callErr != nil && l.Held() {
			// a trapped guest never reaches its release
			_ = l.Release()
		}
	}); err != nil {
		return nil, err
	}
	if err := l.Run(lctx); err != nil {
		return nil, err
	}
	if callErr != nil {
		Logger().Debug("guest call failed", zap.String("export", name), zap.Error(callErr))
		return nil, callErr
	}
	return results, nil
}

// Close closes the instance.
func (i *Instance) Close(ctx context.Context) error {
	return i.mod.Close(ctx)
}

func threadHold(ctx context.Context) {
	l, ok := host.FromContext(ctx)
	if !ok {
		panic(errors.InvalidState(errors.PhaseThread, "thread-hold called outside a loop"))
	}
	if err := l.Hold(); err != nil {
		panic(errors.Wrap(errors.PhaseThread, errors.KindInvalidState, err, "thread-hold"))
	}
	Logger().Debug("thread held", zap.Uint64("loop", l.ID()))
}

func threadRelease(ctx context.Context) {
	l, ok := host.FromContext(ctx)
	if !ok {
		panic(errors.InvalidState(errors.PhaseThread, "thread-release called outside a loop"))
	}
	if err := l.Release(); err != nil {
		panic(errors.Wrap(errors.PhaseThread, errors.KindInvalidState, err, "thread-release"))
	}
	Logger().Debug("thread released", zap.Uint64("loop", l.ID()))
}
