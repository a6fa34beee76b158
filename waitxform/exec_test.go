package waitxform

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/experimental"
)

var errSpinTimeout = errors.New("spin timeout")

func instantiate(t *testing.T, maxSpin time.Duration) (context.Context, api.Module) {
	t.Helper()
	ctx := context.Background()
	out, err := Transform(fixture(nil, true), Config{ImportModule: "env", MaxSpin: maxSpin})
	if err != nil {
		t.Fatalf("Transform: %v", err)
	}

	r := wazero.NewRuntimeWithConfig(ctx, wazero.NewRuntimeConfig().
		WithCoreFeatures(api.CoreFeaturesV2|experimental.CoreFeaturesThreads))
	t.Cleanup(func() { _ = r.Close(ctx) })

	start := time.Now()
	_, err = r.NewHostModuleBuilder("env").
		NewFunctionBuilder().WithFunc(func(context.Context) int64 {
		return time.Since(start).Nanoseconds()
	}).Export(ClockImport).
		NewFunctionBuilder().WithFunc(func(context.Context) {
		panic(errSpinTimeout)
	}).Export(SpinTimeoutImport).
		Instantiate(ctx)
	if err != nil {
		t.Fatalf("env module: %v", err)
	}
	_, err = r.NewHostModuleBuilder("host").
		NewFunctionBuilder().WithFunc(func(context.Context) {}).Export("noop").
		Instantiate(ctx)
	if err != nil {
		t.Fatalf("host module: %v", err)
	}

	mod, err := r.Instantiate(ctx, out)
	if err != nil {
		t.Fatalf("instantiate transformed module: %v", err)
	}
	return ctx, mod
}

func setGlobal(t *testing.T, mod api.Module, name string, v uint64) {
	t.Helper()
	g, ok := mod.ExportedGlobal(name).(api.MutableGlobal)
	if !ok {
		t.Fatalf("global %s is not an exported mutable global", name)
	}
	g.Set(v)
}

func callWait(ctx context.Context, mod api.Module, expected int32, timeout time.Duration) (int32, error) {
	res, err := mod.ExportedFunction("wait").Call(ctx, 0, api.EncodeI32(expected), api.EncodeI64(int64(timeout)))
	if err != nil {
		return 0, err
	}
	return api.DecodeI32(res[0]), nil
}

func TestExecuteDispatch(t *testing.T) {
	for _, prohibited := range []uint64{0, 1} {
		ctx, mod := instantiate(t, 0)
		setGlobal(t, mod, WaitProhibitedGlobal, prohibited)

		got, err := callWait(ctx, mod, 1, -1)
		if err != nil {
			t.Fatalf("prohibited=%d not equal: %v", prohibited, err)
		}
		if got != ResultNotEqual {
			t.Errorf("prohibited=%d not equal: got %d, want %d", prohibited, got, ResultNotEqual)
		}

		started := time.Now()
		got, err = callWait(ctx, mod, 0, 5*time.Millisecond)
		if err != nil {
			t.Fatalf("prohibited=%d timeout: %v", prohibited, err)
		}
		if got != ResultTimedOut {
			t.Errorf("prohibited=%d timeout: got %d, want %d", prohibited, got, ResultTimedOut)
		}
		if elapsed := time.Since(started); elapsed < 5*time.Millisecond {
			t.Errorf("prohibited=%d returned after %v", prohibited, elapsed)
		}

		res, err := mod.ExportedFunction("call_wait").Call(ctx)
		if err != nil {
			t.Fatalf("prohibited=%d call_wait: %v", prohibited, err)
		}
		if api.DecodeI32(res[0]) != ResultTimedOut {
			t.Errorf("prohibited=%d call_wait: got %d", prohibited, api.DecodeI32(res[0]))
		}
	}
}

func TestExecuteSpinObservesStore(t *testing.T) {
	ctx, mod := instantiate(t, 0)
	setGlobal(t, mod, WaitProhibitedGlobal, 1)

	store := mod.ExportedFunction("store")
	done := make(chan error, 1)
	go func() {
		time.Sleep(20 * time.Millisecond)
		_, err := store.Call(ctx, 0, api.EncodeI32(7))
		done <- err
	}()

	got, err := callWait(ctx, mod, 0, -1)
	if err != nil {
		t.Fatalf("wait: %v", err)
	}
	if got != ResultOK {
		t.Errorf("got %d, want %d", got, ResultOK)
	}
	if err := <-done; err != nil {
		t.Fatalf("store: %v", err)
	}
}

func TestExecuteSpinCeiling(t *testing.T) {
	ctx, mod := instantiate(t, 2*time.Millisecond)
	setGlobal(t, mod, WaitProhibitedGlobal, 1)

	_, err := callWait(ctx, mod, 0, -1)
	if err == nil {
		t.Fatal("expected trap from the spin ceiling")
	}
	if !strings.Contains(err.Error(), errSpinTimeout.Error()) {
		t.Errorf("unexpected error: %v", err)
	}

	// a zero ceiling disables the trap; a per-call timeout still applies
	setGlobal(t, mod, MaxSpinGlobal, 0)
	got, err := callWait(ctx, mod, 0, 10*time.Millisecond)
	if err != nil {
		t.Fatalf("wait without ceiling: %v", err)
	}
	if got != ResultTimedOut {
		t.Errorf("got %d, want %d", got, ResultTimedOut)
	}
}
