package engine

import (
	"context"
	"sync"
	"time"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/experimental"
	"go.uber.org/zap"

	"github.com/wippyai/wasm-threads/config"
	"github.com/wippyai/wasm-threads/errors"
	"github.com/wippyai/wasm-threads/waitxform"
	"github.com/wippyai/wasm-threads/wasm"
)

// ThreadModule is the import module guests use for thread hold/release.
const ThreadModule = "wasi"

// Thread lifecycle import names.
const (
	ThreadHoldImport    = "thread-hold"
	ThreadReleaseImport = "thread-release"
)

// ErrSpinTimeout traps a guest whose spin exceeded max_spin_ns.
var ErrSpinTimeout = errors.New(errors.PhaseEngine, errors.KindTimeout).
	Detail("spin exceeded the global ceiling").Build()

// Engine owns a wazero runtime with the threads proposal enabled.
type Engine struct {
	runtime wazero.Runtime
	start   time.Time
	cfg     Config

	mu        sync.Mutex
	hostMu    sync.Mutex
	hostReady map[string]bool
}

// Config holds configuration for engine creation.
type Config struct {
	// MemoryLimitPages sets the maximum memory per instance in pages (64KB each).
	// 0 means the wazero default.
	MemoryLimitPages uint32

	// Transform configures the rewrite applied by Load.
	Transform waitxform.Config
}

// ConfigFrom derives engine settings from process settings.
func ConfigFrom(c config.Config) Config {
	maxSpin := c.MaxSpin
	if maxSpin == 0 {
		maxSpin = waitxform.NoSpinLimit
	}
	return Config{Transform: waitxform.Config{ImportModule: c.ImportModule, MaxSpin: maxSpin}}
}

// New creates an engine. A nil cfg uses ConfigFrom(config.Get()).
func New(ctx context.Context, cfg *Config) (*Engine, error) {
	c := ConfigFrom(config.Get())
	if cfg != nil {
		c = *cfg
	}
	if c.Transform.ImportModule == "" {
		c.Transform.ImportModule = config.DefaultImportModule
	}

	runtimeCfg := wazero.NewRuntimeConfig().
		WithCoreFeatures(api.CoreFeaturesV2 | experimental.CoreFeaturesThreads)
	if c.MemoryLimitPages > 0 {
		runtimeCfg = runtimeCfg.WithMemoryLimitPages(c.MemoryLimitPages)
	}

	return &Engine{
		runtime:   wazero.NewRuntimeWithConfig(ctx, runtimeCfg),
		start:     time.Now(),
		cfg:       c,
		hostReady: make(map[string]bool),
	}, nil
}

// Runtime returns the underlying wazero runtime.
func (e *Engine) Runtime() wazero.Runtime {
	return e.runtime
}

// Close releases the runtime and every module instantiated in it.
func (e *Engine) Close(ctx context.Context) error {
	return e.runtime.Close(ctx)
}

// InstantiateWaitImports registers the host side of the rewrite pass
// imports under module. The clock counts nanoseconds since the engine was
// created; the spin-timeout callback traps with ErrSpinTimeout.
func (e *Engine) InstantiateWaitImports(ctx context.Context, module string) (api.Module, error) {
	start := e.start
	mod, err := e.runtime.NewHostModuleBuilder(module).
		NewFunctionBuilder().
		WithGoFunction(api.GoFunc(func(_ context.Context, stack []uint64) {
			stack[0] = api.EncodeI64(time.Since(start).Nanoseconds())
		}), nil, []api.ValueType{api.ValueTypeI64}).
		Export(waitxform.ClockImport).
		NewFunctionBuilder().
		WithGoFunction(api.GoFunc(func(context.Context, []uint64) {
			Logger().Warn("spin ceiling exceeded")
			panic(ErrSpinTimeout)
		}), nil, nil).
		Export(waitxform.SpinTimeoutImport).
		Instantiate(ctx)
	if err != nil {
		return nil, errors.Wrap(errors.PhaseEngine, errors.KindInternal, err, "instantiate wait imports")
	}
	e.markReady(module)
	return mod, nil
}

// InstantiateThreadImports registers thread-hold and thread-release. Both
// act on the loop carried by the call context (host.WithLoop) and trap
// without one.
func (e *Engine) InstantiateThreadImports(ctx context.Context) (api.Module, error) {
	mod, err := e.runtime.NewHostModuleBuilder(ThreadModule).
		NewFunctionBuilder().
		WithGoFunction(api.GoFunc(func(ctx context.Context, _ []uint64) { threadHold(ctx) }), nil, nil).
		Export(ThreadHoldImport).
		NewFunctionBuilder().
		WithGoFunction(api.GoFunc(func(ctx context.Context, _ []uint64) { threadRelease(ctx) }), nil, nil).
		Export(ThreadReleaseImport).
		Instantiate(ctx)
	if err != nil {
		return nil, errors.Wrap(errors.PhaseEngine, errors.KindInternal, err, "instantiate thread imports")
	}
	e.markReady(ThreadModule)
	return mod, nil
}

func (e *Engine) markReady(module string) {
	e.mu.Lock()
	e.hostReady[module] = true
	e.mu.Unlock()
}

func (e *Engine) ensureHost(ctx context.Context, m *wasm.Module) error {
	e.hostMu.Lock()
	defer e.hostMu.Unlock()

	needs := make(map[string]bool)
	for _, imp := range m.Imports {
		needs[imp.Module] = true
	}

	e.mu.Lock()
	waitReady := e.hostReady[e.cfg.Transform.ImportModule]
	threadReady := e.hostReady[ThreadModule]
	e.mu.Unlock()

	if needs[e.cfg.Transform.ImportModule] && !waitReady {
		if _, err := e.InstantiateWaitImports(ctx, e.cfg.Transform.ImportModule); err != nil {
			return err
		}
	}
	if needs[ThreadModule] && !threadReady {
		if _, err := e.InstantiateThreadImports(ctx); err != nil {
			return err
		}
	}
	return nil
}

// Module is a compiled guest, rewritten if it contained waits.
type Module struct {
	engine    *Engine
	compiled  wazero.CompiledModule
	rewrite   *waitxform.Result
	hasGlobal bool
}

// Load rewrites wasmBytes unless it already carries the rewrite, registers
// the host modules it imports and compiles it.
func (e *Engine) Load(ctx context.Context, wasmBytes []byte) (*Module, error) {
	m, err := wasm.ParseModule(wasmBytes)
	if err != nil {
		return nil, errors.ParseFailed("module", err)
	}

	out := &Module{engine: e}
	switch {
	case waitxform.IsTransformed(m):
		out.hasGlobal = true
	case m.HasMemory():
		res, err := waitxform.Apply(m, e.cfg.Transform)
		if err != nil {
			return nil, err
		}
		out.rewrite = res
		out.hasGlobal = true
		wasmBytes = m.Encode()
	default:
		Logger().Debug("module has no memory, loading unchanged")
	}

	if err := e.ensureHost(ctx, m); err != nil {
		return nil, err
	}

	compiled, err := e.runtime.CompileModule(ctx, wasmBytes)
	if err != nil {
		return nil, errors.Wrap(errors.PhaseEngine, errors.KindInvalidData, err, "compile module")
	}
	out.compiled = compiled

	fields := []zap.Field{zap.Bool("rewritten", out.rewrite != nil)}
	if out.rewrite != nil {
		fields = append(fields, zap.Int("waits", out.rewrite.Replaced))
	}
	Logger().Debug("module loaded", fields...)
	return out, nil
}

// Rewrite returns what the rewrite pass added, or nil when Load did not
// run it.
func (m *Module) Rewrite() *waitxform.Result {
	return m.rewrite
}

// Instantiate creates a new instance. name may be empty.
func (m *Module) Instantiate(ctx context.Context, name string) (*Instance, error) {
	modCfg := wazero.NewModuleConfig().WithName(name)
	mod, err := m.engine.runtime.InstantiateModule(ctx, m.compiled, modCfg)
	if err != nil {
		return nil, errors.Wrap(errors.PhaseEngine, errors.KindInternal, err, "instantiate module")
	}
	return &Instance{mod: mod, toggles: m.hasGlobal}, nil
}

// Close releases the compiled module.
func (m *Module) Close(ctx context.Context) error {
	return m.compiled.Close(ctx)
}
