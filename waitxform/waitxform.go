package waitxform

import (
	"time"

	"fortio.org/safecast"
	"go.uber.org/zap"

	"github.com/wippyai/wasm-threads/errors"
	"github.com/wippyai/wasm-threads/wasm"
)

// Names added to a rewritten module. A runtime discovers the imports and
// toggles the globals through these.
const (
	// ClockImport returns a monotonic clock in nanoseconds: [] -> [i64].
	ClockImport = "__wait_clock_ns"

	// SpinTimeoutImport is called when a spin exceeds the global ceiling.
	// It is expected to trap: [] -> [].
	SpinTimeoutImport = "__wait_spin_timeout"

	// WaitProhibitedGlobal is an exported mutable i32. Non-zero makes every
	// rewritten wait spin instead of blocking.
	WaitProhibitedGlobal = "wait_prohibited"

	// MaxSpinGlobal is an exported mutable i64 holding the spin ceiling in
	// nanoseconds. Zero disables the ceiling.
	MaxSpinGlobal = "max_spin_ns"

	// WaitFuncName and SpinFuncName name the generated functions in the
	// name section.
	WaitFuncName = "__atomic_wait32"
	SpinFuncName = "__atomic_spin32"
)

// Results of the generated wait function, identical to memory.atomic.wait32.
const (
	ResultOK       int32 = 0
	ResultNotEqual int32 = 1
	ResultTimedOut int32 = 2
)

// waitAlign is the only accepted wait32 alignment (log2 of 4 bytes).
const waitAlign = 2

// DefaultMaxSpin is the spin ceiling used when Config.MaxSpin is zero.
const DefaultMaxSpin = 10 * time.Second

// Config configures Transform.
type Config struct {
	// ImportModule is the placeholder module name for the two imports.
	ImportModule string

	// MaxSpin is the initial value of the max_spin_ns global. Zero selects
	// DefaultMaxSpin; use NoSpinLimit to disable the ceiling.
	MaxSpin time.Duration
}

// NoSpinLimit disables the global spin ceiling when used as Config.MaxSpin.
const NoSpinLimit time.Duration = -1

// Result describes what Transform added.
type Result struct {
	Wasm          []byte
	Replaced      int
	WaitFunc      uint32
	SpinFunc      uint32
	ClockFunc     uint32
	TimeoutFunc   uint32
	ProhibitedIdx uint32
	MaxSpinIdx    uint32
}

// IsTransformed reports whether a parsed module already carries the rewrite.
func IsTransformed(m *wasm.Module) bool {
	_, ok := m.FindExport(WaitProhibitedGlobal)
	return ok
}

// Transform replaces every memory.atomic.wait32 in wasmData with a call to
// a generated function that spins when the wait_prohibited global is set
// and executes the real wait otherwise.
//
// The module must have a memory, and every wait must be the 32-bit form on
// memory 0 with natural alignment and zero offset. Any violation aborts the
// whole transformation; no partial output is produced.
func Transform(wasmData []byte, cfg Config) ([]byte, error) {
	res, err := TransformDetailed(wasmData, cfg)
	if err != nil {
		return nil, err
	}
	return res.Wasm, nil
}

// TransformDetailed is Transform returning the indices of the added items.
func TransformDetailed(wasmData []byte, cfg Config) (*Result, error) {
	m, err := wasm.ParseModule(wasmData)
	if err != nil {
		return nil, errors.ParseFailed("module", err)
	}
	res, err := Apply(m, cfg)
	if err != nil {
		return nil, err
	}
	res.Wasm = m.Encode()
	return res, nil
}

// Apply runs the rewrite on a parsed module in place.
func Apply(m *wasm.Module, cfg Config) (*Result, error) {
	if cfg.ImportModule == "" {
		return nil, errors.InvalidInput(errors.PhaseTransform, "import module name is empty")
	}
	if !m.HasMemory() {
		return nil, errors.New(errors.PhaseTransform, errors.KindNotFound).Detail("module has no memory").Build()
	}
	if IsTransformed(m) {
		return nil, errors.New(errors.PhaseTransform, errors.KindAlreadyExists).
			Detail("module already exports %q", WaitProhibitedGlobal).Build()
	}

	maxSpin, err := maxSpinNanos(cfg.MaxSpin)
	if err != nil {
		return nil, err
	}

	numImported := m.NumImportedFuncs()
	bodies, sites, err := decodeBodies(m, numImported)
	if err != nil {
		return nil, err
	}

	res := &Result{Replaced: len(sites)}
	clockType := m.AddFuncType(wasm.FuncType{Results: []wasm.ValType{wasm.ValI64}})
	timeoutType := m.AddFuncType(wasm.FuncType{})
	waitType := m.AddFuncType(wasm.FuncType{
		Params:  []wasm.ValType{wasm.ValI32, wasm.ValI32, wasm.ValI64},
		Results: []wasm.ValType{wasm.ValI32},
	})

	shift := newShift(numImported, 2)
	if err := shift.apply(m, bodies); err != nil {
		return nil, err
	}

	res.ClockFunc = numImported
	res.TimeoutFunc = numImported + 1
	m.Imports = append(m.Imports,
		funcImport(cfg.ImportModule, ClockImport, clockType),
		funcImport(cfg.ImportModule, SpinTimeoutImport, timeoutType),
	)

	globalBase, err := safecast.Conv[uint32](len(m.Globals))
	if err != nil {
		return nil, errors.Wrap(errors.PhaseTransform, errors.KindInvalidData, err, "global count")
	}
	res.ProhibitedIdx = m.NumImportedGlobals() + globalBase
	res.MaxSpinIdx = res.ProhibitedIdx + 1
	m.Globals = append(m.Globals,
		wasm.Global{
			Type: wasm.GlobalType(wasm.ValI32, true),
			Init: wasm.EncodeInstructions([]wasm.Instruction{i32Const(0), op(wasm.OpEnd)}),
		},
		wasm.Global{
			Type: wasm.GlobalType(wasm.ValI64, true),
			Init: wasm.EncodeInstructions([]wasm.Instruction{i64Const(maxSpin), op(wasm.OpEnd)}),
		},
	)
	m.Exports = append(m.Exports,
		wasm.Export{Name: WaitProhibitedGlobal, Kind: wasm.KindGlobal, Idx: res.ProhibitedIdx},
		wasm.Export{Name: MaxSpinGlobal, Kind: wasm.KindGlobal, Idx: res.MaxSpinIdx},
	)

	definedBase, err := safecast.Conv[uint32](len(m.Funcs))
	if err != nil {
		return nil, errors.Wrap(errors.PhaseTransform, errors.KindInvalidData, err, "function count")
	}
	res.SpinFunc = numImported + 2 + definedBase
	res.WaitFunc = res.SpinFunc + 1

	for _, site := range sites {
		instr := &bodies[site.body][site.instr]
		offset := instr.Offset
		*instr = wasm.Instruction{Opcode: wasm.OpCall, Imm: wasm.CallImm{FuncIdx: res.WaitFunc}, Offset: offset}
	}
	for i, instrs := range bodies {
		if instrs != nil {
			m.Code[i].Code = wasm.EncodeInstructions(instrs)
		}
	}

	m.Funcs = append(m.Funcs, waitType, waitType)
	m.Code = append(m.Code,
		spinBody(res.ClockFunc, res.TimeoutFunc, res.MaxSpinIdx),
		waitBody(res.ProhibitedIdx, res.SpinFunc),
	)

	if m.Names == nil {
		m.Names = &wasm.NameSection{}
	}
	m.Names.SetFuncName(res.ClockFunc, ClockImport)
	m.Names.SetFuncName(res.TimeoutFunc, SpinTimeoutImport)
	m.Names.SetFuncName(res.SpinFunc, SpinFuncName)
	m.Names.SetFuncName(res.WaitFunc, WaitFuncName)

	Logger().Debug("rewrote atomic waits",
		zap.Int("replaced", res.Replaced),
		zap.Uint32("wait_func", res.WaitFunc),
		zap.Uint32("spin_func", res.SpinFunc))
	return res, nil
}

func maxSpinNanos(d time.Duration) (int64, error) {
	switch {
	case d == 0:
		return int64(DefaultMaxSpin), nil
	case d == NoSpinLimit:
		return 0, nil
	case d < 0:
		return 0, errors.InvalidInput(errors.PhaseTransform, "negative spin ceiling")
	}
	return d.Nanoseconds(), nil
}

func funcImport(module, name string, typeIdx uint32) wasm.Import {
	return wasm.Import{
		Module:  module,
		Name:    name,
		Kind:    wasm.KindFunc,
		TypeIdx: typeIdx,
		Desc:    wasm.EncodeU32(typeIdx),
	}
}
