package waitxform

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/wippyai/wasm-threads/wasm"
)

var (
	waitOp  = []byte{wasm.OpPrefixAtomic, 0x01, 0x02, 0x00}
	waitSig = wasm.FuncType{
		Params:  []wasm.ValType{wasm.ValI32, wasm.ValI32, wasm.ValI64},
		Results: []wasm.ValType{wasm.ValI32},
	}
)

// fixture builds a module with one imported function and three defined ones:
//
//	1 wait(ptr, expected, timeout) -> i32   memory.atomic.wait32
//	2 call_wait() -> i32                     calls 1 with a zero timeout
//	3 store(ptr, value)                      i32.atomic.store
//
// Function 2 is also referenced from an element segment. waitCode replaces
// the body of function 1 when non-nil.
func fixture(waitCode []byte, withMemory bool) []byte {
	m := &wasm.Module{}
	noopType := m.AddFuncType(wasm.FuncType{})
	waitType := m.AddFuncType(waitSig)
	callType := m.AddFuncType(wasm.FuncType{Results: []wasm.ValType{wasm.ValI32}})
	storeType := m.AddFuncType(wasm.FuncType{Params: []wasm.ValType{wasm.ValI32, wasm.ValI32}})

	m.Imports = []wasm.Import{{
		Module: "host", Name: "noop", Kind: wasm.KindFunc,
		TypeIdx: noopType, Desc: wasm.EncodeU32(noopType),
	}}
	if withMemory {
		max := uint32(1)
		m.Memories = []wasm.Memory{{Type: wasm.MemoryType(1, &max, true), Shared: true}}
	}
	m.Tables = []wasm.Table{{Type: []byte{0x70, 0x00, 0x01}}}
	m.Elements = []wasm.Element{{
		Offset:   []byte{wasm.OpI32Const, 0x00, wasm.OpEnd},
		FuncIdxs: []uint32{2},
	}}

	if waitCode == nil {
		waitCode = append([]byte{
			wasm.OpLocalGet, 0x00,
			wasm.OpLocalGet, 0x01,
			wasm.OpLocalGet, 0x02,
		}, append(waitOp, wasm.OpEnd)...)
	}
	callCode := []byte{
		wasm.OpI32Const, 0x00,
		wasm.OpI32Const, 0x00,
		wasm.OpI64Const, 0x00,
		wasm.OpCall, 0x01,
		wasm.OpEnd,
	}
	storeCode := []byte{
		wasm.OpLocalGet, 0x00,
		wasm.OpLocalGet, 0x01,
		wasm.OpPrefixAtomic, 0x17, 0x02, 0x00,
		wasm.OpEnd,
	}
	m.Funcs = []uint32{waitType, callType, storeType}
	m.Code = []wasm.FuncBody{
		{Locals: wasm.EncodeLocals(nil), Code: waitCode},
		{Locals: wasm.EncodeLocals(nil), Code: callCode},
		{Locals: wasm.EncodeLocals(nil), Code: storeCode},
	}
	m.Exports = []wasm.Export{
		{Name: "wait", Kind: wasm.KindFunc, Idx: 1},
		{Name: "call_wait", Kind: wasm.KindFunc, Idx: 2},
		{Name: "store", Kind: wasm.KindFunc, Idx: 3},
	}
	if withMemory {
		m.Exports = append(m.Exports, wasm.Export{Name: "memory", Kind: wasm.KindMemory, Idx: 0})
	}
	m.Names = &wasm.NameSection{}
	m.Names.SetFuncName(1, "wait")
	m.Names.SetFuncName(2, "call_wait")
	return m.Encode()
}

func TestTransformStructure(t *testing.T) {
	in := fixture(nil, true)
	res, err := TransformDetailed(in, Config{ImportModule: "env"})
	if err != nil {
		t.Fatalf("TransformDetailed: %v", err)
	}
	if res.Replaced != 1 {
		t.Errorf("replaced: got %d, want 1", res.Replaced)
	}

	m, err := wasm.ParseModule(res.Wasm)
	if err != nil {
		t.Fatalf("reparse: %v", err)
	}

	if len(m.Imports) != 3 {
		t.Fatalf("imports: got %d, want 3", len(m.Imports))
	}
	if m.Imports[1].Module != "env" || m.Imports[1].Name != ClockImport {
		t.Errorf("clock import: %+v", m.Imports[1])
	}
	if m.Imports[2].Module != "env" || m.Imports[2].Name != SpinTimeoutImport {
		t.Errorf("spin timeout import: %+v", m.Imports[2])
	}
	if ft := m.FuncType(m.Imports[1].TypeIdx); ft == nil || len(ft.Params) != 0 || len(ft.Results) != 1 || ft.Results[0] != wasm.ValI64 {
		t.Errorf("clock type: %+v", ft)
	}

	if res.SpinFunc != 6 || res.WaitFunc != 7 {
		t.Errorf("generated indices: spin=%d wait=%d, want 6 and 7", res.SpinFunc, res.WaitFunc)
	}
	for name, want := range map[string]uint32{"wait": 3, "call_wait": 4, "store": 5} {
		if e, ok := m.FindExport(name); !ok || e.Idx != want {
			t.Errorf("export %s: got %d, want %d", name, e.Idx, want)
		}
	}
	if got := m.Elements[0].FuncIdxs[0]; got != 4 {
		t.Errorf("element func: got %d, want 4", got)
	}

	for _, name := range []string{WaitProhibitedGlobal, MaxSpinGlobal} {
		e, ok := m.FindExport(name)
		if !ok || e.Kind != wasm.KindGlobal {
			t.Errorf("missing global export %s", name)
		}
	}
	if !IsTransformed(m) {
		t.Error("IsTransformed should report true")
	}

	// the wait in function 3 became call 7; nothing else changed
	want := []byte{wasm.OpLocalGet, 0x00, wasm.OpLocalGet, 0x01, wasm.OpLocalGet, 0x02, wasm.OpCall, 0x07, wasm.OpEnd}
	if !bytes.Equal(m.Code[0].Code, want) {
		t.Errorf("wait body:\n got %x\nwant %x", m.Code[0].Code, want)
	}
	callWant := []byte{wasm.OpI32Const, 0x00, wasm.OpI32Const, 0x00, wasm.OpI64Const, 0x00, wasm.OpCall, 0x03, wasm.OpEnd}
	if !bytes.Equal(m.Code[1].Code, callWant) {
		t.Errorf("call body:\n got %x\nwant %x", m.Code[1].Code, callWant)
	}

	for idx, want := range map[uint32]string{
		3: "wait", 4: "call_wait",
		1: ClockImport, 2: SpinTimeoutImport,
		6: SpinFuncName, 7: WaitFuncName,
	} {
		if got, _ := m.Names.FuncName(idx); got != want {
			t.Errorf("name of func %d: got %q, want %q", idx, got, want)
		}
	}

	// only the dispatcher still waits natively
	sites, err := Inspect(res.Wasm)
	if err != nil {
		t.Fatalf("Inspect: %v", err)
	}
	if len(sites) != 1 || sites[0].Func != res.WaitFunc {
		t.Errorf("remaining waits: %+v", sites)
	}
}

func TestTransformWithoutWaits(t *testing.T) {
	code := []byte{wasm.OpI32Const, 0x00, wasm.OpEnd}
	res, err := TransformDetailed(fixture(code, true), Config{ImportModule: "env"})
	if err != nil {
		t.Fatalf("TransformDetailed: %v", err)
	}
	if res.Replaced != 0 {
		t.Errorf("replaced: got %d", res.Replaced)
	}
	if _, err := wasm.ParseModule(res.Wasm); err != nil {
		t.Errorf("output does not parse: %v", err)
	}
}

func TestTransformErrors(t *testing.T) {
	body := func(wait ...byte) []byte {
		code := []byte{wasm.OpLocalGet, 0x00, wasm.OpLocalGet, 0x01, wasm.OpLocalGet, 0x02}
		return append(append(code, wait...), wasm.OpEnd)
	}
	tests := []struct {
		name     string
		data     []byte
		cfg      Config
		contains []string
	}{
		{
			name:     "second memory",
			cfg:      Config{ImportModule: "env"},
			data:     fixture(body(wasm.OpPrefixAtomic, 0x01, 0x42, 0x01, 0x00), true),
			contains: []string{"processing function 1 failed", "unsupported wait memory index 1 at 6"},
		},
		{
			name:     "offset",
			cfg:      Config{ImportModule: "env"},
			data:     fixture(body(wasm.OpPrefixAtomic, 0x01, 0x02, 0x04), true),
			contains: []string{"processing function 1 failed", "unsupported wait memory argument"},
		},
		{
			name:     "alignment",
			cfg:      Config{ImportModule: "env"},
			data:     fixture(body(wasm.OpPrefixAtomic, 0x01, 0x01, 0x00), true),
			contains: []string{"unsupported wait memory argument"},
		},
		{
			name:     "wait64",
			cfg:      Config{ImportModule: "env"},
			data:     fixture(body(wasm.OpPrefixAtomic, 0x02, 0x03, 0x00), true),
			contains: []string{"processing function 1 failed", "unsupported wait64 at 6"},
		},
		{
			name:     "no memory",
			cfg:      Config{ImportModule: "env"},
			data:     fixture(nil, false),
			contains: []string{"module has no memory"},
		},
		{
			name:     "empty import module",
			data:     fixture(nil, true),
			cfg:      Config{ImportModule: ""},
			contains: []string{"import module name is empty"},
		},
		{
			name:     "negative ceiling",
			data:     fixture(nil, true),
			cfg:      Config{ImportModule: "env", MaxSpin: -5},
			contains: []string{"negative spin ceiling"},
		},
		{
			name:     "not wasm",
			data:     []byte("nope"),
			cfg:      Config{ImportModule: "env"},
			contains: []string{"parse module"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := Transform(tt.data, tt.cfg)
			if err == nil {
				t.Fatal("expected error")
			}
			if out != nil {
				t.Error("no output expected on error")
			}
			for _, s := range tt.contains {
				if !strings.Contains(err.Error(), s) {
					t.Errorf("error %q does not contain %q", err, s)
				}
			}
		})
	}
}

func TestTransformRejectsTransformed(t *testing.T) {
	out, err := Transform(fixture(nil, true), Config{ImportModule: "env"})
	if err != nil {
		t.Fatalf("Transform: %v", err)
	}
	if _, err := Transform(out, Config{ImportModule: "env"}); err == nil || !strings.Contains(err.Error(), WaitProhibitedGlobal) {
		t.Errorf("expected already transformed error, got %v", err)
	}
}

func TestMaxSpinInit(t *testing.T) {
	tests := []struct {
		in   int64
		want int64
	}{
		{0, int64(DefaultMaxSpin)},
		{int64(NoSpinLimit), 0},
		{1500, 1500},
	}
	for _, tt := range tests {
		res, err := TransformDetailed(fixture(nil, true), Config{ImportModule: "env", MaxSpin: time.Duration(tt.in)})
		if err != nil {
			t.Fatalf("MaxSpin %d: %v", tt.in, err)
		}
		m, err := wasm.ParseModule(res.Wasm)
		if err != nil {
			t.Fatal(err)
		}
		init, err := wasm.DecodeInstructions(m.Globals[res.MaxSpinIdx-m.NumImportedGlobals()].Init)
		if err != nil {
			t.Fatal(err)
		}
		if got := init[0].Imm.(wasm.I64Imm).Value; got != tt.want {
			t.Errorf("MaxSpin %d: global init %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestInspectReportsUnsupported(t *testing.T) {
	code := []byte{
		wasm.OpLocalGet, 0x00, wasm.OpLocalGet, 0x01, wasm.OpLocalGet, 0x02,
		wasm.OpPrefixAtomic, 0x01, 0x02, 0x00,
		wasm.OpDrop,
		wasm.OpLocalGet, 0x00, wasm.OpLocalGet, 0x02, wasm.OpLocalGet, 0x02,
		wasm.OpPrefixAtomic, 0x02, 0x03, 0x00,
		wasm.OpEnd,
	}
	sites, err := Inspect(fixture(code, true))
	if err != nil {
		t.Fatalf("Inspect: %v", err)
	}
	if len(sites) != 2 {
		t.Fatalf("sites: got %d, want 2", len(sites))
	}
	if sites[0].Form != "wait32" || !sites[0].Supported() || sites[0].Name != "wait" || sites[0].Offset != 6 {
		t.Errorf("site 0: %+v", sites[0])
	}
	if sites[1].Form != "wait64" || sites[1].Supported() || !strings.Contains(sites[1].Reason, "wait64") {
		t.Errorf("site 1: %+v", sites[1])
	}
}
