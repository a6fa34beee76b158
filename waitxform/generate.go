package waitxform

import (
	"github.com/wippyai/wasm-threads/errors"
	"github.com/wippyai/wasm-threads/wasm"
)

// site locates one wait32 in the decoded bodies.
type site struct {
	body  int
	instr int
}

// decodeBodies decodes every function body and collects the wait32 sites.
// A single invalid wait fails the whole module.
func decodeBodies(m *wasm.Module, numImported uint32) ([][]wasm.Instruction, []site, error) {
	bodies := make([][]wasm.Instruction, len(m.Code))
	var sites []site
	for i, body := range m.Code {
		funcIdx := numImported + uint32(i)
		instrs, err := wasm.DecodeInstructions(body.Code)
		if err != nil {
			return nil, nil, errors.FuncFailed(funcIdx, errors.ParseFailed("function body", err))
		}
		for j, in := range instrs {
			if err := checkWait(funcIdx, in); err != nil {
				return nil, nil, errors.FuncFailed(funcIdx, err)
			}
			if in.IsAtomic(wasm.AtomicWait32) {
				sites = append(sites, site{body: i, instr: j})
			}
		}
		bodies[i] = instrs
	}
	return bodies, sites, nil
}

func checkWait(funcIdx uint32, in wasm.Instruction) *errors.Error {
	switch {
	case in.IsAtomic(wasm.AtomicWait64):
		return errors.UnsupportedAt(funcIdx, in.Offset, "unsupported wait64 at %d", in.Offset)
	case in.IsAtomic(wasm.AtomicWait32):
		mem, _ := in.Imm.(wasm.MemoryImm)
		if mem.MemIdx != 0 {
			return errors.UnsupportedAt(funcIdx, in.Offset, "unsupported wait memory index %d at %d", mem.MemIdx, in.Offset)
		}
		if mem.Align != waitAlign || mem.Offset != 0 {
			return errors.UnsupportedAt(funcIdx, in.Offset, "unsupported wait memory argument")
		}
	}
	return nil
}

// Parameter and local slots shared by the generated functions.
const (
	localPtr      = 0
	localExpected = 1
	localTimeout  = 2
	localStart    = 3
	localElapsed  = 4
	localMaxSpin  = 5
)

var waitMemArg = wasm.MemoryImm{Align: waitAlign}

// blockI32 is the (result i32) block type.
const blockI32 = -1

func op(code byte) wasm.Instruction {
	return wasm.Instruction{Opcode: code}
}

func i32Const(v int32) wasm.Instruction {
	return wasm.Instruction{Opcode: wasm.OpI32Const, Imm: wasm.I32Imm{Value: v}}
}

func i64Const(v int64) wasm.Instruction {
	return wasm.Instruction{Opcode: wasm.OpI64Const, Imm: wasm.I64Imm{Value: v}}
}

func localGet(idx uint32) wasm.Instruction {
	return wasm.Instruction{Opcode: wasm.OpLocalGet, Imm: wasm.LocalImm{LocalIdx: idx}}
}

func localSet(idx uint32) wasm.Instruction {
	return wasm.Instruction{Opcode: wasm.OpLocalSet, Imm: wasm.LocalImm{LocalIdx: idx}}
}

func localTee(idx uint32) wasm.Instruction {
	return wasm.Instruction{Opcode: wasm.OpLocalTee, Imm: wasm.LocalImm{LocalIdx: idx}}
}

func globalGet(idx uint32) wasm.Instruction {
	return wasm.Instruction{Opcode: wasm.OpGlobalGet, Imm: wasm.GlobalImm{GlobalIdx: idx}}
}

func call(idx uint32) wasm.Instruction {
	return wasm.Instruction{Opcode: wasm.OpCall, Imm: wasm.CallImm{FuncIdx: idx}}
}

func block(code byte, typ int64) wasm.Instruction {
	return wasm.Instruction{Opcode: code, Imm: wasm.BlockImm{Type: typ}}
}

func atomic(sub uint32) wasm.Instruction {
	return wasm.Instruction{Opcode: wasm.OpPrefixAtomic, Sub: sub, Imm: waitMemArg}
}

// returnIf emits `if <cond on stack> i32.const code; return end`.
func returnIf(code int32) []wasm.Instruction {
	return []wasm.Instruction{
		block(wasm.OpIf, wasm.BlockTypeVoid),
		i32Const(code),
		op(wasm.OpReturn),
		op(wasm.OpEnd),
	}
}

// loadDiffers pushes (atomic load ptr) != expected.
func loadDiffers() []wasm.Instruction {
	return []wasm.Instruction{
		localGet(localPtr),
		atomic(wasm.AtomicI32Load),
		localGet(localExpected),
		op(wasm.OpI32Ne),
	}
}

// spinBody builds __atomic_spin32(ptr, expected, timeout) -> i32.
//
// The timeout compare is unsigned, so a negative timeout never expires.
// A non-zero max_spin_ns bounds the whole spin; exceeding it calls the
// spin-timeout import and traps.
func spinBody(clockFunc, timeoutFunc, maxSpinGlobal uint32) wasm.FuncBody {
	var code []wasm.Instruction
	code = append(code, loadDiffers()...)
	code = append(code, returnIf(ResultNotEqual)...)
	code = append(code,
		call(clockFunc),
		localSet(localStart),
		globalGet(maxSpinGlobal),
		localSet(localMaxSpin),
		block(wasm.OpLoop, wasm.BlockTypeVoid),
	)
	code = append(code, loadDiffers()...)
	code = append(code, returnIf(ResultOK)...)
	code = append(code,
		call(clockFunc),
		localGet(localStart),
		op(wasm.OpI64Sub),
		localTee(localElapsed),
		localGet(localTimeout),
		op(wasm.OpI64GeU),
	)
	code = append(code, returnIf(ResultTimedOut)...)
	code = append(code,
		localGet(localMaxSpin),
		op(wasm.OpI64Eqz),
		op(wasm.OpI32Eqz),
		block(wasm.OpIf, wasm.BlockTypeVoid),
		localGet(localElapsed),
		localGet(localMaxSpin),
		op(wasm.OpI64GeU),
		block(wasm.OpIf, wasm.BlockTypeVoid),
		call(timeoutFunc),
		op(wasm.OpUnreachable),
		op(wasm.OpEnd),
		op(wasm.OpEnd),
		wasm.Instruction{Opcode: wasm.OpBr, Imm: wasm.BranchImm{LabelIdx: 0}},
		op(wasm.OpEnd),
		op(wasm.OpUnreachable),
		op(wasm.OpEnd),
	)
	return wasm.FuncBody{
		Locals: wasm.EncodeLocals([]wasm.ValType{wasm.ValI64, wasm.ValI64, wasm.ValI64}),
		Code:   wasm.EncodeInstructions(code),
	}
}

// waitBody builds __atomic_wait32(ptr, expected, timeout) -> i32, which
// spins while wait_prohibited is set and waits natively otherwise.
func waitBody(prohibitedGlobal, spinFunc uint32) wasm.FuncBody {
	args := []wasm.Instruction{localGet(localPtr), localGet(localExpected), localGet(localTimeout)}
	var code []wasm.Instruction
	code = append(code, globalGet(prohibitedGlobal), block(wasm.OpIf, blockI32))
	code = append(code, args...)
	code = append(code, call(spinFunc), op(wasm.OpElse))
	code = append(code, args...)
	code = append(code, atomic(wasm.AtomicWait32), op(wasm.OpEnd), op(wasm.OpEnd))
	return wasm.FuncBody{
		Locals: wasm.EncodeLocals(nil),
		Code:   wasm.EncodeInstructions(code),
	}
}
