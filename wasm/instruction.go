package wasm

import (
	"fmt"

	"github.com/wippyai/wasm-threads/wasm/internal/binary"
)

// Instruction is one decoded instruction. Decoded instructions keep their
// original encoding in Raw so untouched code re-encodes byte-for-byte; any
// instruction built or modified by a pass must have Raw cleared (see SetImm).
//
// Only immediates that passes act on are decoded into Imm: block types,
// branches, calls, ref.func, locals, globals, integer constants and memory
// arguments. All other immediates are skipped and live only in Raw.
type Instruction struct {
	Imm    interface{}
	Raw    []byte
	Offset int
	Sub    uint32
	Opcode byte
}

// BlockImm holds a block type: -64 is empty, other negatives are value types,
// non-negative values are type indices.
type BlockImm struct {
	Type int64
}

// BranchImm holds the label of br and br_if.
type BranchImm struct {
	LabelIdx uint32
}

// CallImm holds the target of call and return_call.
type CallImm struct {
	FuncIdx uint32
}

// RefFuncImm holds the target of ref.func.
type RefFuncImm struct {
	FuncIdx uint32
}

// LocalImm holds the index of local.get, local.set and local.tee.
type LocalImm struct {
	LocalIdx uint32
}

// GlobalImm holds the index of global.get and global.set.
type GlobalImm struct {
	GlobalIdx uint32
}

// I32Imm holds the value of i32.const.
type I32Imm struct {
	Value int32
}

// I64Imm holds the value of i64.const.
type I64Imm struct {
	Value int64
}

// MemoryImm is a memory argument. Align is the log2 alignment as encoded.
type MemoryImm struct {
	Offset uint64
	Align  uint32
	MemIdx uint32
}

// SetImm replaces the immediate and drops the original encoding.
func (i *Instruction) SetImm(imm interface{}) {
	i.Imm = imm
	i.Raw = nil
}

// IsAtomic reports whether the instruction is the given 0xFE sub-opcode.
func (i Instruction) IsAtomic(sub uint32) bool {
	return i.Opcode == OpPrefixAtomic && i.Sub == sub
}

// FuncRef returns the function index referenced by call, return_call or ref.func.
func (i Instruction) FuncRef() (uint32, bool) {
	switch imm := i.Imm.(type) {
	case CallImm:
		return imm.FuncIdx, true
	case RefFuncImm:
		return imm.FuncIdx, true
	}
	return 0, false
}

// DecodeInstructions decodes an instruction sequence. Offsets are relative
// to the start of code.
func DecodeInstructions(code []byte) ([]Instruction, error) {
	r := binary.NewReader(code)
	instrs := make([]Instruction, 0, len(code)/2)
	for r.Len() > 0 {
		instr, err := readInstruction(r)
		if err != nil {
			return nil, err
		}
		instrs = append(instrs, instr)
	}
	return instrs, nil
}

// EncodeInstructions encodes an instruction sequence.
func EncodeInstructions(instrs []Instruction) []byte {
	w := binary.NewWriter()
	for i := range instrs {
		encodeInstruction(w, &instrs[i])
	}
	return w.Bytes()
}

// readExpr reads a constant or function expression up to and including the
// end that closes it and returns its raw bytes.
func readExpr(r *binary.Reader) ([]byte, error) {
	start := r.Position()
	depth := 0
	for {
		instr, err := readInstruction(r)
		if err != nil {
			return nil, err
		}
		switch instr.Opcode {
		case OpBlock, OpLoop, OpIf, OpTry, OpTryTable:
			depth++
		case OpEnd:
			if depth == 0 {
				return r.Slice(start, r.Position()), nil
			}
			depth--
		}
	}
}

func readInstruction(r *binary.Reader) (Instruction, error) {
	start := r.Position()
	op, err := r.ReadByte()
	if err != nil {
		return Instruction{}, r.WrapError("instruction", err)
	}
	instr := Instruction{Opcode: op, Offset: start}
	if err := readImmediates(r, &instr); err != nil {
		return Instruction{}, fmt.Errorf("opcode 0x%02x at %d: %w", op, start, err)
	}
	instr.Raw = r.Slice(start, r.Position())
	return instr, nil
}

func readImmediates(r *binary.Reader, instr *Instruction) error {
	var err error
	switch op := instr.Opcode; {
	case op == OpBlock || op == OpLoop || op == OpIf || op == OpTry:
		var bt int64
		bt, err = readBlockType(r)
		instr.Imm = BlockImm{Type: bt}
	case op == OpBr || op == OpBrIf:
		var l uint32
		l, err = r.ReadU32()
		instr.Imm = BranchImm{LabelIdx: l}
	case op == OpCall || op == OpReturnCall:
		var f uint32
		f, err = r.ReadU32()
		instr.Imm = CallImm{FuncIdx: f}
	case op == OpRefFunc:
		var f uint32
		f, err = r.ReadU32()
		instr.Imm = RefFuncImm{FuncIdx: f}
	case op == OpLocalGet || op == OpLocalSet || op == OpLocalTee:
		var l uint32
		l, err = r.ReadU32()
		instr.Imm = LocalImm{LocalIdx: l}
	case op == OpGlobalGet || op == OpGlobalSet:
		var g uint32
		g, err = r.ReadU32()
		instr.Imm = GlobalImm{GlobalIdx: g}
	case op == OpI32Const:
		var v int32
		v, err = r.ReadS32()
		instr.Imm = I32Imm{Value: v}
	case op == OpI64Const:
		var v int64
		v, err = r.ReadS64()
		instr.Imm = I64Imm{Value: v}
	case op >= OpI32Load && op <= OpI64Store32:
		var m MemoryImm
		m, err = readMemArg(r)
		instr.Imm = m
	case op == OpCatch || op == OpThrow || op == OpRethrow || op == OpDelegate ||
		op == OpTableGet || op == OpTableSet || op == OpMemorySize || op == OpMemoryGrow ||
		op == OpCallRef || op == OpReturnCallRef || op == OpBrOnNull || op == OpBrOnNonNull:
		_, err = r.ReadU32()
	case op == OpCallIndirect || op == OpReturnCallIndirect:
		err = skipU32s(r, 2)
	case op == OpBrTable:
		var n uint32
		if n, err = r.ReadU32(); err == nil {
			err = skipU32s(r, int(n)+1)
		}
	case op == OpSelectType:
		var n uint32
		if n, err = r.ReadU32(); err == nil {
			for i := uint32(0); i < n && err == nil; i++ {
				err = skipValType(r)
			}
		}
	case op == OpTryTable:
		err = skipTryTable(r)
	case op == OpF32Const:
		err = r.Skip(4)
	case op == OpF64Const:
		err = r.Skip(8)
	case op == OpRefNull:
		_, err = r.ReadS33()
	case op == OpPrefixGC:
		instr.Sub, err = r.ReadU32()
		if err == nil {
			err = skipGC(r, instr.Sub)
		}
	case op == OpPrefixMisc:
		instr.Sub, err = r.ReadU32()
		if err == nil {
			err = skipMisc(r, instr.Sub)
		}
	case op == OpPrefixSIMD:
		instr.Sub, err = r.ReadU32()
		if err == nil {
			err = skipSIMD(r, instr.Sub)
		}
	case op == OpPrefixAtomic:
		instr.Sub, err = r.ReadU32()
		if err != nil {
			break
		}
		if instr.Sub == AtomicFence {
			_, err = r.ReadByte()
			break
		}
		var m MemoryImm
		m, err = readMemArg(r)
		instr.Imm = m
	case op == OpUnreachable || op == OpNop || op == OpElse || op == OpThrowRef ||
		op == OpEnd || op == OpReturn || op == OpCatchAll || op == OpDrop || op == OpSelect ||
		(op >= OpI32Eqz && op <= 0xC4) || op == OpRefIsNull || op == OpRefEq || op == OpRefAsNonNul:
		// no immediates
	default:
		err = fmt.Errorf("unknown opcode")
	}
	return err
}

func readBlockType(r *binary.Reader) (int64, error) {
	bt, err := r.ReadS33()
	if err != nil {
		return 0, err
	}
	if bt == refTypeS33(ValRefNull) || bt == refTypeS33(ValRef) {
		_, err = r.ReadS33()
	}
	return bt, err
}

// refTypeS33 is the s33 reading of a single-byte reference type prefix.
func refTypeS33(v ValType) int64 {
	return int64(v) - 0x80
}

func readMemArg(r *binary.Reader) (MemoryImm, error) {
	align, err := r.ReadU32()
	if err != nil {
		return MemoryImm{}, err
	}
	var m MemoryImm
	if align&0x40 != 0 {
		align &^= 0x40
		if m.MemIdx, err = r.ReadU32(); err != nil {
			return MemoryImm{}, err
		}
	}
	m.Align = align
	if m.Offset, err = r.ReadU64(); err != nil {
		return MemoryImm{}, err
	}
	return m, nil
}

func skipU32s(r *binary.Reader, n int) error {
	for i := 0; i < n; i++ {
		if _, err := r.ReadU32(); err != nil {
			return err
		}
	}
	return nil
}

func skipValType(r *binary.Reader) error {
	b, err := r.ReadByte()
	if err != nil {
		return err
	}
	if ValType(b) == ValRefNull || ValType(b) == ValRef {
		_, err = r.ReadS33()
	}
	return err
}

func skipTryTable(r *binary.Reader) error {
	if _, err := readBlockType(r); err != nil {
		return err
	}
	n, err := r.ReadU32()
	if err != nil {
		return err
	}
	for i := uint32(0); i < n; i++ {
		kind, err := r.ReadByte()
		if err != nil {
			return err
		}
		count := 1
		if kind == 0x00 || kind == 0x01 {
			count = 2
		}
		if err := skipU32s(r, count); err != nil {
			return err
		}
	}
	return nil
}

func skipGC(r *binary.Reader, sub uint32) error {
	switch {
	case sub <= 1 || (sub >= 6 && sub <= 7) || (sub >= 11 && sub <= 14) || sub == 16:
		return skipU32s(r, 1)
	case (sub >= 2 && sub <= 5) || (sub >= 8 && sub <= 10) || (sub >= 17 && sub <= 19):
		return skipU32s(r, 2)
	case sub >= 20 && sub <= 23:
		_, err := r.ReadS33()
		return err
	case sub == 24 || sub == 25:
		if _, err := r.ReadByte(); err != nil {
			return err
		}
		if _, err := r.ReadU32(); err != nil {
			return err
		}
		if _, err := r.ReadS33(); err != nil {
			return err
		}
		_, err := r.ReadS33()
		return err
	case sub == 15 || (sub >= 26 && sub <= 30):
		return nil
	}
	return fmt.Errorf("unknown gc sub-opcode %d", sub)
}

func skipMisc(r *binary.Reader, sub uint32) error {
	switch {
	case sub <= 7:
		return nil
	case sub == 8 || sub == 10 || sub == 12 || sub == 14:
		return skipU32s(r, 2)
	case sub == 9 || sub == 11 || sub == 13 || (sub >= 15 && sub <= 17):
		return skipU32s(r, 1)
	}
	return fmt.Errorf("unknown misc sub-opcode %d", sub)
}

func skipSIMD(r *binary.Reader, sub uint32) error {
	switch {
	case sub <= 11 || sub == 92 || sub == 93:
		_, err := readMemArg(r)
		return err
	case sub == 12 || sub == 13:
		return r.Skip(16)
	case sub >= 21 && sub <= 34:
		return r.Skip(1)
	case sub >= 84 && sub <= 91:
		if _, err := readMemArg(r); err != nil {
			return err
		}
		return r.Skip(1)
	}
	return nil
}

func encodeInstruction(w *binary.Writer, instr *Instruction) {
	if instr.Raw != nil {
		w.WriteBytes(instr.Raw)
		return
	}
	w.Byte(instr.Opcode)
	if instr.Opcode >= OpPrefixGC {
		w.WriteU32(instr.Sub)
		if instr.Opcode == OpPrefixAtomic && instr.Sub == AtomicFence {
			w.Byte(0x00)
			return
		}
	}
	switch imm := instr.Imm.(type) {
	case nil:
	case BlockImm:
		w.WriteS64(imm.Type)
	case BranchImm:
		w.WriteU32(imm.LabelIdx)
	case CallImm:
		w.WriteU32(imm.FuncIdx)
	case RefFuncImm:
		w.WriteU32(imm.FuncIdx)
	case LocalImm:
		w.WriteU32(imm.LocalIdx)
	case GlobalImm:
		w.WriteU32(imm.GlobalIdx)
	case I32Imm:
		w.WriteS32(imm.Value)
	case I64Imm:
		w.WriteS64(imm.Value)
	case MemoryImm:
		if imm.MemIdx != 0 {
			w.WriteU32(imm.Align | 0x40)
			w.WriteU32(imm.MemIdx)
		} else {
			w.WriteU32(imm.Align)
		}
		w.WriteU64(imm.Offset)
	default:
		panic(fmt.Sprintf("wasm: cannot encode immediate %T for opcode 0x%02x", imm, instr.Opcode))
	}
}
