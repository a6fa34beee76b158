package waitxform

import (
	"github.com/wippyai/wasm-threads/errors"
	"github.com/wippyai/wasm-threads/wasm"
)

// shift moves every defined function index up by delta. Imported indices
// below base are unchanged.
type shift struct {
	base  uint32
	delta uint32
}

func newShift(base, delta uint32) shift {
	return shift{base: base, delta: delta}
}

func (s shift) fn(idx uint32) uint32 {
	if idx < s.base {
		return idx
	}
	return idx + s.delta
}

// apply remaps function references in decoded bodies and in every module
// construct that can name a function.
func (s shift) apply(m *wasm.Module, bodies [][]wasm.Instruction) error {
	for _, instrs := range bodies {
		s.instrs(instrs)
	}

	for i := range m.Globals {
		init, err := s.expr(m.Globals[i].Init)
		if err != nil {
			return s.fail("global initializer", i, err)
		}
		m.Globals[i].Init = init
	}
	for i := range m.Tables {
		if m.Tables[i].Init == nil {
			continue
		}
		init, err := s.expr(m.Tables[i].Init)
		if err != nil {
			return s.fail("table initializer", i, err)
		}
		m.Tables[i].Init = init
	}
	for i := range m.Elements {
		el := &m.Elements[i]
		for j := range el.FuncIdxs {
			el.FuncIdxs[j] = s.fn(el.FuncIdxs[j])
		}
		for j := range el.Exprs {
			expr, err := s.expr(el.Exprs[j])
			if err != nil {
				return s.fail("element expression", i, err)
			}
			el.Exprs[j] = expr
		}
	}
	for i := range m.Exports {
		if m.Exports[i].Kind == wasm.KindFunc {
			m.Exports[i].Idx = s.fn(m.Exports[i].Idx)
		}
	}
	if m.Start != nil {
		start := s.fn(*m.Start)
		m.Start = &start
	}
	if m.Names != nil {
		m.Names.RemapFuncs(s.fn)
	}
	return nil
}

func (s shift) instrs(instrs []wasm.Instruction) bool {
	changed := false
	for i := range instrs {
		in := &instrs[i]
		switch imm := in.Imm.(type) {
		case wasm.CallImm:
			if to := s.fn(imm.FuncIdx); to != imm.FuncIdx {
				in.SetImm(wasm.CallImm{FuncIdx: to})
				changed = true
			}
		case wasm.RefFuncImm:
			if to := s.fn(imm.FuncIdx); to != imm.FuncIdx {
				in.SetImm(wasm.RefFuncImm{FuncIdx: to})
				changed = true
			}
		}
	}
	return changed
}

// expr remaps a constant expression, returning the input slice when nothing
// references a function.
func (s shift) expr(code []byte) ([]byte, error) {
	instrs, err := wasm.DecodeInstructions(code)
	if err != nil {
		return nil, err
	}
	if !s.instrs(instrs) {
		return code, nil
	}
	return wasm.EncodeInstructions(instrs), nil
}

func (s shift) fail(what string, idx int, err error) error {
	return errors.New(errors.PhaseTransform, errors.KindInvalidData).
		Path(what).
		Value(idx).
		Detail("decode %s %d", what, idx).
		Cause(err).
		Build()
}
