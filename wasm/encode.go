package wasm

import (
	"github.com/wippyai/wasm-threads/wasm/internal/binary"
)

// Encode serializes the module. Sections keep their original order; decoded
// sections are re-encoded from the fields, new ones are inserted at their
// canonical position and raw sections are copied unchanged.
func (m *Module) Encode() []byte {
	w := binary.NewWriter()
	w.WriteU32LE(Magic)
	w.WriteU32LE(Version)
	for _, s := range m.layout() {
		w.Byte(s.ID)
		w.WriteU32(uint32(len(s.Data)))
		w.WriteBytes(s.Data)
	}
	return w.Bytes()
}

func (m *Module) layout() []section {
	pending := m.encodedSections()
	out := make([]section, 0, len(m.sections)+len(pending))
	hasNames := false

	for _, s := range m.sections {
		if s.ID == SectionCustom {
			if s.Name == "name" && m.Names != nil {
				hasNames = true
				s.Data = encodeCustom("name", m.Names.encode())
			}
			out = append(out, s)
			continue
		}
		if data, ok := pending[s.ID]; ok {
			s.Data = data
			delete(pending, s.ID)
		}
		out = append(out, s)
	}

	for _, id := range []byte{
		SectionType, SectionImport, SectionFunction, SectionTable, SectionMemory,
		SectionGlobal, SectionExport, SectionStart, SectionElement, SectionCode,
	} {
		data, ok := pending[id]
		if !ok {
			continue
		}
		at := 0
		for i, s := range out {
			if s.ID != SectionCustom && sectionOrder(s.ID) < sectionOrder(id) {
				at = i + 1
			}
		}
		out = append(out[:at], append([]section{{ID: id, Data: data}}, out[at:]...)...)
	}

	if m.Names != nil && !hasNames {
		out = append(out, section{ID: SectionCustom, Name: "name", Data: encodeCustom("name", m.Names.encode())})
	}
	return out
}

// encodedSections returns payloads for decoded sections that are either
// non-empty or were present in the input.
func (m *Module) encodedSections() map[byte][]byte {
	present := make(map[byte]bool, len(m.sections))
	for _, s := range m.sections {
		present[s.ID] = true
	}
	out := make(map[byte][]byte)
	add := func(id byte, n int, encode func(w *binary.Writer)) {
		if n == 0 && !present[id] {
			return
		}
		w := binary.NewWriter()
		encode(w)
		out[id] = w.Bytes()
	}

	add(SectionType, len(m.Types), func(w *binary.Writer) {
		w.WriteU32(uint32(len(m.Types)))
		for _, t := range m.Types {
			w.WriteBytes(t.Raw)
		}
	})
	add(SectionImport, len(m.Imports), func(w *binary.Writer) {
		w.WriteU32(uint32(len(m.Imports)))
		for _, imp := range m.Imports {
			w.WriteName(imp.Module)
			w.WriteName(imp.Name)
			w.Byte(imp.Kind)
			w.WriteBytes(imp.Desc)
		}
	})
	add(SectionFunction, len(m.Funcs), func(w *binary.Writer) {
		w.WriteU32(uint32(len(m.Funcs)))
		for _, f := range m.Funcs {
			w.WriteU32(f)
		}
	})
	add(SectionTable, len(m.Tables), func(w *binary.Writer) {
		w.WriteU32(uint32(len(m.Tables)))
		for _, t := range m.Tables {
			if t.Init != nil {
				w.Byte(0x40)
				w.Byte(0x00)
			}
			w.WriteBytes(t.Type)
			w.WriteBytes(t.Init)
		}
	})
	add(SectionMemory, len(m.Memories), func(w *binary.Writer) {
		w.WriteU32(uint32(len(m.Memories)))
		for _, mem := range m.Memories {
			w.WriteBytes(mem.Type)
		}
	})
	add(SectionGlobal, len(m.Globals), func(w *binary.Writer) {
		w.WriteU32(uint32(len(m.Globals)))
		for _, g := range m.Globals {
			w.WriteBytes(g.Type)
			w.WriteBytes(g.Init)
		}
	})
	add(SectionExport, len(m.Exports), func(w *binary.Writer) {
		w.WriteU32(uint32(len(m.Exports)))
		for _, e := range m.Exports {
			w.WriteName(e.Name)
			w.Byte(e.Kind)
			w.WriteU32(e.Idx)
		}
	})
	if m.Start != nil {
		w := binary.NewWriter()
		w.WriteU32(*m.Start)
		out[SectionStart] = w.Bytes()
	}
	add(SectionElement, len(m.Elements), func(w *binary.Writer) {
		w.WriteU32(uint32(len(m.Elements)))
		for _, e := range m.Elements {
			encodeElement(w, e)
		}
	})
	add(SectionCode, len(m.Code), func(w *binary.Writer) {
		w.WriteU32(uint32(len(m.Code)))
		for _, body := range m.Code {
			w.WriteU32(uint32(len(body.Locals) + len(body.Code)))
			w.WriteBytes(body.Locals)
			w.WriteBytes(body.Code)
		}
	})
	return out
}

func encodeElement(w *binary.Writer, e Element) {
	w.WriteU32(e.Flags)
	if e.Flags&0x03 == 0x02 {
		w.WriteU32(e.Table)
	}
	w.WriteBytes(e.Offset)
	w.WriteBytes(e.Type)
	if e.Flags&0x04 != 0 {
		w.WriteU32(uint32(len(e.Exprs)))
		for _, expr := range e.Exprs {
			w.WriteBytes(expr)
		}
		return
	}
	w.WriteU32(uint32(len(e.FuncIdxs)))
	for _, idx := range e.FuncIdxs {
		w.WriteU32(idx)
	}
}

func encodeCustom(name string, payload []byte) []byte {
	w := binary.NewWriter()
	w.WriteName(name)
	w.WriteBytes(payload)
	return w.Bytes()
}

func encodeFuncType(ft FuncType) []byte {
	w := binary.NewWriter()
	w.Byte(FuncTypeByte)
	w.WriteU32(uint32(len(ft.Params)))
	for _, p := range ft.Params {
		w.Byte(byte(p))
	}
	w.WriteU32(uint32(len(ft.Results)))
	for _, r := range ft.Results {
		w.Byte(byte(r))
	}
	return w.Bytes()
}

// EncodeLocals encodes local declarations as (count, type) runs.
func EncodeLocals(locals []ValType) []byte {
	w := binary.NewWriter()
	var runs [][2]uint32
	for _, l := range locals {
		if n := len(runs); n > 0 && runs[n-1][1] == uint32(l) {
			runs[n-1][0]++
			continue
		}
		runs = append(runs, [2]uint32{1, uint32(l)})
	}
	w.WriteU32(uint32(len(runs)))
	for _, run := range runs {
		w.WriteU32(run[0])
		w.Byte(byte(run[1]))
	}
	return w.Bytes()
}

func appendU32(dst []byte, v uint32) []byte {
	return binary.AppendU64(dst, uint64(v))
}

// EncodeU32 returns v as unsigned LEB128.
func EncodeU32(v uint32) []byte {
	return appendU32(nil, v)
}
