package wasm

import (
	"errors"
	"fmt"

	"github.com/wippyai/wasm-threads/wasm/internal/binary"
)

// Parsing errors returned by ParseModule.
var (
	ErrInvalidMagic   = errors.New("invalid wasm magic number")
	ErrInvalidVersion = errors.New("invalid wasm version")
)

// ParseModule parses a WebAssembly binary module.
func ParseModule(data []byte) (*Module, error) {
	r := binary.NewReader(data)

	magic, err := r.ReadU32LE()
	if err != nil {
		return nil, r.WrapError("header", err)
	}
	if magic != Magic {
		return nil, ErrInvalidMagic
	}
	version, err := r.ReadU32LE()
	if err != nil {
		return nil, r.WrapError("header", err)
	}
	if version != Version {
		return nil, ErrInvalidVersion
	}

	m := &Module{}
	var lastOrder int
	for r.Len() > 0 {
		id, err := r.ReadByte()
		if err != nil {
			return nil, r.WrapError("section header", err)
		}
		if id != SectionCustom {
			order := sectionOrder(id)
			if order == 0 {
				return nil, fmt.Errorf("unknown section ID: 0x%02x", id)
			}
			if order <= lastOrder {
				return nil, fmt.Errorf("section %d appears out of order", id)
			}
			lastOrder = order
		}
		size, err := r.ReadU32()
		if err != nil {
			return nil, r.WrapError("section size", err)
		}
		payload, err := r.ReadBytes(int(size))
		if err != nil {
			return nil, r.WrapError("section data", err)
		}

		s := section{ID: id, Data: payload}
		if err := m.parseSection(&s); err != nil {
			return nil, err
		}
		m.sections = append(m.sections, s)
	}

	if len(m.Funcs) != len(m.Code) {
		return nil, fmt.Errorf("function and code section have inconsistent lengths: %d != %d", len(m.Funcs), len(m.Code))
	}
	return m, nil
}

func (m *Module) parseSection(s *section) error {
	sr := binary.NewReader(s.Data)
	var err error
	var name string
	switch s.ID {
	case SectionCustom:
		if s.Name, err = sr.ReadName(); err != nil {
			return fmt.Errorf("custom section: %w", err)
		}
		if s.Name == "name" {
			// a malformed name section is kept raw rather than rejected
			if names, err := parseNameSection(sr); err == nil {
				m.Names = names
			}
		}
		return nil
	case SectionType:
		name, err = "type", m.parseTypes(sr)
	case SectionImport:
		name, err = "import", m.parseImports(sr)
	case SectionFunction:
		name, err = "function", m.parseFunctions(sr)
	case SectionTable:
		name, err = "table", m.parseTables(sr)
	case SectionMemory:
		name, err = "memory", m.parseMemories(sr)
	case SectionGlobal:
		name, err = "global", m.parseGlobals(sr)
	case SectionExport:
		name, err = "export", m.parseExports(sr)
	case SectionStart:
		name = "start"
		var idx uint32
		if idx, err = sr.ReadU32(); err == nil {
			m.Start = &idx
		}
	case SectionElement:
		name, err = "element", m.parseElements(sr)
	case SectionCode:
		name, err = "code", m.parseCode(sr)
	default:
		return nil
	}
	if err != nil {
		return fmt.Errorf("%s section: %w", name, err)
	}
	if sr.Len() != 0 {
		return fmt.Errorf("%s section: %d trailing bytes", name, sr.Len())
	}
	return nil
}

func readVec(r *binary.Reader, fn func(i uint32) error) error {
	n, err := r.ReadU32()
	if err != nil {
		return err
	}
	for i := uint32(0); i < n; i++ {
		if err := fn(i); err != nil {
			return fmt.Errorf("entry %d: %w", i, err)
		}
	}
	return nil
}

func (m *Module) parseTypes(r *binary.Reader) error {
	return readVec(r, func(uint32) error {
		start := r.Position()
		form, err := r.ReadByte()
		if err != nil {
			return err
		}
		entry := TypeEntry{Count: 1}
		switch form {
		case RecTypeByte:
			n, err := r.ReadU32()
			if err != nil {
				return err
			}
			for i := uint32(0); i < n; i++ {
				sub, err := r.ReadByte()
				if err != nil {
					return err
				}
				if err := skipSubType(r, sub); err != nil {
					return err
				}
			}
			entry.Count = n
		case FuncTypeByte:
			ft, err := readFuncType(r)
			if err != nil {
				return err
			}
			entry.Func = ft
		default:
			if err := skipSubType(r, form); err != nil {
				return err
			}
		}
		entry.Raw = r.Slice(start, r.Position())
		m.Types = append(m.Types, entry)
		return nil
	})
}

// readFuncType decodes a function type body. Signatures that use typed
// references return nil after skipping.
func readFuncType(r *binary.Reader) (*FuncType, error) {
	ft := &FuncType{}
	simple := true
	readList := func(dst *[]ValType) error {
		return readVec(r, func(uint32) error {
			b, err := r.ReadByte()
			if err != nil {
				return err
			}
			if ValType(b) == ValRefNull || ValType(b) == ValRef {
				simple = false
				_, err = r.ReadS33()
				return err
			}
			*dst = append(*dst, ValType(b))
			return nil
		})
	}
	if err := readList(&ft.Params); err != nil {
		return nil, err
	}
	if err := readList(&ft.Results); err != nil {
		return nil, err
	}
	if !simple {
		return nil, nil
	}
	return ft, nil
}

func skipSubType(r *binary.Reader, form byte) error {
	if form == SubTypeByte || form == SubFinalByte {
		n, err := r.ReadU32()
		if err != nil {
			return err
		}
		if err := skipU32s(r, int(n)); err != nil {
			return err
		}
		if form, err = r.ReadByte(); err != nil {
			return err
		}
	}
	switch form {
	case FuncTypeByte:
		_, err := readFuncType(r)
		return err
	case StructTypeByte:
		return readVec(r, func(uint32) error { return skipFieldType(r) })
	case ArrayTypeByte:
		return skipFieldType(r)
	}
	return fmt.Errorf("unknown type form 0x%02x", form)
}

func skipFieldType(r *binary.Reader) error {
	if err := skipValType(r); err != nil {
		return err
	}
	_, err := r.ReadByte()
	return err
}

func (m *Module) parseImports(r *binary.Reader) error {
	return readVec(r, func(uint32) error {
		var imp Import
		var err error
		if imp.Module, err = r.ReadName(); err != nil {
			return err
		}
		if imp.Name, err = r.ReadName(); err != nil {
			return err
		}
		if imp.Kind, err = r.ReadByte(); err != nil {
			return err
		}
		start := r.Position()
		switch imp.Kind {
		case KindFunc:
			imp.TypeIdx, err = r.ReadU32()
		case KindTable:
			err = skipTableType(r)
		case KindMemory:
			_, err = skipLimits(r)
		case KindGlobal:
			err = skipFieldType(r)
		case KindTag:
			if _, err = r.ReadByte(); err == nil {
				imp.TypeIdx, err = r.ReadU32()
			}
		default:
			err = fmt.Errorf("unknown import kind 0x%02x", imp.Kind)
		}
		if err != nil {
			return err
		}
		imp.Desc = r.Slice(start, r.Position())
		m.Imports = append(m.Imports, imp)
		return nil
	})
}

func (m *Module) parseFunctions(r *binary.Reader) error {
	return readVec(r, func(uint32) error {
		idx, err := r.ReadU32()
		m.Funcs = append(m.Funcs, idx)
		return err
	})
}

func skipTableType(r *binary.Reader) error {
	if err := skipValType(r); err != nil {
		return err
	}
	_, err := skipLimits(r)
	return err
}

// skipLimits skips table or memory limits and reports the shared flag.
func skipLimits(r *binary.Reader) (shared bool, err error) {
	flags, err := r.ReadByte()
	if err != nil {
		return false, err
	}
	if _, err := r.ReadU64(); err != nil {
		return false, err
	}
	if flags&0x01 != 0 {
		if _, err := r.ReadU64(); err != nil {
			return false, err
		}
	}
	if flags&0x08 != 0 {
		if _, err := r.ReadU32(); err != nil {
			return false, err
		}
	}
	return flags&0x02 != 0, nil
}

func (m *Module) parseTables(r *binary.Reader) error {
	return readVec(r, func(uint32) error {
		var t Table
		b := r.Slice(r.Position(), r.Position()+min(2, r.Len()))
		if len(b) == 2 && b[0] == 0x40 && b[1] == 0x00 {
			_ = r.Skip(2)
			start := r.Position()
			if err := skipTableType(r); err != nil {
				return err
			}
			t.Type = r.Slice(start, r.Position())
			init, err := readExpr(r)
			if err != nil {
				return err
			}
			t.Init = init
		} else {
			start := r.Position()
			if err := skipTableType(r); err != nil {
				return err
			}
			t.Type = r.Slice(start, r.Position())
		}
		m.Tables = append(m.Tables, t)
		return nil
	})
}

func (m *Module) parseMemories(r *binary.Reader) error {
	return readVec(r, func(uint32) error {
		start := r.Position()
		shared, err := skipLimits(r)
		if err != nil {
			return err
		}
		m.Memories = append(m.Memories, Memory{Type: r.Slice(start, r.Position()), Shared: shared})
		return nil
	})
}

func (m *Module) parseGlobals(r *binary.Reader) error {
	return readVec(r, func(uint32) error {
		start := r.Position()
		if err := skipFieldType(r); err != nil {
			return err
		}
		g := Global{Type: r.Slice(start, r.Position())}
		init, err := readExpr(r)
		if err != nil {
			return err
		}
		g.Init = init
		m.Globals = append(m.Globals, g)
		return nil
	})
}

func (m *Module) parseExports(r *binary.Reader) error {
	return readVec(r, func(uint32) error {
		var e Export
		var err error
		if e.Name, err = r.ReadName(); err != nil {
			return err
		}
		if e.Kind, err = r.ReadByte(); err != nil {
			return err
		}
		if e.Idx, err = r.ReadU32(); err != nil {
			return err
		}
		m.Exports = append(m.Exports, e)
		return nil
	})
}

func (m *Module) parseElements(r *binary.Reader) error {
	return readVec(r, func(uint32) error {
		var e Element
		var err error
		if e.Flags, err = r.ReadU32(); err != nil {
			return err
		}
		if e.Flags > 7 {
			return fmt.Errorf("invalid element flags %d", e.Flags)
		}
		passiveOrDeclared := e.Flags&0x01 != 0
		explicitTable := e.Flags&0x02 != 0
		usesExprs := e.Flags&0x04 != 0

		if explicitTable && !passiveOrDeclared {
			if e.Table, err = r.ReadU32(); err != nil {
				return err
			}
		}
		if !passiveOrDeclared {
			if e.Offset, err = readExpr(r); err != nil {
				return err
			}
		}
		if passiveOrDeclared || explicitTable {
			start := r.Position()
			if usesExprs {
				err = skipValType(r)
			} else {
				_, err = r.ReadByte()
			}
			if err != nil {
				return err
			}
			e.Type = r.Slice(start, r.Position())
		}
		err = readVec(r, func(uint32) error {
			if usesExprs {
				expr, err := readExpr(r)
				e.Exprs = append(e.Exprs, expr)
				return err
			}
			idx, err := r.ReadU32()
			e.FuncIdxs = append(e.FuncIdxs, idx)
			return err
		})
		if err != nil {
			return err
		}
		m.Elements = append(m.Elements, e)
		return nil
	})
}

func (m *Module) parseCode(r *binary.Reader) error {
	return readVec(r, func(uint32) error {
		size, err := r.ReadU32()
		if err != nil {
			return err
		}
		body, err := r.ReadBytes(int(size))
		if err != nil {
			return err
		}
		br := binary.NewReader(body)
		err = readVec(br, func(uint32) error {
			if _, err := br.ReadU32(); err != nil {
				return err
			}
			return skipValType(br)
		})
		if err != nil {
			return fmt.Errorf("locals: %w", err)
		}
		m.Code = append(m.Code, FuncBody{
			Locals: body[:br.Position()],
			Code:   body[br.Position():],
		})
		return nil
	})
}
