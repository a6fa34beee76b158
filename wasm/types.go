package wasm

// Module is a parsed WebAssembly module. Sections the passes in this
// repository edit are decoded into fields; everything else, including data,
// tags and unknown custom sections, is carried as raw bytes and written back
// unchanged by Encode.
type Module struct {
	Start    *uint32
	Names    *NameSection
	Types    []TypeEntry
	Imports  []Import
	Funcs    []uint32
	Tables   []Table
	Memories []Memory
	Globals  []Global
	Exports  []Export
	Elements []Element
	Code     []FuncBody

	sections []section
}

type section struct {
	Name string
	Data []byte
	ID   byte
}

// TypeEntry is one entry of the type section. Rec groups define several
// types in a single entry.
type TypeEntry struct {
	Func  *FuncType
	Raw   []byte
	Count uint32
}

// FuncType is a function signature over single-byte value types.
type FuncType struct {
	Params  []ValType
	Results []ValType
}

// Import is an import entry. Desc holds the encoded descriptor after the kind byte.
type Import struct {
	Module  string
	Name    string
	Desc    []byte
	TypeIdx uint32
	Kind    byte
}

// Table is a table definition with an optional initializer expression.
type Table struct {
	Type []byte
	Init []byte
}

// Memory is a memory definition.
type Memory struct {
	Type   []byte
	Shared bool
}

// Global is a global definition.
type Global struct {
	Type []byte
	Init []byte
}

// Export is an export entry.
type Export struct {
	Name string
	Idx  uint32
	Kind byte
}

// Element is an element segment in any of its eight encodings.
type Element struct {
	Offset   []byte   // active segments
	Type     []byte   // elemkind or reftype
	FuncIdxs []uint32 // flags 0-3
	Exprs    [][]byte // flags 4-7
	Flags    uint32
	Table    uint32
}

// FuncBody is one code section entry.
type FuncBody struct {
	Locals []byte // encoded local declarations, including the count
	Code   []byte // expression, including the final end
}

// NumImportedFuncs returns the number of function imports.
func (m *Module) NumImportedFuncs() uint32 {
	return m.countImports(KindFunc)
}

// NumImportedGlobals returns the number of global imports.
func (m *Module) NumImportedGlobals() uint32 {
	return m.countImports(KindGlobal)
}

// NumImportedMemories returns the number of memory imports.
func (m *Module) NumImportedMemories() uint32 {
	return m.countImports(KindMemory)
}

func (m *Module) countImports(kind byte) uint32 {
	var n uint32
	for _, imp := range m.Imports {
		if imp.Kind == kind {
			n++
		}
	}
	return n
}

// NumTypes returns the size of the type index space.
func (m *Module) NumTypes() uint32 {
	var n uint32
	for _, t := range m.Types {
		n += t.Count
	}
	return n
}

// HasMemory reports whether the module imports or defines a memory.
func (m *Module) HasMemory() bool {
	return m.NumImportedMemories() > 0 || len(m.Memories) > 0
}

// FindExport returns the export with the given name.
func (m *Module) FindExport(name string) (Export, bool) {
	for _, e := range m.Exports {
		if e.Name == name {
			return e, true
		}
	}
	return Export{}, false
}

// FuncType returns the signature at type index idx, or nil when the index
// is out of range or refers to a non-function or GC-typed entry.
func (m *Module) FuncType(idx uint32) *FuncType {
	var base uint32
	for _, t := range m.Types {
		if idx < base+t.Count {
			if t.Count == 1 {
				return t.Func
			}
			return nil
		}
		base += t.Count
	}
	return nil
}

// AddFuncType returns the index of an existing plain function type equal to
// ft, appending a new entry when none matches.
func (m *Module) AddFuncType(ft FuncType) uint32 {
	var idx uint32
	for _, t := range m.Types {
		if t.Count == 1 && t.Func != nil && t.Func.equal(ft) {
			return idx
		}
		idx += t.Count
	}
	m.Types = append(m.Types, TypeEntry{Func: &ft, Count: 1, Raw: encodeFuncType(ft)})
	return idx
}

func (f *FuncType) equal(o FuncType) bool {
	if len(f.Params) != len(o.Params) || len(f.Results) != len(o.Results) {
		return false
	}
	for i := range f.Params {
		if f.Params[i] != o.Params[i] {
			return false
		}
	}
	for i := range f.Results {
		if f.Results[i] != o.Results[i] {
			return false
		}
	}
	return true
}

// GlobalType encodes a global type over a single-byte value type.
func GlobalType(vt ValType, mutable bool) []byte {
	mut := byte(0)
	if mutable {
		mut = 1
	}
	return []byte{byte(vt), mut}
}

// MemoryType encodes limits for a 32-bit memory.
func MemoryType(min uint32, max *uint32, shared bool) []byte {
	flags := byte(0)
	if max != nil {
		flags |= 0x01
	}
	if shared {
		flags |= 0x02
	}
	out := []byte{flags}
	out = appendU32(out, min)
	if max != nil {
		out = appendU32(out, *max)
	}
	return out
}
