package wasm

import (
	"sort"

	"github.com/wippyai/wasm-threads/wasm/internal/binary"
)

// Name subsection IDs keyed by function index.
const (
	NameSubFunctions byte = 1
	NameSubLocals    byte = 2
	NameSubLabels    byte = 3
)

// Naming associates an index with a name.
type Naming struct {
	Name  string
	Index uint32
}

// IndirectNaming holds the names nested under one function.
type IndirectNaming struct {
	Names []Naming
	Index uint32
}

// NameSubsection is one subsection of the name section. Function, local
// and label subsections are decoded; others keep their raw payload.
type NameSubsection struct {
	Raw      []byte
	Names    []Naming
	Indirect []IndirectNaming
	ID       byte
}

// NameSection is the decoded "name" custom section.
type NameSection struct {
	Subsections []NameSubsection
}

// FuncName returns the debug name of a function, if any.
func (n *NameSection) FuncName(idx uint32) (string, bool) {
	if n == nil {
		return "", false
	}
	for _, sub := range n.Subsections {
		if sub.ID != NameSubFunctions {
			continue
		}
		for _, nm := range sub.Names {
			if nm.Index == idx {
				return nm.Name, true
			}
		}
	}
	return "", false
}

// SetFuncName sets a function name, creating the subsection if needed.
// Entries stay sorted by index.
func (n *NameSection) SetFuncName(idx uint32, name string) {
	at := -1
	for i, sub := range n.Subsections {
		if sub.ID == NameSubFunctions {
			at = i
			break
		}
	}
	if at < 0 {
		// function names follow the module name subsection
		at = 0
		if len(n.Subsections) > 0 && n.Subsections[0].ID == 0 {
			at = 1
		}
		n.Subsections = append(n.Subsections[:at], append([]NameSubsection{{ID: NameSubFunctions}}, n.Subsections[at:]...)...)
	}
	sub := &n.Subsections[at]
	for i := range sub.Names {
		if sub.Names[i].Index == idx {
			sub.Names[i].Name = name
			return
		}
	}
	sub.Names = append(sub.Names, Naming{Index: idx, Name: name})
	sort.SliceStable(sub.Names, func(i, j int) bool { return sub.Names[i].Index < sub.Names[j].Index })
}

// RemapFuncs rewrites every function-keyed index through fn.
func (n *NameSection) RemapFuncs(fn func(uint32) uint32) {
	for i := range n.Subsections {
		sub := &n.Subsections[i]
		switch sub.ID {
		case NameSubFunctions:
			for j := range sub.Names {
				sub.Names[j].Index = fn(sub.Names[j].Index)
			}
		case NameSubLocals, NameSubLabels:
			for j := range sub.Indirect {
				sub.Indirect[j].Index = fn(sub.Indirect[j].Index)
			}
		}
	}
}

func parseNameSection(r *binary.Reader) (*NameSection, error) {
	ns := &NameSection{}
	for r.Len() > 0 {
		id, err := r.ReadByte()
		if err != nil {
			return nil, err
		}
		size, err := r.ReadU32()
		if err != nil {
			return nil, err
		}
		payload, err := r.ReadBytes(int(size))
		if err != nil {
			return nil, err
		}
		sub := NameSubsection{ID: id, Raw: payload}
		sr := binary.NewReader(payload)
		switch id {
		case NameSubFunctions:
			if sub.Names, err = readNameMap(sr); err != nil {
				return nil, err
			}
		case NameSubLocals, NameSubLabels:
			err = readVec(sr, func(uint32) error {
				idx, err := sr.ReadU32()
				if err != nil {
					return err
				}
				names, err := readNameMap(sr)
				sub.Indirect = append(sub.Indirect, IndirectNaming{Index: idx, Names: names})
				return err
			})
			if err != nil {
				return nil, err
			}
		}
		ns.Subsections = append(ns.Subsections, sub)
	}
	return ns, nil
}

func readNameMap(r *binary.Reader) ([]Naming, error) {
	var out []Naming
	err := readVec(r, func(uint32) error {
		idx, err := r.ReadU32()
		if err != nil {
			return err
		}
		name, err := r.ReadName()
		out = append(out, Naming{Index: idx, Name: name})
		return err
	})
	return out, err
}

func writeNameMap(w *binary.Writer, names []Naming) {
	w.WriteU32(uint32(len(names)))
	for _, nm := range names {
		w.WriteU32(nm.Index)
		w.WriteName(nm.Name)
	}
}

func (n *NameSection) encode() []byte {
	w := binary.NewWriter()
	for _, sub := range n.Subsections {
		payload := sub.Raw
		switch sub.ID {
		case NameSubFunctions:
			sw := binary.NewWriter()
			writeNameMap(sw, sub.Names)
			payload = sw.Bytes()
		case NameSubLocals, NameSubLabels:
			sw := binary.NewWriter()
			sw.WriteU32(uint32(len(sub.Indirect)))
			for _, in := range sub.Indirect {
				sw.WriteU32(in.Index)
				writeNameMap(sw, in.Names)
			}
			payload = sw.Bytes()
		}
		w.Byte(sub.ID)
		w.WriteU32(uint32(len(payload)))
		w.WriteBytes(payload)
	}
	return w.Bytes()
}
