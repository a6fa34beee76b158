package waitxform

import (
	"github.com/wippyai/wasm-threads/errors"
	"github.com/wippyai/wasm-threads/wasm"
)

// WaitSite describes one atomic wait found in a module.
type WaitSite struct {
	// Name is the function's debug name, empty when the module has none.
	Name   string
	Form   string // "wait32" or "wait64"
	Reason string // why Transform would reject the site, empty if it would not
	Offset int    // byte offset within the function body code
	Func   uint32
	Mem    wasm.MemoryImm
}

// Supported reports whether Transform accepts the site.
func (s WaitSite) Supported() bool {
	return s.Reason == ""
}

// Inspect lists every atomic wait in wasmData without modifying it.
// Unsupported sites are reported with a Reason rather than failing.
func Inspect(wasmData []byte) ([]WaitSite, error) {
	m, err := wasm.ParseModule(wasmData)
	if err != nil {
		return nil, errors.ParseFailed("module", err)
	}
	numImported := m.NumImportedFuncs()
	var sites []WaitSite
	for i, body := range m.Code {
		funcIdx := numImported + uint32(i)
		instrs, err := wasm.DecodeInstructions(body.Code)
		if err != nil {
			return nil, errors.FuncFailed(funcIdx, errors.ParseFailed("function body", err))
		}
		name, _ := m.Names.FuncName(funcIdx)
		for _, in := range instrs {
			var form string
			switch {
			case in.IsAtomic(wasm.AtomicWait32):
				form = "wait32"
			case in.IsAtomic(wasm.AtomicWait64):
				form = "wait64"
			default:
				continue
			}
			s := WaitSite{Func: funcIdx, Name: name, Offset: in.Offset, Form: form}
			s.Mem, _ = in.Imm.(wasm.MemoryImm)
			if e := checkWait(funcIdx, in); e != nil {
				s.Reason = e.Detail
			}
			sites = append(sites, s)
		}
	}
	return sites, nil
}
