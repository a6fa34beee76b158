// Package wasm parses and re-encodes WebAssembly binary modules for
// instruction-level rewriting.
//
// The IR is section-preserving: sections a pass may need to edit (types,
// imports, functions, tables, memories, globals, exports, start, elements,
// code and the "name" custom section) are decoded into Module fields, while
// data, data count, tags and other custom sections are carried as raw bytes.
// Encode writes sections back in their original order and inserts new ones
// at their canonical position.
//
// # Instructions
//
// DecodeInstructions scans a function body with a table covering the MVP
// opcode space plus the exception handling, tail call, typed reference, GC,
// bulk memory, SIMD and threads proposals. Each Instruction keeps its
// original bytes in Raw, so a pass that replaces one instruction leaves every
// other instruction byte-identical:
//
//	instrs, _ := wasm.DecodeInstructions(body.Code)
//	for i := range instrs {
//	    if instrs[i].IsAtomic(wasm.AtomicWait32) {
//	        instrs[i] = wasm.Instruction{Opcode: wasm.OpCall, Imm: wasm.CallImm{FuncIdx: fn}}
//	    }
//	}
//	body.Code = wasm.EncodeInstructions(instrs)
//
// Only immediates that passes act on are decoded; the rest are skipped.
package wasm
