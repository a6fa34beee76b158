// Package errors provides structured error types for wasm-threads.
//
// Errors are categorized by Phase (where the error occurred) and Kind (error
// category). Path locates the error, for rewrite failures a function index
// and a byte offset inside its body.
//
// Use the Builder for structured error construction:
//
//	err := errors.New(errors.PhaseTransform, errors.KindUnsupported).
//		At(funcIdx, instr.Offset).
//		Detail("unsupported wait memory index %d", memIdx).
//		Build()
//
// Or use convenience constructors for common patterns:
//
//	err := errors.InvalidState(errors.PhaseThread, "thread already held")
//	err := errors.FuncFailed(7, cause)
//
// All errors implement the standard error interface and support errors.Is/As.
// Two *Error values match under errors.Is when Phase and Kind agree.
package errors
