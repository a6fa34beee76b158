package errors

import (
	"fmt"
	"strings"
)

// Phase indicates where in processing the error occurred
type Phase string

const (
	PhaseParse     Phase = "parse"     // wasm binary decoding
	PhaseTransform Phase = "transform" // instruction rewriting
	PhaseSchedule  Phase = "schedule"  // running futures on a loop
	PhaseThread    Phase = "thread"    // thread spawn, hold and release
	PhaseEngine    Phase = "engine"    // wazero host integration
	PhaseConfig    Phase = "config"    // settings loading
)

// Kind categorizes the error
type Kind string

const (
	KindUnsupported   Kind = "unsupported"
	KindNotFound      Kind = "not_found"
	KindInvalidInput  Kind = "invalid_input"
	KindInvalidData   Kind = "invalid_data"
	KindInvalidState  Kind = "invalid_state"
	KindAlreadyExists Kind = "already_exists"
	KindTimeout       Kind = "timeout"
	KindInternal      Kind = "internal"
)

// Error is the structured error type used throughout the module
type Error struct {
	Value  any
	Cause  error
	Phase  Phase
	Kind   Kind
	Detail string
	Path   []string
}

// Error implements the error interface
func (e *Error) Error() string {
	var b strings.Builder

	b.WriteByte('[')
	b.WriteString(string(e.Phase))
	b.WriteString("] ")
	b.WriteString(string(e.Kind))

	if len(e.Path) > 0 {
		b.WriteString(" at ")
		b.WriteString(strings.Join(e.Path, "/"))
	}

	if e.Detail != "" {
		b.WriteString(": ")
		b.WriteString(e.Detail)
	}

	if e.Cause != nil {
		b.WriteString(" (caused by: ")
		b.WriteString(e.Cause.Error())
		b.WriteByte(')')
	}

	return b.String()
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target matches this error
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Phase == t.Phase && e.Kind == t.Kind
	}
	return false
}

// Builder provides structured error construction
type Builder struct {
	err Error
}

// New creates a new error builder
func New(phase Phase, kind Kind) *Builder {
	return &Builder{
		err: Error{
			Phase: phase,
			Kind:  kind,
		},
	}
}

// Path sets the location path
func (b *Builder) Path(path ...string) *Builder {
	b.err.Path = path
	return b
}

// At sets the location to an instruction offset inside a function body
func (b *Builder) At(funcIdx uint32, offset int) *Builder {
	b.err.Path = []string{fmt.Sprintf("func[%d]", funcIdx), fmt.Sprintf("+%d", offset)}
	return b
}

// Value sets the offending value
func (b *Builder) Value(v any) *Builder {
	b.err.Value = v
	return b
}

// Cause sets the underlying error
func (b *Builder) Cause(err error) *Builder {
	b.err.Cause = err
	return b
}

// Detail sets the human-readable detail message
func (b *Builder) Detail(msg string, args ...any) *Builder {
	if len(args) > 0 {
		b.err.Detail = fmt.Sprintf(msg, args...)
	} else {
		b.err.Detail = msg
	}
	return b
}

// Build returns the constructed error
func (b *Builder) Build() *Error {
	return &b.err
}

// NotFound creates a not-found error
func NotFound(phase Phase, what, name string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindNotFound,
		Detail: fmt.Sprintf("%s %q not found", what, name),
	}
}

// InvalidInput creates an invalid input error
func InvalidInput(phase Phase, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindInvalidInput,
		Detail: detail,
	}
}

// InvalidState creates an error for an operation made in the wrong lifecycle state
func InvalidState(phase Phase, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindInvalidState,
		Detail: detail,
	}
}

// Wrap wraps an existing error with additional context
func Wrap(phase Phase, kind Kind, cause error, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   kind,
		Detail: detail,
		Cause:  cause,
	}
}

// ParseFailed creates a decoding error
func ParseFailed(what string, cause error) *Error {
	return &Error{
		Phase:  PhaseParse,
		Kind:   KindInvalidData,
		Detail: fmt.Sprintf("parse %s", what),
		Cause:  cause,
	}
}

// FuncFailed wraps a per-function rewrite failure
func FuncFailed(funcIdx uint32, cause error) *Error {
	return &Error{
		Phase:  PhaseTransform,
		Kind:   kindOf(cause, KindInvalidData),
		Detail: fmt.Sprintf("processing function %d failed", funcIdx),
		Cause:  cause,
		Value:  funcIdx,
	}
}

// UnsupportedAt creates an unsupported instruction error at a body offset
func UnsupportedAt(funcIdx uint32, offset int, detail string, args ...any) *Error {
	return New(PhaseTransform, KindUnsupported).At(funcIdx, offset).Detail(detail, args...).Build()
}

// kindOf returns the kind of a wrapped *Error, or def.
func kindOf(err error, def Kind) Kind {
	if e, ok := err.(*Error); ok {
		return e.Kind
	}
	return def
}
