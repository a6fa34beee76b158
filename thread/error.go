package thread

import "fmt"

type reason int

const (
	reasonAborted reason = iota
	reasonPanicked
	reasonFailed
)

// JoinError is the terminal state of a task that did not produce a value.
// Exactly one of IsCancelled, IsPanic and IsFailed holds.
type JoinError struct {
	reason reason
	panic  any
	stack  []byte
}

var (
	errAborted = &JoinError{reason: reasonAborted}
	errFailed  = &JoinError{reason: reasonFailed}
)

func panicked(v any, stack []byte) *JoinError {
	return &JoinError{reason: reasonPanicked, panic: v, stack: stack}
}

func (e *JoinError) Error() string {
	switch e.reason {
	case reasonAborted:
		return "task was cancelled"
	case reasonPanicked:
		if msg, ok := e.message(); ok {
			return "task panicked with message " + msg
		}
		return "task panicked"
	default:
		return "task failed"
	}
}

// IsCancelled reports whether the task was aborted.
func (e *JoinError) IsCancelled() bool { return e.reason == reasonAborted }

// IsPanic reports whether the task panicked.
func (e *JoinError) IsPanic() bool { return e.reason == reasonPanicked }

// IsFailed reports whether the thread exited without a result.
func (e *JoinError) IsFailed() bool { return e.reason == reasonFailed }

// Panic returns the value the task panicked with.
func (e *JoinError) Panic() (any, bool) {
	return e.panic, e.reason == reasonPanicked
}

// PanicMessage returns the panic value when it is a string or an error,
// and "" otherwise.
func (e *JoinError) PanicMessage() string {
	msg, _ := e.message()
	return msg
}

// Stack returns the goroutine stack captured at the panic, if any.
func (e *JoinError) Stack() []byte { return e.stack }

func (e *JoinError) message() (string, bool) {
	if e.reason != reasonPanicked {
		return "", false
	}
	switch v := e.panic.(type) {
	case string:
		return v, true
	case error:
		return v.Error(), true
	case fmt.Stringer:
		return v.String(), true
	}
	return "", false
}

// Is matches join errors with the same reason, so errors.Is(err,
// thread.ErrCancelled) works.
func (e *JoinError) Is(target error) bool {
	t, ok := target.(*JoinError)
	return ok && t.reason == e.reason
}

// Sentinels for errors.Is.
var (
	ErrCancelled error = errAborted
	ErrPanicked  error = &JoinError{reason: reasonPanicked}
	ErrFailed    error = errFailed
)
