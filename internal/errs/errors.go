package errs

import (
	"errors"
	"fmt"
)

type Kind int

const (
	// KindTransport: backend unreachable or failing. Recoverable.
	KindTransport Kind = iota
	// KindValidation: rejected locally before any network call.
	KindValidation
	// KindState: operation attempted from a stage that does not allow it.
	KindState
	// KindConflict: the remote side says the order already moved on.
	KindConflict
)

func (k Kind) String() string {
	switch k {
	case KindTransport:
		return "transport"
	case KindValidation:
		return "validation"
	case KindState:
		return "invalid_state"
	case KindConflict:
		return "conflict"
	default:
		return "unknown"
	}
}

// Error is the single error type of the ordering core.
type Error struct {
	Kind    Kind
	Op      string
	Message string
	// Stage is the order stage at the time of a state or conflict error.
	Stage string
	Err   error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.Stage != "" {
		msg = fmt.Sprintf("%s (stage %s)", msg, e.Stage)
	}
	if e.Op != "" {
		return e.Op + ": " + msg
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// ErrEmptyCart is returned when submitting a cart without lines.
var ErrEmptyCart = &Error{Kind: KindValidation, Message: "cart is empty"}

func Transport(op string, err error) *Error {
	return &Error{Kind: KindTransport, Op: op, Err: err}
}

func Validation(message string) *Error {
	return &Error{Kind: KindValidation, Message: message}
}

func Validationf(format string, args ...interface{}) *Error {
	return &Error{Kind: KindValidation, Message: fmt.Sprintf(format, args...)}
}

func State(op, stage string) *Error {
	return &Error{Kind: KindState, Op: op, Message: "not allowed", Stage: stage}
}

func Conflict(message, stage string) *Error {
	return &Error{Kind: KindConflict, Message: message, Stage: stage}
}

// KindOf returns the kind of the first *Error in err's chain.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return 0, false
}

func is(err error, k Kind) bool {
	got, ok := KindOf(err)
	return ok && got == k
}

func IsTransport(err error) bool  { return is(err, KindTransport) }
func IsValidation(err error) bool { return is(err, KindValidation) }
func IsState(err error) bool      { return is(err, KindState) }
func IsConflict(err error) bool   { return is(err, KindConflict) }
