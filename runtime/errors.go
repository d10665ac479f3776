package runtime

import (
	"errors"
	"fmt"
)

// EvalErrorKind classifies recoverable evaluator errors.
type EvalErrorKind uint8

const (
	// OverflowError indicates integer arithmetic overflowed.
	OverflowError EvalErrorKind = iota

	// NegativeShiftCount indicates a shift by a negative amount.
	NegativeShiftCount

	// DivideByZero indicates integer division or modulo by zero.
	DivideByZero
)

// String returns a human-readable name for the error kind.
func (k EvalErrorKind) String() string {
	switch k {
	case OverflowError:
		return "integer overflow"
	case NegativeShiftCount:
		return "negative shift count"
	case DivideByZero:
		return "division by zero"
	default:
		return fmt.Sprintf("EvalErrorKind(%d)", uint8(k))
	}
}

// EvalError is a recoverable error from the short-circuit operator
// evaluator. It is propagated to the caller, never panicked.
type EvalError struct {
	Kind EvalErrorKind
}

func (e *EvalError) Error() string {
	return e.Kind.String()
}

func newEvalError(kind EvalErrorKind) *EvalError {
	return &EvalError{Kind: kind}
}

// IsEvalError reports whether err is an EvalError of the given kind.
func IsEvalError(err error, kind EvalErrorKind) bool {
	var e *EvalError
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}
