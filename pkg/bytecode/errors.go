package bytecode

import (
	"errors"
	"fmt"

	"github.com/chazu/sphinx/pkg/ast"
)

// ErrorKind classifies compilation failures.
type ErrorKind uint8

const (
	// ErrInternalLimit is raised when a fixed-width encoding limit is
	// exceeded: more than 256 locals per frame, more than 65536
	// constants per chunk, and so on.
	ErrInternalLimit ErrorKind = iota

	// ErrCantAssignImmutable is raised when assigning to a name
	// declared immutable.
	ErrCantAssignImmutable

	// ErrUndefinedControlFlow is raised when break or continue has no
	// matching enclosing scope.
	ErrUndefinedControlFlow

	// ErrInvalidAssignmentTarget is raised when the left side of an
	// assignment is not a name.
	ErrInvalidAssignmentTarget

	// ErrInvalidDeclaration is raised when a declaration sits beneath
	// expression temporaries, where its slot cannot coincide with its
	// stack position.
	ErrInvalidDeclaration
)

func (k ErrorKind) String() string {
	switch k {
	case ErrInternalLimit:
		return "internal limit"
	case ErrCantAssignImmutable:
		return "can't assign to immutable"
	case ErrUndefinedControlFlow:
		return "undefined control flow"
	case ErrInvalidAssignmentTarget:
		return "invalid assignment target"
	case ErrInvalidDeclaration:
		return "invalid declaration"
	default:
		return fmt.Sprintf("ErrorKind(%d)", uint8(k))
	}
}

// CompileError is a single diagnostic produced during code generation.
type CompileError struct {
	Kind    ErrorKind
	Message string
	Symbol  *ast.DebugSymbol
	Cause   error
}

func newCompileError(kind ErrorKind, message string) *CompileError {
	return &CompileError{Kind: kind, Message: message}
}

func (e *CompileError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Kind, e.Message)
	}
	return e.Kind.String()
}

func (e *CompileError) Unwrap() error {
	return e.Cause
}

// WithSymbol attaches a source span to the error if it does not
// already carry one.
func (e *CompileError) WithSymbol(sym ast.DebugSymbol) *CompileError {
	if e.Symbol == nil {
		s := sym
		e.Symbol = &s
	}
	return e
}

// IsCompileError reports whether err is a CompileError of the given
// kind.
func IsCompileError(err error, kind ErrorKind) bool {
	var ce *CompileError
	if errors.As(err, &ce) {
		return ce.Kind == kind
	}
	return false
}

// CompileErrors aggregates the diagnostics from one compilation. The
// compiler records errors per statement and keeps going, so a single
// run surfaces every failing statement.
type CompileErrors []*CompileError

func (errs CompileErrors) Unwrap() []error {
	unwrapped := make([]error, len(errs))
	for i, e := range errs {
		unwrapped[i] = e
	}
	return unwrapped
}

func (errs CompileErrors) Error() string {
	switch len(errs) {
	case 0:
		return "no errors"
	case 1:
		return errs[0].Error()
	default:
		return fmt.Sprintf("%s (and %d more errors)", errs[0].Error(), len(errs)-1)
	}
}
