// Package ast defines the Sphinx AST consumed by the bytecode compiler.
//
// Nodes are produced by the parser, which is an external collaborator: the
// compiler never reads source text. Every statement arrives paired with a
// DebugSymbol so diagnostics can be mapped back to source.
package ast

import (
	"github.com/chazu/sphinx/runtime"
)

// DeclType is the declared mutability of a binding.
type DeclType uint8

const (
	// DeclImmutable is a `let` binding.
	DeclImmutable DeclType = iota
	// DeclMutable is a `var` binding.
	DeclMutable
)

// String returns the source keyword for the declaration type.
func (d DeclType) String() string {
	if d == DeclMutable {
		return "var"
	}
	return "let"
}

// Label names a block or loop for targeted break/continue.
type Label struct {
	Name runtime.Symbol
}

// ---------------------------------------------------------------------------
// Operators
// ---------------------------------------------------------------------------

// UnaryOp is a unary operator tag.
type UnaryOp uint8

const (
	UnaryNeg UnaryOp = iota // arithmetic negation
	UnaryPos                // unary plus
	UnaryInv                // bitwise inversion
	UnaryNot                // logical not
)

// String returns the operator's source spelling.
func (op UnaryOp) String() string {
	switch op {
	case UnaryNeg:
		return "-"
	case UnaryPos:
		return "+"
	case UnaryInv:
		return "~"
	case UnaryNot:
		return "not"
	}
	return "?"
}

// BinaryOp is a binary operator tag.
type BinaryOp uint8

const (
	// arithmetic
	BinMul BinaryOp = iota
	BinDiv
	BinMod
	BinAdd
	BinSub

	// bitwise
	BinAnd
	BinXor
	BinOr

	// shift
	BinShl
	BinShr

	// comparison
	BinLT
	BinGT
	BinLE
	BinGE
	BinEQ
	BinNE

	// logical (short-circuit)
	BinLogicalAnd
	BinLogicalOr
)

// OpCategory groups binary operators by the opcode table used to lower them.
type OpCategory uint8

const (
	CategoryArithmetic OpCategory = iota
	CategoryBitwise
	CategoryShift
	CategoryComparison
	CategoryLogical
)

// Category returns the operator's lowering category.
func (op BinaryOp) Category() OpCategory {
	switch {
	case op <= BinSub:
		return CategoryArithmetic
	case op <= BinOr:
		return CategoryBitwise
	case op <= BinShr:
		return CategoryShift
	case op <= BinNE:
		return CategoryComparison
	default:
		return CategoryLogical
	}
}

// String returns the operator's source spelling.
func (op BinaryOp) String() string {
	switch op {
	case BinMul:
		return "*"
	case BinDiv:
		return "/"
	case BinMod:
		return "%"
	case BinAdd:
		return "+"
	case BinSub:
		return "-"
	case BinAnd:
		return "&"
	case BinXor:
		return "^"
	case BinOr:
		return "|"
	case BinShl:
		return "<<"
	case BinShr:
		return ">>"
	case BinLT:
		return "<"
	case BinGT:
		return ">"
	case BinLE:
		return "<="
	case BinGE:
		return ">="
	case BinEQ:
		return "=="
	case BinNE:
		return "!="
	case BinLogicalAnd:
		return "and"
	case BinLogicalOr:
		return "or"
	}
	return "?"
}

// ---------------------------------------------------------------------------
// Expressions
// ---------------------------------------------------------------------------

// Expr is implemented by all expression nodes.
type Expr interface {
	exprNode()
}

// NilLit is the `nil` literal.
type NilLit struct{}

// EmptyTupleLit is the `()` literal.
type EmptyTupleLit struct{}

// BoolLit is a boolean literal.
type BoolLit struct {
	Value bool
}

// IntLit is an integer literal.
type IntLit struct {
	Value int64
}

// FloatLit is a float literal.
type FloatLit struct {
	Value float64
}

// StringLit is an interned string literal.
type StringLit struct {
	Value runtime.Symbol
}

// Ident is a name reference.
type Ident struct {
	Name runtime.Symbol
}

// Group is a parenthesized expression.
type Group struct {
	Inner Expr
}

// UnaryExpr applies a unary operator to a single operand.
type UnaryExpr struct {
	Op      UnaryOp
	Operand Expr
}

// BinaryExpr applies a binary operator to two operands.
type BinaryExpr struct {
	Op  BinaryOp
	LHS Expr
	RHS Expr
}

// Declaration introduces a new binding.
type Declaration struct {
	Decl DeclType
	Name runtime.Symbol
	Init Expr
}

// Assignment stores into an existing binding.
type Assignment struct {
	Target runtime.Symbol
	Value  Expr
}

// TupleExpr constructs a tuple from its elements.
type TupleExpr struct {
	Items []Expr
}

// CallExpr invokes a callee with positional arguments.
type CallExpr struct {
	Callee Expr
	Args   []Expr
}

// BlockExpr is a brace block. Its value is the value of the final
// expression statement, or the operand of a break targeting its label.
type BlockExpr struct {
	Label *Label
	Body  []StmtMeta
}

// CondBranch is one `if`/`elif` arm.
type CondBranch struct {
	Cond Expr
	Body []StmtMeta
}

// Conditional is an if/elif/else expression.
type Conditional struct {
	Branches []CondBranch
	Else     []StmtMeta // nil when absent
}

// Param is a function parameter.
type Param struct {
	Decl DeclType
	Name runtime.Symbol
}

// FunctionDef is a function definition expression.
type FunctionDef struct {
	Params []Param
	Body   []StmtMeta
}

func (NilLit) exprNode()        {}
func (EmptyTupleLit) exprNode() {}
func (BoolLit) exprNode()       {}
func (IntLit) exprNode()        {}
func (FloatLit) exprNode()      {}
func (StringLit) exprNode()     {}
func (Ident) exprNode()         {}
func (Group) exprNode()         {}
func (UnaryExpr) exprNode()     {}
func (BinaryExpr) exprNode()    {}
func (Declaration) exprNode()   {}
func (Assignment) exprNode()    {}
func (TupleExpr) exprNode()     {}
func (CallExpr) exprNode()      {}
func (BlockExpr) exprNode()     {}
func (Conditional) exprNode()   {}
func (FunctionDef) exprNode()   {}

// ---------------------------------------------------------------------------
// Statements
// ---------------------------------------------------------------------------

// Stmt is implemented by all statement nodes.
type Stmt interface {
	stmtNode()
}

// ExprStmt evaluates an expression and discards its value.
type ExprStmt struct {
	Expr Expr
}

// EchoStmt evaluates an expression and writes its display form to the VM's
// output writer.
type EchoStmt struct {
	Expr Expr
}

// WhileStmt is a while loop, optionally labeled.
type WhileStmt struct {
	Label *Label
	Cond  Expr
	Body  []StmtMeta
}

// BreakStmt exits the nearest accepting scope, optionally carrying a value
// (meaningful when the target is a block expression).
type BreakStmt struct {
	Label *Label
	Value Expr // nil when absent
}

// ContinueStmt jumps to the continue target of the nearest enclosing loop.
type ContinueStmt struct {
	Label *Label
}

// ReturnStmt returns from the enclosing function.
type ReturnStmt struct {
	Value Expr // nil returns nil
}

func (ExprStmt) stmtNode()     {}
func (EchoStmt) stmtNode()     {}
func (WhileStmt) stmtNode()    {}
func (BreakStmt) stmtNode()    {}
func (ContinueStmt) stmtNode() {}
func (ReturnStmt) stmtNode()   {}

// StmtMeta pairs a statement with its source span.
type StmtMeta struct {
	Stmt   Stmt
	Symbol DebugSymbol
}
