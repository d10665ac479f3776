package bytecode

import (
	"github.com/chazu/sphinx/pkg/ast"
	"github.com/chazu/sphinx/runtime"
)

// DebugSymbols maps bytecode offsets to source spans. Entry i covers
// the instruction beginning at Offsets[i]; Symbols is parallel.
type DebugSymbols struct {
	Offsets []uint32
	Symbols []ast.DebugSymbol
}

// Push records the symbol for an instruction at the given code offset.
// Consecutive instructions from the same statement share one span.
func (d *DebugSymbols) Push(offset int, sym ast.DebugSymbol) {
	d.Offsets = append(d.Offsets, uint32(offset))
	d.Symbols = append(d.Symbols, sym)
}

// Lookup returns the source span covering the instruction at offset.
func (d *DebugSymbols) Lookup(offset int) (ast.DebugSymbol, bool) {
	lo, hi := 0, len(d.Offsets)
	for lo < hi {
		mid := (lo + hi) / 2
		if d.Offsets[mid] <= uint32(offset) {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	if lo == 0 {
		return ast.DebugSymbol{}, false
	}
	return d.Symbols[lo-1], true
}

// Len returns the number of recorded instruction symbols.
func (d *DebugSymbols) Len() int {
	return len(d.Offsets)
}

// UpvalueKind distinguishes how an upvalue is resolved at closure
// creation time.
type UpvalueKind uint8

const (
	// UpvalueLocal captures a local slot of the immediately enclosing
	// frame.
	UpvalueLocal UpvalueKind = iota

	// UpvalueRecursive re-captures an upvalue already held by the
	// enclosing frame's closure.
	UpvalueRecursive
)

// UpvalueDescriptor tells the VM how to bind one upvalue when
// executing OpMakeFunction.
type UpvalueDescriptor struct {
	Kind  UpvalueKind
	Index uint8
}

// FunctionProto is the compiled form of one function definition.
type FunctionProto struct {
	Chunk      *Chunk
	Symbols    *DebugSymbols
	Name       runtime.Symbol
	ParamCount uint8
	Upvalues   []UpvalueDescriptor
}

// Program is a fully compiled unit: the toplevel chunk plus every
// function prototype it (transitively) creates.
type Program struct {
	Main      *Chunk
	Symbols   *DebugSymbols
	Functions []*FunctionProto
	Strings   *runtime.Interner
}
