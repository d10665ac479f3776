package ast

// DebugSymbol is a source span: a byte offset and length into the original
// source text plus a 1-based line number. Symbols attach to AST statements
// and, downstream, to every emitted bytecode instruction.
type DebugSymbol struct {
	Offset uint32
	Length uint16
	Line   uint32
}

// NewDebugSymbol creates a span covering [offset, offset+length).
func NewDebugSymbol(offset uint32, length uint16, line uint32) DebugSymbol {
	return DebugSymbol{Offset: offset, Length: length, Line: line}
}

// End returns the byte offset one past the span.
func (s DebugSymbol) End() uint32 {
	return s.Offset + uint32(s.Length)
}

// Extend merges two spans into the smallest span covering both. The line
// number of the earlier span wins. Used when a nested parse context is
// folded into an outer error.
func (s DebugSymbol) Extend(other DebugSymbol) DebugSymbol {
	start, line := s.Offset, s.Line
	if other.Offset < start {
		start, line = other.Offset, other.Line
	}
	end := s.End()
	if other.End() > end {
		end = other.End()
	}

	length := end - start
	if length > 0xFFFF {
		length = 0xFFFF
	}
	return DebugSymbol{Offset: start, Length: uint16(length), Line: line}
}
