package runtime

// Symbol is a compact handle to an interned string.
type Symbol uint32

// Interner is a bidirectional mapping between string content and Symbols.
//
// The compiler owns the interner for the duration of a compilation pass and
// hands it, by move, into the finished program. It is not safe for
// concurrent use.
type Interner struct {
	symbols map[string]Symbol
	strings []string
}

// NewInterner creates an empty interner.
func NewInterner() *Interner {
	return &Interner{
		symbols: make(map[string]Symbol),
	}
}

// Intern returns the Symbol for s, adding it to the table if needed.
func (in *Interner) Intern(s string) Symbol {
	if sym, ok := in.symbols[s]; ok {
		return sym
	}
	sym := Symbol(len(in.strings))
	in.strings = append(in.strings, s)
	in.symbols[s] = sym
	return sym
}

// Lookup returns the string content for sym.
func (in *Interner) Lookup(sym Symbol) (string, bool) {
	if int(sym) >= len(in.strings) {
		return "", false
	}
	return in.strings[sym], true
}

// Len returns the number of interned strings.
func (in *Interner) Len() int {
	return len(in.strings)
}

// All returns the interned strings in symbol order.
// The returned slice is the interner's backing storage; callers must not
// mutate it.
func (in *Interner) All() []string {
	return in.strings
}

// FromStrings rebuilds an interner from a symbol-ordered string list, as
// produced by All. Used when decoding a serialized program.
func FromStrings(strings []string) *Interner {
	in := &Interner{
		symbols: make(map[string]Symbol, len(strings)),
		strings: make([]string, len(strings)),
	}
	copy(in.strings, strings)
	for i, s := range strings {
		in.symbols[s] = Symbol(i)
	}
	return in
}
