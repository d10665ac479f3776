package bytecode

import (
	"fmt"

	"github.com/chazu/sphinx/pkg/ast"
	"github.com/chazu/sphinx/runtime"
)

// MaxLocals is the maximum number of local slots per call frame.
const MaxLocals = 256

// LocalNameKind distinguishes user names from the hidden slots every
// call frame reserves for its callee and argument count.
type LocalNameKind uint8

const (
	NameSymbol LocalNameKind = iota
	NameReceiver
	NameNArgs
)

// LocalName identifies a local variable. Receiver and NArgs never
// collide with user names, which are always NameSymbol.
type LocalName struct {
	Kind LocalNameKind
	Sym  runtime.Symbol
}

// SymbolName wraps an interned identifier as a local name.
func SymbolName(sym runtime.Symbol) LocalName {
	return LocalName{Kind: NameSymbol, Sym: sym}
}

func (n LocalName) String() string {
	switch n.Kind {
	case NameReceiver:
		return "#recv"
	case NameNArgs:
		return "#nargs"
	default:
		return fmt.Sprintf("sym(%d)", n.Sym)
	}
}

// Local is one resolved local variable slot.
type Local struct {
	Decl     ast.DeclType
	Name     LocalName
	Index    uint8
	Captured bool
}

// InsertResult reports the outcome of declaring a local.
type InsertResult struct {
	// Existing is true when the declaration redeclared a name already
	// present in the same scope, reusing its slot.
	Existing bool
	Index    uint8
}

// ScopeTag classifies a lexical scope for control flow resolution.
type ScopeTag uint8

const (
	// ScopeBlock is a brace block expression. Accepts break.
	ScopeBlock ScopeTag = iota

	// ScopeLoop accepts break and continue.
	ScopeLoop

	// ScopeBranch is a conditional arm. Transparent to control flow.
	ScopeBranch

	// ScopeFunction is the base scope of a call frame.
	ScopeFunction
)

func (t ScopeTag) String() string {
	switch t {
	case ScopeBlock:
		return "block"
	case ScopeLoop:
		return "loop"
	case ScopeBranch:
		return "branch"
	case ScopeFunction:
		return "function"
	default:
		return fmt.Sprintf("ScopeTag(%d)", uint8(t))
	}
}

// acceptsBreak reports whether a break site may target this scope.
// Loops and blocks both accept break; branches are transparent.
func (t ScopeTag) acceptsBreak() bool {
	return t == ScopeLoop || t == ScopeBlock
}

func (t ScopeTag) acceptsContinue() bool {
	return t == ScopeLoop
}

// ControlFlowKind is the kind of a break or continue site.
type ControlFlowKind uint8

const (
	ControlFlowBreak ControlFlowKind = iota
	ControlFlowContinue
)

// Scope is one level of lexical nesting within a call frame.
type Scope struct {
	Tag   ScopeTag
	Label *runtime.Symbol

	// prevIndex is the slot index of the last local in the enclosing
	// scope, or -1 at a frame base.
	prevIndex int
	locals    []Local

	// continueTarget is the code offset continue jumps to, or -1.
	continueTarget int

	// breakSites collects placeholder offsets of break jumps to patch
	// when the scope is popped.
	breakSites []int

	symbol *ast.DebugSymbol
}

// Locals returns the locals declared directly in this scope, in
// declaration order.
func (s *Scope) Locals() []Local {
	return s.locals
}

// lastIndex returns the highest slot used so far in this scope's
// chain, or -1 when none.
func (s *Scope) lastIndex() int {
	if len(s.locals) == 0 {
		return s.prevIndex
	}
	return int(s.locals[len(s.locals)-1].Index)
}

// AlignBase raises the scope's base past operand stack temporaries
// sitting beneath it, so locals declared in the scope land at their
// actual stack positions. Must be called before any local is declared.
func (s *Scope) AlignBase(last int) {
	if len(s.locals) > 0 {
		panic("bytecode: align on a scope with locals")
	}
	if last > s.prevIndex {
		s.prevIndex = last
	}
}

// Base returns the stack position of the scope's first local, which is
// also where a block scope's value lands.
func (s *Scope) Base() int {
	return s.prevIndex + 1
}

func (s *Scope) findLocal(name LocalName) *Local {
	for i := len(s.locals) - 1; i >= 0; i-- {
		if s.locals[i].Name == name {
			return &s.locals[i]
		}
	}
	return nil
}

// SetContinueTarget records the offset continue sites in this scope
// jump to.
func (s *Scope) SetContinueTarget(offset int) {
	s.continueTarget = offset
}

// ContinueTarget returns the recorded continue offset, or -1.
func (s *Scope) ContinueTarget() int {
	return s.continueTarget
}

// AddBreakSite registers a break jump placeholder for patching at
// scope exit.
func (s *Scope) AddBreakSite(placeholder int) {
	s.breakSites = append(s.breakSites, placeholder)
}

// BreakSites returns the registered break placeholders.
func (s *Scope) BreakSites() []int {
	return s.breakSites
}

// Upvalue is one value captured by a function from an enclosing frame.
type Upvalue struct {
	Decl   ast.DeclType
	Name   LocalName
	Index  uint8
	Target UpvalueDescriptor
}

// CallFrame is the resolver state for one function under compilation.
type CallFrame struct {
	scopes   []*Scope
	upvalues []*Upvalue
}

// Upvalues returns the frame's captured values in creation order.
func (f *CallFrame) Upvalues() []*Upvalue {
	return f.upvalues
}

func (f *CallFrame) findUpval(name LocalName) *Upvalue {
	for _, uv := range f.upvalues {
		if uv.Name == name {
			return uv
		}
	}
	return nil
}

// ScopeTracker resolves names to local slots and upvalues during
// compilation. The toplevel has its own scope chain; each function
// definition pushes a fresh call frame whose scopes cannot see the
// enclosing frame's locals except through upvalue capture.
type ScopeTracker struct {
	toplevel []*Scope
	frames   []*CallFrame
}

// NewScopeTracker returns a tracker with an empty toplevel.
func NewScopeTracker() *ScopeTracker {
	return &ScopeTracker{}
}

// IsToplevel reports whether no function frame is active.
func (st *ScopeTracker) IsToplevel() bool {
	return len(st.frames) == 0
}

// currentScopes returns the scope chain of the innermost frame, or the
// toplevel chain.
func (st *ScopeTracker) currentScopes() *[]*Scope {
	if len(st.frames) > 0 {
		return &st.frames[len(st.frames)-1].scopes
	}
	return &st.toplevel
}

// LocalScope returns the innermost scope, or nil when none is open.
func (st *ScopeTracker) LocalScope() *Scope {
	scopes := *st.currentScopes()
	if len(scopes) == 0 {
		return nil
	}
	return scopes[len(scopes)-1]
}

// PushScope opens a new scope with the given tag.
func (st *ScopeTracker) PushScope(tag ScopeTag, label *runtime.Symbol, sym *ast.DebugSymbol) *Scope {
	scopes := st.currentScopes()
	prev := -1
	if len(*scopes) > 0 {
		prev = (*scopes)[len(*scopes)-1].lastIndex()
	}
	scope := &Scope{
		Tag:            tag,
		Label:          label,
		prevIndex:      prev,
		continueTarget: -1,
		symbol:         sym,
	}
	*scopes = append(*scopes, scope)
	return scope
}

// PopScope closes the innermost scope and returns it so the caller can
// unwind its locals. The base scope of a frame must be closed through
// PopFrame instead.
func (st *ScopeTracker) PopScope() *Scope {
	scopes := st.currentScopes()
	n := len(*scopes)
	if n == 0 {
		panic("bytecode: pop on empty scope chain")
	}
	scope := (*scopes)[n-1]
	if scope.Tag == ScopeFunction {
		panic("bytecode: frame base scope popped without PopFrame")
	}
	*scopes = (*scopes)[:n-1]
	return scope
}

// PushFrame opens a new call frame with its function base scope.
// The receiver and argument count slots are reserved immediately so
// parameters start at slot 2.
func (st *ScopeTracker) PushFrame(sym *ast.DebugSymbol) (*CallFrame, error) {
	frame := &CallFrame{}
	st.frames = append(st.frames, frame)
	st.PushScope(ScopeFunction, nil, sym)
	if _, err := st.InsertLocal(ast.DeclImmutable, LocalName{Kind: NameReceiver}); err != nil {
		return nil, err
	}
	if _, err := st.InsertLocal(ast.DeclImmutable, LocalName{Kind: NameNArgs}); err != nil {
		return nil, err
	}
	return frame, nil
}

// PopFrame closes the innermost call frame, including its base scope.
func (st *ScopeTracker) PopFrame() *CallFrame {
	n := len(st.frames)
	if n == 0 {
		panic("bytecode: pop on empty frame stack")
	}
	frame := st.frames[n-1]
	if len(frame.scopes) != 1 {
		panic("bytecode: frame popped with open scopes")
	}
	st.frames = st.frames[:n-1]
	return frame
}

// InsertLocal declares a name in the innermost scope. Redeclaring a
// name already present in the same scope reuses its slot; a name from
// an enclosing scope is shadowed by a fresh slot.
func (st *ScopeTracker) InsertLocal(decl ast.DeclType, name LocalName) (InsertResult, error) {
	scope := st.LocalScope()
	if scope == nil {
		panic("bytecode: insert local with no open scope")
	}
	if existing := scope.findLocal(name); existing != nil {
		existing.Decl = decl
		return InsertResult{Existing: true, Index: existing.Index}, nil
	}
	next := scope.lastIndex() + 1
	if next >= MaxLocals {
		return InsertResult{}, newCompileError(ErrInternalLimit, "too many local variables")
	}
	scope.locals = append(scope.locals, Local{
		Decl:  decl,
		Name:  name,
		Index: uint8(next),
	})
	return InsertResult{Index: uint8(next)}, nil
}

// ResolveLocal finds a name in the current frame's scope chain,
// innermost first. Names in enclosing frames are not visible here;
// use ResolveOrCreateUpval for those.
func (st *ScopeTracker) ResolveLocal(name LocalName) *Local {
	scopes := *st.currentScopes()
	for i := len(scopes) - 1; i >= 0; i-- {
		if local := scopes[i].findLocal(name); local != nil {
			return local
		}
	}
	return nil
}

// ResolveOrCreateUpval resolves a name against enclosing call frames,
// creating the chain of upvalues needed to reach it. Returns nil when
// the name is not a local of any enclosing frame (it may still be a
// global). Capture marks the originating local so the compiler boxes
// its slot.
func (st *ScopeTracker) ResolveOrCreateUpval(name LocalName) (*Upvalue, error) {
	if len(st.frames) == 0 {
		return nil, nil
	}
	return st.resolveUpvalHelper(name, len(st.frames)-1)
}

// resolveUpvalHelper resolves name for the frame at frameIdx by
// searching the frame directly above it, recursing outward as needed.
func (st *ScopeTracker) resolveUpvalHelper(name LocalName, frameIdx int) (*Upvalue, error) {
	frame := st.frames[frameIdx]
	if uv := frame.findUpval(name); uv != nil {
		return uv, nil
	}

	var enclosing []*Scope
	if frameIdx == 0 {
		enclosing = st.toplevel
	} else {
		enclosing = st.frames[frameIdx-1].scopes
	}

	for i := len(enclosing) - 1; i >= 0; i-- {
		if local := enclosing[i].findLocal(name); local != nil {
			local.Captured = true
			return frame.addUpval(local.Decl, name, UpvalueDescriptor{
				Kind:  UpvalueLocal,
				Index: local.Index,
			})
		}
	}

	// Not a local of the parent frame. Chain through the parent's own
	// upvalues if some further enclosing frame has it.
	if frameIdx == 0 {
		return nil, nil
	}
	outer, err := st.resolveUpvalHelper(name, frameIdx-1)
	if outer == nil || err != nil {
		return nil, err
	}
	return frame.addUpval(outer.Decl, name, UpvalueDescriptor{
		Kind:  UpvalueRecursive,
		Index: outer.Index,
	})
}

func (f *CallFrame) addUpval(decl ast.DeclType, name LocalName, target UpvalueDescriptor) (*Upvalue, error) {
	if len(f.upvalues) >= MaxLocals {
		return nil, newCompileError(ErrInternalLimit, "too many captured variables")
	}
	uv := &Upvalue{
		Decl:   decl,
		Name:   name,
		Index:  uint8(len(f.upvalues)),
		Target: target,
	}
	f.upvalues = append(f.upvalues, uv)
	return uv, nil
}

// ResolveControlFlow finds the scope a break or continue targets.
// Resolution never crosses a call frame boundary. Returns nil when no
// matching scope exists.
func (st *ScopeTracker) ResolveControlFlow(kind ControlFlowKind, label *runtime.Symbol) *Scope {
	scopes := *st.currentScopes()
	for i := len(scopes) - 1; i >= 0; i-- {
		scope := scopes[i]
		if scope.Tag == ScopeFunction {
			return nil
		}
		if label != nil {
			if scope.Label == nil || *scope.Label != *label {
				continue
			}
		}
		switch kind {
		case ControlFlowBreak:
			if scope.Tag.acceptsBreak() {
				return scope
			}
		case ControlFlowContinue:
			if scope.Tag.acceptsContinue() {
				return scope
			}
		}
	}
	return nil
}
