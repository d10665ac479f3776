package bytecode

import (
	"math"

	"github.com/chazu/sphinx/pkg/ast"
	"github.com/chazu/sphinx/runtime"
)

// target is one chunk under emission. Compiling a function definition
// pushes a new target; its instructions go to the function's own chunk
// while the enclosing chunk waits underneath.
type target struct {
	chunk   *Chunk
	symbols *DebugSymbols
	proto   *FunctionProto // nil for the program toplevel

	// depth is the simulated operand stack height of the emitted code,
	// counted from the frame base. Local slots are stack positions, so
	// scopes opened above expression temporaries align their base to
	// this.
	depth int
}

// CodeGenerator lowers statements to bytecode. Statements are pushed
// one at a time; errors are recorded per statement and compilation
// continues, so one run reports every failing statement. Finish
// returns the program or the accumulated diagnostics.
type CodeGenerator struct {
	strings   *runtime.Interner
	scopes    *ScopeTracker
	targets   []*target
	functions []*FunctionProto
	errors    CompileErrors

	// curSym is the span of the statement being compiled; every
	// instruction it emits is tagged with it.
	curSym ast.DebugSymbol
}

// NewCodeGenerator creates a generator emitting into a fresh toplevel
// chunk. All chunks of the program share the given string table.
func NewCodeGenerator(strings *runtime.Interner) *CodeGenerator {
	return &CodeGenerator{
		strings: strings,
		scopes:  NewScopeTracker(),
		targets: []*target{{
			chunk:   NewChunk(strings),
			symbols: &DebugSymbols{},
		}},
	}
}

// CompileProgram compiles a statement list into a program in one call.
func CompileProgram(strings *runtime.Interner, stmts []ast.StmtMeta) (*Program, error) {
	gen := NewCodeGenerator(strings)
	for _, stmt := range stmts {
		gen.PushStmt(stmt)
	}
	return gen.Finish()
}

// PushStmt compiles one toplevel statement. Failures are recorded and
// later statements still compile.
func (g *CodeGenerator) PushStmt(stmt ast.StmtMeta) {
	if err := g.compileStmt(stmt); err != nil {
		g.recordError(err, stmt.Symbol)
	}
}

// Errors returns the diagnostics recorded so far.
func (g *CodeGenerator) Errors() CompileErrors {
	return g.errors
}

// Finish seals the toplevel chunk and returns the compiled program, or
// the accumulated errors when any statement failed.
func (g *CodeGenerator) Finish() (*Program, error) {
	if len(g.errors) > 0 {
		return nil, g.errors
	}
	top := g.targets[0]
	return &Program{
		Main:      top.chunk,
		Symbols:   top.symbols,
		Functions: g.functions,
		Strings:   g.strings,
	}, nil
}

func (g *CodeGenerator) recordError(err error, sym ast.DebugSymbol) {
	if ce, ok := err.(*CompileError); ok {
		g.errors = append(g.errors, ce.WithSymbol(sym))
		return
	}
	g.errors = append(g.errors, &CompileError{
		Kind:    ErrInternalLimit,
		Message: err.Error(),
		Cause:   err,
	})
}

// ---------------------------------------------------------------------------
// Emission helpers
// ---------------------------------------------------------------------------

func (g *CodeGenerator) target() *target {
	return g.targets[len(g.targets)-1]
}

func (g *CodeGenerator) chunk() *Chunk {
	return g.target().chunk
}

// note applies an opcode's stack effect to the target's simulated
// depth. Variadic opcodes (calls, tuples) count their fixed effect
// here; the emission site subtracts the variable part.
func (g *CodeGenerator) note(op Opcode) {
	info := GetOpcodeInfo(op)
	pop := info.StackPop
	if pop < 0 {
		pop = 0
	}
	g.target().depth += info.StackPush - pop
}

func (g *CodeGenerator) emit(op Opcode) {
	t := g.target()
	off := t.chunk.Emit(op)
	t.symbols.Push(off, g.curSym)
	g.note(op)
}

func (g *CodeGenerator) emitOperand(op Opcode, operands ...byte) {
	t := g.target()
	off := t.chunk.EmitWithOperand(op, operands...)
	t.symbols.Push(off, g.curSym)
	g.note(op)
}

func (g *CodeGenerator) emitU16(op Opcode, operand uint16) {
	t := g.target()
	off := t.chunk.EmitU16(op, operand)
	t.symbols.Push(off, g.curSym)
	g.note(op)
}

func (g *CodeGenerator) emitConstant(value runtime.Variant) error {
	t := g.target()
	off, err := t.chunk.EmitConstant(value)
	if err != nil {
		return err
	}
	t.symbols.Push(off, g.curSym)
	t.depth++
	return nil
}

// emitJump emits a placeholder jump and returns the offset to patch.
func (g *CodeGenerator) emitJump(op Opcode) int {
	t := g.target()
	placeholder := t.chunk.EmitJump(op)
	t.symbols.Push(placeholder-1, g.curSym)
	g.note(op)
	return placeholder
}

func (g *CodeGenerator) emitLoop(loopStart int) error {
	t := g.target()
	off := t.chunk.CurrentOffset()
	if err := t.chunk.EmitLoop(loopStart); err != nil {
		return err
	}
	t.symbols.Push(off, g.curSym)
	return nil
}

// ---------------------------------------------------------------------------
// Statements
// ---------------------------------------------------------------------------

func (g *CodeGenerator) compileStmt(meta ast.StmtMeta) error {
	g.curSym = meta.Symbol
	switch stmt := meta.Stmt.(type) {
	case ast.ExprStmt:
		return g.compileExprStmt(stmt.Expr, false)
	case ast.EchoStmt:
		if err := g.compileExpr(stmt.Expr); err != nil {
			return err
		}
		g.emit(OpEcho)
		return nil
	case ast.WhileStmt:
		return g.compileWhile(stmt)
	case ast.BreakStmt:
		return g.compileBreak(stmt)
	case ast.ContinueStmt:
		return g.compileContinue(stmt)
	case ast.ReturnStmt:
		return g.compileReturn(stmt)
	default:
		return newCompileError(ErrInternalLimit, "unknown statement node")
	}
}

// compileExprStmt lowers an expression in statement position. When
// wantValue is false the result is discarded; declarations and
// assignments avoid producing a result at all in that case.
func (g *CodeGenerator) compileExprStmt(expr ast.Expr, wantValue bool) error {
	switch e := expr.(type) {
	case ast.Declaration:
		return g.compileDeclaration(e, wantValue)
	case ast.Assignment:
		return g.compileAssignment(e, wantValue)
	default:
		if err := g.compileExpr(expr); err != nil {
			return err
		}
		if !wantValue {
			g.emit(OpPop)
		}
		return nil
	}
}

// compileSuite lowers a statement list. When wantValue is set the
// suite leaves exactly one value: the value of its final expression
// statement, or nil when the suite is empty or ends with another
// statement kind.
func (g *CodeGenerator) compileSuite(body []ast.StmtMeta, wantValue bool) error {
	for i, meta := range body {
		if wantValue && i == len(body)-1 {
			if es, ok := meta.Stmt.(ast.ExprStmt); ok {
				g.curSym = meta.Symbol
				return g.compileExprStmt(es.Expr, true)
			}
		}
		if err := g.compileStmt(meta); err != nil {
			return err
		}
	}
	if wantValue {
		g.emit(OpNil)
	}
	return nil
}

func (g *CodeGenerator) compileWhile(stmt ast.WhileStmt) error {
	scope := g.scopes.PushScope(ScopeLoop, labelSym(stmt.Label), &g.curSym)
	scope.AlignBase(g.target().depth - 1)

	err := func() error {
		loopStart := g.chunk().CurrentOffset()
		scope.SetContinueTarget(loopStart)

		if err := g.compileExpr(stmt.Cond); err != nil {
			return err
		}
		exitJump := g.emitJump(OpPopJumpIfFalse)

		if err := g.compileSuite(stmt.Body, false); err != nil {
			return err
		}

		// Body locals are reallocated at the same slots each iteration.
		for range scope.Locals() {
			g.emit(OpPop)
		}
		if err := g.emitLoop(loopStart); err != nil {
			return err
		}

		if err := g.chunk().PatchJump(exitJump); err != nil {
			return err
		}
		for _, site := range scope.BreakSites() {
			if err := g.chunk().PatchJump(site); err != nil {
				return err
			}
		}
		return nil
	}()
	g.scopes.PopScope()
	return err
}

func (g *CodeGenerator) compileBreak(stmt ast.BreakStmt) error {
	scope := g.scopes.ResolveControlFlow(ControlFlowBreak, labelSym(stmt.Label))
	if scope == nil {
		return newCompileError(ErrUndefinedControlFlow, "break outside loop or block")
	}

	// Control never falls through a break, so code after it resumes at
	// the statement's entry depth.
	entry := g.target().depth

	if scope.Tag == ScopeLoop {
		// Loops produce no value, so a break operand is discarded.
		if stmt.Value != nil {
			if err := g.compileExpr(stmt.Value); err != nil {
				return err
			}
			g.emit(OpPop)
		}
		// Everything above the loop base is dead here: open-scope
		// locals and temporaries of enclosing expressions alike.
		for n := entry - scope.Base(); n > 0; n-- {
			g.emit(OpPop)
		}
		scope.AddBreakSite(g.emitJump(OpJump))
		g.target().depth = entry
		return nil
	}

	// Block target: the break operand becomes the block's value, so
	// unwind beneath it.
	if stmt.Value != nil {
		if err := g.compileExpr(stmt.Value); err != nil {
			return err
		}
	} else {
		g.emit(OpNil)
	}
	// Rotate the value down to the block's base, dropping whatever sits
	// between.
	for n := entry - scope.Base(); n > 0; n-- {
		g.emit(OpSwap)
		g.emit(OpPop)
	}
	scope.AddBreakSite(g.emitJump(OpJump))
	g.target().depth = entry
	return nil
}

func (g *CodeGenerator) compileContinue(stmt ast.ContinueStmt) error {
	scope := g.scopes.ResolveControlFlow(ControlFlowContinue, labelSym(stmt.Label))
	if scope == nil {
		return newCompileError(ErrUndefinedControlFlow, "continue outside loop")
	}
	entry := g.target().depth
	// The loop head expects the stack as it stood before the condition.
	for n := entry - scope.Base(); n > 0; n-- {
		g.emit(OpPop)
	}
	site := g.emitJump(OpJump)
	if err := g.chunk().PatchJumpTo(site, scope.ContinueTarget()); err != nil {
		return err
	}
	g.target().depth = entry
	return nil
}

func (g *CodeGenerator) compileReturn(stmt ast.ReturnStmt) error {
	if g.scopes.IsToplevel() {
		return newCompileError(ErrUndefinedControlFlow, "return outside function")
	}
	entry := g.target().depth
	if stmt.Value != nil {
		if err := g.compileExpr(stmt.Value); err != nil {
			return err
		}
	} else {
		g.emit(OpNil)
	}
	g.emit(OpReturn)
	g.target().depth = entry
	return nil
}

// ---------------------------------------------------------------------------
// Expressions
// ---------------------------------------------------------------------------

func (g *CodeGenerator) compileExpr(expr ast.Expr) error {
	switch e := expr.(type) {
	case ast.NilLit:
		g.emit(OpNil)
		return nil
	case ast.EmptyTupleLit:
		g.emit(OpEmpty)
		return nil
	case ast.BoolLit:
		if e.Value {
			g.emit(OpTrue)
		} else {
			g.emit(OpFalse)
		}
		return nil
	case ast.IntLit:
		return g.emitConstant(runtime.FromInt(e.Value))
	case ast.FloatLit:
		return g.emitConstant(runtime.FromFloat(e.Value))
	case ast.StringLit:
		return g.emitConstant(runtime.FromSymbol(e.Value))
	case ast.Ident:
		return g.compileLoadName(e.Name)
	case ast.Group:
		return g.compileExpr(e.Inner)
	case ast.UnaryExpr:
		return g.compileUnary(e)
	case ast.BinaryExpr:
		return g.compileBinary(e)
	case ast.Declaration:
		return g.compileDeclaration(e, true)
	case ast.Assignment:
		return g.compileAssignment(e, true)
	case ast.TupleExpr:
		return g.compileTuple(e)
	case ast.CallExpr:
		return g.compileCall(e)
	case ast.BlockExpr:
		return g.compileBlock(e)
	case ast.Conditional:
		return g.compileConditional(e)
	case ast.FunctionDef:
		return g.compileFunction(e)
	default:
		return newCompileError(ErrInternalLimit, "unknown expression node")
	}
}

func (g *CodeGenerator) compileUnary(e ast.UnaryExpr) error {
	if err := g.compileExpr(e.Operand); err != nil {
		return err
	}
	switch e.Op {
	case ast.UnaryNeg:
		g.emit(OpNeg)
	case ast.UnaryPos:
		g.emit(OpPos)
	case ast.UnaryInv:
		g.emit(OpInv)
	case ast.UnaryNot:
		g.emit(OpNot)
	}
	return nil
}

var binaryOpcodes = map[ast.BinaryOp]Opcode{
	ast.BinMul: OpMul,
	ast.BinDiv: OpDiv,
	ast.BinMod: OpMod,
	ast.BinAdd: OpAdd,
	ast.BinSub: OpSub,
	ast.BinAnd: OpAnd,
	ast.BinXor: OpXor,
	ast.BinOr:  OpOr,
	ast.BinShl: OpShl,
	ast.BinShr: OpShr,
	ast.BinLT:  OpLT,
	ast.BinGT:  OpGT,
	ast.BinLE:  OpLE,
	ast.BinGE:  OpGE,
	ast.BinEQ:  OpEQ,
	ast.BinNE:  OpNE,
}

func (g *CodeGenerator) compileBinary(e ast.BinaryExpr) error {
	if e.Op.Category() == ast.CategoryLogical {
		return g.compileLogical(e)
	}
	if err := g.compileExpr(e.LHS); err != nil {
		return err
	}
	if err := g.compileExpr(e.RHS); err != nil {
		return err
	}
	g.emit(binaryOpcodes[e.Op])
	return nil
}

// compileLogical lowers `and`/`or` with short-circuit jumps. The
// result is the operand that decided the outcome, not a coerced
// boolean.
func (g *CodeGenerator) compileLogical(e ast.BinaryExpr) error {
	if err := g.compileExpr(e.LHS); err != nil {
		return err
	}
	jumpOp := OpJumpIfFalse
	if e.Op == ast.BinLogicalOr {
		jumpOp = OpJumpIfTrue
	}
	short := g.emitJump(jumpOp)
	g.emit(OpPop)
	if err := g.compileExpr(e.RHS); err != nil {
		return err
	}
	return g.chunk().PatchJump(short)
}

// compileDeclaration introduces a binding. At the program toplevel,
// outside any scope, the binding is a global; otherwise it is a local
// whose slot is the stack position the initializer left its value at.
func (g *CodeGenerator) compileDeclaration(e ast.Declaration, wantValue bool) error {
	if err := g.compileExpr(e.Init); err != nil {
		return err
	}

	if g.scopes.IsToplevel() && g.scopes.LocalScope() == nil {
		if wantValue {
			g.emit(OpDup)
		}
		nameIdx, err := g.nameConst(e.Name)
		if err != nil {
			return err
		}
		mutable := byte(0)
		if e.Decl == ast.DeclMutable {
			mutable = 1
		}
		g.emitOperand(OpInsertGlobal, byte(nameIdx>>8), byte(nameIdx), mutable)
		return nil
	}

	result, err := g.scopes.InsertLocal(e.Decl, SymbolName(e.Name))
	if err != nil {
		return err
	}
	if result.Existing {
		// Redeclaration reuses the slot; the fresh value is stored
		// over the old one.
		g.emitOperand(OpStoreLocal, result.Index)
	} else if int(result.Index) != g.target().depth-1 {
		// A fresh local's slot is the stack position its initializer
		// left the value at. Temporaries of the same statement beneath
		// the declaration would break that correspondence.
		return newCompileError(ErrInvalidDeclaration,
			"declaration cannot be an operand of an enclosing expression")
	}
	if wantValue {
		g.emitOperand(OpLoadLocal, result.Index)
	}
	return nil
}

func (g *CodeGenerator) compileAssignment(e ast.Assignment, wantValue bool) error {
	if err := g.compileExpr(e.Value); err != nil {
		return err
	}
	if wantValue {
		g.emit(OpDup)
	}

	name := SymbolName(e.Target)
	if local := g.scopes.ResolveLocal(name); local != nil {
		if local.Decl == ast.DeclImmutable {
			return newCompileError(ErrCantAssignImmutable, g.nameText(e.Target))
		}
		g.emitOperand(OpStoreLocal, local.Index)
		return nil
	}

	uv, err := g.scopes.ResolveOrCreateUpval(name)
	if err != nil {
		return err
	}
	if uv != nil {
		if uv.Decl == ast.DeclImmutable {
			return newCompileError(ErrCantAssignImmutable, g.nameText(e.Target))
		}
		g.emitOperand(OpStoreUpval, uv.Index)
		return nil
	}

	// Existence and mutability of globals are checked at runtime.
	nameIdx, err := g.nameConst(e.Target)
	if err != nil {
		return err
	}
	g.emitU16(OpStoreGlobal, nameIdx)
	return nil
}

func (g *CodeGenerator) compileLoadName(sym runtime.Symbol) error {
	name := SymbolName(sym)
	if local := g.scopes.ResolveLocal(name); local != nil {
		g.emitOperand(OpLoadLocal, local.Index)
		return nil
	}
	uv, err := g.scopes.ResolveOrCreateUpval(name)
	if err != nil {
		return err
	}
	if uv != nil {
		g.emitOperand(OpLoadUpval, uv.Index)
		return nil
	}
	nameIdx, err := g.nameConst(sym)
	if err != nil {
		return err
	}
	g.emitU16(OpLoadGlobal, nameIdx)
	return nil
}

func (g *CodeGenerator) compileTuple(e ast.TupleExpr) error {
	if len(e.Items) > math.MaxUint8 {
		return newCompileError(ErrInternalLimit, "too many tuple elements")
	}
	for _, item := range e.Items {
		if err := g.compileExpr(item); err != nil {
			return err
		}
	}
	g.emitOperand(OpMakeTuple, byte(len(e.Items)))
	g.target().depth -= len(e.Items) // variadic pops
	return nil
}

func (g *CodeGenerator) compileCall(e ast.CallExpr) error {
	if len(e.Args) > math.MaxUint8 {
		return newCompileError(ErrInternalLimit, "too many call arguments")
	}
	if err := g.compileExpr(e.Callee); err != nil {
		return err
	}
	for _, arg := range e.Args {
		if err := g.compileExpr(arg); err != nil {
			return err
		}
	}
	g.emitOperand(OpCall, byte(len(e.Args)))
	g.target().depth -= len(e.Args) + 1 // variadic pops: callee and arguments
	return nil
}

// compileBlock lowers a brace block in value position. The block's
// locals sit below its result on the stack, so scope exit rotates the
// result under each dead local before popping it.
func (g *CodeGenerator) compileBlock(e ast.BlockExpr) error {
	scope := g.scopes.PushScope(ScopeBlock, labelSym(e.Label), &g.curSym)
	scope.AlignBase(g.target().depth - 1)

	err := func() error {
		if err := g.compileSuite(e.Body, true); err != nil {
			return err
		}
		for range scope.Locals() {
			g.emit(OpSwap)
			g.emit(OpPop)
		}

		// Break sites unwound their own locals already; they land here
		// with exactly the block result on top.
		for _, site := range scope.BreakSites() {
			if err := g.chunk().PatchJump(site); err != nil {
				return err
			}
		}
		return nil
	}()
	g.scopes.PopScope()
	return err
}

// compileBranchArm lowers one conditional arm in its own transparent
// scope, unwinding arm locals beneath the arm value.
func (g *CodeGenerator) compileBranchArm(body []ast.StmtMeta) error {
	scope := g.scopes.PushScope(ScopeBranch, nil, &g.curSym)
	scope.AlignBase(g.target().depth - 1)

	err := func() error {
		if err := g.compileSuite(body, true); err != nil {
			return err
		}
		for range scope.Locals() {
			g.emit(OpSwap)
			g.emit(OpPop)
		}
		return nil
	}()
	g.scopes.PopScope()
	return err
}

func (g *CodeGenerator) compileConditional(e ast.Conditional) error {
	var endJumps []int

	for _, branch := range e.Branches {
		if err := g.compileExpr(branch.Cond); err != nil {
			return err
		}
		elseJump := g.emitJump(OpPopJumpIfFalse)
		base := g.target().depth

		if err := g.compileBranchArm(branch.Body); err != nil {
			return err
		}

		endJumps = append(endJumps, g.emitJump(OpJump))
		if err := g.chunk().PatchJump(elseJump); err != nil {
			return err
		}
		// The not-taken path resumes beneath this arm's value.
		g.target().depth = base
	}

	if e.Else != nil {
		if err := g.compileBranchArm(e.Else); err != nil {
			return err
		}
	} else {
		g.emit(OpNil)
	}

	for _, site := range endJumps {
		if err := g.chunk().PatchJump(site); err != nil {
			return err
		}
	}
	return nil
}

func (g *CodeGenerator) compileFunction(e ast.FunctionDef) error {
	if len(e.Params) > math.MaxUint8-2 {
		return newCompileError(ErrInternalLimit, "too many parameters")
	}

	proto := &FunctionProto{
		Chunk:      NewChunk(g.strings),
		Symbols:    &DebugSymbols{},
		ParamCount: uint8(len(e.Params)),
	}
	g.targets = append(g.targets, &target{
		chunk:   proto.Chunk,
		symbols: proto.Symbols,
		proto:   proto,
	})
	if _, err := g.scopes.PushFrame(&g.curSym); err != nil {
		g.scopes.PopFrame()
		g.targets = g.targets[:len(g.targets)-1]
		return err
	}

	err := func() error {
		// Slots 0 and 1 hold the callee and argument count; parameters
		// start at slot 2.
		for _, param := range e.Params {
			if _, err := g.scopes.InsertLocal(param.Decl, SymbolName(param.Name)); err != nil {
				return err
			}
		}
		g.target().depth = 2 + len(e.Params)

		if err := g.compileSuite(e.Body, true); err != nil {
			return err
		}
		g.emit(OpReturn)
		return nil
	}()

	// Unwind the frame and target even on failure, so later statements
	// compile into the enclosing chunk instead of a dead one.
	frame := g.scopes.PopFrame()
	g.targets = g.targets[:len(g.targets)-1]
	if err != nil {
		return err
	}

	for _, uv := range frame.Upvalues() {
		proto.Upvalues = append(proto.Upvalues, uv.Target)
	}

	if len(g.functions) > math.MaxUint16 {
		return newCompileError(ErrInternalLimit, "too many functions")
	}
	protoIdx := uint16(len(g.functions))
	g.functions = append(g.functions, proto)

	g.emitU16(OpMakeFunction, protoIdx)
	return nil
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

func (g *CodeGenerator) nameConst(sym runtime.Symbol) (uint16, error) {
	return g.chunk().PushConst(runtime.FromSymbol(sym))
}

func (g *CodeGenerator) nameText(sym runtime.Symbol) string {
	if s, ok := g.strings.Lookup(sym); ok {
		return s
	}
	return "?"
}

func labelSym(label *ast.Label) *runtime.Symbol {
	if label == nil {
		return nil
	}
	return &label.Name
}
