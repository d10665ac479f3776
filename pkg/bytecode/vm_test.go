package bytecode

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/chazu/sphinx/pkg/ast"
	"github.com/chazu/sphinx/runtime"
)

// runProgram compiles and executes a statement list, returning the VM
// and everything echoed.
func runProgram(t *testing.T, in *runtime.Interner, stmts []ast.StmtMeta) (*VM, string, error) {
	t.Helper()
	prog, err := CompileProgram(in, stmts)
	if err != nil {
		t.Fatalf("CompileProgram failed: %v", err)
	}
	vm := NewVM(prog)
	var out bytes.Buffer
	vm.SetOutput(&out)
	err = vm.Run()
	return vm, out.String(), err
}

func echoStmt(e ast.Expr, line uint32) ast.StmtMeta {
	return stmt(ast.EchoStmt{Expr: e}, line)
}

func TestVMEchoArithmetic(t *testing.T) {
	expr := ast.BinaryExpr{
		Op:  ast.BinAdd,
		LHS: ast.IntLit{Value: 1},
		RHS: ast.BinaryExpr{Op: ast.BinMul, LHS: ast.IntLit{Value: 2}, RHS: ast.IntLit{Value: 3}},
	}
	_, out, err := runProgram(t, runtime.NewInterner(), []ast.StmtMeta{echoStmt(expr, 1)})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if out != "7\n" {
		t.Errorf("output = %q, want %q", out, "7\n")
	}
}

func TestVMWhileLoop(t *testing.T) {
	in := runtime.NewInterner()
	i, acc := in.Intern("i"), in.Intern("acc")

	// var i = 0; var acc = 0; while i < 5 { i = i + 1; acc = acc + i }
	stmts := []ast.StmtMeta{
		exprStmt(ast.Declaration{Decl: ast.DeclMutable, Name: i, Init: ast.IntLit{Value: 0}}, 1),
		exprStmt(ast.Declaration{Decl: ast.DeclMutable, Name: acc, Init: ast.IntLit{Value: 0}}, 2),
		stmt(ast.WhileStmt{
			Cond: ast.BinaryExpr{Op: ast.BinLT, LHS: ast.Ident{Name: i}, RHS: ast.IntLit{Value: 5}},
			Body: []ast.StmtMeta{
				exprStmt(ast.Assignment{Target: i, Value: ast.BinaryExpr{Op: ast.BinAdd, LHS: ast.Ident{Name: i}, RHS: ast.IntLit{Value: 1}}}, 4),
				exprStmt(ast.Assignment{Target: acc, Value: ast.BinaryExpr{Op: ast.BinAdd, LHS: ast.Ident{Name: acc}, RHS: ast.Ident{Name: i}}}, 5),
			},
		}, 3),
	}
	vm, _, err := runProgram(t, in, stmts)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	v, ok := vm.GlobalValue(acc)
	if !ok || v.Int() != 15 {
		t.Errorf("acc = %v, want 15", v)
	}
}

func TestVMConditional(t *testing.T) {
	cond := ast.Conditional{
		Branches: []ast.CondBranch{
			{Cond: ast.BoolLit{Value: false}, Body: []ast.StmtMeta{exprStmt(ast.IntLit{Value: 1}, 1)}},
			{Cond: ast.BoolLit{Value: true}, Body: []ast.StmtMeta{exprStmt(ast.IntLit{Value: 2}, 1)}},
		},
		Else: []ast.StmtMeta{exprStmt(ast.IntLit{Value: 3}, 1)},
	}
	_, out, err := runProgram(t, runtime.NewInterner(), []ast.StmtMeta{echoStmt(cond, 1)})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if out != "2\n" {
		t.Errorf("output = %q, want %q", out, "2\n")
	}

	// No arm taken and no else: the conditional is nil.
	bare := ast.Conditional{
		Branches: []ast.CondBranch{
			{Cond: ast.BoolLit{Value: false}, Body: []ast.StmtMeta{exprStmt(ast.IntLit{Value: 1}, 1)}},
		},
	}
	_, out, err = runProgram(t, runtime.NewInterner(), []ast.StmtMeta{echoStmt(bare, 1)})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if out != "nil\n" {
		t.Errorf("output = %q, want %q", out, "nil\n")
	}
}

func TestVMBlockBreakWithValue(t *testing.T) {
	in := runtime.NewInterner()
	x := in.Intern("x")
	label := &ast.Label{Name: in.Intern("out")}

	// let x = 'out: { break 'out 42; 0 }
	block := ast.BlockExpr{Label: label, Body: []ast.StmtMeta{
		stmt(ast.BreakStmt{Label: label, Value: ast.IntLit{Value: 42}}, 2),
		exprStmt(ast.IntLit{Value: 0}, 3),
	}}
	stmts := []ast.StmtMeta{
		exprStmt(ast.Declaration{Decl: ast.DeclImmutable, Name: x, Init: block}, 1),
	}
	vm, _, err := runProgram(t, in, stmts)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	v, ok := vm.GlobalValue(x)
	if !ok || v.Int() != 42 {
		t.Errorf("x = %v, want 42", v)
	}
}

func TestVMUnlabeledBreakFromBlock(t *testing.T) {
	in := runtime.NewInterner()

	// echo { 1; break 7; 99 } - the break targets the nearest block.
	block := ast.BlockExpr{Body: []ast.StmtMeta{
		exprStmt(ast.IntLit{Value: 1}, 2),
		stmt(ast.BreakStmt{Value: ast.IntLit{Value: 7}}, 3),
		exprStmt(ast.IntLit{Value: 99}, 4),
	}}
	_, out, err := runProgram(t, in, []ast.StmtMeta{echoStmt(block, 1)})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if out != "7\n" {
		t.Errorf("output = %q, want %q", out, "7\n")
	}
}

func TestVMBreakPastEnclosingTemporary(t *testing.T) {
	in := runtime.NewInterner()
	label := &ast.Label{Name: in.Intern("out")}

	// echo 100 + 'out: { 1 + { break 'out 7 } } - the break unwinds the
	// pending left operand of the inner addition along with the scopes.
	inner := ast.BlockExpr{Body: []ast.StmtMeta{
		stmt(ast.BreakStmt{Label: label, Value: ast.IntLit{Value: 7}}, 3),
	}}
	outer := ast.BlockExpr{Label: label, Body: []ast.StmtMeta{
		exprStmt(ast.BinaryExpr{Op: ast.BinAdd, LHS: ast.IntLit{Value: 1}, RHS: inner}, 2),
	}}
	expr := ast.BinaryExpr{Op: ast.BinAdd, LHS: ast.IntLit{Value: 100}, RHS: outer}
	_, out, err := runProgram(t, in, []ast.StmtMeta{echoStmt(expr, 1)})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if out != "107\n" {
		t.Errorf("output = %q, want %q", out, "107\n")
	}
}

func TestVMBlockOperandUnderTemporary(t *testing.T) {
	in := runtime.NewInterner()
	b := in.Intern("b")

	// echo 1 + { let b = 2; b } - the block's local lives above the
	// pending left operand.
	block := ast.BlockExpr{Body: []ast.StmtMeta{
		exprStmt(ast.Declaration{Decl: ast.DeclImmutable, Name: b, Init: ast.IntLit{Value: 2}}, 2),
		exprStmt(ast.Ident{Name: b}, 3),
	}}
	expr := ast.BinaryExpr{Op: ast.BinAdd, LHS: ast.IntLit{Value: 1}, RHS: block}
	_, out, err := runProgram(t, in, []ast.StmtMeta{echoStmt(expr, 1)})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if out != "3\n" {
		t.Errorf("output = %q, want %q", out, "3\n")
	}
}

func TestVMConditionalOperandUnderTemporary(t *testing.T) {
	in := runtime.NewInterner()
	v := in.Intern("v")

	// echo 10 + if true { let v = 5; v } else { 0 }
	cond := ast.Conditional{
		Branches: []ast.CondBranch{{
			Cond: ast.BoolLit{Value: true},
			Body: []ast.StmtMeta{
				exprStmt(ast.Declaration{Decl: ast.DeclImmutable, Name: v, Init: ast.IntLit{Value: 5}}, 2),
				exprStmt(ast.Ident{Name: v}, 3),
			},
		}},
		Else: []ast.StmtMeta{exprStmt(ast.IntLit{Value: 0}, 4)},
	}
	expr := ast.BinaryExpr{Op: ast.BinAdd, LHS: ast.IntLit{Value: 10}, RHS: cond}
	_, out, err := runProgram(t, in, []ast.StmtMeta{echoStmt(expr, 1)})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if out != "15\n" {
		t.Errorf("output = %q, want %q", out, "15\n")
	}
}

func TestVMBreakAndContinueInLoop(t *testing.T) {
	in := runtime.NewInterner()
	i, acc := in.Intern("i"), in.Intern("acc")

	// Sum odd numbers below 10, stopping at i == 7:
	// while true { i = i + 1; if i == 7 { break }; if i % 2 == 0 { continue }; acc = acc + i }
	loopBody := []ast.StmtMeta{
		exprStmt(ast.Assignment{Target: i, Value: ast.BinaryExpr{Op: ast.BinAdd, LHS: ast.Ident{Name: i}, RHS: ast.IntLit{Value: 1}}}, 4),
		exprStmt(ast.Conditional{Branches: []ast.CondBranch{{
			Cond: ast.BinaryExpr{Op: ast.BinEQ, LHS: ast.Ident{Name: i}, RHS: ast.IntLit{Value: 7}},
			Body: []ast.StmtMeta{stmt(ast.BreakStmt{}, 5)},
		}}}, 5),
		exprStmt(ast.Conditional{Branches: []ast.CondBranch{{
			Cond: ast.BinaryExpr{
				Op:  ast.BinEQ,
				LHS: ast.BinaryExpr{Op: ast.BinMod, LHS: ast.Ident{Name: i}, RHS: ast.IntLit{Value: 2}},
				RHS: ast.IntLit{Value: 0},
			},
			Body: []ast.StmtMeta{stmt(ast.ContinueStmt{}, 6)},
		}}}, 6),
		exprStmt(ast.Assignment{Target: acc, Value: ast.BinaryExpr{Op: ast.BinAdd, LHS: ast.Ident{Name: acc}, RHS: ast.Ident{Name: i}}}, 7),
	}
	stmts := []ast.StmtMeta{
		exprStmt(ast.Declaration{Decl: ast.DeclMutable, Name: i, Init: ast.IntLit{Value: 0}}, 1),
		exprStmt(ast.Declaration{Decl: ast.DeclMutable, Name: acc, Init: ast.IntLit{Value: 0}}, 2),
		stmt(ast.WhileStmt{Cond: ast.BoolLit{Value: true}, Body: loopBody}, 3),
	}
	vm, _, err := runProgram(t, in, stmts)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	v, _ := vm.GlobalValue(acc)
	if v.Int() != 1+3+5 {
		t.Errorf("acc = %v, want 9", v)
	}
}

func TestVMFunctionCall(t *testing.T) {
	in := runtime.NewInterner()
	f, a, b := in.Intern("f"), in.Intern("a"), in.Intern("b")

	// let f = fn(a, b) { a - b }; echo f(10, 4)
	def := ast.FunctionDef{
		Params: []ast.Param{{Decl: ast.DeclImmutable, Name: a}, {Decl: ast.DeclImmutable, Name: b}},
		Body: []ast.StmtMeta{
			exprStmt(ast.BinaryExpr{Op: ast.BinSub, LHS: ast.Ident{Name: a}, RHS: ast.Ident{Name: b}}, 1),
		},
	}
	stmts := []ast.StmtMeta{
		exprStmt(ast.Declaration{Decl: ast.DeclImmutable, Name: f, Init: def}, 1),
		echoStmt(ast.CallExpr{Callee: ast.Ident{Name: f}, Args: []ast.Expr{ast.IntLit{Value: 10}, ast.IntLit{Value: 4}}}, 2),
	}
	_, out, err := runProgram(t, in, stmts)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if out != "6\n" {
		t.Errorf("output = %q, want %q", out, "6\n")
	}
}

func TestVMCallArityMismatch(t *testing.T) {
	in := runtime.NewInterner()
	f, a, b := in.Intern("f"), in.Intern("a"), in.Intern("b")

	def := ast.FunctionDef{
		Params: []ast.Param{{Decl: ast.DeclImmutable, Name: a}, {Decl: ast.DeclImmutable, Name: b}},
		Body:   []ast.StmtMeta{exprStmt(ast.Ident{Name: b}, 1)},
	}
	stmts := []ast.StmtMeta{
		exprStmt(ast.Declaration{Decl: ast.DeclImmutable, Name: f, Init: def}, 1),
		// Missing arguments pad with nil; extras are dropped.
		echoStmt(ast.CallExpr{Callee: ast.Ident{Name: f}, Args: []ast.Expr{ast.IntLit{Value: 1}}}, 2),
		echoStmt(ast.CallExpr{Callee: ast.Ident{Name: f}, Args: []ast.Expr{ast.IntLit{Value: 1}, ast.IntLit{Value: 2}, ast.IntLit{Value: 3}}}, 3),
	}
	_, out, err := runProgram(t, in, stmts)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if out != "nil\n2\n" {
		t.Errorf("output = %q, want %q", out, "nil\n2\n")
	}
}

func TestVMClosureCounter(t *testing.T) {
	in := runtime.NewInterner()
	mk, c, n := in.Intern("mk"), in.Intern("c"), in.Intern("n")

	// let mk = fn() { var n = 0; fn() { n = n + 1; n } }
	inner := ast.FunctionDef{Body: []ast.StmtMeta{
		exprStmt(ast.Assignment{Target: n, Value: ast.BinaryExpr{Op: ast.BinAdd, LHS: ast.Ident{Name: n}, RHS: ast.IntLit{Value: 1}}}, 1),
		exprStmt(ast.Ident{Name: n}, 1),
	}}
	outer := ast.FunctionDef{Body: []ast.StmtMeta{
		exprStmt(ast.Declaration{Decl: ast.DeclMutable, Name: n, Init: ast.IntLit{Value: 0}}, 1),
		exprStmt(inner, 1),
	}}
	stmts := []ast.StmtMeta{
		exprStmt(ast.Declaration{Decl: ast.DeclImmutable, Name: mk, Init: outer}, 1),
		exprStmt(ast.Declaration{Decl: ast.DeclImmutable, Name: c, Init: ast.CallExpr{Callee: ast.Ident{Name: mk}}}, 2),
		exprStmt(ast.CallExpr{Callee: ast.Ident{Name: c}}, 3),
		exprStmt(ast.CallExpr{Callee: ast.Ident{Name: c}}, 4),
		echoStmt(ast.CallExpr{Callee: ast.Ident{Name: c}}, 5),
	}
	_, out, err := runProgram(t, in, stmts)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	// The cell persists across calls, so the counter advances.
	if out != "3\n" {
		t.Errorf("output = %q, want %q", out, "3\n")
	}
}

func TestVMClosuresShareCell(t *testing.T) {
	in := runtime.NewInterner()
	shared := in.Intern("shared")
	g, s, r, v := in.Intern("g"), in.Intern("s"), in.Intern("r"), in.Intern("v")

	// let g = {
	//   var shared = 1
	//   let s = fn(v) { shared = v }
	//   let r = fn() { shared }
	//   s(99)
	//   r()
	// }
	setDef := ast.FunctionDef{
		Params: []ast.Param{{Decl: ast.DeclImmutable, Name: v}},
		Body: []ast.StmtMeta{
			exprStmt(ast.Assignment{Target: shared, Value: ast.Ident{Name: v}}, 3),
		},
	}
	getDef := ast.FunctionDef{Body: []ast.StmtMeta{
		exprStmt(ast.Ident{Name: shared}, 4),
	}}
	block := ast.BlockExpr{Body: []ast.StmtMeta{
		exprStmt(ast.Declaration{Decl: ast.DeclMutable, Name: shared, Init: ast.IntLit{Value: 1}}, 2),
		exprStmt(ast.Declaration{Decl: ast.DeclImmutable, Name: s, Init: setDef}, 3),
		exprStmt(ast.Declaration{Decl: ast.DeclImmutable, Name: r, Init: getDef}, 4),
		exprStmt(ast.CallExpr{Callee: ast.Ident{Name: s}, Args: []ast.Expr{ast.IntLit{Value: 99}}}, 5),
		exprStmt(ast.CallExpr{Callee: ast.Ident{Name: r}}, 6),
	}}
	stmts := []ast.StmtMeta{
		exprStmt(ast.Declaration{Decl: ast.DeclImmutable, Name: g, Init: block}, 1),
	}
	vm, _, err := runProgram(t, in, stmts)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	// The write through one closure is visible through the other:
	// both captured the same cell.
	got, _ := vm.GlobalValue(g)
	if got.Int() != 99 {
		t.Errorf("g = %v, want 99", got)
	}
}

func TestVMTupleDisplay(t *testing.T) {
	tuple := ast.TupleExpr{Items: []ast.Expr{
		ast.IntLit{Value: 1},
		ast.EmptyTupleLit{},
		ast.BoolLit{Value: true},
	}}
	_, out, err := runProgram(t, runtime.NewInterner(), []ast.StmtMeta{echoStmt(tuple, 1)})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if out != "(1, (), true)\n" {
		t.Errorf("output = %q, want %q", out, "(1, (), true)\n")
	}
}

func TestVMDivideByZero(t *testing.T) {
	expr := ast.BinaryExpr{Op: ast.BinDiv, LHS: ast.IntLit{Value: 1}, RHS: ast.IntLit{Value: 0}}
	_, _, err := runProgram(t, runtime.NewInterner(), []ast.StmtMeta{echoStmt(expr, 7)})
	if !runtime.IsEvalError(err, runtime.DivideByZero) {
		t.Fatalf("err = %v, want DivideByZero", err)
	}

	// The error is mapped back to its source line.
	var re *RuntimeError
	if !errors.As(err, &re) || re.Symbol.Line != 7 {
		t.Errorf("err = %v, want runtime error at line 7", err)
	}
}

func TestVMUndefinedGlobal(t *testing.T) {
	in := runtime.NewInterner()
	in.Intern("missing")
	_, _, err := runProgram(t, in, []ast.StmtMeta{echoStmt(ast.Ident{Name: in.Intern("missing")}, 1)})
	if !errors.Is(err, ErrUndefinedGlobal) {
		t.Errorf("err = %v, want undefined global", err)
	}
	if err != nil && !strings.Contains(err.Error(), "missing") {
		t.Errorf("err %q does not name the global", err)
	}
}

func TestVMImmutableGlobal(t *testing.T) {
	in := runtime.NewInterner()
	x := in.Intern("x")
	stmts := []ast.StmtMeta{
		exprStmt(ast.Declaration{Decl: ast.DeclImmutable, Name: x, Init: ast.IntLit{Value: 1}}, 1),
		exprStmt(ast.Assignment{Target: x, Value: ast.IntLit{Value: 2}}, 2),
	}
	_, _, err := runProgram(t, in, stmts)
	if !errors.Is(err, ErrImmutableGlobal) {
		t.Errorf("err = %v, want immutable global", err)
	}
}

func TestVMNotCallable(t *testing.T) {
	_, _, err := runProgram(t, runtime.NewInterner(), []ast.StmtMeta{
		exprStmt(ast.CallExpr{Callee: ast.IntLit{Value: 3}}, 1),
	})
	if !errors.Is(err, ErrNotCallable) {
		t.Errorf("err = %v, want not callable", err)
	}
}

func TestVMUnsupportedOperand(t *testing.T) {
	expr := ast.BinaryExpr{Op: ast.BinAdd, LHS: ast.BoolLit{Value: true}, RHS: ast.IntLit{Value: 1}}
	_, _, err := runProgram(t, runtime.NewInterner(), []ast.StmtMeta{echoStmt(expr, 1)})
	if !errors.Is(err, ErrUnsupportedOperand) {
		t.Errorf("err = %v, want unsupported operand", err)
	}
}

func TestVMReferenceEquality(t *testing.T) {
	in := runtime.NewInterner()
	a, b := in.Intern("a"), in.Intern("b")

	tuple := func() ast.Expr {
		return ast.TupleExpr{Items: []ast.Expr{ast.IntLit{Value: 1}}}
	}
	stmts := []ast.StmtMeta{
		exprStmt(ast.Declaration{Decl: ast.DeclImmutable, Name: a, Init: tuple()}, 1),
		exprStmt(ast.Declaration{Decl: ast.DeclImmutable, Name: b, Init: tuple()}, 2),
		// Same contents, different identity.
		echoStmt(ast.BinaryExpr{Op: ast.BinEQ, LHS: ast.Ident{Name: a}, RHS: ast.Ident{Name: b}}, 3),
		echoStmt(ast.BinaryExpr{Op: ast.BinEQ, LHS: ast.Ident{Name: a}, RHS: ast.Ident{Name: a}}, 4),
	}
	_, out, err := runProgram(t, in, stmts)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if out != "false\ntrue\n" {
		t.Errorf("output = %q, want %q", out, "false\ntrue\n")
	}
}

func TestVMGarbageCollection(t *testing.T) {
	in := runtime.NewInterner()
	i := in.Intern("i")

	// Allocate a tuple per iteration and drop it immediately.
	stmts := []ast.StmtMeta{
		exprStmt(ast.Declaration{Decl: ast.DeclMutable, Name: i, Init: ast.IntLit{Value: 0}}, 1),
		stmt(ast.WhileStmt{
			Cond: ast.BinaryExpr{Op: ast.BinLT, LHS: ast.Ident{Name: i}, RHS: ast.IntLit{Value: 100}},
			Body: []ast.StmtMeta{
				exprStmt(ast.TupleExpr{Items: []ast.Expr{ast.Ident{Name: i}}}, 3),
				exprStmt(ast.Assignment{Target: i, Value: ast.BinaryExpr{Op: ast.BinAdd, LHS: ast.Ident{Name: i}, RHS: ast.IntLit{Value: 1}}}, 4),
			},
		}, 2),
	}
	vm, _, err := runProgram(t, in, stmts)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	stats := vm.CollectGarbage()
	if vm.Heap().Live() != 0 {
		t.Errorf("Live() = %d after collection, want 0 (stats: %+v)", vm.Heap().Live(), stats)
	}
}

func TestVMAutoCollect(t *testing.T) {
	in := runtime.NewInterner()
	i := in.Intern("i")

	stmts := []ast.StmtMeta{
		exprStmt(ast.Declaration{Decl: ast.DeclMutable, Name: i, Init: ast.IntLit{Value: 0}}, 1),
		stmt(ast.WhileStmt{
			Cond: ast.BinaryExpr{Op: ast.BinLT, LHS: ast.Ident{Name: i}, RHS: ast.IntLit{Value: 50}},
			Body: []ast.StmtMeta{
				exprStmt(ast.TupleExpr{Items: []ast.Expr{ast.Ident{Name: i}}}, 3),
				exprStmt(ast.Assignment{Target: i, Value: ast.BinaryExpr{Op: ast.BinAdd, LHS: ast.Ident{Name: i}, RHS: ast.IntLit{Value: 1}}}, 4),
			},
		}, 2),
	}
	prog, err := CompileProgram(in, stmts)
	if err != nil {
		t.Fatalf("CompileProgram failed: %v", err)
	}
	vm := NewVM(prog)
	vm.SetOutput(&bytes.Buffer{})
	vm.GCThreshold = 8
	if err := vm.Run(); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if vm.Heap().SweepCount() == 0 {
		t.Error("automatic collection never ran")
	}
	// Collections during the run must not have freed live state.
	if v, ok := vm.GlobalValue(i); !ok || v.Int() != 50 {
		t.Error("loop state corrupted by mid-run collection")
	}
}

func BenchmarkVMArithLoop(b *testing.B) {
	in := runtime.NewInterner()
	i := in.Intern("i")

	stmts := []ast.StmtMeta{
		exprStmt(ast.Declaration{Decl: ast.DeclMutable, Name: i, Init: ast.IntLit{Value: 0}}, 1),
		stmt(ast.WhileStmt{
			Cond: ast.BinaryExpr{Op: ast.BinLT, LHS: ast.Ident{Name: i}, RHS: ast.IntLit{Value: 1000}},
			Body: []ast.StmtMeta{
				exprStmt(ast.Assignment{Target: i, Value: ast.BinaryExpr{Op: ast.BinAdd, LHS: ast.Ident{Name: i}, RHS: ast.IntLit{Value: 1}}}, 3),
			},
		}, 2),
	}
	prog, err := CompileProgram(in, stmts)
	if err != nil {
		b.Fatalf("CompileProgram failed: %v", err)
	}

	b.ResetTimer()
	for n := 0; n < b.N; n++ {
		vm := NewVM(prog)
		vm.SetOutput(&bytes.Buffer{})
		if err := vm.Run(); err != nil {
			b.Fatal(err)
		}
	}
}
