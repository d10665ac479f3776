package bytecode

import (
	"bytes"
	"testing"

	"github.com/chazu/sphinx/pkg/ast"
	"github.com/chazu/sphinx/runtime"
)

func compileSample(t *testing.T) *Program {
	t.Helper()
	in := runtime.NewInterner()
	x := in.Intern("x")
	f := in.Intern("f")
	a := in.Intern("a")
	msg := in.Intern("hello")

	def := ast.FunctionDef{
		Params: []ast.Param{{Decl: ast.DeclImmutable, Name: a}},
		Body: []ast.StmtMeta{
			exprStmt(ast.BinaryExpr{Op: ast.BinAdd, LHS: ast.Ident{Name: a}, RHS: ast.Ident{Name: x}}, 3),
		},
	}
	stmts := []ast.StmtMeta{
		exprStmt(ast.Declaration{Decl: ast.DeclMutable, Name: x, Init: ast.IntLit{Value: 41}}, 1),
		exprStmt(ast.Declaration{Decl: ast.DeclImmutable, Name: f, Init: def}, 2),
		echoStmt(ast.StringLit{Value: msg}, 4),
		echoStmt(ast.CallExpr{Callee: ast.Ident{Name: f}, Args: []ast.Expr{ast.IntLit{Value: 1}}}, 5),
	}
	prog, err := CompileProgram(in, stmts)
	if err != nil {
		t.Fatalf("CompileProgram failed: %v", err)
	}
	return prog
}

func TestProgramRoundTrip(t *testing.T) {
	prog := compileSample(t)

	data, err := MarshalProgram(prog)
	if err != nil {
		t.Fatalf("MarshalProgram failed: %v", err)
	}
	if !bytes.HasPrefix(data, BytecodeMagic) {
		t.Error("serialized program missing magic bytes")
	}

	decoded, err := UnmarshalProgram(data)
	if err != nil {
		t.Fatalf("UnmarshalProgram failed: %v", err)
	}

	if !bytes.Equal(decoded.Main.Code, prog.Main.Code) {
		t.Error("main code changed across round trip")
	}
	if len(decoded.Functions) != len(prog.Functions) {
		t.Fatalf("function count = %d, want %d", len(decoded.Functions), len(prog.Functions))
	}
	if decoded.Functions[0].ParamCount != prog.Functions[0].ParamCount {
		t.Error("param count changed across round trip")
	}
	if decoded.Strings.Len() != prog.Strings.Len() {
		t.Error("string table changed across round trip")
	}

	// A decoded program must actually run.
	vm := NewVM(decoded)
	var out bytes.Buffer
	vm.SetOutput(&out)
	if err := vm.Run(); err != nil {
		t.Fatalf("decoded program failed to run: %v", err)
	}
	if out.String() != "hello\n42\n" {
		t.Errorf("output = %q, want %q", out.String(), "hello\n42\n")
	}
}

func TestMarshalIsDeterministic(t *testing.T) {
	prog := compileSample(t)
	a, _ := MarshalProgram(prog)
	b, _ := MarshalProgram(prog)
	if !bytes.Equal(a, b) {
		t.Error("canonical encoding produced different bytes for the same program")
	}
}

func TestUnmarshalRejectsBadInput(t *testing.T) {
	if _, err := UnmarshalProgram(nil); err == nil {
		t.Error("empty input accepted")
	}
	if _, err := UnmarshalProgram([]byte("XXXX")); err == nil {
		t.Error("bad magic accepted")
	}
	if _, err := UnmarshalProgram(append(append([]byte{}, BytecodeMagic...), 0xFF, 0xFF)); err == nil {
		t.Error("truncated CBOR body accepted")
	}
}

func TestUnmarshalValidatesReferences(t *testing.T) {
	prog := compileSample(t)
	data, _ := MarshalProgram(prog)

	// Flipping bytes must never produce a panic, and validation keeps
	// decoded programs internally consistent.
	for i := len(BytecodeMagic); i < len(data); i++ {
		mutated := append([]byte{}, data...)
		mutated[i] ^= 0xFF
		func() {
			defer func() {
				if r := recover(); r != nil {
					t.Fatalf("UnmarshalProgram panicked on mutation at %d: %v", i, r)
				}
			}()
			UnmarshalProgram(mutated)
		}()
	}
}

func TestValidateChunkCatchesCorruption(t *testing.T) {
	in := runtime.NewInterner()

	bad := NewChunk(in)
	bad.Code = []byte{byte(OpLoadConst), 0}
	if err := validateChunk(bad, 0); err == nil {
		t.Error("constant index past pool accepted")
	}

	bad = NewChunk(in)
	bad.Code = []byte{byte(OpJump)}
	if err := validateChunk(bad, 0); err == nil {
		t.Error("truncated jump accepted")
	}

	bad = NewChunk(in)
	bad.Code = []byte{byte(OpJump), 0x7F, 0xFF}
	if err := validateChunk(bad, 0); err == nil {
		t.Error("jump past end of code accepted")
	}

	bad = NewChunk(in)
	bad.Code = []byte{byte(OpMakeFunction), 0x00, 0x05}
	if err := validateChunk(bad, 1); err == nil {
		t.Error("function index past prototype table accepted")
	}

	bad = NewChunk(in)
	bad.Code = []byte{0xFF}
	if err := validateChunk(bad, 0); err == nil {
		t.Error("unknown opcode accepted")
	}
}

func FuzzUnmarshalProgram(f *testing.F) {
	in := runtime.NewInterner()
	x := in.Intern("x")
	prog, err := CompileProgram(in, []ast.StmtMeta{
		{Stmt: ast.ExprStmt{Expr: ast.Declaration{Decl: ast.DeclMutable, Name: x, Init: ast.IntLit{Value: 1}}}},
	})
	if err != nil {
		f.Fatal(err)
	}
	seed, err := MarshalProgram(prog)
	if err != nil {
		f.Fatal(err)
	}
	f.Add(seed)
	f.Add([]byte("SPXC"))
	f.Add([]byte{})

	f.Fuzz(func(t *testing.T, data []byte) {
		// Must never panic; errors are fine.
		UnmarshalProgram(data)
	})
}
