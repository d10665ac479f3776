package bytecode

import (
	"testing"

	"github.com/chazu/sphinx/runtime"
)

func TestPushConstDeduplicates(t *testing.T) {
	c := NewChunk(runtime.NewInterner())

	a, _ := c.PushConst(runtime.FromInt(42))
	b, _ := c.PushConst(runtime.FromInt(42))
	if a != b {
		t.Errorf("equal constants got indices %d and %d", a, b)
	}

	f, _ := c.PushConst(runtime.FromFloat(42.0))
	if f == a {
		t.Error("integer 42 and float 42.0 share a constant slot")
	}
	if c.ConstantCount() != 2 {
		t.Errorf("ConstantCount() = %d, want 2", c.ConstantCount())
	}
}

func TestEmitConstantWidthSwitch(t *testing.T) {
	c := NewChunk(runtime.NewInterner())

	// Fill indices 0-255 so the next constant needs the wide form.
	for i := 0; i < 256; i++ {
		if _, err := c.PushConst(runtime.FromInt(int64(i))); err != nil {
			t.Fatalf("PushConst %d failed: %v", i, err)
		}
	}

	off, err := c.EmitConstant(runtime.FromInt(255))
	if err != nil {
		t.Fatalf("EmitConstant failed: %v", err)
	}
	if Opcode(c.Code[off]) != OpLoadConst {
		t.Errorf("index 255 emitted %s, want LOAD_CONST", Opcode(c.Code[off]))
	}

	off, err = c.EmitConstant(runtime.FromInt(256))
	if err != nil {
		t.Fatalf("EmitConstant failed: %v", err)
	}
	if Opcode(c.Code[off]) != OpLoadConst16 {
		t.Errorf("index 256 emitted %s, want LOAD_CONST16", Opcode(c.Code[off]))
	}
	idx := uint16(c.Code[off+1])<<8 | uint16(c.Code[off+2])
	if idx != 256 {
		t.Errorf("wide operand = %d, want 256", idx)
	}
}

func TestPushConstLimit(t *testing.T) {
	c := NewChunk(runtime.NewInterner())
	for i := 0; i < MaxConstants; i++ {
		if _, err := c.PushConst(runtime.FromInt(int64(i))); err != nil {
			t.Fatalf("PushConst %d failed early: %v", i, err)
		}
	}
	_, err := c.PushConst(runtime.FromInt(int64(MaxConstants)))
	if !IsCompileError(err, ErrInternalLimit) {
		t.Errorf("PushConst past limit err = %v, want internal limit", err)
	}
}

func TestJumpPatching(t *testing.T) {
	c := NewChunk(runtime.NewInterner())

	site := c.EmitJump(OpJump)
	c.Emit(OpNop)
	c.Emit(OpNop)
	if err := c.PatchJump(site); err != nil {
		t.Fatalf("PatchJump failed: %v", err)
	}

	delta := int16(uint16(c.Code[site])<<8 | uint16(c.Code[site+1]))
	if int(delta) != 2 {
		t.Errorf("patched delta = %d, want 2", delta)
	}
}

func TestJumpSpanLimit(t *testing.T) {
	c := NewChunk(runtime.NewInterner())

	site := c.EmitJump(OpJump)
	for i := 0; i < 40000; i++ {
		c.Emit(OpNop)
	}
	if err := c.PatchJump(site); !IsCompileError(err, ErrInternalLimit) {
		t.Errorf("PatchJump over a 40000-byte span err = %v, want internal limit", err)
	}
	if err := c.EmitLoop(0); !IsCompileError(err, ErrInternalLimit) {
		t.Errorf("EmitLoop over a 40000-byte span err = %v, want internal limit", err)
	}
	// An in-range patch on the same chunk still succeeds.
	near := c.EmitJump(OpJump)
	if err := c.PatchJump(near); err != nil {
		t.Errorf("in-range PatchJump failed: %v", err)
	}
}

func TestEmitLoopJumpsBackward(t *testing.T) {
	c := NewChunk(runtime.NewInterner())

	start := c.CurrentOffset()
	c.Emit(OpNop)
	loopOff := c.CurrentOffset()
	if err := c.EmitLoop(start); err != nil {
		t.Fatalf("EmitLoop failed: %v", err)
	}

	delta := int16(uint16(c.Code[loopOff+1])<<8 | uint16(c.Code[loopOff+2]))
	// Target = position after the instruction plus delta.
	if loopOff+3+int(delta) != start {
		t.Errorf("loop lands at %d, want %d", loopOff+3+int(delta), start)
	}
}

func TestOpcodeMetadataComplete(t *testing.T) {
	for _, op := range AllOpcodes() {
		info := GetOpcodeInfo(op)
		if info.Name == "" {
			t.Errorf("opcode 0x%02X has no name", byte(op))
		}
		if op.InstructionLen() != 1+info.OperandLen {
			t.Errorf("%s: InstructionLen() = %d, want %d", info.Name, op.InstructionLen(), 1+info.OperandLen)
		}
	}
	if GetOpcodeInfo(Opcode(0xFF)).Name == "" {
		t.Error("unknown opcode should still render a name")
	}
}
