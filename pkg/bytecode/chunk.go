package bytecode

import (
	"math"

	"github.com/chazu/sphinx/runtime"
)

// BytecodeVersion is the current bytecode format version.
// Increment when making incompatible changes to the format.
const BytecodeVersion uint16 = 1

// Magic bytes for compiled program files: "SPXC"
var BytecodeMagic = []byte{'S', 'P', 'X', 'C'}

// MaxConstants is the maximum number of constants per chunk.
const MaxConstants = math.MaxUint16 + 1

// constKey identifies a constant for pool deduplication. Floats are
// keyed by their bit pattern so that e.g. 1 and 1.0 occupy separate
// slots.
type constKey struct {
	kind runtime.Kind
	bits uint64
}

func keyFor(value runtime.Variant) (constKey, bool) {
	switch value.Kind() {
	case runtime.KindInteger:
		return constKey{runtime.KindInteger, uint64(value.Int())}, true
	case runtime.KindFloat:
		return constKey{runtime.KindFloat, math.Float64bits(value.Float())}, true
	case runtime.KindInternStr:
		return constKey{runtime.KindInternStr, uint64(value.Symbol())}, true
	}
	return constKey{}, false
}

// Chunk holds the compiled bytecode and constant pool for one function
// body (or the program toplevel).
type Chunk struct {
	// Code section
	Code []byte

	// Constant pool, referenced by OpLoadConst / OpLoadConst16
	Constants []runtime.Variant

	// Interned strings shared by every chunk in a program
	Strings *runtime.Interner

	constMap map[constKey]uint16
}

// NewChunk creates a new empty chunk sharing the given string table.
func NewChunk(strings *runtime.Interner) *Chunk {
	return &Chunk{
		Code:      make([]byte, 0, 64),
		Constants: make([]runtime.Variant, 0, 8),
		Strings:   strings,
		constMap:  make(map[constKey]uint16),
	}
}

// PushConst adds a constant to the pool and returns its index.
// If an equal constant already exists, returns the existing index.
// Returns an InternalLimit error when the pool is full.
func (c *Chunk) PushConst(value runtime.Variant) (uint16, error) {
	key, dedupe := keyFor(value)
	if dedupe {
		if idx, ok := c.constMap[key]; ok {
			return idx, nil
		}
	}
	if len(c.Constants) >= MaxConstants {
		return 0, newCompileError(ErrInternalLimit, "constant pool limit reached")
	}
	idx := uint16(len(c.Constants))
	c.Constants = append(c.Constants, value)
	if dedupe {
		c.constMap[key] = idx
	}
	return idx, nil
}

// GetConstant returns the constant at the given index.
// Panics if the index is out of bounds.
func (c *Chunk) GetConstant(index uint16) runtime.Variant {
	return c.Constants[index]
}

// Emit appends a single-byte opcode to the code section.
func (c *Chunk) Emit(op Opcode) int {
	offset := len(c.Code)
	c.Code = append(c.Code, byte(op))
	return offset
}

// EmitWithOperand appends an opcode with operand bytes.
func (c *Chunk) EmitWithOperand(op Opcode, operands ...byte) int {
	offset := len(c.Code)
	c.Code = append(c.Code, byte(op))
	c.Code = append(c.Code, operands...)
	return offset
}

// EmitU16 appends an opcode with a big-endian 16-bit operand.
func (c *Chunk) EmitU16(op Opcode, operand uint16) int {
	return c.EmitWithOperand(op, byte(operand>>8), byte(operand))
}

// EmitConstant emits a load for the given constant, adding it to the
// pool if not already present. The narrow form is used when the index
// fits in one byte.
func (c *Chunk) EmitConstant(value runtime.Variant) (int, error) {
	idx, err := c.PushConst(value)
	if err != nil {
		return 0, err
	}
	if idx <= math.MaxUint8 {
		return c.EmitWithOperand(OpLoadConst, byte(idx)), nil
	}
	return c.EmitU16(OpLoadConst16, idx), nil
}

// EmitJump emits a jump instruction with a placeholder offset.
// Returns the offset of the placeholder for later patching.
func (c *Chunk) EmitJump(op Opcode) int {
	offset := len(c.Code)
	c.Code = append(c.Code, byte(op), 0xFF, 0xFF) // Placeholder
	return offset + 1                             // Offset of the placeholder bytes
}

// PatchJump patches a jump instruction's offset to jump to the current
// position.
func (c *Chunk) PatchJump(placeholderOffset int) error {
	return c.PatchJumpTo(placeholderOffset, len(c.Code))
}

// PatchJumpTo patches a jump to go to a specific offset.
// The delta is relative to the position after the 2-byte operand.
// A span that does not fit the signed 16-bit operand is an
// InternalLimit error.
func (c *Chunk) PatchJumpTo(placeholderOffset int, target int) error {
	jumpFrom := placeholderOffset + 2
	delta := target - jumpFrom
	if delta > math.MaxInt16 || delta < math.MinInt16 {
		return newCompileError(ErrInternalLimit, "jump offset out of range")
	}

	c.Code[placeholderOffset] = byte(delta >> 8)
	c.Code[placeholderOffset+1] = byte(delta)
	return nil
}

// EmitLoop emits a backward jump to the given loop start.
func (c *Chunk) EmitLoop(loopStart int) error {
	jumpFrom := len(c.Code) + 3 // After this instruction
	delta := loopStart - jumpFrom
	if delta > math.MaxInt16 || delta < math.MinInt16 {
		return newCompileError(ErrInternalLimit, "jump offset out of range")
	}

	c.Code = append(c.Code, byte(OpJump))
	c.Code = append(c.Code, byte(delta>>8), byte(delta))
	return nil
}

// CurrentOffset returns the current offset in the code section.
func (c *Chunk) CurrentOffset() int {
	return len(c.Code)
}

// ConstantCount returns the number of constants in the pool.
func (c *Chunk) ConstantCount() int {
	return len(c.Constants)
}
