package bytecode

import "fmt"

// Opcode represents a bytecode instruction.
// Opcodes are organized into ranges by category for easy identification.
type Opcode byte

const (
	// ========================================================================
	// Stack manipulation (0x00-0x0F)
	// ========================================================================

	OpNop  Opcode = 0x00 // No operation
	OpPop  Opcode = 0x01 // Pop top of stack
	OpDup  Opcode = 0x02 // Duplicate top of stack
	OpSwap Opcode = 0x03 // Swap top two stack elements

	// ========================================================================
	// Constants (0x10-0x1F)
	// ========================================================================

	OpLoadConst   Opcode = 0x10 // Push constant from pool: OpLoadConst <index:u8>
	OpLoadConst16 Opcode = 0x11 // Push constant from pool: OpLoadConst16 <index:u16>
	OpNil         Opcode = 0x12 // Push nil
	OpEmpty       Opcode = 0x13 // Push the empty tuple
	OpTrue        Opcode = 0x14 // Push true
	OpFalse       Opcode = 0x15 // Push false

	// ========================================================================
	// Local variables (0x20-0x2F)
	// ========================================================================

	OpLoadLocal  Opcode = 0x20 // Push local slot: OpLoadLocal <slot:u8>
	OpStoreLocal Opcode = 0x21 // Store top of stack to local: OpStoreLocal <slot:u8>

	// ========================================================================
	// Upvalues (0x28-0x2F)
	// ========================================================================

	OpLoadUpval  Opcode = 0x28 // Push captured cell's value: OpLoadUpval <index:u8>
	OpStoreUpval Opcode = 0x29 // Store top of stack through captured cell: OpStoreUpval <index:u8>

	// ========================================================================
	// Globals (0x30-0x3F) - names are interned-string constants
	// ========================================================================

	OpLoadGlobal   Opcode = 0x30 // Push global: OpLoadGlobal <name:u16>
	OpStoreGlobal  Opcode = 0x31 // Store to existing mutable global: OpStoreGlobal <name:u16>
	OpInsertGlobal Opcode = 0x32 // Define global: OpInsertGlobal <name:u16> <mutable:u8>

	// ========================================================================
	// Unary operators (0x40-0x47)
	// ========================================================================

	OpNeg Opcode = 0x40 // Arithmetic negation
	OpPos Opcode = 0x41 // Unary plus
	OpInv Opcode = 0x42 // Bitwise inversion
	OpNot Opcode = 0x43 // Logical not

	// ========================================================================
	// Arithmetic (0x48-0x4F)
	// ========================================================================

	OpMul Opcode = 0x48
	OpDiv Opcode = 0x49
	OpMod Opcode = 0x4A
	OpAdd Opcode = 0x4B
	OpSub Opcode = 0x4C

	// ========================================================================
	// Bitwise and shifts (0x50-0x57)
	// ========================================================================

	OpAnd Opcode = 0x50
	OpXor Opcode = 0x51
	OpOr  Opcode = 0x52
	OpShl Opcode = 0x54
	OpShr Opcode = 0x55

	// ========================================================================
	// Comparison (0x58-0x5F)
	// ========================================================================

	OpLT Opcode = 0x58
	OpGT Opcode = 0x59
	OpLE Opcode = 0x5A
	OpGE Opcode = 0x5B
	OpEQ Opcode = 0x5C
	OpNE Opcode = 0x5D

	// ========================================================================
	// Control flow (0x80-0x8F) - operands are signed 16-bit deltas relative
	// to the position after the operand bytes
	// ========================================================================

	OpJump           Opcode = 0x80 // Unconditional: OpJump <offset:i16>
	OpJumpIfFalse    Opcode = 0x81 // Jump if top is falsy, leaving it on the stack
	OpJumpIfTrue     Opcode = 0x82 // Jump if top is truthy, leaving it on the stack
	OpPopJumpIfFalse Opcode = 0x83 // Pop, jump if the popped value is falsy
	OpPopJumpIfTrue  Opcode = 0x84 // Pop, jump if the popped value is truthy

	// ========================================================================
	// Tuples (0x90-0x9F)
	// ========================================================================

	OpMakeTuple Opcode = 0x90 // Pop N values, push tuple: OpMakeTuple <n:u8>

	// ========================================================================
	// Functions (0xA0-0xAF)
	// ========================================================================

	OpMakeFunction Opcode = 0xA0 // Push closure over prototype: OpMakeFunction <proto:u16>
	OpCall         Opcode = 0xA1 // Call with N args: OpCall <argc:u8>
	OpReturn       Opcode = 0xA2 // Return top of stack from the current frame

	// ========================================================================
	// Miscellaneous (0xE0-0xEF)
	// ========================================================================

	OpEcho Opcode = 0xE0 // Pop and write display form to the VM's output
)

// OpcodeInfo provides metadata about each opcode for debugging and
// validation.
type OpcodeInfo struct {
	Name       string // Human-readable name
	StackPop   int    // How many values popped from stack (-1 = variable)
	StackPush  int    // How many values pushed to stack
	OperandLen int    // Number of operand bytes following the opcode
}

var opcodeInfoTable = map[Opcode]OpcodeInfo{
	OpNop:  {"NOP", 0, 0, 0},
	OpPop:  {"POP", 1, 0, 0},
	OpDup:  {"DUP", 1, 2, 0},
	OpSwap: {"SWAP", 2, 2, 0},

	OpLoadConst:   {"LOAD_CONST", 0, 1, 1},
	OpLoadConst16: {"LOAD_CONST16", 0, 1, 2},
	OpNil:         {"NIL", 0, 1, 0},
	OpEmpty:       {"EMPTY", 0, 1, 0},
	OpTrue:        {"TRUE", 0, 1, 0},
	OpFalse:       {"FALSE", 0, 1, 0},

	OpLoadLocal:  {"LOAD_LOCAL", 0, 1, 1},
	OpStoreLocal: {"STORE_LOCAL", 1, 0, 1},

	OpLoadUpval:  {"LOAD_UPVAL", 0, 1, 1},
	OpStoreUpval: {"STORE_UPVAL", 1, 0, 1},

	OpLoadGlobal:   {"LOAD_GLOBAL", 0, 1, 2},
	OpStoreGlobal:  {"STORE_GLOBAL", 1, 0, 2},
	OpInsertGlobal: {"INSERT_GLOBAL", 1, 0, 3},

	OpNeg: {"NEG", 1, 1, 0},
	OpPos: {"POS", 1, 1, 0},
	OpInv: {"INV", 1, 1, 0},
	OpNot: {"NOT", 1, 1, 0},

	OpMul: {"MUL", 2, 1, 0},
	OpDiv: {"DIV", 2, 1, 0},
	OpMod: {"MOD", 2, 1, 0},
	OpAdd: {"ADD", 2, 1, 0},
	OpSub: {"SUB", 2, 1, 0},

	OpAnd: {"AND", 2, 1, 0},
	OpXor: {"XOR", 2, 1, 0},
	OpOr:  {"OR", 2, 1, 0},
	OpShl: {"SHL", 2, 1, 0},
	OpShr: {"SHR", 2, 1, 0},

	OpLT: {"LT", 2, 1, 0},
	OpGT: {"GT", 2, 1, 0},
	OpLE: {"LE", 2, 1, 0},
	OpGE: {"GE", 2, 1, 0},
	OpEQ: {"EQ", 2, 1, 0},
	OpNE: {"NE", 2, 1, 0},

	OpJump:           {"JUMP", 0, 0, 2},
	OpJumpIfFalse:    {"JUMP_IF_FALSE", 0, 0, 2},
	OpJumpIfTrue:     {"JUMP_IF_TRUE", 0, 0, 2},
	OpPopJumpIfFalse: {"POP_JUMP_IF_FALSE", 1, 0, 2},
	OpPopJumpIfTrue:  {"POP_JUMP_IF_TRUE", 1, 0, 2},

	OpMakeTuple: {"MAKE_TUPLE", -1, 1, 1},

	OpMakeFunction: {"MAKE_FUNCTION", 0, 1, 2},
	OpCall:         {"CALL", -1, 1, 1},
	OpReturn:       {"RETURN", 1, 0, 0},

	OpEcho: {"ECHO", 1, 0, 0},
}

// GetOpcodeInfo returns metadata for an opcode.
// Returns a zero OpcodeInfo with name "UNKNOWN" if the opcode is not
// recognized.
func GetOpcodeInfo(op Opcode) OpcodeInfo {
	if info, ok := opcodeInfoTable[op]; ok {
		return info
	}
	return OpcodeInfo{Name: fmt.Sprintf("UNKNOWN(0x%02X)", byte(op))}
}

// String returns the human-readable name of an opcode.
func (op Opcode) String() string {
	return GetOpcodeInfo(op).Name
}

// OperandLen returns the number of operand bytes for this opcode.
func (op Opcode) OperandLen() int {
	return GetOpcodeInfo(op).OperandLen
}

// InstructionLen returns the total length of an instruction (1 + operand
// bytes).
func (op Opcode) InstructionLen() int {
	return 1 + op.OperandLen()
}

// IsJump returns true if this opcode is a jump instruction.
func (op Opcode) IsJump() bool {
	return op >= OpJump && op <= OpPopJumpIfTrue
}

// AllOpcodes returns a slice of all defined opcodes.
// Useful for testing that all opcodes have metadata.
func AllOpcodes() []Opcode {
	opcodes := make([]Opcode, 0, len(opcodeInfoTable))
	for op := range opcodeInfoTable {
		opcodes = append(opcodes, op)
	}
	return opcodes
}
