package bytecode

import (
	"fmt"
	"strings"
)

// Disassemble returns a human-readable bytecode listing for the chunk.
func (c *Chunk) Disassemble() string {
	return c.DisassembleWithName("")
}

// DisassembleWithName returns a human-readable bytecode listing with a
// name header.
func (c *Chunk) DisassembleWithName(name string) string {
	var sb strings.Builder

	if name != "" {
		sb.WriteString(fmt.Sprintf("; === %s ===\n", name))
	}
	sb.WriteString(fmt.Sprintf("; Sphinx Bytecode v%d\n", BytecodeVersion))

	if len(c.Constants) > 0 {
		sb.WriteString("; Constants:\n")
		for i := range c.Constants {
			sb.WriteString(fmt.Sprintf(";   [%3d] %s\n", i, c.constText(uint16(i))))
		}
	}

	sb.WriteString("; Code:\n")
	offset := 0
	for offset < len(c.Code) {
		line, instrLen := c.disassembleInstruction(offset)
		sb.WriteString(fmt.Sprintf("%04X  %s\n", offset, line))
		if instrLen == 0 {
			break
		}
		offset += instrLen
	}

	return sb.String()
}

// DisassembleProgram lists the toplevel chunk and every function
// prototype.
func DisassembleProgram(prog *Program) string {
	var sb strings.Builder
	sb.WriteString(prog.Main.DisassembleWithName("main"))
	for i, proto := range prog.Functions {
		sb.WriteString("\n")
		sb.WriteString(proto.Chunk.DisassembleWithName(fmt.Sprintf("function %d", i)))
		if len(proto.Upvalues) > 0 {
			sb.WriteString("; Upvalues:\n")
			for j, uv := range proto.Upvalues {
				kind := "local"
				if uv.Kind == UpvalueRecursive {
					kind = "upvalue"
				}
				sb.WriteString(fmt.Sprintf(";   [%3d] %s %d\n", j, kind, uv.Index))
			}
		}
	}
	return sb.String()
}

func (c *Chunk) constText(idx uint16) string {
	value := c.Constants[idx]
	if value.IsInternStr() && c.Strings != nil {
		if s, ok := c.Strings.Lookup(value.Symbol()); ok {
			return fmt.Sprintf("%q", s)
		}
	}
	return value.String()
}

// disassembleInstruction disassembles a single instruction at the
// given offset. Returns the formatted string and the instruction
// length.
func (c *Chunk) disassembleInstruction(offset int) (string, int) {
	if offset >= len(c.Code) {
		return "<end of code>", 0
	}

	op := Opcode(c.Code[offset])
	info := GetOpcodeInfo(op)

	if offset+1+info.OperandLen > len(c.Code) {
		return fmt.Sprintf("%s <truncated>", info.Name), len(c.Code) - offset
	}

	switch op {
	case OpLoadConst:
		idx := uint16(c.Code[offset+1])
		return fmt.Sprintf("LOAD_CONST %d ; %s", idx, c.constText(idx)), 2
	case OpLoadConst16:
		idx := c.readU16(offset + 1)
		return fmt.Sprintf("LOAD_CONST16 %d ; %s", idx, c.constText(idx)), 3

	case OpLoadGlobal, OpStoreGlobal:
		idx := c.readU16(offset + 1)
		return fmt.Sprintf("%s %d ; %s", info.Name, idx, c.constText(idx)), 3
	case OpInsertGlobal:
		idx := c.readU16(offset + 1)
		mut := ""
		if c.Code[offset+3] != 0 {
			mut = " var"
		}
		return fmt.Sprintf("INSERT_GLOBAL %d%s ; %s", idx, mut, c.constText(idx)), 4

	case OpJump, OpJumpIfFalse, OpJumpIfTrue, OpPopJumpIfFalse, OpPopJumpIfTrue:
		delta := int16(c.readU16(offset + 1))
		target := offset + 3 + int(delta)
		return fmt.Sprintf("%s %+d ; -> %04X", info.Name, delta, target), 3
	}

	switch info.OperandLen {
	case 0:
		return info.Name, 1
	case 1:
		return fmt.Sprintf("%s %d", info.Name, c.Code[offset+1]), 2
	case 2:
		return fmt.Sprintf("%s %d", info.Name, c.readU16(offset+1)), 3
	default:
		return info.Name, 1 + info.OperandLen
	}
}

func (c *Chunk) readU16(offset int) uint16 {
	return uint16(c.Code[offset])<<8 | uint16(c.Code[offset+1])
}
