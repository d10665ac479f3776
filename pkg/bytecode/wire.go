package bytecode

import (
	"bytes"
	"fmt"

	"github.com/fxamacker/cbor/v2"

	"github.com/chazu/sphinx/pkg/ast"
	"github.com/chazu/sphinx/runtime"
)

// cborEncMode uses canonical encoding so a given program always
// serializes to the same bytes.
var cborEncMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("bytecode: failed to create CBOR enc mode: %v", err))
	}
	cborEncMode = em
}

// wireConstant is the serialized form of one constant pool entry.
// Str holds the symbol index into the program string table.
type wireConstant struct {
	Kind uint8   `cbor:"1,keyasint"`
	Int  int64   `cbor:"2,keyasint,omitempty"`
	Flt  float64 `cbor:"3,keyasint,omitempty"`
	Str  uint32  `cbor:"4,keyasint,omitempty"`
}

type wireSymbol struct {
	Offset    uint32 `cbor:"1,keyasint"`
	SrcOffset uint32 `cbor:"2,keyasint"`
	SrcLength uint16 `cbor:"3,keyasint"`
	Line      uint32 `cbor:"4,keyasint"`
}

type wireChunk struct {
	Code      []byte         `cbor:"1,keyasint"`
	Constants []wireConstant `cbor:"2,keyasint"`
	Symbols   []wireSymbol   `cbor:"3,keyasint"`
}

type wireUpvalue struct {
	Kind  uint8 `cbor:"1,keyasint"`
	Index uint8 `cbor:"2,keyasint"`
}

type wireFunction struct {
	Chunk      wireChunk     `cbor:"1,keyasint"`
	ParamCount uint8         `cbor:"2,keyasint"`
	Upvalues   []wireUpvalue `cbor:"3,keyasint"`
}

type wireProgram struct {
	Version   uint16         `cbor:"1,keyasint"`
	Main      wireChunk      `cbor:"2,keyasint"`
	Functions []wireFunction `cbor:"3,keyasint"`
	Strings   []string       `cbor:"4,keyasint"`
}

// MarshalProgram serializes a program: the magic bytes followed by a
// canonical CBOR body.
func MarshalProgram(prog *Program) ([]byte, error) {
	wp := wireProgram{
		Version: BytecodeVersion,
		Main:    chunkToWire(prog.Main, prog.Symbols),
		Strings: prog.Strings.All(),
	}
	for _, proto := range prog.Functions {
		wp.Functions = append(wp.Functions, wireFunction{
			Chunk:      chunkToWire(proto.Chunk, proto.Symbols),
			ParamCount: proto.ParamCount,
			Upvalues:   upvalsToWire(proto.Upvalues),
		})
	}

	body, err := cborEncMode.Marshal(&wp)
	if err != nil {
		return nil, fmt.Errorf("bytecode: marshal program: %w", err)
	}
	out := make([]byte, 0, len(BytecodeMagic)+len(body))
	out = append(out, BytecodeMagic...)
	out = append(out, body...)
	return out, nil
}

// UnmarshalProgram deserializes a program, validating the magic bytes,
// version, opcode stream and every cross-reference. Malformed input
// produces an error, never a panic.
func UnmarshalProgram(data []byte) (*Program, error) {
	if len(data) < len(BytecodeMagic) || !bytes.Equal(data[:len(BytecodeMagic)], BytecodeMagic) {
		return nil, fmt.Errorf("bytecode: bad magic")
	}
	var wp wireProgram
	if err := cbor.Unmarshal(data[len(BytecodeMagic):], &wp); err != nil {
		return nil, fmt.Errorf("bytecode: unmarshal program: %w", err)
	}
	if wp.Version != BytecodeVersion {
		return nil, fmt.Errorf("bytecode: unsupported version %d", wp.Version)
	}

	strings := runtime.FromStrings(wp.Strings)
	prog := &Program{Strings: strings}

	main, symbols, err := chunkFromWire(&wp.Main, strings)
	if err != nil {
		return nil, err
	}
	prog.Main, prog.Symbols = main, symbols

	for i := range wp.Functions {
		wf := &wp.Functions[i]
		chunk, syms, err := chunkFromWire(&wf.Chunk, strings)
		if err != nil {
			return nil, err
		}
		proto := &FunctionProto{
			Chunk:      chunk,
			Symbols:    syms,
			ParamCount: wf.ParamCount,
		}
		for _, uv := range wf.Upvalues {
			if uv.Kind > uint8(UpvalueRecursive) {
				return nil, fmt.Errorf("bytecode: bad upvalue kind %d", uv.Kind)
			}
			proto.Upvalues = append(proto.Upvalues, UpvalueDescriptor{
				Kind:  UpvalueKind(uv.Kind),
				Index: uv.Index,
			})
		}
		prog.Functions = append(prog.Functions, proto)
	}

	if err := validateProgram(prog); err != nil {
		return nil, err
	}
	return prog, nil
}

func chunkToWire(c *Chunk, symbols *DebugSymbols) wireChunk {
	wc := wireChunk{Code: c.Code}
	for _, v := range c.Constants {
		var entry wireConstant
		entry.Kind = uint8(v.Kind())
		switch v.Kind() {
		case runtime.KindInteger:
			entry.Int = v.Int()
		case runtime.KindFloat:
			entry.Flt = v.Float()
		case runtime.KindInternStr:
			entry.Str = uint32(v.Symbol())
		}
		wc.Constants = append(wc.Constants, entry)
	}
	if symbols != nil {
		for i, off := range symbols.Offsets {
			sym := symbols.Symbols[i]
			wc.Symbols = append(wc.Symbols, wireSymbol{
				Offset:    off,
				SrcOffset: sym.Offset,
				SrcLength: sym.Length,
				Line:      sym.Line,
			})
		}
	}
	return wc
}

func chunkFromWire(wc *wireChunk, strings *runtime.Interner) (*Chunk, *DebugSymbols, error) {
	chunk := NewChunk(strings)
	chunk.Code = wc.Code
	for _, entry := range wc.Constants {
		var v runtime.Variant
		switch runtime.Kind(entry.Kind) {
		case runtime.KindInteger:
			v = runtime.FromInt(entry.Int)
		case runtime.KindFloat:
			v = runtime.FromFloat(entry.Flt)
		case runtime.KindInternStr:
			if int(entry.Str) >= strings.Len() {
				return nil, nil, fmt.Errorf("bytecode: symbol %d out of range", entry.Str)
			}
			v = runtime.FromSymbol(runtime.Symbol(entry.Str))
		default:
			return nil, nil, fmt.Errorf("bytecode: bad constant kind %d", entry.Kind)
		}
		if _, err := chunk.PushConst(v); err != nil {
			return nil, nil, err
		}
	}

	symbols := &DebugSymbols{}
	for _, ws := range wc.Symbols {
		symbols.Push(int(ws.Offset), ast.NewDebugSymbol(ws.SrcOffset, ws.SrcLength, ws.Line))
	}
	return chunk, symbols, nil
}

func upvalsToWire(upvals []UpvalueDescriptor) []wireUpvalue {
	var out []wireUpvalue
	for _, uv := range upvals {
		out = append(out, wireUpvalue{Kind: uint8(uv.Kind), Index: uv.Index})
	}
	return out
}

// validateProgram walks every chunk's code checking opcodes, operand
// lengths and cross-references, so the VM can trust a decoded program.
func validateProgram(prog *Program) error {
	if err := validateChunk(prog.Main, len(prog.Functions)); err != nil {
		return fmt.Errorf("bytecode: main: %w", err)
	}
	for i, proto := range prog.Functions {
		if err := validateChunk(proto.Chunk, len(prog.Functions)); err != nil {
			return fmt.Errorf("bytecode: function %d: %w", i, err)
		}
	}
	return nil
}

func validateChunk(c *Chunk, functionCount int) error {
	code := c.Code
	for offset := 0; offset < len(code); {
		op := Opcode(code[offset])
		info, known := opcodeInfoTable[op]
		if !known {
			return fmt.Errorf("unknown opcode 0x%02X at %04X", byte(op), offset)
		}
		if offset+1+info.OperandLen > len(code) {
			return fmt.Errorf("truncated %s at %04X", info.Name, offset)
		}

		switch op {
		case OpLoadConst:
			if int(code[offset+1]) >= len(c.Constants) {
				return fmt.Errorf("constant index out of range at %04X", offset)
			}
		case OpLoadConst16, OpLoadGlobal, OpStoreGlobal, OpInsertGlobal:
			idx := int(c.readU16(offset + 1))
			if idx >= len(c.Constants) {
				return fmt.Errorf("constant index out of range at %04X", offset)
			}
			if op != OpLoadConst16 && !c.Constants[idx].IsInternStr() {
				return fmt.Errorf("global name is not a string at %04X", offset)
			}
		case OpMakeFunction:
			if int(c.readU16(offset+1)) >= functionCount {
				return fmt.Errorf("function index out of range at %04X", offset)
			}
		}

		if op.IsJump() {
			delta := int16(c.readU16(offset + 1))
			target := offset + 3 + int(delta)
			if target < 0 || target > len(code) {
				return fmt.Errorf("jump target out of range at %04X", offset)
			}
		}

		offset += 1 + info.OperandLen
	}
	return nil
}
