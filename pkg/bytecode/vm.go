package bytecode

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/chazu/sphinx/pkg/ast"
	"github.com/chazu/sphinx/runtime"
)

// MaxCallDepth bounds the call frame stack.
const MaxCallDepth = 1024

// DefaultGCThreshold is the number of allocations between automatic
// collections.
const DefaultGCThreshold = 4096

// Sentinel runtime failures. Value errors from operators
// (runtime.EvalError) pass through unchanged.
var (
	ErrUndefinedGlobal    = errors.New("undefined global")
	ErrImmutableGlobal    = errors.New("can't assign to immutable global")
	ErrNotCallable        = errors.New("value is not callable")
	ErrUnsupportedOperand = errors.New("unsupported operand type")
	ErrStackOverflow      = errors.New("call stack overflow")
	ErrBadOpcode          = errors.New("bad opcode")
)

// RuntimeError wraps a failure with the source span of the faulting
// instruction.
type RuntimeError struct {
	Err    error
	Symbol ast.DebugSymbol
}

func (e *RuntimeError) Error() string {
	if e.Symbol.Line > 0 {
		return fmt.Sprintf("line %d: %s", e.Symbol.Line, e.Err)
	}
	return e.Err.Error()
}

func (e *RuntimeError) Unwrap() error {
	return e.Err
}

type globalVar struct {
	value   runtime.Variant
	mutable bool
}

// frame is one activation record. base is the stack index of slot 0;
// for function frames slot 0 holds the callee and slot 1 the argument
// count.
type frame struct {
	chunk   *Chunk
	symbols *DebugSymbols
	closure *runtime.Closure // nil for the toplevel
	base    int
	pc      int
}

// VM executes a compiled program. It owns the value stack, the global
// table and the heap; collection runs automatically every GCThreshold
// allocations and may be forced with CollectGarbage.
type VM struct {
	prog    *Program
	heap    *runtime.Heap
	globals map[runtime.Symbol]*globalVar
	stack   []runtime.Variant
	frames  []frame
	out     io.Writer

	// GCThreshold is the allocation count that triggers a collection.
	// Zero disables automatic collection.
	GCThreshold int
	allocCount  int
}

// NewVM creates a VM for the given program writing echo output to
// stdout.
func NewVM(prog *Program) *VM {
	return &VM{
		prog:        prog,
		heap:        runtime.NewHeap(),
		globals:     make(map[runtime.Symbol]*globalVar),
		out:         os.Stdout,
		GCThreshold: DefaultGCThreshold,
	}
}

// SetOutput redirects echo output.
func (vm *VM) SetOutput(w io.Writer) {
	vm.out = w
}

// Heap exposes the VM's heap, mainly for inspection in tests.
func (vm *VM) Heap() *runtime.Heap {
	return vm.heap
}

// GlobalValue looks up a global by name.
func (vm *VM) GlobalValue(sym runtime.Symbol) (runtime.Variant, bool) {
	g, ok := vm.globals[sym]
	if !ok {
		return runtime.Nil, false
	}
	return g.value, true
}

// Run executes the program's toplevel chunk to completion.
func (vm *VM) Run() error {
	vm.frames = append(vm.frames, frame{
		chunk:   vm.prog.Main,
		symbols: vm.prog.Symbols,
		base:    len(vm.stack),
	})
	return vm.run()
}

// ---------------------------------------------------------------------------
// Stack
// ---------------------------------------------------------------------------

func (vm *VM) push(v runtime.Variant) {
	vm.stack = append(vm.stack, v)
}

func (vm *VM) pop() runtime.Variant {
	n := len(vm.stack) - 1
	v := vm.stack[n]
	vm.stack = vm.stack[:n]
	return v
}

func (vm *VM) peek() runtime.Variant {
	return vm.stack[len(vm.stack)-1]
}

// alloc wraps heap allocation with the automatic collection trigger.
func (vm *VM) alloc(obj runtime.Object) runtime.Handle {
	if vm.GCThreshold > 0 {
		vm.allocCount++
		if vm.allocCount >= vm.GCThreshold {
			vm.CollectGarbage()
		}
	}
	return vm.heap.Alloc(obj)
}

// CollectGarbage runs a full mark and sweep. Roots are every object
// reachable from the value stack and the global table; upvalue cells
// are reached through the closures that hold them.
func (vm *VM) CollectGarbage() *runtime.HeapStats {
	vm.allocCount = 0
	var roots []runtime.Handle
	for _, v := range vm.stack {
		if v.IsObject() {
			roots = append(roots, v.Object())
		}
	}
	for _, g := range vm.globals {
		if g.value.IsObject() {
			roots = append(roots, g.value.Object())
		}
	}
	return vm.heap.Collect(roots...)
}

// ---------------------------------------------------------------------------
// Cell transparency
// ---------------------------------------------------------------------------

// loadSlot reads a local slot, dereferencing the cell if the slot was
// boxed for capture. User code can never place a raw cell on the
// stack, so a cell in a slot always means a boxed local.
func (vm *VM) loadSlot(idx int) runtime.Variant {
	v := vm.stack[idx]
	if v.IsObject() {
		if cell, ok := vm.heap.Get(v.Object()).(*runtime.Cell); ok {
			return cell.Value
		}
	}
	return v
}

func (vm *VM) storeSlot(idx int, value runtime.Variant) {
	v := vm.stack[idx]
	if v.IsObject() {
		if cell, ok := vm.heap.Get(v.Object()).(*runtime.Cell); ok {
			cell.Value = value
			return
		}
	}
	vm.stack[idx] = value
}

// boxSlot ensures a local slot holds a cell and returns its handle.
func (vm *VM) boxSlot(idx int) runtime.Handle {
	v := vm.stack[idx]
	if v.IsObject() {
		if _, ok := vm.heap.Get(v.Object()).(*runtime.Cell); ok {
			return v.Object()
		}
	}
	h := vm.alloc(&runtime.Cell{Value: v})
	vm.stack[idx] = runtime.FromObject(h)
	return h
}

// ---------------------------------------------------------------------------
// Interpreter loop
// ---------------------------------------------------------------------------

func (vm *VM) run() error {
	for {
		f := &vm.frames[len(vm.frames)-1]
		if f.pc >= len(f.chunk.Code) {
			// Toplevel code ends by running off the chunk.
			vm.frames = vm.frames[:len(vm.frames)-1]
			if len(vm.frames) == 0 {
				return nil
			}
			continue
		}

		opOffset := f.pc
		op := Opcode(f.chunk.Code[f.pc])
		f.pc++

		if err := vm.step(f, op); err != nil {
			var sym ast.DebugSymbol
			if s, ok := f.symbols.Lookup(opOffset); ok {
				sym = s
			}
			return &RuntimeError{Err: err, Symbol: sym}
		}
	}
}

func (vm *VM) operandU8(f *frame) byte {
	b := f.chunk.Code[f.pc]
	f.pc++
	return b
}

func (vm *VM) operandU16(f *frame) uint16 {
	v := uint16(f.chunk.Code[f.pc])<<8 | uint16(f.chunk.Code[f.pc+1])
	f.pc += 2
	return v
}

func (vm *VM) operandI16(f *frame) int16 {
	return int16(vm.operandU16(f))
}

func (vm *VM) step(f *frame, op Opcode) error {
	switch op {
	case OpNop:

	case OpPop:
		vm.pop()
	case OpDup:
		vm.push(vm.peek())
	case OpSwap:
		n := len(vm.stack)
		vm.stack[n-1], vm.stack[n-2] = vm.stack[n-2], vm.stack[n-1]

	case OpLoadConst:
		vm.push(f.chunk.GetConstant(uint16(vm.operandU8(f))))
	case OpLoadConst16:
		vm.push(f.chunk.GetConstant(vm.operandU16(f)))
	case OpNil:
		vm.push(runtime.Nil)
	case OpEmpty:
		vm.push(runtime.EmptyTuple)
	case OpTrue:
		vm.push(runtime.True)
	case OpFalse:
		vm.push(runtime.False)

	case OpLoadLocal:
		vm.push(vm.loadSlot(f.base + int(vm.operandU8(f))))
	case OpStoreLocal:
		slot := f.base + int(vm.operandU8(f))
		vm.storeSlot(slot, vm.pop())

	case OpLoadUpval:
		idx := vm.operandU8(f)
		cell := vm.heap.Get(f.closure.Upvalues[idx]).(*runtime.Cell)
		vm.push(cell.Value)
	case OpStoreUpval:
		idx := vm.operandU8(f)
		cell := vm.heap.Get(f.closure.Upvalues[idx]).(*runtime.Cell)
		cell.Value = vm.pop()

	case OpLoadGlobal:
		sym := f.chunk.GetConstant(vm.operandU16(f)).Symbol()
		g, ok := vm.globals[sym]
		if !ok {
			return fmt.Errorf("%w: %s", ErrUndefinedGlobal, vm.symText(sym))
		}
		vm.push(g.value)
	case OpStoreGlobal:
		sym := f.chunk.GetConstant(vm.operandU16(f)).Symbol()
		g, ok := vm.globals[sym]
		if !ok {
			return fmt.Errorf("%w: %s", ErrUndefinedGlobal, vm.symText(sym))
		}
		if !g.mutable {
			return fmt.Errorf("%w: %s", ErrImmutableGlobal, vm.symText(sym))
		}
		g.value = vm.pop()
	case OpInsertGlobal:
		sym := f.chunk.GetConstant(vm.operandU16(f)).Symbol()
		mutable := vm.operandU8(f) != 0
		vm.globals[sym] = &globalVar{value: vm.pop(), mutable: mutable}

	case OpNeg, OpPos, OpInv, OpNot:
		return vm.runUnary(op)

	case OpMul, OpDiv, OpMod, OpAdd, OpSub,
		OpAnd, OpXor, OpOr, OpShl, OpShr,
		OpLT, OpGT, OpLE, OpGE, OpEQ, OpNE:
		return vm.runBinary(op)

	case OpJump:
		delta := vm.operandI16(f)
		f.pc += int(delta)
	case OpJumpIfFalse:
		delta := vm.operandI16(f)
		if !vm.peek().Truthy() {
			f.pc += int(delta)
		}
	case OpJumpIfTrue:
		delta := vm.operandI16(f)
		if vm.peek().Truthy() {
			f.pc += int(delta)
		}
	case OpPopJumpIfFalse:
		delta := vm.operandI16(f)
		if !vm.pop().Truthy() {
			f.pc += int(delta)
		}
	case OpPopJumpIfTrue:
		delta := vm.operandI16(f)
		if vm.pop().Truthy() {
			f.pc += int(delta)
		}

	case OpMakeTuple:
		n := int(vm.operandU8(f))
		if n == 0 {
			vm.push(runtime.EmptyTuple)
			break
		}
		items := make([]runtime.Variant, n)
		copy(items, vm.stack[len(vm.stack)-n:])
		// Items stay on the stack through the allocation so a
		// triggered collection still sees them as roots.
		h := vm.alloc(&runtime.Tuple{Items: items})
		vm.stack = vm.stack[:len(vm.stack)-n]
		vm.push(runtime.FromObject(h))

	case OpMakeFunction:
		return vm.makeFunction(f, vm.operandU16(f))
	case OpCall:
		return vm.call(int(vm.operandU8(f)))
	case OpReturn:
		result := vm.pop()
		returning := vm.frames[len(vm.frames)-1]
		vm.frames = vm.frames[:len(vm.frames)-1]
		vm.stack = vm.stack[:returning.base]
		vm.push(result)

	case OpEcho:
		v := vm.pop()
		fmt.Fprintln(vm.out, vm.display(v))

	default:
		return fmt.Errorf("%w: 0x%02X", ErrBadOpcode, byte(op))
	}
	return nil
}

func (vm *VM) makeFunction(f *frame, protoIdx uint16) error {
	proto := vm.prog.Functions[protoIdx]
	upvals := make([]runtime.Handle, len(proto.Upvalues))
	for i, desc := range proto.Upvalues {
		switch desc.Kind {
		case UpvalueLocal:
			upvals[i] = vm.boxSlot(f.base + int(desc.Index))
		case UpvalueRecursive:
			upvals[i] = f.closure.Upvalues[desc.Index]
		}
	}
	h := vm.alloc(&runtime.Closure{Proto: int(protoIdx), Upvalues: upvals})
	vm.push(runtime.FromObject(h))
	return nil
}

// call sets up a function frame. The stack holds the callee followed
// by argc arguments; the frame rearranges this into the fixed layout
// [callee, nargs, params...] with missing arguments padded with nil
// and extras dropped.
func (vm *VM) call(argc int) error {
	if len(vm.frames) >= MaxCallDepth {
		return ErrStackOverflow
	}
	calleeIdx := len(vm.stack) - argc - 1
	callee := vm.stack[calleeIdx]
	if !callee.IsObject() {
		return fmt.Errorf("%w: %s", ErrNotCallable, vm.display(callee))
	}
	closure, ok := vm.heap.Get(callee.Object()).(*runtime.Closure)
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotCallable, vm.display(callee))
	}
	proto := vm.prog.Functions[closure.Proto]

	args := make([]runtime.Variant, argc)
	copy(args, vm.stack[calleeIdx+1:])
	vm.stack = vm.stack[:calleeIdx+1]
	vm.push(runtime.FromInt(int64(argc)))
	for i := 0; i < int(proto.ParamCount); i++ {
		if i < argc {
			vm.push(args[i])
		} else {
			vm.push(runtime.Nil)
		}
	}

	vm.frames = append(vm.frames, frame{
		chunk:   proto.Chunk,
		symbols: proto.Symbols,
		closure: closure,
		base:    calleeIdx,
	})
	return nil
}

// ---------------------------------------------------------------------------
// Operators
// ---------------------------------------------------------------------------

func (vm *VM) runUnary(op Opcode) error {
	operand := vm.pop()

	var result runtime.Variant
	var ok bool
	var err error
	switch op {
	case OpNeg:
		result, ok, err = runtime.EvalNeg(operand)
	case OpPos:
		result, ok, err = runtime.EvalPos(operand)
	case OpInv:
		result, ok, err = runtime.EvalInv(operand)
	case OpNot:
		result, ok = runtime.EvalNot(operand), true
	}
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s %s", ErrUnsupportedOperand, op, operand.Kind())
	}
	vm.push(result)
	return nil
}

func (vm *VM) runBinary(op Opcode) error {
	rhs := vm.pop()
	lhs := vm.pop()

	var result runtime.Variant
	var ok bool
	var err error

	switch op {
	case OpMul:
		result, ok, err = runtime.EvalMul(lhs, rhs)
	case OpDiv:
		result, ok, err = runtime.EvalDiv(lhs, rhs)
	case OpMod:
		result, ok, err = runtime.EvalMod(lhs, rhs)
	case OpAdd:
		result, ok, err = runtime.EvalAdd(lhs, rhs)
	case OpSub:
		result, ok, err = runtime.EvalSub(lhs, rhs)

	case OpAnd:
		result, ok = runtime.EvalAnd(lhs, rhs)
	case OpXor:
		result, ok = runtime.EvalXor(lhs, rhs)
	case OpOr:
		result, ok = runtime.EvalOr(lhs, rhs)

	case OpShl:
		result, ok, err = runtime.EvalShl(lhs, rhs)
	case OpShr:
		result, ok, err = runtime.EvalShr(lhs, rhs)

	case OpLT, OpGT, OpLE, OpGE:
		var b bool
		switch op {
		case OpLT:
			b, ok = runtime.EvalLT(lhs, rhs)
		case OpGT:
			b, ok = runtime.EvalGT(lhs, rhs)
		case OpLE:
			b, ok = runtime.EvalLE(lhs, rhs)
		case OpGE:
			b, ok = runtime.EvalGE(lhs, rhs)
		}
		result = runtime.FromBool(b)

	case OpEQ:
		result, ok = runtime.FromBool(vm.valuesEqual(lhs, rhs)), true
	case OpNE:
		result, ok = runtime.FromBool(!vm.valuesEqual(lhs, rhs)), true
	}

	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s %s %s", ErrUnsupportedOperand, lhs.Kind(), op, rhs.Kind())
	}
	vm.push(result)
	return nil
}

// valuesEqual applies reference identity for heap objects and value
// equality for primitives.
func (vm *VM) valuesEqual(lhs, rhs runtime.Variant) bool {
	if lhs.IsObject() && rhs.IsObject() {
		return runtime.PtrEq(lhs.Object(), rhs.Object())
	}
	return runtime.EvalEq(lhs, rhs)
}

// ---------------------------------------------------------------------------
// Display
// ---------------------------------------------------------------------------

func (vm *VM) symText(sym runtime.Symbol) string {
	if s, ok := vm.prog.Strings.Lookup(sym); ok {
		return s
	}
	return "?"
}

// display renders a value for echo output, descending into tuples.
func (vm *VM) display(v runtime.Variant) string {
	if v.IsObject() {
		switch obj := vm.heap.Get(v.Object()).(type) {
		case *runtime.Tuple:
			s := "("
			for i, item := range obj.Items {
				if i > 0 {
					s += ", "
				}
				s += vm.display(item)
			}
			return s + ")"
		case *runtime.Closure:
			return fmt.Sprintf("<function %d>", obj.Proto)
		}
	}
	return v.Display(vm.prog.Strings)
}
