package runtime

import "math"

// Short-circuit operator evaluation.
//
// Binary and unary operations on certain primitive variants resolve here
// instead of deferring to type-level metamethod dispatch. Each evaluator
// returns ok=false when the operand types are outside its fast path; the
// caller must then fall back to the type system.

// IsArithmeticPrimitive reports whether v participates in primitive
// arithmetic (integers and floats).
func IsArithmeticPrimitive(v Variant) bool {
	return v.IsInteger() || v.IsFloat()
}

// IsBitwisePrimitive reports whether v participates in primitive bitwise
// and shift operations (booleans and integers).
func IsBitwisePrimitive(v Variant) bool {
	return v.IsBool() || v.IsInteger()
}

// ---------------------------------------------------------------------------
// Unary operators
// ---------------------------------------------------------------------------

// EvalNeg evaluates arithmetic negation.
func EvalNeg(operand Variant) (Variant, bool, error) {
	switch operand.Kind() {
	case KindInteger:
		n := operand.Int()
		if n == math.MinInt64 {
			return Nil, true, newEvalError(OverflowError)
		}
		return FromInt(-n), true, nil
	case KindFloat:
		return FromFloat(-operand.Float()), true, nil
	}
	return Nil, false, nil
}

// EvalPos evaluates unary plus, a no-op for arithmetic primitives.
func EvalPos(operand Variant) (Variant, bool, error) {
	if IsArithmeticPrimitive(operand) {
		return operand, true, nil
	}
	return Nil, false, nil
}

// EvalInv evaluates bitwise inversion. Boolean inversion is logical NOT.
func EvalInv(operand Variant) (Variant, bool, error) {
	switch operand.Kind() {
	case KindBoolTrue:
		return False, true, nil
	case KindBoolFalse:
		return True, true, nil
	case KindInteger:
		return FromInt(^operand.Int()), true, nil
	}
	return Nil, false, nil
}

// EvalNot evaluates logical NOT. Unlike the other unary operators it is
// total: truthiness is defined for every variant.
func EvalNot(operand Variant) Variant {
	return FromBool(!operand.Truthy())
}

// ---------------------------------------------------------------------------
// Equality
// ---------------------------------------------------------------------------

// EvalEq evaluates equality. It always fully resolves and never falls back:
// nil compares false against everything including itself, the empty tuple
// equals only itself, numeric primitives cross-compare via float coercion,
// and anything involving a heap object defaults to false here (reference
// identity is layered on by the caller).
func EvalEq(lhs, rhs Variant) bool {
	if lhs.IsNil() || rhs.IsNil() {
		return false
	}

	switch {
	case lhs.IsEmptyTuple() && rhs.IsEmptyTuple():
		return true
	case lhs.Kind() == KindBoolTrue && rhs.Kind() == KindBoolTrue:
		return true
	case lhs.Kind() == KindBoolFalse && rhs.Kind() == KindBoolFalse:
		return true
	case lhs.IsInternStr() && rhs.IsInternStr():
		return lhs.Symbol() == rhs.Symbol()
	case lhs.IsInteger() && rhs.IsInteger():
		return lhs.Int() == rhs.Int()
	case IsArithmeticPrimitive(lhs) && IsArithmeticPrimitive(rhs):
		return lhs.FloatValue() == rhs.FloatValue()
	}
	return false
}

// EvalNe evaluates inequality as the negation of EvalEq.
func EvalNe(lhs, rhs Variant) bool {
	return !EvalEq(lhs, rhs)
}

// ---------------------------------------------------------------------------
// Arithmetic
// ---------------------------------------------------------------------------

// Integer add/sub/mul use overflow-checked operations; overflow is a
// recoverable error, never silent wraparound.

func intAdd(a, b int64) (Variant, error) {
	sum := a + b
	if (a^sum)&(b^sum) < 0 {
		return Nil, newEvalError(OverflowError)
	}
	return FromInt(sum), nil
}

func intSub(a, b int64) (Variant, error) {
	diff := a - b
	if (a^b)&(a^diff) < 0 {
		return Nil, newEvalError(OverflowError)
	}
	return FromInt(diff), nil
}

func intMul(a, b int64) (Variant, error) {
	if (a == -1 && b == math.MinInt64) || (b == -1 && a == math.MinInt64) {
		return Nil, newEvalError(OverflowError)
	}
	p := a * b
	if a != 0 && p/a != b {
		return Nil, newEvalError(OverflowError)
	}
	return FromInt(p), nil
}

func intDiv(a, b int64) (Variant, error) {
	if b == 0 {
		return Nil, newEvalError(DivideByZero)
	}
	if a == math.MinInt64 && b == -1 {
		return Nil, newEvalError(OverflowError)
	}
	return FromInt(a / b), nil
}

func intMod(a, b int64) (Variant, error) {
	if b == 0 {
		return Nil, newEvalError(DivideByZero)
	}
	if a == math.MinInt64 && b == -1 {
		return FromInt(0), nil
	}
	return FromInt(a % b), nil
}

// evalArithmetic applies the numeric coercion rule: integer math when both
// operands are integers, float math when both are arithmetic primitives,
// not-applicable otherwise.
func evalArithmetic(lhs, rhs Variant, intOp func(a, b int64) (Variant, error), floatOp func(a, b float64) float64) (Variant, bool, error) {
	if lhs.IsInteger() && rhs.IsInteger() {
		v, err := intOp(lhs.Int(), rhs.Int())
		return v, true, err
	}
	if IsArithmeticPrimitive(lhs) && IsArithmeticPrimitive(rhs) {
		return FromFloat(floatOp(lhs.FloatValue(), rhs.FloatValue())), true, nil
	}
	return Nil, false, nil
}

// EvalMul evaluates multiplication.
func EvalMul(lhs, rhs Variant) (Variant, bool, error) {
	return evalArithmetic(lhs, rhs, intMul, func(a, b float64) float64 { return a * b })
}

// EvalDiv evaluates division. Integer division by zero and MinInt64 / -1
// are recoverable errors; float division follows IEEE 754.
func EvalDiv(lhs, rhs Variant) (Variant, bool, error) {
	return evalArithmetic(lhs, rhs, intDiv, func(a, b float64) float64 { return a / b })
}

// EvalMod evaluates the modulo operation.
func EvalMod(lhs, rhs Variant) (Variant, bool, error) {
	return evalArithmetic(lhs, rhs, intMod, math.Mod)
}

// EvalAdd evaluates addition.
func EvalAdd(lhs, rhs Variant) (Variant, bool, error) {
	return evalArithmetic(lhs, rhs, intAdd, func(a, b float64) float64 { return a + b })
}

// EvalSub evaluates subtraction.
func EvalSub(lhs, rhs Variant) (Variant, bool, error) {
	return evalArithmetic(lhs, rhs, intSub, func(a, b float64) float64 { return a - b })
}

// ---------------------------------------------------------------------------
// Comparison
// ---------------------------------------------------------------------------

// EvalLT evaluates less-than under the numeric coercion rule.
func EvalLT(lhs, rhs Variant) (bool, bool) {
	if lhs.IsInteger() && rhs.IsInteger() {
		return lhs.Int() < rhs.Int(), true
	}
	if IsArithmeticPrimitive(lhs) && IsArithmeticPrimitive(rhs) {
		return lhs.FloatValue() < rhs.FloatValue(), true
	}
	return false, false
}

// EvalLE evaluates less-than-or-equal under the numeric coercion rule.
func EvalLE(lhs, rhs Variant) (bool, bool) {
	if lhs.IsInteger() && rhs.IsInteger() {
		return lhs.Int() <= rhs.Int(), true
	}
	if IsArithmeticPrimitive(lhs) && IsArithmeticPrimitive(rhs) {
		return lhs.FloatValue() <= rhs.FloatValue(), true
	}
	return false, false
}

// EvalGE evaluates greater-than-or-equal as the negation of EvalLT.
// Not-applicable propagates: if EvalLT has no answer, neither does EvalGE.
func EvalGE(lhs, rhs Variant) (bool, bool) {
	lt, ok := EvalLT(lhs, rhs)
	return !lt, ok
}

// EvalGT evaluates greater-than as the negation of EvalLE.
func EvalGT(lhs, rhs Variant) (bool, bool) {
	le, ok := EvalLE(lhs, rhs)
	return !le, ok
}

// ---------------------------------------------------------------------------
// Bitwise
// ---------------------------------------------------------------------------

// Boolean bitwise ops are logical AND/XOR/OR without short-circuit
// evaluation. Mixed boolean/integer operands are not supported by this path
// and fall back to type dispatch.

func evalBitwise(lhs, rhs Variant, boolOp func(a, b bool) bool, intOp func(a, b int64) int64) (Variant, bool) {
	if lhs.IsBool() && rhs.IsBool() {
		return FromBool(boolOp(lhs.Bool(), rhs.Bool())), true
	}
	if lhs.IsInteger() && rhs.IsInteger() {
		return FromInt(intOp(lhs.Int(), rhs.Int())), true
	}
	return Nil, false
}

// EvalAnd evaluates bitwise AND.
func EvalAnd(lhs, rhs Variant) (Variant, bool) {
	return evalBitwise(lhs, rhs,
		func(a, b bool) bool { return a && b },
		func(a, b int64) int64 { return a & b })
}

// EvalXor evaluates bitwise XOR.
func EvalXor(lhs, rhs Variant) (Variant, bool) {
	return evalBitwise(lhs, rhs,
		func(a, b bool) bool { return a != b },
		func(a, b int64) int64 { return a ^ b })
}

// EvalOr evaluates bitwise OR.
func EvalOr(lhs, rhs Variant) (Variant, bool) {
	return evalBitwise(lhs, rhs,
		func(a, b bool) bool { return a || b },
		func(a, b int64) int64 { return a | b })
}

// ---------------------------------------------------------------------------
// Shifts
// ---------------------------------------------------------------------------

// A boolean left operand shifts as 0/1. A boolean shift count means shift
// by one (true) or not at all (false) - shifting by false returns the left
// operand unchanged, whatever its primitive kind.

func checkedShift(count int64, apply func(uint) int64) (Variant, error) {
	if count < 0 {
		return Nil, newEvalError(NegativeShiftCount)
	}
	if count >= 64 {
		return Nil, newEvalError(OverflowError)
	}
	return FromInt(apply(uint(count))), nil
}

func evalShift(lhs, rhs Variant, intOp func(v int64, n uint) int64) (Variant, bool, error) {
	if !IsBitwisePrimitive(lhs) {
		return Nil, false, nil
	}
	switch rhs.Kind() {
	case KindInteger:
		v, err := checkedShift(rhs.Int(), func(n uint) int64 { return intOp(lhs.BitValue(), n) })
		return v, true, err
	case KindBoolTrue:
		v, err := checkedShift(1, func(n uint) int64 { return intOp(lhs.BitValue(), n) })
		return v, true, err
	case KindBoolFalse:
		return lhs, true, nil
	}
	return Nil, false, nil
}

// EvalShl evaluates left shift.
func EvalShl(lhs, rhs Variant) (Variant, bool, error) {
	return evalShift(lhs, rhs, func(v int64, n uint) int64 { return v << n })
}

// EvalShr evaluates arithmetic right shift.
func EvalShr(lhs, rhs Variant) (Variant, bool, error) {
	return evalShift(lhs, rhs, func(v int64, n uint) int64 { return v >> n })
}
