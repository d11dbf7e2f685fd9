package interp

import (
	"fmt"
	"math"
	"math/bits"

	"github.com/damus-io/nostrscript/api"
)

func i32(v api.Value) int32   { return int32(v.I32()) }
func u32(v api.Value) uint32  { return v.I32() }
func i64(v api.Value) int64   { return int64(v.I64()) }
func u64(v api.Value) uint64  { return v.I64() }
func f32(v api.Value) float32 { return math.Float32frombits(uint32(v.Lo)) }
func f64(v api.Value) float64 { return math.Float64frombits(v.Lo) }

func boolVal(b bool) api.Value {
	if b {
		return api.I32(1)
	}
	return api.I32(0)
}

// binopI32 applies a binary i32 operator, trapping on division/remainder by
// zero and signed-division overflow (math.MinInt32 / -1), matching the
// WebAssembly 1.0 numeric instruction semantics.
func (in *Interpreter) binopI32(op wasmOp, a, b api.Value) (api.Value, error) {
	x, y := i32(a), i32(b)
	ux, uy := u32(a), u32(b)
	switch op {
	case opAdd:
		return api.I32(uint32(x + y)), nil
	case opSub:
		return api.I32(uint32(x - y)), nil
	case opMul:
		return api.I32(uint32(x * y)), nil
	case opDivS:
		if y == 0 {
			return api.Value{}, fmt.Errorf("%w: i32.div_s by zero", ErrTrap)
		}
		if x == math.MinInt32 && y == -1 {
			return api.Value{}, fmt.Errorf("%w: i32.div_s overflow", ErrTrap)
		}
		return api.I32(uint32(x / y)), nil
	case opDivU:
		if uy == 0 {
			return api.Value{}, fmt.Errorf("%w: i32.div_u by zero", ErrTrap)
		}
		return api.I32(ux / uy), nil
	case opRemS:
		if y == 0 {
			return api.Value{}, fmt.Errorf("%w: i32.rem_s by zero", ErrTrap)
		}
		if x == math.MinInt32 && y == -1 {
			return api.I32(0), nil
		}
		return api.I32(uint32(x % y)), nil
	case opRemU:
		if uy == 0 {
			return api.Value{}, fmt.Errorf("%w: i32.rem_u by zero", ErrTrap)
		}
		return api.I32(ux % uy), nil
	case opAnd:
		return api.I32(ux & uy), nil
	case opOr:
		return api.I32(ux | uy), nil
	case opXor:
		return api.I32(ux ^ uy), nil
	case opShl:
		return api.I32(ux << (uy & 31)), nil
	case opShrS:
		return api.I32(uint32(x >> (uy & 31))), nil
	case opShrU:
		return api.I32(ux >> (uy & 31)), nil
	case opRotl:
		return api.I32(bits.RotateLeft32(ux, int(uy&31))), nil
	case opRotr:
		return api.I32(bits.RotateLeft32(ux, -int(uy&31))), nil
	case opEq:
		return boolVal(x == y), nil
	case opNe:
		return boolVal(x != y), nil
	case opLtS:
		return boolVal(x < y), nil
	case opLtU:
		return boolVal(ux < uy), nil
	case opGtS:
		return boolVal(x > y), nil
	case opGtU:
		return boolVal(ux > uy), nil
	case opLeS:
		return boolVal(x <= y), nil
	case opLeU:
		return boolVal(ux <= uy), nil
	case opGeS:
		return boolVal(x >= y), nil
	case opGeU:
		return boolVal(ux >= uy), nil
	}
	return api.Value{}, fmt.Errorf("interp: unhandled i32 binop %d", op)
}

func (in *Interpreter) binopI64(op wasmOp, a, b api.Value) (api.Value, error) {
	x, y := i64(a), i64(b)
	ux, uy := u64(a), u64(b)
	switch op {
	case opAdd:
		return api.I64(uint64(x + y)), nil
	case opSub:
		return api.I64(uint64(x - y)), nil
	case opMul:
		return api.I64(uint64(x * y)), nil
	case opDivS:
		if y == 0 {
			return api.Value{}, fmt.Errorf("%w: i64.div_s by zero", ErrTrap)
		}
		if x == math.MinInt64 && y == -1 {
			return api.Value{}, fmt.Errorf("%w: i64.div_s overflow", ErrTrap)
		}
		return api.I64(uint64(x / y)), nil
	case opDivU:
		if uy == 0 {
			return api.Value{}, fmt.Errorf("%w: i64.div_u by zero", ErrTrap)
		}
		return api.I64(ux / uy), nil
	case opRemS:
		if y == 0 {
			return api.Value{}, fmt.Errorf("%w: i64.rem_s by zero", ErrTrap)
		}
		if x == math.MinInt64 && y == -1 {
			return api.I64(0), nil
		}
		return api.I64(uint64(x % y)), nil
	case opRemU:
		if uy == 0 {
			return api.Value{}, fmt.Errorf("%w: i64.rem_u by zero", ErrTrap)
		}
		return api.I64(ux % uy), nil
	case opAnd:
		return api.I64(ux & uy), nil
	case opOr:
		return api.I64(ux | uy), nil
	case opXor:
		return api.I64(ux ^ uy), nil
	case opShl:
		return api.I64(ux << (uy & 63)), nil
	case opShrS:
		return api.I64(uint64(x >> (uy & 63))), nil
	case opShrU:
		return api.I64(ux >> (uy & 63)), nil
	case opRotl:
		return api.I64(bits.RotateLeft64(ux, int(uy&63))), nil
	case opRotr:
		return api.I64(bits.RotateLeft64(ux, -int(uy&63))), nil
	case opEq:
		return boolVal(x == y), nil
	case opNe:
		return boolVal(x != y), nil
	case opLtS:
		return boolVal(x < y), nil
	case opLtU:
		return boolVal(ux < uy), nil
	case opGtS:
		return boolVal(x > y), nil
	case opGtU:
		return boolVal(ux > uy), nil
	case opLeS:
		return boolVal(x <= y), nil
	case opLeU:
		return boolVal(ux <= uy), nil
	case opGeS:
		return boolVal(x >= y), nil
	case opGeU:
		return boolVal(ux >= uy), nil
	}
	return api.Value{}, fmt.Errorf("interp: unhandled i64 binop %d", op)
}

func binopF32(op wasmOp, a, b api.Value) (api.Value, error) {
	x, y := f32(a), f32(b)
	switch op {
	case opAdd:
		return api.F32Bits(math.Float32bits(x + y)), nil
	case opSub:
		return api.F32Bits(math.Float32bits(x - y)), nil
	case opMul:
		return api.F32Bits(math.Float32bits(x * y)), nil
	case opDiv:
		return api.F32Bits(math.Float32bits(x / y)), nil
	case opMin:
		return api.F32Bits(math.Float32bits(fminWasm32(x, y))), nil
	case opMax:
		return api.F32Bits(math.Float32bits(fmaxWasm32(x, y))), nil
	case opCopysign:
		return api.F32Bits(math.Float32bits(float32(math.Copysign(float64(x), float64(y))))), nil
	case opEq:
		return boolVal(x == y), nil
	case opNe:
		return boolVal(x != y), nil
	case opLt:
		return boolVal(x < y), nil
	case opGt:
		return boolVal(x > y), nil
	case opLe:
		return boolVal(x <= y), nil
	case opGe:
		return boolVal(x >= y), nil
	}
	return api.Value{}, fmt.Errorf("interp: unhandled f32 binop %d", op)
}

func binopF64(op wasmOp, a, b api.Value) (api.Value, error) {
	x, y := f64(a), f64(b)
	switch op {
	case opAdd:
		return api.F64Bits(math.Float64bits(x + y)), nil
	case opSub:
		return api.F64Bits(math.Float64bits(x - y)), nil
	case opMul:
		return api.F64Bits(math.Float64bits(x * y)), nil
	case opDiv:
		return api.F64Bits(math.Float64bits(x / y)), nil
	case opMin:
		return api.F64Bits(math.Float64bits(fminWasm64(x, y))), nil
	case opMax:
		return api.F64Bits(math.Float64bits(fmaxWasm64(x, y))), nil
	case opCopysign:
		return api.F64Bits(math.Float64bits(math.Copysign(x, y))), nil
	case opEq:
		return boolVal(x == y), nil
	case opNe:
		return boolVal(x != y), nil
	case opLt:
		return boolVal(x < y), nil
	case opGt:
		return boolVal(x > y), nil
	case opLe:
		return boolVal(x <= y), nil
	case opGe:
		return boolVal(x >= y), nil
	}
	return api.Value{}, fmt.Errorf("interp: unhandled f64 binop %d", op)
}

// fminWasm32/fmaxWasm32/fminWasm64/fmaxWasm64 implement WebAssembly's
// NaN-propagating, signed-zero-aware min/max (distinct from Go's math.Min,
// which does not distinguish -0 from +0 the way WebAssembly requires).
func fminWasm32(x, y float32) float32 {
	if math.IsNaN(float64(x)) || math.IsNaN(float64(y)) {
		return float32(math.NaN())
	}
	if x == 0 && y == 0 {
		if math.Signbit(float64(x)) || math.Signbit(float64(y)) {
			return float32(math.Copysign(0, -1))
		}
		return 0
	}
	if x < y {
		return x
	}
	return y
}

func fmaxWasm32(x, y float32) float32 {
	if math.IsNaN(float64(x)) || math.IsNaN(float64(y)) {
		return float32(math.NaN())
	}
	if x == 0 && y == 0 {
		if !math.Signbit(float64(x)) || !math.Signbit(float64(y)) {
			return 0
		}
		return float32(math.Copysign(0, -1))
	}
	if x > y {
		return x
	}
	return y
}

func fminWasm64(x, y float64) float64 {
	if math.IsNaN(x) || math.IsNaN(y) {
		return math.NaN()
	}
	if x == 0 && y == 0 {
		if math.Signbit(x) || math.Signbit(y) {
			return math.Copysign(0, -1)
		}
		return 0
	}
	if x < y {
		return x
	}
	return y
}

func fmaxWasm64(x, y float64) float64 {
	if math.IsNaN(x) || math.IsNaN(y) {
		return math.NaN()
	}
	if x == 0 && y == 0 {
		if !math.Signbit(x) || !math.Signbit(y) {
			return 0
		}
		return math.Copysign(0, -1)
	}
	if x > y {
		return x
	}
	return y
}

func unopI32(op wasmOp, a api.Value) (api.Value, error) {
	x, ux := i32(a), u32(a)
	switch op {
	case opClz:
		return api.I32(uint32(bits.LeadingZeros32(ux))), nil
	case opCtz:
		return api.I32(uint32(bits.TrailingZeros32(ux))), nil
	case opPopcnt:
		return api.I32(uint32(bits.OnesCount32(ux))), nil
	case opEqz:
		return boolVal(x == 0), nil
	case opExtend8S:
		return api.I32(uint32(int32(int8(ux)))), nil
	case opExtend16S:
		return api.I32(uint32(int32(int16(ux)))), nil
	}
	return api.Value{}, fmt.Errorf("interp: unhandled i32 unop %d", op)
}

func unopI64(op wasmOp, a api.Value) (api.Value, error) {
	ux := u64(a)
	switch op {
	case opClz:
		return api.I64(uint64(bits.LeadingZeros64(ux))), nil
	case opCtz:
		return api.I64(uint64(bits.TrailingZeros64(ux))), nil
	case opPopcnt:
		return api.I64(uint64(bits.OnesCount64(ux))), nil
	case opEqz:
		return boolVal(ux == 0), nil
	case opExtend8S:
		return api.I64(uint64(int64(int8(ux)))), nil
	case opExtend16S:
		return api.I64(uint64(int64(int16(ux)))), nil
	case opExtend32S:
		return api.I64(uint64(int64(int32(ux)))), nil
	}
	return api.Value{}, fmt.Errorf("interp: unhandled i64 unop %d", op)
}

func unopF32(op wasmOp, a api.Value) (api.Value, error) {
	x := f32(a)
	switch op {
	case opAbs:
		return api.F32Bits(math.Float32bits(float32(math.Abs(float64(x))))), nil
	case opNeg:
		return api.F32Bits(math.Float32bits(-x)), nil
	case opCeil:
		return api.F32Bits(math.Float32bits(float32(math.Ceil(float64(x))))), nil
	case opFloor:
		return api.F32Bits(math.Float32bits(float32(math.Floor(float64(x))))), nil
	case opTrunc:
		return api.F32Bits(math.Float32bits(float32(math.Trunc(float64(x))))), nil
	case opNearest:
		return api.F32Bits(math.Float32bits(float32(math.RoundToEven(float64(x))))), nil
	case opSqrt:
		return api.F32Bits(math.Float32bits(float32(math.Sqrt(float64(x))))), nil
	}
	return api.Value{}, fmt.Errorf("interp: unhandled f32 unop %d", op)
}

func unopF64(op wasmOp, a api.Value) (api.Value, error) {
	x := f64(a)
	switch op {
	case opAbs:
		return api.F64Bits(math.Float64bits(math.Abs(x))), nil
	case opNeg:
		return api.F64Bits(math.Float64bits(-x)), nil
	case opCeil:
		return api.F64Bits(math.Float64bits(math.Ceil(x))), nil
	case opFloor:
		return api.F64Bits(math.Float64bits(math.Floor(x))), nil
	case opTrunc:
		return api.F64Bits(math.Float64bits(math.Trunc(x))), nil
	case opNearest:
		return api.F64Bits(math.Float64bits(math.RoundToEven(x))), nil
	case opSqrt:
		return api.F64Bits(math.Float64bits(math.Sqrt(x))), nil
	}
	return api.Value{}, fmt.Errorf("interp: unhandled f64 unop %d", op)
}

// truncToI32 converts a float to a signed/unsigned 32-bit integer with
// WebAssembly's trapping-on-NaN/out-of-range semantics (trunc_sat variants
// were introduced after 1.0 and are out of scope here).
func truncToI32(x float64, signed bool) (uint32, error) {
	if math.IsNaN(x) {
		return 0, fmt.Errorf("%w: invalid conversion to integer (NaN)", ErrTrap)
	}
	t := math.Trunc(x)
	if signed {
		if t < math.MinInt32 || t > math.MaxInt32 {
			return 0, fmt.Errorf("%w: i32 trunc out of range: %v", ErrTrap, x)
		}
		return uint32(int32(t)), nil
	}
	if t < 0 || t > math.MaxUint32 {
		return 0, fmt.Errorf("%w: i32 trunc out of range: %v", ErrTrap, x)
	}
	return uint32(t), nil
}

func truncToI64(x float64, signed bool) (uint64, error) {
	if math.IsNaN(x) {
		return 0, fmt.Errorf("%w: invalid conversion to integer (NaN)", ErrTrap)
	}
	t := math.Trunc(x)
	if signed {
		if t < math.MinInt64 || t >= math.MaxInt64 {
			return 0, fmt.Errorf("%w: i64 trunc out of range: %v", ErrTrap, x)
		}
		return uint64(int64(t)), nil
	}
	if t < 0 || t >= math.MaxUint64 {
		return 0, fmt.Errorf("%w: i64 trunc out of range: %v", ErrTrap, x)
	}
	return uint64(t), nil
}

// wasmOp is a normalized, width-independent operator tag the dispatch loop
// maps each concrete opcode onto before calling the binop/unop families
// above, so e.g. i32.add and i64.add share one implementation shape.
type wasmOp int

const (
	opAdd wasmOp = iota
	opSub
	opMul
	opDivS
	opDivU
	opDiv
	opRemS
	opRemU
	opAnd
	opOr
	opXor
	opShl
	opShrS
	opShrU
	opRotl
	opRotr
	opEq
	opNe
	opLtS
	opLtU
	opLt
	opGtS
	opGtU
	opGt
	opLeS
	opLeU
	opLe
	opGeS
	opGeU
	opGe
	opClz
	opCtz
	opPopcnt
	opEqz
	opAbs
	opNeg
	opCeil
	opFloor
	opTrunc
	opNearest
	opSqrt
	opMin
	opMax
	opCopysign
	opExtend8S
	opExtend16S
	opExtend32S
)
