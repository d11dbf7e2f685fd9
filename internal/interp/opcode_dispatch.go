package interp

import "github.com/damus-io/nostrscript/internal/wasm"

// numOpTag maps a concrete numeric opcode (e.g. wasm.OpI32Add) to the
// width-independent (wasmOp, numWidth) pair the binop/unop families in
// numeric.go dispatch on. The second return is false for opcodes this
// table doesn't cover (conversions, handled separately by convOpKinds).
func numOpTag(op wasm.Opcode) (wasmOp, numWidth, bool) {
	switch op {
	case wasm.OpI32Eqz:
		return opEqz, widthI32, true
	case wasm.OpI32Eq:
		return opEq, widthI32, true
	case wasm.OpI32Ne:
		return opNe, widthI32, true
	case wasm.OpI32LtS:
		return opLtS, widthI32, true
	case wasm.OpI32LtU:
		return opLtU, widthI32, true
	case wasm.OpI32GtS:
		return opGtS, widthI32, true
	case wasm.OpI32GtU:
		return opGtU, widthI32, true
	case wasm.OpI32LeS:
		return opLeS, widthI32, true
	case wasm.OpI32LeU:
		return opLeU, widthI32, true
	case wasm.OpI32GeS:
		return opGeS, widthI32, true
	case wasm.OpI32GeU:
		return opGeU, widthI32, true

	case wasm.OpI64Eqz:
		return opEqz, widthI64, true
	case wasm.OpI64Eq:
		return opEq, widthI64, true
	case wasm.OpI64Ne:
		return opNe, widthI64, true
	case wasm.OpI64LtS:
		return opLtS, widthI64, true
	case wasm.OpI64LtU:
		return opLtU, widthI64, true
	case wasm.OpI64GtS:
		return opGtS, widthI64, true
	case wasm.OpI64GtU:
		return opGtU, widthI64, true
	case wasm.OpI64LeS:
		return opLeS, widthI64, true
	case wasm.OpI64LeU:
		return opLeU, widthI64, true
	case wasm.OpI64GeS:
		return opGeS, widthI64, true
	case wasm.OpI64GeU:
		return opGeU, widthI64, true

	case wasm.OpF32Eq:
		return opEq, widthF32, true
	case wasm.OpF32Ne:
		return opNe, widthF32, true
	case wasm.OpF32Lt:
		return opLt, widthF32, true
	case wasm.OpF32Gt:
		return opGt, widthF32, true
	case wasm.OpF32Le:
		return opLe, widthF32, true
	case wasm.OpF32Ge:
		return opGe, widthF32, true

	case wasm.OpF64Eq:
		return opEq, widthF64, true
	case wasm.OpF64Ne:
		return opNe, widthF64, true
	case wasm.OpF64Lt:
		return opLt, widthF64, true
	case wasm.OpF64Gt:
		return opGt, widthF64, true
	case wasm.OpF64Le:
		return opLe, widthF64, true
	case wasm.OpF64Ge:
		return opGe, widthF64, true

	case wasm.OpI32Clz:
		return opClz, widthI32, true
	case wasm.OpI32Ctz:
		return opCtz, widthI32, true
	case wasm.OpI32Popcnt:
		return opPopcnt, widthI32, true
	case wasm.OpI32Add:
		return opAdd, widthI32, true
	case wasm.OpI32Sub:
		return opSub, widthI32, true
	case wasm.OpI32Mul:
		return opMul, widthI32, true
	case wasm.OpI32DivS:
		return opDivS, widthI32, true
	case wasm.OpI32DivU:
		return opDivU, widthI32, true
	case wasm.OpI32RemS:
		return opRemS, widthI32, true
	case wasm.OpI32RemU:
		return opRemU, widthI32, true
	case wasm.OpI32And:
		return opAnd, widthI32, true
	case wasm.OpI32Or:
		return opOr, widthI32, true
	case wasm.OpI32Xor:
		return opXor, widthI32, true
	case wasm.OpI32Shl:
		return opShl, widthI32, true
	case wasm.OpI32ShrS:
		return opShrS, widthI32, true
	case wasm.OpI32ShrU:
		return opShrU, widthI32, true
	case wasm.OpI32Rotl:
		return opRotl, widthI32, true
	case wasm.OpI32Rotr:
		return opRotr, widthI32, true

	case wasm.OpI64Clz:
		return opClz, widthI64, true
	case wasm.OpI64Ctz:
		return opCtz, widthI64, true
	case wasm.OpI64Popcnt:
		return opPopcnt, widthI64, true
	case wasm.OpI64Add:
		return opAdd, widthI64, true
	case wasm.OpI64Sub:
		return opSub, widthI64, true
	case wasm.OpI64Mul:
		return opMul, widthI64, true
	case wasm.OpI64DivS:
		return opDivS, widthI64, true
	case wasm.OpI64DivU:
		return opDivU, widthI64, true
	case wasm.OpI64RemS:
		return opRemS, widthI64, true
	case wasm.OpI64RemU:
		return opRemU, widthI64, true
	case wasm.OpI64And:
		return opAnd, widthI64, true
	case wasm.OpI64Or:
		return opOr, widthI64, true
	case wasm.OpI64Xor:
		return opXor, widthI64, true
	case wasm.OpI64Shl:
		return opShl, widthI64, true
	case wasm.OpI64ShrS:
		return opShrS, widthI64, true
	case wasm.OpI64ShrU:
		return opShrU, widthI64, true
	case wasm.OpI64Rotl:
		return opRotl, widthI64, true
	case wasm.OpI64Rotr:
		return opRotr, widthI64, true

	case wasm.OpF32Abs:
		return opAbs, widthF32, true
	case wasm.OpF32Neg:
		return opNeg, widthF32, true
	case wasm.OpF32Ceil:
		return opCeil, widthF32, true
	case wasm.OpF32Floor:
		return opFloor, widthF32, true
	case wasm.OpF32Trunc:
		return opTrunc, widthF32, true
	case wasm.OpF32Nearest:
		return opNearest, widthF32, true
	case wasm.OpF32Sqrt:
		return opSqrt, widthF32, true
	case wasm.OpF32Add:
		return opAdd, widthF32, true
	case wasm.OpF32Sub:
		return opSub, widthF32, true
	case wasm.OpF32Mul:
		return opMul, widthF32, true
	case wasm.OpF32Div:
		return opDiv, widthF32, true
	case wasm.OpF32Min:
		return opMin, widthF32, true
	case wasm.OpF32Max:
		return opMax, widthF32, true
	case wasm.OpF32Copysign:
		return opCopysign, widthF32, true

	case wasm.OpF64Abs:
		return opAbs, widthF64, true
	case wasm.OpF64Neg:
		return opNeg, widthF64, true
	case wasm.OpF64Ceil:
		return opCeil, widthF64, true
	case wasm.OpF64Floor:
		return opFloor, widthF64, true
	case wasm.OpF64Trunc:
		return opTrunc, widthF64, true
	case wasm.OpF64Nearest:
		return opNearest, widthF64, true
	case wasm.OpF64Sqrt:
		return opSqrt, widthF64, true
	case wasm.OpF64Add:
		return opAdd, widthF64, true
	case wasm.OpF64Sub:
		return opSub, widthF64, true
	case wasm.OpF64Mul:
		return opMul, widthF64, true
	case wasm.OpF64Div:
		return opDiv, widthF64, true
	case wasm.OpF64Min:
		return opMin, widthF64, true
	case wasm.OpF64Max:
		return opMax, widthF64, true
	case wasm.OpF64Copysign:
		return opCopysign, widthF64, true
	}
	return 0, 0, false
}

func isUnaryNumOp(op wasm.Opcode) bool {
	switch op {
	case wasm.OpI32Eqz, wasm.OpI64Eqz,
		wasm.OpI32Clz, wasm.OpI32Ctz, wasm.OpI32Popcnt,
		wasm.OpI64Clz, wasm.OpI64Ctz, wasm.OpI64Popcnt,
		wasm.OpF32Abs, wasm.OpF32Neg, wasm.OpF32Ceil, wasm.OpF32Floor, wasm.OpF32Trunc, wasm.OpF32Nearest, wasm.OpF32Sqrt,
		wasm.OpF64Abs, wasm.OpF64Neg, wasm.OpF64Ceil, wasm.OpF64Floor, wasm.OpF64Trunc, wasm.OpF64Nearest, wasm.OpF64Sqrt:
		return true
	}
	return false
}

// convOpKinds reports the (output, input) numWidth pair for a conversion
// opcode, used only to pick which float width convert() reads an operand
// as; the actual conversion math lives in convert().
func convOpKinds(op wasm.Opcode) (out, in numWidth, ok bool) {
	switch op {
	case wasm.OpI32WrapI64:
		return widthI32, widthI64, true
	case wasm.OpI64ExtendI32S, wasm.OpI64ExtendI32U:
		return widthI64, widthI32, true
	case wasm.OpI32TruncF32S, wasm.OpI32TruncF32U:
		return widthI32, widthF32, true
	case wasm.OpI32TruncF64S, wasm.OpI32TruncF64U:
		return widthI32, widthF64, true
	case wasm.OpI64TruncF32S, wasm.OpI64TruncF32U:
		return widthI64, widthF32, true
	case wasm.OpI64TruncF64S, wasm.OpI64TruncF64U:
		return widthI64, widthF64, true
	case wasm.OpF32ConvertI32S, wasm.OpF32ConvertI32U:
		return widthF32, widthI32, true
	case wasm.OpF32ConvertI64S, wasm.OpF32ConvertI64U:
		return widthF32, widthI64, true
	case wasm.OpF32DemoteF64:
		return widthF32, widthF64, true
	case wasm.OpF64ConvertI32S, wasm.OpF64ConvertI32U:
		return widthF64, widthI32, true
	case wasm.OpF64ConvertI64S, wasm.OpF64ConvertI64U:
		return widthF64, widthI64, true
	case wasm.OpF64PromoteF32:
		return widthF64, widthF32, true
	case wasm.OpI32ReinterpretF32:
		return widthI32, widthF32, true
	case wasm.OpI64ReinterpretF64:
		return widthI64, widthF64, true
	case wasm.OpF32ReinterpretI32:
		return widthF32, widthI32, true
	case wasm.OpF64ReinterpretI64:
		return widthF64, widthI64, true
	case wasm.OpI32Extend8S, wasm.OpI32Extend16S:
		return widthI32, widthI32, true
	case wasm.OpI64Extend8S, wasm.OpI64Extend16S, wasm.OpI64Extend32S:
		return widthI64, widthI64, true
	}
	return 0, 0, false
}
