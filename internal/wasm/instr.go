package wasm

import (
	"fmt"

	"github.com/damus-io/nostrscript/api"
	"github.com/damus-io/nostrscript/internal/cursor"
)

// Expr is a raw, undecoded instruction sequence: the bytes between a
// section entry's start and its terminating `end` (or, for an if/else
// block, `else`). It is not kept as an instruction list: the decoder
// walks it once to find where it ends, and the interpreter decodes it
// again one instruction at a time as it executes.
type Expr []byte

// BlockTypeTag classifies a Instruction's block-type immediate.
type BlockTypeTag int

const (
	BlockTypeEmpty BlockTypeTag = iota
	BlockTypeValue
	BlockTypeIndex
)

// BlockType is the decoded immediate of a block/loop/if instruction.
type BlockType struct {
	Tag       BlockTypeTag
	ValueType api.ValueType // valid when Tag == BlockTypeValue
	TypeIndex int32         // valid when Tag == BlockTypeIndex (signed per the LEB128 encoding)
}

// MemArg is the alignment+offset immediate of a memory load/store.
type MemArg struct {
	Align uint32
	Offset uint32
}

// Instruction is one decoded instruction: an opcode, its byte position
// (used for trap/backtrace reporting), and whichever immediate fields the
// opcode uses. Unused fields are zero. For block/loop/if, only the block
// type is decoded into Block: the body is a sub-range of the enclosing Expr the caller
// still owns, discovered lazily by the label engine rather than captured
// eagerly here (see internal/interp/label.go).
type Instruction struct {
	Op  Opcode
	Pos int

	I32    int32
	I64    int64
	F32Bits uint32
	F64Bits uint64
	U32    uint32
	U32b   uint32 // second index operand, e.g. call_indirect's tableidx
	MemArg MemArg
	Block  BlockType
	RefType api.ValueType
	SelectTypes []api.ValueType
	BrTable     []uint32 // label indices, default is the last element
	BulkOp      BulkOp
}

// ParseNext decodes exactly one instruction starting at c's current
// position, advancing c past it (including any immediates, but not past
// a block/loop/if's body — callers that need to skip a body use the label
// engine's scan, not this function, to stay lazy).
func ParseNext(c *cursor.Cursor) (Instruction, error) {
	pos := c.Pos()
	op, err := c.PullByte()
	if err != nil {
		return Instruction{}, fmt.Errorf("wasm: instruction at %#x: %w", pos, err)
	}
	in := Instruction{Op: op, Pos: pos}

	switch op {
	case OpUnreachable, OpNop, OpElse, OpEnd, OpReturn, OpDrop, OpSelect:
		// no immediate

	case OpBlock, OpLoop, OpIf:
		bt, err := parseBlockType(c)
		if err != nil {
			return in, err
		}
		in.Block = bt

	case OpBr, OpBrIf, OpCall, OpLocalGet, OpLocalSet, OpLocalTee,
		OpGlobalGet, OpGlobalSet, OpTableGet, OpTableSet:
		v, err := c.DecodeUint32()
		if err != nil {
			return in, fmt.Errorf("wasm: index operand at %#x: %w", pos, err)
		}
		in.U32 = v

	case OpMemorySize, OpMemoryGrow:
		// the only immediate is a reserved memidx byte, always 0 in v1
		if _, err := c.PullByte(); err != nil {
			return in, err
		}

	case OpCallIndirect:
		typeIdx, err := c.DecodeUint32()
		if err != nil {
			return in, err
		}
		tableIdx, err := c.DecodeUint32()
		if err != nil {
			return in, err
		}
		in.U32, in.U32b = typeIdx, tableIdx

	case OpBrTable:
		n, err := c.DecodeUint32()
		if err != nil {
			return in, err
		}
		labels := make([]uint32, 0, n+1)
		for i := uint32(0); i < n; i++ {
			l, err := c.DecodeUint32()
			if err != nil {
				return in, err
			}
			labels = append(labels, l)
		}
		def, err := c.DecodeUint32()
		if err != nil {
			return in, err
		}
		in.BrTable = append(labels, def)

	case OpSelectTyped:
		n, err := c.DecodeUint32()
		if err != nil {
			return in, err
		}
		types := make([]api.ValueType, n)
		for i := range types {
			b, err := c.PullByte()
			if err != nil {
				return in, err
			}
			types[i] = b
		}
		in.SelectTypes = types

	case OpI32Const:
		v, err := c.DecodeInt32()
		if err != nil {
			return in, err
		}
		in.I32 = v

	case OpI64Const:
		v, err := c.DecodeInt64()
		if err != nil {
			return in, err
		}
		in.I64 = v

	case OpF32Const:
		b, err := c.PullBytes(4)
		if err != nil {
			return in, err
		}
		in.F32Bits = leU32(b)

	case OpF64Const:
		b, err := c.PullBytes(8)
		if err != nil {
			return in, err
		}
		in.F64Bits = leU64(b)

	case OpRefNull:
		b, err := c.PullByte()
		if err != nil {
			return in, err
		}
		in.RefType = b

	case OpRefIsNull:
		// no immediate

	case OpRefFunc:
		v, err := c.DecodeUint32()
		if err != nil {
			return in, err
		}
		in.U32 = v

	case OpBulk:
		tag, err := c.DecodeUint32()
		if err != nil {
			return in, err
		}
		in.BulkOp = tag
		switch tag {
		case BulkMemoryInit:
			dataIdx, err := c.DecodeUint32()
			if err != nil {
				return in, err
			}
			if _, err := c.PullByte(); err != nil { // memidx, reserved
				return in, err
			}
			in.U32 = dataIdx
		case BulkDataDrop:
			idx, err := c.DecodeUint32()
			if err != nil {
				return in, err
			}
			in.U32 = idx
		case BulkMemoryCopy:
			if _, err := c.PullByte(); err != nil {
				return in, err
			}
			if _, err := c.PullByte(); err != nil {
				return in, err
			}
		case BulkMemoryFill:
			if _, err := c.PullByte(); err != nil {
				return in, err
			}
		case BulkTableInit:
			elemIdx, err := c.DecodeUint32()
			if err != nil {
				return in, err
			}
			tableIdx, err := c.DecodeUint32()
			if err != nil {
				return in, err
			}
			in.U32, in.U32b = elemIdx, tableIdx
		case BulkElemDrop:
			idx, err := c.DecodeUint32()
			if err != nil {
				return in, err
			}
			in.U32 = idx
		case BulkTableCopy:
			dst, err := c.DecodeUint32()
			if err != nil {
				return in, err
			}
			src, err := c.DecodeUint32()
			if err != nil {
				return in, err
			}
			in.U32, in.U32b = dst, src
		case BulkTableGrow, BulkTableSize, BulkTableFill:
			idx, err := c.DecodeUint32()
			if err != nil {
				return in, err
			}
			in.U32 = idx
		default:
			return in, fmt.Errorf("wasm: unknown bulk opcode %#x at %#x", tag, pos)
		}

	default:
		if isMemOp(op) {
			align, err := c.DecodeUint32()
			if err != nil {
				return in, err
			}
			offset, err := c.DecodeUint32()
			if err != nil {
				return in, err
			}
			in.MemArg = MemArg{Align: align, Offset: offset}
			break
		}
		if isNumericOp(op) {
			break // no immediate
		}
		return in, fmt.Errorf("wasm: unknown opcode %#x at %#x", op, pos)
	}

	return in, nil
}

func isMemOp(op Opcode) bool {
	return op >= OpI32Load && op <= OpI64Store32
}

func isNumericOp(op Opcode) bool {
	return (op >= OpI32Eqz && op <= OpF64ReinterpretI64) ||
		(op >= OpI32Extend8S && op <= OpI64Extend32S)
}

func parseBlockType(c *cursor.Cursor) (BlockType, error) {
	// A block type is either 0x40 (empty), a valtype byte, or a signed
	// LEB128 type index (always non-negative in valid modules, but
	// encoded signed per the binary format's s33 "blocktype").
	b := c.PeekByte(0)
	switch b {
	case -1:
		return BlockType{}, cursor.ErrEOF
	case 0x40:
		c.Skip(1)
		return BlockType{Tag: BlockTypeEmpty}, nil
	case int(api.ValueTypeI32), int(api.ValueTypeI64), int(api.ValueTypeF32),
		int(api.ValueTypeF64), int(api.ValueTypeFuncref), int(api.ValueTypeExternref):
		c.Skip(1)
		return BlockType{Tag: BlockTypeValue, ValueType: byte(b)}, nil
	}
	idx, err := c.DecodeInt32()
	if err != nil {
		return BlockType{}, err
	}
	return BlockType{Tag: BlockTypeIndex, TypeIndex: idx}, nil
}

func leU32(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}

func leU64(b []byte) uint64 {
	var v uint64
	for i := 7; i >= 0; i-- {
		v = v<<8 | uint64(b[i])
	}
	return v
}

// EvalConstExpr evaluates a constant expression (a global's initializer,
// or an element/data segment's offset) to a single Value. Only the
// restricted const-expr instruction set is legal here: i32/i64/f32/f64
// const, global.get (of a preceding immutable global), ref.null, and
// ref.func, per the WebAssembly 1.0 validation rules.
func EvalConstExpr(expr Expr, globals []api.Value) (api.Value, error) {
	c := cursor.New(expr)
	in, err := ParseNext(c)
	if err != nil {
		return api.Value{}, err
	}
	var v api.Value
	switch in.Op {
	case OpI32Const:
		v = api.I32(uint32(in.I32))
	case OpI64Const:
		v = api.I64(uint64(in.I64))
	case OpF32Const:
		v = api.F32Bits(in.F32Bits)
	case OpF64Const:
		v = api.F64Bits(in.F64Bits)
	case OpGlobalGet:
		if int(in.U32) >= len(globals) {
			return api.Value{}, fmt.Errorf("wasm: const expr global.get %d out of range", in.U32)
		}
		v = globals[in.U32]
	case OpRefNull:
		v = api.NullRef(in.RefType)
	case OpRefFunc:
		v = api.FuncRef(in.U32)
	default:
		return api.Value{}, fmt.Errorf("wasm: opcode %#x is not a valid const expr at %#x", in.Op, in.Pos)
	}
	end, err := ParseNext(c)
	if err != nil || end.Op != OpEnd {
		return api.Value{}, fmt.Errorf("wasm: const expr missing terminating end")
	}
	return v, nil
}
