package wasm

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/damus-io/nostrscript/api"
	"github.com/damus-io/nostrscript/internal/cursor"
)

func TestParseNext_BrTableImmediates(t *testing.T) {
	code := []byte{OpBrTable, 0x02, 0x00, 0x01, 0x05}
	in, err := ParseNext(cursor.New(code))
	require.NoError(t, err)
	require.Equal(t, OpBrTable, in.Op)
	require.Equal(t, []uint32{0, 1, 5}, in.BrTable, "targets followed by the default")
}

func TestParseNext_CallIndirectImmediates(t *testing.T) {
	code := []byte{OpCallIndirect, 0x03, 0x01}
	in, err := ParseNext(cursor.New(code))
	require.NoError(t, err)
	require.EqualValues(t, 3, in.U32, "typeidx")
	require.EqualValues(t, 1, in.U32b, "tableidx")
}

func TestParseNext_BlockTypes(t *testing.T) {
	t.Run("empty", func(t *testing.T) {
		in, err := ParseNext(cursor.New([]byte{OpBlock, 0x40}))
		require.NoError(t, err)
		require.Equal(t, BlockTypeEmpty, in.Block.Tag)
	})
	t.Run("single valtype", func(t *testing.T) {
		in, err := ParseNext(cursor.New([]byte{OpIf, api.ValueTypeI64}))
		require.NoError(t, err)
		require.Equal(t, BlockTypeValue, in.Block.Tag)
		require.Equal(t, api.ValueTypeI64, in.Block.ValueType)
	})
	t.Run("type index", func(t *testing.T) {
		in, err := ParseNext(cursor.New([]byte{OpLoop, 0x02}))
		require.NoError(t, err)
		require.Equal(t, BlockTypeIndex, in.Block.Tag)
		require.EqualValues(t, 2, in.Block.TypeIndex)
	})
}

func TestParseNext_UnknownOpcodeFails(t *testing.T) {
	_, err := ParseNext(cursor.New([]byte{0xFB}))
	require.Error(t, err)
}

func TestEvalConstExpr(t *testing.T) {
	t.Run("i32 const", func(t *testing.T) {
		v, err := EvalConstExpr(Expr{OpI32Const, 0x2A, OpEnd}, nil)
		require.NoError(t, err)
		require.Equal(t, api.I32(42), v)
	})
	t.Run("global.get of a preceding global", func(t *testing.T) {
		v, err := EvalConstExpr(Expr{OpGlobalGet, 0x00, OpEnd}, []api.Value{api.I64(9)})
		require.NoError(t, err)
		require.Equal(t, api.I64(9), v)
	})
	t.Run("global.get out of range fails", func(t *testing.T) {
		_, err := EvalConstExpr(Expr{OpGlobalGet, 0x01, OpEnd}, []api.Value{api.I64(9)})
		require.Error(t, err)
	})
	t.Run("ref.func", func(t *testing.T) {
		v, err := EvalConstExpr(Expr{OpRefFunc, 0x03, OpEnd}, nil)
		require.NoError(t, err)
		require.Equal(t, api.FuncRef(3), v)
	})
	t.Run("ref.null", func(t *testing.T) {
		v, err := EvalConstExpr(Expr{OpRefNull, api.ValueTypeFuncref, OpEnd}, nil)
		require.NoError(t, err)
		require.True(t, v.IsNull())
	})
	t.Run("non-const opcode rejected", func(t *testing.T) {
		_, err := EvalConstExpr(Expr{OpI32Add, OpEnd}, nil)
		require.Error(t, err)
	})
	t.Run("missing terminating end rejected", func(t *testing.T) {
		_, err := EvalConstExpr(Expr{OpI32Const, 0x01}, nil)
		require.Error(t, err)
	})
}

func TestDecode_CodeWithoutEndIsRejected(t *testing.T) {
	typeSec := vecLen(1)
	typeSec = append(typeSec, FuncTypeTag)
	typeSec = append(typeSec, vecLen(0)...)
	typeSec = append(typeSec, vecLen(0)...)

	funcSec := vecLen(1)
	funcSec = cursor.EncodeUint32(funcSec, 0)

	// body: a bare nop with no terminating end
	codeEntry := vecLen(0)
	codeEntry = append(codeEntry, OpNop)
	codeSec := vecLen(1)
	codeSec = cursor.EncodeUint32(codeSec, uint32(len(codeEntry)))
	codeSec = append(codeSec, codeEntry...)

	var out []byte
	out = append(out, wasmMagic...)
	out = append(out, wasmVersion...)
	out = append(out, section(byte(SectionType), typeSec)...)
	out = append(out, section(byte(SectionFunction), funcSec)...)
	out = append(out, section(byte(SectionCode), codeSec)...)

	_, err := Decode(out, nil)
	require.Error(t, err)
}

func TestDecode_Deterministic(t *testing.T) {
	data := buildAddModule(t)
	m1, err := Decode(data, nil)
	require.NoError(t, err)
	m2, err := Decode(data, nil)
	require.NoError(t, err)
	require.Equal(t, m1, m2, "decoding the same bytes twice must produce identical modules")
}

func TestDecode_ZeroLengthVectorsProduceEmptyCollections(t *testing.T) {
	var out []byte
	out = append(out, wasmMagic...)
	out = append(out, wasmVersion...)
	out = append(out, section(byte(SectionType), vecLen(0))...)
	out = append(out, section(byte(SectionImport), vecLen(0))...)
	out = append(out, section(byte(SectionFunction), vecLen(0))...)
	out = append(out, section(byte(SectionExport), vecLen(0))...)

	m, err := Decode(out, nil)
	require.NoError(t, err)
	require.Empty(t, m.Types)
	require.Empty(t, m.Imports)
	require.Empty(t, m.Functions)
	require.Empty(t, m.Exports)
}
