package interp

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/damus-io/nostrscript/api"
	"github.com/damus-io/nostrscript/internal/wasm"
)

// encodeSLEB encodes v as signed LEB128, for hand-building instruction
// streams the decoder itself is never exercised on in these tests (the
// Module literal is the input, not a binary payload).
func encodeSLEB(v int64) []byte {
	var out []byte
	more := true
	for more {
		b := byte(v & 0x7f)
		v >>= 7
		signBitSet := b&0x40 != 0
		if (v == 0 && !signBitSet) || (v == -1 && signBitSet) {
			more = false
		} else {
			b |= 0x80
		}
		out = append(out, b)
	}
	return out
}

func i32ConstInstr(v int32) []byte {
	return append([]byte{wasm.OpI32Const}, encodeSLEB(int64(v))...)
}

func TestCall_AddConstants(t *testing.T) {
	m := &wasm.Module{
		Start: -1,
		Types: []wasm.FuncType{{
			Results: []api.ValueType{api.ValueTypeI32},
		}},
		Functions: []wasm.Function{{
			TypeIdx: 0,
			Kind:    wasm.FunctionLocal,
			Code: wasm.Code{
				Body: []byte{
					wasm.OpI32Const, 0x02,
					wasm.OpI32Const, 0x03,
					wasm.OpI32Add,
					wasm.OpEnd,
				},
			},
		}},
		Exports: []wasm.Export{{Name: "add", Kind: wasm.ImportFunc, Index: 0}},
	}

	ctx := context.Background()
	in, err := Instantiate(ctx, m)
	require.NoError(t, err)

	res, err := in.Call(ctx, "add")
	require.NoError(t, err)
	require.Equal(t, []api.Value{api.I32(5)}, res)
}

// buildSumModule returns a module exporting "sum", which computes
// 1+2+...+9 via a counted loop, matching the lazy label-resolution design
// the interpreter is built around.
func buildSumModule() *wasm.Module {
	body := []byte{
		wasm.OpI32Const, 0x01, // i32.const 1
		wasm.OpLocalSet, 0x00, // local.set $i
		wasm.OpBlock, 0x40, // block
		wasm.OpLoop, 0x40, // loop
		wasm.OpLocalGet, 0x00, // local.get $i
		wasm.OpI32Const, 0x0A, // i32.const 10
		wasm.OpI32GeS,    // i32.ge_s
		wasm.OpBrIf, 0x01, // br_if 1 (exit block)
		wasm.OpLocalGet, 0x01, // local.get $acc
		wasm.OpLocalGet, 0x00, // local.get $i
		wasm.OpI32Add,         // i32.add
		wasm.OpLocalSet, 0x01, // local.set $acc
		wasm.OpLocalGet, 0x00, // local.get $i
		wasm.OpI32Const, 0x01, // i32.const 1
		wasm.OpI32Add,         // i32.add
		wasm.OpLocalSet, 0x00, // local.set $i
		wasm.OpBr, 0x00, // br 0 (continue loop)
		wasm.OpEnd, // end loop
		wasm.OpEnd, // end block
		wasm.OpLocalGet, 0x01, // local.get $acc
		wasm.OpEnd, // end function
	}
	return &wasm.Module{
		Start: -1,
		Types: []wasm.FuncType{{Results: []api.ValueType{api.ValueTypeI32}}},
		Functions: []wasm.Function{{
			TypeIdx: 0,
			Kind:    wasm.FunctionLocal,
			Code: wasm.Code{
				Body:      body,
				Locals:    []wasm.LocalGroup{{Count: 2, Type: api.ValueTypeI32}},
				NumLocals: 2,
			},
		}},
		Exports: []wasm.Export{{Name: "sum", Kind: wasm.ImportFunc, Index: 0}},
	}
}

func TestCall_LoopSum(t *testing.T) {
	ctx := context.Background()
	in, err := Instantiate(ctx, buildSumModule())
	require.NoError(t, err)

	res, err := in.Call(ctx, "sum")
	require.NoError(t, err)
	require.Equal(t, []api.Value{api.I32(45)}, res)
}

func TestLabelCache_MemoizedAcrossCalls(t *testing.T) {
	ctx := context.Background()
	in, err := Instantiate(ctx, buildSumModule())
	require.NoError(t, err)

	_, err = in.Call(ctx, "sum")
	require.NoError(t, err)

	fnLabels, ok := in.labels.byFunc[0]
	require.True(t, ok, "label cache must hold an entry for the sum function")
	require.NotEmpty(t, fnLabels)
	for _, l := range fnLabels {
		require.True(t, l.resolved(), "every label reached during the run must be resolved")
	}
	before := len(fnLabels)

	_, err = in.Call(ctx, "sum")
	require.NoError(t, err)
	require.Len(t, in.labels.byFunc[0], before, "a second run must reuse cached labels rather than growing the cache")
}

func constExprI32(v int32) wasm.Expr {
	return wasm.Expr(append([]byte{wasm.OpI32Const}, append(encodeSLEB(int64(v)), wasm.OpEnd)...))
}

// buildMemoryCopyModule places a 4-byte active data segment at offset 0
// of a one-page memory. "copy" moves 3 of its bytes to offset 10;
// "badcopy" attempts `memory.copy dst=65533 src=0 n=4`, whose destination
// range runs past the end of the page.
func buildMemoryCopyModule() *wasm.Module {
	copyBody := append(i32ConstInstr(10), i32ConstInstr(1)...) // dst=10, src=1
	copyBody = append(copyBody, i32ConstInstr(3)...)           // n=3
	copyBody = append(copyBody, wasm.OpBulk, byte(wasm.BulkMemoryCopy), 0x00, 0x00, wasm.OpEnd)

	badBody := append(i32ConstInstr(65533), i32ConstInstr(0)...) // dst runs off the page
	badBody = append(badBody, i32ConstInstr(4)...)               // n=4
	badBody = append(badBody, wasm.OpBulk, byte(wasm.BulkMemoryCopy), 0x00, 0x00, wasm.OpEnd)

	return &wasm.Module{
		Start:    -1,
		Types:    []wasm.FuncType{{}},
		Memories: []wasm.Limits{{Min: 1, Max: 1, HasMax: true}},
		Functions: []wasm.Function{
			{TypeIdx: 0, Kind: wasm.FunctionLocal, Code: wasm.Code{Body: copyBody}},
			{TypeIdx: 0, Kind: wasm.FunctionLocal, Code: wasm.Code{Body: badBody}},
		},
		Exports: []wasm.Export{
			{Name: "copy", Kind: wasm.ImportFunc, Index: 0},
			{Name: "badcopy", Kind: wasm.ImportFunc, Index: 1},
		},
		Data: []wasm.Data{{
			Mode:   wasm.DataModeActive,
			MemIdx: 0,
			Offset: constExprI32(0),
			Bytes:  []byte("abcd"),
		}},
	}
}

func TestMemoryCopy_AndReset(t *testing.T) {
	ctx := context.Background()
	in, err := Instantiate(ctx, buildMemoryCopyModule())
	require.NoError(t, err)

	// the segment at offset 0 is placed at instantiation even with the
	// null guard on; guest-visible reads start past the reserved address.
	before, ok := in.MemPtr(1, 3)
	require.True(t, ok)
	require.Equal(t, "bcd", string(before))
	_, ok = in.MemPtr(0, 1)
	require.False(t, ok, "address 0 stays reserved for guest access")

	_, err = in.Call(ctx, "copy")
	require.NoError(t, err)
	copied, ok := in.MemPtr(10, 3)
	require.True(t, ok)
	require.Equal(t, "bcd", string(copied))

	_, err = in.Call(ctx, "badcopy")
	require.Error(t, err)
	var trap *Trap
	require.ErrorAs(t, err, &trap)
	require.ErrorIs(t, err, ErrTrap)
	require.Contains(t, err.Error(), "out of bounds memory access")

	require.NoError(t, in.Reset())
	afterReset, ok := in.MemPtr(10, 3)
	require.True(t, ok)
	require.Equal(t, []byte{0, 0, 0}, afterReset, "Reset must rebuild memory from scratch")
	origin, ok := in.MemPtr(1, 3)
	require.True(t, ok)
	require.Equal(t, "bcd", string(origin), "Reset must re-run active data segments")
}

func buildCallIndirectModule() *wasm.Module {
	addBody := []byte{
		wasm.OpLocalGet, 0x00,
		wasm.OpLocalGet, 0x01,
		wasm.OpI32Add,
		wasm.OpEnd,
	}
	callerBody := []byte{
		wasm.OpLocalGet, 0x00,
		wasm.OpLocalGet, 0x01,
		wasm.OpI32Const, 0x00, // table index 0
		wasm.OpCallIndirect, 0x00, 0x00, // typeIdx 0, tableIdx 0
		wasm.OpEnd,
	}
	addType := wasm.FuncType{
		Params:  []api.ValueType{api.ValueTypeI32, api.ValueTypeI32},
		Results: []api.ValueType{api.ValueTypeI32},
	}
	// add is function 1: a funcref address of 0 is the null reference, so
	// the table slot points at index 1.
	refFunc1 := wasm.Expr{wasm.OpRefFunc, 0x01, wasm.OpEnd}
	return &wasm.Module{
		Start: -1,
		Types: []wasm.FuncType{addType},
		Tables: []wasm.Table{{
			RefType: api.ValueTypeFuncref,
			Limits:  wasm.Limits{Min: 1, Max: 1, HasMax: true},
		}},
		Functions: []wasm.Function{
			{TypeIdx: 0, Kind: wasm.FunctionLocal, Code: wasm.Code{Body: callerBody}},
			{TypeIdx: 0, Kind: wasm.FunctionLocal, Code: wasm.Code{Body: addBody}},
		},
		Elements: []wasm.Elem{{
			Mode:     wasm.ElemModeActive,
			TableIdx: 0,
			Offset:   constExprI32(0),
			RefType:  api.ValueTypeFuncref,
			Inits:    []wasm.Expr{refFunc1},
		}},
		Exports: []wasm.Export{{Name: "call_add", Kind: wasm.ImportFunc, Index: 0}},
	}
}

func TestCallIndirect_DispatchThroughTable(t *testing.T) {
	ctx := context.Background()
	in, err := Instantiate(ctx, buildCallIndirectModule())
	require.NoError(t, err)

	res, err := in.Call(ctx, "call_add", api.I32(4), api.I32(7))
	require.NoError(t, err)
	require.Equal(t, []api.Value{api.I32(11)}, res)
}

func buildSuspendModule() *wasm.Module {
	return &wasm.Module{
		Start: -1,
		Types: []wasm.FuncType{{Results: []api.ValueType{api.ValueTypeI32}}},
		Functions: []wasm.Function{
			{TypeIdx: 0, Kind: wasm.FunctionBuiltin, BuiltinIndex: 0, Imported: true},
			{TypeIdx: 0, Kind: wasm.FunctionLocal, Code: wasm.Code{Body: []byte{wasm.OpCall, 0x00, wasm.OpEnd}}},
		},
		Exports: []wasm.Export{{Name: "usewait", Kind: wasm.ImportFunc, Index: 1}},
	}
}

func TestBuiltinSuspendResume(t *testing.T) {
	ctx := context.Background()
	wait := func(*Interpreter) BuiltinStatus { return BuiltinSuspend }

	in, err := Instantiate(ctx, buildSuspendModule(), WithBuiltins(NamedBuiltin{Name: "wait", Fn: wait}))
	require.NoError(t, err)

	res, err := in.Call(ctx, "usewait")
	require.ErrorIs(t, err, ErrSuspended)
	require.Nil(t, res)

	require.NoError(t, in.PushValue(api.I32(42)))
	res, err = in.Resume(ctx)
	require.NoError(t, err)
	require.Equal(t, []api.Value{api.I32(42)}, res)
}

func buildEntryModule(startIdx int32, exportName string) *wasm.Module {
	m := &wasm.Module{
		Start: startIdx,
		Types: []wasm.FuncType{{}},
		Functions: []wasm.Function{{
			TypeIdx: 0,
			Kind:    wasm.FunctionLocal,
			Code:    wasm.Code{Body: []byte{wasm.OpEnd}},
		}},
	}
	if exportName != "" {
		m.Exports = []wasm.Export{{Name: exportName, Kind: wasm.ImportFunc, Index: 0}}
	}
	return m
}

func TestRun_EntryResolution(t *testing.T) {
	ctx := context.Background()

	t.Run("start section", func(t *testing.T) {
		in, err := Instantiate(ctx, buildEntryModule(0, ""))
		require.NoError(t, err)
		_, err = in.Run(ctx)
		require.NoError(t, err)
	})

	t.Run("_start export fallback", func(t *testing.T) {
		in, err := Instantiate(ctx, buildEntryModule(-1, "_start"))
		require.NoError(t, err)
		_, err = in.Run(ctx)
		require.NoError(t, err)
	})

	t.Run("start export fallback", func(t *testing.T) {
		in, err := Instantiate(ctx, buildEntryModule(-1, "start"))
		require.NoError(t, err)
		_, err = in.Run(ctx)
		require.NoError(t, err)
	})

	t.Run("no entry point is a descriptive error", func(t *testing.T) {
		in, err := Instantiate(ctx, buildEntryModule(-1, ""))
		require.NoError(t, err)
		_, err = in.Run(ctx)
		require.Error(t, err)
	})
}

func TestReset_PreservesLabelCache(t *testing.T) {
	ctx := context.Background()
	in, err := Instantiate(ctx, buildSumModule())
	require.NoError(t, err)

	_, err = in.Call(ctx, "sum")
	require.NoError(t, err)
	require.NotEmpty(t, in.labels.byFunc[0])

	require.NoError(t, in.Reset())
	require.NotEmpty(t, in.labels.byFunc[0], "Reset must not clear the per-function label cache")

	res, err := in.Call(ctx, "sum")
	require.NoError(t, err)
	require.Equal(t, []api.Value{api.I32(45)}, res)
}
