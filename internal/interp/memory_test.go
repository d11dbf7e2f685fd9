package interp

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/damus-io/nostrscript/api"
	"github.com/damus-io/nostrscript/internal/wasm"
)

func TestMemoryGrow_ReturnsPriorCountOrMinusOne(t *testing.T) {
	m := newLinearMemory(1, 3, false)
	require.EqualValues(t, 1, m.pages())

	require.EqualValues(t, 1, m.grow(1), "grow returns the prior page count")
	require.EqualValues(t, 2, m.pages())

	require.EqualValues(t, -1, m.grow(2), "growth past max leaves memory unchanged")
	require.EqualValues(t, 2, m.pages())

	require.EqualValues(t, 2, m.grow(0), "zero-delta grow still reports the current count")
	require.EqualValues(t, 2, m.pages())
}

func TestNullPageGuard_ReservesAddressZero(t *testing.T) {
	m := newLinearMemory(1, 1, true)
	_, err := m.slice(0, 4)
	require.ErrorIs(t, err, ErrTrap)
	_, err = m.cstring(0)
	require.ErrorIs(t, err, ErrTrap)

	// only address 0 is reserved; the rest of the first page is ordinary
	// guest memory.
	_, err = m.slice(1, 4)
	require.NoError(t, err)
	_, err = m.slice(100, 1)
	require.NoError(t, err)

	unguarded := newLinearMemory(1, 1, false)
	_, err = unguarded.slice(0, 4)
	require.NoError(t, err)
}

func TestInitWrite_BypassesGuardButNotBounds(t *testing.T) {
	m := newLinearMemory(1, 1, true)
	require.NoError(t, m.initWrite(0, []byte("abcd")), "active segment placement at offset 0 is legal")
	b, err := m.slice(1, 3)
	require.NoError(t, err)
	require.Equal(t, []byte("bcd"), b)

	require.Error(t, m.initWrite(65533, []byte("abcd")))
}

func buildLoadStoreModule() *wasm.Module {
	// store8 0xAB at 16, then load8_u and load8_s it back and add the two.
	body := append(i32ConstInstr(16), i32ConstInstr(0xAB)...)
	body = append(body, wasm.OpI32Store8, 0x00, 0x00) // align 0, offset 0
	body = append(body, i32ConstInstr(16)...)
	body = append(body, wasm.OpI32Load8U, 0x00, 0x00)
	body = append(body, i32ConstInstr(16)...)
	body = append(body, wasm.OpI32Load8S, 0x00, 0x00)
	body = append(body, wasm.OpI32Add, wasm.OpEnd)
	return &wasm.Module{
		Start:    -1,
		Types:    []wasm.FuncType{{Results: []api.ValueType{api.ValueTypeI32}}},
		Memories: []wasm.Limits{{Min: 1, Max: 1, HasMax: true}},
		Functions: []wasm.Function{{
			TypeIdx: 0,
			Kind:    wasm.FunctionLocal,
			Code:    wasm.Code{Body: body},
		}},
		Exports: []wasm.Export{{Name: "narrow", Kind: wasm.ImportFunc, Index: 0}},
	}
}

func TestNarrowLoadStore_SignAndZeroExtension(t *testing.T) {
	ctx := context.Background()
	in, err := Instantiate(ctx, buildLoadStoreModule())
	require.NoError(t, err)

	res, err := in.Call(ctx, "narrow")
	require.NoError(t, err)
	// load8_u(0xAB) = 0xAB; load8_s(0xAB) = -85; sum = 171 - 85 = 86.
	require.Equal(t, []api.Value{api.I32(86)}, res)
}

func TestMemOp_EffectiveAddressOverflowTraps(t *testing.T) {
	body := append(i32ConstInstr(-1), wasm.OpI32Load, 0x02)
	body = append(body, 0xff, 0xff, 0xff, 0xff, 0x0f) // offset = 0xffffffff
	body = append(body, wasm.OpDrop, wasm.OpEnd)
	m := &wasm.Module{
		Start:    -1,
		Types:    []wasm.FuncType{{}},
		Memories: []wasm.Limits{{Min: 1, Max: 1, HasMax: true}},
		Functions: []wasm.Function{{
			TypeIdx: 0,
			Kind:    wasm.FunctionLocal,
			Code:    wasm.Code{Body: body},
		}},
		Exports: []wasm.Export{{Name: "wrap", Kind: wasm.ImportFunc, Index: 0}},
	}

	ctx := context.Background()
	in, err := Instantiate(ctx, m)
	require.NoError(t, err)

	_, err = in.Call(ctx, "wrap")
	require.ErrorIs(t, err, ErrTrap, "base + offset past 2^32 must trap, not wrap into low memory")
}
