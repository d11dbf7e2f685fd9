package interp

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/damus-io/nostrscript/api"
	"github.com/damus-io/nostrscript/internal/wasm"
)

func TestInstantiate_GlobalsInitializeInOrder(t *testing.T) {
	// global 1's initializer references global 0, legal because globals
	// evaluate in declaration order.
	m := &wasm.Module{
		Start: -1,
		Types: []wasm.FuncType{{Results: []api.ValueType{api.ValueTypeI32}}},
		Globals: []wasm.Global{
			{Type: wasm.GlobalType{ValType: api.ValueTypeI32}, Init: constExprI32(40)},
			{Type: wasm.GlobalType{ValType: api.ValueTypeI32, Mutable: true}, Init: wasm.Expr{wasm.OpGlobalGet, 0x00, wasm.OpEnd}},
		},
		Functions: []wasm.Function{{
			TypeIdx: 0,
			Kind:    wasm.FunctionLocal,
			Code: wasm.Code{Body: []byte{
				wasm.OpGlobalGet, 0x01,
				wasm.OpI32Const, 0x02,
				wasm.OpI32Add,
				wasm.OpGlobalSet, 0x01,
				wasm.OpGlobalGet, 0x01,
				wasm.OpEnd,
			}},
		}},
		Exports: []wasm.Export{{Name: "bump", Kind: wasm.ImportFunc, Index: 0}},
	}

	ctx := context.Background()
	in, err := Instantiate(ctx, m)
	require.NoError(t, err)

	res, err := in.Call(ctx, "bump")
	require.NoError(t, err)
	require.Equal(t, []api.Value{api.I32(42)}, res)
}

func TestInstantiate_UnresolvedImportIsLinkError(t *testing.T) {
	m := &wasm.Module{
		Start: -1,
		Types: []wasm.FuncType{{}},
		Imports: []wasm.Import{{
			Module: "env", Name: "missing", Kind: wasm.ImportFunc, ResolvedBuiltin: -1,
		}},
		Functions: []wasm.Function{{
			TypeIdx: 0, Kind: wasm.FunctionBuiltin, BuiltinIndex: -1, Imported: true,
		}},
		ImportedFuncCount: 1,
	}

	_, err := Instantiate(context.Background(), m)
	var le *LinkError
	require.ErrorAs(t, err, &le)
	require.Equal(t, "missing", le.Name)
}

func TestInstantiate_ActiveElementOverflowFails(t *testing.T) {
	m := &wasm.Module{
		Start: -1,
		Tables: []wasm.Table{{
			RefType: api.ValueTypeFuncref,
			Limits:  wasm.Limits{Min: 1, Max: 1, HasMax: true},
		}},
		Elements: []wasm.Elem{{
			Mode:     wasm.ElemModeActive,
			TableIdx: 0,
			Offset:   constExprI32(5), // past the 1-slot table
			RefType:  api.ValueTypeFuncref,
			Inits:    []wasm.Expr{{wasm.OpRefFunc, 0x00, wasm.OpEnd}},
		}},
	}

	_, err := Instantiate(context.Background(), m)
	require.Error(t, err)
}

func TestInstantiate_ActiveDataOverflowFails(t *testing.T) {
	m := &wasm.Module{
		Start:    -1,
		Memories: []wasm.Limits{{Min: 1, Max: 1, HasMax: true}},
		Data: []wasm.Data{{
			Mode:   wasm.DataModeActive,
			Offset: constExprI32(65533),
			Bytes:  []byte("toolong"),
		}},
	}

	_, err := Instantiate(context.Background(), m)
	require.Error(t, err)
}

func TestInstantiate_MultipleMemoriesRejected(t *testing.T) {
	m := &wasm.Module{
		Start:    -1,
		Memories: []wasm.Limits{{Min: 1}, {Min: 1}},
	}
	_, err := Instantiate(context.Background(), m)
	require.Error(t, err)
}
