package wasi

import (
	"bytes"
	"context"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/damus-io/nostrscript/api"
	"github.com/damus-io/nostrscript/internal/interp"
	"github.com/damus-io/nostrscript/internal/wasm"
)

// builtinModule wires caller (the last function) plus one builtin slot at
// function index 0 resolved to builtinIdx in the Builtins() list.
func builtinModule(builtinIdx int, builtinType, callerType wasm.FuncType, callerBody []byte, mem bool, data []wasm.Data) *wasm.Module {
	m := &wasm.Module{
		Start: -1,
		Types: []wasm.FuncType{builtinType, callerType},
		Functions: []wasm.Function{
			{TypeIdx: 0, Kind: wasm.FunctionBuiltin, BuiltinIndex: builtinIdx, Imported: true},
			{TypeIdx: 1, Kind: wasm.FunctionLocal, Code: wasm.Code{Body: callerBody}},
		},
		Exports: []wasm.Export{{Name: "_start", Kind: wasm.ImportFunc, Index: 1}},
		Data:    data,
	}
	if mem {
		m.Memories = []wasm.Limits{{Min: 1, Max: 1, HasMax: true}}
	}
	return m
}

func TestProcExit_SetsExitCodeAndStopsExecution(t *testing.T) {
	body := []byte{
		wasm.OpI32Const, 0x07,
		wasm.OpCall, 0x00,
		// never reached: proc_exit sets the quitting flag, observed at the
		// next instruction dispatch.
		wasm.OpUnreachable,
		wasm.OpEnd,
	}
	m := builtinModule(0,
		wasm.FuncType{Params: []api.ValueType{api.ValueTypeI32}},
		wasm.FuncType{},
		body, false, nil)

	ctx := context.Background()
	var out bytes.Buffer
	in, err := interp.Instantiate(ctx, m, interp.WithBuiltins(Builtins(&out, nil, nil)...))
	require.NoError(t, err)

	_, err = in.Run(ctx)
	require.NoError(t, err, "proc_exit is an orderly stop, not a trap")
	require.Equal(t, 7, in.ExitCode())
}

func TestFdWrite_WritesIovecsAndByteCount(t *testing.T) {
	iovec := make([]byte, 8)
	binary.LittleEndian.PutUint32(iovec[0:4], 16) // buf ptr
	binary.LittleEndian.PutUint32(iovec[4:8], 5)  // buf len

	body := []byte{
		wasm.OpI32Const, 0x01, // fd = stdout
		wasm.OpI32Const, 0x08, // iovs ptr
		wasm.OpI32Const, 0x01, // iovs len
		wasm.OpI32Const, 0xE4, 0x00, // written ptr = 100
		wasm.OpCall, 0x00,
		wasm.OpEnd,
	}
	data := []wasm.Data{
		{Mode: wasm.DataModeActive, Offset: wasm.Expr{wasm.OpI32Const, 0x08, wasm.OpEnd}, Bytes: iovec},
		{Mode: wasm.DataModeActive, Offset: wasm.Expr{wasm.OpI32Const, 0x10, wasm.OpEnd}, Bytes: []byte("hello")},
	}
	m := builtinModule(1,
		wasm.FuncType{
			Params:  []api.ValueType{api.ValueTypeI32, api.ValueTypeI32, api.ValueTypeI32, api.ValueTypeI32},
			Results: []api.ValueType{api.ValueTypeI32},
		},
		wasm.FuncType{Results: []api.ValueType{api.ValueTypeI32}},
		body, true, data)

	ctx := context.Background()
	var out bytes.Buffer
	in, err := interp.Instantiate(ctx, m,
		interp.WithBuiltins(Builtins(&out, nil, nil)...))
	require.NoError(t, err)

	res, err := in.Run(ctx)
	require.NoError(t, err)
	require.Equal(t, []api.Value{api.I32(0)}, res, "errno must be success")
	require.Equal(t, "hello", out.String())

	written, ok := in.MemPtr(100, 4)
	require.True(t, ok)
	require.EqualValues(t, 5, binary.LittleEndian.Uint32(written))
}

func TestArgsSizesGet(t *testing.T) {
	body := []byte{
		wasm.OpI32Const, 0x32, // count ptr = 50
		wasm.OpI32Const, 0x3C, // buf size ptr = 60
		wasm.OpCall, 0x00,
		wasm.OpEnd,
	}
	m := builtinModule(4,
		wasm.FuncType{
			Params:  []api.ValueType{api.ValueTypeI32, api.ValueTypeI32},
			Results: []api.ValueType{api.ValueTypeI32},
		},
		wasm.FuncType{Results: []api.ValueType{api.ValueTypeI32}},
		body, true, nil)

	ctx := context.Background()
	in, err := interp.Instantiate(ctx, m,
		interp.WithBuiltins(Builtins(&bytes.Buffer{}, []string{"a", "bc"}, nil)...))
	require.NoError(t, err)

	res, err := in.Run(ctx)
	require.NoError(t, err)
	require.Equal(t, []api.Value{api.I32(0)}, res)

	count, ok := in.MemPtr(50, 4)
	require.True(t, ok)
	require.EqualValues(t, 2, binary.LittleEndian.Uint32(count))
	size, ok := in.MemPtr(60, 4)
	require.True(t, ok)
	require.EqualValues(t, 5, binary.LittleEndian.Uint32(size), "2 strings plus their NUL terminators")
}

func TestArgsGet_CopiesStringsAndPointers(t *testing.T) {
	body := []byte{
		wasm.OpI32Const, 0xC6, 0x00, // ptrs array = 70
		wasm.OpI32Const, 0xD0, 0x00, // string buf = 80
		wasm.OpCall, 0x00,
		wasm.OpEnd,
	}
	m := builtinModule(3,
		wasm.FuncType{
			Params:  []api.ValueType{api.ValueTypeI32, api.ValueTypeI32},
			Results: []api.ValueType{api.ValueTypeI32},
		},
		wasm.FuncType{Results: []api.ValueType{api.ValueTypeI32}},
		body, true, nil)

	ctx := context.Background()
	in, err := interp.Instantiate(ctx, m,
		interp.WithBuiltins(Builtins(&bytes.Buffer{}, []string{"a", "bc"}, nil)...))
	require.NoError(t, err)

	res, err := in.Run(ctx)
	require.NoError(t, err)
	require.Equal(t, []api.Value{api.I32(0)}, res)

	buf, ok := in.MemPtr(80, 5)
	require.True(t, ok)
	require.Equal(t, []byte("a\x00bc\x00"), []byte(buf))

	ptrs, ok := in.MemPtr(70, 8)
	require.True(t, ok)
	require.EqualValues(t, 80, binary.LittleEndian.Uint32(ptrs[0:4]))
	require.EqualValues(t, 82, binary.LittleEndian.Uint32(ptrs[4:8]))
}

func TestFdClose_ReportsSuccess(t *testing.T) {
	body := []byte{
		wasm.OpI32Const, 0x03,
		wasm.OpCall, 0x00,
		wasm.OpEnd,
	}
	m := builtinModule(2,
		wasm.FuncType{
			Params:  []api.ValueType{api.ValueTypeI32},
			Results: []api.ValueType{api.ValueTypeI32},
		},
		wasm.FuncType{Results: []api.ValueType{api.ValueTypeI32}},
		body, false, nil)

	ctx := context.Background()
	in, err := interp.Instantiate(ctx, m, interp.WithBuiltins(Builtins(&bytes.Buffer{}, nil, nil)...))
	require.NoError(t, err)

	res, err := in.Run(ctx)
	require.NoError(t, err)
	require.Equal(t, []api.Value{api.I32(0)}, res)
}
