package wasm

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/damus-io/nostrscript/api"
	"github.com/damus-io/nostrscript/internal/cursor"
)

// section builds one section: tag byte, LEB128 size prefix, then body.
func section(tag byte, body []byte) []byte {
	out := []byte{tag}
	out = cursor.EncodeUint32(out, uint32(len(body)))
	return append(out, body...)
}

func vecLen(n int) []byte { return cursor.EncodeUint32(nil, uint32(n)) }

// buildAddModule hand-encodes a module with a single exported function
// "add" of type (i32, i32) -> i32, body: local.get 0; local.get 1; i32.add; end.
func buildAddModule(t *testing.T) []byte {
	t.Helper()

	typeSec := vecLen(1)
	typeSec = append(typeSec, FuncTypeTag)
	typeSec = append(typeSec, vecLen(2)...)
	typeSec = append(typeSec, api.ValueTypeI32, api.ValueTypeI32)
	typeSec = append(typeSec, vecLen(1)...)
	typeSec = append(typeSec, api.ValueTypeI32)

	funcSec := vecLen(1)
	funcSec = cursor.EncodeUint32(funcSec, 0) // type index 0

	body := []byte{OpLocalGet}
	body = cursor.EncodeUint32(body, 0)
	body = append(body, OpLocalGet)
	body = cursor.EncodeUint32(body, 1)
	body = append(body, OpI32Add, OpEnd)

	codeEntry := vecLen(0) // no local groups
	codeEntry = append(codeEntry, body...)
	codeSec := vecLen(1)
	codeSec = cursor.EncodeUint32(codeSec, uint32(len(codeEntry)))
	codeSec = append(codeSec, codeEntry...)

	exportSec := vecLen(1)
	exportSec = append(exportSec, byte(len("add")))
	exportSec = append(exportSec, "add"...)
	exportSec = append(exportSec, descFunc)
	exportSec = cursor.EncodeUint32(exportSec, 0)

	var out []byte
	out = append(out, wasmMagic...)
	out = append(out, wasmVersion...)
	out = append(out, section(byte(SectionType), typeSec)...)
	out = append(out, section(byte(SectionFunction), funcSec)...)
	out = append(out, section(byte(SectionExport), exportSec)...)
	out = append(out, section(byte(SectionCode), codeSec)...)
	return out
}

func TestDecode_MinimalAddModule(t *testing.T) {
	data := buildAddModule(t)
	m, err := Decode(data, nil)
	require.NoError(t, err)
	require.Len(t, m.Types, 1)
	require.Equal(t, []api.ValueType{api.ValueTypeI32, api.ValueTypeI32}, m.Types[0].Params)
	require.Equal(t, []api.ValueType{api.ValueTypeI32}, m.Types[0].Results)
	require.Len(t, m.Functions, 1)
	idx, ok := m.ExportedFunc("add")
	require.True(t, ok)
	require.EqualValues(t, 0, idx)
	require.Equal(t, int32(-1), m.Start)
	require.NotEqual(t, [32]byte{}, m.ID, "content hash must be computed")
}

func TestDecode_ResolvesImportsToBuiltins(t *testing.T) {
	typeSec := vecLen(1)
	typeSec = append(typeSec, FuncTypeTag)
	typeSec = append(typeSec, vecLen(0)...)
	typeSec = append(typeSec, vecLen(0)...)

	impSec := vecLen(1)
	impSec = append(impSec, byte(len("env")))
	impSec = append(impSec, "env"...)
	impSec = append(impSec, byte(len("foo")))
	impSec = append(impSec, "foo"...)
	impSec = append(impSec, descFunc)
	impSec = cursor.EncodeUint32(impSec, 0)

	var out []byte
	out = append(out, wasmMagic...)
	out = append(out, wasmVersion...)
	out = append(out, section(byte(SectionType), typeSec)...)
	out = append(out, section(byte(SectionImport), impSec)...)

	m, err := Decode(out, []string{"bar", "foo"})
	require.NoError(t, err)
	require.Len(t, m.Functions, 1)
	require.Equal(t, FunctionBuiltin, m.Functions[0].Kind)
	require.Equal(t, 1, m.Functions[0].BuiltinIndex, "field name must match by linear search over the name table")
	require.Equal(t, "foo", m.Functions[0].Name)
	require.Equal(t, 1, m.Imports[0].ResolvedBuiltin)
	require.EqualValues(t, 1, m.ImportedFuncCount)

	// an unknown field name decodes fine but stays unresolved; the
	// failure belongs to instantiation, when dispatch would need it.
	m, err = Decode(out, []string{"bar"})
	require.NoError(t, err)
	require.Equal(t, -1, m.Functions[0].BuiltinIndex)
}

func TestDecode_BadMagic(t *testing.T) {
	_, err := Decode([]byte{0x01, 0x02, 0x03, 0x04}, nil)
	require.Error(t, err)
	var pe *ParseError
	require.ErrorAs(t, err, &pe)
}

func TestDecode_SectionsOutOfOrder(t *testing.T) {
	data := buildAddModule(t)
	// Swap the Function and Type sections so Function comes first, which
	// violates ordering: after the 8-byte magic+version header, the Type
	// section spans data[8:17] and the Function section data[17:21].
	bad := append([]byte(nil), data[:8]...)
	bad = append(bad, data[17:21]...) // Function section
	bad = append(bad, data[8:17]...)  // Type section
	bad = append(bad, data[21:]...)
	_, err := Decode(bad, nil)
	require.Error(t, err)
}

func TestDecode_UnknownSectionTag(t *testing.T) {
	var out []byte
	out = append(out, wasmMagic...)
	out = append(out, wasmVersion...)
	out = append(out, section(13, []byte{0x00})...)
	_, err := Decode(out, nil)
	require.Error(t, err)
}
