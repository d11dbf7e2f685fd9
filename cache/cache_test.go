package cache

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/damus-io/nostrscript/internal/cursor"
	"github.com/damus-io/nostrscript/internal/wasm"
)

// emptyModule hand-encodes a minimal valid module whose only content is a
// type section with n entries, so distinct n produce distinct content hashes.
func emptyModule(n int) []byte {
	typeSec := cursor.EncodeUint32(nil, uint32(n))
	for i := 0; i < n; i++ {
		typeSec = append(typeSec, wasm.FuncTypeTag)
		typeSec = cursor.EncodeUint32(typeSec, 0) // no params
		typeSec = cursor.EncodeUint32(typeSec, 0) // no results
	}
	out := []byte{0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00}
	out = append(out, wasm.SectionType)
	out = cursor.EncodeUint32(out, uint32(len(typeSec)))
	return append(out, typeSec...)
}

func TestDecode_HitReturnsSamePointer(t *testing.T) {
	c, err := NewCache()
	require.NoError(t, err)

	data := emptyModule(1)
	m1, err := c.Decode(data, nil)
	require.NoError(t, err)
	require.Len(t, m1.Types, 1)

	m2, err := c.Decode(data, nil)
	require.NoError(t, err)
	require.Same(t, m1, m2, "a cache hit must not re-run the decoder")
	require.Equal(t, 1, c.Len())
}

func TestDecode_ParseErrorsAreNotCached(t *testing.T) {
	c, err := NewCache()
	require.NoError(t, err)

	_, err = c.Decode([]byte{0xde, 0xad, 0xbe, 0xef}, nil)
	require.Error(t, err)
	var pe *wasm.ParseError
	require.ErrorAs(t, err, &pe)
	require.Equal(t, 0, c.Len())
}

func TestDecode_EvictsLeastRecentlyUsed(t *testing.T) {
	c, err := New(2)
	require.NoError(t, err)

	a, b, d := emptyModule(1), emptyModule(2), emptyModule(3)
	mA, err := c.Decode(a, nil)
	require.NoError(t, err)
	_, err = c.Decode(b, nil)
	require.NoError(t, err)
	_, err = c.Decode(d, nil) // evicts a
	require.NoError(t, err)
	require.Equal(t, 2, c.Len())

	mA2, err := c.Decode(a, nil)
	require.NoError(t, err)
	require.NotSame(t, mA, mA2, "an evicted module is re-decoded on the next request")
}

func TestDecode_DistinctBuiltinTablesCacheSeparately(t *testing.T) {
	c, err := NewCache()
	require.NoError(t, err)

	data := emptyModule(1)
	m1, err := c.Decode(data, []string{"foo"})
	require.NoError(t, err)
	m2, err := c.Decode(data, []string{"bar"})
	require.NoError(t, err)
	require.NotSame(t, m1, m2, "import resolution is baked in at decode time, so the builtin table is part of the key")
	require.Equal(t, 2, c.Len())
}

func TestPurge(t *testing.T) {
	c, err := NewCache()
	require.NoError(t, err)
	_, err = c.Decode(emptyModule(1), nil)
	require.NoError(t, err)
	c.Purge()
	require.Equal(t, 0, c.Len())
}
