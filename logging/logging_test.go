package logging

import (
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/require"

	"github.com/damus-io/nostrscript/internal/wasm"
)

func TestLogError_AttachesStructuredFields(t *testing.T) {
	log, hook := test.NewNullLogger()

	LogError(log, ComponentDecoder, "main", &wasm.ParseError{Pos: 0x2a, Message: "bad valtype"})

	require.Len(t, hook.Entries, 1)
	e := hook.LastEntry()
	require.Equal(t, logrus.ErrorLevel, e.Level)
	require.Equal(t, "decoder", e.Data["component"])
	require.Equal(t, "main", e.Data["fn"])
	require.Equal(t, 0x2a, e.Data["pos"])
	require.Contains(t, e.Message, "bad valtype")
}

func TestLogError_NonPositionalErrorOmitsPos(t *testing.T) {
	log, hook := test.NewNullLogger()

	LogError(log, ComponentCLI, "", errNoPos{})

	e := hook.LastEntry()
	require.NotContains(t, e.Data, "pos")
	require.NotContains(t, e.Data, "fn")
}

type errNoPos struct{}

func (errNoPos) Error() string { return "plain failure" }

func TestLogBacktrace_RendersEveryRecord(t *testing.T) {
	log, hook := test.NewNullLogger()

	var ring wasm.ErrorRing
	ring.Note(0x10, "inner %s", "trap")
	ring.Note(0x20, "outer frame")
	LogBacktrace(log, ComponentInterp, ring.Records())

	// one header entry plus one per record
	require.Len(t, hook.Entries, 3)
	require.Equal(t, "trap backtrace", hook.Entries[0].Message)
	require.Equal(t, "inner trap", hook.Entries[1].Message)
	require.Equal(t, 0x20, hook.Entries[2].Data["pos"])
}

func TestLogBacktrace_EmptyRingIsSilent(t *testing.T) {
	log, hook := test.NewNullLogger()
	LogBacktrace(log, ComponentInterp, nil)
	require.Empty(t, hook.Entries)
}
