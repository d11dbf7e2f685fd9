// Package logging renders the interpreter's bounded error ring and
// per-call backtraces through github.com/sirupsen/logrus, giving hosts a
// structured view of traps and parse failures without capturing stderr.
package logging

import (
	"github.com/sirupsen/logrus"

	"github.com/damus-io/nostrscript/internal/wasm"
)

// posError is the minimal interface every nostrscript error kind
// (*wasm.ParseError, *interp.LinkError, *interp.Trap,
// *interp.ExhaustionError) implements, letting this package render a
// uniform backtrace regardless of which layer raised it.
type posError interface {
	error
	Position() int
}

// Component names the subsystem a log entry originates from, attached as
// the "component" structured field on every entry this package emits.
type Component string

const (
	ComponentDecoder Component = "decoder"
	ComponentInterp  Component = "interp"
	ComponentCLI     Component = "cli"
)

// LogError renders a single posError at Error level, with "component",
// "pos", and (when non-empty) "fn" structured fields.
func LogError(log *logrus.Logger, component Component, fn string, err error) {
	entry := log.WithField("component", string(component))
	if fn != "" {
		entry = entry.WithField("fn", fn)
	}
	if pe, ok := err.(posError); ok {
		entry = entry.WithField("pos", pe.Position())
	}
	entry.Error(err.Error())
}

// LogBacktrace renders every record accumulated in an interpreter's error
// ring (interp.Interpreter.Errors) as Error-level entries: a "trap
// backtrace" header with a "frames" count, then one entry per record with
// its "pos" field, oldest first.
func LogBacktrace(log *logrus.Logger, component Component, records []wasm.ErrorRecord) {
	if len(records) == 0 {
		return
	}
	entry := log.WithField("component", string(component))
	entry.WithField("frames", len(records)).Error("trap backtrace")
	for _, r := range records {
		entry.WithField("pos", r.Pos).Error(r.Msg)
	}
}

// FunctionListener lets a host log every builtin dispatch at Debug level
// without touching the builtin's own implementation.
type FunctionListener struct {
	Log  *logrus.Logger
	Name string
}

// Before logs that a builtin is about to run, with its name as the "fn"
// field.
func (l FunctionListener) Before() {
	l.Log.WithField("component", string(ComponentInterp)).
		WithField("fn", l.Name).
		Debug("builtin call entered")
}

// After logs that a builtin returned, with its BuiltinStatus name.
func (l FunctionListener) After(status string) {
	l.Log.WithField("component", string(ComponentInterp)).
		WithField("fn", l.Name).
		WithField("status", status).
		Debug("builtin call returned")
}

// NewLogger constructs a logrus.Logger with the text formatter nostrscript
// uses by default (timestamps off, matching CLI output conventions where
// the caller controls timing via its own harness rather than the logger).
func NewLogger() *logrus.Logger {
	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{DisableTimestamp: true})
	return log
}
