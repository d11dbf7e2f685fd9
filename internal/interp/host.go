package interp

import (
	"fmt"

	"github.com/damus-io/nostrscript/api"
)

// BuiltinStatus is a host builtin's control-flow result: whether execution
// should continue normally, trap, or suspend (the cooperative-coroutine
// extension point for asynchronous host calls).
type BuiltinStatus int

const (
	// BuiltinOK means the builtin ran to completion and pushed its
	// results (if any) onto the value stack itself.
	BuiltinOK BuiltinStatus = iota
	// BuiltinTrap means the builtin encountered an unrecoverable guest
	// error; Interpreter.Run/Resume returns a trap wrapping ErrTrap.
	BuiltinTrap
	// BuiltinSuspend means the builtin could not complete synchronously
	// (e.g. it is waiting on a host event) and the interpreter should
	// save its call-frame stack and return control to the embedder,
	// resumable later via Interpreter.Resume.
	BuiltinSuspend
)

// Builtin is a host function bound into a module's function index space
// via Instantiate. Invoking one prepares a call frame exactly as a guest
// call would: the typed arguments are popped off the value stack in
// reverse into the frame's locals, the builtin reads them by position
// with Param, pushes its results with PushValue the same way a
// WebAssembly function's implicit return does, and the frame is popped
// when it returns.
type Builtin func(*Interpreter) BuiltinStatus

// Param returns the i-th typed argument of the call currently in flight,
// read from the active frame's locals the same way local.get would.
func (in *Interpreter) Param(i int) (api.Value, error) {
	if len(in.frames) == 0 {
		return api.Value{}, fmt.Errorf("interp: Param called outside a call frame")
	}
	f := in.frames[len(in.frames)-1]
	if i < 0 || i >= len(f.locals) {
		return api.Value{}, fmt.Errorf("%w: parameter index %d out of range (frame has %d locals)", ErrTrap, i, len(f.locals))
	}
	return f.locals[i], nil
}

// MemPtr returns the size bytes of the interpreter's linear memory
// starting at guestPtr, or ok=false if the access is out of bounds (the
// caller, typically a Builtin, should treat a false return as a trap
// condition and fail the call).
func (in *Interpreter) MemPtr(guestPtr, size uint32) ([]byte, bool) {
	if in.mem == nil {
		return nil, false
	}
	b, err := in.mem.slice(guestPtr, size)
	if err != nil {
		return nil, false
	}
	return b, true
}

// MemPtrString reads a NUL-terminated string from linear memory starting
// at guestPtr.
func (in *Interpreter) MemPtrString(guestPtr uint32) (string, bool) {
	if in.mem == nil {
		return "", false
	}
	s, err := in.mem.cstring(guestPtr)
	if err != nil {
		return "", false
	}
	return s, true
}
