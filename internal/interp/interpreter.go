// Package interp is the nostrscript stack-machine interpreter: it executes
// a decoded *wasm.Module against a bounded value stack and call-frame
// stack, resolving block/loop/if targets lazily as execution reaches them
// (see label.go) rather than compiling a control-flow graph up front.
package interp

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"github.com/damus-io/nostrscript/api"
	"github.com/damus-io/nostrscript/internal/cursor"
	"github.com/damus-io/nostrscript/internal/wasm"
)

// maxStackDepth bounds the value stack: a malicious or buggy module traps
// with an ExhaustionError instead of growing the host process's memory
// unboundedly. The call-frame stack's ceiling lives in Config so a host
// can lower it per instance (WithCallStackCeiling).
const maxStackDepth = 1 << 16

// activeLabel is a label the current call frame has entered but not yet
// exited: the resolved/unresolved label plus the value-stack height at
// entry, used to validate and perform the stack unwind a branch to it
// requires.
type activeLabel struct {
	l         *label
	stackBase int
	isLoop    bool
}

// callFrame is one activation record: its function, instruction cursor,
// locals, and open label stack.
type callFrame struct {
	funcIdx     uint32
	code        []byte
	cur         *cursor.Cursor
	locals      []api.Value
	labels      []activeLabel
	resultArity int
	stackBase   int
}

// Interpreter executes one instantiated module. It is created by
// Instantiate and driven by Run/Resume/Call.
type Interpreter struct {
	module   *wasm.Module
	builtins []Builtin
	cfg      *Config

	mem      *linearMemory
	tables   []*tableInstance
	globals  []*globalInstance
	elements []*elementInstance
	datas    [][]byte // nil entry means dropped

	stack  []api.Value
	frames []*callFrame
	labels *labelCache

	errs     wasm.ErrorRing
	ops      uint64
	quitting bool
	exitCode int

	wasi wasiState

	// suspended records that a Builtin returned BuiltinSuspend; the
	// call-frame stack stays in frames, so Resume can pick execution back
	// up exactly where it left off.
	suspended bool
}

type wasiState struct {
	argv []string
	env  []string
}

// SetupWASI records the argv/env a WASI-style builtin (args_get,
// environ_get, etc.) should expose to the guest. It does not itself
// register any builtins; the host supplies those via Instantiate's
// builtins table, matching the Builtin ABI's host-owns-everything design.
func (in *Interpreter) SetupWASI(argv []string, env []string) {
	in.wasi.argv = argv
	in.wasi.env = env
}

// WASIArgs returns the argv configured by SetupWASI, for use by a host's
// args_get/args_sizes_get builtin implementations.
func (in *Interpreter) WASIArgs() []string { return in.wasi.argv }

// WASIEnviron returns the environment configured by SetupWASI.
func (in *Interpreter) WASIEnviron() []string { return in.wasi.env }

// Errors returns the bounded backtrace ring accumulated so far.
func (in *Interpreter) Errors() []wasm.ErrorRecord { return in.errs.Records() }

// ExitCode returns the code passed to Quit, valid once Run/Resume has
// returned with the quitting flag set.
func (in *Interpreter) ExitCode() int { return in.exitCode }

// Quit requests termination with the given exit code, the effect of a
// WASI proc_exit builtin; the current instruction is the last one
// executed.
func (in *Interpreter) Quit(code int) {
	in.quitting = true
	in.exitCode = code
}

// PushValue and PopValue expose the value stack to Builtin implementations
// and the embedder. A builtin's arguments are already in its frame and are
// read with Param; PushValue pushes its results, and the embedder uses it to
// push a suspended builtin's result before calling Resume.
func (in *Interpreter) PushValue(v api.Value) error {
	if len(in.stack) >= maxStackDepth {
		return &ExhaustionError{Resource: "value stack"}
	}
	in.stack = append(in.stack, v)
	return nil
}

func (in *Interpreter) PopValue() (api.Value, error) {
	if len(in.stack) == 0 {
		return api.Value{}, fmt.Errorf("%w: value stack underflow", ErrTrap)
	}
	v := in.stack[len(in.stack)-1]
	in.stack = in.stack[:len(in.stack)-1]
	return v, nil
}

// Call invokes an exported function by name and runs it to completion (or
// until a builtin suspends), returning its results.
func (in *Interpreter) Call(ctx context.Context, name string, args ...api.Value) ([]api.Value, error) {
	idx, ok := in.module.ExportedFunc(name)
	if !ok {
		return nil, fmt.Errorf("interp: no exported function %q", name)
	}
	for _, a := range args {
		if err := in.PushValue(a); err != nil {
			return nil, err
		}
	}
	if err := in.pushCall(idx); err != nil {
		return nil, err
	}
	return in.runLoop(ctx)
}

// Run resolves and invokes the module's entry function and drives
// execution to completion (or until a builtin suspends or traps). The
// entry is the function named by the Start section, else the export named
// "_start", else the export named "start", in that order; a module with
// none of the three fails with a descriptive error rather than silently
// doing nothing. If a call is already in flight (a prior Run suspended
// and the host called Resume instead), Run re-enters runLoop on the
// existing frames rather than pushing a second entry call.
func (in *Interpreter) Run(ctx context.Context) ([]api.Value, error) {
	if len(in.frames) == 0 {
		idx, err := in.resolveEntry()
		if err != nil {
			return nil, err
		}
		if err := in.pushCall(idx); err != nil {
			return nil, err
		}
	}
	return in.runLoop(ctx)
}

// resolveEntry implements the Start-section / "_start" / "start" fallback
// chain for locating a module's entry function.
func (in *Interpreter) resolveEntry() (uint32, error) {
	if in.module.Start >= 0 {
		return uint32(in.module.Start), nil
	}
	if idx, ok := in.module.ExportedFunc("_start"); ok {
		return idx, nil
	}
	if idx, ok := in.module.ExportedFunc("start"); ok {
		return idx, nil
	}
	return 0, fmt.Errorf("interp: module has no start section and no export named %q or %q", "_start", "start")
}

// Resume continues execution after a previous Run/Call returned because a
// Builtin reported BuiltinSuspend.
func (in *Interpreter) Resume(ctx context.Context) ([]api.Value, error) {
	if !in.suspended {
		return nil, fmt.Errorf("interp: Resume called without a pending suspension")
	}
	in.suspended = false
	return in.runLoop(ctx)
}

func (in *Interpreter) pushCall(funcIdx uint32) error {
	if len(in.frames) >= in.cfg.callStackCeiling {
		return &ExhaustionError{Resource: "call frame stack"}
	}
	if int(funcIdx) >= len(in.module.Functions) {
		return fmt.Errorf("%w: function index %d out of range", ErrTrap, funcIdx)
	}
	fn := in.module.Functions[funcIdx]
	if int(fn.TypeIdx) >= len(in.module.Types) {
		return fmt.Errorf("%w: function %d has invalid type index %d", ErrTrap, funcIdx, fn.TypeIdx)
	}
	ft := in.module.Types[fn.TypeIdx]

	locals := make([]api.Value, len(ft.Params)+int(fn.Code.NumLocals))
	for i := len(ft.Params) - 1; i >= 0; i-- {
		v, err := in.PopValue()
		if err != nil {
			return err
		}
		locals[i] = v
	}
	li := len(ft.Params)
	for _, g := range fn.Code.Locals {
		zero := zeroValue(g.Type)
		for j := uint32(0); j < g.Count; j++ {
			locals[li] = zero
			li++
		}
	}

	frame := &callFrame{
		funcIdx:     funcIdx,
		code:        fn.Code.Body,
		cur:         cursor.New(fn.Code.Body),
		locals:      locals,
		resultArity: len(ft.Results),
		stackBase:   len(in.stack),
	}
	in.frames = append(in.frames, frame)
	return nil
}

func zeroValue(t api.ValueType) api.Value {
	if api.IsRefType(t) {
		return api.NullRef(t)
	}
	return api.Value{Type: t}
}

// runLoop is the central fetch-decode-execute loop, shared by Run, Call,
// and Resume. It returns when the outermost call frame returns
// normally, a Builtin suspends, or a trap/exhaustion error occurs.
func (in *Interpreter) runLoop(ctx context.Context) ([]api.Value, error) {
	// the outermost frame's stackBase is where its results will land.
	base := 0
	if len(in.frames) > 0 {
		base = in.frames[0].stackBase
	}
	for len(in.frames) > 0 {
		if in.quitting {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		frame := in.frames[len(in.frames)-1]
		if frame.cur.EOF() {
			if err := in.returnFromFrame(frame); err != nil {
				return nil, err
			}
			continue
		}

		instrPos := frame.cur.Pos()
		instr, err := wasm.ParseNext(frame.cur)
		if err != nil {
			return nil, err
		}
		in.ops++
		if in.cfg != nil && in.cfg.metrics != nil {
			in.cfg.metrics.observeInstruction()
		}

		status, err := in.step(frame, instrPos, instr)
		if err != nil {
			in.errs.Note(instrPos, "%s", err.Error())
			if in.cfg != nil && in.cfg.metrics != nil {
				in.cfg.metrics.observeTrap()
			}
			if in.cfg != nil && in.cfg.logger != nil {
				in.cfg.logger.WithField("component", "interp").
					WithField("fn", in.module.Functions[frame.funcIdx].Name).
					WithField("pos", instrPos).
					Error(err.Error())
			}
			if errors.Is(err, ErrTrap) {
				return nil, &Trap{Pos: instrPos, Err: err}
			}
			return nil, err
		}
		switch status {
		case stepSuspend:
			in.suspended = true
			if in.cfg != nil && in.cfg.metrics != nil {
				in.cfg.metrics.observeSuspend()
			}
			return nil, ErrSuspended
		case stepReturned:
			// the step already popped the frame (a `return`/fallthrough at
			// depth 0); nothing more to do this iteration.
		}
	}

	if in.quitting {
		return nil, nil
	}
	// Results of the final call are the values above the outermost frame's
	// base; they are handed back and removed from the stack.
	if base > len(in.stack) {
		base = len(in.stack)
	}
	results := append([]api.Value(nil), in.stack[base:]...)
	in.stack = in.stack[:base]
	return results, nil
}

type stepResult int

const (
	stepContinue stepResult = iota
	stepReturned
	stepSuspend
)

func (in *Interpreter) returnFromFrame(frame *callFrame) error {
	// the function body's implicit `end` already behaves like `return`:
	// the top resultArity values on the stack are the results, anything
	// else pushed above frame.stackBase by this call is discarded.
	results := make([]api.Value, frame.resultArity)
	for i := frame.resultArity - 1; i >= 0; i-- {
		v, err := in.PopValue()
		if err != nil {
			return err
		}
		results[i] = v
	}
	in.stack = in.stack[:frame.stackBase]
	in.stack = append(in.stack, results...)
	in.frames = in.frames[:len(in.frames)-1]
	return nil
}

func (in *Interpreter) step(frame *callFrame, pos int, instr wasm.Instruction) (stepResult, error) {
	switch instr.Op {
	case wasm.OpUnreachable:
		return 0, fmt.Errorf("%w: unreachable executed", ErrTrap)
	case wasm.OpNop:
		return stepContinue, nil

	case wasm.OpBlock, wasm.OpLoop:
		arity := in.blockArity(instr.Block)
		l, err := in.labels.upsert(frame.funcIdx, pos, instr.Op, arity)
		if err != nil {
			return 0, err
		}
		// a label first seen during a forward scan was created with arity
		// 0; execution entry knows the true block type, so refresh it.
		l.Arity = arity
		frame.labels = append(frame.labels, activeLabel{l: l, stackBase: len(in.stack), isLoop: instr.Op == wasm.OpLoop})
		return stepContinue, nil

	case wasm.OpIf:
		arity := in.blockArity(instr.Block)
		l, err := in.labels.upsert(frame.funcIdx, pos, instr.Op, arity)
		if err != nil {
			return 0, err
		}
		l.Arity = arity
		cond, err := in.PopValue()
		if err != nil {
			return 0, err
		}
		frame.labels = append(frame.labels, activeLabel{l: l, stackBase: len(in.stack)})
		if cond.I32() == 0 {
			if err := in.labels.resolveEnd(frame.funcIdx, frame.code, l); err != nil {
				return 0, err
			}
			if l.ElsePos >= 0 {
				frame.cur.Seek(l.ElsePos)
			} else {
				frame.cur.Seek(l.EndPos)
				frame.labels = frame.labels[:len(frame.labels)-1]
			}
		}
		return stepContinue, nil

	case wasm.OpElse:
		// reached by falling off the true branch: skip straight to end.
		if len(frame.labels) == 0 {
			return 0, fmt.Errorf("%w: else with no enclosing if", ErrTrap)
		}
		l := frame.labels[len(frame.labels)-1].l
		if err := in.labels.resolveEnd(frame.funcIdx, frame.code, l); err != nil {
			return 0, err
		}
		frame.cur.Seek(l.EndPos)
		frame.labels = frame.labels[:len(frame.labels)-1]
		return stepContinue, nil

	case wasm.OpEnd:
		if len(frame.labels) > 0 {
			al := frame.labels[len(frame.labels)-1]
			if !al.l.resolved() {
				al.l.EndPos = frame.cur.Pos()
			}
			frame.labels = frame.labels[:len(frame.labels)-1]
		}
		return stepContinue, nil

	case wasm.OpBr:
		return in.branch(frame, int(instr.U32))
	case wasm.OpBrIf:
		cond, err := in.PopValue()
		if err != nil {
			return 0, err
		}
		if cond.I32() != 0 {
			return in.branch(frame, int(instr.U32))
		}
		return stepContinue, nil
	case wasm.OpBrTable:
		idxV, err := in.PopValue()
		if err != nil {
			return 0, err
		}
		i := idxV.I32()
		target := instr.BrTable[len(instr.BrTable)-1]
		if int(i) < len(instr.BrTable)-1 {
			target = instr.BrTable[i]
		}
		return in.branch(frame, int(target))

	case wasm.OpReturn:
		if err := in.returnFromFrame(frame); err != nil {
			return 0, err
		}
		return stepReturned, nil

	case wasm.OpCall:
		return in.call(frame, instr.U32)
	case wasm.OpCallIndirect:
		return in.callIndirect(frame, instr.U32b, instr.U32)

	case wasm.OpDrop:
		_, err := in.PopValue()
		return stepContinue, err
	case wasm.OpSelect, wasm.OpSelectTyped:
		cond, err := in.PopValue()
		if err != nil {
			return 0, err
		}
		b, err := in.PopValue()
		if err != nil {
			return 0, err
		}
		a, err := in.PopValue()
		if err != nil {
			return 0, err
		}
		if cond.I32() != 0 {
			return stepContinue, in.PushValue(a)
		}
		return stepContinue, in.PushValue(b)

	case wasm.OpLocalGet:
		if int(instr.U32) >= len(frame.locals) {
			return 0, fmt.Errorf("%w: local index %d out of range", ErrTrap, instr.U32)
		}
		return stepContinue, in.PushValue(frame.locals[instr.U32])
	case wasm.OpLocalSet, wasm.OpLocalTee:
		if int(instr.U32) >= len(frame.locals) {
			return 0, fmt.Errorf("%w: local index %d out of range", ErrTrap, instr.U32)
		}
		v, err := in.PopValue()
		if err != nil {
			return 0, err
		}
		frame.locals[instr.U32] = v
		if instr.Op == wasm.OpLocalTee {
			return stepContinue, in.PushValue(v)
		}
		return stepContinue, nil
	case wasm.OpGlobalGet:
		if int(instr.U32) >= len(in.globals) {
			return 0, fmt.Errorf("%w: global index %d out of range", ErrTrap, instr.U32)
		}
		return stepContinue, in.PushValue(in.globals[instr.U32].Value)
	case wasm.OpGlobalSet:
		if int(instr.U32) >= len(in.globals) {
			return 0, fmt.Errorf("%w: global index %d out of range", ErrTrap, instr.U32)
		}
		v, err := in.PopValue()
		if err != nil {
			return 0, err
		}
		in.globals[instr.U32].Value = v
		return stepContinue, nil
	case wasm.OpTableGet:
		t, err := in.table(instr.U32)
		if err != nil {
			return 0, err
		}
		idx, err := in.PopValue()
		if err != nil {
			return 0, err
		}
		v, err := t.get(idx.I32())
		if err != nil {
			return 0, err
		}
		return stepContinue, in.PushValue(v)
	case wasm.OpTableSet:
		t, err := in.table(instr.U32)
		if err != nil {
			return 0, err
		}
		v, err := in.PopValue()
		if err != nil {
			return 0, err
		}
		idx, err := in.PopValue()
		if err != nil {
			return 0, err
		}
		return stepContinue, t.set(idx.I32(), v)

	case wasm.OpMemorySize:
		return stepContinue, in.PushValue(api.I32(in.mem.pages()))
	case wasm.OpMemoryGrow:
		delta, err := in.PopValue()
		if err != nil {
			return 0, err
		}
		prev := in.mem.grow(delta.I32())
		if in.cfg.metrics != nil {
			in.cfg.metrics.setMemoryPages(in.mem.pages())
		}
		return stepContinue, in.PushValue(api.I32(uint32(prev)))

	case wasm.OpI32Const:
		return stepContinue, in.PushValue(api.I32(uint32(instr.I32)))
	case wasm.OpI64Const:
		return stepContinue, in.PushValue(api.I64(uint64(instr.I64)))
	case wasm.OpF32Const:
		return stepContinue, in.PushValue(api.F32Bits(instr.F32Bits))
	case wasm.OpF64Const:
		return stepContinue, in.PushValue(api.F64Bits(instr.F64Bits))

	case wasm.OpRefNull:
		return stepContinue, in.PushValue(api.NullRef(instr.RefType))
	case wasm.OpRefIsNull:
		v, err := in.PopValue()
		if err != nil {
			return 0, err
		}
		return stepContinue, in.PushValue(boolVal(v.IsNull()))
	case wasm.OpRefFunc:
		return stepContinue, in.PushValue(api.FuncRef(instr.U32))

	case wasm.OpBulk:
		return in.bulk(instr)
	}

	if isMemLoadOp(instr.Op) || isMemStoreOp(instr.Op) {
		return in.memOp(instr)
	}
	return in.numericOp(instr)
}

func (in *Interpreter) blockArity(bt wasm.BlockType) int {
	switch bt.Tag {
	case wasm.BlockTypeEmpty:
		return 0
	case wasm.BlockTypeValue:
		return 1
	default:
		if int(bt.TypeIndex) < len(in.module.Types) {
			return len(in.module.Types[bt.TypeIndex].Results)
		}
		return 0
	}
}

// branch implements `br`/taken `br_if`/`br_table`: pop times+1 labels off
// the frame's open-label stack (the branch target is the (times+1)th
// label from the top; a loop target keeps its own label open, since
// execution re-enters its body), unwind the value stack to that label's
// entry height plus its arity worth of results, and jump: backward to the
// start of the loop's body for a loop target, forward to its (lazily
// resolved) end otherwise.
func (in *Interpreter) branch(frame *callFrame, times int) (stepResult, error) {
	if times >= len(frame.labels) {
		// branching past the outermost block falls through to a function
		// return, per the WebAssembly branch-target numbering.
		if err := in.returnFromFrame(frame); err != nil {
			return 0, err
		}
		return stepReturned, nil
	}
	targetIdx := len(frame.labels) - 1 - times
	target := frame.labels[targetIdx]

	arity := target.l.Arity
	if target.isLoop {
		arity = 0 // a loop's branch target is its start; no results carried
	}
	vals := make([]api.Value, arity)
	for i := arity - 1; i >= 0; i-- {
		v, err := in.PopValue()
		if err != nil {
			return 0, err
		}
		vals[i] = v
	}
	in.stack = in.stack[:target.stackBase]
	in.stack = append(in.stack, vals...)

	if target.isLoop {
		// the first branch back also resolves the loop's label, so it is
		// cached as resolved even if the loop is only ever left by an
		// outer branch and its own `end` never runs.
		if err := in.labels.resolveEnd(frame.funcIdx, frame.code, target.l); err != nil {
			return 0, err
		}
		// re-parse the opener so execution lands past its variable-length
		// block-type immediate, on the first instruction of the body.
		if err := frame.cur.Seek(target.l.StartPos); err != nil {
			return 0, err
		}
		if _, err := wasm.ParseNext(frame.cur); err != nil {
			return 0, err
		}
		frame.labels = frame.labels[:targetIdx+1]
		return stepContinue, nil
	}

	if err := in.labels.resolveEnd(frame.funcIdx, frame.code, target.l); err != nil {
		return 0, err
	}
	frame.cur.Seek(target.l.EndPos)
	frame.labels = frame.labels[:targetIdx]
	return stepContinue, nil
}

func (in *Interpreter) call(frame *callFrame, funcIdx uint32) (stepResult, error) {
	if int(funcIdx) >= len(in.module.Functions) {
		return 0, fmt.Errorf("%w: call target %d out of range", ErrTrap, funcIdx)
	}
	fn := in.module.Functions[funcIdx]
	if fn.Kind == wasm.FunctionBuiltin {
		return in.callBuiltin(fn)
	}
	if err := in.pushCall(funcIdx); err != nil {
		return 0, err
	}
	return stepContinue, nil
}

// table resolves a table index to its instance, trapping (rather than
// panicking) on a malformed module's out-of-range index.
func (in *Interpreter) table(idx uint32) (*tableInstance, error) {
	if int(idx) >= len(in.tables) {
		return nil, fmt.Errorf("%w: table %d does not exist", ErrTrap, idx)
	}
	return in.tables[idx], nil
}

func (in *Interpreter) callIndirect(frame *callFrame, tableIdx, typeIdx uint32) (stepResult, error) {
	tbl, err := in.table(tableIdx)
	if err != nil {
		return 0, err
	}
	idxV, err := in.PopValue()
	if err != nil {
		return 0, err
	}
	ref, err := tbl.get(idxV.I32())
	if err != nil {
		return 0, err
	}
	if ref.IsNull() {
		return 0, fmt.Errorf("%w: call_indirect through null reference", ErrTrap)
	}
	addr := int64(int32(ref.I32()))
	if in.cfg != nil && in.cfg.hostTableDispatch && addr < 0 {
		builtinIdx := int(-(addr + 1))
		if builtinIdx < 0 || builtinIdx >= len(in.builtins) {
			return 0, fmt.Errorf("%w: host table dispatch index %d out of range", ErrTrap, builtinIdx)
		}
		// a synthetic host ref has no module functype of its own; the call
		// site's expected type shapes the builtin's argument frame.
		if int(typeIdx) >= len(in.module.Types) {
			return 0, fmt.Errorf("%w: call_indirect type index %d out of range", ErrTrap, typeIdx)
		}
		return in.invokeBuiltin(in.builtins[builtinIdx], "host", &in.module.Types[typeIdx])
	}
	funcIdx := uint32(addr)
	if int(funcIdx) >= len(in.module.Functions) {
		return 0, fmt.Errorf("%w: call_indirect target %d out of range", ErrTrap, funcIdx)
	}
	fn := in.module.Functions[funcIdx]
	if !fn.TypeMatches(in.module, typeIdx) {
		return 0, fmt.Errorf("%w: call_indirect type mismatch", ErrTrap)
	}
	if fn.Kind == wasm.FunctionBuiltin {
		return in.callBuiltin(fn)
	}
	if err := in.pushCall(funcIdx); err != nil {
		return 0, err
	}
	return stepContinue, nil
}

func (in *Interpreter) callBuiltin(fn wasm.Function) (stepResult, error) {
	if fn.BuiltinIndex < 0 || fn.BuiltinIndex >= len(in.builtins) {
		return 0, &LinkError{Module: "host", Name: fn.Name}
	}
	if int(fn.TypeIdx) >= len(in.module.Types) {
		return 0, fmt.Errorf("%w: builtin %q has invalid type index %d", ErrTrap, fn.Name, fn.TypeIdx)
	}
	return in.invokeBuiltin(in.builtins[fn.BuiltinIndex], fn.Name, &in.module.Types[fn.TypeIdx])
}

// invokeBuiltin prepares a call frame exactly as a guest call would — the
// typed arguments popped off the value stack in reverse into the frame's
// locals — invokes the host function (which reads them via Param and
// pushes its results, or suspends), then pops the frame. The frame never
// survives the builtin: on suspend the host's async result is pushed
// straight onto the value stack before Resume, so runLoop only ever
// drives frames that own a code cursor.
func (in *Interpreter) invokeBuiltin(b Builtin, name string, ft *wasm.FuncType) (stepResult, error) {
	if len(in.frames) >= in.cfg.callStackCeiling {
		return 0, &ExhaustionError{Resource: "call frame stack"}
	}
	locals := make([]api.Value, len(ft.Params))
	for i := len(ft.Params) - 1; i >= 0; i-- {
		v, err := in.PopValue()
		if err != nil {
			return 0, err
		}
		locals[i] = v
	}
	frame := &callFrame{
		locals:      locals,
		resultArity: len(ft.Results),
		stackBase:   len(in.stack),
	}
	in.frames = append(in.frames, frame)
	status := b(in)
	in.frames = in.frames[:len(in.frames)-1]

	switch status {
	case BuiltinOK:
		return stepContinue, nil
	case BuiltinSuspend:
		return stepSuspend, nil
	default:
		return 0, fmt.Errorf("%w: builtin %q trapped", ErrTrap, name)
	}
}

func isMemLoadOp(op wasm.Opcode) bool {
	return op >= wasm.OpI32Load && op <= wasm.OpI64Load32U
}
func isMemStoreOp(op wasm.Opcode) bool {
	return op >= wasm.OpI32Store && op <= wasm.OpI64Store32
}

func (in *Interpreter) memOp(instr wasm.Instruction) (stepResult, error) {
	if isMemStoreOp(instr.Op) {
		v, err := in.PopValue()
		if err != nil {
			return 0, err
		}
		addr, err := in.PopValue()
		if err != nil {
			return 0, err
		}
		ea, err := effectiveAddr(addr, instr.MemArg.Offset)
		if err != nil {
			return 0, err
		}
		return stepContinue, in.store(instr.Op, ea, v)
	}
	addr, err := in.PopValue()
	if err != nil {
		return 0, err
	}
	ea, err := effectiveAddr(addr, instr.MemArg.Offset)
	if err != nil {
		return 0, err
	}
	v, err := in.load(instr.Op, ea)
	if err != nil {
		return 0, err
	}
	return stepContinue, in.PushValue(v)
}

// effectiveAddr adds a memarg's static offset to the popped base address in
// 64-bit space, trapping on 32-bit overflow rather than silently wrapping
// back into low memory.
func effectiveAddr(base api.Value, offset uint32) (uint32, error) {
	ea := uint64(base.I32()) + uint64(offset)
	if ea > math.MaxUint32 {
		return 0, fmt.Errorf("%w: effective address %#x overflows 32 bits", ErrTrap, ea)
	}
	return uint32(ea), nil
}

func (in *Interpreter) load(op wasm.Opcode, addr uint32) (api.Value, error) {
	switch op {
	case wasm.OpI32Load:
		b, err := in.mem.slice(addr, 4)
		if err != nil {
			return api.Value{}, err
		}
		return api.I32(binary.LittleEndian.Uint32(b)), nil
	case wasm.OpI64Load:
		b, err := in.mem.slice(addr, 8)
		if err != nil {
			return api.Value{}, err
		}
		return api.I64(binary.LittleEndian.Uint64(b)), nil
	case wasm.OpF32Load:
		b, err := in.mem.slice(addr, 4)
		if err != nil {
			return api.Value{}, err
		}
		return api.F32Bits(binary.LittleEndian.Uint32(b)), nil
	case wasm.OpF64Load:
		b, err := in.mem.slice(addr, 8)
		if err != nil {
			return api.Value{}, err
		}
		return api.F64Bits(binary.LittleEndian.Uint64(b)), nil
	case wasm.OpI32Load8S:
		b, err := in.mem.slice(addr, 1)
		if err != nil {
			return api.Value{}, err
		}
		return api.I32(uint32(int32(int8(b[0])))), nil
	case wasm.OpI32Load8U:
		b, err := in.mem.slice(addr, 1)
		if err != nil {
			return api.Value{}, err
		}
		return api.I32(uint32(b[0])), nil
	case wasm.OpI32Load16S:
		b, err := in.mem.slice(addr, 2)
		if err != nil {
			return api.Value{}, err
		}
		return api.I32(uint32(int32(int16(binary.LittleEndian.Uint16(b))))), nil
	case wasm.OpI32Load16U:
		b, err := in.mem.slice(addr, 2)
		if err != nil {
			return api.Value{}, err
		}
		return api.I32(uint32(binary.LittleEndian.Uint16(b))), nil
	case wasm.OpI64Load8S:
		b, err := in.mem.slice(addr, 1)
		if err != nil {
			return api.Value{}, err
		}
		return api.I64(uint64(int64(int8(b[0])))), nil
	case wasm.OpI64Load8U:
		b, err := in.mem.slice(addr, 1)
		if err != nil {
			return api.Value{}, err
		}
		return api.I64(uint64(b[0])), nil
	case wasm.OpI64Load16S:
		b, err := in.mem.slice(addr, 2)
		if err != nil {
			return api.Value{}, err
		}
		return api.I64(uint64(int64(int16(binary.LittleEndian.Uint16(b))))), nil
	case wasm.OpI64Load16U:
		b, err := in.mem.slice(addr, 2)
		if err != nil {
			return api.Value{}, err
		}
		return api.I64(uint64(binary.LittleEndian.Uint16(b))), nil
	case wasm.OpI64Load32S:
		b, err := in.mem.slice(addr, 4)
		if err != nil {
			return api.Value{}, err
		}
		return api.I64(uint64(int64(int32(binary.LittleEndian.Uint32(b))))), nil
	case wasm.OpI64Load32U:
		b, err := in.mem.slice(addr, 4)
		if err != nil {
			return api.Value{}, err
		}
		return api.I64(uint64(binary.LittleEndian.Uint32(b))), nil
	}
	return api.Value{}, fmt.Errorf("interp: unhandled load opcode %#x", op)
}

func (in *Interpreter) store(op wasm.Opcode, addr uint32, v api.Value) error {
	switch op {
	case wasm.OpI32Store:
		b, err := in.mem.slice(addr, 4)
		if err != nil {
			return err
		}
		binary.LittleEndian.PutUint32(b, v.I32())
		return nil
	case wasm.OpI64Store:
		b, err := in.mem.slice(addr, 8)
		if err != nil {
			return err
		}
		binary.LittleEndian.PutUint64(b, v.I64())
		return nil
	case wasm.OpF32Store:
		b, err := in.mem.slice(addr, 4)
		if err != nil {
			return err
		}
		binary.LittleEndian.PutUint32(b, uint32(v.Lo))
		return nil
	case wasm.OpF64Store:
		b, err := in.mem.slice(addr, 8)
		if err != nil {
			return err
		}
		binary.LittleEndian.PutUint64(b, v.Lo)
		return nil
	case wasm.OpI32Store8, wasm.OpI64Store8:
		b, err := in.mem.slice(addr, 1)
		if err != nil {
			return err
		}
		b[0] = byte(v.I64())
		return nil
	case wasm.OpI32Store16, wasm.OpI64Store16:
		b, err := in.mem.slice(addr, 2)
		if err != nil {
			return err
		}
		binary.LittleEndian.PutUint16(b, uint16(v.I64()))
		return nil
	case wasm.OpI64Store32:
		b, err := in.mem.slice(addr, 4)
		if err != nil {
			return err
		}
		binary.LittleEndian.PutUint32(b, uint32(v.I64()))
		return nil
	}
	return fmt.Errorf("interp: unhandled store opcode %#x", op)
}

func (in *Interpreter) numericOp(instr wasm.Instruction) (stepResult, error) {
	op := instr.Op
	if tag, width, ok := numOpTag(op); ok {
		return in.applyNumOp(tag, width, instr)
	}
	if out, in2, ok := convOpKinds(op); ok {
		return in.convert(op, out, in2)
	}
	return 0, fmt.Errorf("interp: unknown opcode %#x at %#x", op, instr.Pos)
}

type numWidth int

const (
	widthI32 numWidth = iota
	widthI64
	widthF32
	widthF64
)

func (in *Interpreter) applyNumOp(tag wasmOp, width numWidth, instr wasm.Instruction) (stepResult, error) {
	isUnary := isUnaryNumOp(instr.Op)
	if isUnary {
		a, err := in.PopValue()
		if err != nil {
			return 0, err
		}
		var r api.Value
		switch width {
		case widthI32:
			r, err = unopI32(tag, a)
		case widthI64:
			r, err = unopI64(tag, a)
		case widthF32:
			r, err = unopF32(tag, a)
		case widthF64:
			r, err = unopF64(tag, a)
		}
		if err != nil {
			return 0, err
		}
		return stepContinue, in.PushValue(r)
	}

	b, err := in.PopValue()
	if err != nil {
		return 0, err
	}
	a, err := in.PopValue()
	if err != nil {
		return 0, err
	}
	var r api.Value
	switch width {
	case widthI32:
		r, err = in.binopI32(tag, a, b)
	case widthI64:
		r, err = in.binopI64(tag, a, b)
	case widthF32:
		r, err = binopF32(tag, a, b)
	case widthF64:
		r, err = binopF64(tag, a, b)
	}
	if err != nil {
		return 0, err
	}
	return stepContinue, in.PushValue(r)
}

func (in *Interpreter) convert(op wasm.Opcode, out, src numWidth) (stepResult, error) {
	a, err := in.PopValue()
	if err != nil {
		return 0, err
	}
	var r api.Value
	switch op {
	case wasm.OpI32WrapI64:
		r = api.I32(uint32(a.I64()))
	case wasm.OpI64ExtendI32S:
		r = api.I64(uint64(int64(int32(a.I32()))))
	case wasm.OpI64ExtendI32U:
		r = api.I64(uint64(a.I32()))
	case wasm.OpI32TruncF32S, wasm.OpI32TruncF64S, wasm.OpI32TruncF32U, wasm.OpI32TruncF64U:
		var f float64
		if src == widthF32 {
			f = float64(f32(a))
		} else {
			f = f64(a)
		}
		signed := op == wasm.OpI32TruncF32S || op == wasm.OpI32TruncF64S
		v, terr := truncToI32(f, signed)
		if terr != nil {
			return 0, terr
		}
		r = api.I32(v)
	case wasm.OpI64TruncF32S, wasm.OpI64TruncF64S, wasm.OpI64TruncF32U, wasm.OpI64TruncF64U:
		var f float64
		if src == widthF32 {
			f = float64(f32(a))
		} else {
			f = f64(a)
		}
		signed := op == wasm.OpI64TruncF32S || op == wasm.OpI64TruncF64S
		v, terr := truncToI64(f, signed)
		if terr != nil {
			return 0, terr
		}
		r = api.I64(v)
	case wasm.OpF32ConvertI32S:
		r = api.F32Bits(math.Float32bits(float32(i32(a))))
	case wasm.OpF32ConvertI32U:
		r = api.F32Bits(math.Float32bits(float32(u32(a))))
	case wasm.OpF32ConvertI64S:
		r = api.F32Bits(math.Float32bits(float32(i64(a))))
	case wasm.OpF32ConvertI64U:
		r = api.F32Bits(math.Float32bits(float32(u64(a))))
	case wasm.OpF32DemoteF64:
		r = api.F32Bits(math.Float32bits(float32(f64(a))))
	case wasm.OpF64ConvertI32S:
		r = api.F64Bits(math.Float64bits(float64(i32(a))))
	case wasm.OpF64ConvertI32U:
		r = api.F64Bits(math.Float64bits(float64(u32(a))))
	case wasm.OpF64ConvertI64S:
		r = api.F64Bits(math.Float64bits(float64(i64(a))))
	case wasm.OpF64ConvertI64U:
		r = api.F64Bits(math.Float64bits(float64(u64(a))))
	case wasm.OpF64PromoteF32:
		r = api.F64Bits(math.Float64bits(float64(f32(a))))
	case wasm.OpI32ReinterpretF32:
		r = api.I32(uint32(a.Lo))
	case wasm.OpI64ReinterpretF64:
		r = api.I64(a.Lo)
	case wasm.OpF32ReinterpretI32:
		r = api.F32Bits(a.I32())
	case wasm.OpF64ReinterpretI64:
		r = api.F64Bits(a.I64())
	case wasm.OpI32Extend8S:
		r = mustUnop(unopI32(opExtend8S, a))
	case wasm.OpI32Extend16S:
		r = mustUnop(unopI32(opExtend16S, a))
	case wasm.OpI64Extend8S:
		r = mustUnop(unopI64(opExtend8S, a))
	case wasm.OpI64Extend16S:
		r = mustUnop(unopI64(opExtend16S, a))
	case wasm.OpI64Extend32S:
		r = mustUnop(unopI64(opExtend32S, a))
	default:
		return 0, fmt.Errorf("interp: unhandled conversion opcode %#x", op)
	}
	return stepContinue, in.PushValue(r)
}

// mustUnop is safe here: the sign-extension unops it wraps never return an
// error for the fixed (opExtend*, a) argument pairs convert() passes.
func mustUnop(v api.Value, err error) api.Value {
	if err != nil {
		panic(err)
	}
	return v
}
