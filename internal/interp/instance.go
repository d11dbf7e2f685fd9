package interp

import (
	"context"
	"fmt"

	"github.com/damus-io/nostrscript/api"
	"github.com/damus-io/nostrscript/internal/wasm"
)

// Instantiate builds an Interpreter from a decoded module and a host's
// builtin table, performing instantiation in dependency order: linear
// memory and tables are allocated first (so later steps have somewhere to
// write), then globals (whose const-expr initializers may reference
// earlier globals via global.get), then active element segments (which
// may themselves reference globals in their offset expression and write
// into the now-allocated tables), then active data segments (written into
// memory). Instantiate never invokes the guest itself — entry-point
// resolution and the first call frame are Run's job, so a host can
// allocate once and drive execution separately.
//
// Import-to-builtin resolution happens at decode time (wasm.Decode takes
// the builtin name table); Instantiate only verifies the result (see
// checkImports), so it never writes into the Module — a decoded module,
// including one shared through the compiled-module cache, is read-only
// from every interpreter's point of view. A module with an unresolved
// import fails instantiation with a *LinkError rather than deferring the
// failure to first call.
//
// NewInterpreter decodes no bytes itself (see wasm.Decode for that): it
// takes an already-decoded Module and instantiates it. Builtins are
// supplied via WithBuiltins among opts, in the same index order as the
// name table the module was decoded with (see BuiltinNames).
func NewInterpreter(ctx context.Context, m *wasm.Module, opts ...Option) (*Interpreter, error) {
	return Instantiate(ctx, m, opts...)
}

// Instantiate is the explicit, non-aliased form of NewInterpreter, kept
// for callers (and tests) that prefer to name the instantiation step
// separately from "construct an interpreter value".
func Instantiate(ctx context.Context, m *wasm.Module, opts ...Option) (*Interpreter, error) {
	cfg := defaultConfig()
	for _, o := range opts {
		o(cfg)
	}

	// Functions is indexed positionally; builtins[i]'s index IS i, so a
	// host using WithHostTableDispatch can rely on that position being
	// stable (unlike a map, whose iteration order Go deliberately
	// randomizes).
	flat := make([]Builtin, len(cfg.builtins))
	for i, b := range cfg.builtins {
		flat[i] = b.Fn
	}

	in := &Interpreter{
		module:   m,
		builtins: flat,
		cfg:      cfg,
		labels:   newLabelCache(cfg.labelTableSize),
	}

	if err := checkImports(m, len(flat)); err != nil {
		return nil, err
	}

	if err := in.initMemory(); err != nil {
		return nil, err
	}
	if err := in.initTables(); err != nil {
		return nil, err
	}
	if err := in.initGlobals(); err != nil {
		return nil, err
	}
	if err := in.initElements(); err != nil {
		return nil, err
	}
	if err := in.initData(); err != nil {
		return nil, err
	}

	return in, nil
}

// Reset restores an Interpreter to its just-instantiated state: linear
// memory, tables, globals, elements, and data segments are rebuilt from
// the module exactly as Instantiate built them the first time, the value
// and call-frame stacks and the error ring are cleared, and any pending
// suspension is dropped. The per-function label cache is deliberately NOT
// cleared: a label is a pure
// function of the code bytes at a given position, so it stays valid
// across any number of Reset calls and re-resolving it would only waste
// the amortized cost the cache exists to avoid.
func (in *Interpreter) Reset() error {
	if err := in.initMemory(); err != nil {
		return err
	}
	if err := in.initTables(); err != nil {
		return err
	}
	if err := in.initGlobals(); err != nil {
		return err
	}
	if err := in.initElements(); err != nil {
		return err
	}
	if err := in.initData(); err != nil {
		return err
	}

	in.stack = nil
	in.frames = nil
	in.errs = wasm.ErrorRing{}
	in.ops = 0
	in.quitting = false
	in.exitCode = 0
	in.suspended = false
	return nil
}

// NamedBuiltin pairs a host function with the field name a module's
// import section must request it under. Name matching ignores the
// import's module name (nostrscript's host ABI is a flat namespace, not
// WASI's per-module one; the wasi_snapshot_preview1 builtins are likewise
// registered under their bare field names, such as "proc_exit").
type NamedBuiltin struct {
	Name string
	Fn   Builtin
}

// BuiltinNames projects a builtin table onto the name list wasm.Decode
// resolves imports against, in the same index order dispatch uses.
func BuiltinNames(builtins []NamedBuiltin) []string {
	names := make([]string, len(builtins))
	for i, b := range builtins {
		names[i] = b.Name
	}
	return names
}

// checkImports verifies every function import was matched to a builtin at
// decode time and that its recorded index fits this instance's builtin
// table. It reads the Module but never writes it, so modules shared
// across instances (e.g. out of the compiled-module cache) stay pristine.
func checkImports(m *wasm.Module, numBuiltins int) error {
	funcImportIdx := 0
	for _, imp := range m.Imports {
		if imp.Kind != wasm.ImportFunc {
			continue
		}
		bi := m.Functions[funcImportIdx].BuiltinIndex
		if bi < 0 || bi >= numBuiltins {
			return &LinkError{Module: imp.Module, Name: imp.Name}
		}
		funcImportIdx++
	}
	return nil
}

func (in *Interpreter) initMemory() error {
	if len(in.module.Memories) == 0 {
		in.mem = newLinearMemory(0, 0, in.cfg.nullPageGuard)
		return nil
	}
	if len(in.module.Memories) > 1 {
		return fmt.Errorf("interp: multiple memories are not supported (WebAssembly 1.0 permits at most one)")
	}
	lim := in.module.Memories[0]
	max := lim.Max
	if !lim.HasMax || max > in.cfg.memoryMaxPages {
		max = in.cfg.memoryMaxPages
	}
	in.mem = newLinearMemory(lim.Min, max, in.cfg.nullPageGuard)
	if in.cfg.metrics != nil {
		in.cfg.metrics.setMemoryPages(in.mem.pages())
	}
	return nil
}

func (in *Interpreter) initTables() error {
	in.tables = make([]*tableInstance, len(in.module.Tables))
	for i, t := range in.module.Tables {
		in.tables[i] = newTableInstance(tableInstanceDesc{
			refType: t.RefType,
			min:     t.Limits.Min,
			max:     t.Limits.Max,
			hasMax:  t.Limits.HasMax,
		})
	}
	return nil
}

func (in *Interpreter) initGlobals() error {
	in.globals = make([]*globalInstance, len(in.module.Globals))
	values := make([]api.Value, 0, len(in.module.Globals))
	for i, g := range in.module.Globals {
		v, err := wasm.EvalConstExpr(g.Init, values)
		if err != nil {
			return fmt.Errorf("global #%d: %w", i, err)
		}
		in.globals[i] = &globalInstance{Value: v, Mutable: g.Type.Mutable}
		values = append(values, v)
	}
	return nil
}

func (in *Interpreter) globalValues() []api.Value {
	vs := make([]api.Value, len(in.globals))
	for i, g := range in.globals {
		vs[i] = g.Value
	}
	return vs
}

func (in *Interpreter) initElements() error {
	in.elements = make([]*elementInstance, len(in.module.Elements))
	gv := in.globalValues()
	for i, e := range in.module.Elements {
		refs := make([]api.Value, len(e.Inits))
		for j, initExpr := range e.Inits {
			v, err := wasm.EvalConstExpr(initExpr, gv)
			if err != nil {
				return fmt.Errorf("element #%d init #%d: %w", i, j, err)
			}
			refs[j] = v
		}
		in.elements[i] = &elementInstance{refs: refs}

		switch e.Mode {
		case wasm.ElemModeActive:
			off, err := wasm.EvalConstExpr(e.Offset, gv)
			if err != nil {
				return fmt.Errorf("element #%d offset: %w", i, err)
			}
			if int(e.TableIdx) >= len(in.tables) {
				return fmt.Errorf("element #%d: table %d does not exist", i, e.TableIdx)
			}
			t := in.tables[e.TableIdx]
			base := off.I32()
			for j, v := range refs {
				if err := t.set(base+uint32(j), v); err != nil {
					return fmt.Errorf("element #%d: %w", i, err)
				}
			}
			in.elements[i].dropped = true // active segments behave as already-dropped for table.init
			in.elements[i].refs = nil
		case wasm.ElemModeDeclarative:
			in.elements[i].dropped = true
			in.elements[i].refs = nil
		}
	}
	return nil
}

func (in *Interpreter) initData() error {
	in.datas = make([][]byte, len(in.module.Data))
	gv := in.globalValues()
	for i, d := range in.module.Data {
		buf := make([]byte, len(d.Bytes))
		copy(buf, d.Bytes)
		in.datas[i] = buf

		if d.Mode == wasm.DataModeActive {
			off, err := wasm.EvalConstExpr(d.Offset, gv)
			if err != nil {
				return fmt.Errorf("data #%d offset: %w", i, err)
			}
			if err := in.mem.initWrite(off.I32(), buf); err != nil {
				return fmt.Errorf("data #%d: %w", i, err)
			}
			in.datas[i] = nil // active segments are consumed at instantiation time
		}
	}
	return nil
}
