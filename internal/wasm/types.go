// Package wasm implements the WebAssembly 1.0 module decoder: it parses a
// binary `.wasm` payload into an immutable Module. This is component B
// (module decoder) and part of component A (byte cursor/LEB128, see the
// sibling internal/cursor package) from the nostrscript design.
package wasm

import "github.com/damus-io/nostrscript/api"

// Limits describes a min/optional-max pair shared by table and memory
// types, in the units appropriate to the owner (table: refs; memory:
// 64KiB pages).
type Limits struct {
	Min    uint32
	Max    uint32
	HasMax bool
}

// FuncType is a function signature: ordered parameter and result value
// types. Types are not interned, so call_indirect treats two FuncTypes as
// the "same type" when their shapes match: Function.TypeMatches compares
// them with Equal, and two indices of Module.Types holding the same
// signature are interchangeable.
type FuncType struct {
	Params  []api.ValueType
	Results []api.ValueType
}

// Equal reports whether f and o have identical parameter and result shapes.
func (f *FuncType) Equal(o *FuncType) bool {
	if len(f.Params) != len(o.Params) || len(f.Results) != len(o.Results) {
		return false
	}
	for i := range f.Params {
		if f.Params[i] != o.Params[i] {
			return false
		}
	}
	for i := range f.Results {
		if f.Results[i] != o.Results[i] {
			return false
		}
	}
	return true
}

// ImportKind tags which descriptor an Import carries.
type ImportKind int

const (
	ImportFunc ImportKind = iota
	ImportTable
	ImportMemory
	ImportGlobal
)

// Import is one entry of the import section: a (module, field) name pair,
// a kind tag, and a kind-specific descriptor. FuncTypeIdx is meaningful
// only when Kind == ImportFunc; TableType/MemType/GlobalType likewise.
type Import struct {
	Module string
	Name   string
	Kind   ImportKind

	FuncTypeIdx uint32
	TableType   Table
	MemType     Limits
	GlobalType  GlobalType

	// ResolvedBuiltin is the index into the host's builtin name table this
	// import was matched against at decode time, or -1 if no registered
	// builtin carried the field name (a LinkError at instantiation time).
	ResolvedBuiltin int
}

// Table describes a table's element reference type and size limits.
type Table struct {
	RefType api.ValueType // api.ValueTypeFuncref or api.ValueTypeExternref
	Limits  Limits
}

// GlobalType describes a global's value type and mutability.
type GlobalType struct {
	ValType api.ValueType
	Mutable bool
}

// Global is one entry of the global section: its type and the constant
// expression that produces its initial value.
type Global struct {
	Type GlobalType
	Init Expr
}

// LocalGroup is a run-length-encoded group of same-typed local variables,
// as declared in a function body (WebAssembly groups locals by type to
// save space in the binary format).
type LocalGroup struct {
	Count uint32
	Type  api.ValueType
}

// Code is the decoded body of a locally-defined function: its raw
// instruction bytes (reparsed lazily by the expression parser during
// interpretation) and its declared local-variable groups.
type Code struct {
	Body       []byte
	Locals     []LocalGroup
	NumLocals  uint32 // sum of Locals' counts (not counting params)
}

// FunctionKind tags whether a Function is a host builtin or has a Code body.
type FunctionKind int

const (
	FunctionBuiltin FunctionKind = iota
	FunctionLocal
)

// Function is one entry of Module.Functions, the concatenation of imported
// functions followed by locally-defined functions. Kind
// distinguishes a host builtin (BuiltinIndex valid) from a module-defined
// function (Code valid).
type Function struct {
	TypeIdx uint32
	Name    string
	Kind    FunctionKind

	BuiltinIndex int // valid when Kind == FunctionBuiltin
	Code         Code // valid when Kind == FunctionLocal

	// Imported is true for the functions that form the import prefix of
	// Module.Functions; their index space is shared with local functions.
	Imported bool
}

// ElemMode tags an element segment's placement behavior.
type ElemMode int

const (
	ElemModePassive ElemMode = iota
	ElemModeActive
	ElemModeDeclarative
)

// Elem is one entry of the element section.
type Elem struct {
	Mode     ElemMode
	TableIdx uint32   // valid when Mode == ElemModeActive
	Offset   Expr     // valid when Mode == ElemModeActive
	RefType  api.ValueType
	Inits    []Expr // each evaluates to a single ref Value
}

// DataMode tags a data segment's placement behavior.
type DataMode int

const (
	DataModeActive DataMode = iota
	DataModePassive
)

// Data is one entry of the data section.
type Data struct {
	Mode     DataMode
	MemIdx   uint32 // valid when Mode == DataModeActive
	Offset   Expr   // valid when Mode == DataModeActive
	Bytes    []byte
}

// ExportKind mirrors ImportKind for the export section's descriptor tag.
type ExportKind = ImportKind

// Export maps a name to a (kind, index) pair into the corresponding index
// space (Functions, Tables, Memories, or Globals).
type Export struct {
	Name  string
	Kind  ExportKind
	Index uint32
}

// NameSection holds the optional "name" custom section: a module name and
// a function-index-to-name map. A locals-name map is tolerated during
// parsing (so well-formed binaries with one don't fail) but not retained.
type NameSection struct {
	ModuleName string
	FuncNames  map[uint32]string
}

// CustomSection is a non-"name" custom section kept verbatim.
type CustomSection struct {
	Name string
	Data []byte
}

// Module is the immutable result of decoding a `.wasm` binary. Its byte
// fields are sub-slices of the decoder's input rather than copies:
// Code.Body, every Expr (global initializers, element and data offsets,
// element inits), Data.Bytes and CustomSection.Data (safe since the input
// is never mutated by this package and the module takes logical ownership
// of it once decoding succeeds).
type Module struct {
	Types     []FuncType
	Imports   []Import
	Functions []Function // imported functions, then local functions
	Tables    []Table
	Memories  []Limits
	Globals   []Global
	Exports   []Export
	Start     int32 // -1 if absent
	Elements  []Elem
	Data      []Data

	Name    NameSection
	Customs []CustomSection

	// ImportedFuncCount is len(Imports) filtered to ImportFunc kind; it
	// marks the boundary in Functions between imported and local
	// functions, which share one index space.
	ImportedFuncCount uint32

	// ID is a content hash of the decoded bytes, a stable identity for
	// diagnostics. The compiled-module cache keys on its own hash, which
	// also covers the builtin name table.
	ID [32]byte
}

// FuncType returns the function type of Functions[idx], or nil if idx is
// out of range.
func (m *Module) FuncType(idx uint32) *FuncType {
	if int(idx) >= len(m.Functions) {
		return nil
	}
	ti := m.Functions[idx].TypeIdx
	if int(ti) >= len(m.Types) {
		return nil
	}
	return &m.Types[ti]
}

// TypeMatches reports whether f's declared type has the same shape as
// Types[typeIdx], the check call_indirect performs before invoking a
// table-resolved function.
func (f Function) TypeMatches(m *Module, typeIdx uint32) bool {
	if int(f.TypeIdx) >= len(m.Types) || int(typeIdx) >= len(m.Types) {
		return false
	}
	return m.Types[f.TypeIdx].Equal(&m.Types[typeIdx])
}

// ExportedFunc looks up an exported function by name, returning its
// Functions index and true on success.
func (m *Module) ExportedFunc(name string) (uint32, bool) {
	for _, e := range m.Exports {
		if e.Kind == ImportFunc && e.Name == name {
			return e.Index, true
		}
	}
	return 0, false
}
