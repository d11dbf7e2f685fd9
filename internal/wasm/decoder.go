package wasm

import (
	"crypto/sha256"
	"fmt"

	"github.com/damus-io/nostrscript/internal/cursor"
)

var wasmMagic = []byte{0x00, 0x61, 0x73, 0x6d}
var wasmVersion = []byte{0x01, 0x00, 0x00, 0x00}

// maxCustomSections bounds the number of distinct custom sections kept.
const maxCustomSections = 32

// Decode parses a complete binary WebAssembly module. builtins is the
// host's registered builtin name table, in dispatch-index order: each
// function import's field name is matched against it (linear search) as
// the function lookup table is built, and the resolved index is recorded
// on the Function and Import records. An import with no match stays
// unresolved (index -1); that only becomes an error at instantiation,
// when an interpreter actually needs to dispatch it. The decoded Module
// is immutable from here on, so one Decode result is safe to share
// across any number of interpreter instances built with the same
// builtin table.
func Decode(data []byte, builtins []string) (*Module, error) {
	c := cursor.New(data)
	if err := c.Consume(wasmMagic); err != nil {
		return nil, &ParseError{Pos: c.Pos(), Message: "bad magic, not a wasm module"}
	}
	if err := c.Consume(wasmVersion); err != nil {
		return nil, &ParseError{Pos: c.Pos(), Message: "unsupported wasm version, only 1.0 (MVP) is supported"}
	}

	m := &Module{Start: -1}
	d := &decoder{c: c, m: m, builtins: builtins}

	var lastTag int = -1
	dataCountSeen := false
	for !c.EOF() {
		tagPos := c.Pos()
		tag, err := c.PullByte()
		if err != nil {
			return nil, err
		}
		size, err := c.DecodeUint32()
		if err != nil {
			return nil, &ParseError{Pos: c.Pos(), Message: "bad section size"}
		}
		sectionStart := c.Pos()

		if tag != SectionCustom {
			if int(tag) <= lastTag {
				return nil, &ParseError{Pos: tagPos, Message: fmt.Sprintf("section %d out of order", tag)}
			}
			lastTag = int(tag)
		}

		if err := d.section(tag, int(size)); err != nil {
			return nil, err
		}

		got := c.Pos() - sectionStart
		if got != int(size) {
			return nil, &ParseError{Pos: sectionStart, Message: fmt.Sprintf("section %d: declared size %d, consumed %d", tag, size, got)}
		}
		if tag == SectionDataCount {
			dataCountSeen = true
		}
	}
	_ = dataCountSeen // reserved for a future data-count/code cross-check

	if err := d.buildFunctionIndexSpace(); err != nil {
		return nil, err
	}
	if err := d.buildNameMap(); err != nil {
		return nil, err
	}

	m.ID = sha256.Sum256(data)
	return m, nil
}

// decoder carries the in-progress Module plus section-local scratch state
// that the final assembly pass (buildFunctionIndexSpace) needs.
type decoder struct {
	c        *cursor.Cursor
	m        *Module
	builtins []string // host builtin names, in dispatch-index order

	funcTypeIdx []uint32 // from the function section, parallel to code bodies
	code        []Code   // from the code section
}

func (d *decoder) section(tag SectionTag, size int) error {
	switch tag {
	case SectionCustom:
		return d.parseCustomSection(size)
	case SectionType:
		return d.parseTypeSection()
	case SectionImport:
		return d.parseImportSection()
	case SectionFunction:
		return d.parseFunctionSection()
	case SectionTable:
		return d.parseTableSection()
	case SectionMemory:
		return d.parseMemorySection()
	case SectionGlobal:
		return d.parseGlobalSection()
	case SectionExport:
		return d.parseExportSection()
	case SectionStart:
		return d.parseStartSection()
	case SectionElement:
		return d.parseElementSection()
	case SectionCode:
		return d.parseCodeSection()
	case SectionData:
		return d.parseDataSection()
	case SectionDataCount:
		return d.parseDataCountSection()
	default:
		return &ParseError{Pos: d.c.Pos(), Message: fmt.Sprintf("unknown section tag %d", tag)}
	}
}

// buildFunctionIndexSpace concatenates imported functions with locally
// defined ones into Module.Functions: the function index space is shared
// across both groups, imports first.
func (d *decoder) buildFunctionIndexSpace() error {
	m := d.m
	if len(d.funcTypeIdx) != len(d.code) {
		return &ParseError{Pos: 0, Message: fmt.Sprintf("function section declares %d functions but code section has %d bodies", len(d.funcTypeIdx), len(d.code))}
	}

	for i := range m.Imports {
		imp := &m.Imports[i]
		if imp.Kind != ImportFunc {
			continue
		}
		imp.ResolvedBuiltin = d.findBuiltin(imp.Name)
		m.Functions = append(m.Functions, Function{
			TypeIdx:      imp.FuncTypeIdx,
			Name:         imp.Name,
			Kind:         FunctionBuiltin,
			Imported:     true,
			BuiltinIndex: imp.ResolvedBuiltin,
		})
		m.ImportedFuncCount++
	}

	for i, ti := range d.funcTypeIdx {
		m.Functions = append(m.Functions, Function{
			TypeIdx: ti,
			Kind:    FunctionLocal,
			Code:    d.code[i],
		})
	}

	for _, ti := range d.funcTypeIdx {
		if int(ti) >= len(m.Types) {
			return &ParseError{Pos: 0, Message: fmt.Sprintf("function type index %d out of range", ti)}
		}
	}

	return nil
}

// findBuiltin matches an import's field name against the registered
// builtin names, returning its dispatch index or -1 when absent.
func (d *decoder) findBuiltin(name string) int {
	for i, b := range d.builtins {
		if b == name {
			return i
		}
	}
	return -1
}

func (d *decoder) buildNameMap() error {
	for fi, name := range d.m.Name.FuncNames {
		if int(fi) < len(d.m.Functions) {
			d.m.Functions[fi].Name = name
		}
	}
	return nil
}
