package wasm

import (
	"fmt"

	"github.com/damus-io/nostrscript/api"
	"github.com/damus-io/nostrscript/internal/cursor"
)

func (d *decoder) parseCustomSection(size int) error {
	start := d.c.Pos()
	name, err := d.parseName()
	if err != nil {
		return err
	}
	consumed := d.c.Pos() - start
	data, err := d.c.PullBytes(size - consumed)
	if err != nil {
		return &ParseError{Pos: d.c.Pos(), Message: "custom section data"}
	}

	if name == "name" {
		return d.parseNameSubsections(data)
	}
	if len(d.m.Customs) < maxCustomSections {
		d.m.Customs = append(d.m.Customs, CustomSection{Name: name, Data: data})
	}
	return nil
}

func (d *decoder) parseNameSubsections(data []byte) error {
	d.m.Name.FuncNames = map[uint32]string{}
	nd := &decoder{c: cursor.New(data), m: d.m}
	c := nd.c
	for !c.EOF() {
		sub, err := c.PullByte()
		if err != nil {
			return nil // a malformed name section is tolerated, not fatal
		}
		n, err := c.DecodeUint32()
		if err != nil {
			return nil
		}
		subStart := c.Pos()
		switch sub {
		case nameSubsectionModule:
			name, err := nd.parseName()
			if err != nil {
				return nil
			}
			d.m.Name.ModuleName = name
		case nameSubsectionFuncs:
			count, err := c.DecodeUint32()
			if err != nil {
				return nil
			}
			for i := uint32(0); i < count; i++ {
				idx, err := c.DecodeUint32()
				if err != nil {
					return nil
				}
				name, err := nd.parseName()
				if err != nil {
					return nil
				}
				d.m.Name.FuncNames[idx] = name
			}
		default:
			// locals name map and any future subsection: skip, not retained.
		}
		if err := c.Seek(subStart + int(n)); err != nil {
			return nil
		}
	}
	return nil
}

func (d *decoder) parseName() (string, error) {
	n, err := d.c.DecodeUint32()
	if err != nil {
		return "", err
	}
	b, err := d.c.PullBytes(int(n))
	if err != nil {
		return "", &ParseError{Pos: d.c.Pos(), Message: "truncated name"}
	}
	return string(b), nil
}

func (d *decoder) parseValType() (api.ValueType, error) {
	b, err := d.c.PullByte()
	if err != nil {
		return 0, err
	}
	switch b {
	case api.ValueTypeI32, api.ValueTypeI64, api.ValueTypeF32, api.ValueTypeF64,
		api.ValueTypeFuncref, api.ValueTypeExternref:
		return b, nil
	}
	return 0, &ParseError{Pos: d.c.Pos() - 1, Message: fmt.Sprintf("invalid valtype byte %#x", b)}
}

func (d *decoder) parseLimits() (Limits, error) {
	tag, err := d.c.PullByte()
	if err != nil {
		return Limits{}, err
	}
	min, err := d.c.DecodeUint32()
	if err != nil {
		return Limits{}, err
	}
	l := Limits{Min: min}
	switch tag {
	case limitMinOnly:
	case limitMinMax:
		max, err := d.c.DecodeUint32()
		if err != nil {
			return Limits{}, err
		}
		l.Max, l.HasMax = max, true
	default:
		return Limits{}, &ParseError{Pos: d.c.Pos() - 1, Message: fmt.Sprintf("invalid limits tag %#x", tag)}
	}
	return l, nil
}

func (d *decoder) parseFuncType() (FuncType, error) {
	tag, err := d.c.PullByte()
	if err != nil {
		return FuncType{}, err
	}
	if tag != FuncTypeTag {
		return FuncType{}, &ParseError{Pos: d.c.Pos() - 1, Message: fmt.Sprintf("functype must start with 0x60, got %#x", tag)}
	}
	params, err := d.parseValTypeVec()
	if err != nil {
		return FuncType{}, err
	}
	results, err := d.parseValTypeVec()
	if err != nil {
		return FuncType{}, err
	}
	return FuncType{Params: params, Results: results}, nil
}

func (d *decoder) parseValTypeVec() ([]api.ValueType, error) {
	n, err := d.c.DecodeUint32()
	if err != nil {
		return nil, err
	}
	out := make([]api.ValueType, n)
	for i := range out {
		vt, err := d.parseValType()
		if err != nil {
			return nil, err
		}
		out[i] = vt
	}
	return out, nil
}

func (d *decoder) parseExpr() (Expr, error) {
	start := d.c.Pos()
	depth := 0
	for {
		in, err := ParseNext(d.c)
		if err != nil {
			return nil, err
		}
		switch in.Op {
		case OpBlock, OpLoop, OpIf:
			depth++
		case OpEnd:
			if depth == 0 {
				return Expr(d.c.Bytes()[start:d.c.Pos()]), nil
			}
			depth--
		}
	}
}

func (d *decoder) parseTypeSection() error {
	n, err := d.c.DecodeUint32()
	if err != nil {
		return err
	}
	d.m.Types = make([]FuncType, n)
	for i := range d.m.Types {
		ft, err := d.parseFuncType()
		if err != nil {
			return fmt.Errorf("type #%d: %w", i, err)
		}
		d.m.Types[i] = ft
	}
	return nil
}

func (d *decoder) parseImportSection() error {
	n, err := d.c.DecodeUint32()
	if err != nil {
		return err
	}
	d.m.Imports = make([]Import, n)
	for i := range d.m.Imports {
		modName, err := d.parseName()
		if err != nil {
			return err
		}
		fieldName, err := d.parseName()
		if err != nil {
			return err
		}
		kindTag, err := d.c.PullByte()
		if err != nil {
			return err
		}
		imp := Import{Module: modName, Name: fieldName, ResolvedBuiltin: -1}
		switch kindTag {
		case descFunc:
			imp.Kind = ImportFunc
			ti, err := d.c.DecodeUint32()
			if err != nil {
				return err
			}
			imp.FuncTypeIdx = ti
		case descTable:
			imp.Kind = ImportTable
			rt, err := d.parseValType()
			if err != nil || !api.IsRefType(rt) {
				return &ParseError{Pos: d.c.Pos(), Message: "import table reftype must be funcref/externref"}
			}
			lim, err := d.parseLimits()
			if err != nil {
				return err
			}
			imp.TableType = Table{RefType: rt, Limits: lim}
		case descMemory:
			imp.Kind = ImportMemory
			lim, err := d.parseLimits()
			if err != nil {
				return err
			}
			imp.MemType = lim
		case descGlobal:
			imp.Kind = ImportGlobal
			vt, err := d.parseValType()
			if err != nil {
				return err
			}
			mut, err := d.c.PullByte()
			if err != nil {
				return err
			}
			imp.GlobalType = GlobalType{ValType: vt, Mutable: mut == mutVar}
		default:
			return &ParseError{Pos: d.c.Pos() - 1, Message: fmt.Sprintf("invalid import kind %#x", kindTag)}
		}
		d.m.Imports[i] = imp
	}
	return nil
}

func (d *decoder) parseFunctionSection() error {
	n, err := d.c.DecodeUint32()
	if err != nil {
		return err
	}
	d.funcTypeIdx = make([]uint32, n)
	for i := range d.funcTypeIdx {
		ti, err := d.c.DecodeUint32()
		if err != nil {
			return err
		}
		d.funcTypeIdx[i] = ti
	}
	return nil
}

func (d *decoder) parseTableSection() error {
	n, err := d.c.DecodeUint32()
	if err != nil {
		return err
	}
	d.m.Tables = make([]Table, n)
	for i := range d.m.Tables {
		rt, err := d.parseValType()
		if err != nil || !api.IsRefType(rt) {
			return &ParseError{Pos: d.c.Pos(), Message: "table reftype must be funcref/externref"}
		}
		lim, err := d.parseLimits()
		if err != nil {
			return err
		}
		d.m.Tables[i] = Table{RefType: rt, Limits: lim}
	}
	return nil
}

func (d *decoder) parseMemorySection() error {
	n, err := d.c.DecodeUint32()
	if err != nil {
		return err
	}
	d.m.Memories = make([]Limits, n)
	for i := range d.m.Memories {
		lim, err := d.parseLimits()
		if err != nil {
			return err
		}
		d.m.Memories[i] = lim
	}
	return nil
}

func (d *decoder) parseGlobalSection() error {
	n, err := d.c.DecodeUint32()
	if err != nil {
		return err
	}
	d.m.Globals = make([]Global, n)
	for i := range d.m.Globals {
		vt, err := d.parseValType()
		if err != nil {
			return err
		}
		mut, err := d.c.PullByte()
		if err != nil {
			return err
		}
		init, err := d.parseExpr()
		if err != nil {
			return err
		}
		d.m.Globals[i] = Global{Type: GlobalType{ValType: vt, Mutable: mut == mutVar}, Init: init}
	}
	return nil
}

func (d *decoder) parseExportSection() error {
	n, err := d.c.DecodeUint32()
	if err != nil {
		return err
	}
	d.m.Exports = make([]Export, n)
	for i := range d.m.Exports {
		name, err := d.parseName()
		if err != nil {
			return err
		}
		kindTag, err := d.c.PullByte()
		if err != nil {
			return err
		}
		idx, err := d.c.DecodeUint32()
		if err != nil {
			return err
		}
		var kind ExportKind
		switch kindTag {
		case descFunc:
			kind = ImportFunc
		case descTable:
			kind = ImportTable
		case descMemory:
			kind = ImportMemory
		case descGlobal:
			kind = ImportGlobal
		default:
			return &ParseError{Pos: d.c.Pos() - 1, Message: fmt.Sprintf("invalid export kind %#x", kindTag)}
		}
		d.m.Exports[i] = Export{Name: name, Kind: kind, Index: idx}
	}
	return nil
}

func (d *decoder) parseStartSection() error {
	idx, err := d.c.DecodeUint32()
	if err != nil {
		return err
	}
	d.m.Start = int32(idx)
	return nil
}

func (d *decoder) parseElementSection() error {
	n, err := d.c.DecodeUint32()
	if err != nil {
		return err
	}
	d.m.Elements = make([]Elem, n)
	for i := range d.m.Elements {
		e, err := d.parseElem()
		if err != nil {
			return fmt.Errorf("element #%d: %w", i, err)
		}
		d.m.Elements[i] = e
	}
	return nil
}

// parseElem supports the full set of element segment encodings (flags
// 0-7) introduced alongside bulk-memory-ops.
func (d *decoder) parseElem() (Elem, error) {
	flags, err := d.c.DecodeUint32()
	if err != nil {
		return Elem{}, err
	}
	e := Elem{RefType: api.ValueTypeFuncref}
	switch flags {
	case 0:
		off, err := d.parseExpr()
		if err != nil {
			return Elem{}, err
		}
		idxs, err := d.parseU32Vec()
		if err != nil {
			return Elem{}, err
		}
		e.Mode, e.Offset = ElemModeActive, off
		e.Inits = refIdxsToInits(idxs)
	case 1:
		if err := d.consumeElemKind(); err != nil {
			return Elem{}, err
		}
		idxs, err := d.parseU32Vec()
		if err != nil {
			return Elem{}, err
		}
		e.Mode = ElemModePassive
		e.Inits = refIdxsToInits(idxs)
	case 2:
		ti, err := d.c.DecodeUint32()
		if err != nil {
			return Elem{}, err
		}
		off, err := d.parseExpr()
		if err != nil {
			return Elem{}, err
		}
		if err := d.consumeElemKind(); err != nil {
			return Elem{}, err
		}
		idxs, err := d.parseU32Vec()
		if err != nil {
			return Elem{}, err
		}
		e.Mode, e.TableIdx, e.Offset = ElemModeActive, ti, off
		e.Inits = refIdxsToInits(idxs)
	case 3:
		if err := d.consumeElemKind(); err != nil {
			return Elem{}, err
		}
		idxs, err := d.parseU32Vec()
		if err != nil {
			return Elem{}, err
		}
		e.Mode = ElemModeDeclarative
		e.Inits = refIdxsToInits(idxs)
	case 4:
		off, err := d.parseExpr()
		if err != nil {
			return Elem{}, err
		}
		inits, err := d.parseExprVec()
		if err != nil {
			return Elem{}, err
		}
		e.Mode, e.Offset, e.Inits = ElemModeActive, off, inits
	case 5:
		rt, err := d.parseValType()
		if err != nil {
			return Elem{}, err
		}
		inits, err := d.parseExprVec()
		if err != nil {
			return Elem{}, err
		}
		e.Mode, e.RefType, e.Inits = ElemModePassive, rt, inits
	case 6:
		ti, err := d.c.DecodeUint32()
		if err != nil {
			return Elem{}, err
		}
		off, err := d.parseExpr()
		if err != nil {
			return Elem{}, err
		}
		rt, err := d.parseValType()
		if err != nil {
			return Elem{}, err
		}
		inits, err := d.parseExprVec()
		if err != nil {
			return Elem{}, err
		}
		e.Mode, e.TableIdx, e.Offset, e.RefType, e.Inits = ElemModeActive, ti, off, rt, inits
	case 7:
		rt, err := d.parseValType()
		if err != nil {
			return Elem{}, err
		}
		inits, err := d.parseExprVec()
		if err != nil {
			return Elem{}, err
		}
		e.Mode, e.RefType, e.Inits = ElemModeDeclarative, rt, inits
	default:
		return Elem{}, &ParseError{Pos: d.c.Pos(), Message: fmt.Sprintf("invalid element segment flags %d", flags)}
	}
	return e, nil
}

func (d *decoder) consumeElemKind() error {
	b, err := d.c.PullByte()
	if err != nil {
		return err
	}
	if b != 0x00 {
		return &ParseError{Pos: d.c.Pos() - 1, Message: fmt.Sprintf("invalid elemkind %#x, only funcref (0x00) is defined", b)}
	}
	return nil
}

func (d *decoder) parseU32Vec() ([]uint32, error) {
	n, err := d.c.DecodeUint32()
	if err != nil {
		return nil, err
	}
	out := make([]uint32, n)
	for i := range out {
		v, err := d.c.DecodeUint32()
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func (d *decoder) parseExprVec() ([]Expr, error) {
	n, err := d.c.DecodeUint32()
	if err != nil {
		return nil, err
	}
	out := make([]Expr, n)
	for i := range out {
		e, err := d.parseExpr()
		if err != nil {
			return nil, err
		}
		out[i] = e
	}
	return out, nil
}

func refIdxsToInits(idxs []uint32) []Expr {
	out := make([]Expr, len(idxs))
	for i, idx := range idxs {
		// Synthesize a one-instruction ref.func const expr so later
		// evaluation (internal/interp) has a single uniform Expr shape
		// regardless of which element-segment encoding produced it.
		buf := []byte{OpRefFunc}
		buf = appendU32(buf, idx)
		buf = append(buf, OpEnd)
		out[i] = Expr(buf)
	}
	return out
}

func appendU32(buf []byte, v uint32) []byte {
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if v == 0 {
			return append(buf, b)
		}
		buf = append(buf, b|0x80)
	}
}

func (d *decoder) parseCodeSection() error {
	n, err := d.c.DecodeUint32()
	if err != nil {
		return err
	}
	d.code = make([]Code, n)
	for i := range d.code {
		size, err := d.c.DecodeUint32()
		if err != nil {
			return err
		}
		start := d.c.Pos()
		locals, numLocals, err := d.parseLocals()
		if err != nil {
			return err
		}
		bodyStart := d.c.Pos()
		body, err := d.parseExpr()
		if err != nil {
			return fmt.Errorf("code #%d body: %w", i, err)
		}
		_ = bodyStart
		if d.c.Pos()-start != int(size) {
			return &ParseError{Pos: start, Message: fmt.Sprintf("code #%d: declared size %d, consumed %d", i, size, d.c.Pos()-start)}
		}
		d.code[i] = Code{Body: body, Locals: locals, NumLocals: numLocals}
	}
	return nil
}

func (d *decoder) parseLocals() ([]LocalGroup, uint32, error) {
	n, err := d.c.DecodeUint32()
	if err != nil {
		return nil, 0, err
	}
	groups := make([]LocalGroup, n)
	var total uint32
	for i := range groups {
		count, err := d.c.DecodeUint32()
		if err != nil {
			return nil, 0, err
		}
		vt, err := d.parseValType()
		if err != nil {
			return nil, 0, err
		}
		groups[i] = LocalGroup{Count: count, Type: vt}
		total += count
	}
	return groups, total, nil
}

func (d *decoder) parseDataSection() error {
	n, err := d.c.DecodeUint32()
	if err != nil {
		return err
	}
	d.m.Data = make([]Data, n)
	for i := range d.m.Data {
		dat, err := d.parseData()
		if err != nil {
			return fmt.Errorf("data #%d: %w", i, err)
		}
		d.m.Data[i] = dat
	}
	return nil
}

func (d *decoder) parseData() (Data, error) {
	mode, err := d.c.DecodeUint32()
	if err != nil {
		return Data{}, err
	}
	var dat Data
	switch mode {
	case 0:
		off, err := d.parseExpr()
		if err != nil {
			return Data{}, err
		}
		dat.Mode, dat.Offset = DataModeActive, off
	case 1:
		dat.Mode = DataModePassive
	case 2:
		memIdx, err := d.c.DecodeUint32()
		if err != nil {
			return Data{}, err
		}
		off, err := d.parseExpr()
		if err != nil {
			return Data{}, err
		}
		dat.Mode, dat.MemIdx, dat.Offset = DataModeActive, memIdx, off
	default:
		return Data{}, &ParseError{Pos: d.c.Pos(), Message: fmt.Sprintf("invalid data segment mode %d", mode)}
	}
	n, err := d.c.DecodeUint32()
	if err != nil {
		return Data{}, err
	}
	b, err := d.c.PullBytes(int(n))
	if err != nil {
		return Data{}, err
	}
	dat.Bytes = b
	return dat, nil
}

func (d *decoder) parseDataCountSection() error {
	_, err := d.c.DecodeUint32()
	return err
}
