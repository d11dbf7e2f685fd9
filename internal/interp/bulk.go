package interp

import (
	"fmt"

	"github.com/damus-io/nostrscript/api"
	"github.com/damus-io/nostrscript/internal/wasm"
)

// bulk dispatches the 0xFC-prefixed bulk-memory-operations/reference-types
// instruction family: table.init/copy/grow/size/fill and elem.drop on the
// table side, memory.init/copy/fill and data.drop on the memory side.
func (in *Interpreter) bulk(instr wasm.Instruction) (stepResult, error) {
	switch instr.BulkOp {
	case wasm.BulkMemoryInit:
		return in.memoryInit(instr.U32)
	case wasm.BulkDataDrop:
		return in.dataDrop(instr.U32)
	case wasm.BulkMemoryCopy:
		return in.memoryCopy()
	case wasm.BulkMemoryFill:
		return in.memoryFill()
	case wasm.BulkTableInit:
		return in.tableInit(instr.U32, instr.U32b)
	case wasm.BulkElemDrop:
		return in.elemDrop(instr.U32)
	case wasm.BulkTableCopy:
		return in.tableCopy(instr.U32, instr.U32b)
	case wasm.BulkTableGrow:
		return in.tableGrow(instr.U32)
	case wasm.BulkTableSize:
		return in.tableSize(instr.U32)
	case wasm.BulkTableFill:
		return in.tableFill(instr.U32)
	}
	return 0, fmt.Errorf("interp: unhandled bulk op %d", instr.BulkOp)
}

func (in *Interpreter) popThreeI32() (dst, src, n uint32, err error) {
	nv, err := in.PopValue()
	if err != nil {
		return 0, 0, 0, err
	}
	sv, err := in.PopValue()
	if err != nil {
		return 0, 0, 0, err
	}
	dv, err := in.PopValue()
	if err != nil {
		return 0, 0, 0, err
	}
	return dv.I32(), sv.I32(), nv.I32(), nil
}

func (in *Interpreter) memoryInit(dataIdx uint32) (stepResult, error) {
	dst, src, n, err := in.popThreeI32()
	if err != nil {
		return 0, err
	}
	if int(dataIdx) >= len(in.datas) || in.datas[dataIdx] == nil {
		if n == 0 {
			return stepContinue, nil
		}
		return 0, fmt.Errorf("%w: memory.init from dropped/invalid data segment %d", ErrTrap, dataIdx)
	}
	data := in.datas[dataIdx]
	if uint64(src)+uint64(n) > uint64(len(data)) {
		return 0, fmt.Errorf("%w: memory.init source out of bounds", ErrTrap)
	}
	dstSlice, err := in.mem.slice(dst, n)
	if err != nil {
		return 0, err
	}
	copy(dstSlice, data[src:src+n])
	return stepContinue, nil
}

func (in *Interpreter) dataDrop(idx uint32) (stepResult, error) {
	if int(idx) < len(in.datas) {
		in.datas[idx] = nil
	}
	return stepContinue, nil
}

func (in *Interpreter) memoryCopy() (stepResult, error) {
	dst, src, n, err := in.popThreeI32()
	if err != nil {
		return 0, err
	}
	// check the destination first so an oversized copy reports the
	// out-of-range write rather than the read.
	dstSlice, err := in.mem.slice(dst, n)
	if err != nil {
		return 0, err
	}
	srcSlice, err := in.mem.slice(src, n)
	if err != nil {
		return 0, err
	}
	copy(dstSlice, srcSlice) // Go's copy is memmove-safe for overlap
	return stepContinue, nil
}

func (in *Interpreter) memoryFill() (stepResult, error) {
	nv, err := in.PopValue()
	if err != nil {
		return 0, err
	}
	valv, err := in.PopValue()
	if err != nil {
		return 0, err
	}
	dstv, err := in.PopValue()
	if err != nil {
		return 0, err
	}
	n := nv.I32()
	dstSlice, err := in.mem.slice(dstv.I32(), n)
	if err != nil {
		return 0, err
	}
	b := byte(valv.I32())
	for i := range dstSlice {
		dstSlice[i] = b
	}
	return stepContinue, nil
}

func (in *Interpreter) tableInit(elemIdx, tableIdx uint32) (stepResult, error) {
	dst, src, n, err := in.popThreeI32()
	if err != nil {
		return 0, err
	}
	if int(elemIdx) >= len(in.elements) {
		return 0, fmt.Errorf("%w: table.init invalid element segment %d", ErrTrap, elemIdx)
	}
	elem := in.elements[elemIdx]
	if elem.dropped {
		if n == 0 {
			return stepContinue, nil
		}
		return 0, fmt.Errorf("%w: table.init from dropped element segment %d", ErrTrap, elemIdx)
	}
	if uint64(src)+uint64(n) > uint64(len(elem.refs)) {
		return 0, fmt.Errorf("%w: table.init source out of bounds", ErrTrap)
	}
	t, err := in.table(tableIdx)
	if err != nil {
		return 0, err
	}
	for i := uint32(0); i < n; i++ {
		if err := t.set(dst+i, elem.refs[src+i]); err != nil {
			return 0, err
		}
	}
	return stepContinue, nil
}

func (in *Interpreter) elemDrop(idx uint32) (stepResult, error) {
	if int(idx) < len(in.elements) {
		in.elements[idx].refs = nil
		in.elements[idx].dropped = true
	}
	return stepContinue, nil
}

func (in *Interpreter) tableCopy(dstTable, srcTable uint32) (stepResult, error) {
	dst, src, n, err := in.popThreeI32()
	if err != nil {
		return 0, err
	}
	s, err := in.table(srcTable)
	if err != nil {
		return 0, err
	}
	d, err := in.table(dstTable)
	if err != nil {
		return 0, err
	}
	if uint64(src)+uint64(n) > uint64(s.size()) || uint64(dst)+uint64(n) > uint64(d.size()) {
		return 0, fmt.Errorf("%w: table.copy out of bounds", ErrTrap)
	}
	tmp := make([]api.Value, n)
	for i := uint32(0); i < n; i++ {
		tmp[i] = s.refs[src+i]
	}
	for i := uint32(0); i < n; i++ {
		d.refs[dst+i] = tmp[i]
	}
	return stepContinue, nil
}

func (in *Interpreter) tableGrow(tableIdx uint32) (stepResult, error) {
	t, err := in.table(tableIdx)
	if err != nil {
		return 0, err
	}
	nv, err := in.PopValue()
	if err != nil {
		return 0, err
	}
	fill, err := in.PopValue()
	if err != nil {
		return 0, err
	}
	prev := t.grow(nv.I32(), fill)
	return stepContinue, in.PushValue(api.I32(uint32(prev)))
}

func (in *Interpreter) tableSize(tableIdx uint32) (stepResult, error) {
	t, err := in.table(tableIdx)
	if err != nil {
		return 0, err
	}
	return stepContinue, in.PushValue(api.I32(t.size()))
}

func (in *Interpreter) tableFill(tableIdx uint32) (stepResult, error) {
	t, err := in.table(tableIdx)
	if err != nil {
		return 0, err
	}
	nv, err := in.PopValue()
	if err != nil {
		return 0, err
	}
	val, err := in.PopValue()
	if err != nil {
		return 0, err
	}
	dstv, err := in.PopValue()
	if err != nil {
		return 0, err
	}
	n, dst := nv.I32(), dstv.I32()
	if uint64(dst)+uint64(n) > uint64(t.size()) {
		return 0, fmt.Errorf("%w: table.fill out of bounds", ErrTrap)
	}
	for i := uint32(0); i < n; i++ {
		t.refs[dst+i] = val
	}
	return stepContinue, nil
}
