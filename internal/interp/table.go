package interp

import (
	"fmt"

	"github.com/damus-io/nostrscript/api"
)

// tableInstance is a module instance's table: a resizable array of
// reference values (funcref or externref).
type tableInstance struct {
	refs    []api.Value
	refType api.ValueType
	max     uint32
	hasMax  bool
}

func newTableInstance(t tableInstanceDesc) *tableInstance {
	refs := make([]api.Value, t.min)
	for i := range refs {
		refs[i] = api.NullRef(t.refType)
	}
	return &tableInstance{refs: refs, refType: t.refType, max: t.max, hasMax: t.hasMax}
}

type tableInstanceDesc struct {
	refType api.ValueType
	min, max uint32
	hasMax  bool
}

func (t *tableInstance) size() uint32 { return uint32(len(t.refs)) }

func (t *tableInstance) grow(delta uint32, fill api.Value) int32 {
	cur := t.size()
	next := uint64(cur) + uint64(delta)
	if t.hasMax && next > uint64(t.max) {
		return -1
	}
	if next > 1<<32-1 {
		return -1
	}
	grown := make([]api.Value, delta)
	for i := range grown {
		grown[i] = fill
	}
	t.refs = append(t.refs, grown...)
	return int32(cur)
}

func (t *tableInstance) get(idx uint32) (api.Value, error) {
	if idx >= t.size() {
		return api.Value{}, fmt.Errorf("%w: table index %d out of range (size %d)", ErrTrap, idx, t.size())
	}
	return t.refs[idx], nil
}

func (t *tableInstance) set(idx uint32, v api.Value) error {
	if idx >= t.size() {
		return fmt.Errorf("%w: table index %d out of range (size %d)", ErrTrap, idx, t.size())
	}
	t.refs[idx] = v
	return nil
}

// globalInstance is a module instance's mutable global variable cell.
type globalInstance struct {
	Value   api.Value
	Mutable bool
}

// elementInstance backs a passive or dropped element segment: Dropped
// segments become empty (but remain indexable, per the bulk-memory-ops
// spec) rather than being removed from the index space.
type elementInstance struct {
	refs    []api.Value
	dropped bool
}
