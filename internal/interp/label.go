package interp

import (
	"fmt"

	"github.com/damus-io/nostrscript/internal/cursor"
	"github.com/damus-io/nostrscript/internal/wasm"
)

// label is a single block/loop/if control target within one function body.
// StartPos is the byte offset of the opening instruction (block/loop/if);
// EndPos is the byte offset one past the matching `end`, discovered lazily
// the first time control flow needs to jump past it, then cached for the
// rest of the run. ElsePos is valid only for `if` labels and marks the
// `else` clause, if one is present (-1 otherwise).
//
// Rather than pre-scanning a function's body to build a complete
// control-flow graph before executing it (as an AOT compiler would), a
// label is created unresolved the moment execution enters its block and
// is resolved only when (a) execution naturally reaches the matching
// `end`, (b) a branch needs to jump there before that happens, forcing a
// one-time forward scan, or (c) for a loop, the first branch back to its
// start runs that same scan.
type label struct {
	Kind    wasm.Opcode // OpBlock, OpLoop, or OpIf
	StartPos int
	EndPos   int // -1 until resolved
	ElsePos  int // -1 until resolved or absent
	Arity    int // number of result values the label produces on exit
}

func (l *label) resolved() bool { return l.EndPos >= 0 }

// labelCache memoizes resolved labels per function, so re-entering a loop
// body (or calling the same function repeatedly) doesn't re-scan bytecode
// it has already resolved once. perFuncLimit bounds how many labels a
// single function may accumulate (configurable via WithLabelTableSize),
// so a pathological module exhausts its label budget rather than host
// memory.
type labelCache struct {
	byFunc       map[uint32]map[int]*label
	perFuncLimit int
}

func newLabelCache(perFuncLimit int) *labelCache {
	return &labelCache{byFunc: map[uint32]map[int]*label{}, perFuncLimit: perFuncLimit}
}

func (lc *labelCache) upsert(fn uint32, startPos int, kind wasm.Opcode, arity int) (*label, error) {
	fnLabels, ok := lc.byFunc[fn]
	if !ok {
		fnLabels = map[int]*label{}
		lc.byFunc[fn] = fnLabels
	}
	if l, ok := fnLabels[startPos]; ok {
		return l, nil
	}
	if lc.perFuncLimit > 0 && len(fnLabels) >= lc.perFuncLimit {
		return nil, &ExhaustionError{Resource: "label table", Pos: startPos}
	}
	l := &label{Kind: kind, StartPos: startPos, EndPos: -1, ElsePos: -1, Arity: arity}
	fnLabels[startPos] = l
	return l, nil
}

func (lc *labelCache) get(fn uint32, startPos int) (*label, bool) {
	fnLabels, ok := lc.byFunc[fn]
	if !ok {
		return nil, false
	}
	l, ok := fnLabels[startPos]
	return l, ok
}

// resolveEnd performs (at most once per label) a forward scan of code from
// the label's start, locating the matching `end` (and, for an `if`, the
// sibling `else`), caching nested labels it passes over along the way so a
// later jump into one of them is free. The scan re-parses the opener
// itself first so it lands past the block-type immediate, whose length
// varies (empty/valtype are one byte, a type index is a signed LEB128).
func (lc *labelCache) resolveEnd(fn uint32, code []byte, l *label) error {
	if l.resolved() {
		return nil
	}
	c := cursor.New(code)
	if err := c.Seek(l.StartPos); err != nil {
		return err
	}
	if _, err := wasm.ParseNext(c); err != nil {
		return err
	}
	depth := 0
	for !c.EOF() {
		instrPos := c.Pos()
		in, err := wasm.ParseNext(c)
		if err != nil {
			return err
		}
		switch in.Op {
		case wasm.OpBlock, wasm.OpLoop, wasm.OpIf:
			if depth == 0 {
				// record the nested label's header position so a direct
				// jump into it later skips re-deriving it from scratch.
				if _, err := lc.upsert(fn, instrPos, in.Op, 0); err != nil {
					return err
				}
			}
			depth++
		case wasm.OpElse:
			if depth == 0 && l.Kind == wasm.OpIf {
				l.ElsePos = c.Pos()
			}
		case wasm.OpEnd:
			if depth == 0 {
				l.EndPos = c.Pos()
				return nil
			}
			depth--
		}
	}
	return fmt.Errorf("interp: function %d: unterminated block starting at %#x", fn, l.StartPos)
}
