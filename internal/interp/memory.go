package interp

import "fmt"

// pageSize is the WebAssembly linear memory page size: 64KiB.
const pageSize = 65536

// linearMemory is a module instance's single linear memory (WebAssembly
// 1.0 permits at most one). Growth is page-granular and one-directional;
// shrinking is not part of WebAssembly.
type linearMemory struct {
	data     []byte
	maxPages uint32
	guard    bool // reserve address 0; see Config.nullPageGuard
}

func newLinearMemory(minPages, maxPages uint32, guard bool) *linearMemory {
	m := &linearMemory{
		data:     make([]byte, int(minPages)*pageSize),
		maxPages: maxPages,
		guard:    guard,
	}
	return m
}

func (m *linearMemory) pages() uint32 { return uint32(len(m.data) / pageSize) }

// grow adds delta pages, returning the previous page count, or -1 if the
// growth would exceed maxPages.
func (m *linearMemory) grow(delta uint32) int32 {
	cur := m.pages()
	next := uint64(cur) + uint64(delta)
	if next > uint64(m.maxPages) {
		return -1
	}
	m.data = append(m.data, make([]byte, int(delta)*pageSize)...)
	return int32(cur)
}

// slice returns the size bytes at [addr, addr+size), or an error if the
// access is out of bounds or (when the null guard is active) starts at the
// reserved zero address.
func (m *linearMemory) slice(addr, size uint32) ([]byte, error) {
	if m.guard && addr == 0 && size > 0 {
		return nil, fmt.Errorf("%w: access through reserved null address 0", ErrTrap)
	}
	end := uint64(addr) + uint64(size)
	if end > uint64(len(m.data)) {
		return nil, fmt.Errorf("%w: out of bounds memory access [%#x, %#x), memory size %#x", ErrTrap, addr, end, len(m.data))
	}
	return m.data[addr:end], nil
}

// initWrite copies b into memory at addr with bounds checking but without
// the null guard: active data segments are instantiation-time placement,
// not guest accesses, so a segment at offset 0 is legal even when the
// guard rejects guest loads from that address.
func (m *linearMemory) initWrite(addr uint32, b []byte) error {
	end := uint64(addr) + uint64(len(b))
	if end > uint64(len(m.data)) {
		return fmt.Errorf("data segment [%#x, %#x) exceeds memory size %#x", addr, end, len(m.data))
	}
	copy(m.data[addr:end], b)
	return nil
}

// cstring reads a NUL-terminated string starting at addr, bounded by the
// remaining memory size, used for the WASI ABI's string-pointer arguments.
func (m *linearMemory) cstring(addr uint32) (string, error) {
	if m.guard && addr == 0 {
		return "", fmt.Errorf("%w: access through reserved null address 0", ErrTrap)
	}
	if uint64(addr) >= uint64(len(m.data)) {
		return "", fmt.Errorf("%w: out of bounds string pointer %#x", ErrTrap, addr)
	}
	end := addr
	for end < uint32(len(m.data)) && m.data[end] != 0 {
		end++
	}
	if end >= uint32(len(m.data)) {
		return "", fmt.Errorf("%w: unterminated string at %#x", ErrTrap, addr)
	}
	return string(m.data[addr:end]), nil
}
