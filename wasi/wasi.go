// Package wasi implements the handful of wasi_snapshot_preview1 syscalls
// nostrscript exposes as builtin slots: fd_write, fd_close, proc_exit,
// args_get/args_sizes_get, and environ_get/environ_sizes_get, each built
// on interp.Interpreter's Param/PushValue/MemPtr host helpers. It is
// deliberately not a full WASI ABI — a guest that needs more than stdio
// and argv/env should be embedded with its own builtin table.
package wasi

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/damus-io/nostrscript/api"
	"github.com/damus-io/nostrscript/internal/interp"
)

// Builtins returns the wasi_snapshot_preview1 functions nostrscript
// supports, bound to argv/env and writer w (stdout, typically), ready to
// pass to interp.WithBuiltins. A guest that imports a wasi_snapshot_preview1
// function not in this list fails instantiation with a LinkError.
func Builtins(w io.Writer, argv, env []string) []interp.NamedBuiltin {
	h := &host{w: w, argv: argv, env: env}
	return []interp.NamedBuiltin{
		{Name: "proc_exit", Fn: h.procExit},
		{Name: "fd_write", Fn: h.fdWrite},
		{Name: "fd_close", Fn: h.fdClose},
		{Name: "args_get", Fn: h.argsGet},
		{Name: "args_sizes_get", Fn: h.argsSizesGet},
		{Name: "environ_get", Fn: h.environGet},
		{Name: "environ_sizes_get", Fn: h.environSizesGet},
	}
}

type host struct {
	w    io.Writer
	argv []string
	env  []string
}

// paramI32 fetches the i-th argument of the builtin call in flight, per
// the frame-based Builtin ABI (arguments are locals, read by position).
func paramI32(in *interp.Interpreter, i int) (uint32, error) {
	v, err := in.Param(i)
	if err != nil {
		return 0, err
	}
	return v.I32(), nil
}

// procExit: (code: i32) -> (). Sets the interpreter's quitting flag, so
// the current instruction is the last one executed.
func (h *host) procExit(in *interp.Interpreter) interp.BuiltinStatus {
	code, err := paramI32(in, 0)
	if err != nil {
		return interp.BuiltinTrap
	}
	in.Quit(int(int32(code)))
	return interp.BuiltinOK
}

// fdWrite: (fd, iovs_ptr, iovs_len, written_ptr: i32) -> (errno: i32).
// Walks the iovec array in guest memory, writes each segment to h.w when
// fd is stdout/stderr (1 or 2), and stores the total byte count at
// written_ptr.
func (h *host) fdWrite(in *interp.Interpreter) interp.BuiltinStatus {
	fd, err := paramI32(in, 0)
	if err != nil {
		return interp.BuiltinTrap
	}
	iovsPtr, err := paramI32(in, 1)
	if err != nil {
		return interp.BuiltinTrap
	}
	iovsLen, err := paramI32(in, 2)
	if err != nil {
		return interp.BuiltinTrap
	}
	writtenPtr, err := paramI32(in, 3)
	if err != nil {
		return interp.BuiltinTrap
	}
	if fd >= 10 {
		return interp.BuiltinTrap
	}

	var total uint32
	for i := uint32(0); i < iovsLen; i++ {
		entry, ok := in.MemPtr(iovsPtr+i*8, 8)
		if !ok {
			return interp.BuiltinTrap
		}
		bufPtr := binary.LittleEndian.Uint32(entry[0:4])
		bufLen := binary.LittleEndian.Uint32(entry[4:8])
		data, ok := in.MemPtr(bufPtr, bufLen)
		if !ok {
			return interp.BuiltinTrap
		}
		if fd == 1 || fd == 2 {
			n, werr := h.w.Write(data)
			if werr != nil || uint32(n) != bufLen {
				return interp.BuiltinTrap
			}
		}
		total += bufLen
	}

	dst, ok := in.MemPtr(writtenPtr, 4)
	if !ok {
		return interp.BuiltinTrap
	}
	binary.LittleEndian.PutUint32(dst, total)
	if err := in.PushValue(api.I32(0)); err != nil {
		return interp.BuiltinTrap
	}
	return interp.BuiltinOK
}

// fdClose: (fd: i32) -> (errno: i32). nostrscript has no real file
// descriptors to close beyond stdio, so this always reports success.
func (h *host) fdClose(in *interp.Interpreter) interp.BuiltinStatus {
	if _, err := paramI32(in, 0); err != nil {
		return interp.BuiltinTrap
	}
	if err := in.PushValue(api.I32(0)); err != nil {
		return interp.BuiltinTrap
	}
	return interp.BuiltinOK
}

// writeStrs is the shared body of args_get/environ_get: copies each
// string's bytes (NUL-terminated) into the guest buffer starting at
// bufPtr, and each string's guest address into the ptrsPtr array.
func writeStrs(in *interp.Interpreter, strs []string, ptrsPtr, bufPtr uint32) error {
	cursor := bufPtr
	for i, s := range strs {
		ptrSlot, ok := in.MemPtr(ptrsPtr+uint32(i)*4, 4)
		if !ok {
			return fmt.Errorf("wasi: out of bounds ptr slot")
		}
		binary.LittleEndian.PutUint32(ptrSlot, cursor)

		n := uint32(len(s)) + 1
		dst, ok := in.MemPtr(cursor, n)
		if !ok {
			return fmt.Errorf("wasi: out of bounds string buffer")
		}
		copy(dst, s)
		dst[n-1] = 0
		cursor += n
	}
	return nil
}

func (h *host) argsGet(in *interp.Interpreter) interp.BuiltinStatus {
	return getStrs(in, h.argv)
}

func (h *host) environGet(in *interp.Interpreter) interp.BuiltinStatus {
	return getStrs(in, h.env)
}

func getStrs(in *interp.Interpreter, strs []string) interp.BuiltinStatus {
	ptrsPtr, err := paramI32(in, 0)
	if err != nil {
		return interp.BuiltinTrap
	}
	bufPtr, err := paramI32(in, 1)
	if err != nil {
		return interp.BuiltinTrap
	}
	if err := writeStrs(in, strs, ptrsPtr, bufPtr); err != nil {
		return interp.BuiltinTrap
	}
	if err := in.PushValue(api.I32(0)); err != nil {
		return interp.BuiltinTrap
	}
	return interp.BuiltinOK
}

func (h *host) argsSizesGet(in *interp.Interpreter) interp.BuiltinStatus {
	return sizesGet(in, h.argv)
}

func (h *host) environSizesGet(in *interp.Interpreter) interp.BuiltinStatus {
	return sizesGet(in, h.env)
}

// sizesGet: (count_ptr, buf_size_ptr: i32) -> (errno: i32), the shared
// body of args_sizes_get/environ_sizes_get.
func sizesGet(in *interp.Interpreter, strs []string) interp.BuiltinStatus {
	countPtr, err := paramI32(in, 0)
	if err != nil {
		return interp.BuiltinTrap
	}
	bufSizePtr, err := paramI32(in, 1)
	if err != nil {
		return interp.BuiltinTrap
	}

	countSlot, ok := in.MemPtr(countPtr, 4)
	if !ok {
		return interp.BuiltinTrap
	}
	binary.LittleEndian.PutUint32(countSlot, uint32(len(strs)))

	var size uint32
	for _, s := range strs {
		size += uint32(len(s)) + 1
	}
	sizeSlot, ok := in.MemPtr(bufSizePtr, 4)
	if !ok {
		return interp.BuiltinTrap
	}
	binary.LittleEndian.PutUint32(sizeSlot, size)

	if err := in.PushValue(api.I32(0)); err != nil {
		return interp.BuiltinTrap
	}
	return interp.BuiltinOK
}
