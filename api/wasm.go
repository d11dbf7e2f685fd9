// Package api includes the constants and value types shared by the
// decoder, the interpreter, and any host embedding nostrscript.
package api

import "fmt"

// ValueType describes the primitive numeric or reference type of a Value,
// local variable, global, or a function parameter/result, using the same
// byte encoding as the WebAssembly 1.0 binary format.
//
// See https://www.w3.org/TR/2019/REC-wasm-core-1-20191205/#binary-valtype
type ValueType = byte

const (
	// ValueTypeI32 is a 32-bit integer.
	ValueTypeI32 ValueType = 0x7f
	// ValueTypeI64 is a 64-bit integer.
	ValueTypeI64 ValueType = 0x7e
	// ValueTypeF32 is a 32-bit floating point number.
	ValueTypeF32 ValueType = 0x7d
	// ValueTypeF64 is a 64-bit floating point number.
	ValueTypeF64 ValueType = 0x7c
	// ValueTypeFuncref is a function reference, an index into a module's functions.
	ValueTypeFuncref ValueType = 0x70
	// ValueTypeExternref is an opaque host-provided reference.
	ValueTypeExternref ValueType = 0x6f
)

// ValueTypeName returns the WebAssembly text format name of t, or "unknown".
func ValueTypeName(t ValueType) string {
	switch t {
	case ValueTypeI32:
		return "i32"
	case ValueTypeI64:
		return "i64"
	case ValueTypeF32:
		return "f32"
	case ValueTypeF64:
		return "f64"
	case ValueTypeFuncref:
		return "funcref"
	case ValueTypeExternref:
		return "externref"
	}
	return "unknown"
}

// IsRefType reports whether t is funcref or externref.
func IsRefType(t ValueType) bool {
	return t == ValueTypeFuncref || t == ValueTypeExternref
}

// ExternType classifies an import or export.
//
// See https://www.w3.org/TR/2019/REC-wasm-core-1-20191205/#external-types%E2%91%A0
type ExternType = byte

const (
	ExternTypeFunc   ExternType = 0x00
	ExternTypeTable  ExternType = 0x01
	ExternTypeMemory ExternType = 0x02
	ExternTypeGlobal ExternType = 0x03
)

// ExternTypeName returns the WebAssembly text format field name of et.
func ExternTypeName(et ExternType) string {
	switch et {
	case ExternTypeFunc:
		return "func"
	case ExternTypeTable:
		return "table"
	case ExternTypeMemory:
		return "memory"
	case ExternTypeGlobal:
		return "global"
	}
	return fmt.Sprintf("%#x", et)
}

// Value is a single WebAssembly value: a type tag plus a 64-bit payload.
//
// Numeric payloads are bit-for-bit reinterpretable between signed/unsigned
// of the same width, and between integer and float of the same width, via
// math.Float32bits/math.Float64bits and their inverses. Reference payloads
// (funcref/externref) carry an address in the low bits of Lo: a function
// index for funcref, or an opaque host handle for externref. The zero
// address denotes null.
type Value struct {
	Type ValueType
	Lo   uint64
}

// I32 constructs an i32 Value.
func I32(v uint32) Value { return Value{Type: ValueTypeI32, Lo: uint64(v)} }

// I64 constructs an i64 Value.
func I64(v uint64) Value { return Value{Type: ValueTypeI64, Lo: v} }

// F32Bits constructs an f32 Value from its bit pattern.
func F32Bits(bits uint32) Value { return Value{Type: ValueTypeF32, Lo: uint64(bits)} }

// F64Bits constructs an f64 Value from its bit pattern.
func F64Bits(bits uint64) Value { return Value{Type: ValueTypeF64, Lo: bits} }

// FuncRef constructs a funcref Value pointing at the given function address.
// An addr of 0 is null.
func FuncRef(addr uint32) Value { return Value{Type: ValueTypeFuncref, Lo: uint64(addr)} }

// ExternRef constructs an externref Value wrapping an opaque host handle.
// A handle of 0 is null.
func ExternRef(handle uint64) Value { return Value{Type: ValueTypeExternref, Lo: handle} }

// NullRef constructs a null reference of the given reftype.
func NullRef(t ValueType) Value { return Value{Type: t, Lo: 0} }

// IsNull reports whether v is a null reference. Only meaningful when
// api.IsRefType(v.Type) is true.
func (v Value) IsNull() bool { return v.Lo == 0 }

// I32 returns the low 32 bits of the payload as an unsigned integer.
func (v Value) I32() uint32 { return uint32(v.Lo) }

// I64 returns the payload as a 64-bit integer.
func (v Value) I64() uint64 { return v.Lo }

func (v Value) String() string {
	return fmt.Sprintf("%s:%#x", ValueTypeName(v.Type), v.Lo)
}
