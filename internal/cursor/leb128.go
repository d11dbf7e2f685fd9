package cursor

import "fmt"

// maxLEB128ByteLen32 bounds the number of bytes a 32-bit LEB128 can occupy:
// ceil(32/7) = 5.
const maxLEB128ByteLen32 = 5

// maxLEB128ByteLen64 bounds a 64-bit LEB128 to ceil(64/7) = 10 bytes.
const maxLEB128ByteLen64 = 10

// DecodeUint32 reads an unsigned LEB128 producing a 32-bit value,
// accumulating 7-bit groups until a byte with the top bit clear. Fails
// closed: on error, the cursor's position is restored to where it started.
func (c *Cursor) DecodeUint32() (uint32, error) {
	start := c.pos
	var result uint32
	var shift uint
	for i := 0; ; i++ {
		if i >= maxLEB128ByteLen32 {
			c.pos = start
			return 0, fmt.Errorf("cursor: uleb128 exceeds %d bytes at pos %d", maxLEB128ByteLen32, start)
		}
		b, err := c.PullByte()
		if err != nil {
			c.pos = start
			return 0, fmt.Errorf("cursor: uleb128 at pos %d: %w", start, err)
		}
		result |= uint32(b&0x7f) << shift
		if b&0x80 == 0 {
			return result, nil
		}
		shift += 7
	}
}

// DecodeInt32 reads a signed LEB128 producing a 32-bit value, sign-extending
// from bit 6 of the final byte.
func (c *Cursor) DecodeInt32() (int32, error) {
	start := c.pos
	var result int32
	var shift uint
	var b byte
	var err error
	for i := 0; ; i++ {
		if i >= maxLEB128ByteLen32 {
			c.pos = start
			return 0, fmt.Errorf("cursor: sleb128 exceeds %d bytes at pos %d", maxLEB128ByteLen32, start)
		}
		b, err = c.PullByte()
		if err != nil {
			c.pos = start
			return 0, fmt.Errorf("cursor: sleb128 at pos %d: %w", start, err)
		}
		result |= int32(b&0x7f) << shift
		shift += 7
		if b&0x80 == 0 {
			break
		}
	}
	if shift < 32 && b&0x40 != 0 {
		result |= -1 << shift
	}
	return result, nil
}

// DecodeInt64 reads a signed LEB128 producing a 64-bit value, used for
// i64.const. Identical algorithm to DecodeInt32 at double width.
func (c *Cursor) DecodeInt64() (int64, error) {
	start := c.pos
	var result int64
	var shift uint
	var b byte
	var err error
	for i := 0; ; i++ {
		if i >= maxLEB128ByteLen64 {
			c.pos = start
			return 0, fmt.Errorf("cursor: sleb128-64 exceeds %d bytes at pos %d", maxLEB128ByteLen64, start)
		}
		b, err = c.PullByte()
		if err != nil {
			c.pos = start
			return 0, fmt.Errorf("cursor: sleb128-64 at pos %d: %w", start, err)
		}
		result |= int64(b&0x7f) << shift
		shift += 7
		if b&0x80 == 0 {
			break
		}
	}
	if shift < 64 && b&0x40 != 0 {
		result |= -1 << shift
	}
	return result, nil
}

// EncodeUint32 appends the unsigned LEB128 encoding of v to buf, used
// when a caller needs to re-serialize a value (e.g. for diagnostics or
// hand-building test payloads).
func EncodeUint32(buf []byte, v uint32) []byte {
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if v == 0 {
			return append(buf, b)
		}
		buf = append(buf, b|0x80)
	}
}
