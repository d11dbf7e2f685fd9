package wasm

import "fmt"

// maxErrorRecords bounds the error ring. Once full, the oldest record is
// dropped to make room for the newest, keeping the ring bounded no matter
// how many failures a malformed module produces.
const maxErrorRecords = 64

// ErrorRecord is one entry in the bounded error ring: a byte position plus
// a formatted message.
type ErrorRecord struct {
	Pos int
	Msg string
}

// ErrorRing is a bounded FIFO of ErrorRecord, shared by the decoder and the
// interpreter so a trap or parse failure can be rendered as a backtrace.
type ErrorRing struct {
	records []ErrorRecord
}

// Note appends a formatted error record at pos, evicting the oldest record
// if the ring is at capacity.
func (r *ErrorRing) Note(pos int, format string, args ...any) {
	rec := ErrorRecord{Pos: pos, Msg: fmt.Sprintf(format, args...)}
	if len(r.records) >= maxErrorRecords {
		r.records = append(r.records[1:], rec)
		return
	}
	r.records = append(r.records, rec)
}

// Records returns the recorded errors, oldest first.
func (r *ErrorRing) Records() []ErrorRecord { return r.records }

// Reset clears the ring, used when an interpreter is reset for re-instantiation.
func (r *ErrorRing) Reset() { r.records = r.records[:0] }

// ParseError is a structural failure in the binary or an initializer
// expression: a bad magic, unknown section, bad valtype, truncated LEB128,
// exceeded nesting, or code missing its terminating `end`.
type ParseError struct {
	Pos     int
	Message string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse error at %#x: %s", e.Pos, e.Message)
}

// Position implements the shared error interface used by the CLI/logging
// layer to render a uniform backtrace regardless of error kind.
func (e *ParseError) Position() int { return e.Pos }
