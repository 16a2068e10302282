package protocol

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Writer appends little-endian fields to a scratch buffer. A non-zero
// limit caps the total size; the first write past it records
// ErrCapacityExceeded and every later write is dropped.
type Writer struct {
	buf   []byte
	limit int
	err   error
}

// NewWriter writes into scratch[:0]. limit <= 0 means unbounded.
func NewWriter(scratch []byte, limit int) *Writer {
	return &Writer{buf: scratch[:0], limit: limit}
}

func (w *Writer) Bytes() []byte { return w.buf }
func (w *Writer) Len() int      { return len(w.buf) }
func (w *Writer) Err() error    { return w.err }

func (w *Writer) reserve(n int) bool {
	if w.err != nil {
		return false
	}
	if w.limit > 0 && len(w.buf)+n > w.limit {
		w.err = fmt.Errorf("%d+%d bytes over limit %d: %w", len(w.buf), n, w.limit, ErrCapacityExceeded)
		return false
	}
	return true
}

func (w *Writer) Byte(b byte) {
	if w.reserve(1) {
		w.buf = append(w.buf, b)
	}
}

// String writes s followed by a zero terminator. s must not contain 0x00.
func (w *Writer) String(s string) {
	if w.reserve(len(s) + 1) {
		w.buf = append(w.buf, s...)
		w.buf = append(w.buf, 0)
	}
}

func (w *Writer) Int32(v int32) {
	if w.reserve(4) {
		w.buf = binary.LittleEndian.AppendUint32(w.buf, uint32(v))
	}
}

func (w *Writer) Float32(v float32) {
	if w.reserve(4) {
		w.buf = binary.LittleEndian.AppendUint32(w.buf, math.Float32bits(v))
	}
}

func (w *Writer) Transform(t Transform) {
	if !w.reserve(TransformSize) {
		return
	}
	for _, v := range t.Translation {
		w.buf = binary.LittleEndian.AppendUint32(w.buf, math.Float32bits(v))
	}
	for _, v := range t.Rotation {
		w.buf = binary.LittleEndian.AppendUint32(w.buf, math.Float32bits(v))
	}
}
