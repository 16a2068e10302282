package protocol

import (
	"bytes"
	"encoding/binary"
	"math"
)

// Reader is a little-endian cursor over one message. Every read either
// consumes exactly the field it names or fails with ErrTruncated and
// leaves the cursor where it was.
type Reader struct {
	buf []byte
	off int
}

func NewReader(b []byte) *Reader { return &Reader{buf: b} }

func (r *Reader) Offset() int    { return r.off }
func (r *Reader) Remaining() int { return len(r.buf) - r.off }

func (r *Reader) truncated(field string) error {
	return &FieldError{Field: field, Offset: r.off, Err: ErrTruncated}
}

func (r *Reader) Byte(field string) (byte, error) {
	if r.Remaining() < 1 {
		return 0, r.truncated(field)
	}
	b := r.buf[r.off]
	r.off++
	return b, nil
}

// String reads bytes up to a single zero terminator. The terminator is
// consumed but not returned.
func (r *Reader) String(field string) (string, error) {
	i := bytes.IndexByte(r.buf[r.off:], 0)
	if i < 0 {
		return "", r.truncated(field)
	}
	s := string(r.buf[r.off : r.off+i])
	r.off += i + 1
	return s, nil
}

func (r *Reader) Int32(field string) (int32, error) {
	if r.Remaining() < 4 {
		return 0, r.truncated(field)
	}
	v := int32(binary.LittleEndian.Uint32(r.buf[r.off:]))
	r.off += 4
	return v, nil
}

// Count reads an int32 element count. Negative counts fail with ErrBadCount.
func (r *Reader) Count(field string) (int, error) {
	off := r.off
	n, err := r.Int32(field)
	if err != nil {
		return 0, err
	}
	if n < 0 {
		r.off = off
		return 0, &FieldError{Field: field, Offset: off, Err: ErrBadCount}
	}
	return int(n), nil
}

func (r *Reader) Float32(field string) (float32, error) {
	if r.Remaining() < 4 {
		return 0, r.truncated(field)
	}
	v := math.Float32frombits(binary.LittleEndian.Uint32(r.buf[r.off:]))
	r.off += 4
	return v, nil
}

// Transform reads tx,ty,tz,qw,qx,qy,qz.
func (r *Reader) Transform(field string) (Transform, error) {
	var t Transform
	if r.Remaining() < TransformSize {
		return t, r.truncated(field)
	}
	for i := range t.Translation {
		t.Translation[i], _ = r.Float32(field)
	}
	for i := range t.Rotation {
		t.Rotation[i], _ = r.Float32(field)
	}
	return t, nil
}

// capHint bounds a preallocation by what the remaining bytes could hold.
func (r *Reader) capHint(n, minRecord int) int {
	if minRecord <= 0 {
		return n
	}
	if most := r.Remaining() / minRecord; n > most {
		return most
	}
	return n
}
