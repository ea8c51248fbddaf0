// Package codec implements the fixed-layout physics wire format.
// All integers are big-endian, floats are IEEE-754 float32 and bools are
// a single byte.
package codec

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"github.com/go-gl/mathgl/mgl32"
)

// ErrMalformedPayload is returned when a buffer ends in the middle of a value.
var ErrMalformedPayload = errors.New("malformed payload")

const (
	sizeUint32 = 4
	sizeUint64 = 8
	sizeFloat  = 4
	sizeBool   = 1
	sizeVec3   = 3 * sizeFloat
	sizeQuat   = 4 * sizeFloat
)

// Writer appends encoded values to a growing buffer.
type Writer struct {
	buf []byte
}

// NewWriter creates a writer with the given initial capacity.
func NewWriter(capacity int) *Writer {
	return &Writer{buf: make([]byte, 0, capacity)}
}

// Uint32 appends v.
func (w *Writer) Uint32(v uint32) {
	w.buf = binary.BigEndian.AppendUint32(w.buf, v)
}

// Uint64 appends v.
func (w *Writer) Uint64(v uint64) {
	w.buf = binary.BigEndian.AppendUint64(w.buf, v)
}

// Float32 appends v.
func (w *Writer) Float32(v float32) {
	w.Uint32(math.Float32bits(v))
}

// Bool appends v as one byte.
func (w *Writer) Bool(v bool) {
	if v {
		w.buf = append(w.buf, 1)
		return
	}
	w.buf = append(w.buf, 0)
}

// Vec3 appends x, y, z.
func (w *Writer) Vec3(v mgl32.Vec3) {
	w.Float32(v[0])
	w.Float32(v[1])
	w.Float32(v[2])
}

// Quat appends x, y, z, w.
func (w *Writer) Quat(q mgl32.Quat) {
	w.Float32(q.V[0])
	w.Float32(q.V[1])
	w.Float32(q.V[2])
	w.Float32(q.W)
}

// Raw appends b unchanged.
func (w *Writer) Raw(b []byte) {
	w.buf = append(w.buf, b...)
}

// Len returns the number of bytes written so far.
func (w *Writer) Len() int {
	return len(w.buf)
}

// Bytes returns the encoded buffer.
func (w *Writer) Bytes() []byte {
	return w.buf
}

// Reader decodes values from a buffer. The first short read sets a sticky
// error; every later read returns zero values.
type Reader struct {
	buf []byte
	off int
	err error
}

// NewReader creates a reader over b.
func NewReader(b []byte) *Reader {
	return &Reader{buf: b}
}

func (r *Reader) take(n int) []byte {
	if r.err != nil {
		return nil
	}
	if len(r.buf)-r.off < n {
		r.err = fmt.Errorf("%w: need %d bytes at offset %d, have %d", ErrMalformedPayload, n, r.off, len(r.buf)-r.off)
		r.off = len(r.buf)
		return nil
	}
	b := r.buf[r.off : r.off+n]
	r.off += n
	return b
}

// Uint32 reads a uint32.
func (r *Reader) Uint32() uint32 {
	b := r.take(sizeUint32)
	if b == nil {
		return 0
	}
	return binary.BigEndian.Uint32(b)
}

// Uint64 reads a uint64.
func (r *Reader) Uint64() uint64 {
	b := r.take(sizeUint64)
	if b == nil {
		return 0
	}
	return binary.BigEndian.Uint64(b)
}

// Float32 reads a float32.
func (r *Reader) Float32() float32 {
	return math.Float32frombits(r.Uint32())
}

// Bool reads a one-byte bool.
func (r *Reader) Bool() bool {
	b := r.take(sizeBool)
	return b != nil && b[0] != 0
}

// Vec3 reads x, y, z.
func (r *Reader) Vec3() mgl32.Vec3 {
	return mgl32.Vec3{r.Float32(), r.Float32(), r.Float32()}
}

// Quat reads x, y, z, w.
func (r *Reader) Quat() mgl32.Quat {
	x, y, z, w := r.Float32(), r.Float32(), r.Float32(), r.Float32()
	return mgl32.Quat{W: w, V: mgl32.Vec3{x, y, z}}
}

// Raw reads n bytes. The returned slice aliases the input buffer.
func (r *Reader) Raw(n int) []byte {
	return r.take(n)
}

// Skip advances past n bytes.
func (r *Reader) Skip(n int) {
	r.take(n)
}

// Remaining returns the number of unread bytes.
func (r *Reader) Remaining() int {
	return len(r.buf) - r.off
}

// Finished reports whether the buffer is exhausted or a read failed.
func (r *Reader) Finished() bool {
	return r.err != nil || r.off >= len(r.buf)
}

// Err returns the first decode error.
func (r *Reader) Err() error {
	return r.err
}
