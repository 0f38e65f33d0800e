/*
Package bin implements the byte cursor used by every roomsync wire format.

# Primitives

  - UInt8, UInt32, UInt64: fixed width, big-endian
  - UVarint: unsigned, 7 bits per byte, least significant group first,
    MSB set on every byte but the last
  - Varint: signed, zig-zag mapped then written as a UVarint
  - Float, Float64: IEEE754, 4 and 8 bytes, big-endian
  - String, Buffer: UVarint byte length followed by the bytes
  - Bits: booleans packed MSB-first into ceil(n/8) bytes

Both Writer and Reader keep the first error they hit and turn every later
call into a no-op, so a codec can emit or parse a whole value and check
Err once at the end.
*/
package bin

import (
	"encoding/binary"
	"math"
)

type Writer struct {
	buf []byte
	err error
}

func NewWriter() *Writer {
	return &Writer{}
}

// NewWriterSize preallocates capacity for n bytes.
func NewWriterSize(n int) *Writer {
	return &Writer{buf: make([]byte, 0, n)}
}

// Fail records err unless an earlier error is already recorded.
func (w *Writer) Fail(err error) {
	if w.err == nil {
		w.err = err
	}
}

func (w *Writer) Err() error {
	return w.err
}

func (w *Writer) Len() int {
	return len(w.buf)
}

// Bytes returns the written bytes. The slice aliases the writer buffer.
func (w *Writer) Bytes() []byte {
	return w.buf
}

func (w *Writer) WriteUInt8(v uint8) {
	if w.err != nil {
		return
	}
	w.buf = append(w.buf, v)
}

func (w *Writer) WriteUInt32(v uint32) {
	if w.err != nil {
		return
	}
	w.buf = binary.BigEndian.AppendUint32(w.buf, v)
}

func (w *Writer) WriteUInt64(v uint64) {
	if w.err != nil {
		return
	}
	w.buf = binary.BigEndian.AppendUint64(w.buf, v)
}

func (w *Writer) WriteUVarint(v uint64) {
	if w.err != nil {
		return
	}
	for v >= 0x80 {
		w.buf = append(w.buf, byte(v)|0x80)
		v >>= 7
	}
	w.buf = append(w.buf, byte(v))
}

func (w *Writer) WriteVarint(v int64) {
	w.WriteUVarint(uint64(v<<1) ^ uint64(v>>63))
}

func (w *Writer) WriteFloat(v float32) {
	w.WriteUInt32(math.Float32bits(v))
}

func (w *Writer) WriteFloat64(v float64) {
	w.WriteUInt64(math.Float64bits(v))
}

func (w *Writer) WriteBoolean(v bool) {
	if v {
		w.WriteUInt8(1)
	} else {
		w.WriteUInt8(0)
	}
}

func (w *Writer) WriteString(s string) {
	w.WriteUVarint(uint64(len(s)))
	if w.err != nil {
		return
	}
	w.buf = append(w.buf, s...)
}

func (w *Writer) WriteBuffer(b []byte) {
	w.WriteUVarint(uint64(len(b)))
	w.WriteBytes(b)
}

// WriteBytes appends b as is, without a length prefix.
func (w *Writer) WriteBytes(b []byte) {
	if w.err != nil {
		return
	}
	w.buf = append(w.buf, b...)
}

func (w *Writer) WriteBits(bits []bool) {
	if w.err != nil {
		return
	}
	for i := 0; i < len(bits); i += 8 {
		var b byte
		for j := 0; j < 8 && i+j < len(bits); j++ {
			if bits[i+j] {
				b |= 0x80 >> j
			}
		}
		w.buf = append(w.buf, b)
	}
}
