package bin

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

var (
	ErrOutOfRange = errors.New("bin: read out of range")
	ErrOverflow   = errors.New("bin: varint overflows 64 bits")
)

// Reader is a cursor over an immutable byte region.
type Reader struct {
	data []byte
	off  int
	err  error
}

func NewReader(data []byte) *Reader {
	return &Reader{data: data}
}

// Fail records err unless an earlier error is already recorded.
func (r *Reader) Fail(err error) {
	if r.err == nil {
		r.err = err
	}
}

func (r *Reader) Err() error {
	return r.err
}

// Remaining reports the number of unread bytes.
func (r *Reader) Remaining() int {
	return len(r.data) - r.off
}

func (r *Reader) take(n int) []byte {
	if r.err != nil {
		return nil
	}
	if n < 0 || n > r.Remaining() {
		r.err = fmt.Errorf("%w: need %d bytes at offset %d, have %d", ErrOutOfRange, n, r.off, r.Remaining())
		return nil
	}
	b := r.data[r.off : r.off+n]
	r.off += n
	return b
}

func (r *Reader) ReadUInt8() uint8 {
	b := r.take(1)
	if b == nil {
		return 0
	}
	return b[0]
}

func (r *Reader) ReadUInt32() uint32 {
	b := r.take(4)
	if b == nil {
		return 0
	}
	return binary.BigEndian.Uint32(b)
}

func (r *Reader) ReadUInt64() uint64 {
	b := r.take(8)
	if b == nil {
		return 0
	}
	return binary.BigEndian.Uint64(b)
}

func (r *Reader) ReadUVarint() (v uint64) {
	for shift := uint(0); ; shift += 7 {
		if shift >= 64 {
			r.Fail(ErrOverflow)
			return 0
		}
		b := r.take(1)
		if b == nil {
			return 0
		}
		v |= uint64(b[0]&0x7f) << shift
		if b[0] < 0x80 {
			return v
		}
	}
}

func (r *Reader) ReadVarint() int64 {
	u := r.ReadUVarint()
	return int64(u>>1) ^ -int64(u&1)
}

func (r *Reader) ReadFloat() float32 {
	return math.Float32frombits(r.ReadUInt32())
}

func (r *Reader) ReadFloat64() float64 {
	return math.Float64frombits(r.ReadUInt64())
}

func (r *Reader) ReadBoolean() bool {
	return r.ReadUInt8() > 0
}

func (r *Reader) ReadString() string {
	return string(r.ReadBuffer())
}

// ReadBuffer reads a length-prefixed byte slice. The result is a copy.
func (r *Reader) ReadBuffer() []byte {
	n := r.ReadUVarint()
	if n > uint64(r.Remaining()) {
		r.Fail(fmt.Errorf("%w: buffer of %d bytes, have %d", ErrOutOfRange, n, r.Remaining()))
		return nil
	}
	return r.ReadBytes(int(n))
}

// ReadBytes reads exactly n raw bytes. The result is a copy.
func (r *Reader) ReadBytes(n int) []byte {
	b := r.take(n)
	if b == nil {
		return nil
	}
	return append(make([]byte, 0, n), b...)
}

// ReadBits always returns n booleans; on error they are all false.
func (r *Reader) ReadBits(n int) []bool {
	bits := make([]bool, n)
	packed := r.take((n + 7) / 8)
	if packed == nil {
		return bits
	}
	for i := range bits {
		bits[i] = packed[i/8]&(0x80>>(i%8)) != 0
	}
	return bits
}
