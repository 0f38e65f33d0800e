package bin

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBits(t *testing.T) {
	for _, n := range []int{0, 1, 7, 8, 9, 17} {
		bits := make([]bool, n)
		for i := range bits {
			bits[i] = i%3 == 0 || i == n-1
		}
		w := NewWriter()
		w.WriteBits(bits)
		assert.Equal(t, (n+7)/8, w.Len(), "n=%d", n)

		r := NewReader(w.Bytes())
		assert.Equal(t, bits, r.ReadBits(n), "n=%d", n)
		assert.Equal(t, 0, r.Remaining())
		assert.NoError(t, r.Err())
	}
}

func TestBitsMSBFirst(t *testing.T) {
	w := NewWriter()
	w.WriteBits([]bool{true, false, false, false, false, false, false, true, true})
	assert.Equal(t, []byte{0x81, 0x80}, w.Bytes())
}

func TestUVarint(t *testing.T) {
	w := NewWriter()
	w.WriteUVarint(0)
	w.WriteUVarint(127)
	w.WriteUVarint(128)
	w.WriteUVarint(300)
	w.WriteUVarint(math.MaxUint64)
	assert.Equal(t, []byte{0x00, 0x7f, 0x80, 0x01, 0xac, 0x02}, w.Bytes()[:6])

	r := NewReader(w.Bytes())
	assert.Equal(t, uint64(0), r.ReadUVarint())
	assert.Equal(t, uint64(127), r.ReadUVarint())
	assert.Equal(t, uint64(128), r.ReadUVarint())
	assert.Equal(t, uint64(300), r.ReadUVarint())
	assert.Equal(t, uint64(math.MaxUint64), r.ReadUVarint())
	assert.NoError(t, r.Err())
}

func TestVarint(t *testing.T) {
	values := []int64{0, -1, 1, -64, 63, 64, -65, math.MinInt64, math.MaxInt64}
	w := NewWriter()
	for _, v := range values {
		w.WriteVarint(v)
	}
	assert.Equal(t, byte(0x01), w.Bytes()[1], "-1 zig-zags to 1")

	r := NewReader(w.Bytes())
	for _, v := range values {
		assert.Equal(t, v, r.ReadVarint())
	}
	assert.NoError(t, r.Err())
}

func TestFixedAndStrings(t *testing.T) {
	w := NewWriter()
	w.WriteUInt8(0xab)
	w.WriteUInt32(0xdeadbeef)
	w.WriteUInt64(0x0102030405060708)
	w.WriteFloat(1.5)
	w.WriteFloat64(-2.25)
	w.WriteBoolean(true)
	w.WriteString("héllo")
	w.WriteBuffer([]byte{1, 2, 3})
	w.WriteBytes([]byte{9})

	assert.Equal(t, []byte{0xab, 0xde, 0xad, 0xbe, 0xef}, w.Bytes()[:5])

	r := NewReader(w.Bytes())
	assert.Equal(t, uint8(0xab), r.ReadUInt8())
	assert.Equal(t, uint32(0xdeadbeef), r.ReadUInt32())
	assert.Equal(t, uint64(0x0102030405060708), r.ReadUInt64())
	assert.Equal(t, float32(1.5), r.ReadFloat())
	assert.Equal(t, -2.25, r.ReadFloat64())
	assert.True(t, r.ReadBoolean())
	assert.Equal(t, "héllo", r.ReadString())
	assert.Equal(t, []byte{1, 2, 3}, r.ReadBuffer())
	assert.Equal(t, 1, r.Remaining())
	assert.Equal(t, []byte{9}, r.ReadBytes(1))
	assert.NoError(t, r.Err())
}

func TestOutOfRange(t *testing.T) {
	r := NewReader([]byte{0x01, 0x02})
	assert.Equal(t, uint32(0), r.ReadUInt32())
	assert.ErrorIs(t, r.Err(), ErrOutOfRange)

	// sticky: later reads are no-ops
	assert.Equal(t, uint8(0), r.ReadUInt8())
	assert.Equal(t, 2, r.Remaining())

	r = NewReader([]byte{0x05, 'a'})
	assert.Equal(t, "", r.ReadString())
	assert.ErrorIs(t, r.Err(), ErrOutOfRange)

	r = NewReader([]byte{0xff})
	r.ReadBits(9)
	assert.ErrorIs(t, r.Err(), ErrOutOfRange)
}

func TestWriterFail(t *testing.T) {
	w := NewWriter()
	w.WriteUInt8(1)
	w.Fail(ErrOverflow)
	w.WriteUInt8(2)
	assert.Equal(t, []byte{1}, w.Bytes())
	assert.ErrorIs(t, w.Err(), ErrOverflow)
}
