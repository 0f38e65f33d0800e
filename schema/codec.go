package schema

import (
	"errors"
	"fmt"

	"github.com/drpcorg/roomsync/bin"
	"golang.org/x/exp/constraints"
)

var ErrInvalidValue = errors.New("schema: invalid value")

type WriteFunc[T any] func(w *bin.Writer, v T)

type ReadFunc[T any] func(r *bin.Reader) T

func WriteInt[T constraints.Signed](w *bin.Writer, v T) {
	w.WriteVarint(int64(v))
}

func ReadInt[T constraints.Signed](r *bin.Reader) T {
	return T(r.ReadVarint())
}

func WriteUInt[T constraints.Unsigned](w *bin.Writer, v T) {
	w.WriteUVarint(uint64(v))
}

func ReadUInt[T constraints.Unsigned](r *bin.Reader) T {
	return T(r.ReadUVarint())
}

func WriteFloat(w *bin.Writer, v float32) {
	w.WriteFloat(v)
}

func ReadFloat(r *bin.Reader) float32 {
	return r.ReadFloat()
}

func WriteBoolean(w *bin.Writer, v bool) {
	w.WriteBoolean(v)
}

func ReadBoolean(r *bin.Reader) bool {
	return r.ReadBoolean()
}

func WriteString(w *bin.Writer, v string) {
	w.WriteString(v)
}

func ReadString(r *bin.Reader) string {
	return r.ReadString()
}

// WriteEnum writes an enum as one byte. Values at or above size fail the writer.
func WriteEnum[T ~uint8](w *bin.Writer, v T, size int, name string) {
	if int(v) >= size {
		w.Fail(fmt.Errorf("%w: %s(%d)", ErrInvalidValue, name, v))
		return
	}
	w.WriteUInt8(uint8(v))
}

func ReadEnum[T ~uint8](r *bin.Reader, size int, name string) T {
	v := r.ReadUInt8()
	if int(v) >= size && r.Err() == nil {
		r.Fail(fmt.Errorf("%w: %s(%d)", ErrInvalidValue, name, v))
		return 0
	}
	return T(v)
}

func WriteOptional[T any](w *bin.Writer, v *T, inner WriteFunc[T]) {
	w.WriteBoolean(v != nil)
	if v != nil {
		inner(w, *v)
	}
}

func ReadOptional[T any](r *bin.Reader, inner ReadFunc[T]) *T {
	if !r.ReadBoolean() || r.Err() != nil {
		return nil
	}
	v := inner(r)
	return &v
}

func WriteArray[T any](w *bin.Writer, xs []T, inner WriteFunc[T]) {
	w.WriteUVarint(uint64(len(xs)))
	for _, x := range xs {
		inner(w, x)
	}
}

func ReadArray[T any](r *bin.Reader, inner ReadFunc[T]) []T {
	n := r.ReadUVarint()
	xs := make([]T, 0, min(n, uint64(r.Remaining())))
	for i := uint64(0); i < n && r.Err() == nil; i++ {
		xs = append(xs, inner(r))
	}
	if r.Err() != nil {
		return nil
	}
	return xs
}

// WriteArrayDiff writes the new length, one change bit per element, then
// the changed elements only.
func WriteArrayDiff[D any](w *bin.Writer, xs []Partial[D], inner WriteFunc[D]) {
	w.WriteUVarint(uint64(len(xs)))
	bits := make([]bool, len(xs))
	for i, x := range xs {
		bits[i] = x.changed
	}
	w.WriteBits(bits)
	for _, x := range xs {
		if x.changed {
			inner(w, x.value)
		}
	}
}

func ReadArrayDiff[D any](r *bin.Reader, inner ReadFunc[D]) []Partial[D] {
	n := r.ReadUVarint()
	if n > uint64(r.Remaining())*8 {
		r.Fail(fmt.Errorf("%w: list diff of %d elements", bin.ErrOutOfRange, n))
		return nil
	}
	bits := r.ReadBits(int(n))
	xs := make([]Partial[D], n)
	for i, changed := range bits {
		if r.Err() != nil {
			return nil
		}
		if changed {
			xs[i] = Changed(inner(r))
		}
	}
	return xs
}

// ReadIf reads a field when its change bit is set.
func ReadIf[T any](r *bin.Reader, bit bool, inner ReadFunc[T]) Partial[T] {
	if !bit {
		return Unchanged[T]()
	}
	return Changed(inner(r))
}

// WriteIf writes a field when it changed.
func WriteIf[T any](w *bin.Writer, p Partial[T], inner WriteFunc[T]) {
	if p.changed {
		inner(w, p.value)
	}
}
