// Package schema holds the building blocks every schema type is made of:
// the Partial tagged union marking "unchanged since baseline", and generic
// encode/decode, diff and patch combinators for primitives, enums,
// optionals, lists and records.
//
// A record type T comes with a generated TDiff record whose fields are
// Partial values. Optionals are pointers, lists are slices.
package schema

// Partial is either Unchanged or a Value. The zero Partial is Unchanged.
type Partial[T any] struct {
	changed bool
	value   T
}

func Unchanged[T any]() Partial[T] {
	return Partial[T]{}
}

func Changed[T any](v T) Partial[T] {
	return Partial[T]{changed: true, value: v}
}

func (p Partial[T]) IsChanged() bool {
	return p.changed
}

func (p Partial[T]) Get() (T, bool) {
	return p.value, p.changed
}

// Value returns the carried value, or the zero T when unchanged.
func (p Partial[T]) Value() T {
	return p.value
}

// Changer is implemented by every Partial.
type Changer interface {
	IsChanged() bool
}

// Record collapses a record diff to Unchanged iff none of its fields changed.
func Record[D any](d D, fields ...Changer) Partial[D] {
	for _, f := range fields {
		if f.IsChanged() {
			return Changed(d)
		}
	}
	return Unchanged[D]()
}

// Bits lists the change flags of record fields in declared order.
func Bits(fields ...Changer) []bool {
	bits := make([]bool, len(fields))
	for i, f := range fields {
		bits[i] = f.IsChanged()
	}
	return bits
}
