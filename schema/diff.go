package schema

// DiffFunc computes the diff of next against prev.
type DiffFunc[T, D any] func(next, prev T) Partial[D]

// PatchFunc folds a changed diff into prev.
type PatchFunc[T, D any] func(prev T, d D) T

// FullFunc turns a value into the diff that reproduces it from any baseline.
type FullFunc[T, D any] func(v T) D

func DiffPrimitive[T comparable](next, prev T) Partial[T] {
	if next == prev {
		return Unchanged[T]()
	}
	return Changed(next)
}

// Identity is the FullFunc of primitives and enums.
func Identity[T any](v T) T {
	return v
}

// DiffOptional recurses when both sides are present. A change of presence
// yields the full new value, or nil when the value went away.
func DiffOptional[T, D any](next, prev *T, inner DiffFunc[T, D], full FullFunc[T, D]) Partial[*D] {
	switch {
	case next != nil && prev != nil:
		d, ok := inner(*next, *prev).Get()
		if !ok {
			return Unchanged[*D]()
		}
		return Changed(&d)
	case next != nil:
		d := full(*next)
		return Changed(&d)
	case prev != nil:
		return Changed[*D](nil)
	}
	return Unchanged[*D]()
}

// DiffArray diffs element-wise when lengths match. A length change marks
// every element of next as changed with its full diff.
func DiffArray[T, D any](next, prev []T, inner DiffFunc[T, D], full FullFunc[T, D]) Partial[[]Partial[D]] {
	out := make([]Partial[D], len(next))
	if len(next) != len(prev) {
		for i, v := range next {
			out[i] = Changed(full(v))
		}
		return Changed(out)
	}
	same := true
	for i, v := range next {
		out[i] = inner(v, prev[i])
		if out[i].changed {
			same = false
		}
	}
	if same {
		return Unchanged[[]Partial[D]]()
	}
	return Changed(out)
}

// FullArray is the full diff of a list.
func FullArray[T, D any](xs []T, full FullFunc[T, D]) []Partial[D] {
	out := make([]Partial[D], len(xs))
	for i, v := range xs {
		out[i] = Changed(full(v))
	}
	return out
}

// FullOptional is the full diff of an optional.
func FullOptional[T, D any](v *T, full FullFunc[T, D]) *D {
	if v == nil {
		return nil
	}
	d := full(*v)
	return &d
}
