package schema

// Replace is the PatchFunc of primitives and enums.
func Replace[T any](_ T, d T) T {
	return d
}

// Patch returns prev when p is unchanged, the new value otherwise.
func Patch[T any](prev T, p Partial[T]) T {
	if !p.changed {
		return prev
	}
	return p.value
}

// PatchWith returns prev when p is unchanged, else folds p into prev.
func PatchWith[T, D any](prev T, p Partial[D], patch PatchFunc[T, D]) T {
	if !p.changed {
		return prev
	}
	return patch(prev, p.value)
}

// PatchOptional treats a nil diff as removal. A diff against an absent
// value is folded into the zero T, which reproduces a full diff exactly.
func PatchOptional[T, D any](prev *T, d *D, patch PatchFunc[T, D]) *T {
	if d == nil {
		return nil
	}
	var base T
	if prev != nil {
		base = *prev
	}
	v := patch(base, *d)
	return &v
}

// PatchArray takes the diff length as authoritative: extra previous
// elements are dropped, elements past the previous end are patched into
// the zero T.
func PatchArray[T, D any](prev []T, d []Partial[D], patch PatchFunc[T, D]) []T {
	out := make([]T, len(d))
	for i, e := range d {
		var base T
		if i < len(prev) {
			base = prev[i]
		}
		if e.changed {
			out[i] = patch(base, e.value)
		} else {
			out[i] = base
		}
	}
	return out
}
