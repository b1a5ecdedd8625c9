// Package tensor holds the dense row-major tensors assembled per batch.
//
// Batches only need shape bookkeeping, element access and truncation along the
// time axis; the numeric work happens in the external model.
package tensor

import "fmt"

// Number is the element constraint for batch tensors.
type Number interface {
	~int32 | ~int64 | ~float32
}

// Tensor is the type-erased view used by the model input contract.
type Tensor interface {
	Dims() []int
	DType() string
	Len() int
}

// Dense is a row-major tensor with a flat backing slice.
type Dense[T Number] struct {
	shape   []int
	strides []int
	data    []T
}

// New allocates a zero-filled tensor of the given shape.
func New[T Number](shape ...int) *Dense[T] {
	size := 1
	for _, d := range shape {
		if d < 0 {
			panic(fmt.Sprintf("tensor: negative dimension in shape %v", shape))
		}
		size *= d
	}
	t := &Dense[T]{shape: append([]int(nil), shape...), data: make([]T, size)}
	t.strides = computeStrides(t.shape)
	return t
}

// FromRows builds a [len(rows), width] tensor, zero-padding or cutting each row to width.
func FromRows[T Number](rows [][]T, width int) *Dense[T] {
	t := New[T](len(rows), width)
	for i, row := range rows {
		n := min(len(row), width)
		copy(t.data[i*width:i*width+n], row[:n])
	}
	return t
}

func computeStrides(shape []int) []int {
	strides := make([]int, len(shape))
	acc := 1
	for i := len(shape) - 1; i >= 0; i-- {
		strides[i] = acc
		acc *= shape[i]
	}
	return strides
}

func (t *Dense[T]) Dims() []int { return append([]int(nil), t.shape...) }

func (t *Dense[T]) Len() int { return len(t.data) }

func (t *Dense[T]) DType() string {
	var zero T
	switch any(zero).(type) {
	case int32:
		return "int32"
	case int64:
		return "int64"
	case float32:
		return "float32"
	default:
		return fmt.Sprintf("%T", zero)
	}
}

// Data exposes the flat backing slice.
func (t *Dense[T]) Data() []T { return t.data }

func (t *Dense[T]) offset(idx []int) int {
	if len(idx) != len(t.shape) {
		panic(fmt.Sprintf("tensor: %d indices for rank %d", len(idx), len(t.shape)))
	}
	off := 0
	for i, v := range idx {
		if v < 0 || v >= t.shape[i] {
			panic(fmt.Sprintf("tensor: index %v out of range for shape %v", idx, t.shape))
		}
		off += v * t.strides[i]
	}
	return off
}

// At returns the element at idx.
func (t *Dense[T]) At(idx ...int) T { return t.data[t.offset(idx)] }

// Set stores v at idx.
func (t *Dense[T]) Set(v T, idx ...int) { t.data[t.offset(idx)] = v }

// Slice returns the contiguous sub-block addressed by a prefix of indices.
func (t *Dense[T]) Slice(prefix ...int) []T {
	if len(prefix) > len(t.shape) {
		panic("tensor: slice prefix longer than rank")
	}
	full := make([]int, len(t.shape))
	copy(full, prefix)
	start := t.offset(full)
	size := 1
	for _, d := range t.shape[len(prefix):] {
		size *= d
	}
	return t.data[start : start+size]
}

// Row returns row i of the leading axis.
func (t *Dense[T]) Row(i int) []T { return t.Slice(i) }

// Truncate keeps the first n positions of axis 1 (the time axis) and returns a new tensor.
// When n is not smaller than the current length the receiver is returned unchanged.
func (t *Dense[T]) Truncate(n int) *Dense[T] {
	if len(t.shape) < 2 || n >= t.shape[1] {
		return t
	}
	if n < 0 {
		n = 0
	}
	shape := append([]int(nil), t.shape...)
	shape[1] = n
	out := New[T](shape...)
	inner := t.strides[1]
	for b := 0; b < t.shape[0]; b++ {
		src := t.data[b*t.strides[0] : b*t.strides[0]+n*inner]
		copy(out.data[b*out.strides[0]:], src)
	}
	return out
}

// Rows converts a rank-2 tensor to nested slices.
func (t *Dense[T]) Rows() [][]T {
	if len(t.shape) != 2 {
		panic(fmt.Sprintf("tensor: Rows on rank %d", len(t.shape)))
	}
	out := make([][]T, t.shape[0])
	for i := range out {
		out[i] = append([]T(nil), t.Row(i)...)
	}
	return out
}

// SameLength reports whether every tensor's axis 1 equals length.
func SameLength(length int, ts ...Tensor) bool {
	for _, t := range ts {
		if t == nil {
			continue
		}
		dims := t.Dims()
		if len(dims) < 2 || dims[1] != length {
			return false
		}
	}
	return true
}
