package tensor

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDenseIndexing(t *testing.T) {
	x := New[float32](2, 3, 4)
	assert.Equal(t, []int{2, 3, 4}, x.Dims())
	assert.Equal(t, 24, x.Len())
	assert.Equal(t, "float32", x.DType())

	x.Set(1.5, 1, 2, 3)
	assert.Equal(t, float32(1.5), x.At(1, 2, 3))
	assert.Equal(t, float32(1.5), x.Slice(1, 2)[3])
	assert.Len(t, x.Row(1), 12)

	assert.Panics(t, func() { x.At(2, 0, 0) })
	assert.Panics(t, func() { x.At(0, 0) })
}

func TestFromRowsPadsAndCuts(t *testing.T) {
	x := FromRows([][]int32{{1, 2, 3, 4}, {5}}, 3)
	assert.Equal(t, [][]int32{{1, 2, 3}, {5, 0, 0}}, x.Rows())
	assert.Equal(t, "int32", x.DType())
}

func TestTruncateTimeAxis(t *testing.T) {
	x := New[int32](2, 4, 2)
	for b := 0; b < 2; b++ {
		for s := 0; s < 4; s++ {
			x.Set(int32(b*100+s*10), b, s, 0)
			x.Set(int32(b*100+s*10+1), b, s, 1)
		}
	}
	y := x.Truncate(2)
	require.Equal(t, []int{2, 2, 2}, y.Dims())
	assert.Equal(t, []int32{0, 1, 10, 11}, y.Row(0))
	assert.Equal(t, []int32{100, 101, 110, 111}, y.Row(1))

	assert.Same(t, x, x.Truncate(4))
	assert.Same(t, x, x.Truncate(9))
}

func TestSameLength(t *testing.T) {
	a := New[int32](2, 5)
	b := New[float32](2, 5, 3)
	c := New[int32](2, 4)
	assert.True(t, SameLength(5, a, b, nil))
	assert.False(t, SameLength(5, a, c))
}
