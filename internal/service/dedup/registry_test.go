package dedup

import (
	"image"
	"testing"

	"roadscan/internal/service/motion"

	"github.com/stretchr/testify/assert"
)

func TestRegistry_SameCellCountedOnce(t *testing.T) {
	r := NewRegistry(DefaultCellSize, false)

	assert.True(t, r.Observe(image.Rect(10, 10, 30, 30), motion.Identity()))
	// center (22,20) falls in the same 10px cell as (20,20)
	assert.False(t, r.Observe(image.Rect(12, 10, 32, 30), motion.Identity()))
	assert.Equal(t, 1, r.Len())

	assert.True(t, r.Observe(image.Rect(40, 10, 60, 30), motion.Identity()))
	assert.Equal(t, 2, r.Len())
	assert.True(t, r.Contains(Cell{X: 5, Y: 2}))
}

func TestRegistry_IgnoresTransformByDefault(t *testing.T) {
	r := NewRegistry(10, false)
	r.Observe(image.Rect(0, 0, 10, 10), motion.Translation(100, 100))
	assert.True(t, r.Contains(Cell{X: 0, Y: 0}))
}

func TestRegistry_AlignedMapsCenterFirst(t *testing.T) {
	r := NewRegistry(10, true)

	assert.True(t, r.Observe(image.Rect(10, 10, 30, 30), motion.Identity()))
	// the same pothole seen 15px further right, mapped back onto the reference grid
	assert.False(t, r.Observe(image.Rect(25, 10, 45, 30), motion.Translation(-15, 0)))
	assert.Equal(t, 1, r.Len())
}

func TestRegistry_CellOf(t *testing.T) {
	r := NewRegistry(10, false)
	tests := []struct {
		p    image.Point
		want Cell
	}{
		{image.Pt(0, 0), Cell{0, 0}},
		{image.Pt(9, 19), Cell{0, 1}},
		{image.Pt(10, 10), Cell{1, 1}},
		{image.Pt(-1, -10), Cell{-1, -1}},
		{image.Pt(-11, 5), Cell{-2, 0}},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, r.CellOf(tt.p), "point %v", tt.p)
	}
}

func TestNewRegistry_DefaultsCellSize(t *testing.T) {
	r := NewRegistry(0, false)
	assert.Equal(t, Cell{X: 1, Y: 0}, r.CellOf(image.Pt(10, 9)))
}
