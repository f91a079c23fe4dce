package dedup

import (
	"image"

	"roadscan/internal/service/motion"
)

// DefaultCellSize is the edge length, in pixels, of one identity cell.
const DefaultCellSize = 10

// Cell is a quantised box-center identity.
type Cell struct {
	X, Y int
}

// Registry counts distinct damage instances by the grid cell of their box center.
// It only grows.
type Registry struct {
	cellSize int
	aligned  bool
	cells    map[Cell]struct{}
}

// NewRegistry creates a registry. When aligned is true, centers are mapped
// through the supplied transform before quantising; otherwise the raw
// pixel position is used and the transform is ignored.
func NewRegistry(cellSize int, aligned bool) *Registry {
	if cellSize <= 0 {
		cellSize = DefaultCellSize
	}
	return &Registry{
		cellSize: cellSize,
		aligned:  aligned,
		cells:    make(map[Cell]struct{}),
	}
}

// CellOf quantises a point with floor division so negative coordinates
// (possible after alignment) keep consistent cells.
func (r *Registry) CellOf(p image.Point) Cell {
	return Cell{X: floorDiv(p.X, r.cellSize), Y: floorDiv(p.Y, r.cellSize)}
}

// Observe registers the instance for box and reports whether it was new.
func (r *Registry) Observe(box image.Rectangle, t motion.Transform) bool {
	center := image.Pt((box.Min.X+box.Max.X)/2, (box.Min.Y+box.Max.Y)/2)
	if r.aligned {
		center = t.Apply(center)
	}

	cell := r.CellOf(center)
	if _, seen := r.cells[cell]; seen {
		return false
	}
	r.cells[cell] = struct{}{}
	return true
}

// Contains reports whether cell is already registered.
func (r *Registry) Contains(cell Cell) bool {
	_, ok := r.cells[cell]
	return ok
}

// Len returns the number of distinct instances.
func (r *Registry) Len() int {
	return len(r.cells)
}

func floorDiv(a, b int) int {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}
