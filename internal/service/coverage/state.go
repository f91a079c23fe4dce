package coverage

import (
	"fmt"
	"image"

	"gocv.io/x/gocv"
)

// AggregationState owns the two persistent rasters of one run. Both are
// CV_8U, 0 or 255, sized to the video, and only ever grow (pixel-wise union).
type AggregationState struct {
	size    image.Point
	surface gocv.Mat
	damage  gocv.Mat
}

// NewAggregationState allocates zeroed accumulators for a width x height video.
func NewAggregationState(size image.Point) (*AggregationState, error) {
	if size.X <= 0 || size.Y <= 0 {
		return nil, fmt.Errorf("invalid accumulator size %dx%d", size.X, size.Y)
	}
	return &AggregationState{
		size:    size,
		surface: gocv.Zeros(size.Y, size.X, gocv.MatTypeCV8U),
		damage:  gocv.Zeros(size.Y, size.X, gocv.MatTypeCV8U),
	}, nil
}

// Size returns the accumulator dimensions.
func (s *AggregationState) Size() image.Point {
	return s.size
}

// SurfacePixels counts pixels ever judged to be road surface.
func (s *AggregationState) SurfacePixels() int {
	return gocv.CountNonZero(s.surface)
}

// DamagePixels counts pixels ever judged to be damage.
func (s *AggregationState) DamagePixels() int {
	return gocv.CountNonZero(s.damage)
}

// Surface exposes the surface accumulator read-only.
func (s *AggregationState) Surface() gocv.Mat {
	return s.surface
}

// Damage exposes the damage accumulator read-only.
func (s *AggregationState) Damage() gocv.Mat {
	return s.damage
}

// Close releases both rasters.
func (s *AggregationState) Close() error {
	errSurface := s.surface.Close()
	errDamage := s.damage.Close()
	if errSurface != nil {
		return errSurface
	}
	return errDamage
}
