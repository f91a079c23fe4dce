package model

import (
	"image"

	"gocv.io/x/gocv"
)

// Frame is one decoded video frame. Mat holds BGR samples and is owned by
// whoever produced the frame; pipeline steps only read it.
type Frame struct {
	Index int
	Mat   gocv.Mat
}

// Size returns the frame dimensions as a point (X=width, Y=height).
func (f Frame) Size() image.Point {
	return image.Pt(f.Mat.Cols(), f.Mat.Rows())
}

// Close releases the underlying raster.
func (f Frame) Close() error {
	return f.Mat.Close()
}
