package model

import (
	"image"

	"gocv.io/x/gocv"
)

// Detection is one detector output for one frame.
//
// Mask may be binary (CV_8U, 0/255) or probabilistic (CV_32F, 0..1) and may
// be smaller than the frame; it is rescaled to the frame before use. An
// empty Mask contributes nothing to the damage raster but the box still
// counts toward distinct instances.
type Detection struct {
	Label      string
	Confidence float64
	Box        image.Rectangle
	Mask       gocv.Mat
}

// Center returns the integer box center ((x1+x2)/2, (y1+y2)/2).
func (d Detection) Center() image.Point {
	return image.Pt((d.Box.Min.X+d.Box.Max.X)/2, (d.Box.Min.Y+d.Box.Max.Y)/2)
}

// HasMask reports whether the detection carries a non-empty mask.
func (d Detection) HasMask() bool {
	return d.Mask.Ptr() != nil && !d.Mask.Empty()
}

// Close releases the mask raster.
func (d Detection) Close() error {
	if d.Mask.Ptr() == nil {
		return nil
	}
	return d.Mask.Close()
}

// CloseAll releases every mask in detections.
func CloseAll(detections []Detection) {
	for _, d := range detections {
		_ = d.Close()
	}
}
