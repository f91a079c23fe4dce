package overlay

import (
	"fmt"
	"image"
	"image/color"

	"roadscan/internal/model"

	"gocv.io/x/gocv"
)

var (
	contourColor    = color.RGBA{R: 0, G: 255, B: 0, A: 0}
	totalColor      = color.RGBA{R: 255, G: 0, B: 0, A: 0}
	currentColor    = color.RGBA{R: 0, G: 0, B: 255, A: 0}
	confidenceColor = color.RGBA{R: 0, G: 255, B: 0, A: 0}
)

const (
	frameWeight = 0.6
	maskWeight  = 0.4
)

// Compositor draws damage overlays on output frames. It never feeds back
// into the numeric results.
type Compositor struct {
	outSize image.Point
}

// NewCompositor creates a compositor producing frames of outSize.
func NewCompositor(outSize image.Point) *Compositor {
	return &Compositor{outSize: outSize}
}

// Render returns an annotated copy of frame: mask contours, a red mask
// tint, running and current damage labels and per-detection confidences.
// An empty mask skips the contour and tint steps. The caller closes the result.
func (c *Compositor) Render(frame gocv.Mat, mask gocv.Mat, detections []model.Detection, stats model.RunningStats) (gocv.Mat, error) {
	out := frame.Clone()

	if !mask.Empty() && mask.Rows() == frame.Rows() && mask.Cols() == frame.Cols() {
		if err := drawMask(&out, mask); err != nil {
			out.Close()
			return gocv.NewMat(), err
		}
	}

	if err := gocv.PutText(&out, fmt.Sprintf("Total Damage: %.2f%%", stats.TotalDamage), image.Pt(20, 30), gocv.FontHersheySimplex, 0.8, totalColor, 2); err != nil {
		out.Close()
		return gocv.NewMat(), fmt.Errorf("failed to draw text: %w", err)
	}
	if err := gocv.PutText(&out, fmt.Sprintf("Current Frame: %.2f%%", stats.CurrentDamage), image.Pt(20, 60), gocv.FontHersheySimplex, 0.8, currentColor, 2); err != nil {
		out.Close()
		return gocv.NewMat(), fmt.Errorf("failed to draw text: %w", err)
	}

	for _, det := range detections {
		pt := image.Pt(det.Box.Min.X, det.Box.Min.Y-10)
		if err := gocv.PutText(&out, fmt.Sprintf("%.2f", det.Confidence), pt, gocv.FontHersheySimplex, 0.6, confidenceColor, 2); err != nil {
			out.Close()
			return gocv.NewMat(), fmt.Errorf("failed to draw text: %w", err)
		}
	}

	return c.Fit(out), nil
}

// Fit resizes frame to the output size when they differ, consuming frame.
func (c *Compositor) Fit(frame gocv.Mat) gocv.Mat {
	if c.outSize.X <= 0 || c.outSize.Y <= 0 {
		return frame
	}
	if frame.Cols() == c.outSize.X && frame.Rows() == c.outSize.Y {
		return frame
	}
	resized := gocv.NewMat()
	gocv.Resize(frame, &resized, c.outSize, 0, 0, gocv.InterpolationLinear)
	frame.Close()
	return resized
}

func drawMask(out *gocv.Mat, mask gocv.Mat) error {
	contours := gocv.FindContours(mask, gocv.RetrievalExternal, gocv.ChainApproxSimple)
	defer contours.Close()
	if contours.Size() > 0 {
		gocv.DrawContours(out, contours, -1, contourColor, 2)
	}

	if out.Channels() != 3 {
		return nil
	}

	zeros := gocv.Zeros(mask.Rows(), mask.Cols(), gocv.MatTypeCV8U)
	defer zeros.Close()
	tint := gocv.NewMat()
	defer tint.Close()
	gocv.Merge([]gocv.Mat{zeros, zeros, mask}, &tint)

	blended := gocv.NewMat()
	defer blended.Close()
	gocv.AddWeighted(*out, frameWeight, tint, maskWeight, 0, &blended)
	if blended.Empty() {
		return fmt.Errorf("failed to blend mask overlay")
	}
	blended.CopyTo(out)
	return nil
}
