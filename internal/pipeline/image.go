package pipeline

import (
	"fmt"
	"image"
	"math"

	"roadscan/internal/model"
	"roadscan/internal/service/coverage"
	"roadscan/internal/service/overlay"

	"gocv.io/x/gocv"
)

// AnalyzeImage scores a single still image. Each detection is measured by
// the area of its largest outer contour; severity is the sum of those areas
// over the image area. The returned annotated image is owned by the caller.
func AnalyzeImage(frame gocv.Mat, detections []model.Detection) (model.ImageReport, gocv.Mat, error) {
	size := image.Pt(frame.Cols(), frame.Rows())
	if size.X <= 0 || size.Y <= 0 {
		return model.ImageReport{}, gocv.NewMat(), fmt.Errorf("%w: %dx%d", ErrInvalidSource, size.X, size.Y)
	}
	imageArea := float64(size.X * size.Y)

	union := gocv.Zeros(size.Y, size.X, gocv.MatTypeCV8U)
	defer union.Close()

	report := model.ImageReport{Detections: []model.DetectionReport{}}
	var outlines []overlay.Outline
	total := 0.0

	for i, det := range detections {
		if !det.HasMask() {
			continue
		}
		placed, err := coverage.PlaceMask(det, size)
		if err != nil {
			return model.ImageReport{}, gocv.NewMat(), fmt.Errorf("detection %d: %w", i, err)
		}
		gocv.BitwiseOr(union, placed, &union)

		contour, area := largestContour(placed)
		placed.Close()
		if contour == nil {
			continue
		}

		number := i + 1
		pct := coverage.AreaPercentage(area, imageArea)
		total += area
		outlines = append(outlines, overlay.Outline{Number: number, Contour: contour, Percentage: pct})
		report.Detections = append(report.Detections, model.DetectionReport{
			Number:     number,
			Confidence: round2(det.Confidence),
			Percentage: round2(pct),
		})
	}

	report.Severity = round2(coverage.AreaPercentage(total, imageArea))

	annotated, err := overlay.RenderImage(frame, union, outlines, report.Severity)
	if err != nil {
		return model.ImageReport{}, gocv.NewMat(), err
	}
	return report, annotated, nil
}

func largestContour(mask gocv.Mat) ([]image.Point, float64) {
	contours := gocv.FindContours(mask, gocv.RetrievalExternal, gocv.ChainApproxSimple)
	defer contours.Close()

	var best []image.Point
	bestArea := -1.0
	for i := 0; i < contours.Size(); i++ {
		c := contours.At(i)
		if area := gocv.ContourArea(c); area > bestArea {
			bestArea = area
			best = c.ToPoints()
		}
	}
	if best == nil {
		return nil, 0
	}
	return best, bestArea
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
