package overlay

import (
	"fmt"
	"image"
	"image/color"
	"strconv"

	"gocv.io/x/gocv"
)

var (
	shadowColor = color.RGBA{R: 0, G: 0, B: 0, A: 0}
	labelColor  = color.RGBA{R: 255, G: 255, B: 255, A: 0}
)

// Outline is one numbered damage region of a still image.
type Outline struct {
	Number     int
	Contour    []image.Point
	Percentage float64
}

// RenderImage annotates a still image: numbered outlines, a colour-mapped
// mask overlay and a severity summary in the top-left corner. The caller
// closes the result.
func RenderImage(frame gocv.Mat, mask gocv.Mat, outlines []Outline, severity float64) (gocv.Mat, error) {
	out := frame.Clone()

	for _, o := range outlines {
		if len(o.Contour) == 0 {
			continue
		}
		pv := gocv.NewPointsVectorFromPoints([][]image.Point{o.Contour})
		gocv.DrawContours(&out, pv, -1, contourColor, 3)
		pv.Close()

		r := boundingRect(o.Contour)
		center := image.Pt(r.Min.X+r.Dx()/2, r.Min.Y+r.Dy()/2)
		if err := gocv.PutText(&out, strconv.Itoa(o.Number), center, gocv.FontHersheySimplex, 0.8, contourColor, 2); err != nil {
			out.Close()
			return gocv.NewMat(), fmt.Errorf("failed to draw text: %w", err)
		}
	}

	if out.Channels() == 3 && !mask.Empty() && mask.Rows() == out.Rows() && mask.Cols() == out.Cols() {
		colored := gocv.NewMat()
		gocv.ApplyColorMap(mask, &colored, gocv.ColormapJet)
		blended := gocv.NewMat()
		gocv.AddWeighted(out, frameWeight, colored, maskWeight, 0, &blended)
		colored.Close()
		if !blended.Empty() {
			out.Close()
			out = blended
		} else {
			blended.Close()
		}
	}

	if err := shadowText(&out, fmt.Sprintf("Total Damage: %.2f%%", severity), image.Pt(15, 35), 0.8); err != nil {
		out.Close()
		return gocv.NewMat(), err
	}
	y := 60
	for _, o := range outlines {
		if err := shadowText(&out, fmt.Sprintf("Damage %d: %.2f%%", o.Number, o.Percentage), image.Pt(15, y), 0.7); err != nil {
			out.Close()
			return gocv.NewMat(), err
		}
		y += 20
	}
	return out, nil
}

// shadowText draws white text over a thicker black copy of itself.
func shadowText(out *gocv.Mat, text string, at image.Point, scale float64) error {
	if err := gocv.PutText(out, text, at, gocv.FontHersheySimplex, scale, shadowColor, 3); err != nil {
		return fmt.Errorf("failed to draw text: %w", err)
	}
	if err := gocv.PutText(out, text, at, gocv.FontHersheySimplex, scale, labelColor, 2); err != nil {
		return fmt.Errorf("failed to draw text: %w", err)
	}
	return nil
}

func boundingRect(points []image.Point) image.Rectangle {
	r := image.Rectangle{Min: points[0], Max: points[0]}
	for _, p := range points[1:] {
		r.Min.X = min(r.Min.X, p.X)
		r.Min.Y = min(r.Min.Y, p.Y)
		r.Max.X = max(r.Max.X, p.X)
		r.Max.Y = max(r.Max.Y, p.Y)
	}
	return r
}
