package coverage

import (
	"fmt"
	"image"

	"roadscan/internal/model"
	"roadscan/internal/service/motion"

	"gocv.io/x/gocv"
)

// DefaultSurfaceCutoff is the brightness above which any channel marks a pixel as road.
const DefaultSurfaceCutoff = 50

// SurfacePredicate decides from one BGR sample whether the pixel is road surface.
type SurfacePredicate func(b, g, r uint8) bool

// BrightnessCutoff marks a pixel as surface when any channel exceeds cutoff.
func BrightnessCutoff(cutoff uint8) SurfacePredicate {
	return func(b, g, r uint8) bool {
		return b > cutoff || g > cutoff || r > cutoff
	}
}

// Options configures an Aggregator.
type Options struct {
	Surface SurfacePredicate
	// WarpSurface also warps the surface mask with the frame transform.
	// Off by default: only the damage mask is aligned.
	WarpSurface bool
}

// FrameResult is what folding one frame produced.
type FrameResult struct {
	// Mask is the (possibly warped) union of the frame's detection masks.
	// The caller closes it.
	Mask          gocv.Mat
	MaskPixels    int
	SurfacePixels int
	DamagePixels  int
	CurrentDamage float64
	TotalDamage   float64
	Warped        bool
}

// Close releases the frame mask.
func (r *FrameResult) Close() error {
	return r.Mask.Close()
}

// Aggregator folds per-frame detections into an AggregationState.
type Aggregator struct {
	surface     SurfacePredicate
	warpSurface bool
}

// NewAggregator creates an Aggregator; a nil predicate uses BrightnessCutoff(DefaultSurfaceCutoff).
func NewAggregator(opts Options) *Aggregator {
	if opts.Surface == nil {
		opts.Surface = BrightnessCutoff(DefaultSurfaceCutoff)
	}
	return &Aggregator{surface: opts.Surface, warpSurface: opts.WarpSurface}
}

// Fold merges one frame into state:
//   - the detection masks are unioned into a frame mask,
//   - the frame mask is warped by t unless t barely moves the frame,
//   - surface pixels of the raw frame are marked by the predicate,
//   - the frame mask is unioned into the damage raster.
//
// Damage pixels are also marked as surface so the damage raster never
// exceeds the surface raster.
func (a *Aggregator) Fold(state *AggregationState, frame gocv.Mat, detections []model.Detection, t motion.Transform) (FrameResult, error) {
	size := image.Pt(frame.Cols(), frame.Rows())
	if size != state.Size() {
		return FrameResult{}, fmt.Errorf("frame size %v does not match accumulator size %v", size, state.Size())
	}

	mask, err := UnionMasks(detections, size)
	if err != nil {
		return FrameResult{}, err
	}

	warp := !t.NearIdentity(size, motion.IdentityShift)
	if warp && len(detections) > 0 {
		warped, err := warpBinary(mask, t, size)
		if err != nil {
			mask.Close()
			return FrameResult{}, err
		}
		mask.Close()
		mask = warped
	}

	surface, err := SurfaceMask(frame, a.surface)
	if err != nil {
		mask.Close()
		return FrameResult{}, err
	}
	defer surface.Close()

	if warp && a.warpSurface {
		warped, err := warpBinary(surface, t, size)
		if err != nil {
			mask.Close()
			return FrameResult{}, err
		}
		surface.Close()
		surface = warped
	}

	gocv.BitwiseOr(state.surface, surface, &state.surface)
	if len(detections) > 0 {
		gocv.BitwiseOr(state.surface, mask, &state.surface)
		gocv.BitwiseOr(state.damage, mask, &state.damage)
	}

	res := FrameResult{
		Mask:          mask,
		MaskPixels:    gocv.CountNonZero(mask),
		SurfacePixels: state.SurfacePixels(),
		DamagePixels:  state.DamagePixels(),
		Warped:        warp && len(detections) > 0,
	}
	res.CurrentDamage = Percentage(res.MaskPixels, res.SurfacePixels)
	res.TotalDamage = Percentage(res.DamagePixels, res.SurfacePixels)
	return res, nil
}

// UnionMasks ORs every detection mask, rescaled and binarised, into one
// CV_8U mask of the given size. The caller closes the result.
func UnionMasks(detections []model.Detection, size image.Point) (gocv.Mat, error) {
	union := gocv.Zeros(size.Y, size.X, gocv.MatTypeCV8U)
	for i, det := range detections {
		if !det.HasMask() {
			continue
		}
		bin, err := PlaceMask(det, size)
		if err != nil {
			union.Close()
			return gocv.NewMat(), fmt.Errorf("detection %d: %w", i, err)
		}
		gocv.BitwiseOr(union, bin, &union)
		bin.Close()
	}
	return union, nil
}

// SurfaceMask evaluates pred on every pixel of an 8-bit frame and returns
// a CV_8U mask with 255 where it holds. The caller closes the result.
func SurfaceMask(frame gocv.Mat, pred SurfacePredicate) (gocv.Mat, error) {
	switch frame.Type() {
	case gocv.MatTypeCV8UC1, gocv.MatTypeCV8UC3, gocv.MatTypeCV8UC4:
	default:
		return gocv.NewMat(), fmt.Errorf("unsupported frame type %v", frame.Type())
	}

	src := frame
	if !frame.IsContinuous() {
		src = frame.Clone()
		defer src.Close()
	}
	pixels := src.ToBytes()
	ch := src.Channels()

	out := gocv.Zeros(src.Rows(), src.Cols(), gocv.MatTypeCV8U)
	dst, err := out.DataPtrUint8()
	if err != nil {
		out.Close()
		return gocv.NewMat(), fmt.Errorf("failed to access surface mask: %w", err)
	}

	for i := range dst {
		p := pixels[i*ch : i*ch+ch]
		var b, g, r uint8
		if ch == 1 {
			b, g, r = p[0], p[0], p[0]
		} else {
			b, g, r = p[0], p[1], p[2]
		}
		if pred(b, g, r) {
			dst[i] = 255
		}
	}
	return out, nil
}

// PlaceMask turns a detection mask into a full-size binary raster. A mask
// the size of the detection box is pasted at the box; any other size is
// stretched over the whole frame.
func PlaceMask(det model.Detection, size image.Point) (gocv.Mat, error) {
	bin, err := binarize(det.Mask)
	if err != nil {
		return gocv.NewMat(), err
	}

	frameRect := image.Rect(0, 0, size.X, size.Y)
	maskSize := image.Pt(bin.Cols(), bin.Rows())

	if maskSize == size {
		return bin, nil
	}

	if maskSize == det.Box.Size() && det.Box.In(frameRect) && !det.Box.Empty() {
		full := gocv.Zeros(size.Y, size.X, gocv.MatTypeCV8U)
		region := full.Region(det.Box)
		bin.CopyTo(&region)
		region.Close()
		bin.Close()
		return full, nil
	}

	resized := gocv.NewMat()
	gocv.Resize(bin, &resized, size, 0, 0, gocv.InterpolationNearestNeighbor)
	bin.Close()
	return resized, nil
}

// binarize converts a probability or binary mask to CV_8U 0/255.
func binarize(mask gocv.Mat) (gocv.Mat, error) {
	work := mask.Clone()

	if work.Channels() > 1 {
		gray := gocv.NewMat()
		if err := gocv.CvtColor(work, &gray, gocv.ColorBGRToGray); err != nil {
			work.Close()
			gray.Close()
			return gocv.NewMat(), fmt.Errorf("failed to flatten mask: %w", err)
		}
		work.Close()
		work = gray
	}

	switch work.Type() {
	case gocv.MatTypeCV8U:
	case gocv.MatTypeCV32F, gocv.MatTypeCV64F:
		scaled := gocv.NewMat()
		work.ConvertToWithParams(&scaled, gocv.MatTypeCV8U, 255, 0)
		work.Close()
		work = scaled
	default:
		converted := gocv.NewMat()
		work.ConvertTo(&converted, gocv.MatTypeCV8U)
		work.Close()
		work = converted
	}

	bin := gocv.NewMat()
	gocv.Threshold(work, &bin, 127, 255, gocv.ThresholdBinary)
	work.Close()
	return bin, nil
}

// warpBinary warps a binary mask by t and re-binarises it at half coverage,
// so sub-pixel shifts do not grow the mask by a pixel on every edge.
func warpBinary(mask gocv.Mat, t motion.Transform, size image.Point) (gocv.Mat, error) {
	m := t.Mat()
	defer m.Close()

	warped := gocv.NewMat()
	defer warped.Close()
	gocv.WarpPerspective(mask, &warped, m, size)
	if warped.Empty() {
		return gocv.NewMat(), fmt.Errorf("warp produced an empty mask")
	}

	out := gocv.NewMat()
	gocv.Threshold(warped, &out, 127, 255, gocv.ThresholdBinary)
	return out, nil
}
