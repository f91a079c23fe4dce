package motion

import (
	"fmt"
	"image"
	"sort"

	"gocv.io/x/gocv"
)

const (
	// DefaultMaxFeatures caps ORB keypoints per frame.
	DefaultMaxFeatures = 500
	// DefaultKeepMatches is how many of the closest matches feed the estimator.
	DefaultKeepMatches = 50
	// DefaultMinMatches is the least number of matches worth estimating from.
	DefaultMinMatches = 10
	// DefaultRansacThreshold is the inlier reprojection tolerance in pixels.
	DefaultRansacThreshold = 5.0

	ransacMaxIters   = 2000
	ransacConfidence = 0.995
	// a homography needs four correspondences
	minHomographyPoints = 4

	// ORB patch and border size; shrunk on small frames so keypoints are
	// not confined to a narrow central window.
	maxPatchSize = 31
	minPatchSize = 8
)

// Options tunes keypoint extraction and matching.
type Options struct {
	MaxFeatures     int
	KeepMatches     int
	MinMatches      int
	RansacThreshold float64
}

// DefaultOptions returns the stock matcher limits.
func DefaultOptions() Options {
	return Options{
		MaxFeatures:     DefaultMaxFeatures,
		KeepMatches:     DefaultKeepMatches,
		MinMatches:      DefaultMinMatches,
		RansacThreshold: DefaultRansacThreshold,
	}
}

// KeypointSet holds the keypoints and binary descriptors of one frame.
type KeypointSet struct {
	Points      []gocv.KeyPoint
	Descriptors gocv.Mat
}

// Len returns the number of keypoints.
func (k *KeypointSet) Len() int {
	if k == nil {
		return 0
	}
	return len(k.Points)
}

func (k *KeypointSet) usable() bool {
	return k.Len() > 0 && !k.Descriptors.Empty()
}

// Close releases the descriptor matrix. Safe on nil.
func (k *KeypointSet) Close() error {
	if k == nil {
		return nil
	}
	return k.Descriptors.Close()
}

// Alignment is the outcome of one frame-to-frame estimate.
type Alignment struct {
	Transform Transform
	// Found is false when the identity was substituted.
	Found   bool
	Matches int
	Inliers int
	Reason  string
}

// Compensator estimates the homography that maps the current frame onto
// the previous one. It keeps no frame history; the caller carries the
// previous KeypointSet between calls.
type Compensator struct {
	orb       gocv.ORB
	patchSize int
	matcher   gocv.BFMatcher
	opts      Options
}

// NewCompensator creates a cross-checked Hamming matcher. The ORB extractor
// is created on the first frame, sized to it.
func NewCompensator(opts Options) *Compensator {
	if opts.MaxFeatures <= 0 {
		opts.MaxFeatures = DefaultMaxFeatures
	}
	if opts.KeepMatches <= 0 {
		opts.KeepMatches = DefaultKeepMatches
	}
	if opts.RansacThreshold <= 0 {
		opts.RansacThreshold = DefaultRansacThreshold
	}

	return &Compensator{
		matcher: gocv.NewBFMatcherWithParams(gocv.NormHamming, true),
		opts:    opts,
	}
}

// Close releases the OpenCV objects.
func (c *Compensator) Close() error {
	var errOrb error
	if c.patchSize > 0 {
		errOrb = c.orb.Close()
		c.patchSize = 0
	}
	errMatcher := c.matcher.Close()
	if errOrb != nil {
		return errOrb
	}
	return errMatcher
}

// PatchSize returns the ORB patch size for a frame whose shorter side is
// minSide: 31 from 248 px up, an eighth of the side below that.
func PatchSize(minSide int) int {
	return max(minPatchSize, min(maxPatchSize, minSide/8))
}

// extractor returns the ORB extractor for frames of size, recreating it
// when the patch size changes.
func (c *Compensator) extractor(size image.Point) gocv.ORB {
	patch := PatchSize(min(size.X, size.Y))
	if patch != c.patchSize {
		if c.patchSize > 0 {
			c.orb.Close()
		}
		c.orb = gocv.NewORBWithParams(c.opts.MaxFeatures, 1.2, 8, patch, 0, 2, gocv.ORBScoreTypeHarris, patch, 20)
		c.patchSize = patch
	}
	return c.orb
}

// Extract computes keypoints and descriptors of a grayscale frame.
func (c *Compensator) Extract(gray gocv.Mat) *KeypointSet {
	noMask := gocv.NewMat()
	defer noMask.Close()

	orb := c.extractor(image.Pt(gray.Cols(), gray.Rows()))
	points, descriptors := orb.DetectAndCompute(gray, noMask)
	return &KeypointSet{Points: points, Descriptors: descriptors}
}

// Estimate extracts the current frame's keypoints and, when prev is usable,
// estimates the current->previous homography. The returned set replaces
// prev for the next call; closing prev is the caller's job.
func (c *Compensator) Estimate(gray gocv.Mat, prev *KeypointSet) (Alignment, *KeypointSet) {
	cur := c.Extract(gray)

	if prev == nil {
		return Alignment{Transform: Identity(), Reason: "first frame"}, cur
	}
	if !prev.usable() || !cur.usable() {
		return Alignment{Transform: Identity(), Reason: "no keypoints"}, cur
	}

	matches := c.matcher.Match(cur.Descriptors, prev.Descriptors)
	sort.Slice(matches, func(i, j int) bool { return matches[i].Distance < matches[j].Distance })
	if len(matches) > c.opts.KeepMatches {
		matches = matches[:c.opts.KeepMatches]
	}

	if len(matches) < c.opts.MinMatches || len(matches) < minHomographyPoints {
		return Alignment{
			Transform: Identity(),
			Matches:   len(matches),
			Reason:    fmt.Sprintf("only %d matches", len(matches)),
		}, cur
	}

	t, inliers, ok := c.homography(cur, prev, matches)
	if !ok {
		return Alignment{Transform: Identity(), Matches: len(matches), Reason: "degenerate homography"}, cur
	}
	if t.NearIdentity(image.Pt(gray.Cols(), gray.Rows()), IdentityShift) {
		t = Identity()
	}

	return Alignment{Transform: t, Found: true, Matches: len(matches), Inliers: inliers}, cur
}

func (c *Compensator) homography(cur, prev *KeypointSet, matches []gocv.DMatch) (Transform, int, bool) {
	src := gocv.NewMatWithSize(len(matches), 1, gocv.MatTypeCV64FC2)
	defer src.Close()
	dst := gocv.NewMatWithSize(len(matches), 1, gocv.MatTypeCV64FC2)
	defer dst.Close()

	for i, m := range matches {
		if m.QueryIdx < 0 || m.QueryIdx >= len(cur.Points) || m.TrainIdx < 0 || m.TrainIdx >= len(prev.Points) {
			return Identity(), 0, false
		}
		q := cur.Points[m.QueryIdx]
		p := prev.Points[m.TrainIdx]
		src.SetDoubleAt(i, 0, q.X)
		src.SetDoubleAt(i, 1, q.Y)
		dst.SetDoubleAt(i, 0, p.X)
		dst.SetDoubleAt(i, 1, p.Y)
	}

	inlierMask := gocv.NewMat()
	defer inlierMask.Close()

	h := gocv.FindHomography(src, dst, gocv.HomographyMethodRANSAC, c.opts.RansacThreshold, &inlierMask, ransacMaxIters, ransacConfidence)
	defer h.Close()

	t, ok := FromMat(h)
	if !ok {
		return Identity(), 0, false
	}

	inliers := 0
	if !inlierMask.Empty() {
		inliers = gocv.CountNonZero(inlierMask)
	}
	return t, inliers, true
}

// Grayscale returns the single-channel projection of a BGR (or already
// gray) frame. The caller closes the result.
func Grayscale(frame gocv.Mat) (gocv.Mat, error) {
	if frame.Channels() == 1 {
		return frame.Clone(), nil
	}

	gray := gocv.NewMat()
	code := gocv.ColorBGRToGray
	if frame.Channels() == 4 {
		code = gocv.ColorBGRAToGray
	}
	if err := gocv.CvtColor(frame, &gray, code); err != nil {
		gray.Close()
		return gocv.NewMat(), fmt.Errorf("failed to convert image to grayscale: %w", err)
	}
	return gray, nil
}
