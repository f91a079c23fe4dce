package coverage

import (
	"image"
	"testing"

	"roadscan/internal/model"
	"roadscan/internal/service/motion"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gocv.io/x/gocv"
)

func bgrFrame(w, h int, v float64) gocv.Mat {
	return gocv.NewMatWithSizeFromScalar(gocv.NewScalar(v, v, v, 0), h, w, gocv.MatTypeCV8UC3)
}

func boxDetection(box image.Rectangle) model.Detection {
	return model.Detection{
		Label:      "damage",
		Confidence: 0.9,
		Box:        box,
		Mask:       gocv.NewMatWithSizeFromScalar(gocv.NewScalar(255, 0, 0, 0), box.Dy(), box.Dx(), gocv.MatTypeCV8U),
	}
}

func newState(t *testing.T, w, h int) *AggregationState {
	t.Helper()
	state, err := NewAggregationState(image.Pt(w, h))
	require.NoError(t, err)
	t.Cleanup(func() { state.Close() })
	return state
}

func TestNewAggregationState_RejectsInvalidSize(t *testing.T) {
	for _, size := range []image.Point{{0, 10}, {10, 0}, {-1, -1}} {
		_, err := NewAggregationState(size)
		assert.Error(t, err, "size %v", size)
	}
}

func TestFold_NoDetectionsLeavesDamageUnchanged(t *testing.T) {
	state := newState(t, 100, 100)
	frame := bgrFrame(100, 100, 120)
	defer frame.Close()

	res, err := NewAggregator(Options{}).Fold(state, frame, nil, motion.Identity())
	require.NoError(t, err)
	defer res.Close()

	assert.Equal(t, 0, res.MaskPixels)
	assert.Equal(t, 10000, res.SurfacePixels)
	assert.Equal(t, 0, res.DamagePixels)
	assert.Equal(t, 0.0, res.CurrentDamage)
	assert.Equal(t, 0.0, res.TotalDamage)
	assert.False(t, res.Warped)
}

func TestFold_FullFrameMaskIsFullDamage(t *testing.T) {
	state := newState(t, 50, 40)
	frame := bgrFrame(50, 40, 200)
	defer frame.Close()

	det := model.Detection{
		Box:  image.Rect(0, 0, 50, 40),
		Mask: gocv.NewMatWithSizeFromScalar(gocv.NewScalar(1, 0, 0, 0), 40, 50, gocv.MatTypeCV32F),
	}
	defer det.Close()

	res, err := NewAggregator(Options{}).Fold(state, frame, []model.Detection{det}, motion.Identity())
	require.NoError(t, err)
	defer res.Close()

	assert.Equal(t, 2000, res.DamagePixels)
	assert.Equal(t, 100.0, res.TotalDamage)
	assert.Equal(t, 100.0, res.CurrentDamage)
}

func TestFold_DamageStaysWithinSurface(t *testing.T) {
	state := newState(t, 100, 100)
	dark := bgrFrame(100, 100, 10)
	defer dark.Close()

	det := boxDetection(image.Rect(10, 10, 30, 30))
	defer det.Close()

	res, err := NewAggregator(Options{}).Fold(state, dark, []model.Detection{det}, motion.Identity())
	require.NoError(t, err)
	defer res.Close()

	assert.Equal(t, 400, res.DamagePixels)
	assert.Equal(t, 400, res.SurfacePixels)
	assert.Equal(t, 100.0, res.TotalDamage)
}

func TestFold_AccumulatorsOnlyGrow(t *testing.T) {
	state := newState(t, 100, 100)
	frame := bgrFrame(100, 100, 120)
	defer frame.Close()
	agg := NewAggregator(Options{})

	steps := [][]image.Rectangle{
		{image.Rect(10, 10, 30, 30)},
		{image.Rect(20, 20, 40, 40)},
		nil,
		{image.Rect(10, 10, 30, 30)},
	}
	wantDamage := []int{400, 700, 700, 700}

	for i, boxes := range steps {
		var dets []model.Detection
		for _, b := range boxes {
			dets = append(dets, boxDetection(b))
		}
		res, err := agg.Fold(state, frame, dets, motion.Identity())
		require.NoError(t, err)
		assert.Equal(t, wantDamage[i], res.DamagePixels, "step %d", i)
		assert.Equal(t, 10000, res.SurfacePixels, "step %d", i)
		res.Close()
		model.CloseAll(dets)
	}
}

func TestFold_WarpsDamageMask(t *testing.T) {
	state := newState(t, 100, 100)
	frame := bgrFrame(100, 100, 120)
	defer frame.Close()

	det := boxDetection(image.Rect(10, 10, 30, 30))
	defer det.Close()

	res, err := NewAggregator(Options{}).Fold(state, frame, []model.Detection{det}, motion.Translation(5, 0))
	require.NoError(t, err)
	defer res.Close()

	assert.True(t, res.Warped)
	damage := state.Damage()
	assert.Equal(t, uint8(0), damage.GetUCharAt(20, 12))
	assert.Equal(t, uint8(255), damage.GetUCharAt(20, 32))
	assert.InDelta(t, 400, res.DamagePixels, 40)
}

func TestFold_SizeMismatch(t *testing.T) {
	state := newState(t, 100, 100)
	frame := bgrFrame(80, 100, 120)
	defer frame.Close()

	_, err := NewAggregator(Options{}).Fold(state, frame, nil, motion.Identity())
	assert.Error(t, err)
	assert.Equal(t, 0, state.SurfacePixels())
}

func TestFold_CustomSurfacePredicate(t *testing.T) {
	state := newState(t, 10, 10)
	frame := bgrFrame(10, 10, 120)
	defer frame.Close()

	never := func(b, g, r uint8) bool { return false }
	res, err := NewAggregator(Options{Surface: never}).Fold(state, frame, nil, motion.Identity())
	require.NoError(t, err)
	defer res.Close()
	assert.Equal(t, 0, res.SurfacePixels)
}

func TestBrightnessCutoff(t *testing.T) {
	pred := BrightnessCutoff(DefaultSurfaceCutoff)
	assert.False(t, pred(50, 50, 50))
	assert.True(t, pred(0, 0, 51))
	assert.True(t, pred(51, 0, 0))
}

func TestPlaceMask(t *testing.T) {
	size := image.Pt(100, 100)

	t.Run("box sized mask is pasted at the box", func(t *testing.T) {
		det := boxDetection(image.Rect(60, 70, 70, 80))
		defer det.Close()

		placed, err := PlaceMask(det, size)
		require.NoError(t, err)
		defer placed.Close()

		assert.Equal(t, 100, gocv.CountNonZero(placed))
		assert.Equal(t, uint8(255), placed.GetUCharAt(75, 65))
		assert.Equal(t, uint8(0), placed.GetUCharAt(5, 5))
	})

	t.Run("other sizes stretch over the frame", func(t *testing.T) {
		det := model.Detection{
			Box:  image.Rect(0, 0, 10, 10),
			Mask: gocv.NewMatWithSizeFromScalar(gocv.NewScalar(255, 0, 0, 0), 25, 25, gocv.MatTypeCV8U),
		}
		defer det.Close()

		placed, err := PlaceMask(det, size)
		require.NoError(t, err)
		defer placed.Close()

		assert.Equal(t, 100, placed.Rows())
		assert.Equal(t, 10000, gocv.CountNonZero(placed))
	})

	t.Run("low probabilities are dropped", func(t *testing.T) {
		det := model.Detection{
			Box:  image.Rect(0, 0, 100, 100),
			Mask: gocv.NewMatWithSizeFromScalar(gocv.NewScalar(0.3, 0, 0, 0), 100, 100, gocv.MatTypeCV32F),
		}
		defer det.Close()

		placed, err := PlaceMask(det, size)
		require.NoError(t, err)
		defer placed.Close()
		assert.Equal(t, 0, gocv.CountNonZero(placed))
	})
}

func TestUnionMasks_SkipsDetectionsWithoutMask(t *testing.T) {
	dets := []model.Detection{
		{Box: image.Rect(0, 0, 10, 10)},
		boxDetection(image.Rect(0, 0, 10, 10)),
		boxDetection(image.Rect(5, 5, 15, 15)),
	}
	defer model.CloseAll(dets)

	union, err := UnionMasks(dets, image.Pt(20, 20))
	require.NoError(t, err)
	defer union.Close()
	assert.Equal(t, 175, gocv.CountNonZero(union))
}
