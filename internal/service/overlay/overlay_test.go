package overlay

import (
	"image"
	"testing"

	"roadscan/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gocv.io/x/gocv"
)

func TestRender_KeepsFrameSize(t *testing.T) {
	frame := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(100, 100, 100, 0), 120, 160, gocv.MatTypeCV8UC3)
	defer frame.Close()
	mask := gocv.Zeros(120, 160, gocv.MatTypeCV8U)
	defer mask.Close()
	region := mask.Region(image.Rect(20, 20, 60, 60))
	region.SetTo(gocv.NewScalar(255, 0, 0, 0))
	region.Close()

	dets := []model.Detection{{Confidence: 0.87, Box: image.Rect(20, 20, 60, 60)}}
	out, err := NewCompositor(image.Pt(160, 120)).Render(frame, mask, dets, model.RunningStats{TotalDamage: 8.33, CurrentDamage: 8.33})
	require.NoError(t, err)
	defer out.Close()

	assert.Equal(t, 160, out.Cols())
	assert.Equal(t, 120, out.Rows())
	// the source frame is not drawn on
	assert.Equal(t, uint8(100), frame.GetVecbAt(40, 40)[2])
	// the tinted region leans red
	px := out.GetVecbAt(40, 40)
	assert.Greater(t, px[2], px[0])
}

func TestRender_ResizesToOutputSize(t *testing.T) {
	frame := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(0, 0, 0, 0), 100, 100, gocv.MatTypeCV8UC3)
	defer frame.Close()
	mask := gocv.NewMat()
	defer mask.Close()

	out, err := NewCompositor(image.Pt(64, 48)).Render(frame, mask, nil, model.RunningStats{})
	require.NoError(t, err)
	defer out.Close()

	assert.Equal(t, 64, out.Cols())
	assert.Equal(t, 48, out.Rows())
}

func TestFit_PassesThroughMatchingSize(t *testing.T) {
	frame := gocv.NewMatWithSize(48, 64, gocv.MatTypeCV8UC3)
	out := NewCompositor(image.Pt(64, 48)).Fit(frame)
	defer out.Close()
	assert.Equal(t, 64, out.Cols())
	assert.Equal(t, 48, out.Rows())
}

func TestRenderImage(t *testing.T) {
	frame := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(90, 90, 90, 0), 100, 100, gocv.MatTypeCV8UC3)
	defer frame.Close()
	mask := gocv.Zeros(100, 100, gocv.MatTypeCV8U)
	defer mask.Close()

	outlines := []Outline{{
		Number:     1,
		Contour:    []image.Point{{10, 10}, {10, 29}, {29, 29}, {29, 10}},
		Percentage: 3.61,
	}}
	out, err := RenderImage(frame, mask, outlines, 3.61)
	require.NoError(t, err)
	defer out.Close()

	assert.Equal(t, 100, out.Cols())
	assert.Equal(t, 100, out.Rows())
}

func TestBoundingRect(t *testing.T) {
	r := boundingRect([]image.Point{{5, 9}, {2, 14}, {8, 3}})
	assert.Equal(t, image.Rect(2, 3, 8, 14), r)
}
