package video

import (
	"context"
	"errors"
	"image"
	"io"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gocv.io/x/gocv"
)

func TestOpenFile_Missing(t *testing.T) {
	_, err := OpenFile(filepath.Join(t.TempDir(), "missing.mp4"))
	assert.Error(t, err)
}

func TestSinkSourceRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", "clip.avi")
	size := image.Pt(64, 48)

	sink, err := CreateFile(path, "MJPG", 10, size)
	if err != nil {
		t.Skipf("MJPG writer unavailable: %v", err)
	}

	frame := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(30, 90, 150, 0), 48, 64, gocv.MatTypeCV8UC3)
	defer frame.Close()
	big := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(30, 90, 150, 0), 96, 128, gocv.MatTypeCV8UC3)
	defer big.Close()

	require.NoError(t, sink.Write(frame))
	require.NoError(t, sink.Write(frame))
	require.NoError(t, sink.Write(big))
	assert.Equal(t, 3, sink.Frames())
	require.NoError(t, sink.Close())

	src, err := OpenFile(path)
	require.NoError(t, err)
	defer src.Close()

	assert.Equal(t, size, src.Size())
	assert.InDelta(t, 10, src.FPS(), 0.5)

	read := 0
	for {
		f, err := src.Next(context.Background())
		if errors.Is(err, io.EOF) {
			break
		}
		require.NoError(t, err)
		assert.Equal(t, read, f.Index)
		assert.Equal(t, size, f.Size())
		f.Close()
		read++
	}
	assert.Equal(t, 3, read)
}

func TestNext_HonoursCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	s := &FileSource{}
	_, err := s.Next(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestEndOfStream(t *testing.T) {
	tests := []struct {
		name          string
		before, after float64
		total         int
		want          bool
	}{
		{"decoder did not advance", 10, 10, 100, true},
		{"advanced past a bad frame", 10, 11, 100, false},
		{"advanced onto the last frame", 99, 100, 100, true},
		{"frame count overestimated", 40, 40, 100, true},
		{"unknown frame count", 5, 6, 0, false},
		{"unknown frame count, stalled", 5, 5, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, endOfStream(tt.before, tt.after, tt.total))
		})
	}
}
