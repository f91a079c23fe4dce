package storage

import (
	"os"
	"path/filepath"
	"testing"

	"roadscan/internal/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gocv.io/x/gocv"
)

func TestBufferService_FlushWritesJPEGs(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "snapshots")
	s := NewBufferService(dir, 5, logger.Nop())

	frame := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(0, 0, 255, 0), 32, 32, gocv.MatTypeCV8UC3)
	defer frame.Close()

	require.NoError(t, s.AddFrame(frame, 3, 1))
	require.NoError(t, s.AddFrame(frame, 9, 2))
	assert.Equal(t, 2, s.Len())

	saved, err := s.FlushImages()
	require.NoError(t, err)
	assert.Equal(t, 2, saved)
	assert.Equal(t, 0, s.Len())

	files, err := filepath.Glob(filepath.Join(dir, "*_frame000003_new1.jpg"))
	require.NoError(t, err)
	require.Len(t, files, 1)

	decoded := gocv.IMRead(files[0], gocv.IMReadColor)
	defer decoded.Close()
	assert.Equal(t, 32, decoded.Cols())
}

func TestBufferService_RespectsLimit(t *testing.T) {
	s := NewBufferService(t.TempDir(), 2, logger.Nop())
	frame := gocv.NewMatWithSize(8, 8, gocv.MatTypeCV8UC3)
	defer frame.Close()

	for i := 0; i < 5; i++ {
		require.NoError(t, s.AddFrame(frame, i, 1))
	}
	assert.Equal(t, 2, s.Len())
}

func TestBufferService_FlushEmpty(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "never")
	s := NewBufferService(dir, 0, logger.Nop())

	saved, err := s.FlushImages()
	require.NoError(t, err)
	assert.Equal(t, 0, saved)

	_, err = os.Stat(dir)
	assert.True(t, os.IsNotExist(err))
}
