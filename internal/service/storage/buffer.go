package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"roadscan/internal/logger"

	"gocv.io/x/gocv"
)

// DefaultSnapshotLimit limits how many frames are buffered per run.
const DefaultSnapshotLimit = 20

const timestampLayout = "2006-01-02_15-04-05.000"

// BufferedFrame is one JPEG-encoded annotated frame waiting to be flushed.
type BufferedFrame struct {
	Timestamp    string
	FrameIndex   int
	NewInstances int
	Data         []byte
}

// BufferService keeps annotated frames that introduced new damage instances
// in memory and writes them to disk on Flush.
type BufferService struct {
	imagesDir string
	limit     int
	images    []BufferedFrame
	dropped   int
	mu        sync.Mutex
	logger    *logger.Logger
}

// NewBufferService creates a BufferService writing into imagesDir.
func NewBufferService(imagesDir string, limit int, logger *logger.Logger) *BufferService {
	if limit <= 0 {
		limit = DefaultSnapshotLimit
	}
	return &BufferService{
		imagesDir: imagesDir,
		limit:     limit,
		images:    make([]BufferedFrame, 0, limit),
		logger:    logger,
	}
}

// AddFrame encodes frame as JPEG and buffers it. Frames beyond the limit
// are counted and dropped.
func (s *BufferService) AddFrame(frame gocv.Mat, frameIndex, newInstances int) error {
	s.mu.Lock()
	full := len(s.images) >= s.limit
	if full {
		s.dropped++
	}
	s.mu.Unlock()
	if full {
		return nil
	}

	buf, err := gocv.IMEncode(gocv.JPEGFileExt, frame)
	if err != nil {
		return fmt.Errorf("failed to encode frame %d: %w", frameIndex, err)
	}
	data := append([]byte(nil), buf.GetBytes()...)
	buf.Close()

	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.images) >= s.limit {
		s.dropped++
		return nil
	}
	s.images = append(s.images, BufferedFrame{
		Timestamp:    time.Now().Format(timestampLayout),
		FrameIndex:   frameIndex,
		NewInstances: newInstances,
		Data:         data,
	})
	s.logger.Debug("Snapshot buffer: %d/%d", len(s.images), s.limit)
	return nil
}

// Len returns the number of buffered frames.
func (s *BufferService) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.images)
}

// FlushImages writes buffered frames to disk and resets the buffer. It
// returns how many files were written.
func (s *BufferService) FlushImages() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.images) == 0 {
		return 0, nil
	}

	if err := os.MkdirAll(s.imagesDir, 0755); err != nil {
		return 0, fmt.Errorf("error creating directory: %w", err)
	}

	savedCount := 0
	for _, image := range s.images {
		filename := fmt.Sprintf("%s_frame%06d_new%d.jpg", image.Timestamp, image.FrameIndex, image.NewInstances)
		fullpath := filepath.Join(s.imagesDir, filename)

		if err := os.WriteFile(fullpath, image.Data, 0644); err != nil {
			s.logger.Error("Error saving image %s: %v", filename, err)
			continue
		}
		savedCount++
	}

	s.logger.Info("Flushed %d snapshots to %s", savedCount, s.imagesDir)
	if s.dropped > 0 {
		s.logger.Info("Dropped %d snapshots over the limit of %d", s.dropped, s.limit)
	}
	s.images = s.images[:0]
	s.dropped = 0
	return savedCount, nil
}
