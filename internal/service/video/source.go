package video

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"os"

	"roadscan/internal/model"

	"gocv.io/x/gocv"
)

// ErrEmptyFrame is returned for a frame that decoded to nothing mid-stream.
var ErrEmptyFrame = errors.New("decoded frame is empty")

// FileSource reads frames from a video file in order.
type FileSource struct {
	capture *gocv.VideoCapture
	size    image.Point
	fps     float64
	total   int
	next    int
}

// OpenFile opens path for reading. It fails when the container cannot be
// opened or reports no usable dimensions.
func OpenFile(path string) (*FileSource, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("video file not found: %w", err)
	}

	capture, err := gocv.VideoCaptureFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open video %s: %w", path, err)
	}
	if !capture.IsOpened() {
		capture.Close()
		return nil, fmt.Errorf("failed to open video %s", path)
	}

	size := image.Pt(int(capture.Get(gocv.VideoCaptureFrameWidth)), int(capture.Get(gocv.VideoCaptureFrameHeight)))
	if size.X <= 0 || size.Y <= 0 {
		capture.Close()
		return nil, fmt.Errorf("video %s reports invalid size %dx%d", path, size.X, size.Y)
	}

	return &FileSource{
		capture: capture,
		size:    size,
		fps:     capture.Get(gocv.VideoCaptureFPS),
		total:   int(capture.Get(gocv.VideoCaptureFrameCount)),
	}, nil
}

// Size returns the frame dimensions declared by the container.
func (s *FileSource) Size() image.Point {
	return s.size
}

// FPS returns the container frame rate.
func (s *FileSource) FPS() float64 {
	return s.fps
}

// Next returns the next frame, io.EOF at end of stream, or ErrEmptyFrame
// for a frame that could not be decoded while more frames remain.
func (s *FileSource) Next(ctx context.Context) (model.Frame, error) {
	if err := ctx.Err(); err != nil {
		return model.Frame{}, err
	}

	before := s.capture.Get(gocv.VideoCapturePosFrames)
	mat := gocv.NewMat()
	if ok := s.capture.Read(&mat); !ok || mat.Empty() {
		mat.Close()
		after := s.capture.Get(gocv.VideoCapturePosFrames)
		if endOfStream(before, after, s.total) {
			return model.Frame{}, io.EOF
		}
		s.next++
		return model.Frame{}, ErrEmptyFrame
	}

	frame := model.Frame{Index: s.next, Mat: mat}
	s.next++
	return frame, nil
}

// endOfStream reports whether a failed read at decoder position before,
// now at after, ended the stream. The container frame count is only an
// estimate, so a read that did not advance the decoder is always the end.
func endOfStream(before, after float64, total int) bool {
	if after <= before {
		return true
	}
	return total > 0 && int(after) >= total
}

// Close releases the capture.
func (s *FileSource) Close() error {
	return s.capture.Close()
}
