package video

import (
	"fmt"
	"image"
	"os"
	"path/filepath"

	"gocv.io/x/gocv"
)

const defaultFPS = 25

// FileSink writes annotated frames to a video container.
type FileSink struct {
	writer *gocv.VideoWriter
	size   image.Point
	frames int
}

// CreateFile opens path for writing with the source's frame rate and size.
func CreateFile(path, codec string, fps float64, size image.Point) (*FileSink, error) {
	if fps <= 0 {
		fps = defaultFPS
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create output directory: %w", err)
		}
	}

	writer, err := gocv.VideoWriterFile(path, codec, fps, size.X, size.Y, true)
	if err != nil {
		return nil, fmt.Errorf("failed to create video writer %s: %w", path, err)
	}
	if !writer.IsOpened() {
		writer.Close()
		return nil, fmt.Errorf("failed to open video writer %s with codec %s", path, codec)
	}
	return &FileSink{writer: writer, size: size}, nil
}

// Write appends one frame; frames of another size are resized first.
func (s *FileSink) Write(frame gocv.Mat) error {
	if frame.Cols() != s.size.X || frame.Rows() != s.size.Y {
		resized := gocv.NewMat()
		defer resized.Close()
		gocv.Resize(frame, &resized, s.size, 0, 0, gocv.InterpolationLinear)
		frame = resized
	}
	if err := s.writer.Write(frame); err != nil {
		return fmt.Errorf("failed to write frame: %w", err)
	}
	s.frames++
	return nil
}

// Frames returns how many frames were written.
func (s *FileSink) Frames() int {
	return s.frames
}

// Close finalizes the container.
func (s *FileSink) Close() error {
	return s.writer.Close()
}
