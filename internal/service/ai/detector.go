package ai

import (
	"context"
	"errors"
	"fmt"
	"image"
	"os"

	"roadscan/internal/logger"
	"roadscan/internal/model"

	"gocv.io/x/gocv"
)

const (
	// DetectionThreshold is the default minimum confidence for a detection.
	DetectionThreshold = 0.5
	// InputSize is the default square network input edge.
	InputSize = 300

	// SSD rows are [image_id, class_id, confidence, x1, y1, x2, y2], normalised.
	ssdRowWidth = 7
)

// ErrNetworkNotLoaded is returned by Detect when no network could be loaded.
var ErrNetworkNotLoaded = errors.New("detection network not initialized")

// Options locates and tunes the network.
type Options struct {
	ModelPath  string
	ConfigPath string
	Threshold  float64
	InputSize  int
	// Labels maps class ids to names; unknown ids get "damage".
	Labels map[int]string
}

// DetectorService runs an SSD-style network on frames and reports each box
// as a detection whose mask is the filled box.
type DetectorService struct {
	net    gocv.Net
	loaded bool
	opts   Options
	logger *logger.Logger
}

// NewDetectorService creates a detector and tries to load the network.
// A missing or broken model is logged; the service is still returned and
// every Detect call then fails with ErrNetworkNotLoaded.
func NewDetectorService(opts Options, logger *logger.Logger) *DetectorService {
	if opts.Threshold <= 0 {
		opts.Threshold = DetectionThreshold
	}
	if opts.InputSize <= 0 {
		opts.InputSize = InputSize
	}

	service := &DetectorService{opts: opts, logger: logger}
	if err := service.initializeNet(); err != nil {
		service.logger.Warning("Could not initialize detection network: %v", err)
		return service
	}
	return service
}

// initializeNet loads the DNN network and sets backend/target preferences.
func (s *DetectorService) initializeNet() error {
	if s.opts.ModelPath == "" {
		return fmt.Errorf("no model path configured")
	}
	if _, err := os.Stat(s.opts.ModelPath); os.IsNotExist(err) {
		return fmt.Errorf("model file not found: %s", s.opts.ModelPath)
	}
	if s.opts.ConfigPath != "" {
		if _, err := os.Stat(s.opts.ConfigPath); os.IsNotExist(err) {
			return fmt.Errorf("config file not found: %s", s.opts.ConfigPath)
		}
	}

	net := gocv.ReadNet(s.opts.ModelPath, s.opts.ConfigPath)
	if net.Empty() {
		return fmt.Errorf("failed to load network")
	}

	errBackend := net.SetPreferableBackend(gocv.NetBackendDefault)
	errTarget := net.SetPreferableTarget(gocv.NetTargetCPU)
	if errBackend != nil || errTarget != nil {
		net.Close()
		return fmt.Errorf("failed to set preferable backend or target")
	}

	s.net = net
	s.loaded = true
	s.logger.Info("Detection network initialized successfully")
	return nil
}

// Loaded reports whether a network is available.
func (s *DetectorService) Loaded() bool {
	return s.loaded
}

// Detect runs the network on one frame. Masks of the returned detections
// are owned by the caller.
func (s *DetectorService) Detect(ctx context.Context, frame model.Frame) ([]model.Detection, error) {
	if !s.loaded {
		return nil, ErrNetworkNotLoaded
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if frame.Mat.Empty() {
		return nil, fmt.Errorf("frame %d is empty", frame.Index)
	}

	size := image.Pt(s.opts.InputSize, s.opts.InputSize)
	blob := gocv.BlobFromImage(frame.Mat, 1.0/127.5, size, gocv.NewScalar(127.5, 127.5, 127.5, 0), true, false)
	defer blob.Close()

	s.net.SetInput(blob, "")
	output := s.net.Forward("")
	defer output.Close()

	values, err := output.DataPtrFloat32()
	if err != nil {
		return nil, fmt.Errorf("failed to read network output: %w", err)
	}

	boxes := ParseSSD(values, frame.Size(), s.opts.Threshold)
	detections := make([]model.Detection, 0, len(boxes))
	for _, b := range boxes {
		detections = append(detections, model.Detection{
			Label:      s.label(b.ClassID),
			Confidence: b.Confidence,
			Box:        b.Box,
			Mask:       boxMask(b.Box),
		})
	}

	if len(detections) > 0 {
		s.logger.Debug("Frame %d: %d detections", frame.Index, len(detections))
	}
	return detections, nil
}

// Close releases the network.
func (s *DetectorService) Close() error {
	if !s.loaded {
		return nil
	}
	s.loaded = false
	return s.net.Close()
}

func (s *DetectorService) label(classID int) string {
	if name, ok := s.opts.Labels[classID]; ok {
		return name
	}
	return "damage"
}

// SSDBox is one decoded network row.
type SSDBox struct {
	ClassID    int
	Confidence float64
	Box        image.Rectangle
}

// ParseSSD decodes a flat SSD output ([N x 7] rows of normalised
// coordinates) into pixel boxes clipped to frameSize, keeping rows whose
// confidence exceeds threshold.
func ParseSSD(values []float32, frameSize image.Point, threshold float64) []SSDBox {
	frameRect := image.Rect(0, 0, frameSize.X, frameSize.Y)

	var boxes []SSDBox
	for i := 0; i+ssdRowWidth <= len(values); i += ssdRowWidth {
		confidence := float64(values[i+2])
		if confidence <= threshold {
			continue
		}
		box := image.Rect(
			int(values[i+3]*float32(frameSize.X)),
			int(values[i+4]*float32(frameSize.Y)),
			int(values[i+5]*float32(frameSize.X)),
			int(values[i+6]*float32(frameSize.Y)),
		).Intersect(frameRect)
		if box.Empty() {
			continue
		}
		boxes = append(boxes, SSDBox{
			ClassID:    int(values[i+1]),
			Confidence: confidence,
			Box:        box,
		})
	}
	return boxes
}

// boxMask is a filled box-sized mask, pasted at the box by the aggregator.
func boxMask(box image.Rectangle) gocv.Mat {
	return gocv.NewMatWithSizeFromScalar(gocv.NewScalar(255, 0, 0, 0), box.Dy(), box.Dx(), gocv.MatTypeCV8U)
}
