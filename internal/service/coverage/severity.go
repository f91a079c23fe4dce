package coverage

import (
	"math"

	"roadscan/internal/model"
)

// Percentage returns part/whole*100 clamped to [0, 100], or 0 when whole is 0.
func Percentage(part, whole int) float64 {
	return AreaPercentage(float64(part), float64(whole))
}

// AreaPercentage is Percentage for fractional areas such as contour areas.
func AreaPercentage(part, whole float64) float64 {
	if whole <= 0 || part <= 0 {
		return 0
	}
	return clamp(part / whole * 100)
}

func clamp(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// Stats accumulates run statistics frame by frame.
//
// The severity sample of a frame is its current-frame damage percentage;
// AverageSeverity is the arithmetic mean of the samples of accumulated
// frames. Skipped frames contribute no sample.
type Stats struct {
	frames      int
	skipped     int
	severitySum float64
	totalDamage float64
	current     float64
}

// Record adds one accumulated frame.
func (s *Stats) Record(res FrameResult) {
	s.frames++
	s.current = clamp(res.CurrentDamage)
	s.severitySum += s.current
	s.totalDamage = clamp(res.TotalDamage)
}

// Skip counts a frame that could not be accumulated.
func (s *Stats) Skip() {
	s.skipped++
}

// Frames returns the number of accumulated frames.
func (s *Stats) Frames() int {
	return s.frames
}

// Skipped returns the number of frames that were not accumulated.
func (s *Stats) Skipped() int {
	return s.skipped
}

// CurrentDamage returns the last recorded frame's damage percentage.
func (s *Stats) CurrentDamage() float64 {
	return s.current
}

// TotalDamage returns the running damaged-surface percentage.
func (s *Stats) TotalDamage() float64 {
	return s.totalDamage
}

// AverageSeverity returns the mean per-frame severity, 0 before any frame.
func (s *Stats) AverageSeverity() float64 {
	if s.frames == 0 {
		return 0
	}
	return clamp(s.severitySum / float64(s.frames))
}

// Summary builds the run summary with values rounded to two decimals.
func (s *Stats) Summary(runID string, distinct int) model.RunSummary {
	return model.RunSummary{
		RunID:                    runID,
		AverageSeverity:          round2(s.AverageSeverity()),
		DamagedSurfacePercentage: round2(s.totalDamage),
		TotalDistinctInstances:   distinct,
		FramesProcessed:          s.frames,
		FramesSkipped:            s.skipped,
	}
}
