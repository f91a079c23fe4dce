package model

// RunningStats is the state reported to per-frame observers.
type RunningStats struct {
	FrameIndex          int     `json:"frame_index"`
	CurrentDamage       float64 `json:"current_damage"`
	TotalDamage         float64 `json:"total_damage"`
	DistinctInstances   int     `json:"distinct_instances"`
	FramesProcessed     int     `json:"frames_processed"`
	FramesSkipped       int     `json:"frames_skipped"`
	AlignmentApplied    bool    `json:"alignment_applied"`
	NewInstancesInFrame int     `json:"new_instances_in_frame"`
}

// RunSummary is emitted once the stream ends or the run is cancelled.
type RunSummary struct {
	RunID                    string  `json:"run_id"`
	AverageSeverity          float64 `json:"average_severity"`
	DamagedSurfacePercentage float64 `json:"damaged_surface_percentage"`
	TotalDistinctInstances   int     `json:"total_distinct_instances"`
	FramesProcessed          int     `json:"frames_processed"`
	FramesSkipped            int     `json:"frames_skipped"`
	Partial                  bool    `json:"partial"`
}

// ImageReport is the single-image severity breakdown.
type ImageReport struct {
	Severity   float64           `json:"severity"`
	Detections []DetectionReport `json:"detections"`
}

// DetectionReport describes one detection of an ImageReport.
type DetectionReport struct {
	Number     int     `json:"number"`
	Confidence float64 `json:"confidence"`
	Percentage float64 `json:"percentage"`
}
