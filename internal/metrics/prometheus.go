package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	FramesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "roadscan_frames_total",
		Help: "Frames seen by the pipeline, by outcome",
	}, []string{"outcome"})

	DetectorFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "roadscan_detector_failures_total",
		Help: "Frames whose detector call failed",
	})

	AlignmentFallbacksTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "roadscan_alignment_fallbacks_total",
		Help: "Frames aligned with the identity because no homography was found",
	})

	DistinctInstances = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "roadscan_distinct_instances",
		Help: "Distinct damage instances registered in the current run",
	})

	StageDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "roadscan_stage_duration_seconds",
		Help:    "Per-frame duration of each pipeline stage",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
	}, []string{"stage"})
)

// Frame outcomes.
const (
	OutcomeAccumulated = "accumulated"
	OutcomeSkipped     = "skipped"
	OutcomeReadError   = "read_error"
)

// Handler exposes the registered metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}
