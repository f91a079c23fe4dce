package pipeline

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"time"

	"roadscan/internal/logger"
	"roadscan/internal/metrics"
	"roadscan/internal/model"
	"roadscan/internal/service/coverage"
	"roadscan/internal/service/dedup"
	"roadscan/internal/service/motion"
	"roadscan/internal/service/overlay"

	"github.com/google/uuid"
	"gocv.io/x/gocv"
)

var (
	// ErrInvalidSource is returned before any state is allocated when the
	// source reports unusable dimensions.
	ErrInvalidSource = errors.New("frame source reports invalid dimensions")
	// ErrTooManyReadFailures stops a run whose source keeps failing.
	ErrTooManyReadFailures = errors.New("too many consecutive frame read failures")
)

// DefaultMaxReadFailures is how many consecutive read errors end a run.
const DefaultMaxReadFailures = 30

// FrameSource yields decoded frames in order. Next returns io.EOF at the
// end of the stream; any other error is a failure of that one frame.
type FrameSource interface {
	Size() image.Point
	FPS() float64
	Next(ctx context.Context) (model.Frame, error)
}

// Detector turns one frame into detections. It may be slow.
type Detector interface {
	Detect(ctx context.Context, frame model.Frame) ([]model.Detection, error)
}

// VideoSink receives annotated frames in order.
type VideoSink interface {
	Write(frame gocv.Mat) error
}

// FrameObserver is called once per frame with the annotated output. The
// frame is only valid during the call.
type FrameObserver func(annotated gocv.Mat, stats model.RunningStats)

// ReferenceMode selects the grid frames are aligned onto.
type ReferenceMode int

const (
	// ReferencePrevious warps each damage mask onto the previous frame and
	// dedups on raw pixel positions.
	ReferencePrevious ReferenceMode = iota
	// ReferenceFirst composes step transforms so masks and box centers are
	// mapped onto the first frame's grid.
	ReferenceFirst
)

// Options configures a Pipeline. Zero values pick the defaults.
type Options struct {
	Motion          motion.Options
	Surface         coverage.SurfacePredicate
	WarpSurface     bool
	CellSize        int
	Reference       ReferenceMode
	MaxReadFailures int
	// OutputSize of annotated frames; zero means the source size.
	OutputSize image.Point
	Sink       VideoSink
	OnFrame    FrameObserver
}

// Pipeline runs the multi-frame damage aggregation over one stream at a
// time. A Pipeline holds no per-run state and may be reused.
type Pipeline struct {
	opts   Options
	logger *logger.Logger
}

// New creates a Pipeline.
func New(opts Options, logger *logger.Logger) *Pipeline {
	if opts.CellSize <= 0 {
		opts.CellSize = dedup.DefaultCellSize
	}
	if opts.MaxReadFailures <= 0 {
		opts.MaxReadFailures = DefaultMaxReadFailures
	}
	if opts.Motion == (motion.Options{}) {
		opts.Motion = motion.DefaultOptions()
	}
	return &Pipeline{opts: opts, logger: logger}
}

// run is the state owned by a single Run call.
type run struct {
	id         string
	log        *logger.Logger
	opts       Options
	state      *coverage.AggregationState
	compensate *motion.Compensator
	aggregator *coverage.Aggregator
	registry   *dedup.Registry
	compositor *overlay.Compositor
	stats      coverage.Stats

	// prev is the keypoint set of the last frame, nil before the first.
	prev       *motion.KeypointSet
	cumulative motion.Transform
}

// Run processes src to the end and returns the run summary. Detector and
// per-frame failures are logged and skipped. When ctx is cancelled the run
// stops between frames and returns the partial summary together with the
// context error.
func (p *Pipeline) Run(ctx context.Context, src FrameSource, det Detector) (model.RunSummary, error) {
	size := src.Size()
	if size.X <= 0 || size.Y <= 0 {
		return model.RunSummary{}, fmt.Errorf("%w: %dx%d", ErrInvalidSource, size.X, size.Y)
	}

	state, err := coverage.NewAggregationState(size)
	if err != nil {
		return model.RunSummary{}, err
	}
	defer state.Close()

	outSize := p.opts.OutputSize
	if outSize.X <= 0 || outSize.Y <= 0 {
		outSize = size
	}

	id := uuid.NewString()
	r := &run{
		id:         id,
		log:        p.logger.With("run_id", id),
		opts:       p.opts,
		state:      state,
		compensate: motion.NewCompensator(p.opts.Motion),
		aggregator: coverage.NewAggregator(coverage.Options{Surface: p.opts.Surface, WarpSurface: p.opts.WarpSurface}),
		registry:   dedup.NewRegistry(p.opts.CellSize, p.opts.Reference == ReferenceFirst),
		compositor: overlay.NewCompositor(outSize),
		cumulative: motion.Identity(),
	}
	defer r.compensate.Close()
	defer func() { r.prev.Close() }()

	metrics.DistinctInstances.Set(0)
	r.log.Info("Run started: %dx%d at %.2f fps", size.X, size.Y, src.FPS())

	failures := 0
	for {
		if err := ctx.Err(); err != nil {
			return r.summary(true), err
		}

		frame, err := src.Next(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return r.summary(true), ctxErr
			}
			failures++
			r.stats.Skip()
			metrics.FramesTotal.WithLabelValues(metrics.OutcomeReadError).Inc()
			r.log.Warning("Frame read failed (%d in a row): %v", failures, err)
			if failures >= p.opts.MaxReadFailures {
				return r.summary(true), fmt.Errorf("%w: last error: %v", ErrTooManyReadFailures, err)
			}
			continue
		}
		failures = 0

		r.step(ctx, frame, det)
		frame.Close()
	}

	summary := r.summary(false)
	r.log.Info("Run finished: %d frames, %d skipped, %d distinct instances, %.2f%% damaged, average severity %.2f",
		summary.FramesProcessed, summary.FramesSkipped, summary.TotalDistinctInstances,
		summary.DamagedSurfacePercentage, summary.AverageSeverity)
	return summary, nil
}

func (r *run) summary(partial bool) model.RunSummary {
	s := r.stats.Summary(r.id, r.registry.Len())
	s.Partial = partial
	return s
}

// step processes one frame. It never fails the run.
func (r *run) step(ctx context.Context, frame model.Frame, det Detector) {
	work := frame
	if frame.Size() != r.state.Size() {
		resized := gocv.NewMat()
		defer resized.Close()
		gocv.Resize(frame.Mat, &resized, r.state.Size(), 0, 0, gocv.InterpolationLinear)
		work = model.Frame{Index: frame.Index, Mat: resized}
	}

	transform, ok := r.align(work)
	if !ok {
		r.skip(work)
		return
	}

	started := time.Now()
	detections, err := det.Detect(ctx, work)
	metrics.StageDuration.WithLabelValues("detect").Observe(time.Since(started).Seconds())
	if err != nil {
		metrics.DetectorFailuresTotal.Inc()
		r.log.Warning("Detector failed on frame %d: %v", work.Index, err)
		r.skip(work)
		return
	}
	defer model.CloseAll(detections)

	started = time.Now()
	res, err := r.aggregator.Fold(r.state, work.Mat, detections, transform)
	metrics.StageDuration.WithLabelValues("aggregate").Observe(time.Since(started).Seconds())
	if err != nil {
		r.log.Warning("Could not accumulate frame %d: %v", work.Index, err)
		r.skip(work)
		return
	}
	defer res.Close()

	fresh := 0
	for _, d := range detections {
		if r.registry.Observe(d.Box, transform) {
			fresh++
		}
	}
	metrics.DistinctInstances.Set(float64(r.registry.Len()))

	r.stats.Record(res)
	metrics.FramesTotal.WithLabelValues(metrics.OutcomeAccumulated).Inc()

	running := r.running(work.Index, res.Warped, fresh)

	started = time.Now()
	annotated, err := r.compositor.Render(work.Mat, res.Mask, detections, running)
	if err != nil {
		r.log.Warning("Could not annotate frame %d: %v", work.Index, err)
		annotated = r.compositor.Fit(work.Mat.Clone())
	}
	metrics.StageDuration.WithLabelValues("render").Observe(time.Since(started).Seconds())

	r.emit(annotated, running)
}

// align advances the keypoint history and returns the transform to apply
// to this frame's damage mask and box centers.
func (r *run) align(frame model.Frame) (motion.Transform, bool) {
	started := time.Now()
	defer func() {
		metrics.StageDuration.WithLabelValues("motion").Observe(time.Since(started).Seconds())
	}()

	gray, err := motion.Grayscale(frame.Mat)
	if err != nil {
		r.log.Warning("Frame %d: %v", frame.Index, err)
		return motion.Identity(), false
	}
	defer gray.Close()

	first := r.prev == nil
	alignment, kps := r.compensate.Estimate(gray, r.prev)
	r.prev.Close()
	r.prev = kps

	if !alignment.Found && !first {
		metrics.AlignmentFallbacksTotal.Inc()
		r.log.Debug("Frame %d aligned with identity: %s", frame.Index, alignment.Reason)
	}

	if r.opts.Reference == ReferenceFirst {
		r.cumulative = r.cumulative.Mul(alignment.Transform)
		return r.cumulative, true
	}
	return alignment.Transform, true
}

// skip counts the frame as not accumulated and forwards it unannotated.
// The frame contributed no damage, so its current percentage is 0.
func (r *run) skip(frame model.Frame) {
	r.stats.Skip()
	metrics.FramesTotal.WithLabelValues(metrics.OutcomeSkipped).Inc()

	running := r.running(frame.Index, false, 0)
	running.CurrentDamage = 0
	r.emit(r.compositor.Fit(frame.Mat.Clone()), running)
}

func (r *run) running(index int, aligned bool, fresh int) model.RunningStats {
	return model.RunningStats{
		FrameIndex:          index,
		CurrentDamage:       r.stats.CurrentDamage(),
		TotalDamage:         r.stats.TotalDamage(),
		DistinctInstances:   r.registry.Len(),
		FramesProcessed:     r.stats.Frames(),
		FramesSkipped:       r.stats.Skipped(),
		AlignmentApplied:    aligned,
		NewInstancesInFrame: fresh,
	}
}

// emit hands the annotated frame to the sink and observer, then releases it.
func (r *run) emit(annotated gocv.Mat, stats model.RunningStats) {
	defer annotated.Close()

	if r.opts.Sink != nil {
		if err := r.opts.Sink.Write(annotated); err != nil {
			r.log.Warning("Could not write frame %d: %v", stats.FrameIndex, err)
		}
	}
	if r.opts.OnFrame != nil {
		r.opts.OnFrame(annotated, stats)
	}
}
