package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"roadscan/internal/config"
	"roadscan/internal/logger"
	"roadscan/internal/model"
	"roadscan/internal/pipeline"
	"roadscan/internal/route"
	"roadscan/internal/service/ai"
	"roadscan/internal/service/coverage"
	"roadscan/internal/service/motion"
	"roadscan/internal/service/storage"
	"roadscan/internal/service/video"
	"roadscan/internal/service/websocket"

	"gocv.io/x/gocv"
)

const shutdownTimeout = 5 * time.Second

// App wires configuration, services and the pipeline for one invocation.
type App struct {
	config          *config.Config
	logger          *logger.Logger
	detectorService *ai.DetectorService
	bufferService   *storage.BufferService
	hubService      *websocket.HubService
}

// NewApp validates cfg and constructs the long-lived services.
func NewApp(cfg *config.Config, logger *logger.Logger) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	a := &App{
		config: cfg,
		logger: logger,
		detectorService: ai.NewDetectorService(ai.Options{
			ModelPath:  cfg.ModelPath,
			ConfigPath: cfg.ModelConfigPath,
			Threshold:  cfg.DetectionThreshold,
			InputSize:  cfg.DetectionInputSize,
		}, logger),
	}
	if cfg.SnapshotDir != "" {
		a.bufferService = storage.NewBufferService(cfg.SnapshotDir, cfg.SnapshotLimit, logger)
	}
	if cfg.PreviewAddr != "" {
		a.hubService = websocket.NewHubService(cfg.PreviewWidth, logger)
	}
	return a, nil
}

// Close releases the detection network.
func (a *App) Close() error {
	return a.detectorService.Close()
}

// Run processes the configured video and returns its summary. A partial
// summary is returned alongside cancellation and read-failure errors.
func (a *App) Run(ctx context.Context) (model.RunSummary, error) {
	source, err := video.OpenFile(a.config.InputPath)
	if err != nil {
		return model.RunSummary{}, err
	}
	defer source.Close()

	sink, err := video.CreateFile(a.config.OutputPath, a.config.OutputCodec, source.FPS(), source.Size())
	if err != nil {
		return model.RunSummary{}, err
	}
	defer func() {
		if err := sink.Close(); err != nil {
			a.logger.Warning("Could not close output video: %v", err)
		}
	}()

	stop := a.startServers(ctx)
	defer stop()

	p := pipeline.New(a.pipelineOptions(sink), a.logger)
	summary, runErr := p.Run(ctx, source, a.detectorService)

	if a.bufferService != nil {
		if _, err := a.bufferService.FlushImages(); err != nil {
			a.logger.Error("Could not flush snapshots: %v", err)
		}
	}
	if a.hubService != nil {
		a.hubService.PublishSummary(summary)
	}

	a.logger.Info("Wrote %d frames to %s", sink.Frames(), a.config.OutputPath)
	return summary, runErr
}

// RunImage scores a single still image and writes the annotated copy to
// the output path.
func (a *App) RunImage(ctx context.Context) (model.ImageReport, error) {
	frame := gocv.IMRead(a.config.InputPath, gocv.IMReadColor)
	if frame.Empty() {
		frame.Close()
		return model.ImageReport{}, fmt.Errorf("could not read image %s", a.config.InputPath)
	}
	defer frame.Close()

	detections, err := a.detectorService.Detect(ctx, model.Frame{Mat: frame})
	if err != nil {
		return model.ImageReport{}, fmt.Errorf("detection failed: %w", err)
	}
	defer model.CloseAll(detections)

	report, annotated, err := pipeline.AnalyzeImage(frame, detections)
	if err != nil {
		return model.ImageReport{}, err
	}
	defer annotated.Close()

	if err := os.MkdirAll(filepath.Dir(a.config.OutputPath), 0755); err != nil {
		return report, fmt.Errorf("error creating directory: %w", err)
	}
	if !gocv.IMWrite(a.config.OutputPath, annotated) {
		return report, fmt.Errorf("could not write image %s", a.config.OutputPath)
	}
	a.logger.Info("Image severity %.2f%% over %d detections", report.Severity, len(report.Detections))
	return report, nil
}

func (a *App) pipelineOptions(sink pipeline.VideoSink) pipeline.Options {
	cfg := a.config
	opts := pipeline.Options{
		Motion: motion.Options{
			MaxFeatures:     cfg.MaxFeatures,
			KeepMatches:     cfg.KeepMatches,
			MinMatches:      cfg.MinMatches,
			RansacThreshold: cfg.RansacThreshold,
		},
		Surface:         coverage.BrightnessCutoff(uint8(cfg.SurfaceCutoff)),
		WarpSurface:     cfg.WarpSurface,
		CellSize:        cfg.CellSize,
		MaxReadFailures: cfg.MaxReadFailures,
		Sink:            sink,
		OnFrame:         a.observe,
	}
	if cfg.ReferenceMode == config.ReferenceFirst {
		opts.Reference = pipeline.ReferenceFirst
	}
	return opts
}

// observe forwards annotated frames to the snapshot buffer and the preview hub.
func (a *App) observe(annotated gocv.Mat, stats model.RunningStats) {
	if a.bufferService != nil && stats.NewInstancesInFrame > 0 {
		if err := a.bufferService.AddFrame(annotated, stats.FrameIndex, stats.NewInstancesInFrame); err != nil {
			a.logger.Warning("Could not buffer snapshot: %v", err)
		}
	}
	if a.hubService != nil {
		a.hubService.PublishFrame(annotated, stats)
	}
}

// startServers brings up the optional metrics and preview endpoints and
// returns a function shutting them down.
func (a *App) startServers(ctx context.Context) func() {
	var servers []*http.Server

	if a.config.MetricsAddr != "" {
		servers = append(servers, a.serve("Metrics", a.config.MetricsAddr, route.SetupMetricsRoutes()))
	}

	hubCtx, cancelHub := context.WithCancel(ctx)
	if a.hubService != nil {
		go a.hubService.Run(hubCtx)
		servers = append(servers, a.serve("Preview", a.config.PreviewAddr,
			route.SetupRoutes(a.hubService, a.config.PreviewToken, a.logger)))
	}

	return func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		for _, srv := range servers {
			if err := srv.Shutdown(shutdownCtx); err != nil {
				a.logger.Warning("Server shutdown: %v", err)
			}
		}
		cancelHub()
	}
}

// serve starts handler on addr in the background.
func (a *App) serve(name, addr string, handler http.Handler) *http.Server {
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		a.logger.Info("%s server listening on %s", name, addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("%s server error: %v", name, err)
		}
	}()
	return srv
}
