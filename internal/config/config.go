package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

const (
	// ReferencePrevious aligns each frame onto the previous frame's grid.
	ReferencePrevious = "previous"
	// ReferenceFirst composes step transforms so every frame lands on the first frame's grid.
	ReferenceFirst = "first"
)

type Config struct {
	InputPath   string `env:"INPUT_PATH"`
	OutputPath  string `env:"OUTPUT_PATH"  envDefault:"output/annotated.mp4"`
	OutputCodec string `env:"OUTPUT_CODEC" envDefault:"mp4v"`

	ModelPath          string  `env:"MODEL_PATH"`
	ModelConfigPath    string  `env:"MODEL_CONFIG_PATH"`
	DetectionThreshold float64 `env:"DETECTION_THRESHOLD"  envDefault:"0.5"`
	DetectionInputSize int     `env:"DETECTION_INPUT_SIZE" envDefault:"300"`

	MaxFeatures     int     `env:"MAX_FEATURES"     envDefault:"500"`
	KeepMatches     int     `env:"KEEP_MATCHES"     envDefault:"50"`
	MinMatches      int     `env:"MIN_MATCHES"      envDefault:"10"`
	RansacThreshold float64 `env:"RANSAC_THRESHOLD" envDefault:"5.0"`

	SurfaceCutoff   int    `env:"SURFACE_CUTOFF"    envDefault:"50"`
	CellSize        int    `env:"CELL_SIZE"         envDefault:"10"`
	ReferenceMode   string `env:"REFERENCE_MODE"    envDefault:"previous"`
	WarpSurface     bool   `env:"WARP_SURFACE"      envDefault:"false"`
	MaxReadFailures int    `env:"MAX_READ_FAILURES" envDefault:"30"`

	SnapshotDir   string `env:"SNAPSHOT_DIR"`
	SnapshotLimit int    `env:"SNAPSHOT_LIMIT" envDefault:"20"`

	PreviewAddr  string `env:"PREVIEW_ADDR"`
	PreviewToken string `env:"PREVIEW_TOKEN"`
	PreviewWidth int    `env:"PREVIEW_WIDTH" envDefault:"480"`

	MetricsAddr  string `env:"METRICS_ADDR"`
	LogDirectory string `env:"LOG_DIR"   envDefault:"logs"`
	LogLevel     string `env:"LOG_LEVEL" envDefault:"info"`
}

// Load reads an optional .env file and then the process environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse environment: %w", err)
	}
	cfg.LogDirectory = filepath.Clean(cfg.LogDirectory)
	return cfg, nil
}

// Validate checks the values the pipeline cannot run without.
func (c *Config) Validate() error {
	if c.InputPath == "" {
		return errors.New("input path is required")
	}
	if c.MaxFeatures <= 0 || c.KeepMatches <= 0 || c.MinMatches < 0 {
		return fmt.Errorf("invalid matcher limits: features=%d keep=%d min=%d", c.MaxFeatures, c.KeepMatches, c.MinMatches)
	}
	if c.RansacThreshold <= 0 {
		return fmt.Errorf("ransac threshold must be positive, got %v", c.RansacThreshold)
	}
	if c.CellSize <= 0 {
		return fmt.Errorf("cell size must be positive, got %d", c.CellSize)
	}
	if c.SurfaceCutoff < 0 || c.SurfaceCutoff > 255 {
		return fmt.Errorf("surface cutoff must be within [0,255], got %d", c.SurfaceCutoff)
	}
	if c.ReferenceMode != ReferencePrevious && c.ReferenceMode != ReferenceFirst {
		return fmt.Errorf("unknown reference mode %q", c.ReferenceMode)
	}
	if c.MaxReadFailures <= 0 {
		return fmt.Errorf("max read failures must be positive, got %d", c.MaxReadFailures)
	}
	return nil
}
