// Package config defines process configuration and how it is loaded.
//
// Values are layered: defaults from New, then an optional YAML file named by
// POSEFUSE_CONFIG, then POSEFUSE_* environment variables.
package config

import (
	"runtime"
	"time"

	"github.com/okian/posefuse/internal/domain/projection"
)

// Config contains process configuration.
type Config struct {
	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel string `koanf:"log_level"`
	// LogFormat is "text" or "json".
	LogFormat string `koanf:"log_format"`

	// Addr is the status API listen address, e.g. ":9080". Empty disables it.
	Addr string `koanf:"addr"`

	// OutputPath is the output container that also holds job state.
	OutputPath string `koanf:"output_path"`

	// QueueSize bounds the number of jobs waiting for a worker.
	QueueSize int `koanf:"queue_size"`
	// WorkerCount is the number of subjects processed at once.
	WorkerCount int `koanf:"worker_count"`
	// ViewConcurrency bounds the views of one job processed at once.
	ViewConcurrency int `koanf:"view_concurrency"`
	// AcceleratorSlots is the number of detector calls allowed in flight
	// across all jobs.
	AcceleratorSlots int `koanf:"accelerator_slots"`

	// AlignmentTolerance is the largest color/depth time difference accepted
	// as a match. It has no default and must be set.
	AlignmentTolerance time.Duration `koanf:"alignment_tolerance"`

	// DetectorTimeout applies to detectors that do not set their own.
	DetectorTimeout time.Duration `koanf:"detector_timeout"`

	// CalibrationFile is the optional external calibration table.
	CalibrationFile string `koanf:"calibration_file"`
	// CalibrationPrecedence is "embedded" or "external".
	CalibrationPrecedence string `koanf:"calibration_precedence"`

	MinDepth      float64 `koanf:"min_depth"`
	MaxDepth      float64 `koanf:"max_depth"`
	DepthScale    float64 `koanf:"depth_scale"`
	DepthWindow   int     `koanf:"depth_window"`
	MaxIterations int     `koanf:"max_iterations"`
	SeedDepth     float64 `koanf:"seed_depth"`

	Detectors []Detector `koanf:"detectors"`
}

// Detector configures one pose detector.
type Detector struct {
	ID         string `koanf:"id"`
	Kind       string `koanf:"kind"`
	Format     string `koanf:"format"`
	Capability string `koanf:"capability"`
	// Side picks the hand of an openpose hand detector: "right" or "left".
	Side    string        `koanf:"side"`
	URL     string        `koanf:"url"`
	Command []string      `koanf:"command"`
	Timeout time.Duration `koanf:"timeout"`
	// MinConfidence is in [0,1] after scaling by ConfidenceScale.
	MinConfidence   float64 `koanf:"min_confidence"`
	ConfidenceScale float64 `koanf:"confidence_scale"`
}

// New returns a Config with defaults.
func New() *Config {
	depth := projection.DefaultOptions()
	return &Config{
		LogLevel:              "info",
		LogFormat:             "text",
		OutputPath:            "posefuse.db",
		QueueSize:             64,
		WorkerCount:           2,
		ViewConcurrency:       runtime.NumCPU(),
		AcceleratorSlots:      1,
		DetectorTimeout:       30 * time.Second,
		CalibrationPrecedence: "embedded",
		MinDepth:              depth.MinDepth,
		MaxDepth:              depth.MaxDepth,
		DepthScale:            depth.DepthScale,
		DepthWindow:           depth.Window,
		MaxIterations:         depth.MaxIterations,
		SeedDepth:             depth.SeedDepth,
	}
}

// Projection returns the depth lookup options.
func (c *Config) Projection() projection.Options {
	return projection.Options{
		MinDepth:      c.MinDepth,
		MaxDepth:      c.MaxDepth,
		DepthScale:    c.DepthScale,
		Window:        c.DepthWindow,
		MaxIterations: c.MaxIterations,
		SeedDepth:     c.SeedDepth,
	}
}
