package config

import (
	"fmt"
	"strings"

	"github.com/okian/posefuse/internal/adapters/detector"
	"github.com/okian/posefuse/internal/domain/calibration"
	"github.com/okian/posefuse/pkg/logger"
)

// Validate reports the first operator mistake found. Every error wraps
// ErrInvalidConfig.
func (c *Config) Validate() error {
	if c.AlignmentTolerance <= 0 {
		return fmt.Errorf("%w: alignment_tolerance must be set to a positive duration", ErrInvalidConfig)
	}
	if c.DetectorTimeout <= 0 {
		return fmt.Errorf("%w: detector_timeout must be positive", ErrInvalidConfig)
	}
	if c.OutputPath == "" {
		return fmt.Errorf("%w: output_path must not be empty", ErrInvalidConfig)
	}
	if c.QueueSize < 1 || c.WorkerCount < 1 || c.ViewConcurrency < 1 || c.AcceleratorSlots < 1 {
		return fmt.Errorf("%w: queue_size, worker_count, view_concurrency and accelerator_slots must be positive", ErrInvalidConfig)
	}
	if _, err := calibration.ParsePrecedence(c.CalibrationPrecedence); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if err := c.Projection().Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if err := logger.ValidLevel(c.LogLevel); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if f := strings.ToLower(c.LogFormat); f != "text" && f != "json" {
		return fmt.Errorf("%w: log_format %q", ErrInvalidConfig, c.LogFormat)
	}
	_, err := c.DetectorConfigs()
	return err
}

// Precedence returns the parsed calibration precedence.
func (c *Config) Precedence() calibration.Precedence {
	p, err := calibration.ParsePrecedence(c.CalibrationPrecedence)
	if err != nil {
		return calibration.PreferEmbedded
	}
	return p
}

// DetectorConfigs converts the detector list, rejecting an empty list,
// unknown kinds, formats or capabilities, and repeated ids. Func detectors
// have no backend a config file can name, so they are rejected too.
func (c *Config) DetectorConfigs() ([]detector.Config, error) {
	if len(c.Detectors) == 0 {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, detector.ErrNoDetectors)
	}
	seen := make(map[string]bool, len(c.Detectors))
	out := make([]detector.Config, 0, len(c.Detectors))
	for i, d := range c.Detectors {
		id := strings.TrimSpace(d.ID)
		if id == "" {
			return nil, fmt.Errorf("%w: detector #%d has no id", ErrInvalidConfig, i)
		}
		if seen[id] {
			return nil, fmt.Errorf("%w: %v: %s", ErrInvalidConfig, detector.ErrDuplicateDetector, id)
		}
		seen[id] = true

		kind, err := detector.ParseKind(d.Kind)
		if err != nil {
			return nil, fmt.Errorf("%w: detector %s: %v", ErrInvalidConfig, id, err)
		}
		format, err := detector.ParseFormat(d.Format)
		if err != nil {
			return nil, fmt.Errorf("%w: detector %s: %v", ErrInvalidConfig, id, err)
		}
		capability, err := detector.ParseCapability(d.Capability)
		if err != nil {
			return nil, fmt.Errorf("%w: detector %s: %v", ErrInvalidConfig, id, err)
		}
		switch {
		case kind == detector.KindFunc:
			return nil, fmt.Errorf("%w: detector %s: kind func is only available to embedding programs", ErrInvalidConfig, id)
		case kind == detector.KindHTTP && d.URL == "":
			return nil, fmt.Errorf("%w: detector %s needs a url", ErrInvalidConfig, id)
		case kind == detector.KindProcess && len(d.Command) == 0:
			return nil, fmt.Errorf("%w: detector %s needs a command", ErrInvalidConfig, id)
		case d.MinConfidence < 0 || d.MinConfidence > 1:
			return nil, fmt.Errorf("%w: detector %s min_confidence outside [0,1]", ErrInvalidConfig, id)
		case d.ConfidenceScale < 0:
			return nil, fmt.Errorf("%w: detector %s confidence_scale is negative", ErrInvalidConfig, id)
		}

		timeout := d.Timeout
		if timeout <= 0 {
			timeout = c.DetectorTimeout
		}
		out = append(out, detector.Config{
			ID:              id,
			Kind:            kind,
			Format:          format,
			Capability:      capability,
			Side:            d.Side,
			URL:             d.URL,
			Command:         d.Command,
			Timeout:         timeout,
			MinConfidence:   d.MinConfidence,
			ConfidenceScale: d.ConfidenceScale,
		})
	}
	return out, nil
}
