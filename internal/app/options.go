package service

import (
	"time"

	"github.com/google/uuid"
	"github.com/okian/posefuse/internal/adapters/container"
	"github.com/okian/posefuse/internal/domain/calibration"
	"github.com/okian/posefuse/internal/domain/projection"
	"github.com/okian/posefuse/pkg/logger"
)

// Opener opens the recording at path for reading.
type Opener func(path string) (container.Recording, error)

// OpenSQLite opens recordings stored as SQLite files.
func OpenSQLite(path string) (container.Recording, error) {
	return container.Open(path)
}

// ProgressEvent is emitted after every written frame.
type ProgressEvent struct {
	SubjectID  string
	ViewID     string
	FrameIndex int
	// Planned is the view's total number of color frames.
	Planned int
}

// ProgressFunc observes frame progress. It is called from view goroutines
// and must not block.
type ProgressFunc func(ProgressEvent)

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithOpener replaces the recording opener.
func WithOpener(open Opener) Option {
	return func(o *Orchestrator) {
		if open != nil {
			o.open = open
		}
	}
}

// WithProjection sets the depth lookup options.
func WithProjection(opts projection.Options) Option {
	return func(o *Orchestrator) {
		o.projection = opts
	}
}

// WithPrecedence sets which calibration source wins on conflicts.
func WithPrecedence(p calibration.Precedence) Option {
	return func(o *Orchestrator) {
		if p != "" {
			o.precedence = p
		}
	}
}

// WithCalibrationFile sets the external calibration file used by requests
// that do not name their own.
func WithCalibrationFile(path string) Option {
	return func(o *Orchestrator) {
		o.calibrationFile = path
	}
}

// WithViewConcurrency bounds how many views of one job run at once.
func WithViewConcurrency(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.viewConcurrency = n
		}
	}
}

// WithProgress installs a progress observer.
func WithProgress(fn ProgressFunc) Option {
	return func(o *Orchestrator) {
		o.progress = fn
	}
}

// WithClock sets the clock used for elapsed times.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) {
		if now != nil {
			o.now = now
		}
	}
}

// WithRunID sets the run id generator.
func WithRunID(next func() string) Option {
	return func(o *Orchestrator) {
		if next != nil {
			o.runID = next
		}
	}
}

// WithLogger sets a custom logger.
func WithLogger(l logger.Logger) Option {
	return func(o *Orchestrator) {
		if l != nil {
			o.logger = l
		}
	}
}

func newRunID() string { return uuid.NewString() }
