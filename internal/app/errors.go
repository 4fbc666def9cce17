package service

import "errors"

var (
	// ErrInvalidRequest is returned for requests without a subject or recording.
	ErrInvalidRequest = errors.New("invalid job request")
	// ErrNoViews is returned when a recording holds no color stream.
	ErrNoViews = errors.New("recording has no views")
	// ErrNoDetectors is returned when the orchestrator has nothing to run.
	ErrNoDetectors = errors.New("no detectors configured")
	// ErrInterrupted is returned when a run stopped before every view finished.
	ErrInterrupted = errors.New("job interrupted")
	// ErrNotStarted is returned by a service that is not running.
	ErrNotStarted = errors.New("service not started")
)
