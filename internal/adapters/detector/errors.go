package detector

import "errors"

// Configuration errors, reported before any frame is processed.
var (
	ErrNoDetectors       = errors.New("no detectors registered")
	ErrUnknownKind       = errors.New("unknown detector kind")
	ErrDuplicateDetector = errors.New("duplicate detector id")
	ErrInvalidDetector   = errors.New("invalid detector configuration")
)
