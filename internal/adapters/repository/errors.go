package repository

import "errors"

// Sentinel kinds for store errors.
var (
	ErrNotFound    = errors.New("job not found")
	ErrUnknownView = errors.New("view not part of job")
	ErrInvalidJob  = errors.New("invalid job")
)
