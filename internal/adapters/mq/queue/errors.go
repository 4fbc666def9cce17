package queue

import "errors"

// Sentinel kinds for queue errors.
var (
	ErrClosed         = errors.New("queue closed")
	ErrFull           = errors.New("queue full")
	ErrDuplicate      = errors.New("subject already queued or running")
	ErrInvalidRequest = errors.New("job request without subject id")
)
