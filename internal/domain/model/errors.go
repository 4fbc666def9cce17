package model

import "errors"

// Structural errors abort the affected view and mark it failed.
var (
	ErrCalibrationUnavailable = errors.New("calibration unavailable")
	ErrOutOfOrderWrite        = errors.New("out of order write")
	ErrCorruptStream          = errors.New("corrupt input stream")
)

// Recoverable errors are recorded on the frame and never propagate past the
// component that detects them.
var (
	ErrDetectorTimeout  = errors.New("detector timeout")
	ErrDetectorError    = errors.New("detector error")
	ErrDepthUnresolved  = errors.New("depth unresolved")
	ErrAlignmentInvalid = errors.New("alignment invalid")
)

// ErrorKind names a recoverable per-frame error in output records.
type ErrorKind string

const (
	KindDetectorTimeout  ErrorKind = "detector_timeout"
	KindDetectorError    ErrorKind = "detector_error"
	KindDepthUnresolved  ErrorKind = "depth_unresolved"
	KindAlignmentInvalid ErrorKind = "alignment_invalid"
)

// FrameError is the provenance record of a recoverable error.
type FrameError struct {
	Kind       ErrorKind `json:"kind"`
	DetectorID string    `json:"detector_id,omitempty"`
	Joint      string    `json:"joint,omitempty"`
	Message    string    `json:"message,omitempty"`
}

func (e FrameError) Error() string {
	msg := string(e.Kind)
	if e.DetectorID != "" {
		msg += " [" + e.DetectorID + "]"
	}
	if e.Joint != "" {
		msg += " " + e.Joint
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	return msg
}

// Unwrap maps the kind back to its sentinel so errors.Is works on records.
func (e FrameError) Unwrap() error {
	switch e.Kind {
	case KindDetectorTimeout:
		return ErrDetectorTimeout
	case KindDetectorError:
		return ErrDetectorError
	case KindDepthUnresolved:
		return ErrDepthUnresolved
	case KindAlignmentInvalid:
		return ErrAlignmentInvalid
	}
	return nil
}
