package model

import "time"

// ViewStatus is the state of one view within a job.
type ViewStatus string

const (
	StatusPending     ViewStatus = "pending"
	StatusCalibrating ViewStatus = "calibrating"
	StatusCalibrated  ViewStatus = "calibrated"
	StatusAligning    ViewStatus = "aligning"
	StatusAligned     ViewStatus = "aligned"
	StatusRunning     ViewStatus = "running"
	StatusPartial     ViewStatus = "partial"
	StatusDone        ViewStatus = "done"
	StatusFailed      ViewStatus = "failed"
)

// Finished reports whether the view reached a terminal status.
func (s ViewStatus) Finished() bool {
	return s == StatusDone || s == StatusPartial || s == StatusFailed
}

// NoFrame marks a view with no completed frame yet.
const NoFrame = -1

// MaxErrorSamples bounds the recoverable errors kept per view for summaries.
const MaxErrorSamples = 5

// ViewState is the persisted progress of one view.
type ViewState struct {
	ViewID             string     `json:"view_id"`
	Status             ViewStatus `json:"status"`
	LastCompletedFrame int        `json:"last_completed_frame"`
	TotalFrames        int        `json:"total_frames"`
	FramesWritten      int        `json:"frames_written"`
	RecoverableErrors  int        `json:"recoverable_errors"`
	ErrorSamples       []string   `json:"error_samples,omitempty"`
	FatalCause         string     `json:"fatal_cause,omitempty"`
	UpdatedAt          time.Time  `json:"updated_at"`
}

// NewViewState returns a pending view with no progress.
func NewViewState(viewID string) ViewState {
	return ViewState{ViewID: viewID, Status: StatusPending, LastCompletedFrame: NoFrame}
}

// Job is the persisted state of one subject's batch run.
type Job struct {
	SubjectID     string               `json:"subject_id"`
	ContainerPath string               `json:"container_path"`
	RunID         string               `json:"run_id"`
	Views         map[string]ViewState `json:"views"`
	CreatedAt     time.Time            `json:"created_at"`
	UpdatedAt     time.Time            `json:"updated_at"`
}

// FrameProgress is the job bookkeeping committed together with a frame.
type FrameProgress struct {
	RecoverableErrors int
	ErrorSamples      []string
}

// JobRequest asks for one subject's recording to be processed.
type JobRequest struct {
	SubjectID       string `json:"subject_id"`
	ContainerPath   string `json:"container_path"`
	CalibrationFile string `json:"calibration_file,omitempty"`
	// CalibrationPrecedence overrides the configured precedence for this
	// job: "embedded" or "external".
	CalibrationPrecedence string    `json:"calibration_precedence,omitempty"`
	RetryFailed           bool      `json:"retry_failed,omitempty"`
	SubmittedAt           time.Time `json:"submitted_at"`
}
