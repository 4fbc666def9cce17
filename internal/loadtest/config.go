// Package loadtest drives a running posefuse service end to end: it writes
// synthetic recordings, submits one job per recording over the HTTP API,
// waits for the jobs to finish and checks the fused frames it reads back.
package loadtest

import (
	"time"

	"github.com/okian/posefuse/internal/domain/model"
)

// Config holds configuration for a load test run.
type Config struct {
	BaseURL      string        // Base URL of the service
	Dir          string        // Directory the recordings are written to
	Subjects     int           // Number of recordings (and jobs)
	Frames       int           // Color frames per view
	Workers      int           // Concurrent generators and submitters
	Timeout      time.Duration // HTTP request timeout
	PollInterval time.Duration // Delay between job state polls
	Wait         time.Duration // Upper bound on waiting for all jobs
	Verbose      bool          // Log every job as it finishes
}

// Recording is a generated recording on disk.
type Recording struct {
	SubjectID string
	Path      string
}

// jobRequest mirrors the body of POST /jobs.
type jobRequest struct {
	SubjectID     string `json:"subject_id"`
	ContainerPath string `json:"container_path"`
}

// framesPage mirrors the body of GET /jobs/{subject}/views/{view}/frames.
type framesPage struct {
	Total  int                    `json:"total"`
	Frames []model.FusedPoseFrame `json:"frames"`
}

// Stats holds load test statistics.
type Stats struct {
	RecordingsGenerated int
	JobsSubmitted       int
	JobsAccepted        int
	JobsRejected        int
	JobsFinished        int
	ViewsPartial        int
	ViewsFailed         int
	FramesVerified      int
	StartTime           time.Time
	EndTime             time.Time
	Duration            time.Duration
}
