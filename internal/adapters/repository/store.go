// Package repository persists fused pose frames and job state.
package repository

import (
	"context"

	"github.com/okian/posefuse/internal/domain/model"
)

// Store provides read/write access to job state and the output series.
type Store interface {
	// SaveJob creates or replaces a job together with every view it lists.
	// Frames already written are kept.
	SaveJob(ctx context.Context, job model.Job) error

	// Job returns the job of a subject. Returns ErrNotFound if there is none.
	Job(ctx context.Context, subjectID string) (model.Job, error)

	// Jobs returns all jobs ordered by subject id.
	Jobs(ctx context.Context) ([]model.Job, error)

	// UpdateView stores a view's status, total frame count and fatal cause.
	// Progress counters are owned by CommitFrame and left untouched.
	UpdateView(ctx context.Context, subjectID string, view model.ViewState) error

	// CommitFrame appends one frame and advances the view's progress in a
	// single atomic step. A frame at or below the view's last completed
	// frame fails with model.ErrOutOfOrderWrite.
	CommitFrame(ctx context.Context, frame model.FusedPoseFrame, progress model.FrameProgress) error

	// Frames returns a view's written frames in index order.
	Frames(ctx context.Context, subjectID, viewID string) ([]model.FusedPoseFrame, error)

	Close() error
}
