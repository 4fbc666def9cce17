package service

import (
	"sort"
	"time"

	"github.com/okian/posefuse/internal/domain/model"
)

// Job outcomes.
const (
	OutcomeDone        = "done"
	OutcomePartial     = "partial"
	OutcomeFailed      = "failed"
	OutcomeInterrupted = "interrupted"
)

// ViewSummary is the operator-facing result of one view.
type ViewSummary struct {
	ViewID            string           `json:"view_id"`
	Status            model.ViewStatus `json:"status"`
	FramesWritten     int              `json:"frames_written"`
	TotalFrames       int              `json:"total_frames"`
	RecoverableErrors int              `json:"recoverable_errors,omitempty"`
	ErrorSamples      []string         `json:"error_samples,omitempty"`
	FatalCause        string           `json:"fatal_cause,omitempty"`
}

// Summary is the result of one job run.
type Summary struct {
	SubjectID string        `json:"subject_id"`
	RunID     string        `json:"run_id"`
	Outcome   string        `json:"outcome"`
	Views     []ViewSummary `json:"views"`
	Elapsed   time.Duration `json:"elapsed"`
}

// Summarize builds the summary of a stored job. Views are sorted by id.
func Summarize(job model.Job) Summary {
	s := Summary{SubjectID: job.SubjectID, RunID: job.RunID, Outcome: OutcomeDone}
	for _, v := range job.Views {
		s.Views = append(s.Views, ViewSummary{
			ViewID:            v.ViewID,
			Status:            v.Status,
			FramesWritten:     v.FramesWritten,
			TotalFrames:       v.TotalFrames,
			RecoverableErrors: v.RecoverableErrors,
			ErrorSamples:      append([]string(nil), v.ErrorSamples...),
			FatalCause:        v.FatalCause,
		})
		s.Outcome = worse(s.Outcome, outcomeOf(v.Status))
	}
	sort.Slice(s.Views, func(i, k int) bool { return s.Views[i].ViewID < s.Views[k].ViewID })
	return s
}

func outcomeOf(st model.ViewStatus) string {
	switch st {
	case model.StatusDone:
		return OutcomeDone
	case model.StatusPartial:
		return OutcomePartial
	case model.StatusFailed:
		return OutcomeFailed
	}
	return OutcomeInterrupted
}

var outcomeRank = map[string]int{
	OutcomeDone:        0,
	OutcomePartial:     1,
	OutcomeFailed:      2,
	OutcomeInterrupted: 3,
}

func worse(a, b string) string {
	if outcomeRank[b] > outcomeRank[a] {
		return b
	}
	return a
}
