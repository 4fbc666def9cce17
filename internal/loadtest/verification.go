package loadtest

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"time"

	"github.com/okian/posefuse/internal/domain/model"
	"github.com/okian/posefuse/pkg/logger"
)

// ErrUnfinished is returned when jobs are still running after Config.Wait.
var ErrUnfinished = errors.New("jobs did not finish")

// ErrMismatch is returned when the frames read back disagree with job state.
var ErrMismatch = errors.New("result mismatch")

// waitForJobs polls every subject until all of its views are finished.
func waitForJobs(ctx context.Context, cfg *Config, recs []Recording, stats *Stats) ([]model.Job, error) {
	logger.Get().Info(ctx, "waiting for jobs to finish", logger.Int("jobs", len(recs)))

	client := newHTTPClient(cfg.BaseURL, cfg.Timeout)
	deadline := time.Now().Add(cfg.Wait)
	pending := make(map[string]bool, len(recs))
	for _, r := range recs {
		pending[r.SubjectID] = true
	}
	done := make([]model.Job, 0, len(recs))

	ticker := time.NewTicker(cfg.PollInterval)
	defer ticker.Stop()
	for len(pending) > 0 {
		for subject := range pending {
			var job model.Job
			err := client.getJSON(ctx, "/jobs/"+url.PathEscape(subject), nil, &job)
			if errors.Is(err, ErrNotFound) {
				continue // queued, not started yet
			}
			if err != nil {
				return nil, err
			}
			if !finished(job) {
				continue
			}
			delete(pending, subject)
			done = append(done, job)
			if cfg.Verbose {
				logger.Get().Info(ctx, "job finished", logger.String("subject", subject), logger.Int("remaining", len(pending)))
			}
		}
		if len(pending) == 0 {
			break
		}
		if time.Now().After(deadline) {
			return nil, fmt.Errorf("%w: %d still pending after %s", ErrUnfinished, len(pending), cfg.Wait)
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}

	sort.Slice(done, func(i, k int) bool { return done[i].SubjectID < done[k].SubjectID })
	stats.JobsFinished = len(done)
	return done, nil
}

func finished(job model.Job) bool {
	if len(job.Views) == 0 {
		return false
	}
	for _, v := range job.Views {
		if !v.Status.Finished() {
			return false
		}
	}
	return true
}

// verifyResults reads back every view and checks the frames against the
// job state: one record per written frame, strictly increasing indices.
func verifyResults(ctx context.Context, cfg *Config, jobs []model.Job, stats *Stats) error {
	logger.Get().Info(ctx, "verifying results", logger.Int("jobs", len(jobs)))

	client := newHTTPClient(cfg.BaseURL, cfg.Timeout)
	for _, job := range jobs {
		for viewID, view := range job.Views {
			switch view.Status {
			case model.StatusPartial:
				stats.ViewsPartial++
			case model.StatusFailed:
				stats.ViewsFailed++
				logger.Get().Warn(ctx, "view failed",
					logger.String("subject", job.SubjectID),
					logger.String("view", viewID),
					logger.String("cause", view.FatalCause))
				continue
			}

			frames, err := readFrames(ctx, client, job.SubjectID, viewID)
			if err != nil {
				return err
			}
			if len(frames) != view.FramesWritten {
				return fmt.Errorf("%w: %s/%s has %d frames, job state says %d",
					ErrMismatch, job.SubjectID, viewID, len(frames), view.FramesWritten)
			}
			for i := 1; i < len(frames); i++ {
				if frames[i].FrameIndex <= frames[i-1].FrameIndex {
					return fmt.Errorf("%w: %s/%s frame %d after %d",
						ErrMismatch, job.SubjectID, viewID, frames[i].FrameIndex, frames[i-1].FrameIndex)
				}
			}
			stats.FramesVerified += len(frames)
		}
	}
	return nil
}

func readFrames(ctx context.Context, client *httpClient, subject, view string) ([]model.FusedPoseFrame, error) {
	path := "/jobs/" + url.PathEscape(subject) + "/views/" + url.PathEscape(view) + "/frames"
	var out []model.FusedPoseFrame
	for {
		q := url.Values{}
		q.Set("from", strconv.Itoa(len(out)))
		q.Set("limit", strconv.Itoa(framePageSize))

		var page framesPage
		if err := client.getJSON(ctx, path, q, &page); err != nil {
			return nil, err
		}
		out = append(out, page.Frames...)
		if len(page.Frames) == 0 || len(out) >= page.Total {
			return out, nil
		}
	}
}
