package loadtest

import (
	"context"
	"fmt"
	"net/http"
	"path/filepath"
	"sync/atomic"

	"github.com/okian/posefuse/pkg/logger"
	"golang.org/x/sync/errgroup"
)

// submitJobs posts one job per recording and returns the accepted ones.
// Rejected submissions are counted, not treated as failures.
func submitJobs(ctx context.Context, cfg *Config, recs []Recording, stats *Stats) ([]Recording, error) {
	logger.Get().Info(ctx, "submitting jobs", logger.Int("jobs", len(recs)), logger.Int("workers", cfg.Workers))

	client := newHTTPClient(cfg.BaseURL, cfg.Timeout)
	var submitted, rejected atomic.Int64
	accepted := make([]bool, len(recs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(cfg.Workers)
	for i, rec := range recs {
		g.Go(func() error {
			path, err := filepath.Abs(rec.Path)
			if err != nil {
				return err
			}
			code, err := client.postJSON(gctx, "/jobs", jobRequest{SubjectID: rec.SubjectID, ContainerPath: path})
			if err != nil {
				return fmt.Errorf("submit %s: %w", rec.SubjectID, err)
			}
			submitted.Add(1)
			if code != http.StatusAccepted {
				rejected.Add(1)
				logger.Get().Warn(gctx, "job rejected", logger.String("subject", rec.SubjectID), logger.Int("status", code))
				return nil
			}
			accepted[i] = true
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make([]Recording, 0, len(recs))
	for i, ok := range accepted {
		if ok {
			out = append(out, recs[i])
		}
	}
	stats.JobsSubmitted = int(submitted.Load())
	stats.JobsRejected = int(rejected.Load())
	stats.JobsAccepted = len(out)
	return out, nil
}
