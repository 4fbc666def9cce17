package loadtest

import (
	"context"
	"fmt"
	"time"

	"github.com/okian/posefuse/pkg/logger"
)

// Run executes the complete load test.
func Run(ctx context.Context, cfg *Config) (*Stats, error) {
	cfg.applyDefaults()
	stats := &Stats{StartTime: time.Now()}

	logger.Get().Info(ctx, "starting posefuse load test",
		logger.String("baseURL", cfg.BaseURL),
		logger.Int("subjects", cfg.Subjects),
		logger.Int("frames", cfg.Frames),
		logger.Int("workers", cfg.Workers),
		logger.Duration("timeout", cfg.Timeout))

	// Step 1: Check service health
	if err := checkServiceHealth(ctx, cfg); err != nil {
		return stats, fmt.Errorf("service health check failed: %w", err)
	}

	// Step 2: Write recordings
	recs, err := generateRecordings(ctx, cfg, stats)
	if err != nil {
		return stats, fmt.Errorf("recording generation failed: %w", err)
	}

	// Step 3: Submit jobs
	accepted, err := submitJobs(ctx, cfg, recs, stats)
	if err != nil {
		return stats, fmt.Errorf("job submission failed: %w", err)
	}

	// Step 4: Wait for processing
	jobs, err := waitForJobs(ctx, cfg, accepted, stats)
	if err != nil {
		return stats, fmt.Errorf("waiting for jobs failed: %w", err)
	}

	// Step 5: Verify results
	if err := verifyResults(ctx, cfg, jobs, stats); err != nil {
		return stats, fmt.Errorf("result verification failed: %w", err)
	}

	stats.EndTime = time.Now()
	stats.Duration = stats.EndTime.Sub(stats.StartTime)
	displayFinalStats(ctx, stats)
	return stats, nil
}

func (c *Config) applyDefaults() {
	if c.Subjects <= 0 {
		c.Subjects = DefaultSubjects
	}
	if c.Frames <= 0 {
		c.Frames = DefaultFrames
	}
	if c.Workers <= 0 {
		c.Workers = DefaultWorkers
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.Wait <= 0 {
		c.Wait = DefaultWait
	}
	if c.Dir == "" {
		c.Dir = "recordings"
	}
}

// checkServiceHealth verifies the service is running.
func checkServiceHealth(ctx context.Context, cfg *Config) error {
	client := newHTTPClient(cfg.BaseURL, cfg.Timeout)
	if err := client.getJSON(ctx, "/healthz", nil, nil); err != nil {
		return fmt.Errorf("failed to connect to service: %w", err)
	}
	logger.Get().Info(ctx, "service is healthy")
	return nil
}

// displayFinalStats logs the final statistics.
func displayFinalStats(ctx context.Context, stats *Stats) {
	var framesPerSecond float64
	if stats.Duration > 0 {
		framesPerSecond = float64(stats.FramesVerified) / stats.Duration.Seconds()
	}

	logger.Get().Info(ctx, "final statistics",
		logger.Int("recordingsGenerated", stats.RecordingsGenerated),
		logger.Int("jobsSubmitted", stats.JobsSubmitted),
		logger.Int("jobsAccepted", stats.JobsAccepted),
		logger.Int("jobsRejected", stats.JobsRejected),
		logger.Int("jobsFinished", stats.JobsFinished),
		logger.Int("viewsPartial", stats.ViewsPartial),
		logger.Int("viewsFailed", stats.ViewsFailed),
		logger.Int("framesVerified", stats.FramesVerified),
		logger.String("duration", stats.Duration.String()),
		logger.Float64("framesPerSecond", framesPerSecond))
}
