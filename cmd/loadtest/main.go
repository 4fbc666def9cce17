package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/okian/posefuse/internal/loadtest"
)

func main() {
	var (
		baseURL  = flag.String("url", "http://localhost:9080", "Base URL of the service")
		dir      = flag.String("dir", "recordings", "Directory for generated recordings")
		subjects = flag.Int("subjects", loadtest.DefaultSubjects, "Number of recordings and jobs")
		frames   = flag.Int("frames", loadtest.DefaultFrames, "Color frames per view")
		workers  = flag.Int("workers", loadtest.DefaultWorkers, "Concurrent generators and submitters")
		timeout  = flag.Duration("timeout", loadtest.DefaultTimeout, "HTTP request timeout")
		wait     = flag.Duration("wait", loadtest.DefaultWait, "Upper bound on waiting for all jobs")
		logFile  = flag.String("log", "", "Log file (default: loadtest_TIMESTAMP.log)")
		verbose  = flag.Bool("verbose", false, "Enable verbose logging")
		help     = flag.Bool("help", false, "Show help")
	)
	flag.Parse()

	if *help {
		loadtest.ShowHelp()
		return
	}

	closeLog, err := loadtest.SetupLogging(*logFile, *verbose)
	if err != nil {
		_, _ = os.Stderr.WriteString("Failed to setup logging: " + err.Error() + "\n")
		os.Exit(1)
	}
	defer func() { _ = closeLog() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg := &loadtest.Config{
		BaseURL:  *baseURL,
		Dir:      *dir,
		Subjects: *subjects,
		Frames:   *frames,
		Workers:  *workers,
		Timeout:  *timeout,
		Wait:     *wait,
		Verbose:  *verbose,
	}
	if _, err := loadtest.Run(ctx, cfg); err != nil {
		_, _ = os.Stderr.WriteString("Load test failed: " + err.Error() + "\n")
		stop()
		_ = closeLog()
		os.Exit(1)
	}
}
