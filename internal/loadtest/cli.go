package loadtest

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/okian/posefuse/pkg/logger"
)

const logFilePermission = 0o600

// SetupLogging sends log output to both stdout and a file. If logFile is
// empty, a timestamped filename is generated. The returned function closes
// the file.
func SetupLogging(logFile string, verbose bool) (func() error, error) {
	if logFile == "" {
		logFile = "loadtest_" + time.Now().Format("20060102_150405") + ".log"
	}

	file, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, logFilePermission)
	if err != nil {
		return nil, fmt.Errorf("failed to create log file: %w", err)
	}
	if err := logger.InitWithOptions(logger.Options{Output: io.MultiWriter(os.Stdout, file)}); err != nil {
		_ = file.Close()
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	if verbose {
		_ = logger.SetLevelString("debug")
	}
	logger.Get().Info(context.Background(), "logging to file", logger.String("logFile", logFile))
	return file.Close, nil
}

// ShowHelp prints usage information for the load test tool.
func ShowHelp() {
	_, _ = os.Stdout.WriteString(`posefuse load test
==================

Writes synthetic recordings, submits one job per recording to a running
posefuse service and checks the fused frames it serves back.

Usage:
  loadtest [options]

Options:
  -url string
        Base URL of the service (default "http://localhost:9080")
  -dir string
        Directory for generated recordings (default "recordings")
  -subjects int
        Number of recordings and jobs (default 8)
  -frames int
        Color frames per view (default 30)
  -workers int
        Concurrent generators and submitters (default 4)
  -timeout duration
        HTTP request timeout (default 30s)
  -wait duration
        Upper bound on waiting for all jobs (default 10m)
  -log string
        Log file (default: loadtest_TIMESTAMP.log)
  -verbose
        Enable verbose logging
  -help
        Show this help message

Examples:
  loadtest -subjects 50 -frames 300 -workers 8 -url http://localhost:8080
`)
}
