// Command posefuse lifts 2D pose keypoints to 3D using aligned depth frames.
//
// Usage:
//
//	posefuse [flags] [subject=recording.db | recording.db ...]
//
// Every positional argument is one job. A bare path uses the file name
// without extension as the subject id. With -serve the job API stays up
// after the listed jobs were queued until the process is interrupted.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/okian/posefuse/internal/adapters/detector"
	"github.com/okian/posefuse/internal/adapters/http/api"
	"github.com/okian/posefuse/internal/adapters/http/swagger"
	"github.com/okian/posefuse/internal/adapters/repository"
	service "github.com/okian/posefuse/internal/app"
	"github.com/okian/posefuse/internal/config"
	"github.com/okian/posefuse/internal/domain/calibration"
	"github.com/okian/posefuse/internal/domain/model"
	"github.com/okian/posefuse/pkg/logger"
	"github.com/okian/posefuse/pkg/metrics"
)

// Exit codes.
const (
	exitOK          = 0
	exitFailed      = 1
	exitUsage       = 2
	exitInterrupted = 130
)

// HTTP server timeout constants.
const (
	readTimeout       = 10 * time.Second
	writeTimeout      = 30 * time.Second
	idleTimeout       = 60 * time.Second
	readHeaderTimeout = 5 * time.Second
	shutdownTimeout   = 30 * time.Second
	statsInterval     = 5 * time.Second
)

var errUsage = errors.New("usage")

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

type cliOptions struct {
	configPath  string
	calibration string
	precedence  string
	retryFailed bool
	serve       bool
	addr        string
	noProgress  bool
	jsonOutput  bool
	jobs        []model.JobRequest
}

func parseArgs(args []string, stderr io.Writer) (*cliOptions, error) {
	fs := flag.NewFlagSet("posefuse", flag.ContinueOnError)
	fs.SetOutput(stderr)

	o := &cliOptions{}
	fs.StringVar(&o.configPath, "config", "", "YAML config file (default: $"+config.EnvConfigFile+")")
	fs.StringVar(&o.calibration, "calibration", "", "External calibration file, overrides calibration_file")
	fs.StringVar(&o.precedence, "calibration-precedence", "", "Per-job precedence: embedded or external")
	fs.BoolVar(&o.retryFailed, "retry-failed", false, "Reprocess views that failed in an earlier run")
	fs.BoolVar(&o.serve, "serve", false, "Serve the job API until interrupted")
	fs.StringVar(&o.addr, "addr", "", "API listen address, overrides addr")
	fs.BoolVar(&o.noProgress, "no-progress", false, "Disable the progress bar")
	fs.BoolVar(&o.jsonOutput, "json", false, "Print summaries as JSON")
	if err := fs.Parse(args); err != nil {
		return nil, fmt.Errorf("%w: %v", errUsage, err)
	}
	if _, err := calibration.ParsePrecedence(o.precedence); err != nil {
		return nil, fmt.Errorf("%w: %v", errUsage, err)
	}

	for _, arg := range fs.Args() {
		subject, path, ok := strings.Cut(arg, "=")
		if !ok {
			path = arg
			subject = strings.TrimSuffix(filepath.Base(arg), filepath.Ext(arg))
		}
		if subject == "" || path == "" {
			return nil, fmt.Errorf("%w: bad job %q, want subject=recording", errUsage, arg)
		}
		o.jobs = append(o.jobs, model.JobRequest{
			SubjectID:             subject,
			ContainerPath:         path,
			CalibrationFile:       o.calibration,
			CalibrationPrecedence: o.precedence,
			RetryFailed:           o.retryFailed,
		})
	}
	if len(o.jobs) == 0 && !o.serve {
		return nil, fmt.Errorf("%w: no recordings given", errUsage)
	}
	return o, nil
}

func loadConfig(ctx context.Context, o *cliOptions) (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if o.configPath != "" {
		cfg, err = config.LoadFile(ctx, o.configPath)
	} else {
		cfg, err = config.Load(ctx)
	}
	if err != nil {
		return nil, err
	}
	if o.addr != "" {
		cfg.Addr = o.addr
	}
	if o.serve && cfg.Addr == "" {
		return nil, fmt.Errorf("%w: -serve needs addr", config.ErrInvalidConfig)
	}
	return cfg, nil
}

// run executes the command and returns the process exit code. The
// configuration is fully validated before any file is opened.
func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	opts, err := parseArgs(args, stderr)
	if err != nil {
		fmt.Fprintln(stderr, "posefuse:", err)
		return exitUsage
	}
	cfg, err := loadConfig(ctx, opts)
	if err != nil {
		fmt.Fprintln(stderr, "posefuse:", err)
		return exitUsage
	}

	if err := logger.InitWithOptions(logger.Options{Format: cfg.LogFormat, Output: stderr}); err != nil {
		fmt.Fprintln(stderr, "posefuse: failed to initialize logging:", err)
		return exitUsage
	}
	if err := logger.SetLevelString(cfg.LogLevel); err != nil {
		_ = logger.SetLevelString("info")
	}
	log := logger.Get()

	svc, store, bar, err := build(cfg, opts, stderr)
	if err != nil {
		log.Error(ctx, "startup failed", logger.Error(err))
		if errors.Is(err, config.ErrInvalidConfig) || errors.Is(err, detector.ErrInvalidDetector) {
			return exitUsage
		}
		return exitFailed
	}
	defer func() {
		if err := store.Close(); err != nil {
			log.Error(ctx, "failed to close output", logger.Error(err))
		}
	}()

	if err := svc.Start(ctx); err != nil {
		log.Error(ctx, "failed to start service", logger.Error(err))
		return exitFailed
	}

	var srv *http.Server
	if opts.serve {
		srv = serve(ctx, cfg.Addr, svc)
		go updateServiceMetrics(ctx, svc)
	}

	rejected := 0
	for _, req := range opts.jobs {
		if err := svc.Submit(ctx, req); err != nil {
			log.Error(ctx, "job not queued", logger.String("subject", req.SubjectID), logger.Error(err))
			rejected++
		}
	}

	if opts.serve {
		<-ctx.Done()
		log.Info(ctx, "shutting down server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error(ctx, "server shutdown failed", logger.Error(err))
		}
		if err := svc.Stop(shutdownCtx); err != nil {
			log.Error(ctx, "service shutdown failed", logger.Error(err))
		}
	} else {
		svc.Drain()
		_ = svc.Stop(context.Background())
	}
	if bar != nil {
		bar.finish()
	}

	results := svc.Results()
	if err := printResults(stdout, results, opts.jsonOutput); err != nil {
		log.Error(ctx, "failed to print summary", logger.Error(err))
	}
	return exitCode(ctx, results, rejected)
}

// build wires the detectors, the output store and the job service.
func build(cfg *config.Config, opts *cliOptions, stderr io.Writer) (*service.Service, repository.Store, *progress, error) {
	log := logger.Get()

	detectorCfgs, err := cfg.DetectorConfigs()
	if err != nil {
		return nil, nil, nil, err
	}
	gate := detector.NewGate(cfg.AcceleratorSlots)
	registry, err := detector.Build(detectorCfgs, nil,
		detector.WithGate(gate),
		detector.WithLogger(log.Named("detector")))
	if err != nil {
		return nil, nil, nil, err
	}

	store, err := repository.OpenSQLite(cfg.OutputPath, repository.WithLogger(log.Named("store")))
	if err != nil {
		return nil, nil, nil, err
	}

	calibrationFile := cfg.CalibrationFile
	if opts.calibration != "" {
		calibrationFile = opts.calibration
	}
	orchestratorOpts := []service.Option{
		service.WithProjection(cfg.Projection()),
		service.WithPrecedence(cfg.Precedence()),
		service.WithCalibrationFile(calibrationFile),
		service.WithViewConcurrency(cfg.ViewConcurrency),
		service.WithLogger(log.Named("orchestrator")),
	}
	var bar *progress
	if !opts.noProgress && !opts.serve {
		bar = newProgress(stderr)
		orchestratorOpts = append(orchestratorOpts, service.WithProgress(bar.observe))
	}

	orchestrator, err := service.NewOrchestrator(store, registry, cfg.AlignmentTolerance, orchestratorOpts...)
	if err != nil {
		_ = store.Close()
		return nil, nil, nil, err
	}
	svc := service.New(store, orchestrator,
		service.WithWorkerCount(cfg.WorkerCount),
		service.WithQueueSize(cfg.QueueSize),
		service.WithServiceLogger(log.Named("service")))
	return svc, store, bar, nil
}

// serve starts the job API in the background.
func serve(ctx context.Context, addr string, svc *service.Service) *http.Server {
	mux := http.NewServeMux()
	swagger.Register(ctx, mux)
	api.NewServer(svc, svc).Register(ctx, mux)

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadTimeout:       readTimeout,
		WriteTimeout:      writeTimeout,
		IdleTimeout:       idleTimeout,
		ReadHeaderTimeout: readHeaderTimeout,
	}
	go func() {
		logger.Get().Info(ctx, "starting HTTP server", logger.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Get().Error(ctx, "HTTP server failed", logger.Error(err))
		}
	}()
	return srv
}

// updateServiceMetrics refreshes queue gauges while the API is up.
func updateServiceMetrics(ctx context.Context, svc *service.Service) {
	ticker := time.NewTicker(statsInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			stats := svc.GetStats()
			if n, ok := stats["workerCount"].(int); ok {
				metrics.UpdateWorkerCount(n)
			}
			if n, ok := stats["queueSize"].(int); ok {
				metrics.UpdateQueueCapacity(n)
			}
		}
	}
}

func exitCode(ctx context.Context, results []service.Result, rejected int) int {
	if ctx.Err() != nil {
		return exitInterrupted
	}
	code := exitOK
	if rejected > 0 {
		code = exitFailed
	}
	for _, r := range results {
		switch {
		case r.Summary.Outcome == service.OutcomeInterrupted:
			return exitInterrupted
		case r.Error != "" || r.Summary.Outcome == service.OutcomeFailed:
			code = exitFailed
		}
	}
	return code
}
