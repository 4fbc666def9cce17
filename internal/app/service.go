// Package service runs pose fusion jobs. The Orchestrator processes one
// subject; the Service feeds many subjects to a worker pool through a
// bounded queue and serves job state to the HTTP API.
package service

import (
	"context"
	"fmt"
	"runtime"
	"sort"
	"sync"
	"time"

	"github.com/okian/posefuse/internal/adapters/mq/queue"
	"github.com/okian/posefuse/internal/adapters/mq/worker"
	"github.com/okian/posefuse/internal/adapters/repository"
	"github.com/okian/posefuse/internal/domain/model"
	"github.com/okian/posefuse/pkg/logger"
	"github.com/okian/posefuse/pkg/metrics"
)

// Result is the last run of a subject in this process.
type Result struct {
	Summary Summary `json:"summary"`
	Error   string  `json:"error,omitempty"`
}

// Service implements the API dependencies for the pipeline.
type Service struct {
	mu sync.RWMutex

	store        repository.Store
	orchestrator *Orchestrator
	queue        *queue.InMemoryQueue
	pool         *worker.Pool

	workerCount int
	queueSize   int
	onFinish    func(model.JobRequest, Summary, error)

	results map[string]Result
	started bool

	logger logger.Logger
}

// ServiceOption applies a configuration option to the Service.
type ServiceOption func(*Service)

// WithWorkerCount sets how many subjects are processed at once.
func WithWorkerCount(count int) ServiceOption {
	return func(s *Service) {
		if count > 0 {
			s.workerCount = count
		}
	}
}

// WithQueueSize sets how many submissions can wait for a worker.
func WithQueueSize(size int) ServiceOption {
	return func(s *Service) {
		if size > 0 {
			s.queueSize = size
		}
	}
}

// WithOnFinish installs a callback run after every job.
func WithOnFinish(fn func(model.JobRequest, Summary, error)) ServiceOption {
	return func(s *Service) {
		s.onFinish = fn
	}
}

// WithServiceLogger sets a custom logger for the service.
func WithServiceLogger(l logger.Logger) ServiceOption {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// New constructs a Service around an orchestrator and the store it writes to.
func New(store repository.Store, orchestrator *Orchestrator, opts ...ServiceOption) *Service {
	s := &Service{
		store:        store,
		orchestrator: orchestrator,
		workerCount:  runtime.NumCPU(),
		queueSize:    64,
		results:      map[string]Result{},
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = logger.Get().Named("service")
	}
	return s
}

// Start creates the queue and starts the worker pool. Cancelling ctx
// interrupts running jobs between frames.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return nil
	}
	s.queue = queue.NewInMemoryQueue(queue.WithCapacity(s.queueSize))
	s.pool = worker.NewPool(s.workerCount, s.queue, worker.ProcessorFunc(s.process))
	s.pool.Start(ctx)
	s.started = true

	s.logger.Info(ctx, "pose fusion service started",
		logger.Int("workers", s.pool.Size()),
		logger.Int("queueSize", s.queueSize))
	return nil
}

// Submit queues a job. It fails with queue.ErrDuplicate while the subject
// is queued or running, and with queue.ErrFull when the queue is full.
func (s *Service) Submit(ctx context.Context, req model.JobRequest) error {
	s.mu.RLock()
	q := s.queue
	started := s.started
	s.mu.RUnlock()
	if !started {
		return fmt.Errorf("%w: %w", ErrNotStarted, queue.ErrClosed)
	}

	if req.SubmittedAt.IsZero() {
		req.SubmittedAt = time.Now().UTC()
	}
	if err := q.Enqueue(ctx, req); err != nil {
		metrics.RecordJobRejected()
		s.logger.Warn(ctx, "job rejected",
			logger.String("subject", req.SubjectID),
			logger.Error(err))
		return err
	}
	metrics.RecordJobSubmitted()
	s.logger.Debug(ctx, "job queued",
		logger.String("subject", req.SubjectID),
		logger.String("recording", req.ContainerPath))
	return nil
}

func (s *Service) process(ctx context.Context, req model.JobRequest) error {
	summary, err := s.orchestrator.Run(ctx, req)
	res := Result{Summary: summary}
	if res.Summary.SubjectID == "" {
		res.Summary.SubjectID = req.SubjectID
	}
	if err != nil {
		res.Error = err.Error()
	}

	s.mu.Lock()
	s.results[req.SubjectID] = res
	s.mu.Unlock()

	if s.onFinish != nil {
		s.onFinish(req, summary, err)
	}
	return err
}

// Drain stops accepting submissions and waits until every queued job ran.
func (s *Service) Drain() {
	s.mu.RLock()
	q, pool := s.queue, s.pool
	s.mu.RUnlock()
	if q == nil {
		return
	}
	_ = q.Close()
	pool.Wait()
}

// Stop shuts the pool down after the jobs currently running. Queued jobs
// are dropped.
func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return nil
	}
	s.logger.Info(ctx, "stopping pose fusion service...")
	err := s.pool.Shutdown(ctx)
	s.started = false
	s.logger.Info(ctx, "pose fusion service stopped")
	return err
}

// Results returns the outcome of every job run by this process, sorted by
// subject.
func (s *Service) Results() []Result {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Result, 0, len(s.results))
	for _, r := range s.results {
		out = append(out, r)
	}
	sort.Slice(out, func(i, k int) bool { return out[i].Summary.SubjectID < out[k].Summary.SubjectID })
	return out
}

// Job returns the persisted state of a subject.
func (s *Service) Job(ctx context.Context, subjectID string) (model.Job, error) {
	return s.store.Job(ctx, subjectID)
}

// Jobs returns every persisted job.
func (s *Service) Jobs(ctx context.Context) ([]model.Job, error) {
	return s.store.Jobs(ctx)
}

// Frames returns the fused records of one view.
func (s *Service) Frames(ctx context.Context, subjectID, viewID string) ([]model.FusedPoseFrame, error) {
	if _, err := s.store.Job(ctx, subjectID); err != nil {
		return nil, err
	}
	return s.store.Frames(ctx, subjectID, viewID)
}

// GetStats returns service statistics for monitoring.
func (s *Service) GetStats() map[string]interface{} {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ctx := context.Background()
	stats := map[string]interface{}{
		"started":     s.started,
		"workerCount": s.workerCount,
		"queueSize":   s.queueSize,
		"finished":    len(s.results),
	}
	if s.started {
		queued := s.queue.Len(ctx)
		stats["queueLength"] = queued
		metrics.UpdateQueueSize(queued)
	}
	if jobs, err := s.store.Jobs(ctx); err == nil {
		stats["jobs"] = len(jobs)
	} else {
		s.logger.Warn(ctx, "failed to count jobs", logger.Error(err))
	}
	return stats
}
