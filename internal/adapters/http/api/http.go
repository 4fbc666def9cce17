// Package api exposes job submission and job state over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/okian/posefuse/internal/adapters/mq/queue"
	"github.com/okian/posefuse/internal/adapters/repository"
	"github.com/okian/posefuse/internal/domain/model"
	"github.com/okian/posefuse/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Dependencies required by HTTP handlers. Using an interface bundle keeps
// the handler layer loosely coupled to implementations in other packages.
type Dependencies interface {
	// Submit queues a job for asynchronous processing.
	Submit(ctx context.Context, req model.JobRequest) error

	// Read operations expose persisted job state.
	Job(ctx context.Context, subjectID string) (model.Job, error)
	Jobs(ctx context.Context) ([]model.Job, error)
	Frames(ctx context.Context, subjectID, viewID string) ([]model.FusedPoseFrame, error)
}

// StatsProvider defines the interface for getting service statistics.
type StatsProvider interface {
	GetStats() map[string]interface{}
}

// Server wires HTTP routes for the job API.
type Server struct {
	jobs  *JobsHandler
	stats *StatsHandler
}

// NewServer creates a new API server with all handlers.
func NewServer(deps Dependencies, statsProvider StatsProvider) *Server {
	return &Server{
		jobs:  NewJobsHandler(deps),
		stats: NewStatsHandler(deps, statsProvider),
	}
}

// Register attaches all HTTP routes to mux.
func (s *Server) Register(_ context.Context, mux *http.ServeMux) {
	metricsHandler := promhttp.HandlerFor(metrics.GetRegistry(), promhttp.HandlerOpts{})

	mux.HandleFunc("GET /healthz", MetricsMiddleware(metricsHandler.ServeHTTP, "healthz"))
	mux.HandleFunc("GET /stats", MetricsMiddleware(s.stats.HandleStats, "stats"))
	mux.HandleFunc("GET /jobs", MetricsMiddleware(s.jobs.HandleList, "jobs"))
	mux.HandleFunc("POST /jobs", MetricsMiddleware(s.jobs.HandleSubmit, "jobs_submit"))
	mux.HandleFunc("GET /jobs/{subject}", MetricsMiddleware(s.jobs.HandleGet, "job"))
	mux.HandleFunc("GET /jobs/{subject}/views/{view}/frames", MetricsMiddleware(s.jobs.HandleFrames, "frames"))
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code string, err error) {
	msg := http.StatusText(status)
	if err != nil {
		msg = err.Error()
	}
	writeJSON(w, status, errorResponse{Code: code, Message: msg})
}

// writeStoreError maps store errors to 404 or 500.
func writeStoreError(w http.ResponseWriter, err error) {
	if errors.Is(err, repository.ErrNotFound) || errors.Is(err, repository.ErrUnknownView) {
		writeError(w, http.StatusNotFound, "not_found", err)
		return
	}
	writeError(w, http.StatusInternalServerError, "internal_error", err)
}

// writeSubmitError maps queue rejections to status codes.
func writeSubmitError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, queue.ErrInvalidRequest):
		writeError(w, http.StatusBadRequest, "bad_request", err)
	case errors.Is(err, queue.ErrDuplicate):
		writeError(w, http.StatusConflict, "duplicate", err)
	case errors.Is(err, queue.ErrFull):
		writeError(w, http.StatusTooManyRequests, "backpressure", ErrBackpressure)
	case errors.Is(err, queue.ErrClosed):
		writeError(w, http.StatusServiceUnavailable, "unavailable", err)
	default:
		writeError(w, http.StatusInternalServerError, "internal_error", err)
	}
}

func validSegment(s string) bool {
	return strings.TrimSpace(s) != "" && !strings.Contains(s, "/")
}
