package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/okian/posefuse/internal/domain/calibration"
	"github.com/okian/posefuse/internal/domain/model"
)

const (
	maxRequestBytes   = 1 << 20
	defaultFrameLimit = 100
	maxFrameLimit     = 1000
)

// JobsHandler serves job submission and job state.
type JobsHandler struct {
	deps Dependencies
}

// NewJobsHandler creates a new jobs handler.
func NewJobsHandler(deps Dependencies) *JobsHandler {
	return &JobsHandler{deps: deps}
}

// jobRequest is the body of POST /jobs.
type jobRequest struct {
	SubjectID             string `json:"subject_id"`
	ContainerPath         string `json:"container_path"`
	CalibrationFile       string `json:"calibration_file"`
	CalibrationPrecedence string `json:"calibration_precedence"`
	RetryFailed           bool   `json:"retry_failed"`
}

func (r jobRequest) validate() error {
	switch {
	case !validSegment(r.SubjectID):
		return fmt.Errorf("%w: missing or invalid subject_id", ErrBadRequest)
	case strings.TrimSpace(r.ContainerPath) == "":
		return fmt.Errorf("%w: missing container_path", ErrBadRequest)
	}
	if _, err := calibration.ParsePrecedence(r.CalibrationPrecedence); err != nil {
		return fmt.Errorf("%w: %v", ErrBadRequest, err)
	}
	return nil
}

type submitResponse struct {
	Status    string `json:"status"`
	SubjectID string `json:"subject_id"`
}

// HandleSubmit handles POST /jobs.
func (h *JobsHandler) HandleSubmit(w http.ResponseWriter, r *http.Request) {
	var body jobRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", fmt.Errorf("%w: %v", ErrBadRequest, err))
		return
	}
	if err := body.validate(); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err)
		return
	}

	err := h.deps.Submit(r.Context(), model.JobRequest{
		SubjectID:             body.SubjectID,
		ContainerPath:         body.ContainerPath,
		CalibrationFile:       body.CalibrationFile,
		CalibrationPrecedence: body.CalibrationPrecedence,
		RetryFailed:           body.RetryFailed,
		SubmittedAt:           time.Now().UTC(),
	})
	if err != nil {
		writeSubmitError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, submitResponse{Status: "accepted", SubjectID: body.SubjectID})
}

// HandleList handles GET /jobs.
func (h *JobsHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	jobs, err := h.deps.Jobs(r.Context())
	if err != nil {
		writeStoreError(w, err)
		return
	}
	if jobs == nil {
		jobs = []model.Job{}
	}
	writeJSON(w, http.StatusOK, jobs)
}

// HandleGet handles GET /jobs/{subject}.
func (h *JobsHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	subject := r.PathValue("subject")
	if !validSegment(subject) {
		writeError(w, http.StatusBadRequest, "bad_request", ErrBadRequest)
		return
	}
	job, err := h.deps.Job(r.Context(), subject)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

type framesResponse struct {
	SubjectID string                 `json:"subject_id"`
	ViewID    string                 `json:"view_id"`
	Total     int                    `json:"total"`
	Frames    []model.FusedPoseFrame `json:"frames"`
}

// HandleFrames handles GET /jobs/{subject}/views/{view}/frames. The optional
// "from" and "limit" query parameters page through the records.
func (h *JobsHandler) HandleFrames(w http.ResponseWriter, r *http.Request) {
	subject, view := r.PathValue("subject"), r.PathValue("view")
	if !validSegment(subject) || !validSegment(view) {
		writeError(w, http.StatusBadRequest, "bad_request", ErrBadRequest)
		return
	}
	from, err := queryInt(r, "from", 0)
	if err != nil || from < 0 {
		writeError(w, http.StatusBadRequest, "bad_request", fmt.Errorf("%w: invalid from", ErrBadRequest))
		return
	}
	limit, err := queryInt(r, "limit", defaultFrameLimit)
	if err != nil || limit < 1 || limit > maxFrameLimit {
		writeError(w, http.StatusBadRequest, "bad_request", fmt.Errorf("%w: limit must be in [1,%d]", ErrBadRequest, maxFrameLimit))
		return
	}

	frames, err := h.deps.Frames(r.Context(), subject, view)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	resp := framesResponse{SubjectID: subject, ViewID: view, Total: len(frames), Frames: []model.FusedPoseFrame{}}
	if from < len(frames) {
		end := min(from+limit, len(frames))
		resp.Frames = frames[from:end]
	}
	writeJSON(w, http.StatusOK, resp)
}

func queryInt(r *http.Request, name string, def int) (int, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def, nil
	}
	return strconv.Atoi(v)
}
