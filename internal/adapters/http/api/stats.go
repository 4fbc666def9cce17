package api

import (
	"net/http"

	"github.com/okian/posefuse/internal/domain/model"
)

// StatsHandler reports service statistics together with view counts per
// status across all stored jobs.
type StatsHandler struct {
	deps          Dependencies
	statsProvider StatsProvider
}

// NewStatsHandler creates a new stats handler.
func NewStatsHandler(deps Dependencies, statsProvider StatsProvider) *StatsHandler {
	return &StatsHandler{deps: deps, statsProvider: statsProvider}
}

// HandleStats handles GET /stats requests.
func (h *StatsHandler) HandleStats(w http.ResponseWriter, r *http.Request) {
	stats := map[string]interface{}{}
	if h.statsProvider != nil {
		for k, v := range h.statsProvider.GetStats() {
			stats[k] = v
		}
	}

	jobs, err := h.deps.Jobs(r.Context())
	if err != nil {
		writeStoreError(w, err)
		return
	}
	views := map[model.ViewStatus]int{}
	frames := 0
	for _, j := range jobs {
		for _, v := range j.Views {
			views[v.Status]++
			frames += v.FramesWritten
		}
	}
	stats["views"] = views
	stats["framesWritten"] = frames
	writeJSON(w, http.StatusOK, stats)
}
