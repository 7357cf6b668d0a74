package handler

import (
	"net/http"

	"github.com/taskboard/notify-engine/internal/domain"
	"github.com/taskboard/notify-engine/internal/service"
)

// StatsHandler serves a human-readable JSON queue snapshot.
// Raw Prometheus metrics (counters, histograms) are available at /metrics
// via promhttp.Handler and are separate from this endpoint.
type StatsHandler struct {
	svc *service.QueueService
}

func NewStatsHandler(svc *service.QueueService) *StatsHandler {
	return &StatsHandler{svc: svc}
}

// GetStats handles GET /api/v1/queue/stats
//
// @Summary  Queue entry counts by status
// @Tags     queue
// @Produce  json
// @Success  200  {object}  map[string]any
// @Router   /api/v1/queue/stats [get]
func (h *StatsHandler) GetStats(w http.ResponseWriter, r *http.Request) {
	counts, err := h.svc.Stats(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to load queue stats")
		return
	}

	pending := counts[domain.StatusPending]
	sent := counts[domain.StatusSent]
	failed := counts[domain.StatusFailed]

	respondJSON(w, http.StatusOK, map[string]any{
		"queue": map[string]int{
			"pending": pending,
			"sent":    sent,
			"failed":  failed,
			"total":   pending + sent + failed,
		},
	})
}
