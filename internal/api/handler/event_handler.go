package handler

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	apimw "github.com/taskboard/notify-engine/internal/api/middleware"
	"github.com/taskboard/notify-engine/internal/domain"
	"github.com/taskboard/notify-engine/internal/service"
)

// EventHandler accepts domain events from producers (task, board and
// comment management) and feeds them into intake.
type EventHandler struct {
	svc    *service.QueueService
	logger *zap.Logger
}

func NewEventHandler(svc *service.QueueService, logger *zap.Logger) *EventHandler {
	return &EventHandler{svc: svc, logger: logger}
}

// Notify handles POST /api/v1/events
//
// @Summary     Report a notification-worthy domain event
// @Tags        events
// @Accept      json
// @Produce     json
// @Param       body  body      domain.Event  true  "Domain event"
// @Success     201   {object}  domain.QueueEntry
// @Success     200   {object}  domain.QueueEntry  "Merged into an existing pending entry"
// @Failure     422   {object}  map[string]string
// @Router      /api/v1/events [post]
func (h *EventHandler) Notify(w http.ResponseWriter, r *http.Request) {
	var ev domain.Event
	if err := json.NewDecoder(r.Body).Decode(&ev); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	entry, merged, err := h.svc.Notify(r.Context(), ev)
	if err != nil {
		h.logger.Warn("event intake failed",
			zap.String("correlation_id", apimw.GetCorrelationID(r.Context())),
			zap.Error(err),
		)
		mapError(w, err)
		return
	}

	status := http.StatusCreated
	if merged {
		status = http.StatusOK
	}
	respondJSON(w, status, entry)
}
