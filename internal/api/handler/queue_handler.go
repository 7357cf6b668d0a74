package handler

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/taskboard/notify-engine/internal/domain"
	"github.com/taskboard/notify-engine/internal/service"
)

// QueueHandler serves the operator surface: listing, force-send and deletion.
type QueueHandler struct {
	svc    *service.QueueService
	logger *zap.Logger
}

func NewQueueHandler(svc *service.QueueService, logger *zap.Logger) *QueueHandler {
	return &QueueHandler{svc: svc, logger: logger}
}

type idSetRequest struct {
	IDs []string `json:"ids"`
}

// List handles GET /api/v1/queue
//
// @Summary  List queue entries with filtering and pagination
// @Tags     queue
// @Produce  json
// @Param    status     query     string  false  "Filter by status"
// @Param    recipient  query     string  false  "Filter by recipient id"
// @Param    task       query     string  false  "Filter by task id"
// @Param    from       query     string  false  "Changed after (RFC3339)"
// @Param    to         query     string  false  "Changed before (RFC3339)"
// @Param    q          query     string  false  "Free-text search over details, recipient, task title, actor"
// @Param    page       query     int     false  "Page number (default 1)"
// @Param    limit      query     int     false  "Items per page (default 20, max 100)"
// @Success  200        {object}  map[string]any
// @Router   /api/v1/queue [get]
func (h *QueueHandler) List(w http.ResponseWriter, r *http.Request) {
	filter := parseListFilter(r)
	entries, total, err := h.svc.List(r.Context(), filter)
	if err != nil {
		h.logger.Error("list queue failed", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "failed to list queue entries")
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"data":  entries,
		"total": total,
		"page":  filter.Page,
		"limit": filter.Limit,
	})
}

// GetByID handles GET /api/v1/queue/{id}
//
// @Summary  Get a queue entry by ID
// @Tags     queue
// @Produce  json
// @Param    id   path      string  true  "Entry UUID"
// @Success  200  {object}  domain.QueueEntry
// @Failure  404  {object}  map[string]string
// @Router   /api/v1/queue/{id} [get]
func (h *QueueHandler) GetByID(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	e, err := h.svc.GetByID(r.Context(), id)
	if err != nil {
		mapError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, e)
}

// SendNow handles POST /api/v1/queue/send
//
// @Summary  Force-send selected entries immediately
// @Tags     queue
// @Accept   json
// @Produce  json
// @Param    body  body      idSetRequest  true  "Entry IDs"
// @Success  200   {object}  domain.SendNowResult
// @Failure  422   {object}  map[string]string
// @Router   /api/v1/queue/send [post]
func (h *QueueHandler) SendNow(w http.ResponseWriter, r *http.Request) {
	var req idSetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	result, err := h.svc.SendNow(r.Context(), req.IDs)
	if err != nil {
		h.logger.Warn("force send failed", zap.Error(err))
		mapError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, result)
}

// Delete handles DELETE /api/v1/queue
//
// @Summary  Delete selected entries
// @Tags     queue
// @Accept   json
// @Produce  json
// @Param    body  body      idSetRequest  true  "Entry IDs"
// @Success  200   {object}  map[string]int64
// @Failure  422   {object}  map[string]string
// @Router   /api/v1/queue [delete]
func (h *QueueHandler) Delete(w http.ResponseWriter, r *http.Request) {
	var req idSetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	deleted, err := h.svc.DeleteEntries(r.Context(), req.IDs)
	if err != nil {
		mapError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]int64{"deleted": deleted})
}

// DeleteSent handles DELETE /api/v1/queue/sent
//
// @Summary  Delete all sent entries
// @Tags     queue
// @Produce  json
// @Success  200  {object}  map[string]int64
// @Router   /api/v1/queue/sent [delete]
func (h *QueueHandler) DeleteSent(w http.ResponseWriter, r *http.Request) {
	deleted, err := h.svc.DeleteAllSent(r.Context())
	if err != nil {
		h.logger.Error("delete sent failed", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "failed to delete sent entries")
		return
	}
	respondJSON(w, http.StatusOK, map[string]int64{"deleted": deleted})
}

func parseListFilter(r *http.Request) domain.ListFilter {
	q := r.URL.Query()
	filter := domain.ListFilter{Page: 1, Limit: 20}

	if p, err := strconv.Atoi(q.Get("page")); err == nil && p > 0 {
		filter.Page = p
	}
	if l, err := strconv.Atoi(q.Get("limit")); err == nil && l > 0 && l <= 100 {
		filter.Limit = l
	}
	if s := q.Get("status"); s != "" {
		st := domain.Status(s)
		filter.Status = &st
	}
	if rec := q.Get("recipient"); rec != "" {
		filter.RecipientID = &rec
	}
	if task := q.Get("task"); task != "" {
		filter.TaskID = &task
	}
	if f := q.Get("from"); f != "" {
		if t, err := time.Parse(time.RFC3339, f); err == nil {
			filter.From = &t
		}
	}
	if to := q.Get("to"); to != "" {
		if t, err := time.Parse(time.RFC3339, to); err == nil {
			filter.To = &t
		}
	}
	filter.Search = q.Get("q")
	return filter
}
