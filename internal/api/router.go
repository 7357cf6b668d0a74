package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/taskboard/notify-engine/internal/api/handler"
	apimw "github.com/taskboard/notify-engine/internal/api/middleware"
	"github.com/taskboard/notify-engine/internal/service"
)

// NewRouter wires the chi router, attaches all middleware, and registers
// every route. It is the single source of truth for the HTTP surface area.
func NewRouter(
	svc *service.QueueService,
	reg prometheus.Gatherer,
	logger *zap.Logger,
) http.Handler {
	r := chi.NewRouter()

	// --- global middleware (applied to every route) ---
	r.Use(chimw.Recoverer)          // recover panics, return 500
	r.Use(chimw.RealIP)             // trust X-Forwarded-For / X-Real-IP
	r.Use(chimw.RequestSize(1<<20)) // 1 MB max request body
	r.Use(apimw.CorrelationID)      // X-Correlation-ID inject / echo
	r.Use(apimw.RequestLogger(logger))

	// --- handler instances ---
	eh := handler.NewEventHandler(svc, logger)
	qh := handler.NewQueueHandler(svc, logger)
	sh := handler.NewStatsHandler(svc)
	hh := handler.NewHealthHandler()

	// --- routes ---
	r.Get("/health", hh.Health)

	// Raw Prometheus scrape endpoint (for Prometheus server / Grafana)
	r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	r.Route("/api/v1", func(r chi.Router) {
		// Producer-facing intake
		r.Post("/events", eh.Notify)

		// Operator surface — note: /queue/stats, /queue/send and
		// /queue/sent must be registered before /queue/{id} so chi
		// does not treat those literal segments as IDs.
		r.Get("/queue/stats", sh.GetStats)
		r.Post("/queue/send", qh.SendNow)
		r.Delete("/queue/sent", qh.DeleteSent)
		r.Get("/queue", qh.List)
		r.Delete("/queue", qh.Delete)
		r.Get("/queue/{id}", qh.GetByID)
	})

	return r
}
