// Package httpapi exposes the society over JSON HTTP endpoints.
package httpapi

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"optimus/internal/core"
	"optimus/internal/notify"
	"optimus/internal/platform/ratelimiter"
)

// NotificationLister reads the notification log.
type NotificationLister interface {
	List(kind string) []notify.Notification
}

// Options wires the router. Service and Notifications are required.
type Options struct {
	Service       *core.Service
	Notifications NotificationLister
	// Realtime serves the WebSocket endpoint; nil leaves /ws unrouted.
	Realtime http.Handler
	// Metrics serves the Prometheus exposition; nil leaves /metrics unrouted.
	Metrics    http.Handler
	Limiter    *ratelimiter.MapLimiter
	CORSOrigin string
	Logger     *slog.Logger
	Now        func() time.Time
}

// Handler serves the /api endpoints.
type Handler struct {
	svc           *core.Service
	notifications NotificationLister
	logger        *slog.Logger
}

// NewRouter builds the complete HTTP surface.
func NewRouter(opts Options) (http.Handler, error) {
	if opts.Service == nil {
		return nil, errors.New("httpapi: service is required")
	}
	if opts.Notifications == nil {
		return nil, errors.New("httpapi: notification lister is required")
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	h := &Handler{svc: opts.Service, notifications: opts.Notifications, logger: opts.Logger}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(accessLog(opts.Logger))
	r.Use(middleware.Recoverer)
	r.Use(cors(opts.CORSOrigin))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if opts.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", opts.Metrics)
	}
	if opts.Realtime != nil {
		r.Method(http.MethodGet, "/ws", opts.Realtime)
	}

	r.Route("/api", func(r chi.Router) {
		r.Get("/get_norms", h.getNorms)
		r.Get("/get_all_norms", h.getAllNorms)
		r.Get("/get_valid_norms", h.getValidNorms)
		r.Get("/get_invalid_norms", h.getInvalidNorms)
		r.Get("/get_pending_cases", h.getPendingCases)
		r.Get("/get_solved_cases", h.getSolvedCases)
		r.Get("/get_all_cases", h.getAllCases)
		r.Get("/get_day_state", h.getDayState)
		r.Get("/get_statistics", h.getStatistics)
		r.Get("/get_normative_inflation", h.getNormativeInflation)
		r.Get("/get_notifications", h.getNotifications)
		r.Get("/get_activities", h.getActivities)

		r.Group(func(r chi.Router) {
			r.Use(rateLimit(opts.Limiter, opts.Now))
			r.Post("/create_norm", h.createNorm)
			r.Post("/check_constitutionality", h.checkConstitutionality)
			r.Post("/mark_unconstitutional", h.markUnconstitutional)
			r.Post("/create_case", h.createCase)
			r.Post("/generate_citizen_cases", h.generateCitizenCases)
			r.Post("/solve_case/{case_id}", h.solveCase)
			r.Post("/simulate_day", h.simulateDay)
		})
	})

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, "endpoint not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	})
	return r, nil
}
