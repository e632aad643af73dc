package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// RouterConfig selects optional routes and middleware.
type RouterConfig struct {
	// PassportIssue mounts POST /auth/passport.
	PassportIssue bool
	// AttendLimiter limits POST /lecture/attend per subject when set.
	AttendLimiter *RateLimiter
	Health        map[string]Check
	Logger        *slog.Logger
}

// NewRouter builds the HTTP API.
func NewRouter(h *LectureHandler, cfg RouterConfig) http.Handler {
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}

	r := chi.NewRouter()

	// Global middleware stack
	r.Use(chimiddleware.Recoverer) // recover from panics, return 500
	r.Use(chimiddleware.RequestID) // attach request IDs
	r.Use(chimiddleware.RealIP)    // trust X-Forwarded-For
	r.Use(Logger(log))             // structured access log

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	})

	r.Get("/health", HealthCheck(cfg.Health))
	r.Handle("/metrics", promhttp.Handler())

	if cfg.PassportIssue {
		r.Post("/auth/passport", h.IssuePassport)
	}

	r.Route("/lecture", func(r chi.Router) {
		r.Use(h.Authenticate)
		r.Post("/open", h.OpenLecture)
		r.Post("/close", h.CloseLecture)
		r.Get("/informations", h.LectureInfo)

		attend := r.With()
		if cfg.AttendLimiter != nil {
			attend = r.With(cfg.AttendLimiter.Middleware(SubjectKey))
		}
		attend.Post("/attend", h.AttendLecture)
	})

	return r
}
