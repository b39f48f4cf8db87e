// Package api exposes the portal over HTTP: the applicant-facing
// submission, status, and checkout endpoints, and the admin surface for
// flags, DLQ, circuit breakers, and worker scaling.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	portal "github.com/huytu0702/university-admission-portal-sub001"
	"github.com/huytu0702/university-admission-portal-sub001/engine"
	"github.com/huytu0702/university-admission-portal-sub001/flag"
	"github.com/huytu0702/university-admission-portal-sub001/payment"
)

// Server is the portal HTTP server.
type Server struct {
	eng    *engine.Engine
	logger *slog.Logger
	mux    *http.ServeMux
}

// New creates a Server over the given engine.
func New(eng *engine.Engine, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		eng:    eng,
		logger: logger,
		mux:    http.NewServeMux(),
	}
	s.registerRoutes()
	return s
}

// Handler returns the fully assembled http.Handler: routes wrapped in
// the flag-snapshot and request-logging middleware.
func (s *Server) Handler() http.Handler {
	return s.logRequests(s.withFlags(s.mux))
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("POST /applications", s.handleSubmit)
	s.mux.HandleFunc("GET /applications/{id}", s.handleGetApplication)
	s.mux.HandleFunc("POST /payments/checkout", s.handleCheckout)

	s.mux.HandleFunc("GET /admin/flags", s.handleListFlags)
	s.mux.HandleFunc("PATCH /admin/flags/{name}", s.handleToggleFlag)

	s.mux.HandleFunc("GET /admin/jobs", s.handleListJobs)
	s.mux.HandleFunc("GET /admin/jobs/{id}", s.handleGetJob)
	s.mux.HandleFunc("GET /admin/workers", s.handleWorkerInfo)
	s.mux.HandleFunc("GET /admin/workers/scaling/metrics", s.handleScalingMetrics)

	s.mux.HandleFunc("GET /admin/dlq", s.handleListDLQ)
	s.mux.HandleFunc("GET /admin/dlq/metrics", s.handleDLQMetrics)
	s.mux.HandleFunc("POST /admin/dlq/{id}/replay", s.handleReplayDLQ)

	s.mux.HandleFunc("GET /admin/circuit-breaker/{service}", s.handleGetBreaker)
	s.mux.HandleFunc("GET /admin/circuit-breakers", s.handleListBreakers)

	s.mux.HandleFunc("GET /healthz", s.handleHealthz)
}

// withFlags attaches one flag snapshot per request, so a mid-flight
// admin toggle cannot change behavior half-way through a request.
func (s *Server) withFlags(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := flag.NewContext(r.Context(), s.eng.Flags().Snapshot())
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.logger.Info("http request",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", rec.status),
			slog.Duration("duration", time.Since(start)),
		)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// mapError converts portal sentinel errors to HTTP responses.
func mapError(w http.ResponseWriter, err error) {
	switch {
	case portal.IsValidation(err):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, portal.ErrRequestInFlight):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, portal.ErrKeyReused):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, portal.ErrApplicationNotFound),
		errors.Is(err, portal.ErrJobNotFound),
		errors.Is(err, portal.ErrDLQNotFound),
		errors.Is(err, portal.ErrFlagNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, portal.ErrCircuitOpen):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	case errors.Is(err, payment.ErrProviderUnavailable):
		writeError(w, http.StatusBadGateway, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}
