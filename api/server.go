// Package api - Thin HTTP layer over the pricing engine
// The API is ONLY responsible for: input decoding, engine orchestration, output serialization.
// The API NEVER performs pricing logic.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"battery-pricing/adapters/storage"
	"battery-pricing/core/engine"
	"battery-pricing/core/ruleset"
	apperrors "battery-pricing/internal/errors"
	"battery-pricing/internal/logging"
	"battery-pricing/internal/metrics"
)

// maxBodyBytes bounds request bodies
const maxBodyBytes = 10 << 20

// Options configures a Server
type Options struct {
	Version string

	// Rulesets is required
	Rulesets ruleset.Store

	// Runs enables persisted runs when set
	Runs storage.Store

	// Simulator defaults to engine.NewSimulator with default options
	Simulator *engine.Simulator

	// Gates are applied to every run summary
	Gates []engine.QualityGate

	// Metrics enables /metrics and request instrumentation when set
	Metrics *metrics.Collector

	// RequestTimeout defaults to 60s
	RequestTimeout time.Duration

	// Audit receives one entry per simulate request when set
	Audit AuditLogger
}

// Server is the API server
type Server struct {
	router   *chi.Mux
	version  string
	rulesets ruleset.Store
	runs     storage.Store
	sim      *engine.Simulator
	gates    []engine.QualityGate
	metrics  *metrics.Collector
	timeout  time.Duration
	auditLog AuditLogger
}

// NewServer creates a new API server
func NewServer(opts Options) *Server {
	s := &Server{
		version:  opts.Version,
		rulesets: opts.Rulesets,
		runs:     opts.Runs,
		sim:      opts.Simulator,
		gates:    opts.Gates,
		metrics:  opts.Metrics,
		timeout:  opts.RequestTimeout,
		auditLog: opts.Audit,
	}
	if s.rulesets == nil {
		s.rulesets = ruleset.NewInMemoryStore()
	}
	if s.sim == nil {
		s.sim = engine.NewSimulator(engine.Options{})
	}
	if s.timeout <= 0 {
		s.timeout = 60 * time.Second
	}

	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.logRequests)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(s.timeout))

	r.Get("/health", s.handleHealth)
	r.Get("/version", s.handleVersion)
	if s.metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.metrics.Handler())
	}

	r.Route("/rulesets", func(r chi.Router) {
		r.Get("/", s.handleListRulesets)
		r.Post("/", s.handlePutRuleset)
		r.Post("/validate", s.handleValidateRuleset)
		r.Get("/{name}", s.handleGetRuleset)
	})

	r.Post("/simulate", s.handleSimulate)

	r.Route("/runs", func(r chi.Router) {
		r.Get("/", s.handleListRuns)
		r.Get("/{id}", s.handleGetRun)
		r.Delete("/{id}", s.handleDeleteRun)
		r.Get("/{id}/export", s.handleExportRun)
		r.Get("/{id}/diff/{other}", s.handleDiffRuns)
	})

	s.router = r
}

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// ListenAndServe serves on addr until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logging.Info("HTTP server listening", zap.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		logging.Info("HTTP server shutting down")
		return srv.Shutdown(shutdownCtx)
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, data interface{}, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logging.Warn("failed to write response", zap.Error(err))
	}
}

// writeError maps a domain error onto a status code and error body
func (s *Server) writeError(w http.ResponseWriter, err error) {
	body := ErrorBody{
		Code:    string(apperrors.TypeOf(err)),
		Message: errorMessage(err),
	}
	var verr *ruleset.ValidationError
	if errors.As(err, &verr) {
		body.Details = verr.Problems
	}

	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		logging.Error("request failed", zap.String("code", body.Code), zap.Error(err))
	}
	s.writeJSON(w, map[string]interface{}{"error": body}, status)
}

func statusFor(err error) int {
	if errors.Is(err, context.DeadlineExceeded) {
		return http.StatusGatewayTimeout
	}
	switch apperrors.TypeOf(err) {
	case apperrors.TypeBatch, apperrors.TypeValidation, apperrors.TypeInput, apperrors.TypeParsing:
		return http.StatusBadRequest
	case apperrors.TypeNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

func errorMessage(err error) string {
	var e *apperrors.Error
	if !errors.As(err, &e) {
		return err.Error()
	}
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

// decodeJSON reads a bounded JSON body into v
func decodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return apperrors.Wrap(apperrors.TypeInput, "invalid JSON body", err)
	}
	return nil
}
