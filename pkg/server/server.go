// Package server exposes the delegate over HTTP: status, justification
// reports, the approval queue, outcome feedback and on-demand cycles.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/entrhq/govdelegate/pkg/metrics"
	"github.com/entrhq/govdelegate/pkg/orchestrator"
	"github.com/entrhq/govdelegate/pkg/types"
)

// DefaultTrendWindow is the number of recent outcomes returned by the
// trends endpoint when no limit is given.
const DefaultTrendWindow = 10

// Logger is the logging surface the server writes to.
type Logger interface {
	Infof(format string, args ...interface{})
	Warnf(format string, args ...interface{})
	Errorf(format string, args ...interface{})
}

type nopLogger struct{}

func (nopLogger) Infof(string, ...interface{})  {}
func (nopLogger) Warnf(string, ...interface{})  {}
func (nopLogger) Errorf(string, ...interface{}) {}

// Server serves the delegate API.
type Server struct {
	addr    string
	o       *orchestrator.Orchestrator
	metrics *metrics.Collector
	logger  Logger
	router  *chi.Mux
	http    *http.Server
}

// Option configures a Server.
type Option func(*Server)

// WithMetrics serves the collector's registry on /metrics.
func WithMetrics(c *metrics.Collector) Option {
	return func(s *Server) { s.metrics = c }
}

// WithLogger sets the server logger.
func WithLogger(l Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// New creates a server for o listening on addr.
func New(addr string, o *orchestrator.Orchestrator, opts ...Option) *Server {
	s := &Server{
		addr:   addr,
		o:      o,
		logger: nopLogger{},
	}
	for _, opt := range opts {
		opt(s)
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	s.RegisterHTTP(r)
	s.router = r
	return s
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler { return s.router }

// RegisterHTTP mounts the API routes on r.
func (s *Server) RegisterHTTP(r chi.Router) {
	r.Get("/healthz", s.handleHealth)
	r.Get("/status", s.handleStatus)

	r.Get("/reports", s.handleExportReports)
	r.Get("/reports/{proposal_id}", s.handleReport)

	r.Get("/decisions/patterns", s.handleDecisionPatterns)

	r.Route("/votes/pending", func(r chi.Router) {
		r.Get("/", s.handlePendingVotes)
		r.Post("/{id}/approve", s.handleApprove)
		r.Post("/{id}/reject", s.handleReject)
	})

	r.Post("/outcomes", s.handleOutcome)
	r.Get("/organizations/{org}/trends", s.handleTrends)
	r.Post("/cycles/{org}", s.handleCycle)

	if s.metrics != nil {
		r.Handle("/metrics", s.metrics.Handler())
	}
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	s.http = &http.Server{
		Addr:              s.addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      2 * time.Minute,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Infof("HTTP API listening on %s", s.addr)
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("server error: %w", err)
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.http.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	s.logger.Infof("HTTP API stopped")
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.o.Status())
}

// GET /reports
func (s *Server) handleExportReports(w http.ResponseWriter, _ *http.Request) {
	data, err := s.o.ExportJustifications()
	if err != nil {
		s.fail(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

// GET /reports/{proposal_id}
func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	report, err := s.o.Report(r.Context(), chi.URLParam(r, "proposal_id"))
	if err != nil {
		s.fail(w, err)
		return
	}
	w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(report))
}

func (s *Server) handleDecisionPatterns(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"decisions": s.o.DecisionPatterns(),
		"voting":    s.o.VotingPatterns(queryInt(r, "limit", 0)),
	})
}

func (s *Server) handlePendingVotes(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.o.PendingVotes())
}

// POST /votes/pending/{id}/approve
func (s *Server) handleApprove(w http.ResponseWriter, r *http.Request) {
	ref, err := s.o.ApproveVote(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ref)
}

// RejectRequest is the optional body of POST /votes/pending/{id}/reject.
type RejectRequest struct {
	Reason string `json:"reason"`
}

// POST /votes/pending/{id}/reject
func (s *Server) handleReject(w http.ResponseWriter, r *http.Request) {
	var req RejectRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "Invalid request body", http.StatusBadRequest)
			return
		}
	}
	if req.Reason == "" {
		req.Reason = "rejected via API"
	}
	if err := s.o.RejectVote(chi.URLParam(r, "id"), req.Reason); err != nil {
		s.fail(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// POST /outcomes
func (s *Server) handleOutcome(w http.ResponseWriter, r *http.Request) {
	var report orchestrator.OutcomeReport
	if err := json.NewDecoder(r.Body).Decode(&report); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	result, err := s.o.RecordOutcome(r.Context(), report)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, result)
}

// GET /organizations/{org}/trends?limit=n
func (s *Server) handleTrends(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.o.Trends(chi.URLParam(r, "org"), queryInt(r, "limit", DefaultTrendWindow)))
}

// POST /cycles/{org} runs a cycle synchronously. A cycle that fails during
// ingest still returns its result, with 502.
func (s *Server) handleCycle(w http.ResponseWriter, r *http.Request) {
	result, err := s.o.RunCycle(r.Context(), chi.URLParam(r, "org"))
	if err != nil && result.ID == "" {
		s.fail(w, err)
		return
	}
	code := http.StatusOK
	if result.Failed() {
		code = statusFor(err)
	}
	writeJSON(w, code, result)
}

// fail maps err to a status code and writes it as JSON.
func (s *Server) fail(w http.ResponseWriter, err error) {
	code := statusFor(err)
	if code >= http.StatusInternalServerError {
		s.logger.Errorf("request failed: %v", err)
	}
	writeError(w, code, err)
}

func statusFor(err error) int {
	if errors.Is(err, orchestrator.ErrCycleInProgress) {
		return http.StatusConflict
	}
	switch types.KindOf(err) {
	case types.KindNotFound:
		return http.StatusNotFound
	case types.KindValidation:
		return http.StatusBadRequest
	case types.KindSourceUnavailable:
		return http.StatusBadGateway
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}

func queryInt(r *http.Request, key string, def int) int {
	v, err := strconv.Atoi(r.URL.Query().Get(key))
	if err != nil {
		return def
	}
	return v
}
