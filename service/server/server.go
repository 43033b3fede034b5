package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/brojonat/ledgersync/service/db"
	"github.com/brojonat/ledgersync/service/metrics"
	"github.com/brojonat/ledgersync/service/temporal"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// JournalReader is the read side of the submission journal.
type JournalReader interface {
	GetSubmission(ctx context.Context, signature string) (*db.Submission, error)
	ListSubmissions(ctx context.Context, params db.ListSubmissionsParams) ([]*db.Submission, error)
	CountSubmissionsByStatus(ctx context.Context) (map[string]int64, error)
}

// WorkflowClient starts and inspects SubmitAndAwait workflows.
type WorkflowClient interface {
	StartSubmitAndAwait(ctx context.Context, workflowID string, input temporal.SubmitAndAwaitInput) (string, error)
	DescribeSubmitAndAwait(ctx context.Context, workflowID string) (*temporal.WorkflowStatus, error)
}

// Server is the HTTP API over the submission journal, workflows and event stream.
type Server struct {
	addr         string
	journal      JournalReader
	workflows    WorkflowClient
	ssePublisher *SSEPublisher
	metrics      *metrics.Metrics
	logger       *slog.Logger
	server       *http.Server
}

// New creates a new HTTP server with the given dependencies.
// journal, workflows and ssePublisher are optional; the matching routes are
// only mounted when they are set.
func New(addr string, journal JournalReader, workflows WorkflowClient, ssePublisher *SSEPublisher, m *metrics.Metrics, logger *slog.Logger) *Server {
	return &Server{
		addr:         addr,
		journal:      journal,
		workflows:    workflows,
		ssePublisher: ssePublisher,
		metrics:      m,
		logger:       logger,
	}
}

// Handler builds the routed handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// route mounts h under pattern, recording request metrics under the pattern name.
	route := func(pattern string, h http.Handler) {
		mux.Handle(pattern, metrics.HTTPMetricsMiddleware(s.metrics, pattern)(h))
	}

	if s.journal != nil {
		route("GET /api/v1/submissions", handleListSubmissions(s.journal, s.logger))
		route("GET /api/v1/submissions/{signature}", handleGetSubmission(s.journal, s.logger))
		route("GET /api/v1/stats", handleSubmissionStats(s.journal, s.logger))
	} else {
		s.logger.Warn("journal not configured, submission endpoints disabled")
	}

	if s.workflows != nil {
		route("POST /api/v1/workflows", handleStartWorkflow(s.workflows, s.logger))
		route("GET /api/v1/workflows/{workflow_id}", handleGetWorkflow(s.workflows, s.logger))
	}

	if s.ssePublisher != nil {
		route("GET /api/v1/stream/{kind}/{address}", handleStreamEvents(s.ssePublisher, s.metrics, s.logger))
		route("GET /api/v1/stream/{kind}", handleStreamEvents(s.ssePublisher, s.metrics, s.logger))
		s.logger.Info("SSE streaming endpoints enabled")
	}

	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	if s.metrics != nil {
		mux.Handle("GET /metrics", promhttp.Handler())
	}

	return corsMiddleware(mux)
}

// Start serves until Shutdown is called.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:        s.addr,
		Handler:     s.Handler(),
		ReadTimeout: 15 * time.Second,
		// No WriteTimeout: SSE responses are long lived.
		IdleTimeout: 60 * time.Second,
	}

	s.logger.Info("starting HTTP server", "addr", s.addr)
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server failed: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")

	// Close SSE publisher first (disconnects all clients)
	if s.ssePublisher != nil {
		s.ssePublisher.Close()
	}

	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

// corsMiddleware adds CORS headers to all responses and handles OPTIONS preflight requests.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Max-Age", "3600")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}
