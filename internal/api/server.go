package api

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"scribe/internal/jobs"
	"scribe/internal/logging"
	"scribe/internal/progress"
	"scribe/internal/records"
)

// Pipeline is the slice of the orchestrator the API needs. Implemented by
// pipeline.Orchestrator.
type Pipeline interface {
	Start(ctx context.Context, recordID int64) (*jobs.Job, error)
	Retry(ctx context.Context, recordID int64) (*jobs.Job, error)
	RetryFromStage(ctx context.Context, recordID int64, stage jobs.Stage) (*jobs.Job, error)
	Publisher() *progress.Publisher
}

// Server hosts the HTTP API.
type Server struct {
	bind     string
	store    *records.Store
	queue    *jobs.Store
	pipeline Pipeline
	logger   *slog.Logger
	logPath  string

	mu         sync.Mutex
	httpServer *http.Server
	listener   net.Listener
}

// NewServer constructs the API server. Call Start to begin serving.
func NewServer(bind string, store *records.Store, queue *jobs.Store, pipeline Pipeline, logger *slog.Logger) (*Server, error) {
	if store == nil {
		return nil, errors.New("api: record store required")
	}
	if queue == nil {
		return nil, errors.New("api: job store required")
	}
	if pipeline == nil {
		return nil, errors.New("api: pipeline required")
	}
	return &Server{
		bind:     bind,
		store:    store,
		queue:    queue,
		pipeline: pipeline,
		logger:   logging.NewComponentLogger(logger, "api"),
	}, nil
}

// SetLogPath enables the log tail endpoint for the given daemon log file.
func (s *Server) SetLogPath(path string) {
	s.logPath = path
}

// Handler builds the router. Exposed so tests can mount it on httptest.
func (s *Server) Handler() http.Handler {
	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.Recoverer)

	router.Route("/api", func(r chi.Router) {
		r.Get("/status", s.handleStatus)
		r.Get("/logs", s.handleLogs)
		r.Get("/records", s.handleListRecords)
		r.Post("/records", s.handleCreateRecord)
		r.Route("/records/{recordID}", func(r chi.Router) {
			r.Get("/", s.handleGetRecord)
			r.Post("/start", s.handleStart)
			r.Post("/retry", s.handleRetry)
			r.Post("/retry-from/{stage}", s.handleRetryFrom)
		})
		r.Route("/progress/{jobID}", func(r chi.Router) {
			r.Get("/", s.handleProgressPoll)
			r.Get("/ws", s.handleProgressSocket)
		})
	})
	return router
}

// Start binds the listener and serves in the background.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.httpServer != nil {
		return errors.New("api server already running")
	}

	listener, err := net.Listen("tcp", s.bind)
	if err != nil {
		return err
	}
	s.listener = listener
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	s.httpServer = srv

	// The goroutine uses the captured srv; Stop nils the field and must not
	// race the first scheduling of this goroutine.
	go func() {
		if err := srv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("serve failed", logging.Error(err))
		}
	}()
	s.logger.Info("api listening", logging.String("bind", listener.Addr().String()))
	return nil
}

// Addr returns the bound address, useful when the bind port is 0.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return s.bind
	}
	return s.listener.Addr().String()
}

// Stop shuts the server down, letting in-flight requests finish.
func (s *Server) Stop() {
	s.mu.Lock()
	srv := s.httpServer
	s.httpServer = nil
	s.listener = nil
	s.mu.Unlock()
	if srv == nil {
		return
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		s.logger.Warn("shutdown incomplete", logging.Error(err))
	}
}
