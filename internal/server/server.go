package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/michaelbrown/piston-go/internal/observability"
	"github.com/michaelbrown/piston-go/internal/sandbox"
	"github.com/michaelbrown/piston-go/internal/storage"
	"github.com/michaelbrown/piston-go/piston"
)

// API is the subset of *piston.Client the server uses.
type API interface {
	Execute(ctx context.Context, req piston.ExecuteRequest, opts ...piston.CallOption) (*piston.ExecuteResponse, error)
	Runtimes(ctx context.Context, opts ...piston.CallOption) ([]piston.RuntimeInfo, error)
}

// Options configures a Server. Store and Obs may be nil.
type Options struct {
	API    API
	Policy sandbox.Policy
	Store  storage.Store
	Obs    *observability.Observability
	Logger *zap.Logger
}

// Server is the HTTP gateway in front of a Piston API.
type Server struct {
	api        API
	sandbox    *sandbox.RemoteSandbox
	store      storage.Store
	obs        *observability.Observability
	logger     *zap.Logger
	executions *ExecutionTracker
	router     chi.Router

	mu   sync.Mutex
	http *http.Server
}

// New creates a new Server.
func New(opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		api:        opts.API,
		sandbox:    sandbox.NewRemoteSandbox(opts.API, opts.Policy),
		store:      opts.Store,
		obs:        opts.Obs,
		logger:     logger,
		executions: NewExecutionTracker(),
		router:     chi.NewRouter(),
	}
	s.setupRoutes()
	return s
}

func (s *Server) metrics() *observability.Metrics {
	if s.obs == nil {
		return nil
	}
	return s.obs.Metrics
}

func (s *Server) setupRoutes() {
	r := s.router

	// Global middleware
	r.Use(middleware.RequestID)
	r.Use(requestLogger(s.logger))
	r.Use(middleware.Recoverer)
	r.Use(s.metrics().Middleware)

	r.Route("/api", func(r chi.Router) {
		// WebSocket (no JSON content-type)
		r.Get("/ws", s.handleWebSocket)

		r.Group(func(r chi.Router) {
			r.Use(jsonContentType)

			r.Post("/execute", s.handleExecute)
			r.Get("/runtimes", s.handleRuntimes)

			if s.store != nil {
				r.Get("/runs", s.handleListRuns)
				r.Get("/runs/{id}", s.handleGetRun)
				r.Delete("/runs/{id}", s.handleDeleteRun)
			}
		})
	})

	if m := s.metrics(); m != nil {
		r.Handle("/metrics", m.Handler())
	}
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// jsonContentType sets Content-Type to application/json for API routes.
func jsonContentType(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}

// requestLogger logs one line per request through zap.
func requestLogger(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()

			next.ServeHTTP(ww, r)

			logger.Info("http request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Int("bytes", ww.BytesWritten()),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", middleware.GetReqID(r.Context())),
			)
		})
	}
}

// Start begins listening on the given port. It returns nil after Shutdown.
func (s *Server) Start(port int) error {
	addr := fmt.Sprintf(":%d", port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.mu.Lock()
	s.http = srv
	s.mu.Unlock()

	s.logger.Info("piston gateway starting", zap.String("addr", "http://localhost"+addr))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown cancels in-flight executions and gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down gateway", zap.Int("in_flight", s.executions.Len()))
	s.executions.CloseAll()

	s.mu.Lock()
	srv := s.http
	s.mu.Unlock()
	if srv == nil {
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	return srv.Shutdown(shutdownCtx)
}
