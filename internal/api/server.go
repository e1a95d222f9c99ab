// Package api serves crawls over HTTP.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/sells-group/registry-crawler/internal/model"
	"github.com/sells-group/registry-crawler/internal/orchestrator"
	"github.com/sells-group/registry-crawler/internal/store"
)

// Crawler runs one crawl.
type Crawler interface {
	Run(ctx context.Context, id model.CompanyIdentifier) (*orchestrator.Outcome, error)
}

// RunReader reads persisted runs.
type RunReader interface {
	GetRun(ctx context.Context, runID string) (*model.Run, error)
	ListRuns(ctx context.Context, filter store.RunFilter) ([]model.Run, error)
}

// Options configures the server.
type Options struct {
	Version        string
	AllowedOrigins []string
	// Circuits reports breaker states for the health endpoint. Optional.
	Circuits func() map[model.Source]string
}

// Server handles API requests.
type Server struct {
	crawler Crawler
	runs    RunReader
	opts    Options
}

// New creates a Server. runs may be nil when no history is kept.
func New(crawler Crawler, runs RunReader, opts Options) *Server {
	if opts.Version == "" {
		opts.Version = "dev"
	}
	if len(opts.AllowedOrigins) == 0 {
		opts.AllowedOrigins = []string{"*"}
	}
	return &Server{crawler: crawler, runs: runs, opts: opts}
}

// Handler returns the routed HTTP handler.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.opts.AllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-Id"},
		MaxAge:         300,
	}))

	r.Get("/", s.handleInfo)
	r.Get("/health", s.handleHealth)
	r.Route("/api", func(r chi.Router) {
		r.Post("/company", s.handleCompany)
		r.Get("/runs", s.handleListRuns)
		r.Get("/runs/{id}", s.handleGetRun)
	})
	return r
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		zap.L().Info("api: request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Int("bytes", ww.BytesWritten()),
			zap.Duration("duration", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}
