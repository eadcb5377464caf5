// Package api serves the current dependency graph over HTTP as JSON.
//
// The server holds an immutable Snapshot that is swapped atomically when
// artifacts are reloaded, so handlers never observe a half-built graph.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"golang.org/x/sync/errgroup"

	"github.com/leapstack-labs/hdbgraph/internal/artifact"
	"github.com/leapstack-labs/hdbgraph/internal/dag"
	"github.com/leapstack-labs/hdbgraph/internal/loader"
)

// DefaultPort is used when Config.Port is zero.
const DefaultPort = 8765

// Snapshot is one loaded state of the artifacts.
type Snapshot struct {
	Result    *loader.Result
	Graph     *artifact.Graph
	DAG       *dag.Graph
	Order     dag.Order
	Conflicts []artifact.Conflict
	LoadedAt  time.Time
}

// NewSnapshot builds the graph, order and conflicts of a load result.
func NewSnapshot(res *loader.Result) *Snapshot {
	g := res.Graph()
	d := g.DAG()
	return &Snapshot{
		Result:    res,
		Graph:     g,
		DAG:       d,
		Order:     d.BestEffortOrder(),
		Conflicts: res.Conflicts(),
		LoadedAt:  time.Now().UTC(),
	}
}

// Config holds configuration for the API server.
type Config struct {
	Host string
	Port int
	// AllowedOrigins enables CORS for the listed origins.
	AllowedOrigins []string
	Logger         *slog.Logger
}

// Server is the HTTP API server.
type Server struct {
	snapshot       atomic.Pointer[Snapshot]
	addr           string
	allowedOrigins []string
	logger         *slog.Logger
}

// NewServer creates a server with no snapshot; graph endpoints answer 503
// until Update is called.
func NewServer(cfg Config) *Server {
	if cfg.Port == 0 {
		cfg.Port = DefaultPort
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.DiscardHandler)
	}
	return &Server{
		addr:           net.JoinHostPort(cfg.Host, fmt.Sprint(cfg.Port)),
		allowedOrigins: cfg.AllowedOrigins,
		logger:         cfg.Logger,
	}
}

// Update replaces the served snapshot.
func (s *Server) Update(snap *Snapshot) {
	s.snapshot.Store(snap)
	s.logger.Info("graph updated", "nodes", snap.Graph.Len(), "edges", snap.Graph.EdgeCount())
}

// Snapshot returns the served snapshot, nil before the first Update.
func (s *Server) Snapshot() *Snapshot {
	return s.snapshot.Load()
}

// Handler returns the router with all routes mounted.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.RequestID,
		middleware.Recoverer,
		s.logRequests,
	)
	if len(s.allowedOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: s.allowedOrigins,
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowedHeaders: []string{"Accept", "Content-Type"},
			MaxAge:         300,
		}))
	}

	r.Get("/healthz", s.handleHealth)
	r.Route("/api", func(r chi.Router) {
		r.Get("/graph", s.handleGraph)
		r.Get("/order", s.handleOrder)
		r.Get("/nodes/{id}", s.handleNode)
		r.Post("/parse", s.handleParse)
	})
	return r
}

// Serve starts the server and blocks until ctx is cancelled.
func (s *Server) Serve(ctx context.Context) error {
	s.logger.Info("starting API server", "addr", s.addr)

	eg, egctx := errgroup.WithContext(ctx)

	srv := &http.Server{
		Addr:    s.addr,
		Handler: s.Handler(),
		BaseContext: func(_ net.Listener) context.Context {
			return egctx
		},
		ReadHeaderTimeout: 10 * time.Second,
	}

	eg.Go(func() error {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	eg.Go(func() error {
		<-egctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		s.logger.Debug("shutting down API server")
		return srv.Shutdown(shutdownCtx)
	})

	return eg.Wait()
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Debug("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()))
	})
}
