// Package app composes the protoflow runtime with its HTTP, WebSocket, MCP
// and health surfaces.
package app

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/louisbranch/protoflow/internal/platform/errors"
	platformgrpc "github.com/louisbranch/protoflow/internal/platform/grpc"
	"github.com/louisbranch/protoflow/internal/platform/timeouts"
	"github.com/louisbranch/protoflow/internal/services/protoflow/mcp"
	"github.com/louisbranch/protoflow/internal/services/protoflow/plugin"
	"github.com/louisbranch/protoflow/internal/services/protoflow/storage"
	"github.com/louisbranch/protoflow/internal/services/protoflow/transport"
)

// Config defines the inputs of the runtime process.
type Config struct {
	HTTPAddr string
	// HealthAddr enables the gRPC health endpoint when set.
	HealthAddr        string
	Catalog           *plugin.Catalog
	Store             storage.Store
	Logger            *slog.Logger
	Tick              time.Duration
	SnapshotInterval  time.Duration
	ReadHeaderTimeout time.Duration
	ShutdownTimeout   time.Duration
	Version           string
}

// Server hosts the runtime loop and every client-facing surface.
type Server struct {
	httpAddr        string
	healthAddr      string
	shutdownTimeout time.Duration
	logger          *slog.Logger

	runtime    *Runtime
	hub        *transport.Hub
	router     http.Handler
	httpServer *http.Server
}

// NewServer builds the runtime, the session hub and the router.
func NewServer(cfg Config) (*Server, error) {
	httpAddr := strings.TrimSpace(cfg.HTTPAddr)
	if httpAddr == "" {
		return nil, stderrors.New("http address is required")
	}
	if cfg.ReadHeaderTimeout <= 0 {
		cfg.ReadHeaderTimeout = timeouts.ReadHeader
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = timeouts.Shutdown
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	runtime, err := NewRuntime(RuntimeConfig{
		Catalog:          cfg.Catalog,
		Store:            cfg.Store,
		Logger:           logger,
		Tick:             cfg.Tick,
		SnapshotInterval: cfg.SnapshotInterval,
	})
	if err != nil {
		return nil, fmt.Errorf("init runtime: %w", err)
	}
	hub, err := transport.NewHub(transport.Config{Commands: runtime, Logger: logger})
	if err != nil {
		return nil, fmt.Errorf("init transport: %w", err)
	}
	runtime.SetPublisher(hub)

	mcpServer, err := mcp.NewServer(runtime, cfg.Version)
	if err != nil {
		return nil, fmt.Errorf("init mcp: %w", err)
	}

	s := &Server{
		httpAddr:        httpAddr,
		healthAddr:      strings.TrimSpace(cfg.HealthAddr),
		shutdownTimeout: cfg.ShutdownTimeout,
		logger:          logger,
		runtime:         runtime,
		hub:             hub,
	}
	s.router = s.routes(mcp.Handler(mcpServer))
	s.httpServer = &http.Server{
		Addr:              httpAddr,
		Handler:           s.router,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
	}
	return s, nil
}

func (s *Server) routes(mcpHandler http.Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/up", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	r.Handle("/ws", s.hub.Handler())
	r.Get("/api/instances", s.handleInstances)
	r.Handle("/mcp", mcpHandler)
	return r
}

func (s *Server) handleInstances(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), timeouts.Command)
	defer cancel()

	list, err := s.runtime.ListInstances(ctx)
	if err != nil {
		s.logger.Warn("list instances", "request_id", middleware.GetReqID(r.Context()), "error", err)
		http.Error(w, err.Error(), errors.CodeOf(err).HTTPStatus())
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(nonNilSummaries(list)); err != nil {
		s.logger.Warn("encode instances", "error", err)
	}
}

// Handler returns the HTTP router.
func (s *Server) Handler() http.Handler { return s.router }

// Runtime returns the runtime driven by the server.
func (s *Server) Runtime() *Runtime { return s.runtime }

// Hub returns the session hub.
func (s *Server) Hub() *transport.Hub { return s.hub }

// Run creates and serves a runtime server until the context ends.
func Run(ctx context.Context, cfg Config) error {
	server, err := NewServer(cfg)
	if err != nil {
		return fmt.Errorf("init protoflow server: %w", err)
	}
	if err := server.ListenAndServe(ctx); err != nil {
		return fmt.Errorf("serve protoflow: %w", err)
	}
	return nil
}

// ListenAndServe restores state, starts the run loop and serves HTTP until
// ctx ends. The run loop stops after HTTP so its final snapshot sees every
// accepted command.
func (s *Server) ListenAndServe(ctx context.Context) error {
	if s == nil {
		return stderrors.New("protoflow server is nil")
	}
	if ctx == nil {
		return stderrors.New("context is required")
	}

	listener, err := net.Listen("tcp", s.httpAddr)
	if err != nil {
		return fmt.Errorf("listen http on %s: %w", s.httpAddr, err)
	}

	var health *platformgrpc.HealthServer
	if s.healthAddr != "" {
		health, err = platformgrpc.ListenHealth(s.healthAddr, s.logger)
		if err != nil {
			_ = listener.Close()
			return err
		}
	}

	if err := s.runtime.Start(ctx); err != nil {
		_ = listener.Close()
		return fmt.Errorf("start runtime: %w", err)
	}

	runCtx, stopRuntime := context.WithCancel(context.Background())
	defer stopRuntime()
	runErr := make(chan error, 1)
	go func() {
		runErr <- s.runtime.Run(runCtx)
	}()

	healthCtx, stopHealth := context.WithCancel(context.Background())
	defer stopHealth()
	healthDone := make(chan struct{})
	if health != nil {
		go func() {
			defer close(healthDone)
			if err := health.Serve(healthCtx); err != nil {
				s.logger.Error("health server", "error", err)
			}
		}()
		health.SetServing(true)
		s.logger.Info("health listening", "addr", health.Addr())
	} else {
		close(healthDone)
	}

	serveErr := make(chan error, 1)
	s.logger.Info("protoflow listening", "addr", listener.Addr().String())
	go func() {
		serveErr <- s.httpServer.Serve(listener)
	}()

	var result error
	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			result = fmt.Errorf("shutdown http server: %w", err)
		}
		cancel()
	case err := <-serveErr:
		if !stderrors.Is(err, http.ErrServerClosed) {
			result = fmt.Errorf("serve http: %w", err)
		}
	case err := <-runErr:
		_ = s.httpServer.Close()
		stopHealth()
		<-healthDone
		return err
	}

	if health != nil {
		health.SetServing(false)
	}
	stopHealth()
	<-healthDone
	stopRuntime()
	if err := <-runErr; err != nil && result == nil {
		result = err
	}
	return result
}

func nonNilSummaries[T any](items []T) []T {
	if items == nil {
		return []T{}
	}
	return items
}
