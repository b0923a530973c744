// Package server exposes the daemon's HTTP surface: hook ingestion, session
// inspection, persisted metadata, and a WebSocket feed of registry events.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/c3tools/c3d/internal/config"
	"github.com/c3tools/c3d/internal/hooks"
	"github.com/c3tools/c3d/internal/logging"
	"github.com/c3tools/c3d/internal/metadb"
	"github.com/c3tools/c3d/internal/registry"
)

var srvLog = logging.ForComponent(logging.CompServer)

// Config defines the server's collaborators and bind address.
type Config struct {
	ListenAddr string
	Registry   *registry.Registry
	Pipeline   *hooks.Pipeline
	Meta       *metadb.DB
	Version    string
}

// Server wraps the HTTP server for the daemon.
type Server struct {
	cfg        Config
	httpServer *http.Server
	baseCtx    context.Context
	cancelBase context.CancelFunc

	wsMu    sync.Mutex
	wsConns map[string]chan wsActionMessage
}

// New creates a server with all routes registered.
func New(cfg Config) *Server {
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = config.DefaultListenAddr
	}

	s := &Server{
		cfg:     cfg,
		wsConns: make(map[string]chan wsActionMessage),
	}
	s.baseCtx, s.cancelBase = context.WithCancel(context.Background())

	mux := http.NewServeMux()
	mux.HandleFunc("/hook", s.handleHook)
	mux.HandleFunc("/sessions", s.handleSessions)
	mux.HandleFunc("/debug", s.handleDebug)
	mux.HandleFunc("/healthz", s.handleHealthz)
	mux.HandleFunc("/api/meta", s.handleMeta)
	mux.HandleFunc("/api/meta/", s.handleMetaByID)
	mux.HandleFunc("/api/action", s.handleAction)
	mux.HandleFunc("/ws", s.handleWS)

	s.httpServer = &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           withRecover(mux),
		BaseContext:       func(_ net.Listener) context.Context { return s.baseCtx },
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return s
}

// Addr returns the listen address.
func (s *Server) Addr() string {
	return s.httpServer.Addr
}

// Handler returns the configured HTTP handler (used by tests).
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start blocks serving requests until shutdown. Returns nil on graceful
// shutdown.
func (s *Server) Start() error {
	srvLog.Info("server_listening", slog.String("addr", s.cfg.ListenAddr))
	err := s.httpServer.ListenAndServe()
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops the server, force-closing lingering WebSocket connections
// when the graceful path times out.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.cancelBase != nil {
		s.cancelBase()
	}
	err := s.httpServer.Shutdown(ctx)
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		if closeErr := s.httpServer.Close(); closeErr != nil {
			return fmt.Errorf("graceful shutdown timed out and force close failed: %w", closeErr)
		}
		return nil
	}
	return err
}

func withRecover(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				srvLog.Error("panic",
					slog.String("recover", fmt.Sprintf("%v", rec)),
					slog.String("path", r.URL.Path))
				http.Error(w, "internal server error", http.StatusInternalServerError)
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
