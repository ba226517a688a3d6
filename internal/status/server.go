// Package status implements the optional read-only dashboard transport: a
// Hub that rebroadcasts BookChanged/CandleChanged/WalletChanged events off
// the signal bus to connected WebSocket clients, plus /healthz and
// /snapshot HTTP endpoints. It has no command surface — it cannot place or
// cancel orders, and stands in for a UI consumer without reimplementing one.
package status

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

// Server runs the dashboard's HTTP/WebSocket surface.
type Server struct {
	provider Provider
	hub      *Hub
	handlers *Handlers
	server   *http.Server
	stop     chan struct{}
	logger   *slog.Logger
}

// NewServer creates a dashboard Server listening on port.
func NewServer(port int, provider Provider, allowedOrigins []string, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	hub := NewHub(logger)
	handlers := NewHandlers(provider, hub, allowedOrigins, logger)

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", handlers.HandleHealth)
	mux.HandleFunc("/snapshot", handlers.HandleSnapshot)
	mux.HandleFunc("/ws", handlers.HandleWebSocket)

	return &Server{
		provider: provider,
		hub:      hub,
		handlers: handlers,
		stop:     make(chan struct{}),
		server: &http.Server{
			Addr:         fmt.Sprintf(":%d", port),
			Handler:      mux,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 15 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		logger: logger.With("component", "status-server"),
	}
}

// Hub exposes the broadcast hub so the engine can forward signal-bus events.
func (s *Server) Hub() *Hub { return s.hub }

// Start runs the hub and blocks serving HTTP until Stop is called.
func (s *Server) Start() error {
	go s.hub.Run(s.stop)

	s.logger.Info("dashboard server starting", "addr", s.server.Addr)
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("dashboard server: %w", err)
	}
	return nil
}

// Stop gracefully shuts down the HTTP server and the hub's loop.
func (s *Server) Stop() error {
	s.logger.Info("stopping dashboard server")
	close(s.stop)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.server.Shutdown(ctx)
}
