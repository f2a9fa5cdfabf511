// Package server wires the registry, the WebSocket upgrader, and the
// bootstrap asset into one relay instance.
package server

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Tyrowin/relay/internal/config"
)

// connSettings are the per-connection limits in force when a client connects.
type connSettings struct {
	maxMessageSize int64
	sendBufferSize int
	rateLimit      config.RateLimitConfig
	origins        *originPolicy
}

// Server is one relay instance: a registry plus the HTTP surface that feeds it.
type Server struct {
	registry *Registry
	metrics  *Metrics
	assets   AssetProvider
	logger   *slog.Logger
	upgrader websocket.Upgrader
	settings atomic.Pointer[connSettings]

	// mu orders pump registration against Shutdown's wait.
	mu       sync.Mutex
	stopping bool
	wg       sync.WaitGroup
}

// New creates a relay configured by cfg. A nil assets serves the built-in
// client page and a nil logger uses slog.Default.
func New(cfg *config.Config, assets AssetProvider, logger *slog.Logger) *Server {
	if cfg == nil {
		cfg = config.Default()
	}
	if logger == nil {
		logger = slog.Default()
	}
	if assets == nil {
		assets = NewAssetProvider(cfg.AssetPath)
	}

	metrics := NewMetrics()
	s := &Server{
		registry: NewRegistry(logger, metrics),
		metrics:  metrics,
		assets:   assets,
		logger:   logger,
	}
	s.upgrader = websocket.Upgrader{
		HandshakeTimeout: 10 * time.Second,
		ReadBufferSize:   1024,
		WriteBufferSize:  1024,
		CheckOrigin: func(r *http.Request) bool {
			return s.settings.Load().origins.checkOrigin(r)
		},
	}
	s.ApplyConfig(cfg)
	return s
}

// ApplyConfig swaps in the connection limits and origin policy from cfg.
// Connections already open keep the limits they started with.
func (s *Server) ApplyConfig(cfg *config.Config) {
	s.settings.Store(&connSettings{
		maxMessageSize: cfg.MaxMessageSize,
		sendBufferSize: cfg.SendBufferSize,
		rateLimit:      cfg.RateLimit,
		origins:        newOriginPolicy(cfg.AllowedOrigins, s.logger),
	})
}

// Registry returns the relay's connection registry.
func (s *Server) Registry() *Registry {
	return s.registry
}

// Metrics returns the relay's counters.
func (s *Server) Metrics() *Metrics {
	return s.metrics
}

// serveClient admits c and starts its pumps. Admission is refused once the
// relay is shutting down, in which case c is closed.
func (s *Server) serveClient(c *Client) {
	s.mu.Lock()
	if s.stopping {
		s.mu.Unlock()
		s.logger.Info("Relay shutting down; rejecting connection", "conn", c.ID())
		_ = c.Close()
		return
	}
	s.wg.Add(2)
	s.mu.Unlock()

	c.activate()
	s.registry.Admit(c)
	if !s.registry.Contains(c) {
		s.wg.Add(-2)
		return
	}

	go func() {
		defer s.wg.Done()
		c.writePump()
	}()
	go func() {
		defer s.wg.Done()
		c.readPump()
	}()
}

// Shutdown closes every connection and waits for the connection goroutines
// to finish, or until timeout elapses. A non-positive timeout uses
// config.DefaultShutdownTimeout.
func (s *Server) Shutdown(timeout time.Duration) error {
	if timeout <= 0 {
		timeout = config.DefaultShutdownTimeout
	}

	s.logger.Info("Initiating relay shutdown...")
	s.mu.Lock()
	s.stopping = true
	s.mu.Unlock()
	s.registry.Close()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("Relay shutdown completed successfully")
		return nil
	case <-time.After(timeout):
		s.logger.Warn("Relay shutdown timeout reached, some connections may still be running")
		return context.DeadlineExceeded
	}
}
