// Package server exposes HTTP handlers, including WebSocket upgrades, the
// bootstrap page, health checks, and metrics.
package server

import (
	"fmt"
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/prometheus/common/expfmt"
)

// assetErrorBody is returned when the asset provider cannot supply the page.
const assetErrorBody = "Error loading client.html"

// WebSocketHandler upgrades the request to a message channel and hands the
// connection to the registry. It validates that the request uses GET; the
// upgrader writes its own error response on a failed handshake.
func (s *Server) WebSocketHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed. WebSocket endpoint only accepts GET requests.", http.StatusMethodNotAllowed)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Info("WebSocket upgrade failed", "addr", r.RemoteAddr, "err", err)
		return
	}

	client := newClient(conn, s.registry, r.RemoteAddr, s.settings.Load())
	s.serveClient(client)
}

// IndexHandler serves the bootstrap document from the asset provider. A
// provider failure fails only this request.
func (s *Server) IndexHandler(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	data, err := s.assets.Asset(r.Context())
	if err != nil {
		s.logger.Error("Error loading asset", "err", err)
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = fmt.Fprint(w, assetErrorBody)
		return
	}

	w.Header().Set("Content-Type", "text/html")
	if _, err := w.Write(data); err != nil {
		s.logger.Warn("Error writing HTML response", "err", err)
	}
}

// HealthHandler provides a simple health check endpoint that returns server status.
func (s *Server) HealthHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	_, _ = fmt.Fprintf(w, "Relay is running! %d connected\n", s.registry.Count())
}

// MetricsHandler writes the relay counters in the exposition format the
// scraper asked for.
func (s *Server) MetricsHandler(w http.ResponseWriter, r *http.Request) {
	format := expfmt.Negotiate(r.Header)
	w.Header().Set("Content-Type", string(format))
	if err := s.metrics.Expose(w, format, s.registry.Count()); err != nil {
		s.logger.Warn("Error writing metrics", "err", err)
	}
}

// isUpgradeRequest reports whether r asks for a WebSocket handshake.
func isUpgradeRequest(r *http.Request) bool {
	return websocket.IsWebSocketUpgrade(r)
}
