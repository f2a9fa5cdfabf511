// Package server wires HTTP handlers into a ServeMux for the relay via
// routing helpers.
package server

import "net/http"

// Routes returns the relay's HTTP handler. Any request carrying WebSocket
// upgrade headers opens a message channel regardless of path; everything
// else is routed by path.
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.HealthHandler)
	mux.HandleFunc("/metrics", s.MetricsHandler)
	mux.HandleFunc("/", s.IndexHandler)

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if isUpgradeRequest(r) {
			s.WebSocketHandler(w, r)
			return
		}
		mux.ServeHTTP(w, r)
	})
}
