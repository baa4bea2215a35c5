// Package server wires HTTP handlers into a router for the msger relay.
package server

import (
	"net/http"

	"github.com/julienschmidt/httprouter"
)

// SetupRoutes configures and returns a router with all relay routes: the
// WebSocket endpoint on "/" and "/ws", health on "/healthz" and Prometheus
// metrics on "/metrics".
func SetupRoutes(s *Server) *httprouter.Router {
	router := httprouter.New()
	router.HandlerFunc(http.MethodGet, "/", s.serveRoot)
	router.HandlerFunc(http.MethodGet, "/ws", s.ServeWS)
	router.HandlerFunc(http.MethodGet, "/healthz", HealthHandler)
	router.Handler(http.MethodGet, "/metrics", s.metrics.Handler())
	return router
}
