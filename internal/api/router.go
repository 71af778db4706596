package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/DeKaN/ha-boneco/internal/auth"
)

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.corsMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	r.Route("/api/v1", func(r chi.Router) {
		// Health check (no auth required)
		r.Get("/health", s.handleHealth)

		// WebSocket (token validated in handler)
		r.Get("/ws", s.handleWebSocket)

		r.Group(func(r chi.Router) {
			r.Use(s.authMiddleware)

			r.With(s.requirePermission(auth.PermDeviceRead)).Get("/discovery", s.handleDiscovery)

			r.Route("/pairing/flows", func(r chi.Router) {
				r.With(s.requirePermission(auth.PermDeviceRead)).Get("/", s.handleListFlows)
				r.With(s.requirePermission(auth.PermPairingManage)).Post("/", s.handleStartFlow)

				r.Route("/{id}", func(r chi.Router) {
					r.With(s.requirePermission(auth.PermDeviceRead)).Get("/", s.handleGetFlow)
					r.With(s.requirePermission(auth.PermPairingManage)).Delete("/", s.handleCancelFlow)
					r.With(s.requirePermission(auth.PermPairingManage)).Post("/retry", s.handleRetryFlow)
				})
			})

			r.Route("/devices", func(r chi.Router) {
				r.With(s.requirePermission(auth.PermDeviceRead)).Get("/", s.handleListDevices)

				r.Route("/{address}", func(r chi.Router) {
					r.With(s.requirePermission(auth.PermDeviceRead)).Get("/", s.handleGetDevice)
					r.With(s.requirePermission(auth.PermDeviceManage)).Delete("/", s.handleDeleteDevice)
					r.With(s.requirePermission(auth.PermDeviceRead)).Get("/state", s.handleGetDeviceState)
					r.With(s.requirePermission(auth.PermDeviceRead)).Get("/history", s.handleGetDeviceHistory)
					r.With(s.requirePermission(auth.PermDeviceOperate)).Post("/refresh", s.handleRefreshDevice)
					r.With(s.requirePermission(auth.PermDeviceOperate)).Post("/entities/{key}", s.handleSetEntity)
				})
			})

			if s.audit != nil {
				r.With(s.requirePermission(auth.PermDeviceManage)).Get("/audit", s.handleListAudit)
			}
		})
	})

	return r
}

// handleHealth returns the server health status.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	counts := s.bridge.DeviceCounts()
	clients := 0
	if s.hub != nil {
		clients = s.hub.ClientCount()
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"version": s.version,
		"devices": map[string]int{
			"managed":   counts.Managed,
			"available": counts.Available,
		},
		"websocket_clients": clients,
	})
}
