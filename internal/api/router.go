package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
)

// healthProbeTimeout bounds the radio query made by the health check.
const healthProbeTimeout = 2 * time.Second

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
		r.Get("/health", s.handleHealth)

		r.Route("/discovery", func(r chi.Router) {
			r.Get("/status", s.handleDiscoveryStatus)
			r.Get("/devices", s.handleListPeripherals)
			r.Post("/start", s.handleStartDiscovery)
			r.Post("/stop", s.handleStopDiscovery)
			r.Post("/clear", s.handleClearDiscovery)
			r.Put("/filter", s.handleSetFilter)
		})

		r.Route("/pairing", func(r chi.Router) {
			r.Get("/", s.handleGetPairing)
			r.Post("/", s.handlePair)
			r.Delete("/", s.handleStopPairing)
		})

		r.Route("/session", func(r chi.Router) {
			r.Get("/", s.handleSessionStatus)
			r.Post("/start", s.handleStartSession)
			r.Post("/stop", s.handleStopSession)
		})

		r.Route("/scanner", func(r chi.Router) {
			r.Get("/", s.handleGetScanner)
			r.Delete("/", s.handleForgetScanner)
			r.Delete("/saved", s.handleForgetSavedScanners)
			r.Put("/name", s.handleRenameScanner)
			r.Post("/beep/good", s.handleGoodBeep)
			r.Post("/beep/bad", s.handleBadBeep)
			r.Get("/scans", s.handleListScans)
		})

		r.Get("/ws", s.handleWebSocket)
	})

	return r
}

// handleHealth returns the server health status.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthProbeTimeout)
	defer cancel()

	radio := "on"
	if on, err := s.discovery.RadioEnabled(ctx); err != nil {
		radio = "unknown"
	} else if !on {
		radio = "off"
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":     "ok",
		"version":    s.version,
		"radio":      radio,
		"discovery":  s.discovery.Status(),
		"session":    s.capture.Status(),
		"ws_clients": s.hub.ClientCount(),
	})
}
