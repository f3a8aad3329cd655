package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
)

const healthCheckTimeout = 2 * time.Second

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	cors := newCORSPolicy(s.cfg.CORS.AllowedOrigins, s.cfg.CORS.AllowedMethods, s.cfg.CORS.AllowedHeaders)

	r.Use(withRequestID)
	r.Use(s.accessLog)
	r.Use(s.recoverPanics)
	r.Use(cors.middleware)

	// Uploads get their own body limit.
	r.With(limitBody(s.uploadLimit())).Post("/media/{address}", s.handleStreamMedia)

	r.Group(func(r chi.Router) {
		r.Use(limitBody(jsonBodyLimit))

		r.Get("/health", s.handleHealth)

		r.Route("/devices", func(r chi.Router) {
			r.Get("/", s.handleListDevices)
			r.Post("/", s.handleRegisterDevice)
			r.Get("/stats", s.handleDeviceStats)
			r.Post("/remove", s.handleRemoveDevice)
			r.Post("/edit", s.handleEditDevice)
		})

		r.Get("/commands", s.handleListCommands)
		r.Route("/command", func(r chi.Router) {
			r.Post("/", s.handleSendCommand)
			r.Post("/batch", s.handleSendBatch)
			r.Post("/timer", s.handleScheduleTimer)
			r.Get("/timers", s.handleListTimers)
			r.Post("/timer/cancel", s.handleCancelTimer)
		})

		r.Post("/scan", s.handleStartScan)
		r.Get("/scan/results", s.handleScanResults)

		r.Post("/overlay", s.handleShowOverlay)
		r.Get("/settings/overlay-text", s.handleGetOverlayText)
		r.Post("/settings/overlay-text", s.handleSetOverlayText)

		r.Get(s.wsPath(), s.handleWebSocket)
	})

	return r
}

func (s *Server) wsPath() string {
	if s.wsCfg.Path == "" {
		return "/ws"
	}
	return s.wsCfg.Path
}

// handleHealth reports service status and the state of optional
// dependencies. A failing dependency degrades the status but still
// returns 200; the fleet keeps working without its sinks.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
	defer cancel()

	status := "ok"
	deps := make(map[string]string, len(s.checks))
	for name, check := range s.checks {
		if err := check.HealthCheck(ctx); err != nil {
			deps[name] = err.Error()
			status = "degraded"
			continue
		}
		deps[name] = "ok"
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":       status,
		"backend":      s.backend,
		"version":      s.version,
		"devices":      s.registry.Count(),
		"scanning":     s.scanner.Running(),
		"dependencies": deps,
		"ws_clients":   s.hub.ClientCount(),
	})
}
