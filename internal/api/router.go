package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
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

		// WebSocket (auth via ticket, validated in handler)
		r.Get("/ws", s.handleWebSocket)

		// Protected routes
		r.Group(func(r chi.Router) {
			r.Use(s.authMiddleware)

			r.Post("/auth/ws-ticket", s.handleWSTicket)

			r.Post("/analyze", s.handleAnalyze)

			r.Route("/playback", func(r chi.Router) {
				r.Get("/", s.handleGetPlayback)
				r.Post("/", s.handlePlay)
				r.Post("/stop", s.handleStop)
			})

			r.Route("/analyses", func(r chi.Router) {
				r.Get("/", s.handleListAnalyses)
				r.Route("/{id}", func(r chi.Router) {
					r.Get("/", s.handleGetAnalysis)
					r.Post("/play", s.handlePlayAnalysis)
				})
			})

			r.Get("/device", s.handleGetDevice)
		})
	})

	if s.panel != nil {
		r.Get("/", func(w http.ResponseWriter, r *http.Request) {
			http.Redirect(w, r, "/panel/", http.StatusFound)
		})
		r.Handle("/panel/*", http.StripPrefix("/panel", s.panel))
	}

	return r
}

// handleHealth returns the server health status.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	dev := s.control.DeviceStatus()
	writeJSON(w, http.StatusOK, map[string]any{
		"status":       "ok",
		"version":      s.version,
		"device":       dev.Driver,
		"device_ready": dev.Ready,
		"ws_clients":   s.hub.ClientCount(),
	})
}
