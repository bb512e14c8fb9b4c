package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeNotFound(w, "no such endpoint")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, ErrCodeBadRequest, "method not allowed")
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Get("/metrics", s.handleMetrics)

		r.Get("/status", s.handleStatus)
		r.Get("/modes", s.handleListModes)
		r.Get("/devices", s.handleListDevices)
		r.Get("/layouts/{mode}", s.handleGetLayout)
		r.Get("/history", s.handleHistory)

		r.Post("/mode", s.handleSetMode)
		r.Post("/reload", s.handleReload)

		r.Get("/ws", s.handleWebSocket)
	})

	return r
}
