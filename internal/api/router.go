package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/pgdesk/internal/actions"
)

const defaultWSPath = "/ws"

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.corsMiddleware)
	r.Use(s.requireJSONMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	if s.metricsCfg.Enabled && s.prom != nil {
		path := s.metricsCfg.Path
		if path == "" {
			path = "/metrics"
		}
		r.Handle(path, s.prom.Handler())
	}

	wsPath := s.wsCfg.Path
	if wsPath == "" {
		wsPath = defaultWSPath
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Get("/greet", s.handleGreet)
		r.Get("/metrics", s.handleMetrics)
		r.Get("/engine", s.handleEngine)

		r.Post("/query", s.handleQuery)

		r.Route("/terminal", func(r chi.Router) {
			r.Get("/", s.handleTerminalSize)
			r.Post("/write", s.handleTerminalWrite)
			r.Post("/resize", s.handleTerminalResize)
		})

		r.Route("/history", func(r chi.Router) {
			r.Get("/", s.handleListHistory)
			r.Get("/{id}", s.handleGetHistory)
		})

		r.Get(wsPath, s.handleWebSocket)
	})

	return r
}

// handleHealth returns the server health status. The engine being down
// degrades the status but still answers 200.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	status := "ok"
	engine := "unavailable"
	if s.engine != nil {
		engine = "stopped"
		if s.engine.IsRunning() {
			engine = "running"
		}
	}
	if engine != "running" {
		status = "degraded"
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":  status,
		"version": s.version,
		"engine":  engine,
	})
}

// handleGreet answers the UI's greet command.
func (s *Server) handleGreet(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"message": actions.Greet(r.URL.Query().Get("name")),
	})
}

// handleEngine returns the embedded engine's status.
func (s *Server) handleEngine(w http.ResponseWriter, _ *http.Request) {
	if s.engine == nil {
		writeUnavailable(w, "engine not configured")
		return
	}
	writeJSON(w, http.StatusOK, s.engine.Stats())
}
