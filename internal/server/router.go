package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/solvenia/kbcore/internal/api"
	"github.com/solvenia/kbcore/internal/api/handlers"
	"github.com/solvenia/kbcore/internal/api/middleware"
)

type RouterConfig struct {
	AuthValidator middleware.AuthValidator
	ChunkHandler  *handlers.ChunkHandler
	AskHandler    *handlers.AskHandler
}

func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	const maxBodyBytes int64 = 5 * 1024 * 1024

	r.Use(middleware.RequestID)
	r.Use(middleware.SentryMiddleware)
	r.Use(middleware.AccessLog)
	r.Use(middleware.MaxBodyBytes(maxBodyBytes))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		api.Success(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Group(func(r chi.Router) {
		r.Use(middleware.APIKeyAuth(cfg.AuthValidator))

		r.Route("/chunks", func(r chi.Router) {
			r.Post("/", cfg.ChunkHandler.Create)
			r.Get("/", cfg.ChunkHandler.List)
			r.Get("/exists", cfg.ChunkHandler.Exists)
			r.Delete("/", cfg.ChunkHandler.Clear)
		})

		r.Post("/ask", cfg.AskHandler.Ask)
	})

	return r
}
