package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/r-alonso-igme/manvapp/internal/hub"
	"github.com/r-alonso-igme/manvapp/internal/store"
	"github.com/r-alonso-igme/manvapp/internal/ws"
)

func SetupRoutes(h *hub.Hub, st store.Store, joinDelay time.Duration, allowedOrigins []string, log *zap.Logger) http.Handler {
	r := chi.NewRouter()

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: allowedOrigins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
	}))

	// Public routes
	r.Post("/sessions", CreateSession(h, log))
	r.Get("/matches/{id}", GetMatch(st))
	r.Get("/healthz", Healthz)
	r.Get("/ws", ws.Handler(h, joinDelay, allowedOrigins, log))
	return r
}
