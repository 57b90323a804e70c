package httpapi

import (
	"net/http"

	"github.com/DoyleJ11/race-board-backend/internal/hub"
	"github.com/DoyleJ11/race-board-backend/internal/ws"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

type Deps struct {
	Logger         *zap.Logger
	Results        ResultsStore // nil when the archive is disabled
	OriginPatterns []string
}

func SetupRoutes(h *hub.Hub, deps Deps) http.Handler {
	log := deps.Logger
	if log == nil {
		log = zap.NewNop()
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	// Public routes
	r.Post("/rooms", CreateRoom(h, log))
	r.Get("/rooms/{code}", GetRoom(h))
	r.Get("/rooms/{code}/results", RoomResults(deps.Results, log))
	r.Get("/healthz", Healthz(h))
	r.Get("/ws", ws.Handler(h, ws.Options{Logger: log, OriginPatterns: deps.OriginPatterns}))
	return r
}
