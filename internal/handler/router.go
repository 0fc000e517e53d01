package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	roomHandler "github.com/yichenzhou/coderoom/backend/internal/handler/room"
	wsHandler "github.com/yichenzhou/coderoom/backend/internal/handler/ws"
	middlewarePkg "github.com/yichenzhou/coderoom/backend/internal/middleware"
	"github.com/yichenzhou/coderoom/backend/internal/service/broadcast"
	execService "github.com/yichenzhou/coderoom/backend/internal/service/exec"
	roomService "github.com/yichenzhou/coderoom/backend/internal/service/room"
)

// NewRouter wires HTTP routes to core services.
func NewRouter(rooms *roomService.Service, engine *execService.Engine, bcast *broadcast.Broadcaster) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middlewarePkg.CORS)

	sessionHandler := roomHandler.New(rooms)
	hub := wsHandler.New(rooms, engine, bcast)

	r.Route("/api", func(api chi.Router) {
		sessionHandler.RegisterRoutes(api)
		hub.RegisterRoutes(api)
	})

	return r
}
