package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/DoyleJ11/minigame-host/internal/session"
)

type Deps struct {
	WS          http.Handler
	Registries  []*session.Registry
	Leaderboard Leaderboard
	Logger      *zap.Logger
}

func SetupRoutes(d Deps) http.Handler {
	logger := d.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("http")

	games := make(map[string]*session.Registry, len(d.Registries))
	for _, reg := range d.Registries {
		games[reg.Name()] = reg
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/healthz", Healthz)
	r.Get("/instances", Instances(d.Registries))
	if d.Leaderboard != nil {
		r.Get("/stats/{game}/{stat}", Stats(games, d.Leaderboard, logger))
	}
	if d.WS != nil {
		r.Method(http.MethodGet, "/ws", d.WS)
	}
	return r
}
