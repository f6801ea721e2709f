package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/DoyleJ11/minigame-host/internal/instance"
	"github.com/DoyleJ11/minigame-host/internal/session"
	"github.com/DoyleJ11/minigame-host/internal/stats"
)

type Leaderboard interface {
	Top(ctx context.Context, game, stat string, limit int) ([]stats.Entry, error)
}

const (
	defaultLimit = 10
	maxLimit     = 100
	statsTimeout = 3 * time.Second
)

func Healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}

// Instances lists the live instances of every game.
func Instances(regs []*session.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		games := make(map[string][]instance.View, len(regs))
		for _, reg := range regs {
			games[reg.Name()] = reg.Live()
		}
		writeJSON(w, http.StatusOK, struct {
			Games map[string][]instance.View `json:"games"`
		}{Games: games})
	}
}

// Stats serves the leaderboard for one game and stat.
func Stats(games map[string]*session.Registry, board Leaderboard, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		game, stat := chi.URLParam(r, "game"), chi.URLParam(r, "stat")
		if _, ok := games[game]; !ok {
			http.Error(w, "unknown game", http.StatusNotFound)
			return
		}

		limit := defaultLimit
		if raw := r.URL.Query().Get("limit"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n < 1 {
				http.Error(w, "limit must be a positive integer", http.StatusBadRequest)
				return
			}
			limit = min(n, maxLimit)
		}

		ctx, cancel := context.WithTimeout(r.Context(), statsTimeout)
		defer cancel()
		entries, err := board.Top(ctx, game, stat, limit)
		if err != nil {
			logger.Warn("leaderboard query failed", zap.String("game", game), zap.String("stat", stat), zap.Error(err))
			http.Error(w, "leaderboard unavailable", http.StatusServiceUnavailable)
			return
		}
		if entries == nil {
			entries = []stats.Entry{}
		}

		writeJSON(w, http.StatusOK, struct {
			Game    string        `json:"game"`
			Stat    string        `json:"stat"`
			Entries []stats.Entry `json:"entries"`
		}{Game: game, Stat: stat, Entries: entries})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
