package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/DoyleJ11/minigame-host/internal/engine"
	"github.com/DoyleJ11/minigame-host/internal/instance"
	"github.com/DoyleJ11/minigame-host/internal/session"
	"github.com/DoyleJ11/minigame-host/internal/stats"
	"github.com/DoyleJ11/minigame-host/pkg/types"
)

type discardOutbox struct{}

func (discardOutbox) ResolveHandle(identity string) (types.Handle, bool) {
	return types.Handle(identity), true
}

func (discardOutbox) SendTo(types.Handle, string) error { return nil }

type idleGame struct{}

func (idleGame) Start(engine.Round) error                      { return nil }
func (idleGame) HandleInput(engine.Round, string, types.Frame) {}
func (idleGame) Remove(engine.Round, string)                   {}
func (idleGame) Advance(engine.Round) error                    { return nil }
func (idleGame) Check(engine.Round) *engine.Outcome            { return nil }
func (idleGame) Emit(engine.Round) error                       { return nil }
func (idleGame) Finish(engine.Round, engine.Outcome)           {}

func newRegistry(t *testing.T, name string) *session.Registry {
	t.Helper()
	reg := session.NewRegistry(context.Background(), session.Options{
		Config: instance.Config{
			Name:            name,
			MinPlayers:      2,
			MaxPlayers:      4,
			CountdownNormal: 30,
			CountdownStep:   time.Hour,
			TickRate:        20,
		},
		Factory: func(int64) engine.Game { return idleGame{} },
		Out:     discardOutbox{},
		Logger:  zaptest.NewLogger(t),
	})
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		assert.NoError(t, reg.Shutdown(ctx))
	})
	return reg
}

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestHealthz(t *testing.T) {
	h := SetupRoutes(Deps{})
	assert.Equal(t, http.StatusOK, get(t, h, "/healthz").Code)
}

func TestWSRouteMounted(t *testing.T) {
	h := SetupRoutes(Deps{WS: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})})
	assert.Equal(t, http.StatusTeapot, get(t, h, "/ws?user=alice").Code)
}

func TestInstances(t *testing.T) {
	defense := newRegistry(t, "defense")
	redlight := newRegistry(t, "redlight")
	_, err := defense.JoinAny("alice")
	require.NoError(t, err)

	h := SetupRoutes(Deps{Registries: []*session.Registry{defense, redlight}, Logger: zaptest.NewLogger(t)})
	rec := get(t, h, "/instances")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var body struct {
		Games map[string][]struct {
			ID     int64    `json:"id"`
			Game   string   `json:"game"`
			State  string   `json:"state"`
			Roster []string `json:"roster"`
		} `json:"games"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Games["defense"], 1)
	assert.Equal(t, "waiting", body.Games["defense"][0].State)
	assert.Equal(t, []string{"alice"}, body.Games["defense"][0].Roster)
	assert.Empty(t, body.Games["redlight"])
}

func TestStats(t *testing.T) {
	ctx := context.Background()
	store := stats.NewMemory()
	require.NoError(t, store.Add(ctx, "defense", "alice", "kills", 4))
	require.NoError(t, store.Add(ctx, "defense", "bob", "kills", 7))
	require.NoError(t, store.Add(ctx, "defense", "carol", "kills", 1))

	h := SetupRoutes(Deps{
		Registries:  []*session.Registry{newRegistry(t, "defense")},
		Leaderboard: store,
		Logger:      zaptest.NewLogger(t),
	})

	cases := []struct {
		name   string
		path   string
		status int
		want   []stats.Entry
	}{
		{name: "default limit", path: "/stats/defense/kills", status: http.StatusOK,
			want: []stats.Entry{{Player: "bob", Value: 7}, {Player: "alice", Value: 4}, {Player: "carol", Value: 1}}},
		{name: "limited", path: "/stats/defense/kills?limit=1", status: http.StatusOK,
			want: []stats.Entry{{Player: "bob", Value: 7}}},
		{name: "no entries", path: "/stats/defense/wins", status: http.StatusOK, want: []stats.Entry{}},
		{name: "unknown game", path: "/stats/chess/wins", status: http.StatusNotFound},
		{name: "bad limit", path: "/stats/defense/kills?limit=zero", status: http.StatusBadRequest},
		{name: "negative limit", path: "/stats/defense/kills?limit=-3", status: http.StatusBadRequest},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := get(t, h, tc.path)
			require.Equal(t, tc.status, rec.Code)
			if tc.status != http.StatusOK {
				return
			}
			var body struct {
				Game    string        `json:"game"`
				Entries []stats.Entry `json:"entries"`
			}
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.Equal(t, "defense", body.Game)
			assert.Equal(t, tc.want, body.Entries)
		})
	}
}
