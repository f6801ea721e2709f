package minigame

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/DoyleJ11/minigame-host/internal/engine"
	"github.com/DoyleJ11/minigame-host/internal/hub"
	"github.com/DoyleJ11/minigame-host/internal/instance"
	"github.com/DoyleJ11/minigame-host/internal/session"
	"github.com/DoyleJ11/minigame-host/internal/stats"
	"github.com/DoyleJ11/minigame-host/pkg/types"
)

var _ hub.Consumer = (*Module)(nil)

type fakeHost struct {
	mu   sync.Mutex
	sent map[types.Handle][]string
}

func (f *fakeHost) SendTo(h types.Handle, msg string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent[h] = append(f.sent[h], msg)
	return nil
}

func (f *fakeHost) to(h types.Handle) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.sent[h]...)
}

type mainMsg struct {
	msg     string
	exclude types.Handle
}

type fakeMain struct {
	mu   sync.Mutex
	msgs []mainMsg
}

func (f *fakeMain) BroadcastMain(msg string, exclude types.Handle) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.msgs = append(f.msgs, mainMsg{msg, exclude})
}

type discardOutbox struct{}

func (discardOutbox) ResolveHandle(identity string) (types.Handle, bool) {
	return types.Handle("h-" + identity), true
}

func (discardOutbox) SendTo(types.Handle, string) error { return nil }

type brokenBoard struct{}

func (brokenBoard) Top(context.Context, string, string, int) ([]stats.Entry, error) {
	return nil, errors.New("connection refused")
}

type idleGame struct{}

func (idleGame) Start(engine.Round) error                      { return nil }
func (idleGame) HandleInput(engine.Round, string, types.Frame) {}
func (idleGame) Remove(engine.Round, string)                   {}
func (idleGame) Advance(engine.Round) error                    { return nil }
func (idleGame) Check(engine.Round) *engine.Outcome            { return nil }
func (idleGame) Emit(engine.Round) error                       { return nil }
func (idleGame) Finish(engine.Round, engine.Outcome)           {}

type fixture struct {
	mod  *Module
	host *fakeHost
	main *fakeMain
}

func newFixture(t *testing.T, board Leaderboard) *fixture {
	t.Helper()
	host := &fakeHost{sent: make(map[types.Handle][]string)}
	logger := zaptest.NewLogger(t)

	reg := session.NewRegistry(context.Background(), session.Options{
		Config: instance.Config{
			Name:            "defense",
			MinPlayers:      2,
			MaxPlayers:      4,
			CountdownNormal: 30,
			CountdownFull:   10,
			CountdownStep:   time.Hour,
			TickRate:        20,
		},
		Factory: func(int64) engine.Game { return idleGame{} },
		Out:     discardOutbox{},
		Logger:  logger,
	})
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		assert.NoError(t, reg.Shutdown(ctx))
	})

	main := &fakeMain{}
	mod := New(Options{
		Trigger:     "Zombies",
		Registry:    reg,
		Host:        host,
		Main:        main,
		Leaderboard: board,
		Logger:      logger,
	})
	return &fixture{mod: mod, host: host, main: main}
}

func (f *fixture) frame(identity, raw string) bool {
	return f.mod.HandleFrame(types.Handle("h-"+identity), identity, types.Parse(raw))
}

func (f *fixture) owned(identity string) bool {
	_, ok := f.mod.Registry().Owns(identity)
	return ok
}

func TestTriggerJoins(t *testing.T) {
	f := newFixture(t, nil)

	assert.True(t, f.frame("alice", "DAMAGE|PLACERCLIENT|Zombies (NPC)|alice"))
	assert.True(t, f.owned("alice"))
	assert.Equal(t, []mainMsg{{types.Despawn("alice"), "h-alice"}}, f.main.msgs)

	// a second interaction while joined is a silent no-op
	assert.True(t, f.frame("alice", "DAMAGE|PLACERCLIENT|Zombies (NPC)|alice"))
	assert.Len(t, f.main.msgs, 1)
	assert.Empty(t, f.host.to("h-alice"))
	assert.Equal(t, 1, f.mod.Registry().Len())
}

func TestTriggerIgnoresSpoofedDamager(t *testing.T) {
	f := newFixture(t, nil)

	assert.False(t, f.frame("mallory", "DAMAGE|PLACERCLIENT|Zombies (NPC)|alice"))
	assert.False(t, f.owned("alice"))
	assert.False(t, f.owned("mallory"))
}

func TestInRoundFramesNeedASession(t *testing.T) {
	f := newFixture(t, nil)

	assert.False(t, f.frame("alice", "DAMAGE|PLACERCLIENT|Zombie-1001|alice"))
	assert.False(t, f.frame("alice", "alice|10,20|TouchSensor"))

	require.True(t, f.frame("alice", "DAMAGE|PLACERCLIENT|Zombies (NPC)|alice"))
	assert.True(t, f.frame("alice", "DAMAGE|PLACERCLIENT|Zombie-1001|alice"))
	assert.True(t, f.frame("alice", "alice|10,20|TouchSensor"))
	assert.False(t, f.frame("alice", "bob|10,20|TouchSensor"))
}

func TestPlayerInfoIsAlwaysRelayed(t *testing.T) {
	f := newFixture(t, nil)
	require.True(t, f.frame("alice", "DAMAGE|PLACERCLIENT|Zombies (NPC)|alice"))

	assert.False(t, f.frame("alice", "alice|100|200|Steve|1|0|PLAYER_INFO"))
	assert.False(t, f.frame("bob", "bob|100|200|Steve|1|0|PLAYER_INFO"))
}

func TestDisconnectLeaves(t *testing.T) {
	f := newFixture(t, nil)
	require.True(t, f.frame("alice", "DAMAGE|PLACERCLIENT|Zombies (NPC)|alice"))

	f.mod.HandleDisconnect("h-alice", "alice")
	assert.False(t, f.owned("alice"))

	// leaving twice is harmless
	f.mod.HandleDisconnect("h-alice", "alice")
}

func TestReconnectDropsGhostSession(t *testing.T) {
	cases := []struct {
		name string
		drop func(f *fixture)
	}{
		{name: "connect", drop: func(f *fixture) { f.mod.HandleConnect("h-alice-2", "alice") }},
		{name: "sync request", drop: func(f *fixture) { assert.False(t, f.frame("alice", "alice|SYNC_REQ|0")) }},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t, nil)
			require.True(t, f.frame("alice", "DAMAGE|PLACERCLIENT|Zombies (NPC)|alice"))
			require.True(t, f.owned("alice"))

			tc.drop(f)
			assert.False(t, f.owned("alice"))
		})
	}
}

func TestLeaderboard(t *testing.T) {
	ctx := context.Background()
	store := stats.NewMemory()
	require.NoError(t, store.Add(ctx, "defense", "alice", "wins", 1))
	require.NoError(t, store.Add(ctx, "defense", "bob", "wins", 3))

	cases := []struct {
		name  string
		board Leaderboard
		want  string
	}{
		{name: "ranked", board: store, want: "Top wins: 1. bob (3), 2. alice (1)"},
		{name: "empty", board: stats.NewMemory(), want: "No games played yet."},
		{name: "unavailable", board: brokenBoard{}, want: "Leaderboard unavailable."},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t, tc.board)
			assert.True(t, f.frame("carol", "DAMAGE|PLACERCLIENT|Zombies Stats|carol"))
			assert.Equal(t, []string{types.Tellraw(tc.want)}, f.host.to("h-carol"))
			assert.False(t, f.owned("carol"), "the stats board is not a join trigger")
		})
	}
}
