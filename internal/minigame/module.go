// Package minigame binds one game's registry to the connection hub: trigger
// frames join players, in-round frames become input, disconnects leave.
package minigame

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/DoyleJ11/minigame-host/internal/engine"
	"github.com/DoyleJ11/minigame-host/internal/session"
	"github.com/DoyleJ11/minigame-host/internal/stats"
	"github.com/DoyleJ11/minigame-host/pkg/types"
)

// Host sends private feedback to one connection.
type Host interface {
	SendTo(h types.Handle, msg string) error
}

// MainWorld reaches the players that are not in any instance.
type MainWorld interface {
	BroadcastMain(msg string, exclude types.Handle)
}

// Leaderboard backs the "<trigger> Stats" interaction.
type Leaderboard interface {
	Top(ctx context.Context, game, stat string, limit int) ([]stats.Entry, error)
}

const (
	boardStat  = "wins"
	boardSize  = 5
	boardQuery = 2 * time.Second
)

type Options struct {
	Trigger     string
	Registry    *session.Registry
	Host        Host
	Main        MainWorld
	Leaderboard Leaderboard
	Logger      *zap.Logger
}

type Module struct {
	trigger string
	board   string
	reg     *session.Registry
	host    Host
	main    MainWorld
	top     Leaderboard
	log     *zap.Logger
}

func New(opts Options) *Module {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Module{
		trigger: opts.Trigger,
		board:   opts.Trigger + " Stats",
		reg:     opts.Registry,
		host:    opts.Host,
		main:    opts.Main,
		top:     opts.Leaderboard,
		log:     logger.With(zap.String("game", opts.Registry.Name())),
	}
}

func (m *Module) Registry() *session.Registry { return m.reg }

// HandleConnect drops whatever session a reconnecting identity left behind.
func (m *Module) HandleConnect(_ types.Handle, identity string) {
	m.dropGhost(identity)
}

func (m *Module) HandleFrame(h types.Handle, identity string, f types.Frame) bool {
	if identity == "" {
		return false
	}

	switch {
	case f.IsSyncReq():
		if f.Field(0) == identity {
			m.dropGhost(identity)
		}
		return false

	case f.IsPlayerInfo():
		if f.Field(0) != identity {
			return false
		}
		info, err := types.ParsePlayerInfo(f)
		if err != nil {
			return false
		}
		m.reg.UpdatePosition(identity, info.Position)
		return false

	case f.IsDamage():
		target, damager := f.Field(2), f.Field(3)
		if damager != identity {
			return false
		}
		switch {
		case m.top != nil && strings.HasPrefix(target, m.board):
			m.showBoard(h)
			return true
		case strings.HasPrefix(target, m.trigger):
			m.join(h, identity)
			return true
		}
		return m.reg.Input(identity, f)

	case f.IsTouch():
		if f.Field(0) != identity {
			return false
		}
		return m.reg.Input(identity, f)
	}
	return false
}

func (m *Module) HandleDisconnect(_ types.Handle, identity string) {
	if identity == "" {
		return
	}
	if err := m.reg.Leave(identity); err != nil && !errors.Is(err, engine.ErrNotInSession) {
		m.log.Warn("leave on disconnect failed", zap.String("identity", identity), zap.Error(err))
	}
}

func (m *Module) join(h types.Handle, identity string) {
	inst, err := m.reg.JoinAny(identity)
	switch {
	case err == nil:
		m.log.Debug("joined via trigger", zap.String("identity", identity), zap.Int64("instance", inst.ID()))
		m.main.BroadcastMain(types.Despawn(identity), h)
	case errors.Is(err, engine.ErrAlreadyInSession):
		m.log.Debug("join ignored", zap.String("identity", identity), zap.Error(err))
	case errors.Is(err, engine.ErrInstanceFull), errors.Is(err, engine.ErrNotJoinable):
		m.tell(h, "No open game right now, try again in a moment.")
	default:
		m.log.Warn("join failed", zap.String("identity", identity), zap.Error(err))
		m.tell(h, "Could not join the game.")
	}
}

func (m *Module) dropGhost(identity string) {
	if identity == "" {
		return
	}
	if _, ok := m.reg.Owns(identity); !ok {
		return
	}
	if err := m.reg.Leave(identity); err == nil {
		m.log.Info("removed ghost session", zap.String("identity", identity))
	}
}

func (m *Module) showBoard(h types.Handle) {
	ctx, cancel := context.WithTimeout(context.Background(), boardQuery)
	defer cancel()

	entries, err := m.top.Top(ctx, m.reg.Name(), boardStat, boardSize)
	if err != nil {
		m.log.Warn("leaderboard query failed", zap.Error(err))
		m.tell(h, "Leaderboard unavailable.")
		return
	}
	if len(entries) == 0 {
		m.tell(h, "No games played yet.")
		return
	}
	parts := make([]string, 0, len(entries))
	for n, e := range entries {
		parts = append(parts, fmt.Sprintf("%d. %s (%d)", n+1, e.Player, e.Value))
	}
	m.tell(h, "Top "+boardStat+": "+strings.Join(parts, ", "))
}

func (m *Module) tell(h types.Handle, text string) {
	if err := m.host.SendTo(h, types.Tellraw(text)); err != nil {
		m.log.Debug("delivery failed", zap.String("handle", string(h)), zap.Error(err))
	}
}
