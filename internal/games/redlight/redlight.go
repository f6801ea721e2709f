// Package redlight is red light, green light: players race to the finish
// line and anyone caught moving while the light is red is out.
package redlight

import (
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/DoyleJ11/minigame-host/internal/engine"
	"github.com/DoyleJ11/minigame-host/pkg/types"
)

const (
	tileSize = 40

	startX = 20 * tileSize
	startY = 110 * tileSize
	// Eliminated players watch from the side gallery.
	galleryX = 2 * tileSize
	galleryY = 10 * tileSize

	dollX    = 20 * tileSize
	dollY    = 5*tileSize - 80
	dollSkin = "GameNPC"
)

type Light int

const (
	Green Light = iota
	Red
)

func (l Light) String() string {
	if l == Red {
		return "red"
	}
	return "green"
}

type Rules struct {
	MinGreen   time.Duration
	MaxGreen   time.Duration
	MinRed     time.Duration
	MaxRed     time.Duration
	Sway       time.Duration
	FinishLine float64
}

func DefaultRules() Rules {
	return Rules{
		MinGreen:   3 * time.Second,
		MaxGreen:   7 * time.Second,
		MinRed:     2 * time.Second,
		MaxRed:     5 * time.Second,
		Sway:       750 * time.Millisecond,
		FinishLine: 6 * tileSize,
	}
}

type Game struct {
	rules    Rules
	dollName string
	dollID   int

	light     Light
	phaseEnd  time.Time
	nextSway  time.Time
	facing    int
	dollDirty bool
	frozen    map[string]types.Position
	outcome   *engine.Outcome
}

var _ engine.Game = (*Game)(nil)

func New(rules Rules) engine.Factory {
	return func(instanceID int64) engine.Game {
		return &Game{
			rules:    rules,
			dollName: fmt.Sprintf("Doll-%d", instanceID),
			dollID:   int(instanceID) * 1000,
			facing:   1,
		}
	}
}

func (g *Game) Light() Light { return g.light }

func (g *Game) Start(r engine.Round) error {
	for _, p := range r.Participants() {
		r.Broadcast(types.SetPosition(startX, startY, p))
	}
	r.Broadcast(types.Tellraw("GAME STARTED! Reach the finish line!"))
	g.green(r)
	return nil
}

func (g *Game) HandleInput(engine.Round, string, types.Frame) {}

func (g *Game) Remove(_ engine.Round, identity string) {
	delete(g.frozen, identity)
}

func (g *Game) Advance(r engine.Round) error {
	now := r.Now()
	if !now.Before(g.phaseEnd) {
		if g.light == Green {
			g.red(r)
		} else {
			g.green(r)
		}
	}
	if g.light == Green && !now.Before(g.nextSway) {
		g.facing = r.Rand().IntN(2)
		g.dollDirty = true
		g.nextSway = now.Add(g.rules.Sway)
	}

	for _, p := range r.Participants() {
		pos, ok := r.Position(p)
		if !ok {
			continue
		}
		if g.light == Red {
			if last, seen := g.frozen[p]; seen && (last.X != pos.X || last.Y != pos.Y) {
				g.eliminate(r, p)
				continue
			}
		}
		if pos.Y < g.rules.FinishLine && g.outcome == nil {
			g.outcome = &engine.Outcome{Kind: engine.OutcomeWinner, Winners: []string{p}}
		}
	}
	return nil
}

func (g *Game) Check(engine.Round) *engine.Outcome { return g.outcome }

func (g *Game) Emit(r engine.Round) error {
	if g.dollDirty {
		r.Broadcast(types.PlayerInfoFrame(g.dollName, dollX, dollY, dollSkin, g.facing, g.dollID))
		g.dollDirty = false
	}
	return nil
}

func (g *Game) Finish(r engine.Round, o engine.Outcome) {
	r.Broadcast(types.HideImage())
	r.Broadcast(types.Despawn(g.dollName))

	switch o.Kind {
	case engine.OutcomeWinner:
		for _, p := range o.Winners {
			r.Stats().Record(p, "wins", 1)
			r.Broadcast(types.Tellraw(p + " crossed the finish line and wins!"))
		}
	case engine.OutcomeTimeUp:
		r.Broadcast(types.Tellraw("Time's up! Nobody reached the finish line."))
	case engine.OutcomeExhausted:
		r.Broadcast(types.Tellraw("Everyone was eliminated."))
	default:
		msg := "Game over."
		if o.Reason != "" {
			msg = "Game over: " + o.Reason + "."
		}
		r.Broadcast(types.Tellraw(msg))
	}
}

func (g *Game) green(r engine.Round) {
	now := r.Now()
	g.light = Green
	g.frozen = nil
	g.phaseEnd = now.Add(between(r.Rand(), g.rules.MinGreen, g.rules.MaxGreen))
	g.nextSway = now
	r.Broadcast(types.HideImage())
	r.Broadcast(types.Tellraw("GREEN LIGHT!"))
}

// red snapshots every known participant position; any change before the next
// green light eliminates.
func (g *Game) red(r engine.Round) {
	g.light = Red
	g.phaseEnd = r.Now().Add(between(r.Rand(), g.rules.MinRed, g.rules.MaxRed))
	g.facing = 0
	g.dollDirty = true

	g.frozen = make(map[string]types.Position)
	for _, p := range r.Participants() {
		if pos, ok := r.Position(p); ok {
			g.frozen[p] = pos
		}
	}
	r.Broadcast(types.Tellraw("RED LIGHT!"))
}

func (g *Game) eliminate(r engine.Round, identity string) {
	r.Eliminate(identity)
	delete(g.frozen, identity)
	r.Broadcast(types.Tellraw(identity + " was eliminated: moved during Red Light!"))
	r.Broadcast(types.SetPosition(galleryX, galleryY, identity))
}

func between(rng *rand.Rand, lo, hi time.Duration) time.Duration {
	if hi <= lo {
		return lo
	}
	return lo + time.Duration(rng.Int64N(int64(hi-lo)+1))
}
