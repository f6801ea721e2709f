// Package defense is the core-defense minigame: waves of zombies walk toward a
// core while players shoot them down.
package defense

import (
	"fmt"
	"math"
	"slices"
	"time"

	"github.com/DoyleJ11/minigame-host/internal/engine"
	"github.com/DoyleJ11/minigame-host/pkg/types"
)

const (
	tileSize   = 40
	skinHeight = 190
	arenaX     = 2413
	arenaY     = 1504

	skinZombie = "LAG"
	skinMaster = "Steve"
)

// Rules are the tunables of one defense match.
type Rules struct {
	BaseZombies      int
	ZombiesPerRound  int
	BaseHP           int
	HPPerRound       int
	MasterMultiplier int
	Speed            float64
	Gravity          float64
	MaxRounds        int
	CoreHP           int
	HitDamage        int
	RoundHold        time.Duration
}

func DefaultRules() Rules {
	return Rules{
		BaseZombies:      5,
		ZombiesPerRound:  1,
		BaseHP:           20,
		HPPerRound:       5,
		MasterMultiplier: 3,
		Speed:            4,
		Gravity:          8,
		MaxRounds:        5,
		CoreHP:           100,
		HitDamage:        10,
		RoundHold:        3 * time.Second,
	}
}

type zombie struct {
	id        int
	name      string
	x, y      float64
	hp        int
	master    bool
	lastHitBy string
}

type Game struct {
	rules  Rules
	ground float64
	coreX  float64

	round     int
	coreHP    int
	nextID    int
	zombies   []*zombie
	despawned []string
	holdUntil time.Time
	outcome   *engine.Outcome
}

var _ engine.Game = (*Game)(nil)

// New returns a factory that builds a fresh match per instance. Zombie ids are
// offset by the instance id so entities never collide across instances.
func New(rules Rules) engine.Factory {
	return func(instanceID int64) engine.Game {
		return &Game{
			rules:  rules,
			ground: tileSize*tileSize - skinHeight/2,
			coreX:  60*tileSize + tileSize/2,
			nextID: int(instanceID) * 1000,
		}
	}
}

func (g *Game) Start(r engine.Round) error {
	g.coreHP = g.rules.CoreHP
	r.Broadcast(types.KillLog())
	for _, p := range r.Participants() {
		r.Stats().Record(p, "games_played", 1)
		r.Broadcast(types.SetPosition(arenaX, arenaY, p))
	}
	r.Broadcast(types.Tellraw("GAME STARTED! Defend the core!"))
	return nil
}

func (g *Game) HandleInput(r engine.Round, identity string, f types.Frame) {
	if !f.IsDamage() {
		return
	}
	target := f.Field(2)
	for _, z := range g.zombies {
		if z.name == target {
			z.hp -= g.rules.HitDamage
			z.lastHitBy = identity
			return
		}
	}
}

func (g *Game) Remove(engine.Round, string) {}

func (g *Game) Advance(r engine.Round) error {
	if g.outcome != nil {
		return nil
	}

	if len(g.zombies) == 0 {
		if g.round >= g.rules.MaxRounds {
			g.outcome = &engine.Outcome{Kind: engine.OutcomeVictory, Winners: r.Participants()}
			return nil
		}
		g.spawnRound(r)
	}
	if r.Now().Before(g.holdUntil) {
		return nil
	}

	alive := g.zombies[:0]
	for _, z := range g.zombies {
		if z.hp <= 0 {
			if z.lastHitBy != "" {
				r.Stats().Record(z.lastHitBy, "kills", 1)
			}
			g.despawned = append(g.despawned, z.name)
			continue
		}
		alive = append(alive, z)

		if z.y < g.ground {
			z.y = math.Min(z.y+g.rules.Gravity, g.ground)
			continue
		}
		dx := g.coreX - z.x
		if math.Abs(dx) > tileSize/2 {
			z.x += math.Copysign(g.rules.Speed, dx)
			continue
		}
		if g.coreHP > 0 {
			g.coreHP--
			if g.coreHP%20 == 0 {
				r.Broadcast(types.Tellraw(fmt.Sprintf("Core HP: %d/%d", g.coreHP, g.rules.CoreHP)))
			}
		}
		if g.coreHP == 0 && g.outcome == nil {
			g.outcome = &engine.Outcome{Kind: engine.OutcomeDefeat, Reason: "the core fell"}
		}
	}
	clear(g.zombies[len(alive):])
	g.zombies = alive
	return nil
}

func (g *Game) spawnRound(r engine.Round) {
	g.round++
	count := g.rules.BaseZombies + (g.round-1)*g.rules.ZombiesPerRound
	hp := g.rules.BaseHP + (g.round-1)*g.rules.HPPerRound
	rng := r.Rand()

	for i := range count {
		g.nextID++
		z := &zombie{
			id:   g.nextID,
			name: fmt.Sprintf("Zombie-%d", g.nextID),
			y:    g.ground - 2*skinHeight,
			hp:   hp,
		}
		if i == 0 {
			z.master = true
			z.name = "Master " + z.name
			z.hp = hp * g.rules.MasterMultiplier
		}
		offset := 9 + rng.IntN(3)
		if rng.IntN(2) == 0 {
			offset = -offset
		}
		z.x = float64((60+offset)*tileSize + tileSize/2)
		g.zombies = append(g.zombies, z)
	}

	r.Broadcast(types.Tellraw(fmt.Sprintf("ROUND %d INCOMING!", g.round)))
	g.holdUntil = r.Now().Add(g.rules.RoundHold)
}

func (g *Game) Check(engine.Round) *engine.Outcome { return g.outcome }

func (g *Game) Emit(r engine.Round) error {
	for _, name := range g.despawned {
		r.Broadcast(types.Despawn(name))
	}
	g.despawned = g.despawned[:0]

	for _, z := range g.zombies {
		skin := skinZombie
		if z.master {
			skin = skinMaster
		}
		r.Broadcast(types.PlayerInfoFrame(z.name, int(z.x), int(z.y), skin, z.id, z.hp))
	}
	return nil
}

func (g *Game) Finish(r engine.Round, o engine.Outcome) {
	switch o.Kind {
	case engine.OutcomeVictory:
		for _, p := range o.Winners {
			r.Stats().Record(p, "wins", 1)
		}
		r.Broadcast(types.Tellraw(fmt.Sprintf("VICTORY! The core survived %d rounds.", g.round)))
	case engine.OutcomeDefeat:
		r.Broadcast(types.Tellraw(fmt.Sprintf("DEFEATED! The core fell in round %d.", g.round)))
	default:
		msg := "Game over."
		if o.Reason != "" {
			msg = "Game over: " + o.Reason + "."
		}
		r.Broadcast(types.Tellraw(msg))
	}

	names := slices.Clone(g.despawned)
	for _, z := range g.zombies {
		names = append(names, z.name)
	}
	for _, name := range names {
		r.Broadcast(types.Despawn(name))
	}
	g.zombies = nil
	g.despawned = nil
}

// Zombies reports the live zombie names in spawn order.
func (g *Game) Zombies() []string {
	out := make([]string, 0, len(g.zombies))
	for _, z := range g.zombies {
		out = append(out, z.name)
	}
	return out
}
