// Package freeforall is a last-man-standing shooter: players tap to fire and
// the first to reach the kill target wins.
package freeforall

import (
	"cmp"
	"fmt"
	"slices"
	"time"

	"github.com/DoyleJ11/minigame-host/internal/engine"
	"github.com/DoyleJ11/minigame-host/pkg/types"
)

const (
	tileSize     = 40
	spriteWidth  = 50
	spriteHeight = 190

	objectSprite     = 0
	objectHit        = 2
	objectProjectile = 9
	projectileSize   = 10
	hitSize          = 15

	// A match needs someone to shoot at.
	minOpponents = 2
)

var spawnTiles = [][2]int{{25, 59}, {95, 59}, {60, 44}, {20, 74}, {100, 74}, {60, 74}}

type Rules struct {
	WinKills        int
	MaxHealth       int
	MaxAmmo         int
	Damage          int
	ProjectileSpeed float64
	ProjectileLife  float64
	ProjectileDecay float64
	FireCooldown    time.Duration
	ReloadTime      time.Duration
	HitFlash        time.Duration
	DeathFrames     int
}

func DefaultRules() Rules {
	return Rules{
		WinKills:        10,
		MaxHealth:       100,
		MaxAmmo:         30,
		Damage:          34,
		ProjectileSpeed: 30,
		ProjectileLife:  1.5,
		ProjectileDecay: 0.05,
		FireCooldown:    200 * time.Millisecond,
		ReloadTime:      2500 * time.Millisecond,
		HitFlash:        300 * time.Millisecond,
		DeathFrames:     10,
	}
}

type player struct {
	health   int
	ammo     int
	kills    int
	deaths   int
	lastShot time.Time
	reloadAt time.Time
}

func (p *player) reloading() bool { return !p.reloadAt.IsZero() }

type Game struct {
	rules      Rules
	instanceID int64
	spawns     []types.Position

	players     map[string]*player
	projectiles []*projectile
	effects     []*effect
	destroyed   []string
	seq         int
	outcome     *engine.Outcome
}

var _ engine.Game = (*Game)(nil)

func New(rules Rules) engine.Factory {
	return func(instanceID int64) engine.Game {
		spawns := make([]types.Position, 0, len(spawnTiles))
		for _, t := range spawnTiles {
			spawns = append(spawns, types.Position{X: float64(t[0] * tileSize), Y: float64(t[1] * tileSize)})
		}
		return &Game{
			rules:      rules,
			instanceID: instanceID,
			spawns:     spawns,
			players:    make(map[string]*player),
		}
	}
}

func (g *Game) Start(r engine.Round) error {
	participants := r.Participants()
	order := r.Rand().Perm(len(g.spawns))
	for i, name := range participants {
		g.players[name] = &player{health: g.rules.MaxHealth, ammo: g.rules.MaxAmmo}
		spawn := g.spawns[order[i%len(order)]]
		r.SendTo(name, types.TouchSensor(true))
		r.Broadcast(types.SetPosition(int(spawn.X), int(spawn.Y), name))
	}

	r.Broadcast(types.DisableBreaking(true))
	r.Broadcast(types.KillLog())
	r.Broadcast(types.Tellraw(fmt.Sprintf("Match Started! First to %d kills wins!", g.rules.WinKills)))
	return nil
}

func (g *Game) HandleInput(r engine.Round, identity string, f types.Frame) {
	if !f.IsTouch() {
		return
	}
	x, y, err := types.ParseTouch(f)
	if err != nil {
		return
	}
	g.shoot(r, identity, x, y)
}

func (g *Game) Remove(r engine.Round, identity string) {
	delete(g.players, identity)
	r.SendTo(identity, types.TouchSensor(false))
	r.SendTo(identity, types.DisableBreaking(false))
}

func (g *Game) Advance(r engine.Round) error {
	now := r.Now()
	for name, p := range g.players {
		if p.reloading() && !now.Before(p.reloadAt) {
			p.ammo = g.rules.MaxAmmo
			p.reloadAt = time.Time{}
			r.SendTo(name, types.Tellraw("Reloaded."))
		}
	}

	g.moveProjectiles(r)
	g.expireEffects(now)
	return nil
}

func (g *Game) Check(r engine.Round) *engine.Outcome {
	if g.outcome != nil {
		return g.outcome
	}
	if len(r.Participants()) < minOpponents {
		return &engine.Outcome{Kind: engine.OutcomeCancelled, Reason: "not enough players"}
	}
	return nil
}

func (g *Game) Emit(r engine.Round) error {
	g.flushDestroyed(r)
	for _, p := range g.projectiles {
		r.Broadcast(types.ObjectModify(objectProjectile, int(p.x), int(p.y), projectileSize, projectileSize, p.id))
	}
	for _, e := range g.effects {
		if e.frames > 0 {
			e.shrink()
			r.Broadcast(types.ObjectModify(e.kind, e.x, e.y, e.w, e.h, e.id))
		}
	}
	return nil
}

func (g *Game) Finish(r engine.Round, o engine.Outcome) {
	switch o.Kind {
	case engine.OutcomeWinner:
		for _, name := range o.Winners {
			r.Stats().Record(name, "wins", 1)
			kills := 0
			if p, ok := g.players[name]; ok {
				kills = p.kills
			}
			r.Broadcast(types.Tellraw(fmt.Sprintf("%s wins the match with %d kills!", name, kills)))
		}
	default:
		msg := "Match ended."
		if o.Reason != "" {
			msg = "Match ended: " + o.Reason + "."
		}
		r.Broadcast(types.Tellraw(msg))
	}

	for _, p := range g.projectiles {
		g.destroyed = append(g.destroyed, p.id)
	}
	for _, e := range g.effects {
		g.destroyed = append(g.destroyed, e.id)
	}
	g.projectiles, g.effects = nil, nil
	g.flushDestroyed(r)

	for _, name := range r.Roster() {
		r.SendTo(name, types.TouchSensor(false))
		r.SendTo(name, types.DisableBreaking(false))
	}
}

// Score reports kills and deaths for identity.
func (g *Game) Score(identity string) (kills, deaths int, ok bool) {
	p, ok := g.players[identity]
	if !ok {
		return 0, 0, false
	}
	return p.kills, p.deaths, true
}

func (g *Game) flushDestroyed(r engine.Round) {
	for _, id := range g.destroyed {
		r.Broadcast(types.ObjectDestroy(id))
	}
	g.destroyed = g.destroyed[:0]
}

func (g *Game) nextID(prefix string) string {
	g.seq++
	return fmt.Sprintf("%s_%d_%d", prefix, g.instanceID, g.seq)
}

// respawnPoint picks the spawn farthest from every other positioned player.
func (g *Game) respawnPoint(r engine.Round, identity string) types.Position {
	var others []types.Position
	for _, name := range r.Participants() {
		if name == identity {
			continue
		}
		if pos, ok := r.Position(name); ok {
			others = append(others, pos)
		}
	}
	if len(others) == 0 {
		return g.spawns[r.Rand().IntN(len(g.spawns))]
	}

	best, bestDist := g.spawns[0], -1.0
	for _, s := range g.spawns {
		nearest := slices.MinFunc(others, func(a, b types.Position) int {
			return cmp.Compare(dist2(s, a), dist2(s, b))
		})
		if d := dist2(s, nearest); d > bestDist {
			best, bestDist = s, d
		}
	}
	return best
}

func dist2(a, b types.Position) float64 {
	dx, dy := a.X-b.X, a.Y-b.Y
	return dx*dx + dy*dy
}
