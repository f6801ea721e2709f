package freeforall

import (
	"math"
	"time"

	"github.com/DoyleJ11/minigame-host/internal/engine"
	"github.com/DoyleJ11/minigame-host/pkg/types"
)

type projectile struct {
	id     string
	owner  string
	x, y   float64
	vx, vy float64
	life   float64
}

// effect is a short-lived decoration object. Death effects shrink one frame
// per emit; hit flashes disappear at expires.
type effect struct {
	id         string
	kind       int
	x, y, w, h int
	frames     int
	total      int
	baseW      int
	baseH      int
	expires    time.Time
}

func (e *effect) shrink() {
	e.frames--
	scale := float64(e.frames) / float64(e.total)
	e.w = int(float64(e.baseW) * scale)
	e.h = int(float64(e.baseH) * scale)
}

func (g *Game) shoot(r engine.Round, identity string, tx, ty float64) {
	p, ok := g.players[identity]
	if !ok || p.health <= 0 || p.reloading() {
		return
	}
	pos, ok := r.Position(identity)
	if !ok {
		return
	}
	if p.ammo <= 0 {
		g.reload(r, identity, p)
		return
	}
	now := r.Now()
	if !p.lastShot.IsZero() && now.Sub(p.lastShot) < g.rules.FireCooldown {
		return
	}
	p.lastShot = now
	p.ammo--

	angle := math.Atan2(ty-pos.Y, tx-pos.X)
	proj := &projectile{
		id:    g.nextID("proj"),
		owner: identity,
		x:     pos.X,
		y:     pos.Y,
		vx:    math.Cos(angle) * g.rules.ProjectileSpeed,
		vy:    math.Sin(angle) * g.rules.ProjectileSpeed,
		life:  g.rules.ProjectileLife,
	}
	g.projectiles = append(g.projectiles, proj)
	r.Broadcast(types.ObjectSpawn(objectProjectile, int(proj.x), int(proj.y), projectileSize, projectileSize, proj.id))
}

func (g *Game) reload(r engine.Round, identity string, p *player) {
	p.reloadAt = r.Now().Add(g.rules.ReloadTime)
	r.SendTo(identity, types.Tellraw("Reloading..."))
}

func (g *Game) moveProjectiles(r engine.Round) {
	kept := g.projectiles[:0]
	for _, proj := range g.projectiles {
		proj.x += proj.vx
		proj.y += proj.vy
		proj.life -= g.rules.ProjectileDecay

		if victim, ok := g.hitTest(r, proj); ok {
			g.hit(r, proj.owner, victim)
			g.destroyed = append(g.destroyed, proj.id)
			continue
		}
		if proj.life <= 0 {
			g.destroyed = append(g.destroyed, proj.id)
			continue
		}
		kept = append(kept, proj)
	}
	clear(g.projectiles[len(kept):])
	g.projectiles = kept
}

func (g *Game) hitTest(r engine.Round, proj *projectile) (string, bool) {
	for _, name := range r.Participants() {
		if name == proj.owner {
			continue
		}
		pos, ok := r.Position(name)
		if !ok {
			continue
		}
		centerY := pos.Y - spriteHeight/2
		if math.Abs(proj.x-pos.X) < spriteWidth/2 && math.Abs(proj.y-centerY) < spriteHeight/2 {
			return name, true
		}
	}
	return "", false
}

func (g *Game) hit(r engine.Round, attacker, victim string) {
	a, ok := g.players[attacker]
	if !ok || g.outcome != nil {
		return
	}
	v, ok := g.players[victim]
	if !ok {
		return
	}

	now := r.Now()
	pos, _ := r.Position(victim)
	flash := &effect{
		id:      g.nextID("hit"),
		kind:    objectHit,
		x:       int(pos.X) + r.Rand().IntN(31) - 15,
		y:       int(pos.Y-spriteHeight/2) + r.Rand().IntN(61) - 30,
		w:       hitSize,
		h:       hitSize,
		expires: now.Add(g.rules.HitFlash),
	}
	g.spawnEffect(r, flash)

	v.health -= g.rules.Damage
	if v.health > 0 {
		return
	}

	a.kills++
	v.deaths++
	r.Stats().Record(attacker, "kills", 1)
	r.Stats().Record(victim, "deaths", 1)
	r.Broadcast(types.KillLog(attacker, victim))

	g.spawnEffect(r, &effect{
		id:     g.nextID("death"),
		kind:   objectSprite,
		x:      int(pos.X),
		y:      int(pos.Y),
		w:      spriteWidth,
		h:      spriteHeight,
		baseW:  spriteWidth,
		baseH:  spriteHeight,
		frames: g.rules.DeathFrames,
		total:  g.rules.DeathFrames,
	})

	spawn := g.respawnPoint(r, victim)
	v.health = g.rules.MaxHealth
	v.ammo = g.rules.MaxAmmo
	v.reloadAt = time.Time{}
	r.Broadcast(types.SetPosition(int(spawn.X), int(spawn.Y), victim))

	if a.kills >= g.rules.WinKills {
		g.outcome = &engine.Outcome{Kind: engine.OutcomeWinner, Winners: []string{attacker}}
	}
}

func (g *Game) spawnEffect(r engine.Round, e *effect) {
	g.effects = append(g.effects, e)
	r.Broadcast(types.ObjectSpawn(e.kind, e.x, e.y, e.w, e.h, e.id))
}

func (g *Game) expireEffects(now time.Time) {
	kept := g.effects[:0]
	for _, e := range g.effects {
		done := e.total > 0 && e.frames <= 0
		if e.total == 0 && !now.Before(e.expires) {
			done = true
		}
		if done {
			g.destroyed = append(g.destroyed, e.id)
			continue
		}
		kept = append(kept, e)
	}
	clear(g.effects[len(kept):])
	g.effects = kept
}
