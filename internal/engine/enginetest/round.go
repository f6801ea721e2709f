// Package enginetest provides an in-memory engine.Round for exercising game
// content without an instance loop.
package enginetest

import (
	"math/rand/v2"
	"slices"
	"time"

	"github.com/DoyleJ11/minigame-host/internal/engine"
	"github.com/DoyleJ11/minigame-host/pkg/types"
)

type Round struct {
	ID        int64
	Clock     time.Time
	Started   time.Time
	TickN     uint64
	Step      time.Duration
	Active    []string
	Members   []string
	Positions map[string]types.Position

	Broadcasts []string
	Sent       map[string][]string
	Stat       map[string]int
	Eliminated []string

	rng *rand.Rand
}

var _ engine.Round = (*Round)(nil)

// NewRound starts a round with every identity both in the roster and active.
func NewRound(identities ...string) *Round {
	now := time.Date(2025, time.January, 1, 12, 0, 0, 0, time.UTC)
	active := slices.Clone(identities)
	slices.Sort(active)
	return &Round{
		ID:        1,
		Clock:     now,
		Started:   now,
		Active:    active,
		Members:   slices.Clone(active),
		Positions: make(map[string]types.Position),
		Sent:      make(map[string][]string),
		Stat:      make(map[string]int),
		rng:       rand.New(rand.NewPCG(1, 2)),
	}
}

// Next moves the clock forward by d and counts a tick.
func (r *Round) Next(d time.Duration) {
	r.Clock = r.Clock.Add(d)
	r.Step = d
	r.TickN++
}

// Drain returns and clears the broadcasts recorded so far.
func (r *Round) Drain() []string {
	out := r.Broadcasts
	r.Broadcasts = nil
	return out
}

// Count is the recorded total for player and stat.
func (r *Round) Count(player, stat string) int { return r.Stat[player+"/"+stat] }

func (r *Round) InstanceID() int64      { return r.ID }
func (r *Round) Now() time.Time         { return r.Clock }
func (r *Round) Tick() uint64           { return r.TickN }
func (r *Round) Dt() time.Duration      { return r.Step }
func (r *Round) Elapsed() time.Duration { return r.Clock.Sub(r.Started) }
func (r *Round) Participants() []string { return slices.Clone(r.Active) }
func (r *Round) Roster() []string       { return slices.Clone(r.Members) }
func (r *Round) Stats() engine.Recorder { return r }
func (r *Round) Rand() *rand.Rand       { return r.rng }

func (r *Round) IsParticipant(identity string) bool {
	return slices.Contains(r.Active, identity)
}

func (r *Round) Position(identity string) (types.Position, bool) {
	p, ok := r.Positions[identity]
	return p, ok
}

func (r *Round) Eliminate(identity string) {
	i := slices.Index(r.Active, identity)
	if i < 0 {
		return
	}
	r.Active = slices.Delete(r.Active, i, i+1)
	r.Eliminated = append(r.Eliminated, identity)
}

func (r *Round) Broadcast(msg string) {
	r.Broadcasts = append(r.Broadcasts, msg)
	for _, identity := range r.Members {
		r.Sent[identity] = append(r.Sent[identity], msg)
	}
}

func (r *Round) SendTo(identity, msg string) {
	r.Sent[identity] = append(r.Sent[identity], msg)
}

func (r *Round) Record(player, stat string, delta int) {
	r.Stat[player+"/"+stat] += delta
}
