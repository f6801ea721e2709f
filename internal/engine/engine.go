package engine

import (
	"errors"
	"math/rand/v2"
	"time"

	"github.com/DoyleJ11/minigame-host/pkg/types"
)

var ErrAlreadyInSession = errors.New("already in a session")
var ErrInstanceFull = errors.New("instance is full")
var ErrNotJoinable = errors.New("instance is not accepting players")
var ErrNotInSession = errors.New("not in a session")
var ErrDeliveryFailed = errors.New("delivery failed")
var ErrTickFailure = errors.New("tick failed")

type OutcomeKind string

const (
	OutcomeVictory   OutcomeKind = "victory"   // participants achieved the objective together
	OutcomeDefeat    OutcomeKind = "defeat"    // participants lost together
	OutcomeWinner    OutcomeKind = "winner"    // one participant won
	OutcomeTimeUp    OutcomeKind = "time_up"   // time or round limit exhausted
	OutcomeExhausted OutcomeKind = "exhausted" // every participant eliminated
	OutcomeCancelled OutcomeKind = "cancelled" // too few players left
	OutcomeAborted   OutcomeKind = "aborted"   // torn down externally or tick budget spent
)

type Outcome struct {
	Kind    OutcomeKind `json:"kind"`
	Winners []string    `json:"winners,omitempty"`
	Reason  string      `json:"reason,omitempty"`
}

// Normal reports whether the round ran to a content-defined conclusion.
func (o Outcome) Normal() bool {
	switch o.Kind {
	case OutcomeCancelled, OutcomeAborted:
		return false
	default:
		return true
	}
}

// Recorder receives per-player statistic increments. Implementations must not block.
type Recorder interface {
	Record(player, stat string, delta int)
}

type NopRecorder struct{}

func (NopRecorder) Record(string, string, int) {}

// Round is the view a Game gets of its instance while a round is running.
// It is only valid inside Game callbacks, all of which run on the instance loop.
type Round interface {
	InstanceID() int64
	Now() time.Time
	Tick() uint64
	// Dt is the wall time since the previous tick.
	Dt() time.Duration
	Elapsed() time.Duration

	// Participants returns the active, in-simulation identities sorted by name.
	Participants() []string
	Roster() []string
	IsParticipant(identity string) bool
	Position(identity string) (types.Position, bool)
	// Eliminate removes identity from the active set. It stays in the roster.
	Eliminate(identity string)

	// Broadcast sends msg to every roster member.
	Broadcast(msg string)
	SendTo(identity, msg string)

	Stats() Recorder
	Rand() *rand.Rand
}

// Game is the content-specific strategy plugged into an instance.
//
// Advance and Emit run on every tick with the termination check between
// them; Emit is skipped on the tick that ends the round.
type Game interface {
	Start(r Round) error
	HandleInput(r Round, identity string, f types.Frame)
	Remove(r Round, identity string)
	Advance(r Round) error
	Check(r Round) *Outcome
	Emit(r Round) error
	Finish(r Round, o Outcome)
}

// Factory builds the per-instance state for a new game.
type Factory func(instanceID int64) Game
