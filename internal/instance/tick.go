package instance

import (
	"fmt"
	"math/rand/v2"
	"time"

	"go.uber.org/zap"

	"github.com/DoyleJ11/minigame-host/internal/engine"
	"github.com/DoyleJ11/minigame-host/pkg/types"
)

func (i *Instance) step(now time.Time) {
	if i.state != Active {
		return
	}
	i.now = now
	i.dt = now.Sub(i.lastTick)
	i.lastTick = now
	i.tick++

	o, err := i.runTick()
	if err != nil {
		i.tickFailed(err)
		return
	}
	i.failures = 0
	if o != nil {
		i.end(*o)
	}
}

// runTick advances the simulation, checks for a terminal condition and,
// when the round goes on, emits the tick's deltas.
func (i *Instance) runTick() (o *engine.Outcome, err error) {
	defer func() {
		if p := recover(); p != nil {
			o = nil
			err = fmt.Errorf("%w: panic: %v", engine.ErrTickFailure, p)
		}
	}()

	r := round{i}
	if err := i.content.Advance(r); err != nil {
		return nil, fmt.Errorf("%w: advance: %w", engine.ErrTickFailure, err)
	}
	if o := i.terminal(r); o != nil {
		return o, nil
	}
	if err := i.content.Emit(r); err != nil {
		return nil, fmt.Errorf("%w: emit: %w", engine.ErrTickFailure, err)
	}
	return nil, nil
}

func (i *Instance) terminal(r round) *engine.Outcome {
	if o := i.content.Check(r); o != nil {
		return o
	}
	if len(i.active) == 0 {
		return &engine.Outcome{Kind: engine.OutcomeExhausted, Reason: "no participants left"}
	}
	if i.cfg.TimeLimit > 0 && r.Elapsed() >= i.cfg.TimeLimit {
		return &engine.Outcome{Kind: engine.OutcomeTimeUp, Reason: "time limit reached"}
	}
	return nil
}

func (i *Instance) tickFailed(err error) {
	i.failures++
	i.failed++
	i.log.Error("tick failed",
		zap.Uint64("tick", i.tick),
		zap.Int("consecutive", i.failures),
		zap.Error(err))

	if i.cfg.TickFailureBudget > 0 && i.failures >= i.cfg.TickFailureBudget {
		i.end(engine.Outcome{
			Kind:   engine.OutcomeAborted,
			Reason: fmt.Sprintf("%d consecutive tick failures", i.failures),
		})
	}
}

// round exposes the instance to game content. It is only used on the loop
// goroutine.
type round struct{ i *Instance }

func (r round) InstanceID() int64           { return r.i.id }
func (r round) Now() time.Time              { return r.i.now }
func (r round) Tick() uint64                { return r.i.tick }
func (r round) Dt() time.Duration           { return r.i.dt }
func (r round) Elapsed() time.Duration      { return r.i.now.Sub(r.i.startedAt) }
func (r round) Participants() []string      { return append([]string{}, r.i.partic...) }
func (r round) Roster() []string            { return append([]string{}, r.i.members...) }
func (r round) Stats() engine.Recorder      { return r.i.stats }
func (r round) Rand() *rand.Rand            { return r.i.rng }
func (r round) Broadcast(msg string)        { r.i.broadcast(msg) }
func (r round) SendTo(identity, msg string) { r.i.sendTo(identity, msg) }

func (r round) IsParticipant(identity string) bool {
	_, ok := r.i.active[identity]
	return ok
}

func (r round) Position(identity string) (types.Position, bool) {
	p, ok := r.i.positions[identity]
	return p, ok
}

func (r round) Eliminate(identity string) {
	if _, ok := r.i.active[identity]; !ok {
		return
	}
	delete(r.i.active, identity)
	r.i.partic = sortedKeys(r.i.active)
	r.i.log.Info("participant eliminated", zap.String("identity", identity))
}
