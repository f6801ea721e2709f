package instance

import (
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/DoyleJ11/minigame-host/internal/engine"
	"github.com/DoyleJ11/minigame-host/pkg/types"
)

func (i *Instance) join(identity string) error {
	if i.state != Waiting && i.state != Countdown {
		return fmt.Errorf("%w: instance %d is %s", engine.ErrNotJoinable, i.id, i.state)
	}
	if _, ok := i.roster[identity]; ok {
		return fmt.Errorf("%w: %s is in instance %d", engine.ErrAlreadyInSession, identity, i.id)
	}
	if len(i.roster) >= i.cfg.MaxPlayers {
		return fmt.Errorf("%w: instance %d has %d/%d", engine.ErrInstanceFull, i.id, len(i.roster), i.cfg.MaxPlayers)
	}
	if err := i.claims.Claim(identity, i.id); err != nil {
		return err
	}

	i.roster[identity] = struct{}{}
	i.members = sortedKeys(i.roster)
	n := len(i.roster)
	i.log.Info("player joined", zap.String("identity", identity), zap.Int("roster", n))
	i.broadcast(types.Tellraw(fmt.Sprintf("%s joined! (%d/%d)", identity, n, i.cfg.MaxPlayers)))

	switch {
	case i.state == Waiting && (n >= i.cfg.MinPlayers || n == i.cfg.MaxPlayers):
		i.startCountdown(n == i.cfg.MaxPlayers)
	case i.state == Countdown && n == i.cfg.MaxPlayers && i.remaining > i.cfg.CountdownFull:
		i.remaining = i.cfg.CountdownFull
		i.announceCountdown()
	}
	return nil
}

func (i *Instance) leave(identity string) error {
	if _, ok := i.roster[identity]; !ok {
		return fmt.Errorf("%w: %s is not in instance %d", engine.ErrNotInSession, identity, i.id)
	}

	delete(i.roster, identity)
	i.members = sortedKeys(i.roster)
	i.claims.Release(identity, i.id)
	delete(i.positions, identity)
	_, wasActive := i.active[identity]
	if wasActive {
		delete(i.active, identity)
		i.partic = sortedKeys(i.active)
	}

	n := len(i.roster)
	i.log.Info("player left", zap.String("identity", identity), zap.Int("roster", n))
	i.broadcast(types.Despawn(identity))
	i.broadcast(types.Tellraw(fmt.Sprintf("%s left the game. (%d/%d)", identity, n, i.cfg.MaxPlayers)))

	if i.state == Active && wasActive {
		i.guard("remove", func() { i.content.Remove(round{i}, identity) })
	}

	switch {
	case n == 0 && i.state == Ending:
		// Nobody is left to watch the settle delay.
		i.settle.Reset(0)
	case n == 0 && i.state < Ending:
		i.end(engine.Outcome{Kind: engine.OutcomeCancelled, Reason: "everyone left"})
	case i.state == Countdown && n < i.cfg.MinPlayers:
		i.cancelCountdown()
	case i.state == Active && wasActive && len(i.active) < i.cfg.MinPlayers:
		i.end(engine.Outcome{Kind: engine.OutcomeCancelled, Reason: "not enough players"})
	}
	return nil
}

func (i *Instance) input(identity string, f types.Frame) {
	if i.state != Active {
		return
	}
	if _, ok := i.active[identity]; !ok {
		return
	}
	i.guard("input", func() { i.content.HandleInput(round{i}, identity, f) })
}

func (i *Instance) startCountdown(full bool) {
	i.state = Countdown
	i.remaining = i.cfg.CountdownNormal
	if full {
		i.remaining = i.cfg.CountdownFull
	}
	if i.remaining <= 0 {
		i.countdownElapsed()
		return
	}
	i.countdown = time.NewTicker(i.cfg.CountdownStep)
	i.log.Debug("countdown started", zap.Int("steps", i.remaining), zap.Bool("full", full))
	i.announceCountdown()
}

func (i *Instance) countdownStep() {
	if i.state != Countdown {
		return
	}
	i.remaining--
	if i.remaining <= 0 {
		i.countdownElapsed()
		return
	}
	if i.remaining <= 5 || i.remaining%5 == 0 {
		i.announceCountdown()
	}
}

func (i *Instance) announceCountdown() {
	i.broadcast(types.Tellraw(fmt.Sprintf("Game starting in %d...", i.remaining)))
}

func (i *Instance) countdownElapsed() {
	i.stopCountdown()
	i.broadcast(types.HideImage())
	if len(i.roster) < i.cfg.MinPlayers {
		i.state = Waiting
		i.broadcast(types.Tellraw("Not enough players to start. Countdown cancelled."))
		return
	}
	i.startRound()
}

// cancelCountdown settles on Waiting before the ticker is stopped so a step
// that is already queued sees the new state and does nothing.
func (i *Instance) cancelCountdown() {
	i.state = Waiting
	i.remaining = 0
	i.stopCountdown()
	i.log.Debug("countdown cancelled", zap.Int("roster", len(i.roster)))
	i.broadcast(types.Tellraw("Countdown cancelled."))
	i.broadcast(types.HideImage())
}

func (i *Instance) startRound() {
	i.state = Active
	i.started = true
	for identity := range i.roster {
		i.active[identity] = struct{}{}
	}
	i.partic = sortedKeys(i.active)
	i.startedAt = i.now
	i.lastTick = i.now
	i.log.Info("round started", zap.Strings("participants", i.partic))

	var err error
	i.guard("start", func() { err = i.content.Start(round{i}) })
	if err != nil {
		i.log.Error("round start failed", zap.Error(err))
		i.end(engine.Outcome{Kind: engine.OutcomeAborted, Reason: "start failed"})
		return
	}
	if i.state != Active {
		return
	}

	rate := i.cfg.TickRate
	if rate < 1 {
		rate = 1
	}
	i.ticker = time.NewTicker(time.Second / time.Duration(rate))
}

// end moves the instance into Ending. It is a no-op once teardown has begun,
// so racing triggers (objective reached, last player left) resolve to one
// outcome.
func (i *Instance) end(o engine.Outcome) {
	if i.state >= Ending {
		i.log.Debug("teardown already in progress",
			zap.Stringer("state", i.state), zap.String("outcome", string(o.Kind)))
		return
	}

	i.stopCountdown()
	i.stopTicker()
	i.state = Ending
	i.outcome = &o
	i.log.Info("instance ending",
		zap.String("outcome", string(o.Kind)),
		zap.Strings("winners", o.Winners),
		zap.String("reason", o.Reason),
		zap.Uint64("ticks", i.tick))

	if i.started {
		i.guard("finish", func() { i.content.Finish(round{i}, o) })
	}

	delay := i.cfg.SettleDelay
	if len(i.roster) == 0 {
		delay = 0
	}
	i.settle = time.NewTimer(delay)
}

func (i *Instance) abort(reason string) {
	i.end(engine.Outcome{Kind: engine.OutcomeAborted, Reason: reason})
	i.teardown()
}

// teardown returns every participant to the main world and releases their
// claims. It runs at most once.
func (i *Instance) teardown() {
	if i.state == Ended {
		return
	}
	if i.settle != nil {
		i.settle.Stop()
	}

	for _, identity := range i.members {
		i.sendTo(identity, types.HideImage())
		i.sendTo(identity, types.SetPosition(i.cfg.LobbyX, i.cfg.LobbyY, identity))
		i.claims.Release(identity, i.id)
	}
	clear(i.roster)
	clear(i.active)
	clear(i.positions)
	i.members = nil
	i.partic = nil

	i.state = Ended
	v := i.view()
	i.final.Store(&v)
	i.log.Info("instance ended")
	i.cancel()
}

func (i *Instance) stopCountdown() {
	if i.countdown != nil {
		i.countdown.Stop()
		i.countdown = nil
	}
}

func (i *Instance) stopTicker() {
	if i.ticker != nil {
		i.ticker.Stop()
		i.ticker = nil
	}
}

// guard runs a content callback, logging a panic instead of letting it take
// the loop down.
func (i *Instance) guard(op string, fn func()) {
	defer func() {
		if p := recover(); p != nil {
			i.log.Error("game callback panicked", zap.String("op", op), zap.Any("panic", p))
		}
	}()
	fn()
}

func (i *Instance) sendTo(identity, msg string) {
	h, ok := i.out.ResolveHandle(identity)
	if !ok {
		i.log.Debug("no connection for participant", zap.String("identity", identity))
		return
	}
	if err := i.out.SendTo(h, msg); err != nil {
		i.log.Debug("delivery failed", zap.String("handle", string(h)), zap.Error(err))
	}
}

func (i *Instance) broadcast(msg string) {
	for _, identity := range i.members {
		i.sendTo(identity, msg)
	}
}

func sortedKeys(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
