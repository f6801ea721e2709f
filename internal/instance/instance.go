package instance

import (
	"context"
	"math/rand/v2"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/DoyleJ11/minigame-host/internal/engine"
	"github.com/DoyleJ11/minigame-host/pkg/types"
)

type State int

const (
	Waiting State = iota
	Countdown
	Active
	Ending
	Ended
)

func (s State) String() string {
	switch s {
	case Waiting:
		return "waiting"
	case Countdown:
		return "countdown"
	case Active:
		return "active"
	case Ending:
		return "ending"
	case Ended:
		return "ended"
	default:
		return "unknown"
	}
}

func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// Config holds the per-instance limits. It is read-only once the instance
// is created.
type Config struct {
	Name       string
	MinPlayers int
	MaxPlayers int

	// Countdown lengths in steps of CountdownStep.
	CountdownNormal int
	CountdownFull   int
	CountdownStep   time.Duration

	TickRate  int // ticks per second
	TimeLimit time.Duration
	// SettleDelay is how long Ending lasts before cleanup.
	SettleDelay time.Duration
	// TickFailureBudget is the number of consecutive failed ticks that aborts
	// the round. Zero never aborts.
	TickFailureBudget int

	// Main-world point participants are returned to at cleanup.
	LobbyX int
	LobbyY int
}

// Outbox delivers frames to single connections.
type Outbox interface {
	ResolveHandle(identity string) (types.Handle, bool)
	SendTo(h types.Handle, msg string) error
}

// Claims is the identity ownership table shared between instances.
type Claims interface {
	Claim(identity string, id int64) error
	Release(identity string, id int64) bool
}

type Deps struct {
	Out    Outbox
	Claims Claims
	Stats  engine.Recorder
	Logger *zap.Logger
	Rand   *rand.Rand
}

type Msg interface{ isInstanceMsg() }

type Join struct {
	Identity string
	Reply    chan error
}

type Leave struct {
	Identity string
	Reply    chan error
}

type Position struct {
	Identity string
	Pos      types.Position
}

type Input struct {
	Identity string
	Frame    types.Frame
}

// End asks the instance to finish its round with Outcome.
type End struct {
	Outcome engine.Outcome
}

type GetState struct {
	Reply chan View
}

type Shutdown struct{}

func (Join) isInstanceMsg()     {}
func (Leave) isInstanceMsg()    {}
func (Position) isInstanceMsg() {}
func (Input) isInstanceMsg()    {}
func (End) isInstanceMsg()      {}
func (GetState) isInstanceMsg() {}
func (Shutdown) isInstanceMsg() {}

type View struct {
	ID           int64           `json:"id"`
	Game         string          `json:"game"`
	State        State           `json:"state"`
	Roster       []string        `json:"roster"`
	Active       []string        `json:"active"`
	Countdown    int             `json:"countdown,omitempty"`
	Tick         uint64          `json:"tick"`
	TickFailures int             `json:"tick_failures"`
	Outcome      *engine.Outcome `json:"outcome,omitempty"`
}

type Instance struct {
	id      int64
	cfg     Config
	content engine.Game
	out     Outbox
	claims  Claims
	stats   engine.Recorder
	log     *zap.Logger
	rng     *rand.Rand

	inbox  chan Msg
	done   chan struct{}
	ctx    context.Context
	cancel context.CancelFunc
	final  atomic.Pointer[View]

	// Everything below is owned by the loop goroutine.
	state     State
	roster    map[string]struct{}
	members   []string
	active    map[string]struct{}
	partic    []string
	positions map[string]types.Position

	countdown *time.Ticker
	remaining int
	ticker    *time.Ticker
	settle    *time.Timer

	started   bool
	tick      uint64
	startedAt time.Time
	lastTick  time.Time
	now       time.Time
	dt        time.Duration
	failures  int
	failed    int
	outcome   *engine.Outcome
}

func New(parent context.Context, id int64, cfg Config, content engine.Game, deps Deps) *Instance {
	ctx, cancel := context.WithCancel(parent)

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	stats := deps.Stats
	if stats == nil {
		stats = engine.NopRecorder{}
	}
	rng := deps.Rand
	if rng == nil {
		rng = rand.New(rand.NewPCG(uint64(id), uint64(time.Now().UnixNano())))
	}

	i := &Instance{
		id:        id,
		cfg:       cfg,
		content:   content,
		out:       deps.Out,
		claims:    deps.Claims,
		stats:     stats,
		log:       logger.With(zap.String("game", cfg.Name), zap.Int64("instance", id)),
		rng:       rng,
		inbox:     make(chan Msg, 64),
		done:      make(chan struct{}),
		ctx:       ctx,
		cancel:    cancel,
		state:     Waiting,
		roster:    make(map[string]struct{}),
		active:    make(map[string]struct{}),
		positions: make(map[string]types.Position),
	}

	go i.loop()
	return i
}

func (i *Instance) ID() int64 { return i.id }

func (i *Instance) Game() string { return i.cfg.Name }

// Done is closed once the instance has reached Ended.
func (i *Instance) Done() <-chan struct{} { return i.done }

func (i *Instance) Inbox() chan<- Msg { return i.inbox }

func (i *Instance) Join(identity string) error {
	reply := make(chan error, 1)
	return i.call(Join{Identity: identity, Reply: reply}, reply, engine.ErrNotJoinable)
}

func (i *Instance) Leave(identity string) error {
	reply := make(chan error, 1)
	return i.call(Leave{Identity: identity, Reply: reply}, reply, engine.ErrNotInSession)
}

// UpdatePosition drops the update when the inbox is full; the next frame
// carries a fresher position anyway.
func (i *Instance) UpdatePosition(identity string, pos types.Position) {
	select {
	case i.inbox <- Position{Identity: identity, Pos: pos}:
	case <-i.done:
	default:
		i.log.Debug("position update dropped", zap.String("identity", identity))
	}
}

func (i *Instance) Input(identity string, f types.Frame) {
	i.post(Input{Identity: identity, Frame: f})
}

func (i *Instance) End(o engine.Outcome) {
	i.post(End{Outcome: o})
}

// Shutdown tears the instance down without a settle delay.
func (i *Instance) Shutdown() {
	i.post(Shutdown{})
}

// Snapshot returns the current view, or the final view once the instance
// has ended.
func (i *Instance) Snapshot() View {
	reply := make(chan View, 1)
	select {
	case i.inbox <- GetState{Reply: reply}:
	case <-i.done:
		return *i.final.Load()
	}
	select {
	case v := <-reply:
		return v
	case <-i.done:
		select {
		case v := <-reply:
			return v
		default:
			return *i.final.Load()
		}
	}
}

func (i *Instance) post(m Msg) {
	select {
	case i.inbox <- m:
	case <-i.done:
	}
}

func (i *Instance) call(m Msg, reply chan error, gone error) error {
	select {
	case i.inbox <- m:
	case <-i.done:
		return gone
	}
	select {
	case err := <-reply:
		return err
	case <-i.done:
		select {
		case err := <-reply:
			return err
		default:
			return gone
		}
	}
}

func (i *Instance) loop() {
	defer close(i.done)

	for {
		select {
		case <-i.ctx.Done():
			i.abort("instance shut down")
			return

		case m := <-i.inbox:
			i.now = time.Now()
			switch msg := m.(type) {
			case Join:
				msg.Reply <- i.join(msg.Identity)

			case Leave:
				msg.Reply <- i.leave(msg.Identity)

			case Position:
				if _, ok := i.roster[msg.Identity]; ok {
					i.positions[msg.Identity] = msg.Pos
				}

			case Input:
				i.input(msg.Identity, msg.Frame)

			case End:
				i.end(msg.Outcome)

			case GetState:
				// reflect internal state without data races
				msg.Reply <- i.view()

			case Shutdown:
				i.abort("instance shut down")
				return
			}

		case <-tickerC(i.countdown):
			i.now = time.Now()
			i.countdownStep()

		case now := <-tickerC(i.ticker):
			i.step(now)

		case <-timerC(i.settle):
			i.teardown()
			return
		}

		if i.state == Ended {
			return
		}
	}
}

func (i *Instance) view() View {
	v := View{
		ID:           i.id,
		Game:         i.cfg.Name,
		State:        i.state,
		Roster:       append([]string{}, i.members...),
		Active:       append([]string{}, i.partic...),
		Tick:         i.tick,
		TickFailures: i.failed,
	}
	if i.state == Countdown {
		v.Countdown = i.remaining
	}
	if i.outcome != nil {
		o := *i.outcome
		v.Outcome = &o
	}
	return v
}

func tickerC(t *time.Ticker) <-chan time.Time {
	if t == nil {
		return nil
	}
	return t.C
}

func timerC(t *time.Timer) <-chan time.Time {
	if t == nil {
		return nil
	}
	return t.C
}
