package stats

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/DoyleJ11/minigame-host/internal/engine"
)

const writeTimeout = 5 * time.Second

type event struct {
	game   string
	player string
	stat   string
	delta  int64
}

// Queue writes stat increments to a Store from a single background worker
// so instance loops never wait on storage.
type Queue struct {
	store  Store
	events chan event
	done   chan struct{}
	log    *zap.Logger

	mu      sync.RWMutex
	closed  bool
	dropped atomic.Int64
}

func NewQueue(store Store, size int, logger *zap.Logger) *Queue {
	if logger == nil {
		logger = zap.NewNop()
	}
	if size < 1 {
		size = 1
	}
	q := &Queue{
		store:  store,
		events: make(chan event, size),
		done:   make(chan struct{}),
		log:    logger.Named("stats"),
	}
	go q.run()
	return q
}

// Recorder returns the engine-facing recorder for one game.
func (q *Queue) Recorder(game string) engine.Recorder {
	return recorder{q: q, game: game}
}

func (q *Queue) Store() Store { return q.store }

// Dropped counts increments discarded because the queue was full.
func (q *Queue) Dropped() int64 { return q.dropped.Load() }

func (q *Queue) push(e event) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return
	}
	select {
	case q.events <- e:
	default:
		q.dropped.Add(1)
		q.log.Warn("stats queue full, dropping",
			zap.String("game", e.game), zap.String("player", e.player), zap.String("stat", e.stat))
	}
}

func (q *Queue) run() {
	defer close(q.done)
	for e := range q.events {
		ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
		if err := q.store.Add(ctx, e.game, e.player, e.stat, e.delta); err != nil {
			q.log.Warn("stats write failed", zap.Error(err))
		}
		cancel()
	}
}

// Close stops accepting increments, drains what is queued and closes the
// store.
func (q *Queue) Close(ctx context.Context) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	close(q.events)
	q.mu.Unlock()

	var err error
	select {
	case <-q.done:
	case <-ctx.Done():
		err = ctx.Err()
	}
	return multierr.Append(err, q.store.Close())
}

type recorder struct {
	q    *Queue
	game string
}

func (r recorder) Record(player, stat string, delta int) {
	r.q.push(event{game: r.game, player: player, stat: stat, delta: int64(delta)})
}
