// Package stats keeps per-player counters for each minigame.
package stats

import (
	"context"
	"errors"
	"sort"
	"sync"
)

var ErrStoreClosed = errors.New("stats store closed")

type Entry struct {
	Player string `json:"player"`
	Value  int64  `json:"value"`
}

type Store interface {
	Add(ctx context.Context, game, player, stat string, delta int64) error
	// Top returns the highest values of stat in game, ties broken by player name.
	Top(ctx context.Context, game, stat string, limit int) ([]Entry, error)
	Close() error
}

type key struct {
	game   string
	player string
	stat   string
}

// Memory is a process-local Store.
type Memory struct {
	mu     sync.RWMutex
	values map[key]int64
	closed bool
}

func NewMemory() *Memory {
	return &Memory{values: make(map[key]int64)}
}

func (m *Memory) Add(ctx context.Context, game, player, stat string, delta int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrStoreClosed
	}
	m.values[key{game, player, stat}] += delta
	return nil
}

func (m *Memory) Top(ctx context.Context, game, stat string, limit int) ([]Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	var out []Entry
	for k, v := range m.values {
		if k.game == game && k.stat == stat {
			out = append(out, Entry{Player: k.player, Value: v})
		}
	}
	m.mu.RUnlock()

	sort.Slice(out, func(a, b int) bool {
		if out[a].Value != out[b].Value {
			return out[a].Value > out[b].Value
		}
		return out[a].Player < out[b].Player
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}
