package session

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/DoyleJ11/minigame-host/internal/engine"
	"github.com/DoyleJ11/minigame-host/internal/instance"
	"github.com/DoyleJ11/minigame-host/pkg/types"
)

// Scope is held for as long as an instance is live. The broadcast router
// implements it to stay installed while any instance exists.
type Scope interface {
	Acquire()
	Release()
}

type nopScope struct{}

func (nopScope) Acquire() {}
func (nopScope) Release() {}

// Bounds the find-then-join loop when candidates fill up or end between
// the check and the claim.
const maxJoinAttempts = 4

type Options struct {
	Config    instance.Config
	Factory   engine.Factory
	Directory *Directory
	Scope     Scope
	Out       instance.Outbox
	Stats     engine.Recorder
	Logger    *zap.Logger
}

// Registry owns the live instances of one minigame.
type Registry struct {
	cfg     instance.Config
	factory engine.Factory
	dir     *Directory
	scope   Scope
	out     instance.Outbox
	stats   engine.Recorder
	base    *zap.Logger
	log     *zap.Logger
	ctx     context.Context

	// mu is held across every find-or-create-then-join decision.
	mu        sync.Mutex
	instances map[int64]*instance.Instance
	watchers  sync.WaitGroup
}

func NewRegistry(ctx context.Context, opts Options) *Registry {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	scope := opts.Scope
	if scope == nil {
		scope = nopScope{}
	}
	dir := opts.Directory
	if dir == nil {
		dir = NewDirectory()
	}
	return &Registry{
		cfg:       opts.Config,
		factory:   opts.Factory,
		dir:       dir,
		scope:     scope,
		out:       opts.Out,
		stats:     opts.Stats,
		base:      logger,
		log:       logger.With(zap.String("game", opts.Config.Name)),
		ctx:       ctx,
		instances: make(map[int64]*instance.Instance),
	}
}

func (r *Registry) Name() string { return r.cfg.Name }

func (r *Registry) Directory() *Directory { return r.dir }

// FindOrCreate returns an instance that is still accepting players, creating
// a fresh one in Waiting when none is.
func (r *Registry) FindOrCreate() *instance.Instance {
	r.mu.Lock()
	defer r.mu.Unlock()
	if inst := r.findLocked(); inst != nil {
		return inst
	}
	return r.createLocked()
}

// Join claims identity into inst.
func (r *Registry) Join(identity string, inst *instance.Instance) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if id, ok := r.dir.Lookup(identity); ok {
		return fmt.Errorf("%w: %s is in instance %d", engine.ErrAlreadyInSession, identity, id)
	}
	return inst.Join(identity)
}

// JoinAny places identity into an open instance, creating one if needed.
// Concurrent callers serialize on the registry so that a single waiting room
// is shared and no roster passes its maximum.
func (r *Registry) JoinAny(identity string) (*instance.Instance, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if id, ok := r.dir.Lookup(identity); ok {
		return nil, fmt.Errorf("%w: %s is in instance %d", engine.ErrAlreadyInSession, identity, id)
	}

	var lastErr error
	for range maxJoinAttempts {
		inst, fresh := r.findLocked(), false
		if inst == nil {
			inst, fresh = r.createLocked(), true
		}

		err := inst.Join(identity)
		if err == nil {
			return inst, nil
		}
		if fresh {
			inst.Shutdown()
			return nil, err
		}
		if !errors.Is(err, engine.ErrInstanceFull) && !errors.Is(err, engine.ErrNotJoinable) {
			return nil, err
		}
		lastErr = err
	}
	return nil, lastErr
}

// Leave removes identity from whichever of this registry's instances owns it.
func (r *Registry) Leave(identity string) error {
	inst, ok := r.Owns(identity)
	if !ok {
		return fmt.Errorf("%w: %s", engine.ErrNotInSession, identity)
	}
	return inst.Leave(identity)
}

// Owns reports the instance of this registry that holds identity.
func (r *Registry) Owns(identity string) (*instance.Instance, bool) {
	id, ok := r.dir.Lookup(identity)
	if !ok {
		return nil, false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	inst, ok := r.instances[id]
	return inst, ok
}

func (r *Registry) UpdatePosition(identity string, pos types.Position) bool {
	inst, ok := r.Owns(identity)
	if ok {
		inst.UpdatePosition(identity, pos)
	}
	return ok
}

func (r *Registry) Input(identity string, f types.Frame) bool {
	inst, ok := r.Owns(identity)
	if ok {
		inst.Input(identity, f)
	}
	return ok
}

func (r *Registry) Get(id int64) (*instance.Instance, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	inst, ok := r.instances[id]
	return inst, ok
}

// Len is the number of live instances.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.instances)
}

// Live returns views of every live instance ordered by id.
func (r *Registry) Live() []instance.View {
	insts := r.sorted()
	out := make([]instance.View, 0, len(insts))
	for _, inst := range insts {
		v := inst.Snapshot()
		if v.State == instance.Ended {
			continue
		}
		out = append(out, v)
	}
	return out
}

// Shutdown tears down every live instance and waits for them to finish.
func (r *Registry) Shutdown(ctx context.Context) error {
	insts := r.sorted()
	for _, inst := range insts {
		inst.Shutdown()
	}

	var err error
	for _, inst := range insts {
		select {
		case <-inst.Done():
		case <-ctx.Done():
			err = multierr.Append(err, fmt.Errorf("instance %d: %w", inst.ID(), ctx.Err()))
		}
	}
	if err != nil {
		return err
	}

	done := make(chan struct{})
	go func() {
		r.watchers.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Registry) sorted() []*instance.Instance {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sortedLocked()
}

func (r *Registry) sortedLocked() []*instance.Instance {
	out := make([]*instance.Instance, 0, len(r.instances))
	for _, inst := range r.instances {
		out = append(out, inst)
	}
	sort.Slice(out, func(a, b int) bool { return out[a].ID() < out[b].ID() })
	return out
}

func (r *Registry) findLocked() *instance.Instance {
	for _, inst := range r.sortedLocked() {
		v := inst.Snapshot()
		if (v.State == instance.Waiting || v.State == instance.Countdown) && len(v.Roster) < r.cfg.MaxPlayers {
			return inst
		}
	}
	return nil
}

func (r *Registry) createLocked() *instance.Instance {
	id := r.dir.NextID()
	inst := instance.New(r.ctx, id, r.cfg, r.factory(id), instance.Deps{
		Out:    r.out,
		Claims: r.dir,
		Stats:  r.stats,
		Logger: r.base,
	})
	r.instances[id] = inst
	r.scope.Acquire()
	r.log.Info("instance created", zap.Int64("instance", id), zap.Int("live", len(r.instances)))

	r.watchers.Add(1)
	go r.watch(inst)
	return inst
}

func (r *Registry) watch(inst *instance.Instance) {
	defer r.watchers.Done()
	<-inst.Done()

	r.mu.Lock()
	delete(r.instances, inst.ID())
	live := len(r.instances)
	r.mu.Unlock()

	r.scope.Release()
	r.log.Info("instance removed", zap.Int64("instance", inst.ID()), zap.Int("live", live))
}
