// Package router scopes broadcasts to the instance their sender belongs to.
package router

import (
	"sync"

	"go.uber.org/zap"

	"github.com/DoyleJ11/minigame-host/pkg/types"
)

// Host is the connection layer the router delivers through and overrides.
type Host interface {
	SendTo(h types.Handle, msg string) error
	ResolveHandle(identity string) (types.Handle, bool)
	ResolveIdentity(h types.Handle) (string, bool)
	ListConnected() []types.Handle
	InstallBroadcastOverride(fn func(msg string, exclude types.Handle))
	ClearBroadcastOverride()
}

// Directory answers which instance an identity is in.
type Directory interface {
	Lookup(identity string) (int64, bool)
	Members(id int64) []string
}

type Router struct {
	host Host
	dir  Directory
	log  *zap.Logger

	mu   sync.Mutex
	refs int
}

func New(host Host, dir Directory, logger *zap.Logger) *Router {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Router{host: host, dir: dir, log: logger.Named("router")}
}

// Acquire marks one more live instance. The first holder installs the router
// as the host's broadcast strategy.
func (r *Router) Acquire() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.refs++
	if r.refs == 1 {
		r.host.InstallBroadcastOverride(r.Broadcast)
		r.log.Info("scoped broadcast installed")
	}
}

// Release undoes one Acquire. The last holder restores unscoped broadcast.
func (r *Router) Release() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.refs == 0 {
		r.log.Warn("release without acquire")
		return
	}
	r.refs--
	if r.refs == 0 {
		r.host.ClearBroadcastOverride()
		r.log.Info("scoped broadcast removed")
	}
}

func (r *Router) Installed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.refs > 0
}

// Route computes the recipients of msg. The origin is sender when given,
// otherwise the identity the frame itself names, otherwise the identity
// behind exclude. An origin in an instance reaches that instance's roster;
// anything else reaches the unclaimed population. exclude never receives.
func (r *Router) Route(msg, sender string, exclude types.Handle) []types.Handle {
	origin := sender
	if origin == "" {
		origin, _ = types.Parse(msg).Subject()
	}
	if origin == "" && exclude != "" {
		origin, _ = r.host.ResolveIdentity(exclude)
	}

	if origin != "" {
		if id, ok := r.dir.Lookup(origin); ok {
			return r.scoped(id, exclude)
		}
	}
	return r.unscoped(exclude)
}

func (r *Router) scoped(id int64, exclude types.Handle) []types.Handle {
	members := r.dir.Members(id)
	out := make([]types.Handle, 0, len(members))
	for _, identity := range members {
		h, ok := r.host.ResolveHandle(identity)
		if !ok || h == exclude {
			continue
		}
		out = append(out, h)
	}
	return out
}

func (r *Router) unscoped(exclude types.Handle) []types.Handle {
	var out []types.Handle
	for _, h := range r.host.ListConnected() {
		if h == exclude {
			continue
		}
		if identity, ok := r.host.ResolveIdentity(h); ok {
			if _, claimed := r.dir.Lookup(identity); claimed {
				continue
			}
		}
		out = append(out, h)
	}
	return out
}

// Broadcast is the override installed on the host. The connection being
// excluded is the one the frame arrived on, so it doubles as the sender.
func (r *Router) Broadcast(msg string, exclude types.Handle) {
	var sender string
	if exclude != "" {
		sender, _ = r.host.ResolveIdentity(exclude)
	}
	r.deliver(msg, r.Route(msg, sender, exclude))
}

// BroadcastMain reaches only the unclaimed population regardless of
// what the frame names.
func (r *Router) BroadcastMain(msg string, exclude types.Handle) {
	r.deliver(msg, r.unscoped(exclude))
}

func (r *Router) deliver(msg string, to []types.Handle) {
	for _, h := range to {
		if err := r.host.SendTo(h, msg); err != nil {
			r.log.Debug("delivery failed", zap.String("handle", string(h)), zap.Error(err))
		}
	}
}
