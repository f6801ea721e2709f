package session

import (
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/DoyleJ11/minigame-host/internal/engine"
)

// Directory maps player identity to the instance that owns it. It is shared
// by every registry in the process so an identity can only be in one
// instance across all minigames.
type Directory struct {
	mu      sync.RWMutex
	owner   map[string]int64
	members map[int64]map[string]struct{}
	seq     atomic.Int64
}

func NewDirectory() *Directory {
	return &Directory{
		owner:   make(map[string]int64),
		members: make(map[int64]map[string]struct{}),
	}
}

// NextID hands out instance ids. Ids are never reused.
func (d *Directory) NextID() int64 { return d.seq.Add(1) }

// Claim records identity as owned by instance id. A second claim is rejected
// even when it names the same instance.
func (d *Directory) Claim(identity string, id int64) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if cur, ok := d.owner[identity]; ok {
		return fmt.Errorf("%w: %s is in instance %d", engine.ErrAlreadyInSession, identity, cur)
	}
	d.owner[identity] = id
	set := d.members[id]
	if set == nil {
		set = make(map[string]struct{})
		d.members[id] = set
	}
	set[identity] = struct{}{}
	return nil
}

// Release drops the claim only if it is held by instance id, so a stale
// release can never free a claim that moved elsewhere.
func (d *Directory) Release(identity string, id int64) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	cur, ok := d.owner[identity]
	if !ok || cur != id {
		return false
	}
	delete(d.owner, identity)
	if set := d.members[id]; set != nil {
		delete(set, identity)
		if len(set) == 0 {
			delete(d.members, id)
		}
	}
	return true
}

func (d *Directory) Lookup(identity string) (int64, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	id, ok := d.owner[identity]
	return id, ok
}

// Members returns the claimed identities of instance id, sorted.
func (d *Directory) Members(id int64) []string {
	d.mu.RLock()
	defer d.mu.RUnlock()

	set := d.members[id]
	out := make([]string, 0, len(set))
	for identity := range set {
		out = append(out, identity)
	}
	sort.Strings(out)
	return out
}

// Len is the number of claimed identities.
func (d *Directory) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.owner)
}
