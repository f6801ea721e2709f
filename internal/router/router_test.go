package router

import (
	"errors"
	"sort"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/DoyleJ11/minigame-host/internal/session"
	"github.com/DoyleJ11/minigame-host/pkg/types"
)

type fakeHost struct {
	mu         sync.Mutex
	handles    map[string]types.Handle
	sent       map[types.Handle][]string
	override   func(string, types.Handle)
	installs   int
	clears     int
	unwritable types.Handle
}

func newFakeHost(identities ...string) *fakeHost {
	h := &fakeHost{handles: make(map[string]types.Handle), sent: make(map[types.Handle][]string)}
	for _, id := range identities {
		h.handles[id] = types.Handle("h-" + id)
	}
	return h
}

func (h *fakeHost) SendTo(to types.Handle, msg string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if to == h.unwritable {
		return errors.New("closed")
	}
	h.sent[to] = append(h.sent[to], msg)
	return nil
}

func (h *fakeHost) ResolveHandle(identity string) (types.Handle, bool) {
	handle, ok := h.handles[identity]
	return handle, ok
}

func (h *fakeHost) ResolveIdentity(handle types.Handle) (string, bool) {
	for id, hh := range h.handles {
		if hh == handle {
			return id, true
		}
	}
	return "", false
}

func (h *fakeHost) ListConnected() []types.Handle {
	out := make([]types.Handle, 0, len(h.handles)+1)
	for _, hh := range h.handles {
		out = append(out, hh)
	}
	// a connection that has not identified itself yet
	out = append(out, "h-anon")
	sort.Slice(out, func(a, b int) bool { return out[a] < out[b] })
	return out
}

func (h *fakeHost) InstallBroadcastOverride(fn func(string, types.Handle)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.override = fn
	h.installs++
}

func (h *fakeHost) ClearBroadcastOverride() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.override = nil
	h.clears++
}

func (h *fakeHost) inbox(handle types.Handle) []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.sent[handle]
}

// two instances A{x,y} and B{z}, w unclaimed
func worldFixture(t *testing.T) (*Router, *fakeHost) {
	t.Helper()
	host := newFakeHost("w", "x", "y", "z")
	dir := session.NewDirectory()
	require.NoError(t, dir.Claim("x", 1))
	require.NoError(t, dir.Claim("y", 1))
	require.NoError(t, dir.Claim("z", 2))
	return New(host, dir, zaptest.NewLogger(t)), host
}

func TestRoute(t *testing.T) {
	r, _ := worldFixture(t)

	cases := []struct {
		name    string
		msg     string
		sender  string
		exclude types.Handle
		want    []types.Handle
	}{
		{
			name:    "instance member reaches own roster only",
			msg:     "hello",
			sender:  "x",
			exclude: "h-x",
			want:    []types.Handle{"h-y"},
		},
		{
			name:    "unscoped sender reaches unclaimed population only",
			msg:     "hello",
			sender:  "w",
			exclude: "h-w",
			want:    []types.Handle{"h-anon"},
		},
		{
			name: "subject field names the origin",
			msg:  "z|10|20|Steve|1|0|PLAYER_INFO",
			want: []types.Handle{"h-z"},
		},
		{
			name:    "excluded connection stands in for the sender",
			msg:     "opaque",
			exclude: "h-y",
			want:    []types.Handle{"h-x"},
		},
		{
			name: "unresolvable origin degrades to unscoped",
			msg:  "Zombie-4|10|20|Zombie|1|0|PLAYER_INFO",
			want: []types.Handle{"h-anon", "h-w"},
		},
		{
			name:   "sender wins over subject",
			msg:    "z|10|20|Steve|1|0|PLAYER_INFO",
			sender: "w",
			want:   []types.Handle{"h-anon", "h-w"},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := r.Route(tc.msg, tc.sender, tc.exclude)
			assert.ElementsMatch(t, tc.want, got)
		})
	}
}

func TestRoute_SeesRosterChanges(t *testing.T) {
	host := newFakeHost("x", "y")
	dir := session.NewDirectory()
	r := New(host, dir, zaptest.NewLogger(t))

	require.NoError(t, dir.Claim("x", 1))
	assert.Empty(t, r.Route("hi", "x", "h-x"))

	require.NoError(t, dir.Claim("y", 1))
	assert.Equal(t, []types.Handle{"h-y"}, r.Route("hi", "x", "h-x"))

	dir.Release("y", 1)
	assert.Empty(t, r.Route("hi", "x", "h-x"))
}

func TestBroadcast_DeliversWithinInstance(t *testing.T) {
	r, host := worldFixture(t)
	host.unwritable = "h-w"

	r.Broadcast("x|1|2|Steve|0|0|PLAYER_INFO", "h-x")
	assert.Len(t, host.inbox("h-y"), 1)
	assert.Empty(t, host.inbox("h-x"))
	assert.Empty(t, host.inbox("h-z"))
	assert.Empty(t, host.inbox("h-anon"))

	// a failed send does not stop the rest of the fanout
	r.Broadcast("ping", "")
	assert.Equal(t, []string{"ping"}, host.inbox("h-anon"))
	assert.Empty(t, host.inbox("h-w"))
}

func TestBroadcastMain_IgnoresSubject(t *testing.T) {
	r, host := worldFixture(t)

	r.BroadcastMain(types.Despawn("x"), "")
	assert.Equal(t, []string{types.Despawn("x")}, host.inbox("h-w"))
	assert.Empty(t, host.inbox("h-y"))
}

func TestAcquireRelease_ReferenceCounted(t *testing.T) {
	host := newFakeHost()
	r := New(host, session.NewDirectory(), zaptest.NewLogger(t))

	r.Acquire()
	r.Acquire()
	assert.True(t, r.Installed())
	assert.Equal(t, 1, host.installs)
	require.NotNil(t, host.override)

	r.Release()
	assert.True(t, r.Installed())
	assert.Zero(t, host.clears)

	r.Release()
	assert.False(t, r.Installed())
	assert.Equal(t, 1, host.clears)
	assert.Nil(t, host.override)

	// an unmatched release is ignored
	r.Release()
	assert.Equal(t, 1, host.clears)
}
