package hub

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/DoyleJ11/minigame-host/internal/engine"
	"github.com/DoyleJ11/minigame-host/pkg/types"
)

// helper: receive one frame with a timeout so tests never hang
func recvFrame(t *testing.T, ch <-chan string, within time.Duration) string {
	t.Helper()
	select {
	case msg := <-ch:
		return msg
	case <-time.After(within):
		t.Fatalf("timed out waiting for frame")
		return "" // unreachable
	}
}

func recvNoFrame(t *testing.T, ch <-chan string, within time.Duration) {
	t.Helper()
	select {
	case msg := <-ch:
		t.Fatalf("expected no frame within %v, but got: %q", within, msg)
	case <-time.After(within):
		// good: no frame
	}
}

type recordingConsumer struct {
	consumeKind string
	frames      []string
	connects    []string
	disconnects []string
}

func (c *recordingConsumer) HandleConnect(_ types.Handle, identity string) {
	c.connects = append(c.connects, identity)
}

func (c *recordingConsumer) HandleFrame(_ types.Handle, identity string, f types.Frame) bool {
	c.frames = append(c.frames, identity+":"+f.Raw)
	return c.consumeKind != "" && strings.HasPrefix(f.Raw, c.consumeKind)
}

func (c *recordingConsumer) HandleDisconnect(_ types.Handle, identity string) {
	c.disconnects = append(c.disconnects, identity)
}

func TestHub_RegisterResolve(t *testing.T) {
	h := NewHub(zaptest.NewLogger(t))

	out := make(chan string, 1)
	alice := h.Register("alice", out)

	got, ok := h.ResolveHandle("alice")
	require.True(t, ok)
	assert.Equal(t, alice, got)

	identity, ok := h.ResolveIdentity(alice)
	require.True(t, ok)
	assert.Equal(t, "alice", identity)

	anon := h.Register("", make(chan string, 1))
	_, ok = h.ResolveIdentity(anon)
	assert.False(t, ok)
	assert.ElementsMatch(t, []types.Handle{alice, anon}, h.ListConnected())

	h.Unregister(alice)
	_, ok = h.ResolveHandle("alice")
	assert.False(t, ok)
	assert.Equal(t, 1, h.Len())
}

func TestHub_SendToNeverBlocks(t *testing.T) {
	h := NewHub(zaptest.NewLogger(t))
	out := make(chan string, 1)
	alice := h.Register("alice", out)

	require.NoError(t, h.SendTo(alice, "one"))
	err := h.SendTo(alice, "two")
	assert.ErrorIs(t, err, engine.ErrDeliveryFailed)
	assert.Equal(t, "one", recvFrame(t, out, 100*time.Millisecond))

	assert.ErrorIs(t, h.SendTo("nope", "x"), engine.ErrDeliveryFailed)
}

func TestHub_BroadcastWithoutOverrideReachesEveryoneElse(t *testing.T) {
	h := NewHub(zaptest.NewLogger(t))
	a := make(chan string, 4)
	b := make(chan string, 4)
	ha := h.Register("a", a)
	h.Register("b", b)

	h.Broadcast("hello", ha)
	assert.Equal(t, "hello", recvFrame(t, b, 100*time.Millisecond))
	recvNoFrame(t, a, 20*time.Millisecond)
}

func TestHub_BroadcastOverride(t *testing.T) {
	h := NewHub(zaptest.NewLogger(t))
	a := make(chan string, 4)
	ha := h.Register("a", a)

	var routed []string
	h.InstallBroadcastOverride(func(msg string, exclude types.Handle) {
		routed = append(routed, msg)
		assert.Equal(t, ha, exclude)
	})
	h.Broadcast("scoped", ha)
	assert.Equal(t, []string{"scoped"}, routed)

	h.ClearBroadcastOverride()
	h.Broadcast("global", "")
	assert.Equal(t, "global", recvFrame(t, a, 100*time.Millisecond))
	assert.Len(t, routed, 1)
}

func TestHub_DispatchConsumedOrRelayed(t *testing.T) {
	h := NewHub(zaptest.NewLogger(t))
	c := &recordingConsumer{consumeKind: "DAMAGE"}
	h.Subscribe(c)

	a := make(chan string, 4)
	b := make(chan string, 4)
	ha := h.Register("a", a)
	h.Register("b", b)
	assert.Equal(t, []string{"a", "b"}, c.connects)

	h.Dispatch(ha, "DAMAGE|PLACERCLIENT|Zombies|a")
	recvNoFrame(t, b, 20*time.Millisecond)

	h.Dispatch(ha, "a|1|2|Steve|0|0|PLAYER_INFO")
	assert.Equal(t, "a|1|2|Steve|0|0|PLAYER_INFO", recvFrame(t, b, 100*time.Millisecond))
	recvNoFrame(t, a, 20*time.Millisecond)

	assert.Equal(t, []string{
		"a:DAMAGE|PLACERCLIENT|Zombies|a",
		"a:a|1|2|Steve|0|0|PLAYER_INFO",
	}, c.frames)
}

func TestHub_ReconnectKeepsNewestConnection(t *testing.T) {
	h := NewHub(zaptest.NewLogger(t))
	c := &recordingConsumer{}
	h.Subscribe(c)

	old := h.Register("alice", make(chan string, 1))
	fresh := h.Register("alice", make(chan string, 1))

	h.Unregister(old)
	assert.Empty(t, c.disconnects, "the stale connection going away is not a disconnect")
	got, ok := h.ResolveHandle("alice")
	require.True(t, ok)
	assert.Equal(t, fresh, got)

	h.Unregister(fresh)
	assert.Equal(t, []string{"alice"}, c.disconnects)

	// unknown handles are ignored
	h.Unregister(fresh)
	assert.Len(t, c.disconnects, 1)
}
