// Package hub tracks live connections, delivers frames to them and hands
// inbound frames to the minigame modules.
package hub

import (
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/DoyleJ11/minigame-host/internal/engine"
	"github.com/DoyleJ11/minigame-host/pkg/types"
)

// Consumer sees connection events and inbound frames. HandleFrame returns
// true when the frame was consumed and must not be relayed.
type Consumer interface {
	HandleConnect(h types.Handle, identity string)
	HandleFrame(h types.Handle, identity string, f types.Frame) bool
	HandleDisconnect(h types.Handle, identity string)
}

type conn struct {
	handle   types.Handle
	identity string
	outbox   chan<- string
}

type Hub struct {
	mu         sync.RWMutex
	conns      map[types.Handle]*conn
	byIdentity map[string]types.Handle
	override   func(msg string, exclude types.Handle)
	consumers  []Consumer
	log        *zap.Logger
}

func NewHub(logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		conns:      make(map[types.Handle]*conn),
		byIdentity: make(map[string]types.Handle),
		log:        logger.Named("hub"),
	}
}

// Subscribe adds a consumer. Consumers see frames in subscription order.
func (h *Hub) Subscribe(c Consumer) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.consumers = append(h.consumers, c)
}

// Register adds a connection for identity. Frames for it are written to
// outbox without blocking; the hub never closes it. A newer connection for
// the same identity takes over identity resolution.
func (h *Hub) Register(identity string, outbox chan<- string) types.Handle {
	handle := types.Handle(uuid.NewString())

	h.mu.Lock()
	h.conns[handle] = &conn{handle: handle, identity: identity, outbox: outbox}
	if identity != "" {
		h.byIdentity[identity] = handle
	}
	consumers := append([]Consumer(nil), h.consumers...)
	n := len(h.conns)
	h.mu.Unlock()

	h.log.Info("connection registered",
		zap.String("handle", string(handle)), zap.String("identity", identity), zap.Int("connected", n))
	for _, c := range consumers {
		c.HandleConnect(handle, identity)
	}
	return handle
}

// Unregister drops a connection. Consumers only hear about the disconnect
// when it was the identity's current connection.
func (h *Hub) Unregister(handle types.Handle) {
	h.mu.Lock()
	c, ok := h.conns[handle]
	if !ok {
		h.mu.Unlock()
		return
	}
	delete(h.conns, handle)
	current := c.identity != "" && h.byIdentity[c.identity] == handle
	if current {
		delete(h.byIdentity, c.identity)
	}
	consumers := append([]Consumer(nil), h.consumers...)
	n := len(h.conns)
	h.mu.Unlock()

	h.log.Info("connection unregistered",
		zap.String("handle", string(handle)), zap.String("identity", c.identity), zap.Int("connected", n))
	if !current {
		return
	}
	for _, c2 := range consumers {
		c2.HandleDisconnect(handle, c.identity)
	}
}

func (h *Hub) SendTo(handle types.Handle, msg string) error {
	h.mu.RLock()
	defer h.mu.RUnlock()

	c, ok := h.conns[handle]
	if !ok {
		return fmt.Errorf("%w: unknown handle %s", engine.ErrDeliveryFailed, handle)
	}
	select {
	case c.outbox <- msg:
		return nil
	default:
		return fmt.Errorf("%w: outbox full for %s", engine.ErrDeliveryFailed, handle)
	}
}

func (h *Hub) ResolveHandle(identity string) (types.Handle, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	handle, ok := h.byIdentity[identity]
	return handle, ok
}

func (h *Hub) ResolveIdentity(handle types.Handle) (string, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	c, ok := h.conns[handle]
	if !ok || c.identity == "" {
		return "", false
	}
	return c.identity, true
}

// ListConnected returns every live handle, sorted.
func (h *Hub) ListConnected() []types.Handle {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]types.Handle, 0, len(h.conns))
	for handle := range h.conns {
		out = append(out, handle)
	}
	sort.Slice(out, func(a, b int) bool { return out[a] < out[b] })
	return out
}

func (h *Hub) InstallBroadcastOverride(fn func(msg string, exclude types.Handle)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.override = fn
}

func (h *Hub) ClearBroadcastOverride() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.override = nil
}

// Broadcast goes through the installed override, or to everyone when none is.
func (h *Hub) Broadcast(msg string, exclude types.Handle) {
	h.mu.RLock()
	fn := h.override
	h.mu.RUnlock()

	if fn != nil {
		fn(msg, exclude)
		return
	}
	h.BroadcastUnscoped(msg, exclude)
}

// BroadcastUnscoped sends msg to every connection but exclude.
func (h *Hub) BroadcastUnscoped(msg string, exclude types.Handle) {
	for _, handle := range h.ListConnected() {
		if handle == exclude {
			continue
		}
		if err := h.SendTo(handle, msg); err != nil {
			h.log.Debug("delivery failed", zap.String("handle", string(handle)), zap.Error(err))
		}
	}
}

// Dispatch offers an inbound frame to each consumer and relays it to the
// other connections when none consumes it.
func (h *Hub) Dispatch(from types.Handle, raw string) {
	h.mu.RLock()
	var identity string
	if c, ok := h.conns[from]; ok {
		identity = c.identity
	}
	consumers := append([]Consumer(nil), h.consumers...)
	h.mu.RUnlock()

	f := types.Parse(raw)
	for _, c := range consumers {
		if c.HandleFrame(from, identity, f) {
			return
		}
	}
	h.Broadcast(raw, from)
}

// Len is the number of live connections.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}
