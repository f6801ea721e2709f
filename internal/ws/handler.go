// Package ws adapts websocket connections to the hub: one writer and one
// reader goroutine per client, text frames in both directions.
package ws

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/coder/websocket"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/DoyleJ11/minigame-host/pkg/types"
)

// Registrar is the hub surface a connection needs.
type Registrar interface {
	Register(identity string, outbox chan<- string) types.Handle
	Unregister(h types.Handle)
	Dispatch(from types.Handle, raw string)
}

const (
	outboxSize   = 64
	writeTimeout = 3 * time.Second
	idleTimeout  = 60 * time.Second
)

// Handler upgrades the request and pumps frames until either side closes.
// The identity comes from the user query parameter, set by the upstream
// authenticator.
func Handler(reg Registrar, logger *zap.Logger) http.HandlerFunc {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("ws")

	return func(w http.ResponseWriter, r *http.Request) {
		identity := strings.TrimSpace(r.URL.Query().Get("user"))
		if identity == "" {
			http.Error(w, "missing user", http.StatusBadRequest)
			return
		}
		if strings.Contains(identity, types.Sep) {
			http.Error(w, "invalid user", http.StatusBadRequest)
			return
		}

		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			logger.Debug("upgrade failed", zap.String("identity", identity), zap.Error(err))
			return
		}
		defer conn.CloseNow()

		out := make(chan string, outboxSize)
		handle := reg.Register(identity, out)
		log := logger.With(zap.String("identity", identity), zap.String("handle", string(handle)))
		defer reg.Unregister(handle)

		g, ctx := errgroup.WithContext(r.Context())
		g.Go(func() error { return writeLoop(ctx, conn, out) })
		g.Go(func() error { return readLoop(ctx, conn, reg, handle) })

		err = g.Wait()
		switch {
		case err == nil, errors.Is(err, context.Canceled):
		case websocket.CloseStatus(err) == websocket.StatusNormalClosure,
			websocket.CloseStatus(err) == websocket.StatusGoingAway:
		default:
			log.Debug("connection closed", zap.Error(err))
		}
		conn.Close(websocket.StatusNormalClosure, "bye")
	}
}

func writeLoop(ctx context.Context, conn *websocket.Conn, out <-chan string) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg := <-out:
			wctx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := conn.Write(wctx, websocket.MessageText, []byte(msg))
			cancel()
			if err != nil {
				return err
			}
		}
	}
}

func readLoop(ctx context.Context, conn *websocket.Conn, reg Registrar, handle types.Handle) error {
	for {
		rctx, cancel := context.WithTimeout(ctx, idleTimeout)
		typ, data, err := conn.Read(rctx)
		cancel()
		if err != nil {
			return err
		}
		if typ != websocket.MessageText {
			continue
		}
		reg.Dispatch(handle, string(data))
	}
}
