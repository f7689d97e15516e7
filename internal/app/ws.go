package app

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/Sangini-spec/InterVue-X/internal/interview"
	"github.com/Sangini-spec/InterVue-X/internal/observe"
)

const wsWriteTimeout = 10 * time.Second

// handleWS streams a JSON snapshot on every state, speaking, mute or
// elapsed change. Slow clients skip intermediate snapshots. Anything the
// client sends is ignored.
func (a *App) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		observe.Logger(r.Context()).Warn("websocket accept failed", "err", err)
		return
	}
	defer conn.CloseNow()

	// CloseRead discards client frames and cancels ctx once the peer goes away.
	ctx := conn.CloseRead(r.Context())

	snaps, cancel := a.engine.Subscribe()
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return
		case <-a.closing:
			conn.Close(websocket.StatusGoingAway, "server shutting down")
			return
		case snap, ok := <-snaps:
			if !ok {
				return
			}
			if err := writeSnapshot(ctx, conn, snap); err != nil {
				if !errors.Is(err, context.Canceled) {
					observe.Logger(r.Context()).Debug("websocket write failed", "err", err)
				}
				return
			}
		}
	}
}

func writeSnapshot(ctx context.Context, conn *websocket.Conn, snap interview.Snapshot) error {
	wctx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
	defer cancel()
	return wsjson.Write(wctx, conn, snap)
}
