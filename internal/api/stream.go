package api

import (
	"context"
	"net/http"
	"time"

	"github.com/trogers1052/portfolio-tracker/internal/events"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

const eventWriteTimeout = 5 * time.Second

// StreamEvents handles GET /events. Each bus event is written to the
// client as one JSON frame until the client goes away.
func (h *Handler) StreamEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		h.log.Warn().Err(err).Msg("Event stream upgrade failed")
		return
	}
	defer conn.CloseNow()

	ch := h.deps.Events.Subscribe(events.DefaultBuffer)
	defer h.deps.Events.Unsubscribe(ch)

	// Clients never send; CloseRead handles control frames and cancels on disconnect
	ctx := conn.CloseRead(r.Context())

	h.log.Debug().Str("remote", r.RemoteAddr).Msg("Event stream client connected")
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-ch:
			if !ok {
				conn.Close(websocket.StatusGoingAway, "shutting down")
				return
			}
			if err := writeEvent(ctx, conn, e); err != nil {
				h.log.Debug().Err(err).Msg("Event stream client dropped")
				return
			}
		}
	}
}

func writeEvent(ctx context.Context, conn *websocket.Conn, e events.Event) error {
	ctx, cancel := context.WithTimeout(ctx, eventWriteTimeout)
	defer cancel()
	return wsjson.Write(ctx, conn, e)
}
