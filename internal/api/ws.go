package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"scribe/internal/logging"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The daemon binds to loopback; the CLI is not a browser.
	CheckOrigin: func(*http.Request) bool { return true },
}

// handleProgressSocket streams progress events for one job over a
// websocket until the job reaches a terminal event or the client goes
// away.
func (s *Server) handleProgressSocket(w http.ResponseWriter, r *http.Request) {
	id, err := jobIDParam(r)
	if err != nil {
		s.writeError(w, err)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", logging.Error(err))
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// Drain client frames so pings and close messages are processed; any
	// read error means the client is gone.
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	publisher := s.pipeline.Publisher()
	var since uint64
	for {
		events, err := publisher.Fetch(ctx, id, since, true)
		if err != nil && len(events) == 0 {
			return
		}
		for _, event := range events {
			conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := conn.WriteJSON(event); err != nil {
				return
			}
			since = event.Sequence
			if event.Terminal() {
				conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, string(event.Type)))
				return
			}
		}
	}
}
