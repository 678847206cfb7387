package wsfmp4

import (
	"context"
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Handler upgrades a request to a WebSocket and drives one viewer's
// add/remove lifecycle against p, mirroring the teacher's
// CreateWebsocket entry point but scoped to a single agent_id query
// parameter instead of a room/playerId pair.
func Handler(p *Publisher, log zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		agentID := r.URL.Query().Get("agent_id")
		if agentID == "" {
			http.Error(w, "agent_id required", http.StatusBadRequest)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Warn().Err(err).Msg("wsfmp4 upgrade failed")
			return
		}
		viewerID := r.RemoteAddr

		if err := p.AddViewer(r.Context(), agentID, viewerID, conn); err != nil {
			log.Warn().Err(err).Str("agent_id", agentID).Msg("wsfmp4 add_viewer failed")
			_ = conn.Close()
			return
		}
		defer p.RemoveViewer(agentID, conn)

		readLoop(r.Context(), conn)
	}
}

// readLoop blocks until the viewer disconnects; this publisher is
// one-directional (server → browser), so any inbound message is
// discarded and only used to detect the socket closing.
func readLoop(ctx context.Context, conn *websocket.Conn) {
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
		select {
		case <-ctx.Done():
			return
		default:
		}
	}
}
