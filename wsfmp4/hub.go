package wsfmp4

import (
	"sync"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// viewer is one attached WebSocket client, adapted from the teacher's
// WebsocketClient (websocket.websocket.go): a connection plus an
// outbound buffered channel drained by its own writer goroutine.
type viewer struct {
	conn *websocket.Conn
	send chan []byte
	id   string
}

// hub fans a single agent's fMP4 byte stream out to every attached
// viewer, the per-agent generalization of the teacher's single global
// Hub/Rooms map (one room == one agent here, so the map collapses to a
// plain set).
type hub struct {
	agentID string
	log     zerolog.Logger

	mu      sync.Mutex
	viewers map[*viewer]bool

	register   chan *viewer
	unregister chan *viewer
	broadcast  chan []byte

	done chan struct{}
}

func newHub(agentID string, log zerolog.Logger) *hub {
	return &hub{
		agentID:    agentID,
		log:        log,
		viewers:    make(map[*viewer]bool),
		register:   make(chan *viewer),
		unregister: make(chan *viewer),
		broadcast:  make(chan []byte, 32),
		done:       make(chan struct{}),
	}
}

// run drives registration, teardown, and broadcast for the hub's
// lifetime; exits once stop is closed.
func (h *hub) run(stop <-chan struct{}) {
	defer close(h.done)
	for {
		select {
		case <-stop:
			h.mu.Lock()
			for v := range h.viewers {
				close(v.send)
			}
			h.viewers = nil
			h.mu.Unlock()
			return

		case v := <-h.register:
			h.mu.Lock()
			h.viewers[v] = true
			h.mu.Unlock()

		case v := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.viewers[v]; ok {
				delete(h.viewers, v)
				close(v.send)
			}
			h.mu.Unlock()

		case data := <-h.broadcast:
			h.mu.Lock()
			for v := range h.viewers {
				select {
				case v.send <- data:
				default:
					close(v.send)
					delete(h.viewers, v)
				}
			}
			h.mu.Unlock()
		}
	}
}

func (h *hub) viewerCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.viewers)
}

// findByConn locates the viewer wrapping conn, if still registered.
func (h *hub) findByConn(conn *websocket.Conn) *viewer {
	h.mu.Lock()
	defer h.mu.Unlock()
	for v := range h.viewers {
		if v.conn == conn {
			return v
		}
	}
	return nil
}

// writePump drains v.send to the socket until it's closed, mirroring
// the teacher's WritePump.
func (v *viewer) writePump(log zerolog.Logger) {
	defer v.conn.Close()
	for data := range v.send {
		if err := v.conn.WriteMessage(websocket.BinaryMessage, data); err != nil {
			log.Debug().Err(err).Str("viewer", v.id).Msg("wsfmp4 write failed")
			return
		}
	}
}
