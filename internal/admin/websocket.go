package admin

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"

	"github.com/chainforge/evm-indexer/internal/eventbus"
	"github.com/gorilla/websocket"
)

// hub fans eventbus events out to connected WebSocket clients. One hub per
// Server, fed by a single subscriber goroutine reading the shared bus.
type hub struct {
	mu      sync.Mutex
	clients map[*wsClient]bool

	register   chan *wsClient
	unregister chan *wsClient
	broadcast  chan []byte
}

type wsClient struct {
	conn *websocket.Conn
	send chan []byte
}

func newHub() *hub {
	return &hub{
		clients:    make(map[*wsClient]bool),
		register:   make(chan *wsClient),
		unregister: make(chan *wsClient),
		broadcast:  make(chan []byte),
	}
}

func (h *hub) run() {
	for {
		select {
		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = true
			h.mu.Unlock()
		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}
			h.mu.Unlock()
		case msg := <-h.broadcast:
			h.mu.Lock()
			for c := range h.clients {
				select {
				case c.send <- msg:
				default:
					close(c.send)
					delete(h.clients, c)
				}
			}
			h.mu.Unlock()
		}
	}
}

// feedEvents subscribes to every event type this admin surface cares about
// and rebroadcasts each to connected WebSocket clients as JSON.
func (h *hub) feedEvents(bus *eventbus.Bus) {
	if bus == nil {
		return
	}
	ch := make(chan eventbus.Event, 64)
	for _, t := range []string{"range.completed", "range.failed", "reorg.detected"} {
		bus.Subscribe(t, ch)
	}
	go func() {
		for evt := range ch {
			data, err := json.Marshal(evt)
			if err != nil {
				continue
			}
			h.broadcast <- data
		}
	}()
}

var wsUpgrader = websocket.Upgrader{
	CheckOrigin:     func(r *http.Request) bool { return true },
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Println("[admin] websocket upgrade error:", err)
		return
	}

	c := &wsClient{conn: conn, send: make(chan []byte, 256)}
	s.hub.register <- c

	go func() {
		defer func() {
			s.hub.unregister <- c
			conn.Close()
		}()
		for msg := range c.send {
			w, err := conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(msg)
			w.Close()
		}
		conn.WriteMessage(websocket.CloseMessage, []byte{})
	}()

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
}
