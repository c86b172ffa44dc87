package daemon

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"aoi/internal/controller"
	"aoi/internal/logging"
)

const (
	eventBuffer     = 16
	eventWriteWait  = 10 * time.Second
	eventPongWait   = 60 * time.Second
	eventPingPeriod = eventPongWait * 9 / 10
)

// eventHub fans controller snapshots out to websocket clients. Present runs
// under the controller lock, so it only encodes and does non-blocking sends;
// a client that falls behind misses intermediate snapshots.
type eventHub struct {
	logger *slog.Logger

	mu      sync.Mutex
	clients map[*eventClient]struct{}
	last    []byte
}

type eventClient struct {
	send chan []byte
}

func newEventHub(logger *slog.Logger) *eventHub {
	return &eventHub{logger: logger, clients: make(map[*eventClient]struct{})}
}

func (h *eventHub) Present(s controller.Snapshot) {
	data, err := json.Marshal(s)
	if err != nil {
		h.logger.Warn("snapshot encode failed", logging.Error(err))
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.last = data
	for c := range h.clients {
		select {
		case c.send <- data:
		default:
			h.logger.Debug("event client behind; snapshot dropped")
		}
	}
}

func (h *eventHub) register() (*eventClient, []byte) {
	c := &eventClient{send: make(chan []byte, eventBuffer)}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[c] = struct{}{}
	return c, h.last
}

func (h *eventHub) unregister(c *eventClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
}

func (h *eventHub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		delete(h.clients, c)
		close(c.send)
	}
}

func (h *eventHub) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
}

// serveWS streams the latest snapshot and every later one as JSON text
// messages until the client goes away.
func (h *eventHub) serveWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Debug("websocket upgrade failed", logging.Error(err))
		return
	}
	client, last := h.register()
	h.logger.Debug("event client connected", logging.String(logging.FieldRemote, r.RemoteAddr))

	go func() {
		defer h.unregister(client)
		conn.SetReadLimit(512)
		_ = conn.SetReadDeadline(time.Now().Add(eventPongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(eventPongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(eventPingPeriod)
	defer func() {
		ticker.Stop()
		_ = conn.Close()
	}()

	if last != nil {
		if err := writeText(conn, last); err != nil {
			return
		}
	}
	for {
		select {
		case data, ok := <-client.send:
			if !ok {
				_ = conn.SetWriteDeadline(time.Now().Add(eventWriteWait))
				_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := writeText(conn, data); err != nil {
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(eventWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func writeText(conn *websocket.Conn, data []byte) error {
	_ = conn.SetWriteDeadline(time.Now().Add(eventWriteWait))
	return conn.WriteMessage(websocket.TextMessage, data)
}
