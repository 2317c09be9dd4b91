// Package observer is a read-only observability surface: a websocket
// fan-out of an Instance's unified event stream, for dashboards and
// integration tooling. It never originates playback commands.
package observer

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	logging "github.com/ipfs/go-log/v2"

	"playmesh/internal/instance"
)

var log = logging.Logger("observer")

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	sendBuf    = 16
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Permissive: this is a local observability surface, not a
	// cross-origin control channel.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// WireEvent is the JSON shape of every frame:
// {type, instanceId, payload, ts}.
type WireEvent struct {
	Type       string `json:"type"`
	InstanceID string `json:"instanceId"`
	Payload    any    `json:"payload"`
	TS         int64  `json:"ts"`
}

type client struct {
	conn   *websocket.Conn
	sendCh chan []byte
}

// Hub fans out one Instance's event stream to every connected
// websocket client.
type Hub struct {
	instanceID string
	inst       *instance.Instance
	unsub      instance.Unsubscribe

	mu      sync.Mutex
	clients map[*client]struct{}
}

// NewHub subscribes to inst's unified event stream and returns a Hub
// ready to be mounted behind an HTTP handler.
func NewHub(instanceID string, inst *instance.Instance) *Hub {
	h := &Hub{instanceID: instanceID, inst: inst, clients: make(map[*client]struct{})}
	h.unsub = inst.Subscribe(h.onEvent)
	return h
}

// Close unsubscribes from the Instance and disconnects every client.
func (h *Hub) Close() {
	if h.unsub != nil {
		h.unsub()
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		close(c.sendCh)
	}
	h.clients = nil
}

func (h *Hub) onEvent(ev instance.Event) {
	data, err := json.Marshal(WireEvent{
		Type:       ev.Type.String(),
		InstanceID: h.instanceID,
		Payload:    ev,
		TS:         time.Now().UnixMilli(),
	})
	if err != nil {
		log.Warnw("marshal event failed", "err", err)
		return
	}
	h.broadcast(data)
}

func (h *Hub) broadcast(data []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c.sendCh <- data:
		default:
			// Slow reader: drop rather than block the event fan-out.
			log.Debugw("dropping frame for slow observer client")
		}
	}
}

// ServeHTTP upgrades the connection and registers it for broadcast.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warnw("websocket upgrade failed", "err", err)
		return
	}
	c := &client{conn: conn, sendCh: make(chan []byte, sendBuf)}

	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()

	go h.writePump(c)
	h.readPump(c)
}

// readPump drains and discards inbound frames (this surface is
// read-only; it never accepts commands) until the connection closes,
// then deregisters the client.
func (h *Hub) readPump(c *client) {
	defer h.remove(c)
	c.conn.SetReadLimit(4096)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) writePump(c *client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case msg, ok := <-c.sendCh:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.sendCh)
	}
}
