package rpc

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ledgerforge/forgechain/events"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true }, // CORS is handled by the HTTP router
}

// Hub fans every chain event out to subscribed websocket clients. Feed
// subscribes once per events.EventType at construction and lets clients pick
// which types they want over the wire, so a single emitter fan-out serves
// any number of connections without re-subscribing per client.
type Hub struct {
	clients    map[*feedClient]bool
	register   chan *feedClient
	unregister chan *feedClient
	broadcast  chan feedMessage
	mu         sync.RWMutex
}

type feedMessage struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// NewHub creates a Hub and wires it to emitter so every event type the
// node knows about (see events/emitter.go) gets pushed to subscribers.
func NewHub(emitter *events.Emitter) *Hub {
	h := &Hub{
		clients:    make(map[*feedClient]bool),
		register:   make(chan *feedClient),
		unregister: make(chan *feedClient),
		broadcast:  make(chan feedMessage, 256),
	}
	for _, t := range events.AllTypes() {
		t := t
		emitter.Subscribe(t, func(ev events.Event) {
			h.broadcast <- feedMessage{Type: string(ev.Type), Data: ev}
		})
	}
	return h
}

// Run drives the hub's register/unregister/broadcast loop; call it in its
// own goroutine before the HTTP server starts accepting connections.
func (h *Hub) Run() {
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
			data, err := json.Marshal(msg)
			if err != nil {
				log.Printf("[feed] marshal error: %v", err)
				continue
			}
			h.mu.RLock()
			for c := range h.clients {
				if !c.subscribed(msg.Type) {
					continue
				}
				select {
				case c.send <- data:
				default:
					close(c.send)
					delete(h.clients, c)
				}
			}
			h.mu.RUnlock()
		}
	}
}

// ServeHTTP upgrades the connection and starts the client's pumps.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[feed] upgrade error: %v", err)
		return
	}
	c := &feedClient{
		hub:  h,
		conn: conn,
		send: make(chan []byte, 256),
		subs: make(map[string]bool),
	}
	h.register <- c
	go c.writePump()
	go c.readPump()
}

type feedClient struct {
	hub    *Hub
	conn   *websocket.Conn
	send   chan []byte
	subs   map[string]bool
	subsMu sync.RWMutex
}

type feedSubscribeRequest struct {
	Op    string   `json:"op"` // "subscribe" | "unsubscribe"
	Types []string `json:"types"`
}

func (c *feedClient) subscribed(t string) bool {
	c.subsMu.RLock()
	defer c.subsMu.RUnlock()
	return c.subs[t]
}

func (c *feedClient) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()
	c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})
	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			break
		}
		var req feedSubscribeRequest
		if err := json.Unmarshal(message, &req); err != nil {
			continue
		}
		c.subsMu.Lock()
		switch req.Op {
		case "subscribe":
			for _, t := range req.Types {
				c.subs[t] = true
			}
		case "unsubscribe":
			for _, t := range req.Types {
				delete(c.subs, t)
			}
		}
		c.subsMu.Unlock()
	}
}

func (c *feedClient) writePump() {
	ticker := time.NewTicker(54 * time.Second)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
