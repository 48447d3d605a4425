package gateway

import (
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Client represents a single WebSocket peer.
type Client struct {
	conn *websocket.Conn
	send chan []byte
	hub  *Hub

	// Subscribed symbols; empty means everything.
	subMu sync.RWMutex
	subs  map[string]bool
}

// controlMsg is what clients send: SUBSCRIBE / UNSUBSCRIBE with a symbol
// list, or a bare {"ping": <unix ms>}.
type controlMsg struct {
	Type    string   `json:"type"`
	Symbols []string `json:"symbols"`
	Ping    int64    `json:"ping"`
}

func newClient(h *Hub, conn *websocket.Conn, symbols []string) *Client {
	c := &Client{
		conn: conn,
		send: make(chan []byte, 256),
		hub:  h,
		subs: make(map[string]bool),
	}
	c.subscribe(symbols)
	return c
}

func (c *Client) wants(symbol string) bool {
	c.subMu.RLock()
	defer c.subMu.RUnlock()
	return len(c.subs) == 0 || c.subs[symbol]
}

func (c *Client) subscribe(symbols []string) {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	for _, s := range symbols {
		if s = strings.ToUpper(strings.TrimSpace(s)); s != "" {
			c.subs[s] = true
		}
	}
}

func (c *Client) unsubscribe(symbols []string) {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	for _, s := range symbols {
		delete(c.subs, strings.ToUpper(strings.TrimSpace(s)))
	}
}

// sendInitialState queues the newest publication of every wanted symbol.
func (c *Client) sendInitialState() {
	for _, p := range c.hub.LatestAll() {
		sym := p.Snapshot.Symbol
		if !c.wants(sym) {
			continue
		}
		msg, _ := json.Marshal(Envelope{
			Type:    "snapshot",
			Symbol:  sym,
			Seq:     p.Seq,
			Data:    p,
			TS:      time.Now().UTC().Format(time.RFC3339Nano),
			Initial: true,
		})
		select {
		case c.send <- msg:
		default:
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(30 * time.Second)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
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

func (c *Client) readPump() {
	defer func() {
		c.hub.RemoveClient(c)
		c.conn.Close()
		c.hub.log.Info("ws client disconnected")
	}()

	c.conn.SetReadLimit(4096)
	c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			return
		}

		var msg controlMsg
		if err := json.Unmarshal(raw, &msg); err != nil {
			c.reply(envelope("error", "", 0, "invalid message: "+err.Error()))
			continue
		}

		switch strings.ToUpper(msg.Type) {
		case "SUBSCRIBE":
			c.subscribe(msg.Symbols)
			c.sendInitialState()
		case "UNSUBSCRIBE":
			c.unsubscribe(msg.Symbols)
		default:
			if msg.Ping > 0 {
				c.reply(envelope("pong", "", 0, map[string]int64{
					"ping":      msg.Ping,
					"server_ts": time.Now().UnixMilli(),
				}))
			}
		}
	}
}

// reply queues msg without blocking; the hub lock guards against a
// concurrent close of c.send.
func (c *Client) reply(msg []byte) {
	c.hub.mu.RLock()
	defer c.hub.mu.RUnlock()
	if !c.hub.clients[c] {
		return
	}
	select {
	case c.send <- msg:
	default:
	}
}
