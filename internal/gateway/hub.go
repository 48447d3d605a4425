// Package gateway is the display surface of the signal engine: a WebSocket
// hub that streams every publication and alert to connected clients, plus
// a small REST API over the latest values and the alert journal.
package gateway

import (
	"context"
	"encoding/json"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"signal-engine/internal/model"
)

// Envelope is the frame every WebSocket message is wrapped in.
type Envelope struct {
	Type    string `json:"type"` // "snapshot", "alert", "pong", "error"
	Symbol  string `json:"symbol,omitempty"`
	Seq     int64  `json:"seq,omitempty"`
	Data    any    `json:"data,omitempty"`
	TS      string `json:"ts"`
	Initial bool   `json:"initial,omitempty"`
}

func envelope(typ, symbol string, seq int64, data any) []byte {
	b, _ := json.Marshal(Envelope{
		Type:   typ,
		Symbol: symbol,
		Seq:    seq,
		Data:   data,
		TS:     time.Now().UTC().Format(time.RFC3339Nano),
	})
	return b
}

// Hub manages WebSocket clients and keeps the newest publication of every
// symbol for initial state, REST and gap backfill.
type Hub struct {
	mu        sync.RWMutex
	clients   map[*Client]bool
	latest    map[string]model.Published
	replay    map[string]*ReplayBuffer
	replayCap int

	log *slog.Logger
}

// NewHub creates a hub. replayCap is the per-symbol backfill depth.
func NewHub(replayCap int, l *slog.Logger) *Hub {
	if l == nil {
		l = slog.Default()
	}
	return &Hub{
		clients:   make(map[*Client]bool),
		latest:    make(map[string]model.Published),
		replay:    make(map[string]*ReplayBuffer),
		replayCap: replayCap,
		log:       l.With("component", "gateway"),
	}
}

// Run forwards publications and alerts to clients until ctx is cancelled or
// both channels are closed. Either channel may be nil.
func (h *Hub) Run(ctx context.Context, pubs <-chan model.Published, alerts <-chan model.AlertEvent) {
	for pubs != nil || alerts != nil {
		select {
		case <-ctx.Done():
			return
		case p, ok := <-pubs:
			if !ok {
				pubs = nil
				continue
			}
			h.Publish(p)
		case ev, ok := <-alerts:
			if !ok {
				alerts = nil
				continue
			}
			h.PublishAlert(ev)
		}
	}
}

// Publish records p as the newest value of its symbol and broadcasts it.
func (h *Hub) Publish(p model.Published) {
	sym := p.Snapshot.Symbol

	h.mu.Lock()
	rb, ok := h.replay[sym]
	if !ok {
		rb = NewReplayBuffer(h.replayCap)
		h.replay[sym] = rb
	}
	if prev, seen := h.latest[sym]; seen && p.Seq <= prev.Seq {
		rb.Reset()
	}
	h.latest[sym] = p
	h.mu.Unlock()

	rb.Push(p)
	h.broadcast(sym, envelope("snapshot", sym, p.Seq, p))
}

// PublishAlert broadcasts a signal transition.
func (h *Hub) PublishAlert(ev model.AlertEvent) {
	h.broadcast(ev.Key(), envelope("alert", ev.Key(), 0, ev))
}

func (h *Hub) broadcast(symbol string, msg []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		if !c.wants(symbol) {
			continue
		}
		select {
		case c.send <- msg:
		default:
			// Slow client: drop rather than stall every other client.
		}
	}
}

// Latest returns the newest publication for symbol.
func (h *Hub) Latest(symbol string) (model.Published, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	p, ok := h.latest[symbol]
	return p, ok
}

// LatestAll returns the newest publication of every symbol, ordered by symbol.
func (h *Hub) LatestAll() []model.Published {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]model.Published, 0, len(h.latest))
	for _, p := range h.latest {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Snapshot.Symbol < out[j].Snapshot.Symbol })
	return out
}

// Missed returns buffered publications of symbol with seq in
// [fromSeq, toSeq]; toSeq <= 0 means up to the newest.
func (h *Hub) Missed(symbol string, fromSeq, toSeq int64) []model.Published {
	h.mu.RLock()
	rb, ok := h.replay[symbol]
	h.mu.RUnlock()
	if !ok {
		return nil
	}
	return rb.Range(fromSeq, toSeq)
}

// Symbols lists every symbol that has published.
func (h *Hub) Symbols() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]string, 0, len(h.latest))
	for s := range h.latest {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// HandleConn registers an upgraded connection. symbols, when non-empty,
// restricts what the client receives until it sends SUBSCRIBE.
func (h *Hub) HandleConn(conn *websocket.Conn, symbols []string) {
	c := newClient(h, conn, symbols)

	h.mu.Lock()
	h.clients[c] = true
	count := len(h.clients)
	h.mu.Unlock()

	h.log.Info("ws client connected", "clients", count)

	c.sendInitialState()
	go c.writePump()
	go c.readPump()
}

// RemoveClient removes a client from the hub.
func (h *Hub) RemoveClient(c *Client) {
	h.mu.Lock()
	if h.clients[c] {
		delete(h.clients, c)
		close(c.send)
	}
	h.mu.Unlock()
}

// ClientCount returns the number of connected WS clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
