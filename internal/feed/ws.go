package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"signal-engine/internal/model"
)

// WSConfig holds configuration for the WebSocket tick client.
type WSConfig struct {
	// URL of the tick WebSocket server, e.g. "ws://localhost:9001/ws"
	URL string

	// Symbols, when non-empty, filters incoming ticks.
	Symbols []string

	// ReconnectDelay is the initial delay before reconnection attempts.
	// Defaults to 2 seconds if zero.
	ReconnectDelay time.Duration

	// MaxReconnectDelay caps the exponential backoff. Defaults to 30s.
	MaxReconnectDelay time.Duration
}

func (c *WSConfig) defaults() {
	if c.ReconnectDelay == 0 {
		c.ReconnectDelay = 2 * time.Second
	}
	if c.MaxReconnectDelay == 0 {
		c.MaxReconnectDelay = 30 * time.Second
	}
}

// WSSource connects to a plain-JSON WebSocket tick server (see
// cmd/tickserver). Each text message is one model.Tick:
//
//	{"symbol":"EURUSD","price":1.0851,"volume":12,"ts":"2024-01-02T09:00:00Z"}
type WSSource struct {
	cfg   WSConfig
	allow map[string]bool
	log   *slog.Logger

	// Optional hooks, called on every (re)connection and disconnection.
	OnConnect    func()
	OnDisconnect func()
}

// NewWSSource creates a WebSocket source. Returns an error if the URL is
// not a ws:// or wss:// URL.
func NewWSSource(cfg WSConfig, l *slog.Logger) (*WSSource, error) {
	cfg.defaults()
	u, err := url.Parse(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("feed url: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return nil, fmt.Errorf("feed url: unsupported scheme %q", u.Scheme)
	}
	if l == nil {
		l = slog.Default()
	}
	s := &WSSource{cfg: cfg, log: l.With("component", "feed", "source", "ws")}
	if len(cfg.Symbols) > 0 {
		s.allow = make(map[string]bool, len(cfg.Symbols))
		for _, sym := range cfg.Symbols {
			s.allow[strings.ToUpper(sym)] = true
		}
	}
	return s, nil
}

// Run streams ticks into out. Blocks until ctx is cancelled and reconnects
// with exponential backoff on disconnect.
func (s *WSSource) Run(ctx context.Context, out chan<- model.Tick, errs chan<- error) error {
	delay := s.cfg.ReconnectDelay

	for {
		if ctx.Err() != nil {
			return nil
		}

		connected, err := s.runOnce(ctx, out, errs)
		if err == nil {
			return nil
		}
		if connected {
			delay = s.cfg.ReconnectDelay
		}

		s.log.Warn("feed disconnected", "error", err, "retry_in", delay)
		reportErr(errs, &model.FeedError{Reason: "disconnected", Err: err})
		if s.OnDisconnect != nil {
			s.OnDisconnect()
		}

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(delay):
		}

		// Exponential backoff
		delay *= 2
		if delay > s.cfg.MaxReconnectDelay {
			delay = s.cfg.MaxReconnectDelay
		}
	}
}

// runOnce makes a single connection attempt and reads until disconnect or
// ctx cancel. connected reports whether the dial succeeded.
func (s *WSSource) runOnce(ctx context.Context, out chan<- model.Tick, errs chan<- error) (connected bool, err error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, s.cfg.URL, nil)
	if err != nil {
		return false, err
	}
	defer conn.Close()

	s.log.Info("feed connected", "url", s.cfg.URL)
	if s.OnConnect != nil {
		s.OnConnect()
	}

	// Closes the connection when ctx is cancelled so ReadMessage unblocks.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, "shutdown"))
			conn.Close()
		case <-done:
		}
	}()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return true, nil
			}
			return true, err
		}

		var tick model.Tick
		if err := json.Unmarshal(raw, &tick); err != nil {
			reportErr(errs, &model.FeedError{Reason: "unparseable message", Err: err})
			continue
		}
		tick.Symbol = strings.ToUpper(tick.Symbol)
		if s.allow != nil && !s.allow[tick.Symbol] {
			continue
		}
		if tick.TS.IsZero() {
			tick.TS = time.Now().UTC()
		}

		select {
		case out <- tick:
		case <-ctx.Done():
			return true, nil
		}
	}
}
