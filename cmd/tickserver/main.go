// cmd/tickserver is a demo WebSocket tick server. It broadcasts simulated
// ticks so the signal engine can run without a real market data feed.
//
// Each text message is one model.Tick:
//
//	{"symbol":"EURUSD","price":1.08512,"volume":37,"high":1.0856,"low":1.0849,"ts":"..."}
//
// Config (env vars):
//
//	TICK_SERVER_ADDR  listen address (default ":9001")
//	TICK_SYMBOLS      comma-separated SYMBOL:START_PRICE pairs (default "EURUSD:1.0850")
//	TICK_INTERVAL     broadcast interval (default "1s")
//	TICK_VOLATILITY   max relative move per tick (default 0.001)
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
	"github.com/kelseyhightower/envconfig"

	"signal-engine/internal/logger"
	"signal-engine/internal/model"
)

type serverConfig struct {
	Addr       string        `envconfig:"TICK_SERVER_ADDR" default:":9001"`
	Symbols    string        `envconfig:"TICK_SYMBOLS" default:"EURUSD:1.0850"`
	Interval   time.Duration `envconfig:"TICK_INTERVAL" default:"1s"`
	Volatility float64       `envconfig:"TICK_VOLATILITY" default:"0.001"`
}

// instrument holds per-symbol simulation state.
type instrument struct {
	Symbol string
	Price  float64
	High   float64 // session range
	Low    float64
}

type hub struct {
	mu      sync.RWMutex
	clients map[*websocket.Conn]chan []byte
}

func newHub() *hub {
	return &hub{clients: make(map[*websocket.Conn]chan []byte)}
}

func (h *hub) register(conn *websocket.Conn) chan []byte {
	ch := make(chan []byte, 256)
	h.mu.Lock()
	h.clients[conn] = ch
	h.mu.Unlock()
	return ch
}

func (h *hub) unregister(conn *websocket.Conn) {
	h.mu.Lock()
	if ch, ok := h.clients[conn]; ok {
		close(ch)
		delete(h.clients, conn)
	}
	h.mu.Unlock()
}

func (h *hub) broadcast(msg []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, ch := range h.clients {
		select {
		case ch <- msg:
		default: // slow client, drop tick
		}
	}
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(_ *http.Request) bool { return true },
}

func wsHandler(h *hub, l *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			l.Warn("upgrade failed", "error", err)
			return
		}
		l.Info("client connected", "remote", r.RemoteAddr)

		ch := h.register(conn)
		defer func() {
			h.unregister(conn)
			conn.Close()
			l.Info("client disconnected", "remote", r.RemoteAddr)
		}()

		// drain reads so close frames are processed
		go func() {
			for {
				if _, _, err := conn.NextReader(); err != nil {
					h.unregister(conn)
					return
				}
			}
		}()

		for msg := range ch {
			conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		}
	}
}

// step applies a random walk of at most ±vol to the price and widens the
// session range.
func (in *instrument) step(rng *rand.Rand, vol float64) {
	pct := (rng.Float64()*2 - 1) * vol
	in.Price = math.Max(in.Price*(1+pct), 1e-6)
	in.High = math.Max(in.High, in.Price)
	in.Low = math.Min(in.Low, in.Price)
}

func (in *instrument) tick(rng *rand.Rand, now time.Time) model.Tick {
	return model.Tick{
		Symbol: in.Symbol,
		Price:  in.Price,
		Volume: float64(rng.Intn(100) + 1),
		High:   in.High,
		Low:    in.Low,
		TS:     now.UTC(),
	}
}

func runGenerator(ctx context.Context, h *hub, instruments []instrument, cfg serverConfig) {
	ticker := time.NewTicker(cfg.Interval)
	defer ticker.Stop()

	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			for i := range instruments {
				instruments[i].step(rng, cfg.Volatility)
				msg, err := json.Marshal(instruments[i].tick(rng, now))
				if err != nil {
					continue
				}
				h.broadcast(msg)
			}
		}
	}
}

func parseInstruments(s string) ([]instrument, error) {
	var out []instrument
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		sym, priceStr, ok := strings.Cut(part, ":")
		if !ok {
			return nil, fmt.Errorf("invalid symbol entry %q, want SYMBOL:PRICE", part)
		}
		price, err := strconv.ParseFloat(strings.TrimSpace(priceStr), 64)
		if err != nil || price <= 0 {
			return nil, fmt.Errorf("invalid start price in %q", part)
		}
		sym = strings.ToUpper(strings.TrimSpace(sym))
		out = append(out, instrument{Symbol: sym, Price: price, High: price, Low: price})
	}
	if len(out) == 0 {
		return nil, errors.New("no symbols configured via TICK_SYMBOLS")
	}
	return out, nil
}

func main() {
	l := logger.Init("tickserver", slog.LevelInfo)

	var cfg serverConfig
	if err := envconfig.Process("", &cfg); err != nil {
		l.Error("config", "error", err)
		os.Exit(1)
	}
	if cfg.Interval <= 0 {
		cfg.Interval = time.Second
	}
	instruments, err := parseInstruments(cfg.Symbols)
	if err != nil {
		l.Error("config", "error", err)
		os.Exit(1)
	}
	l.Info("starting", "symbols", cfg.Symbols, "interval", cfg.Interval)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	h := newHub()
	go runGenerator(ctx, h, instruments, cfg)

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", wsHandler(h, l))
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintln(w, `{"status":"ok","service":"tickserver"}`)
	})
	srv := &http.Server{Addr: cfg.Addr, Handler: mux}

	go func() {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		srv.Shutdown(shutCtx)
	}()

	l.Info("listening", "addr", cfg.Addr, "ws", "ws://localhost"+cfg.Addr+"/ws")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		l.Error("server error", "error", err)
		os.Exit(1)
	}
}
