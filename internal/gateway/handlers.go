package gateway

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/websocket"

	"signal-engine/internal/model"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// AlertStore serves past alerts, newest first. symbol "" means all symbols.
type AlertStore interface {
	Recent(ctx context.Context, symbol string, limit int) ([]model.AlertEvent, error)
}

const (
	defaultAlertLimit = 50
	maxAlertLimit     = 1000
)

// SetCORS sets CORS headers for REST endpoints.
func SetCORS(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	SetCORS(w)
	w.Header().Set("Content-Type", "application/json")
	if code != http.StatusOK {
		w.WriteHeader(code)
	}
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}

// RegisterRoutes registers the WebSocket and REST routes on mux. alerts and
// health may be nil.
func RegisterRoutes(mux *http.ServeMux, hub *Hub, alerts AlertStore, health http.Handler) {
	// WebSocket endpoint; ?symbols=EURUSD,GBPUSD pre-filters the stream.
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			hub.log.Warn("ws upgrade failed", "error", err)
			return
		}
		hub.HandleConn(conn, splitSymbols(r.URL.Query().Get("symbols")))
	})

	// REST: newest publication, for one symbol or all of them.
	mux.HandleFunc("/api/latest", func(w http.ResponseWriter, r *http.Request) {
		sym := strings.ToUpper(r.URL.Query().Get("symbol"))
		if sym == "" {
			writeJSON(w, http.StatusOK, hub.LatestAll())
			return
		}
		p, ok := hub.Latest(sym)
		if !ok {
			writeError(w, http.StatusNotFound, "no data for "+sym)
			return
		}
		writeJSON(w, http.StatusOK, p)
	})

	// REST: symbols that have published.
	mux.HandleFunc("/api/symbols", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, hub.Symbols())
	})

	// REST: gap backfill, /api/missed?symbol=EURUSD&from_seq=10[&to_seq=20]
	mux.HandleFunc("/api/missed", func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		sym := strings.ToUpper(q.Get("symbol"))
		from, err := strconv.ParseInt(q.Get("from_seq"), 10, 64)
		if sym == "" || err != nil {
			writeError(w, http.StatusBadRequest, "symbol and from_seq are required")
			return
		}
		to, _ := strconv.ParseInt(q.Get("to_seq"), 10, 64)
		missed := hub.Missed(sym, from, to)
		if missed == nil {
			missed = []model.Published{}
		}
		writeJSON(w, http.StatusOK, missed)
	})

	// REST: alert journal, /api/alerts[?symbol=EURUSD][&limit=50]
	mux.HandleFunc("/api/alerts", func(w http.ResponseWriter, r *http.Request) {
		if alerts == nil {
			writeError(w, http.StatusServiceUnavailable, "alert journal disabled")
			return
		}
		q := r.URL.Query()
		limit := defaultAlertLimit
		if v := q.Get("limit"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n <= 0 {
				writeError(w, http.StatusBadRequest, "invalid limit")
				return
			}
			limit = min(n, maxAlertLimit)
		}
		evs, err := alerts.Recent(r.Context(), strings.ToUpper(q.Get("symbol")), limit)
		if err != nil {
			hub.log.Error("alert query failed", "error", err)
			writeError(w, http.StatusInternalServerError, "alert query failed")
			return
		}
		if evs == nil {
			evs = []model.AlertEvent{}
		}
		writeJSON(w, http.StatusOK, evs)
	})

	if health != nil {
		mux.Handle("/healthz", health)
	}
}

func splitSymbols(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, strings.ToUpper(p))
		}
	}
	return out
}

// Server serves the gateway routes.
type Server struct {
	srv *http.Server
	log *slog.Logger
}

// NewServer builds an HTTP server for addr with the gateway routes.
func NewServer(addr string, hub *Hub, alerts AlertStore, health http.Handler) *Server {
	mux := http.NewServeMux()
	RegisterRoutes(mux, hub, alerts, health)
	return &Server{
		srv: &http.Server{Addr: addr, Handler: mux},
		log: hub.log,
	}
}

// Start launches the HTTP server in a goroutine.
func (s *Server) Start() {
	go func() {
		s.log.Info("gateway listening", "addr", s.srv.Addr)
		if err := s.srv.ListenAndServe(); err != http.ErrServerClosed {
			s.log.Error("gateway server error", "error", err)
		}
	}()
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
