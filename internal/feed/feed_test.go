package feed

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"signal-engine/internal/model"
)

func collect(t *testing.T, out <-chan model.Tick, n int) []model.Tick {
	t.Helper()
	var got []model.Tick
	timeout := time.After(3 * time.Second)
	for len(got) < n {
		select {
		case tk := <-out:
			got = append(got, tk)
		case <-timeout:
			t.Fatalf("received %d of %d ticks", len(got), n)
		}
	}
	return got
}

func tickServer(t *testing.T, msgs []string) *httptest.Server {
	t.Helper()
	up := websocket.Upgrader{}
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := up.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for _, m := range msgs {
			if err := conn.WriteMessage(websocket.TextMessage, []byte(m)); err != nil {
				return
			}
		}
		// Hold the connection until the client goes away.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestWSSource_StreamsAndFilters(t *testing.T) {
	srv := tickServer(t, []string{
		`{"symbol":"eurusd","price":1.1,"volume":5,"ts":"2024-01-02T09:00:00Z"}`,
		`not json`,
		`{"symbol":"USDJPY","price":150,"volume":1}`,
		`{"symbol":"EURUSD","price":1.2,"volume":6}`,
	})
	defer srv.Close()

	src, err := NewWSSource(WSConfig{URL: wsURL(srv), Symbols: []string{"EURUSD"}}, nil)
	if err != nil {
		t.Fatalf("NewWSSource: %v", err)
	}
	var connected atomic.Int32
	src.OnConnect = func() { connected.Add(1) }

	ctx, cancel := context.WithCancel(context.Background())
	out := make(chan model.Tick, 10)
	errs := make(chan error, 10)
	done := make(chan error, 1)
	go func() { done <- src.Run(ctx, out, errs) }()

	got := collect(t, out, 2)
	if got[0].Symbol != "EURUSD" || got[0].Price != 1.1 {
		t.Errorf("first tick = %+v", got[0])
	}
	if !got[0].TS.Equal(time.Date(2024, 1, 2, 9, 0, 0, 0, time.UTC)) {
		t.Errorf("ts = %v", got[0].TS)
	}
	if got[1].Price != 1.2 || got[1].TS.IsZero() {
		t.Errorf("second tick = %+v", got[1])
	}

	select {
	case err := <-errs:
		var fe *model.FeedError
		if !errors.As(err, &fe) {
			t.Errorf("expected FeedError, got %v", err)
		}
	case <-time.After(time.Second):
		t.Error("parse error not reported")
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	if connected.Load() != 1 {
		t.Errorf("OnConnect called %d times", connected.Load())
	}
}

func TestWSSource_ReportsDisconnect(t *testing.T) {
	src, err := NewWSSource(WSConfig{
		URL:               "ws://127.0.0.1:1/ws",
		ReconnectDelay:    10 * time.Millisecond,
		MaxReconnectDelay: 20 * time.Millisecond,
	}, nil)
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	errs := make(chan error, 100)
	if err := src.Run(ctx, make(chan model.Tick), errs); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(errs) < 2 {
		t.Fatalf("expected repeated reconnect failures, got %d", len(errs))
	}
	var fe *model.FeedError
	if err := <-errs; !errors.As(err, &fe) || fe.Reason != "disconnected" {
		t.Errorf("got %v", err)
	}
}

func TestNewWSSource_RejectsBadURL(t *testing.T) {
	for _, u := range []string{"http://example.com", "://bad"} {
		if _, err := NewWSSource(WSConfig{URL: u}, nil); err == nil {
			t.Errorf("expected error for %q", u)
		}
	}
}

func writeCSV(t *testing.T, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "ticks.csv")
	if err := os.WriteFile(p, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return p
}

func TestCSVSource_Replay(t *testing.T) {
	path := writeCSV(t, `ts,symbol,price,volume,high,low
2024-01-02T09:00:00Z,eurusd,1.1000,10,1.1010,1.0990
1704186001,EURUSD,1.1005,12,,
1704186002000,EURUSD,oops,1,,
2024-01-02T09:00:03Z,EURUSD,1.1010,9,,
`)
	src := NewCSVSource(CSVConfig{Path: path}, nil)
	out := make(chan model.Tick, 10)
	errs := make(chan error, 10)

	if err := src.Run(context.Background(), out, errs); err != nil {
		t.Fatalf("Run: %v", err)
	}
	close(out)

	var got []model.Tick
	for tk := range out {
		got = append(got, tk)
	}
	if len(got) != 3 {
		t.Fatalf("ticks = %d, want 3", len(got))
	}
	if got[0].Symbol != "EURUSD" || got[0].High != 1.1010 || got[0].Low != 1.0990 {
		t.Errorf("first = %+v", got[0])
	}
	if want := time.Unix(1704186001, 0).UTC(); !got[1].TS.Equal(want) {
		t.Errorf("unix ts = %v, want %v", got[1].TS, want)
	}
	if len(errs) != 1 {
		t.Errorf("errors = %d, want 1 for the bad row", len(errs))
	}
}

func TestCSVSource_DefaultSymbolAndSpeed(t *testing.T) {
	path := writeCSV(t, `time,close
2024-01-02T09:00:00Z,100
2024-01-02T09:00:01Z,101
`)
	src := NewCSVSource(CSVConfig{Path: path, Symbol: "btcusd", Speed: 20}, nil)
	out := make(chan model.Tick, 10)

	start := time.Now()
	if err := src.Run(context.Background(), out, nil); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if took := time.Since(start); took < 40*time.Millisecond {
		t.Errorf("speed 20x should wait ~50ms between ticks, took %v", took)
	}
	got := collect(t, out, 2)
	if got[1].Symbol != "BTCUSD" || got[1].Price != 101 {
		t.Errorf("tick = %+v", got[1])
	}
}

func TestCSVSource_Errors(t *testing.T) {
	var fe *model.FeedError

	err := NewCSVSource(CSVConfig{Path: filepath.Join(t.TempDir(), "missing.csv")}, nil).
		Run(context.Background(), make(chan model.Tick), nil)
	if !errors.As(err, &fe) {
		t.Errorf("missing file: %v", err)
	}

	path := writeCSV(t, "ts,price\n2024-01-02T09:00:00Z,1\n")
	err = NewCSVSource(CSVConfig{Path: path}, nil).Run(context.Background(), make(chan model.Tick), nil)
	if !errors.As(err, &fe) || !strings.Contains(err.Error(), "symbol") {
		t.Errorf("missing symbol column: %v", err)
	}
}

func TestPollSource(t *testing.T) {
	var calls atomic.Int32
	q := QuoterFunc(func(ctx context.Context, symbol string) (model.Tick, error) {
		n := calls.Add(1)
		if symbol == "BAD" {
			return model.Tick{}, errors.New("no such symbol")
		}
		return model.Tick{Price: 100 + float64(n), Volume: 1, TS: time.Now().UTC()}, nil
	})

	src := NewPollSource(q, []string{"AAA", "BAD"}, 10*time.Millisecond, nil)
	ctx, cancel := context.WithCancel(context.Background())
	out := make(chan model.Tick, 10)
	errs := make(chan error, 10)
	done := make(chan error, 1)
	go func() { done <- src.Run(ctx, out, errs) }()

	got := collect(t, out, 3)
	cancel()
	if err := <-done; err != nil {
		t.Errorf("Run: %v", err)
	}

	for _, tk := range got {
		if tk.Symbol != "AAA" {
			t.Errorf("symbol not filled in: %+v", tk)
		}
	}
	var fe *model.FeedError
	if err := <-errs; !errors.As(err, &fe) || fe.Symbol != "BAD" {
		t.Errorf("got %v", err)
	}
}

func TestNewPollSource_DefaultInterval(t *testing.T) {
	if p := NewPollSource(YahooQuoter{}, nil, 0, nil); p.interval != DefaultPollInterval {
		t.Errorf("interval = %v", p.interval)
	}
}

func TestYahooSymbol(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"EURUSD", "EURUSD=X"},
		{"usdjpy", "USDJPY=X"},
		{"XAUUSD", "XAUUSD=X"},
		{"GBPUSD=X", "GBPUSD=X"},
		{"AAPL", "AAPL"},
		{"BTC-USD", "BTC-USD"},
		{"ABCDEF", "ABCDEF"},
		{"GOOGLE", "GOOGLE"},
	}
	for _, tt := range tests {
		if got := YahooSymbol(tt.in); got != tt.want {
			t.Errorf("YahooSymbol(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
