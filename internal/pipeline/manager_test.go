package pipeline

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"signal-engine/internal/model"
	"signal-engine/internal/strategy"
)

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func seqOf(m *Manager, sym string) int64 {
	p, ok := m.Latest(sym)
	if !ok {
		return 0
	}
	return p.Seq
}

func TestManager_RoutesBySymbol(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	m, err := NewManager(ctx, testConfig(t, strategy.DefaultThresholds()))
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	defer m.Shutdown()

	for _, sym := range []string{"GBPUSD", "EURUSD"} {
		if err := m.Track(sym); err != nil {
			t.Fatalf("Track %s: %v", sym, err)
		}
	}
	if err := m.Track("EURUSD"); !errors.Is(err, ErrAlreadyRunning) {
		t.Errorf("duplicate Track: %v", err)
	}
	if got := m.Symbols(); !reflect.DeepEqual(got, []string{"EURUSD", "GBPUSD"}) {
		t.Errorf("Symbols = %v", got)
	}

	for i := 0; i < 30; i++ {
		m.Dispatch(ctx, tick("EURUSD", 1.1+float64(i)*0.001, 10, i))
		if i%3 == 0 {
			m.Dispatch(ctx, tick("GBPUSD", 1.3, 10, i))
		}
	}

	waitFor(t, "EURUSD seq 30", func() bool { return seqOf(m, "EURUSD") == 30 })
	waitFor(t, "GBPUSD seq 10", func() bool { return seqOf(m, "GBPUSD") == 10 })

	eur, _ := m.Latest("EURUSD")
	if eur.Snapshot.Symbol != "EURUSD" || eur.Snapshot.Price < 1.12 {
		t.Errorf("EURUSD latest = %+v", eur.Snapshot)
	}
	if all := m.LatestAll(); len(all) != 2 || all[0].Snapshot.Symbol != "EURUSD" {
		t.Errorf("LatestAll = %d entries", len(all))
	}
}

func TestManager_UntrackedSymbol(t *testing.T) {
	ctx := context.Background()
	m, err := NewManager(ctx, testConfig(t, strategy.DefaultThresholds()))
	if err != nil {
		t.Fatal(err)
	}
	defer m.Shutdown()

	err = m.Dispatch(ctx, tick("USDJPY", 150, 1, 0))
	var fe *model.FeedError
	if !errors.As(err, &fe) || fe.Symbol != "USDJPY" {
		t.Fatalf("got %v, want FeedError for USDJPY", err)
	}
	select {
	case got := <-m.Errors():
		if !errors.As(got, &fe) {
			t.Errorf("error channel carried %v", got)
		}
	default:
		t.Error("expected error on shared channel")
	}

	if err := m.Untrack("USDJPY"); !errors.Is(err, ErrNotRunning) {
		t.Errorf("Untrack unknown: %v", err)
	}
}

func TestManager_AutoTrackAndUntrack(t *testing.T) {
	ctx := context.Background()
	m, err := NewManager(ctx, testConfig(t, strategy.DefaultThresholds()), WithAutoTrack(), WithQueueSize(8))
	if err != nil {
		t.Fatal(err)
	}
	defer m.Shutdown()

	if err := m.Dispatch(ctx, tick("XAUUSD", 2000, 1, 0)); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	waitFor(t, "auto-tracked publication", func() bool { return seqOf(m, "XAUUSD") == 1 })

	if err := m.Untrack("XAUUSD"); err != nil {
		t.Fatalf("Untrack: %v", err)
	}
	if _, ok := m.Latest("XAUUSD"); ok {
		t.Error("untracked symbol still reports a publication")
	}
	if len(m.Symbols()) != 0 {
		t.Errorf("Symbols = %v", m.Symbols())
	}
}

func TestManager_SharedAlertsAndSubscribe(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	m, err := NewManager(ctx, testConfig(t, trendFriendly()), WithAutoTrack())
	if err != nil {
		t.Fatal(err)
	}
	sub := m.Subscribe()

	ticks := make(chan model.Tick, 200)
	for _, sym := range []string{"AAA", "BBB"} {
		for i := 0; i < 60; i++ {
			ticks <- tick(sym, 100, 100, i)
		}
		ticks <- tick(sym, 90, 1000, 60)
	}
	close(ticks)

	runDone := make(chan error, 1)
	go func() { runDone <- m.Run(ctx, ticks) }()

	got := map[string]model.Signal{}
	timeout := time.After(3 * time.Second)
	for len(got) < 2 {
		select {
		case ev := <-m.Alerts():
			got[ev.Key()] = ev.Signal
		case <-timeout:
			t.Fatalf("alerts so far: %v", got)
		}
	}
	if got["AAA"] != model.Buy || got["BBB"] != model.Buy {
		t.Errorf("alerts = %v, want BUY for both", got)
	}

	select {
	case p := <-sub:
		if p.Snapshot.Symbol != "AAA" && p.Snapshot.Symbol != "BBB" {
			t.Errorf("unexpected publication %+v", p)
		}
	case <-time.After(time.Second):
		t.Fatal("subscriber received nothing")
	}

	select {
	case err := <-runDone:
		if err != nil {
			t.Errorf("Run: %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("Run did not return after input closed")
	}
}
