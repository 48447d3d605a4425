package history

import (
	"testing"
	"time"

	"signal-engine/internal/model"
)

func tick(price, volume float64) model.Tick {
	return model.Tick{Symbol: "EURUSD", Price: price, Volume: volume, TS: time.Unix(0, 0).UTC()}
}

func TestHistory_PushKeepsSequencesAligned(t *testing.T) {
	h := New(3)
	for i := 1; i <= 5; i++ {
		h.Push(tick(float64(i), float64(i*10)))
		if len(h.Window(10)) != len(h.VolumeWindow(10)) {
			t.Fatalf("push %d: price/volume lengths diverged", i)
		}
	}

	if h.Len() != 3 {
		t.Fatalf("expected len=3, got %d", h.Len())
	}
	prices := h.Window(3)
	volumes := h.VolumeWindow(3)
	for i, want := range []float64{3, 4, 5} {
		if prices[i] != want {
			t.Errorf("price[%d]: expected %v, got %v", i, want, prices[i])
		}
		if volumes[i] != want*10 {
			t.Errorf("volume[%d]: expected %v, got %v", i, want*10, volumes[i])
		}
	}
}

func TestHistory_WindowShorterThanRequested(t *testing.T) {
	h := New(100)
	h.Push(tick(1.1, 5))
	h.Push(tick(1.2, 6))

	got := h.Window(20)
	if len(got) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(got))
	}
	if got[0] != 1.1 || got[1] != 1.2 {
		t.Fatalf("expected chronological order, got %v", got)
	}
}

func TestHistory_UndoRestoresEvicted(t *testing.T) {
	h := New(3)
	for i := 1; i <= 3; i++ {
		h.Push(tick(float64(i), float64(i*10)))
	}
	h.Push(tick(1e308, 1))
	if !h.Undo() {
		t.Fatal("Undo should revert the last push")
	}

	prices, volumes := h.Window(3), h.VolumeWindow(3)
	for i, want := range []float64{1, 2, 3} {
		if prices[i] != want || volumes[i] != want*10 {
			t.Fatalf("entry %d: expected %v/%v, got %v/%v", i, want, want*10, prices[i], volumes[i])
		}
	}
	if p, _, _ := h.Latest(); p != 3 {
		t.Fatalf("expected latest=3 after undo, got %v", p)
	}
}

func TestHistory_LatestAndReset(t *testing.T) {
	h := New(0)
	if h.Cap() != DefaultCapacity {
		t.Fatalf("expected default capacity %d, got %d", DefaultCapacity, h.Cap())
	}
	if _, _, ok := h.Latest(); ok {
		t.Fatal("Latest on empty history should return false")
	}

	h.Push(tick(2, 3))
	p, v, ok := h.Latest()
	if !ok || p != 2 || v != 3 {
		t.Fatalf("expected (2, 3, true), got (%v, %v, %v)", p, v, ok)
	}

	h.Reset()
	if h.Len() != 0 {
		t.Fatalf("expected empty history after reset, got %d", h.Len())
	}
}
