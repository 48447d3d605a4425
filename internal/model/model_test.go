package model

import (
	"errors"
	"math"
	"strings"
	"testing"
	"time"
)

func TestTick_Validate(t *testing.T) {
	ts := time.Date(2024, 1, 2, 9, 0, 0, 0, time.UTC)
	tests := []struct {
		name string
		tick Tick
		ok   bool
	}{
		{"plain", Tick{Symbol: "EURUSD", Price: 1.1, Volume: 10, TS: ts}, true},
		{"zero volume", Tick{Symbol: "EURUSD", Price: 1.1, TS: ts}, true},
		{"with range", Tick{Symbol: "EURUSD", Price: 1.1, High: 1.2, Low: 1.0, TS: ts}, true},
		{"price on the high", Tick{Symbol: "EURUSD", Price: 1.2, High: 1.2, Low: 1.0}, true},
		{"empty symbol", Tick{Price: 1.1}, false},
		{"zero price", Tick{Symbol: "EURUSD"}, false},
		{"negative price", Tick{Symbol: "EURUSD", Price: -1}, false},
		{"nan price", Tick{Symbol: "EURUSD", Price: math.NaN()}, false},
		{"inf price", Tick{Symbol: "EURUSD", Price: math.Inf(1)}, false},
		{"negative volume", Tick{Symbol: "EURUSD", Price: 1, Volume: -1}, false},
		{"nan volume", Tick{Symbol: "EURUSD", Price: 1, Volume: math.NaN()}, false},
		{"high below low", Tick{Symbol: "EURUSD", Price: 1.1, High: 1.0, Low: 1.2}, false},
		{"price above high", Tick{Symbol: "EURUSD", Price: 1.3, High: 1.2, Low: 1.0}, false},
		{"price below low", Tick{Symbol: "EURUSD", Price: 0.9, High: 1.2, Low: 1.0}, false},
		{"negative low", Tick{Symbol: "EURUSD", Price: 1.1, Low: -1}, false},
		{"price at max", Tick{Symbol: "EURUSD", Price: MaxValue}, true},
		{"huge price", Tick{Symbol: "EURUSD", Price: 1e308}, false},
		{"huge volume", Tick{Symbol: "EURUSD", Price: 1.1, Volume: 1e200}, false},
		{"huge high", Tick{Symbol: "EURUSD", Price: 1.1, High: 1e300, Low: 1.0}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.tick.Validate()
			if tt.ok {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			var fe *FeedError
			if !errors.As(err, &fe) {
				t.Fatalf("expected *FeedError, got %v", err)
			}
		})
	}
}

func TestTick_HasRange(t *testing.T) {
	if (&Tick{Price: 1}).HasRange() {
		t.Error("tick without high/low reports a range")
	}
	if (&Tick{Price: 1, High: 2}).HasRange() {
		t.Error("tick with only high reports a range")
	}
	if !(&Tick{Price: 1, High: 2, Low: 0.5}).HasRange() {
		t.Error("tick with high/low reports no range")
	}
}

func TestSignal_Families(t *testing.T) {
	tests := []struct {
		sig       Signal
		buy, sell bool
		dir       int
		gauge     float64
	}{
		{StrongBuy, true, false, 1, 2},
		{Buy, true, false, 1, 1},
		{Neutral, false, false, 0, 0},
		{Sell, false, true, -1, -1},
		{StrongSell, false, true, -1, -2},
	}
	for _, tt := range tests {
		if tt.sig.IsBuy() != tt.buy || tt.sig.IsSell() != tt.sell {
			t.Errorf("%s: IsBuy=%v IsSell=%v", tt.sig, tt.sig.IsBuy(), tt.sig.IsSell())
		}
		if tt.sig.Direction() != tt.dir {
			t.Errorf("%s: Direction = %d, want %d", tt.sig, tt.sig.Direction(), tt.dir)
		}
		if tt.sig.Gauge() != tt.gauge {
			t.Errorf("%s: Gauge = %v, want %v", tt.sig, tt.sig.Gauge(), tt.gauge)
		}
		if !tt.sig.Valid() {
			t.Errorf("%s reported invalid", tt.sig)
		}
	}
	if Signal("HOLD").Valid() {
		t.Error("unknown signal reported valid")
	}
}

func TestSignalState_Apply(t *testing.T) {
	ts := time.Date(2024, 1, 2, 9, 0, 0, 0, time.UTC)
	st := NewSignalState()
	if st.Current != Neutral || st.Previous != Neutral {
		t.Fatalf("initial state = %+v, want Neutral/Neutral", st)
	}

	if st.Apply(Neutral, ts) {
		t.Error("Neutral -> Neutral reported a transition")
	}
	if !st.LastTransitionAt.IsZero() {
		t.Error("repeat signal touched LastTransitionAt")
	}

	if !st.Apply(Buy, ts) {
		t.Fatal("Neutral -> Buy not reported")
	}
	if st.Current != Buy || st.Previous != Neutral || !st.LastTransitionAt.Equal(ts) {
		t.Errorf("after Buy: %+v", st)
	}

	later := ts.Add(time.Second)
	if st.Apply(Buy, later) {
		t.Error("Buy -> Buy reported a transition")
	}
	if !st.Apply(StrongBuy, later) {
		t.Fatal("Buy -> StrongBuy not reported")
	}
	if st.Previous != Buy || !st.LastTransitionAt.Equal(later) {
		t.Errorf("after StrongBuy: %+v", st)
	}
}

func TestAlertEvent_Text(t *testing.T) {
	ts := time.Date(2024, 1, 2, 9, 0, 0, 0, time.UTC)
	snap := Snapshot{Symbol: "EURUSD", Price: 1.1, RSI: 28.5, ATR: 0.001, TS: ts}

	buy := NewAlertEvent(Buy, Neutral, 0.45, snap, &RiskParameters{StopLoss: 1.0985, TakeProfit: 1.1025}, ts)
	if buy.ID == "" || buy.Key() != "EURUSD" {
		t.Fatalf("ID=%q Key=%q", buy.ID, buy.Key())
	}
	if other := NewAlertEvent(Buy, Neutral, 0.45, snap, nil, ts); other.ID == buy.ID {
		t.Error("alert IDs are not unique")
	}
	if got := buy.Subject(); got != "EURUSD signal: BUY" {
		t.Errorf("Subject = %q", got)
	}
	body := buy.Body()
	for _, want := range []string{"Signal: BUY (was NEUTRAL", "Stop loss: 1.09850", "Take profit: 1.10250", "RSI: 28.50", "2024-01-02T09:00:00Z"} {
		if !strings.Contains(body, want) {
			t.Errorf("Body missing %q:\n%s", want, body)
		}
	}

	neutral := NewAlertEvent(Neutral, Buy, 0.1, snap, nil, ts)
	if strings.Contains(neutral.Body(), "Stop loss") {
		t.Error("neutral alert body carries risk levels")
	}
	if strings.Contains(string(neutral.JSON()), `"risk"`) {
		t.Error("neutral alert JSON carries a risk object")
	}
}

func TestSnapshot_Finite(t *testing.T) {
	s := Snapshot{Price: 1, RSI: 50, VolumeRatio: 1}
	if !s.Finite() {
		t.Fatal("finite snapshot reported non-finite")
	}
	s.ADX = math.NaN()
	if s.Finite() {
		t.Error("NaN ADX not detected")
	}
	s.ADX = 0
	s.UpperBand = math.Inf(1)
	if s.Finite() {
		t.Error("Inf band not detected")
	}
}

func TestErrors_Unwrap(t *testing.T) {
	root := errors.New("boom")
	for _, err := range []error{
		&FeedError{Symbol: "EURUSD", Reason: "disconnected", Err: root},
		&ComputeError{Symbol: "EURUSD", Err: root},
		&NotificationError{Sink: "webhook", AlertID: "a1", Err: root},
	} {
		if !errors.Is(err, root) {
			t.Errorf("%T does not unwrap to the cause", err)
		}
		if !strings.Contains(err.Error(), "boom") {
			t.Errorf("%T message %q lacks the cause", err, err.Error())
		}
	}
	if got := (&FeedError{Reason: "empty symbol"}).Error(); got != "feed: empty symbol" {
		t.Errorf("FeedError without symbol = %q", got)
	}
}
