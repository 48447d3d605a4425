package risk

import (
	"errors"
	"testing"

	"signal-engine/internal/model"
)

func newCalc(t *testing.T, cfg Config) *Calculator {
	t.Helper()
	c, err := NewCalculator(cfg)
	if err != nil {
		t.Fatalf("NewCalculator: %v", err)
	}
	return c
}

func TestLevels_RoundTrip(t *testing.T) {
	c := newCalc(t, DefaultConfig())
	cases := []struct {
		sig        model.Signal
		stop, take float64
	}{
		{model.Buy, 1.0985, 1.1025},
		{model.StrongBuy, 1.0985, 1.1025},
		{model.Sell, 1.1015, 1.0975},
		{model.StrongSell, 1.1015, 1.0975},
	}
	for _, tc := range cases {
		rp, err := c.Levels(1.1000, 0.0010, tc.sig)
		if err != nil {
			t.Fatalf("%s: %v", tc.sig, err)
		}
		if rp.StopLoss != tc.stop || rp.TakeProfit != tc.take {
			t.Errorf("%s: got stop=%v take=%v, want stop=%v take=%v",
				tc.sig, rp.StopLoss, rp.TakeProfit, tc.stop, tc.take)
		}
	}
}

func TestLevels_Neutral(t *testing.T) {
	c := newCalc(t, DefaultConfig())
	if _, err := c.Levels(1.1, 0.001, model.Neutral); !errors.Is(err, ErrNeutralSignal) {
		t.Fatalf("expected ErrNeutralSignal, got %v", err)
	}
}

func TestLevels_InvalidInputs(t *testing.T) {
	c := newCalc(t, DefaultConfig())
	if _, err := c.Levels(0, 0.001, model.Buy); err == nil {
		t.Error("expected error for zero price")
	}
	if _, err := c.Levels(1.1, -1, model.Buy); err == nil {
		t.Error("expected error for negative atr")
	}
}

func TestLevels_CustomMultipliersAndPrecision(t *testing.T) {
	cfg := DefaultConfig()
	cfg.StopLossATR = 1
	cfg.TakeProfitATR = 3
	cfg.Precision = 2
	c := newCalc(t, cfg)

	rp, err := c.Levels(100, 0.333, model.Buy)
	if err != nil {
		t.Fatal(err)
	}
	// 100 - 0.333 = 99.667 -> 99.67; 100 + 0.999 = 100.999 -> 101
	if rp.StopLoss != 99.67 || rp.TakeProfit != 101 {
		t.Fatalf("got %+v", rp)
	}
}

func TestLevels_ZeroATRCollapsesOnPrice(t *testing.T) {
	c := newCalc(t, DefaultConfig())
	rp, err := c.Levels(1.25, 0, model.Sell)
	if err != nil {
		t.Fatal(err)
	}
	if rp.StopLoss != 1.25 || rp.TakeProfit != 1.25 {
		t.Fatalf("expected both levels at price, got %+v", rp)
	}
}

func TestPositionSize(t *testing.T) {
	c := newCalc(t, DefaultConfig())
	// 2% of 10,000 = 200 risked over a 0.0015 stop distance
	got := c.PositionSize(10000, 1.1000, 1.0985)
	want := 200 / 0.0015
	if d := got - want; d > 1e-6 || d < -1e-6 {
		t.Fatalf("expected %.4f, got %.4f", want, got)
	}
	if c.PositionSize(10000, 1.1, 1.1) != 0 {
		t.Error("expected 0 size for zero stop distance")
	}
}

func TestConfig_Validate(t *testing.T) {
	cases := []struct {
		name string
		cfg  Config
		ok   bool
	}{
		{"default", DefaultConfig(), true},
		{"zero stop", Config{StopLossATR: 0, TakeProfitATR: 2.5}, false},
		{"risk above one", Config{StopLossATR: 1, TakeProfitATR: 1, MaxRiskFraction: 2}, false},
		{"negative precision", Config{StopLossATR: 1, TakeProfitATR: 1, Precision: -1}, false},
	}
	for _, tc := range cases {
		if err := tc.cfg.Validate(); (err == nil) != tc.ok {
			t.Errorf("%s: err=%v, want ok=%v", tc.name, err, tc.ok)
		}
	}
}
