package strategy

import (
	"math"
	"testing"
	"time"

	"signal-engine/internal/model"
)

func newAgg(t *testing.T) *Aggregator {
	t.Helper()
	a, err := NewAggregator(DefaultThresholds())
	if err != nil {
		t.Fatalf("NewAggregator: %v", err)
	}
	return a
}

// neutralSnap scores 0 on momentum, volume and S/R and 0 on trend.
func neutralSnap() model.Snapshot {
	return model.Snapshot{
		Symbol: "EURUSD", Price: 1.1,
		RSI: 50, ADX: 25, TrendStrength: 25,
		SupportLevel: 1.0, ResistanceLevel: 1.2,
		VolumeRatio: 1,
	}
}

func TestAggregator_SubScores(t *testing.T) {
	a := newAgg(t)
	cases := []struct {
		name string
		mod  func(s *model.Snapshot)
		want Scores
	}{
		{"neutral", func(s *model.Snapshot) {}, Scores{}},
		{"strong trend", func(s *model.Snapshot) { s.ADX, s.TrendStrength = 30, 30 }, Scores{Trend: 1}},
		{"weak adx", func(s *model.Snapshot) { s.ADX = 15 }, Scores{Trend: -1}},
		{"adx strong but weak strength", func(s *model.Snapshot) { s.ADX, s.TrendStrength = 30, 20 }, Scores{Trend: -1}},
		{"oversold", func(s *model.Snapshot) { s.RSI = 20 }, Scores{Momentum: 0.5}},
		{"overbought + bearish macd", func(s *model.Snapshot) { s.RSI, s.MACDLine = 80, -0.1 }, Scores{Momentum: -1}},
		{"bullish macd", func(s *model.Snapshot) { s.MACDLine, s.MACDSignal = 0.2, 0.1 }, Scores{Momentum: 0.5}},
		{"volume spike", func(s *model.Snapshot) { s.VolumeRatio = 1.5 }, Scores{Volume: 1}},
		{"volume dry", func(s *model.Snapshot) { s.VolumeRatio = 0.5 }, Scores{Volume: -1}},
		{"below support", func(s *model.Snapshot) { s.Price = 0.9 }, Scores{SupportResistance: 1}},
		{"above resistance", func(s *model.Snapshot) { s.Price = 1.3 }, Scores{SupportResistance: -1}},
	}
	for _, tc := range cases {
		s := neutralSnap()
		tc.mod(&s)
		got := a.Evaluate(s).Scores
		if got != tc.want {
			t.Errorf("%s: got %+v, want %+v", tc.name, got, tc.want)
		}
	}
}

func TestAggregator_Map(t *testing.T) {
	a := newAgg(t)
	cases := []struct {
		score float64
		want  model.Signal
	}{
		{1, model.StrongBuy},
		{0.81, model.StrongBuy},
		{0.8, model.Buy},
		{0.5, model.Buy},
		{0.3, model.Neutral},
		{0, model.Neutral},
		{-0.3, model.Neutral},
		{-0.5, model.Sell},
		{-0.8, model.Sell},
		{-0.85, model.StrongSell},
		{-1, model.StrongSell},
	}
	for _, tc := range cases {
		if got := a.Map(tc.score); got != tc.want {
			t.Errorf("Map(%v) = %s, want %s", tc.score, got, tc.want)
		}
	}
}

func TestAggregator_FullBullAndBear(t *testing.T) {
	a := newAgg(t)

	bull := model.Snapshot{
		Price: 0.9, RSI: 20, MACDLine: 0.2, MACDSignal: 0.1,
		ADX: 40, TrendStrength: 40, VolumeRatio: 2,
		SupportLevel: 1.0, ResistanceLevel: 1.2,
	}
	ev := a.Evaluate(bull)
	if ev.Signal != model.StrongBuy || math.Abs(ev.Composite-1) > 1e-12 {
		t.Fatalf("expected StrongBuy with score 1, got %s %.3f", ev.Signal, ev.Composite)
	}

	bear := model.Snapshot{
		Price: 1.3, RSI: 80, MACDLine: -0.2, MACDSignal: -0.1,
		ADX: 10, TrendStrength: 10, VolumeRatio: 0.5,
		SupportLevel: 1.0, ResistanceLevel: 1.2,
	}
	ev = a.Evaluate(bear)
	if ev.Signal != model.StrongSell || math.Abs(ev.Composite+1) > 1e-12 {
		t.Fatalf("expected StrongSell with score -1, got %s %.3f", ev.Signal, ev.Composite)
	}
}

func TestAggregator_WarmupSnapshotIsNeutral(t *testing.T) {
	// What a constant-price feed settles on: ADX 0, everything else neutral.
	a := newAgg(t)
	s := model.Snapshot{Price: 1.1, RSI: 50, SupportLevel: 1.1, ResistanceLevel: 1.1, VolumeRatio: 1}
	ev := a.Evaluate(s)
	if ev.Signal != model.Neutral {
		t.Fatalf("expected Neutral, got %s (score %.3f)", ev.Signal, ev.Composite)
	}
}

func TestHysteresis_SingleTransitionPerBucket(t *testing.T) {
	a := newAgg(t)
	st := model.NewSignalState()
	bull := model.Snapshot{
		Price: 0.9, RSI: 20, MACDLine: 0.2, ADX: 40, TrendStrength: 40,
		VolumeRatio: 2, SupportLevel: 1.0, ResistanceLevel: 1.2,
	}

	transitions := 0
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 10; i++ {
		if st.Apply(a.Evaluate(bull).Signal, base.Add(time.Duration(i)*time.Second)) {
			transitions++
		}
	}
	if transitions != 1 {
		t.Fatalf("expected exactly one transition, got %d", transitions)
	}
	if st.Current != model.StrongBuy || st.Previous != model.Neutral {
		t.Fatalf("unexpected state %+v", st)
	}
	if !st.LastTransitionAt.Equal(base) {
		t.Fatalf("expected transition time of first tick, got %v", st.LastTransitionAt)
	}
}

func TestThresholds_Validate(t *testing.T) {
	if err := DefaultThresholds().Validate(); err != nil {
		t.Fatalf("defaults should validate: %v", err)
	}
	bad := DefaultThresholds()
	bad.RSIOversold = 80
	if _, err := NewAggregator(bad); err == nil {
		t.Error("expected error for oversold above overbought")
	}
	bad = DefaultThresholds()
	bad.Buy = 0.9
	if err := bad.Validate(); err == nil {
		t.Error("expected error for buy above strong buy")
	}
	bad = DefaultThresholds()
	bad.VolumeRatio = 0
	if err := bad.Validate(); err == nil {
		t.Error("expected error for zero volume ratio")
	}
}
