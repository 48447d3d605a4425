package model

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// RiskParameters are the protective levels attached to a directional signal.
type RiskParameters struct {
	StopLoss   float64 `json:"stop_loss"`
	TakeProfit float64 `json:"take_profit"`
}

// AlertEvent is handed to the notification sinks on every signal transition.
// Risk is nil when the transition lands on Neutral.
type AlertEvent struct {
	ID        string          `json:"id"`
	Signal    Signal          `json:"signal"`
	Previous  Signal          `json:"previous"`
	Score     float64         `json:"score"`
	Snapshot  Snapshot        `json:"snapshot"`
	Risk      *RiskParameters `json:"risk,omitempty"`
	EmittedAt time.Time       `json:"emitted_at"`
}

// NewAlertEvent builds an alert with a fresh random ID.
func NewAlertEvent(sig, prev Signal, score float64, snap Snapshot, rp *RiskParameters, at time.Time) AlertEvent {
	return AlertEvent{
		ID:        uuid.NewString(),
		Signal:    sig,
		Previous:  prev,
		Score:     score,
		Snapshot:  snap,
		Risk:      rp,
		EmittedAt: at,
	}
}

// Key returns the symbol the alert refers to.
func (a *AlertEvent) Key() string {
	return a.Snapshot.Symbol
}

// JSON returns the JSON-encoded alert.
func (a *AlertEvent) JSON() []byte {
	b, _ := json.Marshal(a)
	return b
}

// Subject is a one-line summary suitable for a mail subject or chat title.
func (a *AlertEvent) Subject() string {
	return fmt.Sprintf("%s signal: %s", a.Snapshot.Symbol, a.Signal)
}

// Body renders a plain-text description of the alert.
func (a *AlertEvent) Body() string {
	s := &a.Snapshot
	var b strings.Builder
	fmt.Fprintf(&b, "Signal: %s (was %s, score %.2f)\n", a.Signal, a.Previous, a.Score)
	fmt.Fprintf(&b, "Price: %.5f\n", s.Price)
	if a.Risk != nil {
		fmt.Fprintf(&b, "Stop loss: %.5f\n", a.Risk.StopLoss)
		fmt.Fprintf(&b, "Take profit: %.5f\n", a.Risk.TakeProfit)
	}
	fmt.Fprintf(&b, "RSI: %.2f\n", s.RSI)
	fmt.Fprintf(&b, "MACD: %.5f / %.5f\n", s.MACDLine, s.MACDSignal)
	fmt.Fprintf(&b, "Bollinger: %.5f / %.5f\n", s.UpperBand, s.LowerBand)
	fmt.Fprintf(&b, "ATR: %.5f  ADX: %.2f  Trend: %.2f\n", s.ATR, s.ADX, s.TrendStrength)
	fmt.Fprintf(&b, "Support: %.5f  Resistance: %.5f\n", s.SupportLevel, s.ResistanceLevel)
	fmt.Fprintf(&b, "Volume ratio: %.2f\n", s.VolumeRatio)
	fmt.Fprintf(&b, "Time: %s", a.EmittedAt.UTC().Format(time.RFC3339))
	return b.String()
}
