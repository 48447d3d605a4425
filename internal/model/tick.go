package model

import (
	"encoding/json"
	"math"
	"time"
)

// MaxValue bounds every tick field. Squared deviations and seed sums over
// any indicator window stay finite below it.
const MaxValue = 1e100

// Tick is a single price/volume observation for one symbol, as delivered by
// the market data feed. High and Low are optional: feeds that only expose a
// last price leave them at zero.
type Tick struct {
	Symbol string    `json:"symbol"`
	Price  float64   `json:"price"`
	Volume float64   `json:"volume"`
	High   float64   `json:"high,omitempty"`
	Low    float64   `json:"low,omitempty"`
	TS     time.Time `json:"ts"` // UTC
}

// HasRange reports whether the tick carries a high/low range.
func (t *Tick) HasRange() bool {
	return t.High > 0 && t.Low > 0
}

// Validate rejects degenerate observations before they reach the history.
func (t *Tick) Validate() error {
	switch {
	case t.Symbol == "":
		return &FeedError{Reason: "empty symbol"}
	case !finite(t.Price) || t.Price <= 0:
		return &FeedError{Symbol: t.Symbol, Reason: "price must be positive and finite"}
	case !finite(t.Volume) || t.Volume < 0:
		return &FeedError{Symbol: t.Symbol, Reason: "volume must be non-negative and finite"}
	case !finite(t.High) || !finite(t.Low) || t.High < 0 || t.Low < 0:
		return &FeedError{Symbol: t.Symbol, Reason: "high/low must be non-negative and finite"}
	case t.Price > MaxValue || t.Volume > MaxValue || t.High > MaxValue:
		return &FeedError{Symbol: t.Symbol, Reason: "value out of range"}
	}
	if t.HasRange() {
		if t.High < t.Low {
			return &FeedError{Symbol: t.Symbol, Reason: "high below low"}
		}
		if t.Price > t.High || t.Price < t.Low {
			return &FeedError{Symbol: t.Symbol, Reason: "price outside high/low range"}
		}
	}
	return nil
}

// JSON returns the JSON-encoded tick (ignoring errors for hot-path usage).
func (t *Tick) JSON() []byte {
	b, _ := json.Marshal(t)
	return b
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
