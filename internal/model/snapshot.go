package model

import (
	"encoding/json"
	"math"
	"time"
)

// Snapshot is the full indicator state computed for one tick. It is a value
// type: once built it is never mutated, so it can be handed to observers
// without copying concerns.
type Snapshot struct {
	Symbol          string    `json:"symbol"`
	Price           float64   `json:"price"`
	Volume          float64   `json:"volume"`
	RSI             float64   `json:"rsi"`
	MACDLine        float64   `json:"macd_line"`
	MACDSignal      float64   `json:"macd_signal"`
	UpperBand       float64   `json:"upper_band"`
	MiddleBand      float64   `json:"middle_band"`
	LowerBand       float64   `json:"lower_band"`
	ATR             float64   `json:"atr"`
	ADX             float64   `json:"adx"`
	TrendStrength   float64   `json:"trend_strength"`
	SupportLevel    float64   `json:"support_level"`
	ResistanceLevel float64   `json:"resistance_level"`
	VolumeRatio     float64   `json:"volume_ratio"`
	TS              time.Time `json:"ts"`
}

// Finite reports whether every numeric field is a finite number.
func (s *Snapshot) Finite() bool {
	for _, v := range [...]float64{
		s.Price, s.Volume, s.RSI, s.MACDLine, s.MACDSignal,
		s.UpperBand, s.MiddleBand, s.LowerBand, s.ATR, s.ADX,
		s.TrendStrength, s.SupportLevel, s.ResistanceLevel, s.VolumeRatio,
	} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

// JSON returns the JSON-encoded snapshot.
func (s *Snapshot) JSON() []byte {
	b, _ := json.Marshal(s)
	return b
}

// Published is what observers see after every processed tick: the latest
// snapshot, the signal it mapped to and the signal state after hysteresis.
// Seq increases by one per published tick for a given symbol.
type Published struct {
	Snapshot Snapshot    `json:"snapshot"`
	Signal   Signal      `json:"signal"`
	Score    float64     `json:"score"`
	State    SignalState `json:"state"`
	Seq      int64       `json:"seq"`

	// NextEvalAt is when the next tick is due, zero when the cadence is
	// unknown.
	NextEvalAt time.Time `json:"next_eval_at"`
}

// JSON returns the JSON-encoded publication.
func (p *Published) JSON() []byte {
	b, _ := json.Marshal(p)
	return b
}
