// Package strategy turns an indicator snapshot into a composite score and a
// five-level signal.
//
// Four independent sub-scores in {-1, 0, +1} (trend, momentum, volume,
// support/resistance) are averaged into the composite, which is then mapped
// onto StrongBuy..StrongSell. The aggregator is stateless; hysteresis is
// applied by the caller through model.SignalState.
package strategy

import (
	"fmt"

	"signal-engine/internal/model"
)

// Thresholds holds every cut-off the aggregator uses.
type Thresholds struct {
	ADXStrong        float64 `json:"adx_strong" yaml:"adx_strong"`
	ADXWeak          float64 `json:"adx_weak" yaml:"adx_weak"`
	MinTrendStrength float64 `json:"min_trend_strength" yaml:"min_trend_strength"`
	RSIOversold      float64 `json:"rsi_oversold" yaml:"rsi_oversold"`
	RSIOverbought    float64 `json:"rsi_overbought" yaml:"rsi_overbought"`
	VolumeRatio      float64 `json:"volume_ratio" yaml:"volume_ratio"`

	StrongBuy  float64 `json:"strong_buy" yaml:"strong_buy"`
	Buy        float64 `json:"buy" yaml:"buy"`
	StrongSell float64 `json:"strong_sell" yaml:"strong_sell"`
	Sell       float64 `json:"sell" yaml:"sell"`
}

// DefaultThresholds returns the standard cut-offs.
func DefaultThresholds() Thresholds {
	return Thresholds{
		ADXStrong:        25,
		ADXWeak:          20,
		MinTrendStrength: 25,
		RSIOversold:      30,
		RSIOverbought:    70,
		VolumeRatio:      1.2,
		StrongBuy:        0.8,
		Buy:              0.3,
		StrongSell:       -0.8,
		Sell:             -0.3,
	}
}

// Validate checks the thresholds for inconsistent cut-offs.
func (t Thresholds) Validate() error {
	switch {
	case t.ADXWeak > t.ADXStrong:
		return fmt.Errorf("adx weak %v above adx strong %v", t.ADXWeak, t.ADXStrong)
	case t.RSIOversold >= t.RSIOverbought:
		return fmt.Errorf("rsi oversold %v must be below overbought %v", t.RSIOversold, t.RSIOverbought)
	case t.VolumeRatio <= 0:
		return fmt.Errorf("invalid volume ratio threshold %v", t.VolumeRatio)
	case !(t.StrongBuy >= t.Buy && t.Buy >= 0 && 0 >= t.Sell && t.Sell >= t.StrongSell):
		return fmt.Errorf("score cut-offs must satisfy strong_sell <= sell <= 0 <= buy <= strong_buy")
	}
	return nil
}

// Scores are the four sub-scores behind one evaluation.
type Scores struct {
	Trend             float64 `json:"trend"`
	Momentum          float64 `json:"momentum"`
	Volume            float64 `json:"volume"`
	SupportResistance float64 `json:"support_resistance"`
}

// Composite is the arithmetic mean of the four sub-scores.
func (s Scores) Composite() float64 {
	return (s.Trend + s.Momentum + s.Volume + s.SupportResistance) / 4
}

// Evaluation is the result of aggregating one snapshot.
type Evaluation struct {
	Scores    Scores       `json:"scores"`
	Composite float64      `json:"composite"`
	Signal    model.Signal `json:"signal"`
}

// Aggregator maps snapshots to signals.
type Aggregator struct {
	th Thresholds
}

// NewAggregator creates an aggregator with validated thresholds.
func NewAggregator(th Thresholds) (*Aggregator, error) {
	if err := th.Validate(); err != nil {
		return nil, fmt.Errorf("thresholds: %w", err)
	}
	return &Aggregator{th: th}, nil
}

// Thresholds returns the aggregator's cut-offs.
func (a *Aggregator) Thresholds() Thresholds { return a.th }

// Evaluate scores s and maps the composite onto a signal.
func (a *Aggregator) Evaluate(s model.Snapshot) Evaluation {
	sc := Scores{
		Trend:             a.trendScore(s),
		Momentum:          a.momentumScore(s),
		Volume:            a.volumeScore(s),
		SupportResistance: supportResistanceScore(s),
	}
	c := sc.Composite()
	return Evaluation{Scores: sc, Composite: c, Signal: a.Map(c)}
}

// Map converts a composite score into a signal. First match wins.
func (a *Aggregator) Map(score float64) model.Signal {
	switch {
	case score > a.th.StrongBuy:
		return model.StrongBuy
	case score > a.th.Buy:
		return model.Buy
	case score < a.th.StrongSell:
		return model.StrongSell
	case score < a.th.Sell:
		return model.Sell
	}
	return model.Neutral
}

func (a *Aggregator) trendScore(s model.Snapshot) float64 {
	switch {
	case s.ADX > a.th.ADXStrong && s.TrendStrength > a.th.MinTrendStrength:
		return 1
	case s.ADX < a.th.ADXWeak || s.TrendStrength < a.th.MinTrendStrength:
		return -1
	}
	return 0
}

func (a *Aggregator) momentumScore(s model.Snapshot) float64 {
	rsi := 0.0
	switch {
	case s.RSI < a.th.RSIOversold:
		rsi = 1
	case s.RSI > a.th.RSIOverbought:
		rsi = -1
	}
	macd := 0.0
	switch {
	case s.MACDLine > s.MACDSignal:
		macd = 1
	case s.MACDLine < s.MACDSignal:
		macd = -1
	}
	return (rsi + macd) / 2
}

func (a *Aggregator) volumeScore(s model.Snapshot) float64 {
	switch {
	case s.VolumeRatio > a.th.VolumeRatio:
		return 1
	case s.VolumeRatio < 1/a.th.VolumeRatio:
		return -1
	}
	return 0
}

func supportResistanceScore(s model.Snapshot) float64 {
	switch {
	case s.Price < s.SupportLevel:
		return 1
	case s.Price > s.ResistanceLevel:
		return -1
	}
	return 0
}
