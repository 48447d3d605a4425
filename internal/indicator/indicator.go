// Package indicator computes the per-tick technical indicator snapshot.
//
// Recursive indicators (the MACD EMAs and the Wilder averages behind ATR and
// ADX) keep their state in a per-symbol State that advances by exactly one
// observation per tick. Windowed indicators (RSI, Bollinger Bands,
// support/resistance, volume ratio) are recomputed from the rolling history.
package indicator

import (
	"errors"
	"fmt"
)

// ErrInsufficientHistory is reported while at least one indicator is still
// warming up. It is informational: the affected indicators already report
// their neutral defaults.
var ErrInsufficientHistory = errors.New("insufficient history")

// Smoother is a streaming average fed one value at a time.
type Smoother interface {
	// Update feeds the next value.
	Update(v float64)

	// Value returns the current average. Returns 0 if not enough data.
	Value() float64

	// Ready returns true once the seed window has been filled.
	Ready() bool

	// Reset clears all accumulated state.
	Reset()
}

var (
	_ Smoother = (*EMA)(nil)
	_ Smoother = (*SMMA)(nil)
)

// Params holds every indicator period. Zero values are not valid; start from
// DefaultParams.
type Params struct {
	RSIPeriod          int     `json:"rsi_period" yaml:"rsi_period"`
	MACDFast           int     `json:"macd_fast" yaml:"macd_fast"`
	MACDSlow           int     `json:"macd_slow" yaml:"macd_slow"`
	MACDSignal         int     `json:"macd_signal" yaml:"macd_signal"`
	BollingerPeriod    int     `json:"bollinger_period" yaml:"bollinger_period"`
	BollingerDeviation float64 `json:"bollinger_deviation" yaml:"bollinger_deviation"`
	ATRPeriod          int     `json:"atr_period" yaml:"atr_period"`
	ADXPeriod          int     `json:"adx_period" yaml:"adx_period"`
	VolumeRatioPeriod  int     `json:"volume_ratio_period" yaml:"volume_ratio_period"`

	// LevelLookback is the support/resistance lookback. 0 means the whole
	// history.
	LevelLookback int `json:"level_lookback" yaml:"level_lookback"`

	// TrendStrengthScale converts ADX into the trend strength field.
	TrendStrengthScale float64 `json:"trend_strength_scale" yaml:"trend_strength_scale"`
}

// DefaultParams returns the standard parameter set.
func DefaultParams() Params {
	return Params{
		RSIPeriod:          14,
		MACDFast:           12,
		MACDSlow:           26,
		MACDSignal:         9,
		BollingerPeriod:    20,
		BollingerDeviation: 2.0,
		ATRPeriod:          14,
		ADXPeriod:          14,
		VolumeRatioPeriod:  20,
		TrendStrengthScale: 1.0,
	}
}

// Validate checks the parameter set for errors.
func (p Params) Validate() error {
	periods := []struct {
		name string
		v    int
	}{
		{"rsi", p.RSIPeriod},
		{"macd fast", p.MACDFast},
		{"macd slow", p.MACDSlow},
		{"macd signal", p.MACDSignal},
		{"bollinger", p.BollingerPeriod},
		{"atr", p.ATRPeriod},
		{"adx", p.ADXPeriod},
		{"volume ratio", p.VolumeRatioPeriod},
	}
	for _, pp := range periods {
		if pp.v <= 0 {
			return fmt.Errorf("invalid %s period=%d: must be positive", pp.name, pp.v)
		}
	}
	if p.MACDFast >= p.MACDSlow {
		return fmt.Errorf("macd fast period %d must be below slow period %d", p.MACDFast, p.MACDSlow)
	}
	if p.BollingerPeriod < 2 {
		return fmt.Errorf("bollinger period %d: need at least 2 for a sample deviation", p.BollingerPeriod)
	}
	if p.BollingerDeviation <= 0 {
		return fmt.Errorf("invalid bollinger deviation %v: must be positive", p.BollingerDeviation)
	}
	if p.LevelLookback < 0 {
		return fmt.Errorf("invalid level lookback %d", p.LevelLookback)
	}
	if p.TrendStrengthScale <= 0 {
		return fmt.Errorf("invalid trend strength scale %v: must be positive", p.TrendStrengthScale)
	}
	return nil
}
