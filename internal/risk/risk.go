// Package risk derives stop-loss and take-profit levels from a directional
// signal and the current volatility (ATR).
package risk

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"signal-engine/internal/model"
)

// ErrNeutralSignal is returned when asked for levels on a Neutral signal.
var ErrNeutralSignal = errors.New("risk: no levels for a neutral signal")

// Config holds the ATR multipliers and sizing limits.
type Config struct {
	StopLossATR   float64 `json:"stop_loss_atr" yaml:"stop_loss_atr"`
	TakeProfitATR float64 `json:"take_profit_atr" yaml:"take_profit_atr"`

	// MaxRiskFraction is the share of equity risked per trade (0.02 = 2%).
	MaxRiskFraction float64 `json:"max_risk_fraction" yaml:"max_risk_fraction"`

	// Precision rounds levels to this many decimals. 0 disables rounding.
	Precision int32 `json:"precision" yaml:"precision"`
}

// DefaultConfig returns the standard 1.5/2.5 ATR multipliers and 2% risk.
func DefaultConfig() Config {
	return Config{
		StopLossATR:     1.5,
		TakeProfitATR:   2.5,
		MaxRiskFraction: 0.02,
	}
}

// Validate checks the configuration for errors.
func (c Config) Validate() error {
	if c.StopLossATR <= 0 || c.TakeProfitATR <= 0 {
		return fmt.Errorf("atr multipliers must be positive (stop=%v take=%v)", c.StopLossATR, c.TakeProfitATR)
	}
	if c.MaxRiskFraction < 0 || c.MaxRiskFraction > 1 {
		return fmt.Errorf("max risk fraction %v outside [0, 1]", c.MaxRiskFraction)
	}
	if c.Precision < 0 {
		return fmt.Errorf("invalid precision %d", c.Precision)
	}
	return nil
}

// Calculator is a pure function of (price, atr, signal) over its config.
// Arithmetic is done in decimal so configured multipliers produce exact
// levels for decimal prices.
type Calculator struct {
	cfg        Config
	stopMult   decimal.Decimal
	profitMult decimal.Decimal
}

// NewCalculator creates a Calculator with a validated config.
func NewCalculator(cfg Config) (*Calculator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("risk config: %w", err)
	}
	return &Calculator{
		cfg:        cfg,
		stopMult:   decimal.NewFromFloat(cfg.StopLossATR),
		profitMult: decimal.NewFromFloat(cfg.TakeProfitATR),
	}, nil
}

// Config returns the calculator configuration.
func (c *Calculator) Config() Config { return c.cfg }

// Levels returns stop-loss and take-profit for sig. Buy-family signals put
// the stop below and the target above the price; sell-family mirror that.
func (c *Calculator) Levels(price, atr float64, sig model.Signal) (model.RiskParameters, error) {
	if sig.Direction() == 0 {
		return model.RiskParameters{}, ErrNeutralSignal
	}
	if price <= 0 || atr < 0 {
		return model.RiskParameters{}, fmt.Errorf("risk: invalid inputs price=%v atr=%v", price, atr)
	}

	p := decimal.NewFromFloat(price)
	a := decimal.NewFromFloat(atr)
	stopDist := a.Mul(c.stopMult)
	profitDist := a.Mul(c.profitMult)

	var stop, target decimal.Decimal
	if sig.IsBuy() {
		stop, target = p.Sub(stopDist), p.Add(profitDist)
	} else {
		stop, target = p.Add(stopDist), p.Sub(profitDist)
	}
	if c.cfg.Precision > 0 {
		stop = stop.Round(c.cfg.Precision)
		target = target.Round(c.cfg.Precision)
	}
	return model.RiskParameters{
		StopLoss:   stop.InexactFloat64(),
		TakeProfit: target.InexactFloat64(),
	}, nil
}

// PositionSize returns the quantity that loses MaxRiskFraction of equity
// when the stop is hit. Returns 0 when entry and stop coincide.
func (c *Calculator) PositionSize(equity, entry, stop float64) float64 {
	dist := decimal.NewFromFloat(entry).Sub(decimal.NewFromFloat(stop)).Abs()
	if dist.IsZero() || equity <= 0 {
		return 0
	}
	budget := decimal.NewFromFloat(equity).Mul(decimal.NewFromFloat(c.cfg.MaxRiskFraction))
	return budget.Div(dist).InexactFloat64()
}
