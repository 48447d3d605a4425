package indicator

import (
	"fmt"
	"time"

	"signal-engine/internal/history"
	"signal-engine/internal/model"
)

// Engine computes indicator snapshots for any number of symbols. It holds
// only the immutable parameter set; all mutable memory lives in the State
// each caller threads through Compute.
type Engine struct {
	params Params
}

// NewEngine creates an indicator engine. Params are validated.
func NewEngine(params Params) (*Engine, error) {
	if err := params.Validate(); err != nil {
		return nil, fmt.Errorf("indicator params: %w", err)
	}
	return &Engine{params: params}, nil
}

// Params returns the engine's parameter set.
func (e *Engine) Params() Params { return e.params }

// NewState creates fresh recursive state for symbol.
func (e *Engine) NewState(symbol string) *State {
	p := e.params
	return &State{
		Symbol: symbol,
		macd:   NewMACD(p.MACDFast, p.MACDSlow, p.MACDSignal),
		atr:    NewATR(p.ATRPeriod),
		dmi:    NewDMI(p.ADXPeriod),
	}
}

// Compute builds the snapshot for the latest observation. The history must
// already contain that observation and st must already have been advanced
// by it.
func (e *Engine) Compute(h *history.History, st *State, ts time.Time) (model.Snapshot, error) {
	price, volume, ok := h.Latest()
	if !ok {
		return model.Snapshot{}, fmt.Errorf("%s: empty history", st.Symbol)
	}
	p := e.params

	lookback := p.LevelLookback
	if lookback <= 0 || lookback > h.Cap() {
		lookback = h.Cap()
	}
	macdLine, macdSignal := st.macd.Values()
	bands := Bollinger(h.Window(p.BollingerPeriod), p.BollingerPeriod, p.BollingerDeviation)
	support, resistance := Levels(h.Window(lookback))
	adx := st.dmi.ADX()

	snap := model.Snapshot{
		Symbol:          st.Symbol,
		Price:           price,
		Volume:          volume,
		RSI:             RSI(h.Window(p.RSIPeriod+1), p.RSIPeriod),
		MACDLine:        macdLine,
		MACDSignal:      macdSignal,
		UpperBand:       bands.Upper,
		MiddleBand:      bands.Middle,
		LowerBand:       bands.Lower,
		ATR:             st.atr.Value(),
		ADX:             adx,
		TrendStrength:   adx * p.TrendStrengthScale,
		SupportLevel:    support,
		ResistanceLevel: resistance,
		VolumeRatio:     VolumeRatio(h.VolumeWindow(p.VolumeRatioPeriod), p.VolumeRatioPeriod),
		TS:              ts,
	}
	if !snap.Finite() {
		return model.Snapshot{}, fmt.Errorf("%s: non-finite indicator value", st.Symbol)
	}
	return snap, nil
}

// Warm returns ErrInsufficientHistory while any indicator is still
// reporting its warm-up default.
func (e *Engine) Warm(h *history.History, st *State) error {
	p := e.params
	need := max(p.RSIPeriod+1, p.BollingerPeriod, p.VolumeRatioPeriod)
	if h.Len() < need || !st.Ready() {
		return fmt.Errorf("%s: %d observations: %w", st.Symbol, h.Len(), ErrInsufficientHistory)
	}
	return nil
}
