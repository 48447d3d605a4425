package indicator

import "signal-engine/internal/model"

// State is the recursive indicator memory of one symbol. It is owned by a
// single pipeline and must not be shared across goroutines.
type State struct {
	Symbol string

	macd *MACD
	atr  *ATR
	dmi  *DMI

	prev    bar
	hasPrev bool
}

// Update advances every recursive indicator by the observation t.
func (s *State) Update(t model.Tick) {
	cur := bar{close: t.Price, high: t.Price, low: t.Price}
	if t.HasRange() {
		cur.high, cur.low = t.High, t.Low
	}
	s.macd.Update(t.Price)

	if s.hasPrev {
		tr := trueRange(s.prev, cur)
		s.atr.Update(tr)
		s.dmi.Update(s.prev, cur, tr)
	}
	s.prev = cur
	s.hasPrev = true
}

// CopyTo overwrites dst with the contents of s without allocating. Both
// states must come from the same Engine.
func (s *State) CopyTo(dst *State) {
	dst.Symbol = s.Symbol
	dst.macd.copyFrom(s.macd)
	dst.atr.copyFrom(s.atr)
	dst.dmi.copyFrom(s.dmi)
	dst.prev = s.prev
	dst.hasPrev = s.hasPrev
}

// Ready reports whether every recursive indicator is past its warm-up.
func (s *State) Ready() bool {
	return s.macd.Ready() && s.atr.Ready() && s.dmi.Ready()
}

// Reset clears the state so the symbol starts over.
func (s *State) Reset() {
	s.macd.Reset()
	s.atr.Reset()
	s.dmi.Reset()
	s.prev = bar{}
	s.hasPrev = false
}
