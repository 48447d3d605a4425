package indicator

// MACD tracks the fast/slow price EMAs and the signal EMA of their
// difference. The signal EMA only starts receiving values once the slow EMA
// is seeded.
type MACD struct {
	fast   *EMA
	slow   *EMA
	signal *EMA
	line   float64
}

// NewMACD creates a MACD with the given fast, slow and signal periods.
func NewMACD(fast, slow, signal int) *MACD {
	return &MACD{
		fast:   NewEMA(fast),
		slow:   NewEMA(slow),
		signal: NewEMA(signal),
	}
}

// Update feeds the next price.
func (m *MACD) Update(price float64) {
	m.fast.Update(price)
	m.slow.Update(price)
	if !m.slow.Ready() || !m.fast.Ready() {
		return
	}
	m.line = m.fast.Value() - m.slow.Value()
	m.signal.Update(m.line)
}

// Ready returns true once the signal EMA is seeded.
func (m *MACD) Ready() bool { return m.signal.Ready() }

// Values returns the MACD line and signal line together, both 0 until
// Ready.
func (m *MACD) Values() (line, signal float64) {
	if !m.Ready() {
		return 0, 0
	}
	return m.line, m.signal.Value()
}

func (m *MACD) copyFrom(src *MACD) {
	*m.fast = *src.fast
	*m.slow = *src.slow
	*m.signal = *src.signal
	m.line = src.line
}

// Reset clears the MACD state.
func (m *MACD) Reset() {
	m.fast.Reset()
	m.slow.Reset()
	m.signal.Reset()
	m.line = 0
}
