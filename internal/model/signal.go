package model

import "time"

// Signal is the discrete directional output of the aggregator.
type Signal string

const (
	StrongBuy  Signal = "STRONG_BUY"
	Buy        Signal = "BUY"
	Neutral    Signal = "NEUTRAL"
	Sell       Signal = "SELL"
	StrongSell Signal = "STRONG_SELL"
)

// IsBuy reports whether s belongs to the buy family.
func (s Signal) IsBuy() bool { return s == Buy || s == StrongBuy }

// IsSell reports whether s belongs to the sell family.
func (s Signal) IsSell() bool { return s == Sell || s == StrongSell }

// Direction returns +1 for buys, -1 for sells and 0 for Neutral.
func (s Signal) Direction() int {
	switch {
	case s.IsBuy():
		return 1
	case s.IsSell():
		return -1
	}
	return 0
}

// Valid reports whether s is one of the five known signals.
func (s Signal) Valid() bool {
	switch s {
	case StrongBuy, Buy, Neutral, Sell, StrongSell:
		return true
	}
	return false
}

// Gauge maps the signal onto -2..+2 for metrics.
func (s Signal) Gauge() float64 {
	switch s {
	case StrongBuy:
		return 2
	case Buy:
		return 1
	case Sell:
		return -1
	case StrongSell:
		return -2
	}
	return 0
}

// SignalState is the cross-tick signal memory of one symbol.
type SignalState struct {
	Current          Signal    `json:"current"`
	Previous         Signal    `json:"previous"`
	LastTransitionAt time.Time `json:"last_transition_at"`
}

// NewSignalState returns the state a freshly started pipeline begins with.
func NewSignalState() SignalState {
	return SignalState{Current: Neutral, Previous: Neutral}
}

// Apply records next as the current signal when it differs from the
// current one. It returns true only for an actual transition; a repeated
// signal leaves the state untouched.
func (st *SignalState) Apply(next Signal, at time.Time) bool {
	if next == st.Current {
		return false
	}
	st.Previous = st.Current
	st.Current = next
	st.LastTransitionAt = at
	return true
}
