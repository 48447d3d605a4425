package indicator

import "math"

// bar is the part of an observation the range-based indicators need.
type bar struct {
	close float64
	high  float64
	low   float64
}

// trueRange returns the true range of cur against prev. Close-only bars
// (high == low == close) degrade to the absolute close delta.
func trueRange(prev, cur bar) float64 {
	return math.Max(cur.high-cur.low,
		math.Max(math.Abs(cur.high-prev.close), math.Abs(cur.low-prev.close)))
}

// ATR is the Wilder-smoothed average true range.
type ATR struct {
	avg *SMMA
}

// NewATR creates an ATR with the given period.
func NewATR(period int) *ATR {
	return &ATR{avg: NewSMMA(period)}
}

// Update feeds the true range of the next step.
func (a *ATR) Update(tr float64) { a.avg.Update(tr) }

// Value returns the ATR, or the mean of the true ranges seen so far while
// the seed window is still filling.
func (a *ATR) Value() float64 { return a.avg.Partial() }

// Ready returns true once the seed window is full.
func (a *ATR) Ready() bool { return a.avg.Ready() }

func (a *ATR) copyFrom(src *ATR) { *a.avg = *src.avg }

// Reset clears the ATR state.
func (a *ATR) Reset() { a.avg.Reset() }
