package indicator

import "math"

// DMI tracks Wilder's directional movement system and the ADX derived
// from it.
type DMI struct {
	tr      *SMMA
	plusDM  *SMMA
	minusDM *SMMA
	adx     *SMMA

	plusDI  float64
	minusDI float64
}

// NewDMI creates a DMI whose smoothing and ADX averaging both use period.
func NewDMI(period int) *DMI {
	return &DMI{
		tr:      NewSMMA(period),
		plusDM:  NewSMMA(period),
		minusDM: NewSMMA(period),
		adx:     NewSMMA(period),
	}
}

// directionalMovement returns +DM and -DM for the step prev → cur.
func directionalMovement(prev, cur bar) (plus, minus float64) {
	up := cur.high - prev.high
	down := prev.low - cur.low
	if up > down && up > 0 {
		plus = up
	}
	if down > up && down > 0 {
		minus = down
	}
	return plus, minus
}

// Update feeds one step.
func (d *DMI) Update(prev, cur bar, tr float64) {
	plus, minus := directionalMovement(prev, cur)
	d.tr.Update(tr)
	d.plusDM.Update(plus)
	d.minusDM.Update(minus)
	if !d.tr.Ready() {
		return
	}

	d.plusDI, d.minusDI = 0, 0
	if atr := d.tr.Value(); atr > 0 {
		d.plusDI = 100 * d.plusDM.Value() / atr
		d.minusDI = 100 * d.minusDM.Value() / atr
	}

	dx := 0.0
	if sum := d.plusDI + d.minusDI; sum > 0 {
		dx = 100 * math.Abs(d.plusDI-d.minusDI) / sum
	}
	d.adx.Update(dx)
}

// ADX returns the average directional index in [0, 100], 0 until Ready.
func (d *DMI) ADX() float64 {
	if !d.adx.Ready() {
		return 0
	}
	return math.Min(100, math.Max(0, d.adx.Value()))
}

// Ready returns true once the ADX average is seeded.
func (d *DMI) Ready() bool { return d.adx.Ready() }

func (d *DMI) copyFrom(src *DMI) {
	*d.tr = *src.tr
	*d.plusDM = *src.plusDM
	*d.minusDM = *src.minusDM
	*d.adx = *src.adx
	d.plusDI, d.minusDI = src.plusDI, src.minusDI
}

// Reset clears the DMI state.
func (d *DMI) Reset() {
	d.tr.Reset()
	d.plusDM.Reset()
	d.minusDM.Reset()
	d.adx.Reset()
	d.plusDI, d.minusDI = 0, 0
}
