package indicator

// Bands are Bollinger Bands around a simple moving average.
type Bands struct {
	Upper  float64
	Middle float64
	Lower  float64
}

// Bollinger computes SMA(period) ± deviation·σ over the trailing period
// prices, σ being the sample standard deviation. With fewer than period
// prices all three lines collapse onto the latest price.
func Bollinger(prices []float64, period int, deviation float64) Bands {
	if len(prices) == 0 {
		return Bands{}
	}
	if len(prices) < period {
		p := prices[len(prices)-1]
		return Bands{Upper: p, Middle: p, Lower: p}
	}
	w := prices[len(prices)-period:]
	m := mean(w)
	width := deviation * sampleStdDev(w, m)
	return Bands{Upper: m + width, Middle: m, Lower: m - width}
}

// Levels returns support and resistance as the minimum and maximum of the
// prices preceding the current one. prices must end with the current price.
// Without any prior price both levels equal the current price.
func Levels(prices []float64) (support, resistance float64) {
	if len(prices) == 0 {
		return 0, 0
	}
	current := prices[len(prices)-1]
	lo, hi, ok := minMax(prices[:len(prices)-1])
	if !ok {
		return current, current
	}
	return lo, hi
}

// NeutralVolumeRatio is reported when no meaningful average exists.
const NeutralVolumeRatio = 1.0

// VolumeRatio divides the latest volume by the mean of the trailing period
// volumes (the latest included). Short histories and a zero average report
// NeutralVolumeRatio.
func VolumeRatio(volumes []float64, period int) float64 {
	if period <= 0 || len(volumes) < period {
		return NeutralVolumeRatio
	}
	w := volumes[len(volumes)-period:]
	avg := mean(w)
	if avg == 0 {
		return NeutralVolumeRatio
	}
	return w[len(w)-1] / avg
}
