package indicator

// NeutralRSI is reported while fewer than period+1 prices are available.
const NeutralRSI = 50.0

// RSI computes the Relative Strength Index from the last period price
// changes using simple averages of gains and losses. prices must be
// oldest-first; only the trailing period+1 entries are used.
//
// No losses caps the value at 100. A window with neither gains nor losses
// is flat and reports NeutralRSI.
func RSI(prices []float64, period int) float64 {
	if period <= 0 || len(prices) < period+1 {
		return NeutralRSI
	}
	w := prices[len(prices)-period-1:]

	gains, losses := 0.0, 0.0
	for i := 1; i < len(w); i++ {
		delta := w[i] - w[i-1]
		if delta > 0 {
			gains += delta
		} else {
			losses -= delta
		}
	}
	avgGain := gains / float64(period)
	avgLoss := losses / float64(period)

	if avgLoss == 0 {
		if avgGain == 0 {
			return NeutralRSI
		}
		return 100.0
	}
	rs := avgGain / avgLoss
	return 100.0 - (100.0 / (1.0 + rs))
}
