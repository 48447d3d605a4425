package indicator

// SMMA calculates the Wilder smoothed moving average.
// First value is SMA(period), then SMMA = prev + (v - prev) / period.
type SMMA struct {
	period  int
	count   int
	sum     float64
	current float64
}

// NewSMMA creates a new SMMA with the given period.
func NewSMMA(period int) *SMMA {
	return &SMMA{period: period}
}

func (s *SMMA) Update(v float64) {
	s.count++

	if s.count <= s.period {
		// Accumulate for initial SMA seed
		s.sum += v
		if s.count == s.period {
			s.current = s.sum / float64(s.period)
		}
		return
	}

	s.current += (v - s.current) / float64(s.period)
}

func (s *SMMA) Value() float64 { return s.current }
func (s *SMMA) Ready() bool    { return s.count >= s.period }

// Partial returns the seeded value once ready, and the mean of the values
// fed so far before that (0 with none).
func (s *SMMA) Partial() float64 {
	if s.Ready() {
		return s.current
	}
	if s.count == 0 {
		return 0
	}
	return s.sum / float64(s.count)
}

// Reset clears the SMMA state for reuse.
func (s *SMMA) Reset() {
	s.count = 0
	s.sum = 0
	s.current = 0
}
