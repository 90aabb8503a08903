package indicator

// EMAState is a short/long EMA pair for one timeframe. Price and VWAP
// variants use independent instances.
type EMAState struct {
	Short       float64 `json:"short"`
	Long        float64 `json:"long"`
	Initialized bool    `json:"initialized"`
}

// Update folds the latest value of values into the pair and returns the cross signal.
// An uninitialized pair is seeded with the mean of the last shortN values and
// the mean of all values.
func (s *EMAState) Update(values []float64, shortN, longN int) string {
	if len(values) < longN || len(values) == 0 {
		return BuildingHistory
	}

	if !s.Initialized {
		s.Short = mean(tail(values, shortN))
		s.Long = mean(values)
		s.Initialized = true
	} else {
		last := values[len(values)-1]
		s.Short += (last - s.Short) * (2.0 / float64(shortN+1))
		s.Long += (last - s.Long) * (2.0 / float64(longN+1))
	}

	switch {
	case s.Short > s.Long:
		return "Bullish Cross"
	case s.Short < s.Long:
		return "Bearish Cross"
	}
	return Neutral
}

// Reset clears the pair.
func (s *EMAState) Reset() { *s = EMAState{} }
