package indicator

import "tick-analytics/internal/ringbuf"

// RSIState calculates the Relative Strength Index with Wilder's smoothing.
// Values keeps the last 50 finite RSI readings for divergence detection.
type RSIState struct {
	AvgGain     float64
	AvgLoss     float64
	Initialized bool
	Values      *ringbuf.Ring[float64]
}

// NewRSIState creates an empty RSI state.
func NewRSIState() *RSIState {
	return &RSIState{Values: ringbuf.New[float64](rsiHistory)}
}

// Update consumes the newest close of closes. Returns 0 until more than
// period closes exist, and 100 while the average loss is zero (that reading
// is not kept in Values).
func (r *RSIState) Update(closes []float64, period int) float64 {
	if period <= 0 || len(closes) <= period {
		return 0
	}

	if !r.Initialized {
		// Seed from the first period deltas only.
		var gains, losses []float64
		for i := 1; i <= period; i++ {
			d := closes[i] - closes[i-1]
			if d > 0 {
				gains = append(gains, d)
			} else if d < 0 {
				losses = append(losses, -d)
			}
		}
		r.AvgGain = mean(gains)
		r.AvgLoss = mean(losses)
		r.Initialized = true
	} else {
		change := closes[len(closes)-1] - closes[len(closes)-2]
		gain, loss := 0.0, 0.0
		if change > 0 {
			gain = change
		} else {
			loss = -change
		}
		// Wilder's smoothing: avg = (prevAvg*(period-1) + x) / period
		p := float64(period)
		r.AvgGain = (r.AvgGain*(p-1) + gain) / p
		r.AvgLoss = (r.AvgLoss*(p-1) + loss) / p
	}

	if r.AvgLoss == 0 {
		return 100
	}
	rs := r.AvgGain / r.AvgLoss
	rsi := 100 - 100/(1+rs)
	r.Values.Push(rsi)
	return Round2(rsi)
}

// Reset clears averages and history.
func (r *RSIState) Reset() {
	r.AvgGain, r.AvgLoss, r.Initialized = 0, 0, false
	r.Values.Reset()
}
