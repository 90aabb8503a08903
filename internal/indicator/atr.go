package indicator

import (
	"github.com/markcheno/go-talib"

	"tick-analytics/internal/model"
	"tick-analytics/internal/ringbuf"
)

// ATRState is a Wilder-smoothed Average True Range with a 20-value history.
type ATRState struct {
	Current     float64
	Initialized bool
	Values      *ringbuf.Ring[float64]
}

// NewATRState creates an empty ATR state.
func NewATRState() *ATRState {
	return &ATRState{Values: ringbuf.New[float64](atrHistory)}
}

// Update consumes the newest candle and returns the ATR rounded to 2 dp,
// or 0 while fewer than period candles exist.
func (a *ATRState) Update(candles []model.Candle, period int) float64 {
	if period <= 0 || len(candles) < period || len(candles) < 2 {
		return 0
	}

	highs := make([]float64, len(candles))
	lows := make([]float64, len(candles))
	closes := make([]float64, len(candles))
	for i, c := range candles {
		highs[i], lows[i], closes[i] = c.High, c.Low, c.Close
	}
	// index 0 has no previous close
	trs := talib.TRange(highs, lows, closes)[1:]

	if !a.Initialized {
		a.Current = mean(trs[:min(period, len(trs))])
		a.Initialized = true
	} else {
		p := float64(period)
		a.Current = (a.Current*(p-1) + trs[len(trs)-1]) / p
	}

	a.Values.Push(a.Current)
	return Round2(a.Current)
}

// Signal compares the current ATR against the SMA of the ATR history.
func (a *ATRState) Signal(current float64, smaPeriod int) string {
	n := a.Values.Len()
	if smaPeriod <= 0 || n < smaPeriod {
		return NotAvailable
	}
	vals := a.Values.Values()

	sma := mean(tail(vals, smaPeriod))
	prev := 0.0
	if n > 1 {
		prev = vals[n-2]
	}
	prevSMA := 0.0
	if n > smaPeriod {
		prevSMA = mean(tail(vals[:n-1], smaPeriod))
	}

	isAbove := current > sma
	if isAbove && prev < prevSMA {
		return "Vol Expanding"
	}
	if current < sma && prev > prevSMA {
		return "Vol Contracting"
	}
	if isAbove {
		return "High Vol"
	}
	return "Low Vol"
}

// Reset clears the ATR and its history.
func (a *ATRState) Reset() {
	a.Current, a.Initialized = 0, false
	a.Values.Reset()
}
