package indicator

import (
	"tick-analytics/internal/model"
	"tick-analytics/internal/ringbuf"
)

// OBVState is the running On-Balance Volume and its last 50 values.
type OBVState struct {
	Current       float64
	MovingAverage float64
	Values        *ringbuf.Ring[float64]
}

// NewOBVState creates an empty OBV state.
func NewOBVState() *OBVState {
	return &OBVState{Values: ringbuf.New[float64](obvHistory)}
}

// Update adds or subtracts the newest candle's volume by close direction.
func (o *OBVState) Update(candles []model.Candle) float64 {
	if len(candles) < 2 {
		return 0
	}
	last, prev := candles[len(candles)-1], candles[len(candles)-2]
	switch {
	case last.Close > prev.Close:
		o.Current += float64(last.Volume)
	case last.Close < prev.Close:
		o.Current -= float64(last.Volume)
	}
	o.Values.Push(o.Current)
	return o.Current
}

// Signal compares OBV with its moving average over period values.
func (o *OBVState) Signal(period int) string {
	n := o.Values.Len()
	if period <= 0 || n < period {
		return BuildingHistory
	}
	vals := o.Values.Values()

	prevObv := 0.0
	if n > 1 {
		prevObv = vals[n-2]
	}
	sma := mean(tail(vals, period))
	prevSMA := mean(tail(vals[:n-1], period))
	o.MovingAverage = sma

	isAbove := o.Current > sma
	isBelow := o.Current < sma
	if isAbove && prevObv < prevSMA {
		return "Bullish Cross"
	}
	if isBelow && prevObv > prevSMA {
		return "Bearish Cross"
	}
	if isAbove {
		return "Trending Up"
	}
	if isBelow {
		return "Trending Down"
	}
	return Neutral
}

// Reset clears the OBV and its history.
func (o *OBVState) Reset() {
	o.Current, o.MovingAverage = 0, 0
	o.Values.Reset()
}
