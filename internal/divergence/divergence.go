// Package divergence finds regular price/indicator divergences from the
// last two swing highs and swing lows of a candle window.
package divergence

import "tick-analytics/internal/model"

// SwingWindow is the number of neighbours on each side a swing must dominate.
const SwingWindow = 3

// Signals.
const (
	Bullish      = "Bullish Divergence"
	Bearish      = "Bearish Divergence"
	Neutral      = "Neutral"
	NotAvailable = "N/A"
)

// swing is a swing price and the indicator reading at the same index.
type swing struct {
	price     float64
	indicator float64
}

// Detect compares the last lookback candles with the last lookback
// indicator values (oldest first), newest swing against the one before it.
// Bearish: price makes a higher high while the indicator makes a lower high.
// Bullish: price makes a lower low while the indicator makes a higher low.
func Detect(candles []model.Candle, values []float64, lookback int) string {
	if lookback <= 0 || len(candles) < lookback || len(values) < lookback {
		return NotAvailable
	}
	cs := candles[len(candles)-lookback:]
	vs := values[len(values)-lookback:]

	if highs := swings(cs, vs, true); len(highs) == 2 {
		prev, last := highs[0], highs[1]
		if last.price > prev.price && last.indicator < prev.indicator {
			return Bearish
		}
	}
	if lows := swings(cs, vs, false); len(lows) == 2 {
		prev, last := lows[0], lows[1]
		if last.price < prev.price && last.indicator > prev.indicator {
			return Bullish
		}
	}
	return Neutral
}

// swings returns up to the last two swing points, oldest first.
func swings(cs []model.Candle, vs []float64, high bool) []swing {
	pick := func(c model.Candle) float64 {
		if high {
			return c.High
		}
		return c.Low
	}

	var out []swing
	for i := SwingWindow; i < len(cs)-SwingWindow; i++ {
		cur := pick(cs[i])
		ok := true
		for j := 1; j <= SwingWindow; j++ {
			prev, next := pick(cs[i-j]), pick(cs[i+j])
			if high && (cur < prev || cur < next) || !high && (cur > prev || cur > next) {
				ok = false
				break
			}
		}
		if ok {
			out = append(out, swing{price: cur, indicator: vs[i]})
		}
	}
	if len(out) > 2 {
		out = out[len(out)-2:]
	}
	return out
}
