package synth

import (
	"math"

	"github.com/shopspring/decimal"

	"tick-analytics/internal/model"
)

// RecognizePattern classifies the last one to three candles. Three-candle
// patterns win over two-candle patterns, which win over single candles.
// Qualifying patterns carry a " (+NN% Vol)" suffix when volume rose more than 20%.
func RecognizePattern(candles []model.Candle) string {
	n := len(candles)
	if n < 1 {
		return "N/A"
	}
	volInfo := ""
	if n > 1 {
		volInfo = volumeConfirmation(candles[n-1], candles[n-2])
	}

	if n >= 3 {
		c1, c2, c3 := candles[n-1], candles[n-2], candles[n-3]
		if c3.Close < c3.Open && math.Max(c2.Open, c2.Close) < c3.Close && c1.Close > c1.Open && c1.Close > (c3.Open+c3.Close)/2 {
			return "Bullish Morning Star" + volInfo
		}
		if c3.Close > c3.Open && math.Min(c2.Open, c2.Close) > c3.Close && c1.Close < c1.Open && c1.Close < (c3.Open+c3.Close)/2 {
			return "Bearish Evening Star" + volInfo
		}
		if bullish(c3) && bullish(c2) && bullish(c1) &&
			c2.Open > c3.Open && c2.Close > c3.Close && c1.Open > c2.Open && c1.Close > c2.Close {
			return "Bullish Three Soldiers"
		}
		if bearish(c3) && bearish(c2) && bearish(c1) &&
			c2.Open < c3.Open && c2.Close < c3.Close && c1.Open < c2.Open && c1.Close < c2.Close {
			return "Bearish Three Crows"
		}
	}

	if n >= 2 {
		c1, c2 := candles[n-1], candles[n-2]
		if bullish(c1) && bearish(c2) && c1.Close > c2.Open && c1.Open < c2.Close {
			return "Bullish Engulfing" + volInfo
		}
		if bearish(c1) && bullish(c2) && c1.Open > c2.Close && c1.Close < c2.Open {
			return "Bearish Engulfing" + volInfo
		}
		if bearish(c2) && bullish(c1) && math.Abs(c1.Low-c2.Low) < (c1.High-c1.Low)*0.05 {
			return "Bullish Tweezer"
		}
		if bullish(c2) && bearish(c1) && math.Abs(c1.High-c2.High) < (c1.High-c1.Low)*0.05 {
			return "Bearish Tweezer"
		}

		b1, b2 := body(c1), body(c2)
		if b2 > b1*3 &&
			math.Max(c1.Close, c1.Open) < math.Max(c2.Close, c2.Open) &&
			math.Min(c1.Close, c1.Open) > math.Min(c2.Close, c2.Open) {
			if b1/(c1.High-c1.Low+0.0001) < 0.1 {
				return "Neutral Harami Cross"
			}
			if bullish(c2) {
				return "Bearish Harami"
			}
			return "Bullish Harami"
		}
	}

	c := candles[n-1]
	b := body(c)
	rng := c.High - c.Low
	if rng == 0 {
		return "Neutral"
	}
	upper := c.High - math.Max(c.Open, c.Close)
	lower := math.Min(c.Open, c.Close) - c.Low

	switch {
	case b/rng < 0.1:
		return "Neutral Doji"
	case lower > b*2 && upper < b:
		if bullish(c) {
			return "Bullish Hammer"
		}
		return "Bearish Hanging Man"
	case upper > b*2 && lower < b:
		if bullish(c) {
			return "Bullish Inv Hammer"
		}
		return "Bearish Shooting Star"
	case b/rng > 0.95 && bullish(c):
		return "Bullish Marubozu" + volInfo
	case b/rng > 0.95 && bearish(c):
		return "Bearish Marubozu" + volInfo
	}
	return "N/A"
}

// volumeConfirmation returns " (+NN% Vol)" when volume grew by more than 20%.
func volumeConfirmation(cur, prev model.Candle) string {
	if prev.Volume <= 0 {
		return ""
	}
	change := decimal.NewFromInt(cur.Volume - prev.Volume).Div(decimal.NewFromInt(prev.Volume))
	if !change.GreaterThan(decimal.NewFromFloat(0.2)) {
		return ""
	}
	return " (+" + change.Mul(decimal.NewFromInt(100)).Round(0).String() + "% Vol)"
}

func bullish(c model.Candle) bool { return c.Close > c.Open }
func bearish(c model.Candle) bool { return c.Close < c.Open }
func body(c model.Candle) float64 { return math.Abs(c.Close - c.Open) }
