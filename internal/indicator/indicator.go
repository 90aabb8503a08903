// Package indicator holds the incremental indicator states kept per
// instrument and timeframe: price EMA, VWAP EMA, RSI, ATR and OBV.
//
// Every state is updated once per closed candle from the closed-candle
// sequence of its timeframe. Missing history is never an error; it surfaces
// as the BuildingHistory / NotAvailable sentinels or a zero value.
package indicator

import (
	"github.com/markcheno/go-talib"
	"github.com/shopspring/decimal"
)

// Sentinel signal values.
const (
	BuildingHistory = "Building History..."
	NotAvailable    = "N/A"
	Neutral         = "Neutral"
)

// Params are the lengths used by every state. They come from the analysis settings.
type Params struct {
	ShortEMA     int
	LongEMA      int
	RSIPeriod    int
	ATRPeriod    int
	ATRSMAPeriod int
	OBVPeriod    int
}

// Ring capacities.
const (
	rsiHistory = 50
	atrHistory = 20
	obvHistory = 50
)

// mean returns the arithmetic mean of xs, 0 for an empty slice.
func mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	out := talib.Sma(xs, len(xs))
	return out[len(out)-1]
}

// tail returns the last n values of xs (all of them when n > len).
func tail(xs []float64, n int) []float64 {
	if n >= len(xs) {
		return xs
	}
	return xs[len(xs)-n:]
}

// Round2 rounds half to even at two decimals.
func Round2(v float64) float64 {
	return decimal.NewFromFloat(v).RoundBank(2).InexactFloat64()
}
