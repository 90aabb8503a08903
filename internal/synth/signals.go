package synth

import (
	"strconv"

	"tick-analytics/internal/model"
)

// Sentinels shared by the per-tick signals.
const (
	BuildingHistory = "Building History..."
	NotAvailable    = "N/A"
	Neutral         = "Neutral"
)

// VolumeSignal compares the newest candle's volume with the average of up
// to historyLen candles before it.
func VolumeSignal(candles []model.Candle, historyLen int, burstMultiplier float64) (signal string, current, average int64) {
	n := len(candles)
	if n == 0 {
		return NotAvailable, 0, 0
	}
	current = candles[n-1].Volume
	if n < 2 {
		return BuildingHistory, current, 0
	}
	hist := candles[:n-1]
	if historyLen > 0 && len(hist) > historyLen {
		hist = hist[len(hist)-historyLen:]
	}
	var sum float64
	for _, c := range hist {
		sum += float64(c.Volume)
	}
	avg := sum / float64(len(hist))
	if avg > 0 && float64(current) > avg*burstMultiplier {
		return "Volume Burst", current, int64(avg)
	}
	return Neutral, current, int64(avg)
}

// OISignal classifies the last two candles' price and open interest change.
func OISignal(candles []model.Candle) string {
	n := len(candles)
	if n < 2 {
		return BuildingHistory
	}
	cur, prev := candles[n-1], candles[n-2]
	if prev.OpenInterest == 0 || cur.OpenInterest == 0 {
		return BuildingHistory
	}
	priceUp, priceDown := cur.Close > prev.Close, cur.Close < prev.Close
	oiUp, oiDown := cur.OpenInterest > prev.OpenInterest, cur.OpenInterest < prev.OpenInterest

	switch {
	case priceUp && oiUp:
		return "Long Buildup"
	case priceUp && oiDown:
		return "Short Covering"
	case priceDown && oiUp:
		return "Short Buildup"
	case priceDown && oiDown:
		return "Long Unwinding"
	}
	return Neutral
}

// PriceAction holds the day-level price action classifications.
type PriceAction struct {
	VsVwap    string
	VsClose   string
	DayRange  string
	OpenDrive string
}

// PriceActionSignals classifies ltp against day VWAP, previous close and
// the day's range, and detects an open drive from the day's O/H/L.
func PriceActionSignals(ltp, vwap, open, high, low, prevClose float64) PriceAction {
	pa := PriceAction{VsVwap: Neutral, VsClose: Neutral, DayRange: Neutral, OpenDrive: "No"}

	if vwap > 0 {
		if ltp > vwap {
			pa.VsVwap = "Above VWAP"
		} else if ltp < vwap {
			pa.VsVwap = "Below VWAP"
		}
	}
	if prevClose > 0 {
		if ltp > prevClose {
			pa.VsClose = "Above Close"
		} else if ltp < prevClose {
			pa.VsClose = "Below Close"
		}
	}
	if rng := high - low; rng > 0 {
		pos := (ltp - low) / rng
		switch {
		case pos > 0.8:
			pa.DayRange = "Near High"
		case pos < 0.2:
			pa.DayRange = "Near Low"
		default:
			pa.DayRange = "Mid-Range"
		}
	}
	if open > 0 && low > 0 && high > 0 {
		if open == low {
			pa.OpenDrive = "Drive Up"
		} else if open == high {
			pa.OpenDrive = "Drive Down"
		}
	}
	return pa
}

// Ordinal renders 1 as "1st", 12 as "12th", 22 as "22nd".
func Ordinal(n int) string {
	s := strconv.Itoa(n)
	if n <= 0 {
		return s
	}
	switch n % 100 {
	case 11, 12, 13:
		return s + "th"
	}
	switch n % 10 {
	case 1:
		return s + "st"
	case 2:
		return s + "nd"
	case 3:
		return s + "rd"
	}
	return s + "th"
}
