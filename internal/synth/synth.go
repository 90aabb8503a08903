// Package synth turns the per-timeframe signals of an analysis result into
// a directional trade signal with human-readable drivers.
package synth

import (
	"strings"

	"tick-analytics/internal/model"
)

// Final trade signals.
const (
	StrongBuy    = "Strong Buy (Calls)"
	ConsiderBuy  = "Consider Calls"
	StrongSell   = "Strong Sell (Puts)"
	ConsiderSell = "Consider Puts"
	NoEdge       = "Neutral / No Edge"
)

// Synthesize fills the driver lists, conviction score and final signal of r.
// Tier 1 is multi-day context, tier 2 intraday structure, tier 3 momentum.
func Synthesize(r *model.AnalysisResult) {
	var bull, bear []string

	// ---- Tier 1 ----
	switch r.DailyBias {
	case "Strong Bullish":
		bull = append(bull, "Opening strong above previous day's value area.")
	case "Strong Bearish":
		bear = append(bear, "Opening weak below previous day's value area.")
	}
	switch r.MarketStructure {
	case "Trending Up":
		bull = append(bull, "Multi-day structure is trending up.")
	case "Trending Down":
		bear = append(bear, "Multi-day structure is trending down.")
	}

	// ---- Tier 2 ----
	switch r.MarketProfileSignal {
	case "Acceptance > Y-VAH":
		bull = append(bull, "Price accepted above yesterday's value.")
	case "Acceptance < Y-VAL":
		bear = append(bear, "Price accepted below yesterday's value.")
	}
	switch r.InitialBalanceSignal {
	case "IB Extension Up":
		bull = append(bull, "Breaking out and extending above Initial Balance.")
	case "IB Extension Down":
		bear = append(bear, "Breaking down and extending below Initial Balance.")
	}
	switch r.PriceVsVwapSignal {
	case "Above VWAP":
		bull = append(bull, "Price is trading above VWAP.")
	case "Below VWAP":
		bear = append(bear, "Price is trading below VWAP.")
	}
	switch r.DayRangeSignal {
	case "Near High":
		bull = append(bull, "Price is near the day's high.")
	case "Near Low":
		bear = append(bear, "Price is near the day's low.")
	}

	// ---- Tier 3 ----
	if r.EmaSignal5Min == "Bullish Cross" && r.EmaSignal15Min == "Bullish Cross" {
		bull = append(bull, "5m & 15m EMAs in a bullish cross.")
	}
	if r.EmaSignal5Min == "Bearish Cross" && r.EmaSignal15Min == "Bearish Cross" {
		bear = append(bear, "5m & 15m EMAs in a bearish cross.")
	}
	switch r.OiSignal {
	case "Long Buildup":
		bull = append(bull, "Price and Open Interest rising together (Long Buildup).")
	case "Short Buildup":
		bear = append(bear, "Price falling while Open Interest rises (Short Buildup).")
	}
	if r.VolumeSignal == "Volume Burst" {
		switch r.PriceVsCloseSignal {
		case "Above Close":
			bull = append(bull, "Volume spike on a positive candle.")
		case "Below Close":
			bear = append(bear, "Volume spike on a negative candle.")
		}
	}
	switch r.RsiSignal5Min {
	case "Bullish Divergence":
		bull = append(bull, "5m Bullish RSI Divergence detected.")
	case "Bearish Divergence":
		bear = append(bear, "5m Bearish RSI Divergence detected.")
	}
	if strings.Contains(r.CandleSignal5Min, "Bullish") {
		bull = append(bull, "5m "+r.CandleSignal5Min+" pattern formed.")
	}
	if strings.Contains(r.CandleSignal5Min, "Bearish") {
		bear = append(bear, "5m "+r.CandleSignal5Min+" pattern formed.")
	}

	r.BullishDrivers = bull
	r.BearishDrivers = bear
	r.KeySignalDrivers = append(append(make([]string, 0, len(bull)+len(bear)), bull...), bear...)
	r.ConvictionScore = len(bull) - len(bear)
	r.FinalTradeSignal = finalSignal(r, len(bull), len(bear))
}

func finalSignal(r *model.AnalysisResult, bull, bear int) string {
	score := bull - bear
	acceptance := strings.Contains(r.MarketProfileSignal, "Acceptance")
	highBull := bull >= 2 && (strings.Contains(r.DailyBias, "Bullish") || acceptance)
	highBear := bear >= 2 && (strings.Contains(r.DailyBias, "Bearish") || acceptance)

	switch {
	case highBull && score >= 3:
		return StrongBuy
	case bull > bear && bull >= 2:
		return ConsiderBuy
	case highBear && score <= -3:
		return StrongSell
	case bear > bull && bear >= 2:
		return ConsiderSell
	}
	return NoEdge
}
