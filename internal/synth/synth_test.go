package synth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tick-analytics/internal/model"
)

var t0 = time.Date(2025, 1, 6, 3, 45, 0, 0, time.UTC)

func bar(i int, o, h, l, c float64, vol int64) model.Candle {
	return model.Candle{TS: t0.Add(time.Duration(i) * time.Minute), Open: o, High: h, Low: l, Close: c, Volume: vol}
}

// ────────────────────────────────────────────────────────────
// Candlestick patterns
// ────────────────────────────────────────────────────────────

func TestRecognizePattern(t *testing.T) {
	tests := []struct {
		name    string
		candles []model.Candle
		want    string
	}{
		{"empty", nil, "N/A"},
		{"flat candle", []model.Candle{bar(0, 100, 100, 100, 100, 10)}, "Neutral"},
		{"doji", []model.Candle{bar(0, 100, 101, 99, 100.05, 10)}, "Neutral Doji"},
		{"hammer", []model.Candle{bar(0, 100, 101.2, 97, 101, 10)}, "Bullish Hammer"},
		{"hanging man", []model.Candle{bar(0, 101, 101.2, 97, 100, 10)}, "Bearish Hanging Man"},
		{"shooting star", []model.Candle{bar(0, 101, 104, 99.8, 100, 10)}, "Bearish Shooting Star"},
		{"inverted hammer", []model.Candle{bar(0, 100, 104, 99.8, 101, 10)}, "Bullish Inv Hammer"},
		{"marubozu", []model.Candle{bar(0, 100, 110, 100, 110, 10)}, "Bullish Marubozu"},
		{"plain candle", []model.Candle{bar(0, 100, 106, 98, 103, 10)}, "N/A"},
		{
			"bullish engulfing",
			[]model.Candle{bar(0, 105, 106, 99, 100, 100), bar(1, 99, 107, 98, 106, 100)},
			"Bullish Engulfing",
		},
		{
			"bearish engulfing with volume",
			[]model.Candle{bar(0, 100, 106, 99, 105, 100), bar(1, 106, 107, 98, 99, 150)},
			"Bearish Engulfing (+50% Vol)",
		},
		{
			"tweezer bottom",
			[]model.Candle{bar(0, 105, 106, 100, 101, 100), bar(1, 101, 105, 100.1, 104, 100)},
			"Bullish Tweezer",
		},
		{
			"bearish harami",
			[]model.Candle{bar(0, 100, 111, 99, 110, 100), bar(1, 106, 107, 103, 104, 100)},
			"Bearish Harami",
		},
		{
			"morning star with volume",
			[]model.Candle{
				bar(0, 110, 111, 99, 100, 100),
				bar(1, 98, 99, 96, 97, 100),
				bar(2, 99, 109, 98, 108, 150),
			},
			"Bullish Morning Star (+50% Vol)",
		},
		{
			"three soldiers",
			[]model.Candle{
				bar(0, 100, 106, 99, 105, 100),
				bar(1, 102, 109, 101, 108, 100),
				bar(2, 104, 112, 103, 111, 100),
			},
			"Bullish Three Soldiers",
		},
		{
			"three crows",
			[]model.Candle{
				bar(0, 111, 112, 103, 104, 100),
				bar(1, 109, 110, 100, 101, 100),
				bar(2, 107, 108, 97, 98, 100),
			},
			"Bearish Three Crows",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, RecognizePattern(tt.candles))
		})
	}
}

func TestVolumeConfirmation(t *testing.T) {
	prev := bar(0, 0, 0, 0, 0, 1000)
	assert.Equal(t, "", volumeConfirmation(bar(1, 0, 0, 0, 0, 1200), prev), "exactly 20% does not confirm")
	assert.Equal(t, " (+35% Vol)", volumeConfirmation(bar(1, 0, 0, 0, 0, 1350), prev))
	assert.Equal(t, " (+21% Vol)", volumeConfirmation(bar(1, 0, 0, 0, 0, 1205), prev), "midpoint rounds away from zero")
	assert.Equal(t, "", volumeConfirmation(bar(1, 0, 0, 0, 0, 500), bar(0, 0, 0, 0, 0, 0)))
}

// ────────────────────────────────────────────────────────────
// Volume, OI, price action
// ────────────────────────────────────────────────────────────

func TestVolumeSignal(t *testing.T) {
	sig, cur, avg := VolumeSignal(nil, 20, 2)
	assert.Equal(t, NotAvailable, sig)
	assert.Zero(t, cur)
	assert.Zero(t, avg)

	sig, cur, _ = VolumeSignal([]model.Candle{bar(0, 1, 1, 1, 1, 40)}, 20, 2)
	assert.Equal(t, BuildingHistory, sig)
	assert.Equal(t, int64(40), cur)

	cs := []model.Candle{bar(0, 1, 1, 1, 1, 100), bar(1, 1, 1, 1, 1, 100), bar(2, 1, 1, 1, 1, 100), bar(3, 1, 1, 1, 1, 300)}
	sig, cur, avg = VolumeSignal(cs, 20, 2)
	assert.Equal(t, "Volume Burst", sig)
	assert.Equal(t, int64(300), cur)
	assert.Equal(t, int64(100), avg)

	sig, _, _ = VolumeSignal(cs, 20, 3)
	assert.Equal(t, Neutral, sig)

	// only the last historyLen prior candles count
	cs[0].Volume = 10000
	sig, _, avg = VolumeSignal(cs, 2, 2)
	assert.Equal(t, "Volume Burst", sig)
	assert.Equal(t, int64(100), avg)
}

func TestOISignal(t *testing.T) {
	oi := func(c float64, oi int64) model.Candle { return model.Candle{Close: c, OpenInterest: oi} }
	tests := []struct {
		name    string
		candles []model.Candle
		want    string
	}{
		{"single", []model.Candle{oi(100, 10)}, BuildingHistory},
		{"no oi", []model.Candle{oi(100, 0), oi(101, 10)}, BuildingHistory},
		{"long buildup", []model.Candle{oi(100, 10), oi(101, 11)}, "Long Buildup"},
		{"short covering", []model.Candle{oi(100, 10), oi(101, 9)}, "Short Covering"},
		{"short buildup", []model.Candle{oi(100, 10), oi(99, 11)}, "Short Buildup"},
		{"long unwinding", []model.Candle{oi(100, 10), oi(99, 9)}, "Long Unwinding"},
		{"flat", []model.Candle{oi(100, 10), oi(100, 11)}, Neutral},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, OISignal(tt.candles))
		})
	}
}

func TestPriceActionSignals(t *testing.T) {
	pa := PriceActionSignals(109, 105, 100, 110, 100, 102)
	assert.Equal(t, PriceAction{VsVwap: "Above VWAP", VsClose: "Above Close", DayRange: "Near High", OpenDrive: "Drive Up"}, pa)

	pa = PriceActionSignals(101, 105, 110, 110, 100, 102)
	assert.Equal(t, PriceAction{VsVwap: "Below VWAP", VsClose: "Below Close", DayRange: "Near Low", OpenDrive: "Drive Down"}, pa)

	pa = PriceActionSignals(105, 0, 103, 110, 100, 0)
	assert.Equal(t, PriceAction{VsVwap: Neutral, VsClose: Neutral, DayRange: "Mid-Range", OpenDrive: "No"}, pa)

	pa = PriceActionSignals(105, 0, 0, 0, 0, 0)
	assert.Equal(t, Neutral, pa.DayRange)
	assert.Equal(t, "No", pa.OpenDrive)
}

// ────────────────────────────────────────────────────────────
// Custom levels
// ────────────────────────────────────────────────────────────

func TestOrdinal(t *testing.T) {
	for n, want := range map[int]string{
		0: "0", 1: "1st", 2: "2nd", 3: "3rd", 4: "4th", 11: "11th", 12: "12th",
		13: "13th", 21: "21st", 22: "22nd", 103: "103rd", 111: "111th",
	} {
		assert.Equal(t, want, Ordinal(n), "n=%d", n)
	}
}

func TestLevelTracker(t *testing.T) {
	var lt LevelTracker
	steps := []struct {
		ltp  float64
		want string
	}{
		{105, "No trade zone"},
		{111, "1st Breakout"},
		{112, "1st Breakout"},
		{105, "No trade zone"},
		{115, "2nd Breakout"},
		{105, "No trade zone"},
		{95, "1st Breakdown"},
	}
	for i, s := range steps {
		assert.Equal(t, s.want, lt.Evaluate(s.ltp, 110, 100), "step %d", i)
	}
	assert.Equal(t, 2, lt.BreakoutCount)
	assert.Equal(t, 1, lt.BreakdownCount)

	lt.Reset()
	assert.Equal(t, ZoneInside, lt.Zone)
	assert.Zero(t, lt.BreakoutCount)
}

// ────────────────────────────────────────────────────────────
// Synthesis
// ────────────────────────────────────────────────────────────

func TestSynthesize_NoEdgeOnFreshResult(t *testing.T) {
	r := model.NewAnalysisResult("1")
	Synthesize(r)
	assert.Empty(t, r.KeySignalDrivers)
	assert.Zero(t, r.ConvictionScore)
	assert.Equal(t, NoEdge, r.FinalTradeSignal)
}

func TestSynthesize_StrongBuy(t *testing.T) {
	r := model.NewAnalysisResult("1")
	r.DailyBias = "Strong Bullish"
	r.MarketStructure = "Trending Up"
	r.MarketProfileSignal = "Acceptance > Y-VAH"
	r.PriceVsVwapSignal = "Above VWAP"
	r.DayRangeSignal = "Near Low"
	Synthesize(r)

	require.Len(t, r.BullishDrivers, 4)
	assert.Equal(t, "Opening strong above previous day's value area.", r.BullishDrivers[0])
	assert.Equal(t, []string{"Price is near the day's low."}, r.BearishDrivers)
	assert.Equal(t, append(append([]string{}, r.BullishDrivers...), r.BearishDrivers...), r.KeySignalDrivers)
	assert.Equal(t, 3, r.ConvictionScore)
	assert.Equal(t, StrongBuy, r.FinalTradeSignal)
}

func TestSynthesize_ConsiderCallsWithoutContext(t *testing.T) {
	r := model.NewAnalysisResult("1")
	r.PriceVsVwapSignal = "Above VWAP"
	r.DayRangeSignal = "Near High"
	r.EmaSignal5Min = "Bullish Cross"
	r.EmaSignal15Min = "Bullish Cross"
	Synthesize(r)

	assert.Equal(t, 3, r.ConvictionScore)
	assert.Equal(t, ConsiderBuy, r.FinalTradeSignal, "no bullish bias or acceptance")
}

func TestSynthesize_Bearish(t *testing.T) {
	r := model.NewAnalysisResult("1")
	r.DailyBias = "Bearish Rotational"
	r.OiSignal = "Short Buildup"
	r.VolumeSignal = "Volume Burst"
	r.PriceVsCloseSignal = "Below Close"
	r.RsiSignal5Min = "Bearish Divergence"
	r.CandleSignal5Min = "Bearish Engulfing (+50% Vol)"
	Synthesize(r)

	assert.Equal(t, []string{
		"Price falling while Open Interest rises (Short Buildup).",
		"Volume spike on a negative candle.",
		"5m Bearish RSI Divergence detected.",
		"5m Bearish Engulfing (+50% Vol) pattern formed.",
	}, r.BearishDrivers)
	assert.Equal(t, -4, r.ConvictionScore)
	assert.Equal(t, StrongSell, r.FinalTradeSignal)

	r.DailyBias = "Neutral"
	Synthesize(r)
	assert.Equal(t, ConsiderSell, r.FinalTradeSignal)
}

func TestSynthesize_Balanced(t *testing.T) {
	r := model.NewAnalysisResult("1")
	r.PriceVsVwapSignal = "Above VWAP"
	r.InitialBalanceSignal = "IB Extension Up"
	r.MarketStructure = "Trending Down"
	r.OiSignal = "Short Buildup"
	Synthesize(r)

	assert.Zero(t, r.ConvictionScore)
	assert.Equal(t, NoEdge, r.FinalTradeSignal)
}
