package model

import (
	"encoding/json"
	"strings"
	"time"
)

// AnalysisResult is the full analysis snapshot of one instrument.
// The engine owns one mutable result per instrument and emits copies.
type AnalysisResult struct {
	SecurityID      string    `json:"security_id"`
	Symbol          string    `json:"symbol"`
	InstrumentGroup string    `json:"instrument_group"`
	UnderlyingGroup string    `json:"underlying_group"`
	LTP             float64   `json:"ltp"`
	TS              time.Time `json:"ts"`

	Vwap          float64 `json:"vwap"`
	CurrentVolume int64   `json:"current_volume"`
	AvgVolume     int64   `json:"avg_volume"`
	VolumeSignal  string  `json:"volume_signal"`
	OiSignal      string  `json:"oi_signal"`

	EmaSignal1Min      string `json:"ema_signal_1m"`
	EmaSignal5Min      string `json:"ema_signal_5m"`
	EmaSignal15Min     string `json:"ema_signal_15m"`
	VwapEmaSignal1Min  string `json:"vwap_ema_signal_1m"`
	VwapEmaSignal5Min  string `json:"vwap_ema_signal_5m"`
	VwapEmaSignal15Min string `json:"vwap_ema_signal_15m"`

	RsiValue1Min            float64 `json:"rsi_1m"`
	RsiSignal1Min           string  `json:"rsi_signal_1m"`
	RsiValue5Min            float64 `json:"rsi_5m"`
	RsiSignal5Min           string  `json:"rsi_signal_5m"`
	ObvValue1Min            float64 `json:"obv_1m"`
	ObvSignal1Min           string  `json:"obv_signal_1m"`
	ObvDivergenceSignal1Min string  `json:"obv_divergence_1m"`
	ObvValue5Min            float64 `json:"obv_5m"`
	ObvSignal5Min           string  `json:"obv_signal_5m"`
	ObvDivergenceSignal5Min string  `json:"obv_divergence_5m"`
	Atr1Min                 float64 `json:"atr_1m"`
	AtrSignal1Min           string  `json:"atr_signal_1m"`
	Atr5Min                 float64 `json:"atr_5m"`
	AtrSignal5Min           string  `json:"atr_signal_5m"`

	CurrentIv     float64 `json:"current_iv"`
	AvgIv         float64 `json:"avg_iv"`
	IvSignal      string  `json:"iv_signal"`
	IvRank        float64 `json:"iv_rank"`
	IvPercentile  float64 `json:"iv_percentile"`
	IvTrendSignal string  `json:"iv_trend_signal"`

	DevelopingPoc        float64 `json:"developing_poc"`
	DevelopingVah        float64 `json:"developing_vah"`
	DevelopingVal        float64 `json:"developing_val"`
	DevelopingVpoc       float64 `json:"developing_vpoc"`
	InitialBalanceHigh   float64 `json:"ib_high"`
	InitialBalanceLow    float64 `json:"ib_low"`
	InitialBalanceSignal string  `json:"ib_signal"`
	MarketProfileSignal  string  `json:"market_profile_signal"`
	MarketStructure      string  `json:"market_structure"`
	DailyBias            string  `json:"daily_bias"`

	PriceVsVwapSignal  string `json:"price_vs_vwap"`
	PriceVsCloseSignal string `json:"price_vs_close"`
	DayRangeSignal     string `json:"day_range"`
	OpenDriveSignal    string `json:"open_drive"`
	CustomLevelSignal  string `json:"custom_level_signal"`
	CandleSignal1Min   string `json:"candle_signal_1m"`
	CandleSignal5Min   string `json:"candle_signal_5m"`

	BullishDrivers   []string `json:"bullish_drivers"`
	BearishDrivers   []string `json:"bearish_drivers"`
	KeySignalDrivers []string `json:"key_signal_drivers"`
	ConvictionScore  int      `json:"conviction_score"`
	FinalTradeSignal string   `json:"final_trade_signal"`
}

// NewAnalysisResult returns a result with every signal at its initial sentinel.
func NewAnalysisResult(securityID string) *AnalysisResult {
	return &AnalysisResult{
		SecurityID:              securityID,
		VolumeSignal:            "Neutral",
		OiSignal:                "N/A",
		EmaSignal1Min:           "N/A",
		EmaSignal5Min:           "N/A",
		EmaSignal15Min:          "N/A",
		VwapEmaSignal1Min:       "N/A",
		VwapEmaSignal5Min:       "N/A",
		VwapEmaSignal15Min:      "N/A",
		RsiSignal1Min:           "N/A",
		RsiSignal5Min:           "N/A",
		ObvSignal1Min:           "N/A",
		ObvDivergenceSignal1Min: "N/A",
		ObvSignal5Min:           "N/A",
		ObvDivergenceSignal5Min: "N/A",
		AtrSignal1Min:           "N/A",
		AtrSignal5Min:           "N/A",
		IvSignal:                "N/A",
		IvTrendSignal:           "N/A",
		InitialBalanceSignal:    "N/A",
		MarketProfileSignal:     "N/A",
		MarketStructure:         "N/A",
		DailyBias:               "Calculating...",
		PriceVsVwapSignal:       "Neutral",
		PriceVsCloseSignal:      "Neutral",
		DayRangeSignal:          "Neutral",
		OpenDriveSignal:         "Neutral",
		CustomLevelSignal:       "N/A",
		CandleSignal1Min:        "N/A",
		CandleSignal5Min:        "N/A",
		FinalTradeSignal:        "Neutral / No Edge",
	}
}

// Clone returns a deep copy safe to hand to other goroutines.
func (r *AnalysisResult) Clone() AnalysisResult {
	c := *r
	c.BullishDrivers = append([]string(nil), r.BullishDrivers...)
	c.BearishDrivers = append([]string(nil), r.BearishDrivers...)
	c.KeySignalDrivers = append([]string(nil), r.KeySignalDrivers...)
	return c
}

// JSON returns the JSON-encoded result (ignoring errors for hot-path usage).
func (r *AnalysisResult) JSON() []byte {
	b, _ := json.Marshal(r)
	return b
}

// FullGroupIdentifier refines the instrument group by underlying,
// e.g. "Nifty Options" or "Stock Futures".
func (r *AnalysisResult) FullGroupIdentifier() string {
	u := strings.ToUpper(r.UnderlyingGroup)
	switch r.InstrumentGroup {
	case "Options":
		switch {
		case strings.Contains(u, "NIFTY") && !strings.Contains(u, "BANK"):
			return "Nifty Options"
		case strings.Contains(u, "BANKNIFTY"):
			return "Banknifty Options"
		case strings.Contains(u, "SENSEX"):
			return "Sensex Options"
		}
		return "Other Stock Options"
	case "Futures":
		if strings.Contains(u, "NIFTY") || strings.Contains(u, "SENSEX") {
			return "Index Futures"
		}
		return "Stock Futures"
	}
	return r.InstrumentGroup
}
