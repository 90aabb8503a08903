package indicator

import "tick-analytics/internal/model"

// TimeframeState bundles every indicator state of one (instrument, timeframe).
type TimeframeState struct {
	PriceEMA EMAState
	VwapEMA  EMAState
	RSI      *RSIState
	ATR      *ATRState
	OBV      *OBVState
}

// Output is the set of readings produced by one Update.
type Output struct {
	EMASignal     string  `json:"ema_signal"`
	VwapEMASignal string  `json:"vwap_ema_signal"`
	RSI           float64 `json:"rsi"`
	ATR           float64 `json:"atr"`
	ATRSignal     string  `json:"atr_signal"`
	OBV           float64 `json:"obv"`
	OBVSignal     string  `json:"obv_signal"`
}

// NewTimeframeState creates an empty bundle.
func NewTimeframeState() *TimeframeState {
	return &TimeframeState{
		RSI: NewRSIState(),
		ATR: NewATRState(),
		OBV: NewOBVState(),
	}
}

// Update advances every state by the newest candle of closed, the
// closed-candle sequence of the timeframe in session order.
func (s *TimeframeState) Update(closed []model.Candle, p Params) Output {
	closes := make([]float64, len(closed))
	vwaps := make([]float64, len(closed))
	for i, c := range closed {
		closes[i] = c.Close
		vwaps[i] = c.VWAP
	}

	var out Output
	out.EMASignal = s.PriceEMA.Update(closes, p.ShortEMA, p.LongEMA)
	out.VwapEMASignal = s.VwapEMA.Update(vwaps, p.ShortEMA, p.LongEMA)
	out.RSI = s.RSI.Update(closes, p.RSIPeriod)
	out.ATR = s.ATR.Update(closed, p.ATRPeriod)
	out.ATRSignal = s.ATR.Signal(out.ATR, p.ATRSMAPeriod)
	out.OBV = s.OBV.Update(closed)
	out.OBVSignal = s.OBV.Signal(p.OBVPeriod)
	return out
}

// Reset clears the bundle at session rollover.
func (s *TimeframeState) Reset() {
	s.PriceEMA.Reset()
	s.VwapEMA.Reset()
	s.RSI.Reset()
	s.ATR.Reset()
	s.OBV.Reset()
}
