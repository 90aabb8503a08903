package indicator

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"tick-analytics/internal/model"
)

// Snapshot is the persisted form of a TimeframeState. Histories are not
// stored; a restored state rebuilds them from new candles.
type Snapshot struct {
	LastShortEma         float64 `json:"last_short_ema"`
	LastLongEma          float64 `json:"last_long_ema"`
	LastVwapShortEma     float64 `json:"last_vwap_short_ema"`
	LastVwapLongEma      float64 `json:"last_vwap_long_ema"`
	LastRsiAvgGain       float64 `json:"last_rsi_avg_gain"`
	LastRsiAvgLoss       float64 `json:"last_rsi_avg_loss"`
	LastAtr              float64 `json:"last_atr"`
	LastObv              float64 `json:"last_obv"`
	LastObvMovingAverage float64 `json:"last_obv_moving_average"`
}

// Key returns the storage key of an instrument timeframe, e.g. "2885_5".
func Key(securityID string, tf time.Duration) string {
	return securityID + "_" + strconv.Itoa(model.TFMinutes(tf))
}

// Snapshot captures the carried-forward values of s.
func (s *TimeframeState) Snapshot() Snapshot {
	return Snapshot{
		LastShortEma:         s.PriceEMA.Short,
		LastLongEma:          s.PriceEMA.Long,
		LastVwapShortEma:     s.VwapEMA.Short,
		LastVwapLongEma:      s.VwapEMA.Long,
		LastRsiAvgGain:       s.RSI.AvgGain,
		LastRsiAvgLoss:       s.RSI.AvgLoss,
		LastAtr:              s.ATR.Current,
		LastObv:              s.OBV.Current,
		LastObvMovingAverage: s.OBV.MovingAverage,
	}
}

// Restore loads snap into s. Non-zero restored averages count as initialized.
func (s *TimeframeState) Restore(snap Snapshot) {
	s.PriceEMA = EMAState{
		Short:       snap.LastShortEma,
		Long:        snap.LastLongEma,
		Initialized: snap.LastShortEma != 0 && snap.LastLongEma != 0,
	}
	s.VwapEMA = EMAState{
		Short:       snap.LastVwapShortEma,
		Long:        snap.LastVwapLongEma,
		Initialized: snap.LastVwapShortEma != 0 && snap.LastVwapLongEma != 0,
	}
	s.RSI.AvgGain = snap.LastRsiAvgGain
	s.RSI.AvgLoss = snap.LastRsiAvgLoss
	s.RSI.Initialized = snap.LastRsiAvgGain != 0 || snap.LastRsiAvgLoss != 0
	s.ATR.Current = snap.LastAtr
	s.ATR.Initialized = snap.LastAtr != 0
	s.OBV.Current = snap.LastObv
	s.OBV.MovingAverage = snap.LastObvMovingAverage
}

// IsZero reports whether the snapshot carries no state.
func (snap Snapshot) IsZero() bool { return snap == Snapshot{} }

// Marshal encodes the snapshot for an IndicatorStateStore.
func (snap Snapshot) Marshal() ([]byte, error) {
	b, err := json.Marshal(snap)
	if err != nil {
		return nil, fmt.Errorf("indicator: marshal snapshot: %w", err)
	}
	return b, nil
}

// UnmarshalSnapshot decodes a stored snapshot.
func UnmarshalSnapshot(data []byte) (Snapshot, error) {
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return Snapshot{}, fmt.Errorf("indicator: unmarshal snapshot: %w", err)
	}
	return snap, nil
}
