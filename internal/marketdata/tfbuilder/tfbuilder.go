// Package tfbuilder resamples historical 1-minute bars into larger
// timeframes. It is used to seed live candle series during mid-session
// backfill, where the bars come from the broker rather than from ticks.
package tfbuilder

import (
	"time"

	"tick-analytics/internal/model"
)

// Resample groups minute bars into tf buckets (bucket = TS truncated to tf).
// Input must be sorted by TS. VWAP is close-weighted since historical bars
// carry no average traded price.
func Resample(minute []model.Candle, tf time.Duration) []model.Candle {
	if len(minute) == 0 || tf <= 0 {
		return nil
	}
	out := make([]model.Candle, 0, len(minute)/int(max(tf/time.Minute, 1))+1)
	var cur *model.Candle
	for _, m := range minute {
		bucket := m.TS.UTC().Truncate(tf)
		if cur == nil || !cur.TS.Equal(bucket) {
			if cur != nil {
				finalize(cur)
			}
			out = append(out, model.Candle{
				TS:   bucket,
				Open: m.Open,
				High: m.High,
				Low:  m.Low,
			})
			cur = &out[len(out)-1]
		}
		if m.High > cur.High {
			cur.High = m.High
		}
		if m.Low < cur.Low {
			cur.Low = m.Low
		}
		cur.Close = m.Close
		cur.Volume += m.Volume
		cur.OpenInterest = m.OpenInterest
		cur.CumPriceVolume += m.Close * float64(m.Volume)
		cur.CumVolume += m.Volume
	}
	finalize(cur)
	return out
}

func finalize(c *model.Candle) {
	div := float64(c.CumVolume)
	if div == 0 {
		div = 1
	}
	c.VWAP = c.CumPriceVolume / div
}
