// Package agg builds multi-timeframe OHLCV+VWAP candles from ticks for a
// single instrument and detects session (IST date) rollover.
package agg

import (
	"fmt"
	"time"

	"tick-analytics/internal/markethours"
	"tick-analytics/internal/model"
)

// CandleUpdate is emitted for every candle creation or extension.
type CandleUpdate struct {
	SecurityID string        `json:"security_id"`
	Timeframe  time.Duration `json:"-"`
	TF         string        `json:"tf"` // e.g. "5m"
	Candle     model.Candle  `json:"candle"`
	Created    bool          `json:"created"`
}

// Result describes what one tick did to the candle series.
type Result struct {
	// Late is set when the tick belongs to an already closed 1m period; nothing was applied.
	Late bool
	// Rollover is set when the tick starts a new session date; all series were cleared first.
	Rollover bool
	// Created lists timeframes that started a new candle on this tick.
	Created []time.Duration
	// ClosedMinute is the 1m candle that closed because this tick opened a new one.
	ClosedMinute *model.Candle
	Updates      []CandleUpdate
}

// NewCandle reports whether tf started a new candle on this tick.
func (r *Result) NewCandle(tf time.Duration) bool {
	for _, c := range r.Created {
		if c == tf {
			return true
		}
	}
	return false
}

// Aggregator holds the candle series of one instrument.
// It is owned by the instrument's worker goroutine and is not goroutine-safe.
type Aggregator struct {
	securityID string
	tfs        []time.Duration
	series     map[time.Duration][]model.Candle

	// OnDroppedTick is called when a late tick is rejected (optional).
	OnDroppedTick func()
}

// New creates an aggregator for the given timeframes. The first timeframe
// must be one minute; it drives profile updates and late-tick detection.
func New(securityID string, tfs []time.Duration) (*Aggregator, error) {
	if len(tfs) == 0 || tfs[0] != time.Minute {
		return nil, fmt.Errorf("agg: first timeframe must be 1m, got %v", tfs)
	}
	for _, tf := range tfs {
		if tf <= 0 || (24*time.Hour)%tf != 0 {
			return nil, fmt.Errorf("agg: timeframe %v does not divide a day", tf)
		}
	}
	s := make(map[time.Duration][]model.Candle, len(tfs))
	for _, tf := range tfs {
		s[tf] = nil
	}
	return &Aggregator{securityID: securityID, tfs: tfs, series: s}, nil
}

// Timeframes returns the configured timeframes.
func (a *Aggregator) Timeframes() []time.Duration { return a.tfs }

// PeriodStart floors ts to the timeframe boundary.
func PeriodStart(ts time.Time, tf time.Duration) time.Time {
	return ts.UTC().Truncate(tf)
}

// Apply folds one tick into every timeframe.
func (a *Aggregator) Apply(t model.Tick) Result {
	var res Result

	minute := a.series[time.Minute]
	if n := len(minute); n > 0 {
		last := minute[n-1]
		if PeriodStart(t.TS, time.Minute).Before(last.TS) {
			if a.OnDroppedTick != nil {
				a.OnDroppedTick()
			}
			res.Late = true
			return res
		}
		if !model.SameDay(markethours.SessionDate(last.TS), markethours.SessionDate(t.TS)) {
			a.Reset()
			res.Rollover = true
		}
	}

	res.Updates = make([]CandleUpdate, 0, len(a.tfs))
	for _, tf := range a.tfs {
		c, created, closed := a.applyTF(tf, t)
		if created {
			res.Created = append(res.Created, tf)
			if tf == time.Minute && closed != nil {
				res.ClosedMinute = closed
			}
		}
		res.Updates = append(res.Updates, CandleUpdate{
			SecurityID: a.securityID,
			Timeframe:  tf,
			TF:         model.TFKey(tf),
			Candle:     c,
			Created:    created,
		})
	}
	return res
}

// applyTF returns the updated candle, whether it was created, and the
// previously open candle when a new one started.
func (a *Aggregator) applyTF(tf time.Duration, t model.Tick) (model.Candle, bool, *model.Candle) {
	candles := a.series[tf]
	start := PeriodStart(t.TS, tf)

	if n := len(candles); n > 0 && candles[n-1].TS.Equal(start) {
		c := &candles[n-1]
		if t.LTP > c.High {
			c.High = t.LTP
		}
		if t.LTP < c.Low {
			c.Low = t.LTP
		}
		c.Close = t.LTP
		c.Volume += t.LastTradedQty
		c.OpenInterest = t.OpenInterest
		c.CumPriceVolume += t.AvgTradePrice * float64(t.LastTradedQty)
		c.CumVolume += t.LastTradedQty
		if c.CumVolume > 0 {
			c.VWAP = c.CumPriceVolume / float64(c.CumVolume)
		} else {
			c.VWAP = c.Close
		}
		return *c, false, nil
	}

	var closed *model.Candle
	if n := len(candles); n > 0 {
		prev := candles[n-1]
		closed = &prev
	}
	c := model.Candle{
		TS:             start,
		Open:           t.LTP,
		High:           t.LTP,
		Low:            t.LTP,
		Close:          t.LTP,
		Volume:         t.LastTradedQty,
		OpenInterest:   t.OpenInterest,
		VWAP:           t.AvgTradePrice,
		CumPriceVolume: t.AvgTradePrice * float64(t.LastTradedQty),
		CumVolume:      t.LastTradedQty,
	}
	a.series[tf] = append(candles, c)
	return c, true, closed
}

// Series returns the live candle slice of tf. The slice is owned by the
// aggregator; callers on the owning goroutine may read it but must not keep it.
func (a *Aggregator) Series(tf time.Duration) []model.Candle {
	return a.series[tf]
}

// Closed returns the closed candles of tf (all but the forming one).
func (a *Aggregator) Closed(tf time.Duration) []model.Candle {
	s := a.series[tf]
	if len(s) == 0 {
		return nil
	}
	return s[:len(s)-1]
}

// Candles returns a copy of tf's series for other goroutines.
func (a *Aggregator) Candles(tf time.Duration) ([]model.Candle, bool) {
	s, ok := a.series[tf]
	if !ok {
		return nil, false
	}
	return append([]model.Candle(nil), s...), true
}

// Seed prepends historical candles to tf's series. Candles older than the
// first live candle are prepended; one sharing its period is merged into
// it, so the live candle covers the whole period. The caller must pass only
// history from before the first live tick, or volume is counted twice.
// Returns the number of historical candles used.
func (a *Aggregator) Seed(tf time.Duration, hist []model.Candle) int {
	live, ok := a.series[tf]
	if !ok || len(hist) == 0 {
		return 0
	}
	if len(live) == 0 {
		a.series[tf] = append([]model.Candle(nil), hist...)
		return len(hist)
	}

	first := live[0]
	cut := 0
	for cut < len(hist) && hist[cut].TS.Before(first.TS) {
		cut++
	}
	used := cut
	merged := make([]model.Candle, 0, cut+len(live))
	merged = append(merged, hist[:cut]...)
	if cut < len(hist) && hist[cut].TS.Equal(first.TS) {
		first = mergeInto(first, hist[cut])
		used++
	}
	merged = append(merged, first)
	merged = append(merged, live[1:]...)
	a.series[tf] = merged
	return used
}

// mergeInto folds the earlier part h of a period into the live candle c.
func mergeInto(c, h model.Candle) model.Candle {
	c.Open = h.Open
	if h.High > c.High {
		c.High = h.High
	}
	if h.Low < c.Low {
		c.Low = h.Low
	}
	c.Volume += h.Volume
	c.CumPriceVolume += h.CumPriceVolume
	c.CumVolume += h.CumVolume
	if c.CumVolume > 0 {
		c.VWAP = c.CumPriceVolume / float64(c.CumVolume)
	}
	return c
}

// Reset clears every series.
func (a *Aggregator) Reset() {
	for tf := range a.series {
		a.series[tf] = nil
	}
}
