// Package ivanalytics tracks option implied volatility per moneyness
// bucket: intraday percentile, 90-day rank, percentile trend and a simple
// IV spike signal.
package ivanalytics

import (
	"fmt"
	"math"
	"time"

	"github.com/shopspring/decimal"

	"tick-analytics/internal/model"
	"tick-analytics/internal/ringbuf"
)

// StrikeStep is the strike distance of one moneyness unit.
const StrikeStep = 50

// percentileHistory is the capacity of the percentile ring.
const percentileHistory = 10

// Trend signals.
const (
	BuildingHistory = "Building History..."
	SpikeUp         = "IV Spike Up"
	Contraction     = "IV Contraction"
	CrushWarning    = "IV Crush Warning"
	RisingMomentum  = "IV Rising (Momentum)"
	LowAndStable    = "IV Low & Stable"
	Neutral         = "Neutral"
)

// BucketKey returns "{underlying}_{moneyness}_{optionType}", e.g.
// "NIFTY_ATM+2_CE", or "" when the instrument cannot be bucketed.
func BucketKey(inst model.Instrument, underlyingPrice float64) string {
	if inst.Underlying == "" || inst.StrikePrice <= 0 {
		return ""
	}
	dist := decimal.NewFromFloat((inst.StrikePrice - underlyingPrice) / StrikeStep).RoundBank(0).IntPart()
	var m string
	switch {
	case dist == 0:
		m = "ATM"
	case dist > 0:
		m = fmt.Sprintf("ATM+%d", dist)
	default:
		m = fmt.Sprintf("ATM%d", dist)
	}
	return inst.Underlying + "_" + m + "_" + inst.OptionType
}

// IntradayState is the day's IV range and percentile history of one bucket.
type IntradayState struct {
	DayHigh     float64
	DayLow      float64
	Percentiles *ringbuf.Ring[float64]
}

// NewIntradayState returns an empty state; DayLow starts at +Inf.
func NewIntradayState() *IntradayState {
	return &IntradayState{
		DayLow:      math.Inf(1),
		Percentiles: ringbuf.New[float64](percentileHistory),
	}
}

// Observe widens the day range with iv.
func (s *IntradayState) Observe(iv float64) {
	s.DayHigh = math.Max(s.DayHigh, iv)
	s.DayLow = math.Min(s.DayLow, iv)
}

// Percentile places current within the day range, 0..100 rounded to 2 dp.
func (s *IntradayState) Percentile(current float64) float64 {
	rng := s.DayHigh - s.DayLow
	if !(rng > 0) || math.IsInf(rng, 0) {
		return 0
	}
	return round2((current - s.DayLow) / rng * 100)
}

// Rank places current within a historical high/low range, rounded to 2 dp.
func Rank(current, high, low float64) float64 {
	rng := high - low
	if rng <= 0 {
		return 0
	}
	return round2((current - low) / rng * 100)
}

// Trend appends ivp to the percentile history and classifies the move.
func (s *IntradayState) Trend(ivp, ivr float64) string {
	s.Percentiles.Push(ivp)
	n := s.Percentiles.Len()
	if n < 5 {
		return BuildingHistory
	}
	vals := s.Percentiles.Values()
	recent, prev := vals[n-1], vals[n-2]
	avg5 := avg(vals[n-5:])
	avg10 := avg(vals)

	switch {
	case recent > prev+15 && recent > 60:
		return SpikeUp
	case recent < prev-15 && recent < 40:
		return Contraction
	case ivr > 85 && recent < avg5 && recent < avg10:
		return CrushWarning
	case ivr < 60 && recent > avg5 && prev < avg10:
		return RisingMomentum
	case ivr < 20 && ivp < 20:
		return LowAndStable
	}
	return Neutral
}

// Reading is the IV analytics output for one option tick.
type Reading struct {
	Key        string  `json:"key"`
	Rank       float64 `json:"iv_rank"`
	Percentile float64 `json:"iv_percentile"`
	Trend      string  `json:"iv_trend"`
}

// Tracker owns the intraday bucket states seen by one worker and records
// day ranges into the shared history.
type Tracker struct {
	hist   model.IVHistory
	states map[string]*IntradayState
}

// NewTracker creates a tracker backed by hist (may be nil: rank stays 0).
func NewTracker(hist model.IVHistory) *Tracker {
	return &Tracker{hist: hist, states: make(map[string]*IntradayState)}
}

// Observe processes one option IV print for bucket key on session date.
// Returns false for an empty key or non-positive IV.
func (t *Tracker) Observe(key string, iv float64, date time.Time) (Reading, bool) {
	if key == "" || !(iv > 0) {
		return Reading{}, false
	}
	st, ok := t.states[key]
	if !ok {
		st = NewIntradayState()
		t.states[key] = st
	}
	st.Observe(iv)

	var hi, lo float64
	if t.hist != nil {
		t.hist.RecordDaily(key, date, st.DayHigh, st.DayLow)
		hi, lo = t.hist.Get90DayRange(key)
	}
	rank := Rank(iv, hi, lo)
	pct := st.Percentile(iv)
	return Reading{Key: key, Rank: rank, Percentile: pct, Trend: st.Trend(pct, rank)}, true
}

// State returns the bucket state, if any.
func (t *Tracker) State(key string) (*IntradayState, bool) {
	st, ok := t.states[key]
	return st, ok
}

// Reset drops all intraday states at session rollover.
func (t *Tracker) Reset() {
	t.states = make(map[string]*IntradayState)
}

func avg(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	var s float64
	for _, x := range xs {
		s += x
	}
	return s / float64(len(xs))
}

func round2(v float64) float64 {
	return decimal.NewFromFloat(v).RoundBank(2).InexactFloat64()
}
