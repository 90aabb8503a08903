package engine

import (
	"time"

	"tick-analytics/internal/indicator"
	"tick-analytics/internal/ivanalytics"
	"tick-analytics/internal/marketdata/agg"
	"tick-analytics/internal/model"
	"tick-analytics/internal/profile"
	"tick-analytics/internal/synth"
)

// InstrumentState is everything the analyzer keeps for one instrument.
// It is owned by exactly one worker goroutine.
type InstrumentState struct {
	Inst        model.Instrument
	SessionDate time.Time

	Candles    *agg.Aggregator
	Indicators map[time.Duration]*indicator.TimeframeState

	Profile *profile.Profile
	History *profile.History
	IB      profile.IBTracker
	Levels  synth.LevelTracker

	IV    *ivanalytics.Tracker
	Spike *ivanalytics.SpikeDetector

	// tick-level day VWAP accumulators
	cumPriceVolume float64
	cumVolume      int64

	// biasFrozen is set once the day's open is known.
	biasFrozen bool

	backfillStarted bool

	Result *model.AnalysisResult
}

// resetSession clears all per-session state and opens a profile for the
// session starting at start.
func (st *InstrumentState) resetSession(date time.Time, p *profile.Profile) {
	st.SessionDate = date
	st.Profile = p
	for _, ind := range st.Indicators {
		ind.Reset()
	}
	st.IB.Reset()
	st.Levels.Reset()
	st.IV.Reset()
	st.Spike.Reset()
	st.cumPriceVolume = 0
	st.cumVolume = 0
	st.biasFrozen = false
	st.Result = model.NewAnalysisResult(st.Inst.SecurityID)
}

// sameOrAfter reports whether a's calendar date is on or after b's.
func sameOrAfter(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return !time.Date(ay, am, ad, 0, 0, 0, 0, time.UTC).Before(time.Date(by, bm, bd, 0, 0, 0, 0, time.UTC))
}

// finalizedBefore keeps the sessions dated before today.
func finalizedBefore(sessions []model.MarketProfileData, today time.Time) []model.MarketProfileData {
	out := make([]model.MarketProfileData, 0, len(sessions))
	for _, s := range sessions {
		if !sameOrAfter(s.Date, today) {
			out = append(out, s)
		}
	}
	return out
}
