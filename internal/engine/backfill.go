package engine

import (
	"context"
	"fmt"
	"log"
	"time"

	"tick-analytics/internal/indicator"
	"tick-analytics/internal/marketdata/tfbuilder"
	"tick-analytics/internal/markethours"
	"tick-analytics/internal/model"
	"tick-analytics/internal/profile"
)

// backfillKind says what a backfill fetched.
type backfillKind int

const (
	// previousSession: the last trading day's bars become a finalized profile.
	previousSession backfillKind = iota
	// intraday: after the open, today's bars seed the live profile and candles.
	intraday
)

func (k backfillKind) String() string {
	if k == previousSession {
		return "previous-session"
	}
	return "intraday"
}

// backfillResult is produced off the worker goroutine and applied on it.
type backfillResult struct {
	kind backfillKind
	date time.Time
	bars []model.Candle
	err  error
}

// needsPreviousSession reports whether st lacks the profile of the trading
// day before now. It reads state, so it must run on the worker goroutine.
func (a *Analyzer) needsPreviousSession(st *InstrumentState, now time.Time) bool {
	return !st.History.Has(markethours.PreviousTradingDay(now))
}

// fetchBackfill loads the bars a new instrument needs, given the time it
// was first observed: the previous session when withPrevious is set, then
// today's bars once the session has opened. It performs I/O only and
// touches no state.
func (a *Analyzer) fetchBackfill(ctx context.Context, inst model.Instrument, now time.Time, withPrevious bool) []backfillResult {
	var out []backfillResult
	if withPrevious {
		out = append(out, a.fetch(ctx, inst, previousSession, markethours.PreviousTradingDay(now)))
	}
	if !markethours.IsPreOpen(now) && ctx.Err() == nil {
		out = append(out, a.fetch(ctx, inst, intraday, markethours.SessionDate(now)))
	}
	return out
}

func (a *Analyzer) fetch(ctx context.Context, inst model.Instrument, kind backfillKind, date time.Time) backfillResult {
	br := backfillResult{kind: kind, date: date}
	bars, err := a.stores.Bars.FetchIntraday(ctx, inst, date)
	if err != nil {
		br.err = fmt.Errorf("engine: backfill %s %s: %w", inst.SecurityID, date.Format("2006-01-02"), err)
		return br
	}
	br.bars = bars
	return br
}

// applyBackfill merges a completed fetch into st. It must run on the
// worker goroutine.
func (a *Analyzer) applyBackfill(st *InstrumentState, br backfillResult) {
	id := st.Inst.SecurityID
	if br.err != nil {
		log.Printf("[engine] %v", br.err)
		return
	}
	if len(br.bars) == 0 {
		log.Printf("[engine] %s: no %s bars for %s", id, br.kind, br.date.Format("2006-01-02"))
		return
	}

	switch br.kind {
	case previousSession:
		if st.History.Has(br.date) {
			return
		}
		p, err := profile.New(st.Inst.ProfileTickSize(), markethours.SessionStart(br.date))
		if err != nil {
			log.Printf("[engine] %s: backfill profile: %v", id, err)
			return
		}
		for _, c := range br.bars {
			p.Update(c)
		}
		data := p.Finalize()
		st.History.Upsert(data)
		if a.stores.Profiles != nil {
			a.stores.Profiles.UpsertProfile(id, data)
		}
		log.Printf("[engine] %s: built %s profile from %d bars (POC %.2f VAH %.2f VAL %.2f)",
			id, br.date.Format("2006-01-02"), len(br.bars), data.TPO.POC, data.TPO.VAH, data.TPO.VAL)

	case intraday:
		if !model.SameDay(br.date, st.SessionDate) {
			log.Printf("[engine] %s: discarding intraday backfill for %s, session is %s",
				id, br.date.Format("2006-01-02"), st.SessionDate.Format("2006-01-02"))
			return
		}
		a.seedIntraday(st, br.bars)
	}
	st.biasFrozen = false
}

// seedIntraday folds today's historical minute bars in ahead of the live
// candles. Only bars strictly before the first live minute are used; a
// larger bucket they share with the first live candle is merged into it.
func (a *Analyzer) seedIntraday(st *InstrumentState, bars []model.Candle) {
	id := st.Inst.SecurityID
	hist := bars
	if live := st.Candles.Series(time.Minute); len(live) > 0 {
		cut := 0
		for cut < len(hist) && hist[cut].TS.Before(live[0].TS) {
			cut++
		}
		hist = hist[:cut]
	}
	if len(hist) == 0 {
		return
	}

	for _, c := range hist {
		st.Profile.Update(c)
	}
	if a.stores.Profiles != nil {
		a.stores.Profiles.UpsertProfile(id, st.Profile.Data())
	}

	for _, tf := range a.timeframes {
		series := hist
		if tf != time.Minute {
			series = tfbuilder.Resample(hist, tf)
		}
		if n := st.Candles.Seed(tf, series); n > 0 {
			a.replayIndicators(st, tf)
		}
	}
	log.Printf("[engine] %s: seeded %d intraday bars", id, len(hist))
}

// replayIndicators rebuilds tf's indicator state over its closed candles
// in order, as if they had closed live.
func (a *Analyzer) replayIndicators(st *InstrumentState, tf time.Duration) {
	closed := st.Candles.Closed(tf)
	st.Indicators[tf] = indicator.NewTimeframeState()
	for i := 1; i < len(closed); i++ {
		st.Indicators[tf].Update(closed[:i], a.params)
	}
	if len(closed) > 0 {
		a.onCandleClose(st, tf, closed)
	}
}
