// Package engine runs the per-instrument analysis pipeline: candle
// aggregation, indicators, divergence, market profile, IV analytics and
// signal synthesis, one goroutine per instrument.
package engine

import (
	"fmt"
	"log"
	"math"
	"time"

	"tick-analytics/config"
	"tick-analytics/internal/divergence"
	"tick-analytics/internal/indicator"
	"tick-analytics/internal/ivanalytics"
	"tick-analytics/internal/marketdata/agg"
	"tick-analytics/internal/markethours"
	"tick-analytics/internal/model"
	"tick-analytics/internal/profile"
	"tick-analytics/internal/synth"
)

// Stores are the collaborators shared by every worker. Any may be nil.
type Stores struct {
	Profiles   model.ProfileStore
	IV         model.IVHistory
	Indicators model.IndicatorStateStore
	Bars       model.HistoricalBars
}

// Analyzer holds the read-only configuration of the pipeline and runs it
// against an InstrumentState. It keeps no per-instrument state itself.
type Analyzer struct {
	settings   config.Settings
	params     indicator.Params
	timeframes []time.Duration
	stores     Stores
}

// NewAnalyzer validates settings and timeframes. The first timeframe must be 1m.
func NewAnalyzer(settings config.Settings, timeframes []time.Duration, stores Stores) (*Analyzer, error) {
	if err := settings.Validate(); err != nil {
		return nil, err
	}
	if len(timeframes) == 0 || timeframes[0] != time.Minute {
		return nil, fmt.Errorf("engine: first timeframe must be 1m, got %v", timeframes)
	}
	return &Analyzer{
		settings:   settings,
		timeframes: timeframes,
		stores:     stores,
		params: indicator.Params{
			ShortEMA:     settings.ShortEMALength,
			LongEMA:      settings.LongEMALength,
			RSIPeriod:    settings.RsiPeriod,
			ATRPeriod:    settings.AtrPeriod,
			ATRSMAPeriod: settings.AtrSmaPeriod,
			OBVPeriod:    settings.ObvMovingAveragePeriod,
		},
	}, nil
}

// Timeframes returns the configured candle timeframes.
func (a *Analyzer) Timeframes() []time.Duration { return a.timeframes }

// Stores returns the shared collaborators.
func (a *Analyzer) Stores() Stores { return a.stores }

// NewState creates the state of inst for the session containing first.
// Stored finalized profiles seed the history and stored indicator
// snapshots are restored.
func (a *Analyzer) NewState(inst model.Instrument, first time.Time) (*InstrumentState, error) {
	candles, err := agg.New(inst.SecurityID, a.timeframes)
	if err != nil {
		return nil, err
	}
	p, err := profile.New(inst.ProfileTickSize(), markethours.SessionStart(first))
	if err != nil {
		return nil, fmt.Errorf("engine: instrument %s: %w", inst.SecurityID, err)
	}

	st := &InstrumentState{
		Inst:        inst,
		SessionDate: markethours.SessionDate(first),
		Candles:     candles,
		Indicators:  make(map[time.Duration]*indicator.TimeframeState, len(a.timeframes)),
		Profile:     p,
		IV:          ivanalytics.NewTracker(a.stores.IV),
		Spike:       ivanalytics.NewSpikeDetector(a.settings.IvHistoryLength, a.settings.IvSpikeThreshold),
		Result:      model.NewAnalysisResult(inst.SecurityID),
	}
	for _, tf := range a.timeframes {
		st.Indicators[tf] = indicator.NewTimeframeState()
	}

	var stored []model.MarketProfileData
	if a.stores.Profiles != nil {
		stored = a.stores.Profiles.GetProfiles(inst.SecurityID)
	}
	st.History = profile.NewHistory(finalizedBefore(stored, st.SessionDate))

	a.restoreSnapshots(st)
	return st, nil
}

// Process runs the full pipeline for one tick. ok is false when the tick
// was not applied (late or unusable); nothing is emitted then.
func (a *Analyzer) Process(st *InstrumentState, t model.Tick) (out model.AnalysisResult, res agg.Result, ok bool) {
	if !(t.LTP > 0) {
		return out, res, false
	}

	var lastMinute *model.Candle
	if s := st.Candles.Series(time.Minute); len(s) > 0 {
		c := s[len(s)-1]
		lastMinute = &c
	}

	res = st.Candles.Apply(t)
	if res.Late {
		return out, res, false
	}
	if res.Rollover {
		if lastMinute != nil {
			st.Profile.Update(*lastMinute)
		}
		a.rollover(st, t.TS)
	}

	r := st.Result

	// ---- 1m close feeds the profile ----
	if res.ClosedMinute != nil {
		st.Profile.Update(*res.ClosedMinute)
		if a.stores.Profiles != nil {
			a.stores.Profiles.UpsertProfile(st.Inst.SecurityID, st.Profile.Data())
		}
	}

	// ---- Indicators on candle close ----
	for _, tf := range res.Created {
		closed := st.Candles.Closed(tf)
		if len(closed) == 0 {
			continue
		}
		a.onCandleClose(st, tf, closed)
	}

	// ---- Day VWAP ----
	st.cumPriceVolume += t.AvgTradePrice * float64(t.LastTradedQty)
	st.cumVolume += t.LastTradedQty
	if st.cumVolume > 0 {
		r.Vwap = st.cumPriceVolume / float64(st.cumVolume)
	}

	// ---- IV ----
	if iv := t.ImpliedVolatility; iv > 0 {
		r.CurrentIv = iv
		r.AvgIv, r.IvSignal = st.Spike.Observe(iv)
		if st.Inst.IsOption() && t.UnderlyingPrice > 0 {
			key := ivanalytics.BucketKey(st.Inst, t.UnderlyingPrice)
			if rd, ok := st.IV.Observe(key, iv, st.SessionDate); ok {
				r.IvRank = rd.Rank
				r.IvPercentile = rd.Percentile
				r.IvTrendSignal = rd.Trend
			}
		}
	}

	// ---- Volume / OI on the live 1m series ----
	minute := st.Candles.Series(time.Minute)
	r.VolumeSignal, r.CurrentVolume, r.AvgVolume = synth.VolumeSignal(minute, a.settings.VolumeHistoryLength, a.settings.VolumeBurstMultiplier)
	r.OiSignal = synth.OISignal(minute)

	// ---- Price action ----
	open, high, low := dayRange(t, minute)
	pa := synth.PriceActionSignals(t.LTP, r.Vwap, open, high, low, t.Close)
	r.PriceVsVwapSignal = pa.VsVwap
	r.PriceVsCloseSignal = pa.VsClose
	r.DayRangeSignal = pa.DayRange
	r.OpenDriveSignal = pa.OpenDrive
	r.CustomLevelSignal = a.customLevel(st, t.LTP)

	// ---- Market profile ----
	p := st.Profile
	r.DevelopingPoc = p.TPO.POC
	r.DevelopingVah = p.TPO.VAH
	r.DevelopingVal = p.TPO.VAL
	r.DevelopingVpoc = p.VPOC
	r.InitialBalanceHigh, r.InitialBalanceLow, _ = p.InitialBalance()
	ib := st.IB.Evaluate(t.LTP, p)
	r.InitialBalanceSignal = ib
	r.MarketProfileSignal = profile.Signal(t.LTP, p, st.History.Previous(st.SessionDate), ib)

	if !st.biasFrozen {
		if b, ok := profile.DailyBias(st.History.Sessions(), st.SessionDate, open); ok {
			if b.Structure != "" {
				r.MarketStructure = b.Structure
			}
			r.DailyBias = b.Bias
			st.biasFrozen = open > 0
		}
	}

	// ---- Identity ----
	r.Symbol = st.Inst.Name()
	r.InstrumentGroup = st.Inst.Group()
	r.UnderlyingGroup = st.Inst.Underlying
	if r.UnderlyingGroup == "" {
		r.UnderlyingGroup = st.Inst.Symbol
	}
	r.LTP = t.LTP
	r.TS = t.TS

	synth.Synthesize(r)
	return r.Clone(), res, true
}

// onCandleClose advances the indicators of tf with its closed candles.
func (a *Analyzer) onCandleClose(st *InstrumentState, tf time.Duration, closed []model.Candle) {
	ind := st.Indicators[tf]
	out := ind.Update(closed, a.params)
	r := st.Result
	lookback := a.settings.RsiDivergenceLookback

	switch tf {
	case time.Minute:
		r.EmaSignal1Min, r.VwapEmaSignal1Min = out.EMASignal, out.VwapEMASignal
		r.RsiValue1Min = out.RSI
		r.RsiSignal1Min = divergence.Detect(closed, ind.RSI.Values.Values(), lookback)
		r.Atr1Min, r.AtrSignal1Min = out.ATR, out.ATRSignal
		r.ObvValue1Min, r.ObvSignal1Min = out.OBV, out.OBVSignal
		r.ObvDivergenceSignal1Min = divergence.Detect(closed, ind.OBV.Values.Values(), lookback)
		r.CandleSignal1Min = synth.RecognizePattern(closed)
	case 5 * time.Minute:
		r.EmaSignal5Min, r.VwapEmaSignal5Min = out.EMASignal, out.VwapEMASignal
		r.RsiValue5Min = out.RSI
		r.RsiSignal5Min = divergence.Detect(closed, ind.RSI.Values.Values(), lookback)
		r.Atr5Min, r.AtrSignal5Min = out.ATR, out.ATRSignal
		r.ObvValue5Min, r.ObvSignal5Min = out.OBV, out.OBVSignal
		r.ObvDivergenceSignal5Min = divergence.Detect(closed, ind.OBV.Values.Values(), lookback)
		r.CandleSignal5Min = synth.RecognizePattern(closed)
	case 15 * time.Minute:
		r.EmaSignal15Min, r.VwapEmaSignal15Min = out.EMASignal, out.VwapEMASignal
	}
}

// rollover finalizes yesterday's profile into history and clears the
// session state. The aggregator has already cleared its series.
func (a *Analyzer) rollover(st *InstrumentState, ts time.Time) {
	id := st.Inst.SecurityID
	if st.Profile.Candles() > 0 {
		data := st.Profile.Finalize()
		st.History.Upsert(data)
		if a.stores.Profiles != nil {
			a.stores.Profiles.UpsertProfile(id, data)
		}
	}
	p, err := profile.New(st.Inst.ProfileTickSize(), markethours.SessionStart(ts))
	if err != nil {
		// tick size was validated when the state was created
		panic(err)
	}
	log.Printf("[engine] %s: session rollover %s -> %s",
		id, st.SessionDate.Format("2006-01-02"), markethours.SessionDate(ts).Format("2006-01-02"))
	st.resetSession(markethours.SessionDate(ts), p)
}

func (a *Analyzer) customLevel(st *InstrumentState, ltp float64) string {
	if !st.Inst.IsIndex() {
		return synth.NotAvailable
	}
	lv, ok := a.settings.LevelsFor(st.Inst.Symbol)
	if !ok {
		return "No Levels Set"
	}
	return st.Levels.Evaluate(ltp, lv.NoTradeUpperBand, lv.NoTradeLowerBand)
}

// dayRange returns the day's open/high/low from the tick, falling back to
// the session's 1m candles when the feed does not carry them.
func dayRange(t model.Tick, minute []model.Candle) (open, high, low float64) {
	open, high, low = t.Open, t.High, t.Low
	if len(minute) == 0 {
		return open, high, low
	}
	if open == 0 {
		open = minute[0].Open
	}
	if high == 0 || low == 0 {
		high, low = 0, math.MaxFloat64
		for _, c := range minute {
			high = math.Max(high, c.High)
			low = math.Min(low, c.Low)
		}
	}
	return open, high, low
}

// ---- Indicator snapshots ----

func (a *Analyzer) restoreSnapshots(st *InstrumentState) {
	store := a.stores.Indicators
	if store == nil {
		return
	}
	for tf, ind := range st.Indicators {
		key := indicator.Key(st.Inst.SecurityID, tf)
		data, ok := store.LoadState(key)
		if !ok {
			continue
		}
		snap, err := indicator.UnmarshalSnapshot(data)
		if err != nil {
			log.Printf("[engine] %s: skipping snapshot: %v", key, err)
			continue
		}
		ind.Restore(snap)
	}
}

// SaveSnapshots writes the indicator snapshots of st to the store.
func (a *Analyzer) SaveSnapshots(st *InstrumentState) error {
	store := a.stores.Indicators
	if store == nil {
		return nil
	}
	for tf, ind := range st.Indicators {
		snap := ind.Snapshot()
		if snap.IsZero() {
			continue
		}
		data, err := snap.Marshal()
		if err != nil {
			return err
		}
		store.SaveState(indicator.Key(st.Inst.SecurityID, tf), data)
	}
	return nil
}
