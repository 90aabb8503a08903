package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tick-analytics/config"
	"tick-analytics/internal/markethours"
	"tick-analytics/internal/model"
)

var (
	nifty    = model.Instrument{SecurityID: "26000", Symbol: "NIFTY", InstrumentType: model.TypeIndex}
	reliance = model.Instrument{SecurityID: "2885", Symbol: "RELIANCE", InstrumentType: model.TypeEquity}
	tfs      = []time.Duration{time.Minute, 5 * time.Minute, 15 * time.Minute}
)

// at returns an IST wall-clock time on January <day>, 2025.
func at(day, hh, mm, ss int) time.Time {
	return time.Date(2025, 1, day, hh, mm, ss, 0, markethours.IST)
}

func tick(id string, ts time.Time, ltp float64, qty int64) model.Tick {
	return model.Tick{SecurityID: id, LTP: ltp, LastTradedQty: qty, AvgTradePrice: ltp, TS: ts.UTC()}
}

func newAnalyzer(t *testing.T, stores Stores) *Analyzer {
	t.Helper()
	a, err := NewAnalyzer(config.DefaultSettings(), tfs, stores)
	require.NoError(t, err)
	return a
}

func TestNewAnalyzer_RejectsBadInput(t *testing.T) {
	_, err := NewAnalyzer(config.DefaultSettings(), []time.Duration{5 * time.Minute}, Stores{})
	assert.Error(t, err)

	bad := config.DefaultSettings()
	bad.RsiPeriod = 0
	_, err = NewAnalyzer(bad, tfs, Stores{})
	assert.ErrorIs(t, err, config.ErrInvalidSettings)
}

func TestNewState_RejectsBadTickSize(t *testing.T) {
	a := newAnalyzer(t, Stores{})
	inst := reliance
	inst.TickSize = -1
	_, err := a.NewState(inst, at(6, 9, 15, 0))
	assert.Error(t, err)
}

// ────────────────────────────────────────────────────────────
// Per-tick pipeline
// ────────────────────────────────────────────────────────────

func TestProcess_FirstTicks(t *testing.T) {
	profiles := newMemProfiles()
	a := newAnalyzer(t, Stores{Profiles: profiles})
	st, err := a.NewState(nifty, at(6, 9, 15, 5))
	require.NoError(t, err)

	t1 := tick(nifty.SecurityID, at(6, 9, 15, 5), 23450, 10)
	t1.Open, t1.High, t1.Low, t1.Close = 23440, 23460, 23430, 23400
	r, res, ok := a.Process(st, t1)
	require.True(t, ok)
	assert.Len(t, res.Updates, 3)
	assert.Nil(t, res.ClosedMinute)

	assert.Equal(t, 23450.0, r.LTP)
	assert.Equal(t, 23450.0, r.Vwap)
	assert.Equal(t, "Neutral", r.PriceVsVwapSignal)
	assert.Equal(t, "Above Close", r.PriceVsCloseSignal)
	assert.Equal(t, "Mid-Range", r.DayRangeSignal)
	assert.Equal(t, "No", r.OpenDriveSignal)
	assert.Equal(t, "No trade zone", r.CustomLevelSignal)
	assert.Equal(t, "Indices", r.InstrumentGroup)
	assert.Equal(t, "NIFTY", r.UnderlyingGroup)
	assert.Equal(t, "IB Forming", r.InitialBalanceSignal)
	assert.Equal(t, "IB Forming", r.MarketProfileSignal)
	assert.Equal(t, "Insufficient History", r.DailyBias)
	assert.Equal(t, "Building History...", r.VolumeSignal)
	assert.Equal(t, "N/A", r.IvSignal, "no IV on an index")
	assert.Equal(t, "Neutral / No Edge", r.FinalTradeSignal)

	t2 := tick(nifty.SecurityID, at(6, 9, 16, 1), 23510, 20)
	t2.AvgTradePrice = 23480
	r, res, ok = a.Process(st, t2)
	require.True(t, ok)
	require.NotNil(t, res.ClosedMinute)

	assert.InDelta(t, 23470.0, r.Vwap, 1e-9)
	assert.Equal(t, "1st Breakout", r.CustomLevelSignal)
	assert.Equal(t, "Neutral", r.VolumeSignal)
	assert.Equal(t, int64(20), r.CurrentVolume)
	assert.Equal(t, int64(10), r.AvgVolume)
	assert.Equal(t, 1, st.Profile.Candles())
	assert.Equal(t, 23450.0, r.DevelopingPoc)
	assert.True(t, profiles.has(nifty.SecurityID, st.SessionDate), "live profile upserted on 1m close")
}

func TestProcess_ResultIsACopy(t *testing.T) {
	a := newAnalyzer(t, Stores{})
	st, err := a.NewState(reliance, at(6, 9, 20, 0))
	require.NoError(t, err)

	r1, _, _ := a.Process(st, tick(reliance.SecurityID, at(6, 9, 20, 0), 100, 1))
	r1.BullishDrivers = append(r1.BullishDrivers, "mutated")
	r2, _, _ := a.Process(st, tick(reliance.SecurityID, at(6, 9, 20, 5), 101, 1))
	assert.NotContains(t, r2.BullishDrivers, "mutated")
	assert.Equal(t, 100.0, r1.LTP)
}

func TestProcess_LateAndInvalidTicks(t *testing.T) {
	a := newAnalyzer(t, Stores{})
	st, err := a.NewState(reliance, at(6, 9, 20, 0))
	require.NoError(t, err)

	late := 0
	st.Candles.OnDroppedTick = func() { late++ }

	_, _, ok := a.Process(st, tick(reliance.SecurityID, at(6, 9, 21, 0), 100, 1))
	require.True(t, ok)

	_, res, ok := a.Process(st, tick(reliance.SecurityID, at(6, 9, 20, 30), 99, 1))
	assert.False(t, ok)
	assert.True(t, res.Late)
	assert.Equal(t, 1, late)

	_, _, ok = a.Process(st, tick(reliance.SecurityID, at(6, 9, 21, 10), 0, 1))
	assert.False(t, ok, "zero LTP is ignored")
}

func TestProcess_RolloverFinalizesAndClears(t *testing.T) {
	profiles := newMemProfiles()
	a := newAnalyzer(t, Stores{Profiles: profiles})
	st, err := a.NewState(nifty, at(6, 9, 20, 0))
	require.NoError(t, err)

	a.Process(st, tick(nifty.SecurityID, at(6, 9, 20, 0), 23450, 10))
	a.Process(st, tick(nifty.SecurityID, at(6, 9, 21, 0), 23520, 10))
	require.Equal(t, 1, st.Profile.Candles())
	require.Equal(t, 1, st.Levels.BreakoutCount)

	r, res, ok := a.Process(st, tick(nifty.SecurityID, at(7, 9, 15, 0), 23460, 10))
	require.True(t, ok)
	assert.True(t, res.Rollover)

	require.Equal(t, 1, st.History.Len())
	day1 := st.History.Sessions()[0]
	assert.True(t, model.SameDay(day1.Date, at(6, 0, 0, 0)))
	assert.Len(t, day1.TPOCounts, 2, "both minutes of the old session are in the finalized profile")
	assert.True(t, profiles.has(nifty.SecurityID, at(6, 0, 0, 0)))

	assert.True(t, model.SameDay(st.SessionDate, at(7, 0, 0, 0)))
	assert.Len(t, st.Candles.Series(time.Minute), 1)
	assert.Zero(t, st.Profile.Candles())
	assert.Zero(t, st.Levels.BreakoutCount)
	assert.Equal(t, 23460.0, r.Vwap, "day VWAP restarts")
	assert.Equal(t, "Insufficient History", r.DailyBias)
}

func TestNewState_HistoryExcludesToday(t *testing.T) {
	profiles := newMemProfiles()
	for _, d := range []int{2, 3, 6} {
		profiles.UpsertProfile(nifty.SecurityID, model.MarketProfileData{
			Date: at(d, 0, 0, 0),
			TPO:  model.TPOInfo{POC: 100, VAH: 101, VAL: 99},
		})
	}
	a := newAnalyzer(t, Stores{Profiles: profiles})
	st, err := a.NewState(nifty, at(6, 10, 0, 0))
	require.NoError(t, err)

	assert.Equal(t, 2, st.History.Len())
	assert.False(t, st.History.Has(at(6, 0, 0, 0)))
}

func TestProcess_DailyBiasFreezesOnceOpenKnown(t *testing.T) {
	profiles := newMemProfiles()
	// VALs rising 100 < 105 < 110 (oldest to newest)
	for i, d := range []int{1, 2, 3} {
		base := 100 + float64(i)*5
		profiles.UpsertProfile(reliance.SecurityID, model.MarketProfileData{
			Date: at(d, 0, 0, 0),
			TPO:  model.TPOInfo{VAL: base, POC: base + 2, VAH: base + 4},
		})
	}
	a := newAnalyzer(t, Stores{Profiles: profiles})
	st, err := a.NewState(reliance, at(6, 9, 15, 0))
	require.NoError(t, err)

	tk := tick(reliance.SecurityID, at(6, 9, 15, 0), 120, 1)
	tk.Open = 120
	r, _, _ := a.Process(st, tk)
	assert.Equal(t, "Trending Up", r.MarketStructure)
	assert.Equal(t, "Strong Bullish", r.DailyBias)
	assert.True(t, st.biasFrozen)

	tk = tick(reliance.SecurityID, at(6, 9, 15, 5), 90, 1)
	tk.Open = 90
	r, _, _ = a.Process(st, tk)
	assert.Equal(t, "Strong Bullish", r.DailyBias, "bias frozen for the session")
}

func TestProcess_OptionIV(t *testing.T) {
	opt := model.Instrument{
		SecurityID: "40001", Symbol: "NIFTY25JAN23500CE", InstrumentType: model.TypeOptIdx,
		Underlying: "NIFTY", StrikePrice: 23500, OptionType: "CE",
	}
	a := newAnalyzer(t, Stores{})
	st, err := a.NewState(opt, at(6, 9, 20, 0))
	require.NoError(t, err)

	tk := tick(opt.SecurityID, at(6, 9, 20, 0), 120, 50)
	tk.ImpliedVolatility = 14
	tk.UnderlyingPrice = 23500
	r, _, ok := a.Process(st, tk)
	require.True(t, ok)

	assert.Equal(t, "Options", r.InstrumentGroup)
	assert.Equal(t, "Nifty Options", r.FullGroupIdentifier())
	assert.Equal(t, 14.0, r.CurrentIv)
	assert.Equal(t, "Building History...", r.IvSignal)
	assert.Equal(t, "Building History...", r.IvTrendSignal)
	_, ok = st.IV.State("NIFTY_ATM_CE")
	assert.True(t, ok)
	assert.Equal(t, "N/A", r.CustomLevelSignal)
}

func TestSnapshots_SaveAndRestore(t *testing.T) {
	states := newMemStates()
	a := newAnalyzer(t, Stores{Indicators: states})
	st, err := a.NewState(reliance, at(6, 9, 15, 0))
	require.NoError(t, err)

	for i := 0; i < 30; i++ {
		a.Process(st, tick(reliance.SecurityID, at(6, 9, 15+i, 0), 100+float64(i), 10))
	}
	ema := st.Indicators[time.Minute].PriceEMA
	require.True(t, ema.Initialized)
	require.NoError(t, a.SaveSnapshots(st))

	_, ok := states.LoadState("2885_1")
	require.True(t, ok)

	restored, err := a.NewState(reliance, at(6, 9, 50, 0))
	require.NoError(t, err)
	got := restored.Indicators[time.Minute].PriceEMA
	assert.True(t, got.Initialized)
	assert.InDelta(t, ema.Short, got.Short, 1e-9)
	assert.InDelta(t, ema.Long, got.Long, 1e-9)
}

// ────────────────────────────────────────────────────────────
// Backfill
// ────────────────────────────────────────────────────────────

func minuteBars(from time.Time, n int, base float64) []model.Candle {
	out := make([]model.Candle, n)
	for i := range out {
		px := base + float64(i)
		out[i] = model.Candle{
			TS:   from.Add(time.Duration(i) * time.Minute).UTC(),
			Open: px, High: px + 0.5, Low: px - 0.5, Close: px + 0.25,
			Volume: 100, VWAP: px,
		}
	}
	return out
}

func TestBackfill_PreOpenBuildsPreviousSession(t *testing.T) {
	profiles := newMemProfiles()
	bars := &fakeBars{bars: minuteBars(at(3, 9, 15, 0), 60, 200)}
	a := newAnalyzer(t, Stores{Profiles: profiles, Bars: bars})
	st, err := a.NewState(reliance, at(6, 8, 50, 0))
	require.NoError(t, err)

	require.True(t, a.needsPreviousSession(st, at(6, 8, 50, 0)))
	brs := a.fetchBackfill(context.Background(), reliance, at(6, 8, 50, 0), true)
	require.Len(t, brs, 1, "no intraday fetch before the open")
	br := brs[0]
	require.NoError(t, br.err)
	assert.Equal(t, previousSession, br.kind)
	assert.True(t, model.SameDay(br.date, at(3, 0, 0, 0)), "Friday before Monday")

	st.biasFrozen = true
	a.applyBackfill(st, br)
	assert.True(t, st.History.Has(at(3, 0, 0, 0)))
	assert.True(t, profiles.has(reliance.SecurityID, at(3, 0, 0, 0)))
	assert.False(t, st.biasFrozen, "bias re-evaluated with the new history")

	n := profiles.upserts
	a.applyBackfill(st, br)
	assert.Equal(t, n, profiles.upserts, "existing session is not rebuilt")
}

func TestBackfill_IntradaySeedsAheadOfLiveCandles(t *testing.T) {
	bars := &fakeBars{bars: minuteBars(at(6, 9, 15, 0), 46, 100)} // 09:15 .. 10:00
	a := newAnalyzer(t, Stores{Bars: bars})
	st, err := a.NewState(reliance, at(6, 10, 0, 30))
	require.NoError(t, err)

	_, _, ok := a.Process(st, tick(reliance.SecurityID, at(6, 10, 0, 30), 146, 10))
	require.True(t, ok)

	brs := a.fetchBackfill(context.Background(), reliance, at(6, 10, 0, 30), false)
	require.Len(t, brs, 1)
	require.Equal(t, intraday, brs[0].kind)
	a.applyBackfill(st, brs[0])

	minute := st.Candles.Series(time.Minute)
	require.Len(t, minute, 46, "45 historical + 1 live, the 10:00 bar is not duplicated")
	assert.Equal(t, 146.0, minute[45].Close)
	assert.Len(t, st.Candles.Series(5*time.Minute), 10)
	assert.Equal(t, 45, st.Profile.Candles())
	assert.Equal(t, "Bullish Cross", st.Result.EmaSignal1Min)
	assert.Equal(t, "Building History...", st.Result.EmaSignal5Min)
}

func TestBackfill_IntradayCompletesSharedBucket(t *testing.T) {
	// first tick at 10:02: the 10:00 five-minute candle must include 10:00 and 10:01
	bars := &fakeBars{bars: minuteBars(at(6, 9, 15, 0), 47, 100)} // 09:15 .. 10:01
	a := newAnalyzer(t, Stores{Bars: bars})
	now := at(6, 10, 2, 30)
	st, err := a.NewState(reliance, now)
	require.NoError(t, err)

	_, _, ok := a.Process(st, tick(reliance.SecurityID, now, 147, 10))
	require.True(t, ok)

	brs := a.fetchBackfill(context.Background(), reliance, now, false)
	require.Len(t, brs, 1)
	a.applyBackfill(st, brs[0])

	require.Len(t, st.Candles.Series(time.Minute), 48)
	five := st.Candles.Series(5 * time.Minute)
	require.Len(t, five, 10)
	c := five[9]
	assert.True(t, c.TS.Equal(at(6, 10, 0, 0)))
	assert.Equal(t, 145.0, c.Open, "open of the 10:00 minute bar")
	assert.Equal(t, 147.0, c.High)
	assert.Equal(t, 144.5, c.Low)
	assert.Equal(t, 147.0, c.Close)
	assert.Equal(t, int64(210), c.Volume)

	fifteen := st.Candles.Series(15 * time.Minute)
	require.Len(t, fifteen, 4)
	assert.Equal(t, int64(210), fifteen[3].Volume)
}

func TestBackfill_MidSessionAlsoBuildsPreviousSession(t *testing.T) {
	// empty store, first tick at 10:00 on Monday: Friday's profile is still needed
	prev := minuteBars(at(3, 9, 15, 0), 60, 200)
	today := minuteBars(at(6, 9, 15, 0), 46, 100)
	bars := &fakeBars{bars: append(append([]model.Candle{}, prev...), today...)}
	profiles := newMemProfiles()
	a := newAnalyzer(t, Stores{Profiles: profiles, Bars: bars})
	now := at(6, 10, 0, 30)
	st, err := a.NewState(reliance, now)
	require.NoError(t, err)

	_, _, ok := a.Process(st, tick(reliance.SecurityID, now, 146, 10))
	require.True(t, ok)
	require.True(t, a.needsPreviousSession(st, now))

	brs := a.fetchBackfill(context.Background(), reliance, now, true)
	require.Len(t, brs, 2)
	assert.Equal(t, previousSession, brs[0].kind)
	assert.True(t, model.SameDay(brs[0].date, at(3, 0, 0, 0)))
	assert.Len(t, brs[0].bars, 60)
	assert.Equal(t, intraday, brs[1].kind)
	assert.Len(t, brs[1].bars, 46)

	for _, br := range brs {
		a.applyBackfill(st, br)
	}
	prevProfile := st.History.Previous(st.SessionDate)
	require.NotNil(t, prevProfile)
	assert.True(t, model.SameDay(prevProfile.Date, at(3, 0, 0, 0)))
	assert.True(t, profiles.has(reliance.SecurityID, at(3, 0, 0, 0)))
	assert.False(t, a.needsPreviousSession(st, now))
	assert.Len(t, st.Candles.Series(time.Minute), 46)
}

func TestBackfill_ErrorsAreLoggedNotApplied(t *testing.T) {
	a := newAnalyzer(t, Stores{})
	st, err := a.NewState(reliance, at(6, 10, 0, 0))
	require.NoError(t, err)
	a.applyBackfill(st, backfillResult{kind: intraday, date: st.SessionDate, err: assert.AnError})
	assert.Empty(t, st.Candles.Series(time.Minute))
}
