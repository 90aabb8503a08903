package profile

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"tick-analytics/internal/markethours"
	"tick-analytics/internal/model"
)

func day(d int, vah, poc, val float64) model.MarketProfileData {
	return model.MarketProfileData{
		Date: time.Date(2026, time.October, d, 0, 0, 0, 0, markethours.IST),
		TPO:  model.TPOInfo{POC: poc, VAH: vah, VAL: val},
	}
}

// ────────────────────────────────────────────────────────────
// Initial Balance
// ────────────────────────────────────────────────────────────

func TestIBTracker_BreakoutThenFailed(t *testing.T) {
	p := fixture(t) // IB 98..102
	var ib IBTracker

	assert.Equal(t, InsideIB, ib.Evaluate(100, p))
	assert.Equal(t, IBBreakout, ib.Evaluate(103, p))
	assert.Equal(t, IBExtensionUp, ib.Evaluate(104, p))
	assert.Equal(t, IBFailedBreakout, ib.Evaluate(101, p))
	assert.Equal(t, IBInside, ib.State)
	assert.Equal(t, InsideIB, ib.Evaluate(101, p))
}

func TestIBTracker_BreakdownPaths(t *testing.T) {
	p := fixture(t)
	var ib IBTracker

	assert.Equal(t, IBBreakdown, ib.Evaluate(97, p))
	assert.Equal(t, IBExtensionDown, ib.Evaluate(96, p))
	// straight through to the other side
	assert.Equal(t, IBBreakout, ib.Evaluate(103, p))
	assert.Equal(t, IBBreakdown, ib.Evaluate(97, p))
	assert.Equal(t, IBFailedBreakdown, ib.Evaluate(98, p))

	ib.State = IBAbove
	ib.Reset()
	assert.Equal(t, IBInside, ib.State)
}

func TestIBTracker_Forming(t *testing.T) {
	p, _ := New(1, sessionStart)
	p.Update(candleAt(0, 101, 99, 100, 1))
	var ib IBTracker
	assert.Equal(t, IBForming, ib.Evaluate(500, p))
	assert.Equal(t, IBForming, ib.Evaluate(500, nil))
}

func TestIBTracker_UnavailableWhenWindowMissed(t *testing.T) {
	p, _ := New(1, sessionStart)
	p.Update(candleAt(120, 101, 99, 100, 1))
	var ib IBTracker

	for _, ltp := range []float64{100, 100.5, 99.5, 500, 1} {
		assert.Equal(t, IBUnavailable, ib.Evaluate(ltp, p), "ltp %v", ltp)
	}
	assert.Equal(t, IBInside, ib.State)

	// the profile signal falls through to today's levels
	got := Signal(100.5, p, nil, IBUnavailable)
	assert.NotContains(t, got, "IB")
}

// ────────────────────────────────────────────────────────────
// Market profile signal
// ────────────────────────────────────────────────────────────

func TestSignal_Building(t *testing.T) {
	assert.Equal(t, "Building", Signal(100, nil, nil, InsideIB))
	assert.Equal(t, "Building", Signal(0, fixture(t), nil, InsideIB))
}

func TestSignal_PreviousSession(t *testing.T) {
	p := fixture(t) // POC 100, VAH 101, VAL 100

	prev := day(15, 99, 98, 97)
	assert.Equal(t, "Acceptance > Y-VAH", Signal(101, p, &prev, InsideIB))

	prev = day(15, 104, 103, 102)
	assert.Equal(t, "Acceptance < Y-VAL", Signal(100, p, &prev, InsideIB))

	prev = day(15, 100.5, 99, 98)
	assert.Equal(t, "Rejection at Y-VAH", Signal(101, p, &prev, InsideIB))
}

func TestSignal_IBBeforeBase(t *testing.T) {
	p := fixture(t)
	assert.Equal(t, IBExtensionUp, Signal(100, p, nil, IBExtensionUp))
	assert.Equal(t, "At VAL Band", Signal(100, p, nil, InsideIB))
}

func TestBaseSignal(t *testing.T) {
	tpo := model.TPOInfo{POC: 1000, VAH: 1010, VAL: 990}
	// tolerance at ~1000 is ~0.2
	cases := []struct {
		ltp  float64
		vpoc float64
		want string
	}{
		{1011, 0, "Breakout above value"},
		{989, 0, "Breakdown below value"},
		{1010.1, 0, "At VAH Band"},
		{990, 0, "At VAL Band"},
		{1000.1, 1000, "At POC & VPOC - High conviction"},
		{1000.1, 0, "At POC Band"},
		{1000.1, 1005, "At POC Band"},
		{1005, 1005, "At VPOC Band"},
		{1003, 1005, "Inside Value Area"},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, baseSignal(c.ltp, tpo, c.vpoc), "ltp %v vpoc %v", c.ltp, c.vpoc)
	}
}

// ────────────────────────────────────────────────────────────
// Daily bias
// ────────────────────────────────────────────────────────────

func TestMarketStructure(t *testing.T) {
	up := []model.MarketProfileData{day(15, 120, 115, 110), day(14, 115, 110, 105), day(13, 110, 105, 100)}
	assert.Equal(t, StructureTrendingUp, MarketStructure(up))

	down := []model.MarketProfileData{day(15, 100, 95, 90), day(14, 105, 100, 95), day(13, 110, 105, 100)}
	assert.Equal(t, StructureTrendingDown, MarketStructure(down))

	bal := []model.MarketProfileData{day(15, 110, 105, 100), day(14, 112, 106, 100), day(13, 108, 104, 101)}
	assert.Equal(t, StructureBalancing, MarketStructure(bal))

	gap := []model.MarketProfileData{day(15, 130, 125, 120), day(14, 110, 105, 100), day(13, 112, 105, 100)}
	assert.Equal(t, StructureTransitioning, MarketStructure(gap))

	assert.Equal(t, StructureBuilding, MarketStructure(up[:2]))
}

func TestOpeningCondition(t *testing.T) {
	prev := day(15, 110, 105, 100)
	assert.Equal(t, AwaitingOpen, OpeningCondition(0, prev))
	assert.Equal(t, OpeningAboveValue, OpeningCondition(111, prev))
	assert.Equal(t, OpeningBelowValue, OpeningCondition(99, prev))
	assert.Equal(t, OpeningInsideHigh, OpeningCondition(107, prev))
	assert.Equal(t, OpeningInsideLow, OpeningCondition(101, prev))
	assert.Equal(t, OpeningAtPOC, OpeningCondition(105, prev))
}

func TestSynthesizeBias_Table(t *testing.T) {
	cases := []struct{ structure, opening, want string }{
		{StructureTrendingUp, AwaitingOpen, AwaitingOpen},
		{StructureTrendingUp, OpeningAboveValue, "Strong Bullish"},
		{StructureTrendingDown, OpeningBelowValue, "Strong Bearish"},
		{StructureTrendingUp, OpeningInsideLow, "Bullish Rotational"},
		{StructureTrendingDown, OpeningInsideHigh, "Bearish Rotational"},
		{StructureBalancing, OpeningAboveValue, "Bullish Breakout Watch"},
		{StructureBalancing, OpeningBelowValue, "Bearish Breakout Watch"},
		{StructureBalancing, OpeningInsideHigh, "Pure Rotational"},
		{StructureBalancing, OpeningAtPOC, "Neutral"},
		{StructureTrendingUp, OpeningBelowValue, "Neutral"},
		{StructureBuilding, OpeningAboveValue, "Neutral"},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, SynthesizeBias(c.structure, c.opening), "%s / %s", c.structure, c.opening)
	}
}

func TestDailyBias(t *testing.T) {
	today := time.Date(2026, time.October, 16, 9, 20, 0, 0, markethours.IST)

	b, ok := DailyBias([]model.MarketProfileData{day(15, 1, 1, 1)}, today, 100)
	assert.True(t, ok)
	assert.Equal(t, Bias{Bias: InsufficientHistory}, b)

	// any input order; VAL 110 > 105 > 100
	hist := []model.MarketProfileData{day(13, 110, 105, 100), day(15, 120, 115, 110), day(14, 115, 110, 105)}
	b, ok = DailyBias(hist, today, 125)
	assert.True(t, ok)
	assert.Equal(t, StructureTrendingUp, b.Structure)
	assert.Equal(t, "Strong Bullish", b.Bias)

	b, _ = DailyBias(hist, today, 0)
	assert.Equal(t, AwaitingOpen, b.Bias)

	// only sessions dated today or later: nothing to compare with
	_, ok = DailyBias([]model.MarketProfileData{day(16, 1, 1, 1), day(17, 1, 1, 1)}, today, 100)
	assert.False(t, ok)
}

// ────────────────────────────────────────────────────────────
// History
// ────────────────────────────────────────────────────────────

func TestHistory_UpsertAndPrevious(t *testing.T) {
	h := NewHistory([]model.MarketProfileData{day(13, 1, 1, 1), day(15, 3, 3, 3)})
	h.Upsert(day(14, 2, 2, 2))
	h.Upsert(day(15, 9, 9, 9))

	assert.Equal(t, 3, h.Len())
	assert.Equal(t, 9.0, h.Sessions()[0].TPO.POC)
	assert.Equal(t, 2.0, h.Sessions()[1].TPO.POC)
	assert.True(t, h.Has(day(14, 0, 0, 0).Date))
	assert.False(t, h.Has(day(12, 0, 0, 0).Date))

	today := time.Date(2026, time.October, 15, 12, 0, 0, 0, markethours.IST)
	prev := h.Previous(today)
	if assert.NotNil(t, prev) {
		assert.Equal(t, 14, prev.Date.Day())
	}
}

func TestHistory_Trim(t *testing.T) {
	h := NewHistory(nil)
	for d := 1; d <= 14; d++ {
		h.Upsert(day(d, 1, 1, 1))
	}
	assert.Equal(t, HistoryDays, h.Len())
	assert.Equal(t, 14, h.Sessions()[0].Date.Day())
	assert.Equal(t, 5, h.Sessions()[HistoryDays-1].Date.Day())
}
