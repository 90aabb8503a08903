// Package profile builds the developing TPO market profile and volume
// profile of a session from 1-minute candles, derives POC / Value Area /
// VPOC, tracks the Initial Balance and classifies the multi-day bias.
package profile

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"tick-analytics/internal/model"
)

// ErrInvalidTickSize is returned by New for a non-positive tick size.
var ErrInvalidTickSize = errors.New("profile: tick size must be positive")

// IBWindow is the length of the Initial Balance.
const IBWindow = time.Hour

// TPOPeriod is the length of one TPO letter.
const TPOPeriod = 30 * time.Minute

// valueAreaShare is the fraction of all TPOs the Value Area must hold.
const valueAreaShare = 0.70

// Phase is the lifecycle of a session profile.
type Phase int

const (
	// Building: no candle folded in yet.
	Building Phase = iota
	// Forming: candles arrived, Initial Balance not set yet.
	Forming
	// Established: Initial Balance is set.
	Established
	// Finalized: session closed; no more updates.
	Finalized
)

func (p Phase) String() string {
	switch p {
	case Building:
		return "building"
	case Forming:
		return "forming"
	case Established:
		return "established"
	case Finalized:
		return "finalized"
	}
	return fmt.Sprintf("phase(%d)", int(p))
}

// Profile is the live market profile of one instrument for one session.
// Price levels are keyed by tick index (price / tick size) so lookups
// never depend on float equality.
type Profile struct {
	tick         decimal.Decimal
	TickSize     float64
	SessionStart time.Time
	IBEnd        time.Time
	Date         time.Time

	tpo    map[int64][]rune
	volume map[int64]int64

	TPO  model.TPOInfo
	VPOC float64

	IBHigh float64
	IBLow  float64
	IBSet  bool

	// seen a candle inside / after the IB window
	ibSeen bool
	pastIB bool

	phase   Phase
	candles int
}

// New creates an empty profile for the session starting at sessionStart.
func New(tickSize float64, sessionStart time.Time) (*Profile, error) {
	if !(tickSize > 0) {
		return nil, fmt.Errorf("%w: got %v", ErrInvalidTickSize, tickSize)
	}
	return &Profile{
		tick:         decimal.NewFromFloat(tickSize),
		TickSize:     tickSize,
		SessionStart: sessionStart,
		IBEnd:        sessionStart.Add(IBWindow),
		Date:         time.Date(sessionStart.Year(), sessionStart.Month(), sessionStart.Day(), 0, 0, 0, 0, sessionStart.Location()),
		tpo:          make(map[int64][]rune),
		volume:       make(map[int64]int64),
		IBLow:        math.MaxFloat64,
	}, nil
}

// Phase returns the current lifecycle phase.
func (p *Profile) Phase() Phase { return p.phase }

// Candles returns how many candles were folded in.
func (p *Profile) Candles() int { return p.candles }

// index returns the banker's-rounded tick index of price.
func (p *Profile) index(price float64) int64 {
	return decimal.NewFromFloat(price).Div(p.tick).RoundBank(0).IntPart()
}

// price converts a tick index back to a price.
func (p *Profile) price(idx int64) float64 {
	return decimal.NewFromInt(idx).Mul(p.tick).InexactFloat64()
}

// Quantize rounds price to the nearest tick, half to even.
func (p *Profile) Quantize(price float64) float64 {
	return p.price(p.index(price))
}

// Letter returns the TPO letter of ts: 'A' for the first 30 minutes of the session.
func (p *Profile) Letter(ts time.Time) rune {
	return 'A' + rune(int(ts.Sub(p.SessionStart).Minutes()/TPOPeriod.Minutes()))
}

// Update folds one closed 1-minute candle into the profile and recomputes
// the developing levels. Finalized profiles ignore updates.
func (p *Profile) Update(c model.Candle) {
	if p.phase == Finalized {
		return
	}
	p.candles++
	p.updateIB(c)

	letter := p.Letter(c.TS)
	lo := decimal.NewFromFloat(c.Low)
	hi := decimal.NewFromFloat(c.High)
	for px := lo; px.LessThanOrEqual(hi); px = px.Add(p.tick) {
		idx := px.Div(p.tick).RoundBank(0).IntPart()
		if !containsRune(p.tpo[idx], letter) {
			p.tpo[idx] = append(p.tpo[idx], letter)
		}
	}

	typical := (c.High + c.Low + c.Close) / 3
	p.volume[p.index(typical)] += c.Volume

	p.recompute()
}

// updateIB sets the IB once the window has both a candle inside it and one
// after it. Candles may arrive out of order when a backfill lands late.
func (p *Profile) updateIB(c model.Candle) {
	if !c.TS.After(p.IBEnd) {
		p.IBHigh = math.Max(p.IBHigh, c.High)
		p.IBLow = math.Min(p.IBLow, c.Low)
		p.ibSeen = true
	} else {
		p.pastIB = true
	}
	p.IBSet = p.ibSeen && p.pastIB
	switch {
	case p.IBSet:
		p.phase = Established
	case p.phase == Building:
		p.phase = Forming
	}
}

// IBUnavailable reports whether the IB window has passed without a single
// candle inside it, so no IB range exists for this session.
func (p *Profile) IBUnavailable() bool { return p.pastIB && !p.ibSeen }

// InitialBalance returns the IB range; high and low are 0 until a candle inside the IB window arrived.
func (p *Profile) InitialBalance() (high, low float64, set bool) {
	low = p.IBLow
	if low == math.MaxFloat64 {
		low = 0
	}
	return p.IBHigh, low, p.IBSet
}

// Finalize freezes the profile and returns its storable form.
func (p *Profile) Finalize() model.MarketProfileData {
	p.phase = Finalized
	return p.Data()
}

// TPOCount returns the number of TPO letters at price.
func (p *Profile) TPOCount(price float64) int {
	return len(p.tpo[p.index(price)])
}

// Letters returns the TPO letters at price in arrival order.
func (p *Profile) Letters(price float64) string {
	return string(p.tpo[p.index(price)])
}

// Data returns the storable summary including per-level counts, ascending by price.
func (p *Profile) Data() model.MarketProfileData {
	d := model.MarketProfileData{
		Date:   p.Date,
		TPO:    p.TPO,
		Volume: model.VolumeInfo{VPOC: p.VPOC},
	}
	for _, idx := range sortedKeys(p.tpo) {
		d.TPOCounts = append(d.TPOCounts, model.PriceCount{Price: p.price(idx), Count: int64(len(p.tpo[idx]))})
	}
	for _, idx := range sortedKeys(p.volume) {
		d.VolumeLevels = append(d.VolumeLevels, model.PriceCount{Price: p.price(idx), Count: p.volume[idx]})
	}
	return d
}

func containsRune(rs []rune, r rune) bool {
	for _, x := range rs {
		if x == r {
			return true
		}
	}
	return false
}

func sortedKeys[V any](m map[int64]V) []int64 {
	keys := make([]int64, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}
