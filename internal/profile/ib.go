package profile

// IB signal values.
const (
	IBForming         = "IB Forming"
	IBUnavailable     = "IB Unavailable"
	IBBreakout        = "IB Breakout"
	IBBreakdown       = "IB Breakdown"
	IBExtensionUp     = "IB Extension Up"
	IBExtensionDown   = "IB Extension Down"
	IBFailedBreakout  = "IB Failed Breakout"
	IBFailedBreakdown = "IB Failed Breakdown"
	InsideIB          = "Inside IB"
)

// IBState is the position of price relative to a set Initial Balance.
type IBState int

const (
	IBInside IBState = iota
	IBAbove
	IBBelow
)

// IBTracker follows breakouts and breakdowns of the Initial Balance.
// The zero value starts Inside.
type IBTracker struct {
	State IBState
}

// Evaluate advances the tracker with the latest price and returns the IB signal.
func (t *IBTracker) Evaluate(ltp float64, p *Profile) string {
	if p == nil {
		return IBForming
	}
	if !p.IBSet {
		if p.IBUnavailable() {
			return IBUnavailable
		}
		return IBForming
	}
	high, low := p.IBHigh, p.IBLow

	switch {
	case ltp > high && t.State != IBAbove:
		t.State = IBAbove
		return IBBreakout
	case ltp < low && t.State != IBBelow:
		t.State = IBBelow
		return IBBreakdown
	case ltp > high:
		return IBExtensionUp
	case ltp < low:
		return IBExtensionDown
	case t.State == IBAbove:
		t.State = IBInside
		return IBFailedBreakout
	case t.State == IBBelow:
		t.State = IBInside
		return IBFailedBreakdown
	}
	return InsideIB
}

// Reset returns the tracker to Inside.
func (t *IBTracker) Reset() { t.State = IBInside }
