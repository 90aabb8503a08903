package synth

// Zone is the position of price relative to a no-trade band.
type Zone int

const (
	ZoneInside Zone = iota
	ZoneAbove
	ZoneBelow
)

// LevelTracker counts how often price left a no-trade band upward
// (breakouts) or downward (breakdowns). Only exits from Inside count.
type LevelTracker struct {
	Zone           Zone
	BreakoutCount  int
	BreakdownCount int
}

// Evaluate advances the tracker with ltp against the band [lower, upper].
func (t *LevelTracker) Evaluate(ltp, upper, lower float64) string {
	zone := ZoneInside
	if ltp > upper {
		zone = ZoneAbove
	} else if ltp < lower {
		zone = ZoneBelow
	}

	if zone != t.Zone {
		if t.Zone == ZoneInside && zone == ZoneAbove {
			t.BreakoutCount++
		} else if t.Zone == ZoneInside && zone == ZoneBelow {
			t.BreakdownCount++
		}
		t.Zone = zone
	}

	switch zone {
	case ZoneAbove:
		return Ordinal(t.BreakoutCount) + " Breakout"
	case ZoneBelow:
		return Ordinal(t.BreakdownCount) + " Breakdown"
	}
	return "No trade zone"
}

// Reset clears counts for a new session.
func (t *LevelTracker) Reset() { *t = LevelTracker{} }
