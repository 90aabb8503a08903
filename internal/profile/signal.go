package profile

import "tick-analytics/internal/model"

// bandTolerance is the half-width of the level bands as a fraction of price.
const bandTolerance = 0.0002

// Signal classifies ltp against yesterday's value area, then the Initial
// Balance, then today's developing levels. ibSignal is this tick's IB
// evaluation; prev is the most recent session before today, if any.
func Signal(ltp float64, live *Profile, prev *model.MarketProfileData, ibSignal string) string {
	if live == nil || ltp == 0 {
		return "Building"
	}

	if prev != nil {
		pVAH, pVAL := prev.TPO.VAH, prev.TPO.VAL
		switch {
		case ltp > pVAH && live.TPO.VAL > pVAH:
			return "Acceptance > Y-VAH"
		case ltp < pVAL && live.TPO.VAH < pVAL:
			return "Acceptance < Y-VAL"
		case ltp > pVAH && live.TPO.POC < pVAH:
			return "Rejection at Y-VAH"
		}
	}

	if ibSignal != InsideIB && ibSignal != IBUnavailable {
		return ibSignal
	}
	return baseSignal(ltp, live.TPO, live.VPOC)
}

func baseSignal(ltp float64, tpo model.TPOInfo, vpoc float64) string {
	tol := ltp * bandTolerance
	within := func(level float64) bool { return ltp >= level-tol && ltp <= level+tol }

	switch {
	case ltp > tpo.VAH+tol:
		return "Breakout above value"
	case ltp < tpo.VAL-tol:
		return "Breakdown below value"
	case within(tpo.VAH):
		return "At VAH Band"
	case within(tpo.VAL):
		return "At VAL Band"
	}

	inPOC := within(tpo.POC)
	inVPOC := vpoc > 0 && within(vpoc)
	switch {
	case inPOC && inVPOC:
		return "At POC & VPOC - High conviction"
	case inPOC:
		return "At POC Band"
	case inVPOC:
		return "At VPOC Band"
	}
	return "Inside Value Area"
}
