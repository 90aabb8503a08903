// Package markethours knows the NSE cash/F&O session calendar in IST.
package markethours

import (
	"fmt"
	"time"
)

// IST is the Indian Standard Time location (UTC+5:30).
var IST = time.FixedZone("IST", 5*3600+30*60)

// Session bounds in IST.
const (
	OpenHour    = 9
	OpenMinute  = 15
	CloseHour   = 15
	CloseMinute = 30

	// LoginLead is how long before the open the feed logs in, so the
	// session token is ready when the socket connects at 9:15.
	LoginLead = 5 * time.Minute
)

// at returns hh:mm IST on the calendar date t falls on.
func at(t time.Time, hour, minute int) time.Time {
	ist := t.In(IST)
	return time.Date(ist.Year(), ist.Month(), ist.Day(), hour, minute, 0, 0, IST)
}

// IsTradingDay returns true if t's IST date is a weekday and not a holiday.
func IsTradingDay(t time.Time) bool {
	ist := t.In(IST)
	switch ist.Weekday() {
	case time.Saturday, time.Sunday:
		return false
	}
	return !IsHoliday(ist)
}

// IsMarketOpen returns true if t falls within [09:15, 15:30) IST on a trading day.
func IsMarketOpen(t time.Time) bool {
	if !IsTradingDay(t) {
		return false
	}
	return !t.Before(SessionStart(t)) && t.Before(TodayClose(t))
}

// SessionDate returns midnight IST of the date t falls on.
func SessionDate(t time.Time) time.Time { return at(t, 0, 0) }

// SessionStart returns the 09:15 IST open of the date t falls on.
func SessionStart(t time.Time) time.Time { return at(t, OpenHour, OpenMinute) }

// TodayClose returns the 15:30 IST close of the date t falls on.
func TodayClose(t time.Time) time.Time { return at(t, CloseHour, CloseMinute) }

// IsPreOpen returns true if t is before 09:15 IST on its date.
func IsPreOpen(t time.Time) bool { return t.Before(SessionStart(t)) }

// NextOpen returns the next session open at or after t. Today's open is
// returned while t is still before it on a trading day.
func NextOpen(t time.Time) time.Time {
	if open := SessionStart(t); t.Before(open) && IsTradingDay(t) {
		return open
	}
	d := SessionDate(t)
	for i := 0; i < 15; i++ {
		d = d.AddDate(0, 0, 1)
		if IsTradingDay(d) {
			break
		}
	}
	return SessionStart(d)
}

// NextLogin returns when the feed should log in for the session that
// opens next, LoginLead before NextOpen.
func NextLogin(t time.Time) time.Time {
	return NextOpen(t).Add(-LoginLead)
}

// PreviousTradingDay returns midnight IST of the last trading day before
// t's date.
func PreviousTradingDay(t time.Time) time.Time {
	d := SessionDate(t).AddDate(0, 0, -1)
	for i := 0; i < 30 && !IsTradingDay(d); i++ {
		d = d.AddDate(0, 0, -1)
	}
	return d
}

// TimeUntilClose returns the time left in today's session, or 0 after the close.
func TimeUntilClose(t time.Time) time.Duration {
	if d := TodayClose(t).Sub(t); d > 0 {
		return d
	}
	return 0
}

// StatusString returns a one-line market status for logs.
func StatusString(t time.Time) string {
	if IsMarketOpen(t) {
		return fmt.Sprintf("market open, closes in %s", fmtDur(TimeUntilClose(t)))
	}
	next := NextOpen(t)
	return fmt.Sprintf("market closed, opens %s (%s)",
		next.In(IST).Format("Mon 02 Jan 15:04"), fmtDur(next.Sub(t)))
}

func fmtDur(d time.Duration) string {
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	if h > 0 {
		return fmt.Sprintf("%dh%dm", h, m)
	}
	return fmt.Sprintf("%dm", m)
}
