package markethours

import (
	"testing"
	"time"
)

func istTime(y int, m time.Month, d, hh, mm int) time.Time {
	return time.Date(y, m, d, hh, mm, 0, 0, IST)
}

func TestIsMarketOpen(t *testing.T) {
	cases := []struct {
		name string
		t    time.Time
		want bool
	}{
		{"before open", istTime(2026, 10, 14, 9, 14), false},
		{"at open", istTime(2026, 10, 14, 9, 15), true},
		{"mid session", istTime(2026, 10, 14, 12, 0), true},
		{"at close", istTime(2026, 10, 14, 15, 30), false},
		{"saturday", istTime(2026, 10, 17, 11, 0), false},
		{"gandhi jayanti", istTime(2026, 10, 2, 11, 0), false},
	}
	for _, c := range cases {
		if got := IsMarketOpen(c.t); got != c.want {
			t.Errorf("%s: IsMarketOpen=%v, want %v", c.name, got, c.want)
		}
	}
}

func TestPreviousTradingDay(t *testing.T) {
	// Monday -> previous Friday
	got := PreviousTradingDay(istTime(2026, 10, 12, 8, 0))
	if want := istTime(2026, 10, 9, 0, 0); !got.Equal(want) {
		t.Errorf("monday: got %s, want %s", got, want)
	}
	// Thursday 22 Oct 2026 -> skips the Dussehra holidays (20, 21) to Monday 19th
	got = PreviousTradingDay(istTime(2026, 10, 22, 8, 0))
	if want := istTime(2026, 10, 19, 0, 0); !got.Equal(want) {
		t.Errorf("after holidays: got %s, want %s", got, want)
	}
}

func TestAddHolidays(t *testing.T) {
	d := istTime(2027, 1, 26, 0, 0)
	if IsHoliday(d) {
		t.Fatal("2027-01-26 should not be a holiday before registration")
	}
	AddHolidays([]time.Time{d})
	if !IsHoliday(d.Add(10 * time.Hour)) {
		t.Error("registered holiday not recognised")
	}
	if IsTradingDay(d) {
		t.Error("holiday reported as trading day")
	}
}

func TestSessionHelpers(t *testing.T) {
	// 03:00 UTC is 08:30 IST
	ts := time.Date(2026, 10, 14, 3, 0, 0, 0, time.UTC)
	if !IsPreOpen(ts) {
		t.Error("08:30 IST should be pre-open")
	}
	if got, want := SessionStart(ts), istTime(2026, 10, 14, 9, 15); !got.Equal(want) {
		t.Errorf("SessionStart=%s, want %s", got, want)
	}
	// 20:00 UTC is 01:30 IST the next day
	late := time.Date(2026, 10, 14, 20, 0, 0, 0, time.UTC)
	if got, want := SessionDate(late), istTime(2026, 10, 15, 0, 0); !got.Equal(want) {
		t.Errorf("SessionDate=%s, want %s", got, want)
	}
}

func TestNextOpenAndLogin(t *testing.T) {
	cases := []struct {
		name string
		t    time.Time
		want time.Time
	}{
		{"early morning", istTime(2026, 10, 14, 7, 0), istTime(2026, 10, 14, 9, 15)},
		{"during session", istTime(2026, 10, 14, 10, 0), istTime(2026, 10, 15, 9, 15)},
		{"friday evening", istTime(2026, 10, 16, 16, 0), istTime(2026, 10, 19, 9, 15)},
		{"before dussehra", istTime(2026, 10, 19, 16, 0), istTime(2026, 10, 22, 9, 15)},
	}
	for _, c := range cases {
		if got := NextOpen(c.t); !got.Equal(c.want) {
			t.Errorf("%s: NextOpen=%s, want %s", c.name, got, c.want)
		}
		if got, want := NextLogin(c.t), c.want.Add(-5*time.Minute); !got.Equal(want) {
			t.Errorf("%s: NextLogin=%s, want %s", c.name, got, want)
		}
	}
}

func TestStatusString(t *testing.T) {
	if got := StatusString(istTime(2026, 10, 14, 13, 0)); got != "market open, closes in 2h30m" {
		t.Errorf("open status = %q", got)
	}
	if got := StatusString(istTime(2026, 10, 16, 15, 45)); got != "market closed, opens Mon 19 Oct 09:15 (65h30m)" {
		t.Errorf("closed status = %q", got)
	}
	if d := TimeUntilClose(istTime(2026, 10, 14, 16, 0)); d != 0 {
		t.Errorf("TimeUntilClose after close = %v", d)
	}
}
