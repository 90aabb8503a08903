package tfbuilder

import (
	"math"
	"testing"
	"time"

	"tick-analytics/internal/model"
)

func assertClose(t *testing.T, name string, got, want float64) {
	t.Helper()
	if math.Abs(got-want) > 1e-9 {
		t.Errorf("%s = %v, want %v", name, got, want)
	}
}

func minuteBars(start time.Time, closes []float64) []model.Candle {
	out := make([]model.Candle, len(closes))
	for i, c := range closes {
		out[i] = model.Candle{
			TS:           start.Add(time.Duration(i) * time.Minute),
			Open:         c - 1,
			High:         c + 2,
			Low:          c - 2,
			Close:        c,
			Volume:       int64(10 * (i + 1)),
			OpenInterest: int64(i),
		}
	}
	return out
}

// ────────────────────────────────────────────────────────────
// Resample
// ────────────────────────────────────────────────────────────

func TestResample_FiveMinute(t *testing.T) {
	start := time.Date(2026, 10, 16, 3, 45, 0, 0, time.UTC) // 09:15 IST
	bars := minuteBars(start, []float64{100, 101, 102, 103, 104, 105, 106})

	out := Resample(bars, 5*time.Minute)
	if len(out) != 2 {
		t.Fatalf("got %d candles, want 2", len(out))
	}
	c := out[0]
	assertClose(t, "open", c.Open, 99)
	assertClose(t, "high", c.High, 106)
	assertClose(t, "low", c.Low, 98)
	assertClose(t, "close", c.Close, 104)
	if c.Volume != 150 {
		t.Errorf("volume = %d, want 150", c.Volume)
	}
	if c.OpenInterest != 4 {
		t.Errorf("oi = %d, want 4", c.OpenInterest)
	}
	// Σ(close·vol)/Σvol
	want := (100*10 + 101*20 + 102*30 + 103*40 + 104*50) / 150.0
	assertClose(t, "vwap", c.VWAP, want)

	if !out[1].TS.Equal(start.Add(5 * time.Minute)) {
		t.Errorf("second bucket ts = %v", out[1].TS)
	}
	if out[1].Volume != 130 {
		t.Errorf("second volume = %d, want 130", out[1].Volume)
	}
}

func TestResample_ZeroVolume(t *testing.T) {
	start := time.Date(2026, 10, 16, 3, 45, 0, 0, time.UTC)
	bars := []model.Candle{{TS: start, Open: 1, High: 1, Low: 1, Close: 1}}
	out := Resample(bars, time.Minute)
	if len(out) != 1 {
		t.Fatalf("got %d", len(out))
	}
	assertClose(t, "vwap", out[0].VWAP, 0)
}

func TestResample_Empty(t *testing.T) {
	if out := Resample(nil, 5*time.Minute); out != nil {
		t.Errorf("expected nil, got %v", out)
	}
}
