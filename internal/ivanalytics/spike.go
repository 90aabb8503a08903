package ivanalytics

import "tick-analytics/internal/ringbuf"

// minSpikeHistory is the number of IV samples needed before comparing.
const minSpikeHistory = 2

// SpikeDetector compares the current IV with the mean of recent IV prints.
type SpikeDetector struct {
	history   *ringbuf.Ring[float64]
	threshold float64
}

// NewSpikeDetector keeps the last length positive IV prints.
func NewSpikeDetector(length int, threshold float64) *SpikeDetector {
	return &SpikeDetector{history: ringbuf.New[float64](length), threshold: threshold}
}

// Observe records iv (when positive) and returns the average IV and the
// signal: "IV Spike Up", "IV Drop Down", "Building History..." or "Neutral".
func (d *SpikeDetector) Observe(iv float64) (avgIV float64, signal string) {
	if iv > 0 {
		d.history.Push(iv)
	}
	if d.history.Len() >= minSpikeHistory {
		avgIV = avg(d.history.Values())
		switch {
		case iv > avgIV+d.threshold:
			return avgIV, SpikeUp
		case iv < avgIV-d.threshold:
			return avgIV, "IV Drop Down"
		}
		return avgIV, Neutral
	}
	if iv > 0 {
		return 0, BuildingHistory
	}
	return 0, Neutral
}

// Reset clears the IV history.
func (d *SpikeDetector) Reset() { d.history.Reset() }
