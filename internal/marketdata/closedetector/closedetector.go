// Package closedetector decides when a feed session may disconnect after
// the market close. NSE keeps publishing the closing-price computation for
// a short while after 15:30; the session ends once every instrument's LTP
// has stopped moving for StableFor, or at closeTime+MaxGrace regardless.
package closedetector

import (
	"log"
	"sync"
	"time"
)

// Detector watches post-close ticks across all subscribed instruments.
// Safe for concurrent use.
type Detector struct {
	closeTime time.Time

	// StableFor is how long no instrument may change price. Default 30s.
	StableFor time.Duration
	// MaxGrace is the hard deadline after closeTime. Default 5m.
	MaxGrace time.Duration

	mu          sync.Mutex
	last        map[string]float64
	stableSince time.Time
}

// New creates a Detector for the given close time.
func New(closeTime time.Time) *Detector {
	return &Detector{
		closeTime: closeTime,
		StableFor: 30 * time.Second,
		MaxGrace:  5 * time.Minute,
		last:      make(map[string]float64),
	}
}

// Deadline is the latest time the session may run.
func (d *Detector) Deadline() time.Time { return d.closeTime.Add(d.MaxGrace) }

// IsPostClose reports whether now is after the close time.
func (d *Detector) IsPostClose(now time.Time) bool {
	return now.After(d.closeTime)
}

// Observe records a tick and reports whether the session should disconnect.
func (d *Detector) Observe(securityID string, ltp float64, now time.Time) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !now.Before(d.Deadline()) {
		log.Printf("[closedetector] hard deadline %v after close reached", d.MaxGrace)
		return true
	}

	prev, seen := d.last[securityID]
	d.last[securityID] = ltp
	if !d.IsPostClose(now) {
		return false
	}

	if !seen || prev != ltp || d.stableSince.IsZero() {
		d.stableSince = now
		return false
	}

	if now.Sub(d.stableSince) >= d.StableFor {
		log.Printf("[closedetector] prices stable for %v after close, %d instruments captured",
			d.StableFor, len(d.last))
		return true
	}
	return false
}

// ClosingPrice returns the last observed LTP of an instrument.
func (d *Detector) ClosingPrice(securityID string) (float64, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	p, ok := d.last[securityID]
	return p, ok
}
