package model

import (
	"context"
	"time"
)

// ── Collaborator Port Interfaces ──
// The analytics core talks to the outside world only through these ports.
// Store implementations keep an in-memory view so the per-tick path never
// waits on I/O; Flush pushes pending deltas to durable storage.

// HistoricalBars fetches intraday minute bars for one instrument and session date.
type HistoricalBars interface {
	// FetchIntraday returns the session's 1-minute bars ordered by time.
	// An empty slice with nil error means the source has no data.
	FetchIntraday(ctx context.Context, inst Instrument, date time.Time) ([]Candle, error)
}

// IVHistory keeps daily IV high/low per bucket key (e.g. "NIFTY_ATM+1_CE").
type IVHistory interface {
	// Get90DayRange returns the highest high and lowest low over the last
	// 90 days, or (0, 0) without history.
	Get90DayRange(key string) (high, low float64)

	// RecordDaily merges the day's high/low into the record for date
	// (max for high, min for low).
	RecordDaily(key string, date time.Time, high, low float64)
}

// ProfileStore keeps finalized and developing market profiles per instrument.
type ProfileStore interface {
	// GetProfiles returns the instrument's profiles, newest first.
	GetProfiles(securityID string) []MarketProfileData

	// UpsertProfile inserts or replaces the profile for p.Date.
	UpsertProfile(securityID string, p MarketProfileData)
}

// IndicatorStateStore persists indicator snapshots keyed "{securityId}_{tfMinutes}".
// Values are raw JSON to keep model free of the indicator package.
type IndicatorStateStore interface {
	LoadState(key string) ([]byte, bool)
	SaveState(key string, data []byte)
}

// Flusher is implemented by stores that buffer writes in memory.
type Flusher interface {
	Flush(ctx context.Context) error
}

// ResultSink consumes analysis results (Redis, WebSocket hub, notifiers).
type ResultSink interface {
	Run(ctx context.Context, in <-chan AnalysisResult)
}
