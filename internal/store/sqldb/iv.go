package sqldb

import (
	"context"
	"fmt"
	"log"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"

	"tick-analytics/internal/markethours"
)

// IVRangeDays is the look-back of Get90DayRange and the IV retention.
const IVRangeDays = 90

type ivRow struct {
	Bucket      string  `db:"bucket"`
	SessionDate string  `db:"session_date"`
	High        float64 `db:"high"`
	Low         float64 `db:"low"`
}

type ivDay struct {
	high, low float64
}

type ivKey struct {
	bucket string
	date   string
}

// IVStore implements model.IVHistory with daily high/low per bucket.
type IVStore struct {
	db *sqlx.DB

	mu    sync.Mutex
	days  map[string]map[string]ivDay
	dirty map[ivKey]bool

	// Now anchors the 90-day window.
	Now func() time.Time
}

// NewIVStore loads the stored IV days.
func NewIVStore(ctx context.Context, db *sqlx.DB) (*IVStore, error) {
	s := &IVStore{
		db:    db,
		days:  make(map[string]map[string]ivDay),
		dirty: make(map[ivKey]bool),
		Now:   time.Now,
	}
	var rows []ivRow
	if err := db.SelectContext(ctx, &rows, `SELECT bucket, session_date, high, low FROM iv_daily`); err != nil {
		return nil, fmt.Errorf("sqldb: load iv history: %w", err)
	}
	for _, r := range rows {
		s.bucket(r.Bucket)[r.SessionDate] = ivDay{high: r.High, low: r.Low}
	}
	log.Printf("[sqldb] loaded %d IV days", len(rows))
	return s, nil
}

func (s *IVStore) bucket(key string) map[string]ivDay {
	m, ok := s.days[key]
	if !ok {
		m = make(map[string]ivDay)
		s.days[key] = m
	}
	return m
}

// Get90DayRange returns the highest high and lowest low of the last 90
// days, or (0, 0) without history.
func (s *IVStore) Get90DayRange(key string) (high, low float64) {
	from := formatDate(markethours.SessionDate(s.Now()).AddDate(0, 0, -IVRangeDays))
	s.mu.Lock()
	defer s.mu.Unlock()

	low = math.Inf(1)
	for date, d := range s.days[key] {
		if date < from {
			continue
		}
		high = math.Max(high, d.high)
		if d.low > 0 {
			low = math.Min(low, d.low)
		}
	}
	if math.IsInf(low, 1) {
		return 0, 0
	}
	return high, low
}

// IVDay is one stored daily range.
type IVDay struct {
	Date string
	High float64
	Low  float64
}

// Days returns the bucket's stored days, newest first.
func (s *IVStore) Days(key string) []IVDay {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]IVDay, 0, len(s.days[key]))
	for date, d := range s.days[key] {
		out = append(out, IVDay{Date: date, High: d.high, Low: d.low})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date > out[j].Date })
	return out
}

// RecordDaily merges the day's range into the stored one.
func (s *IVStore) RecordDaily(key string, date time.Time, high, low float64) {
	d := formatDate(date)
	s.mu.Lock()
	defer s.mu.Unlock()

	m := s.bucket(key)
	next := ivDay{high: high, low: low}
	if cur, ok := m[d]; ok {
		next = ivDay{high: math.Max(cur.high, high), low: math.Min(cur.low, low)}
		if next == cur {
			return
		}
	}
	m[d] = next
	s.dirty[ivKey{key, d}] = true
}

const upsertIV = `
INSERT INTO iv_daily (bucket, session_date, high, low)
VALUES (:bucket, :session_date, :high, :low)
ON CONFLICT (bucket, session_date) DO UPDATE SET high = excluded.high, low = excluded.low`

// Flush writes changed days and drops days older than the window.
func (s *IVStore) Flush(ctx context.Context) error {
	from := formatDate(markethours.SessionDate(s.Now()).AddDate(0, 0, -IVRangeDays))

	s.mu.Lock()
	rows := make([]ivRow, 0, len(s.dirty))
	for k := range s.dirty {
		if d, ok := s.days[k.bucket][k.date]; ok {
			rows = append(rows, ivRow{Bucket: k.bucket, SessionDate: k.date, High: d.high, Low: d.low})
		}
	}
	s.dirty = make(map[ivKey]bool)
	for key, m := range s.days {
		for date := range m {
			if date < from {
				delete(m, date)
			}
		}
		if len(m) == 0 {
			delete(s.days, key)
		}
	}
	s.mu.Unlock()

	if len(rows) > 0 {
		tx, err := s.db.BeginTxx(ctx, nil)
		if err != nil {
			return fmt.Errorf("sqldb: begin: %w", err)
		}
		for _, r := range rows {
			if _, err := tx.NamedExecContext(ctx, upsertIV, r); err != nil {
				tx.Rollback()
				s.requeue(rows)
				return fmt.Errorf("sqldb: upsert iv %s: %w", r.Bucket, err)
			}
		}
		if err := tx.Commit(); err != nil {
			s.requeue(rows)
			return fmt.Errorf("sqldb: commit iv: %w", err)
		}
	}
	if _, err := s.db.ExecContext(ctx, s.db.Rebind(`DELETE FROM iv_daily WHERE session_date < ?`), from); err != nil {
		return fmt.Errorf("sqldb: prune iv: %w", err)
	}
	return nil
}

func (s *IVStore) requeue(rows []ivRow) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range rows {
		s.dirty[ivKey{r.Bucket, r.SessionDate}] = true
	}
}
