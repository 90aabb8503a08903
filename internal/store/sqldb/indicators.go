package sqldb

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
)

type stateRow struct {
	Key       string `db:"state_key"`
	Data      string `db:"data"`
	UpdatedAt int64  `db:"updated_at"`
}

// IndicatorStore implements model.IndicatorStateStore. Values are opaque
// JSON documents keyed "{securityId}_{tfMinutes}".
type IndicatorStore struct {
	db *sqlx.DB

	mu     sync.Mutex
	states map[string][]byte
	dirty  map[string]bool
}

// NewIndicatorStore loads every stored snapshot.
func NewIndicatorStore(ctx context.Context, db *sqlx.DB) (*IndicatorStore, error) {
	s := &IndicatorStore{
		db:     db,
		states: make(map[string][]byte),
		dirty:  make(map[string]bool),
	}
	var rows []stateRow
	if err := db.SelectContext(ctx, &rows, `SELECT state_key, data, updated_at FROM indicator_state`); err != nil {
		return nil, fmt.Errorf("sqldb: load indicator state: %w", err)
	}
	for _, r := range rows {
		s.states[r.Key] = []byte(r.Data)
	}
	log.Printf("[sqldb] loaded %d indicator snapshots", len(rows))
	return s, nil
}

// LoadState returns a copy of the stored snapshot.
func (s *IndicatorStore) LoadState(key string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.states[key]
	if !ok {
		return nil, false
	}
	return append([]byte(nil), b...), true
}

// SaveState replaces the snapshot for key.
func (s *IndicatorStore) SaveState(key string, data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states[key] = append([]byte(nil), data...)
	s.dirty[key] = true
}

// Len returns the number of stored snapshots.
func (s *IndicatorStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.states)
}

const upsertState = `
INSERT INTO indicator_state (state_key, data, updated_at)
VALUES (:state_key, :data, :updated_at)
ON CONFLICT (state_key) DO UPDATE SET data = excluded.data, updated_at = excluded.updated_at`

// Flush writes changed snapshots.
func (s *IndicatorStore) Flush(ctx context.Context) error {
	s.mu.Lock()
	now := time.Now().Unix()
	rows := make([]stateRow, 0, len(s.dirty))
	for k := range s.dirty {
		rows = append(rows, stateRow{Key: k, Data: string(s.states[k]), UpdatedAt: now})
	}
	s.dirty = make(map[string]bool)
	s.mu.Unlock()
	if len(rows) == 0 {
		return nil
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqldb: begin: %w", err)
	}
	for _, r := range rows {
		if _, err := tx.NamedExecContext(ctx, upsertState, r); err != nil {
			tx.Rollback()
			s.requeue(rows)
			return fmt.Errorf("sqldb: upsert state %s: %w", r.Key, err)
		}
	}
	if err := tx.Commit(); err != nil {
		s.requeue(rows)
		return fmt.Errorf("sqldb: commit state: %w", err)
	}
	return nil
}

func (s *IndicatorStore) requeue(rows []stateRow) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range rows {
		s.dirty[r.Key] = true
	}
}
