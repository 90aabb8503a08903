package sqldb

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"

	"tick-analytics/internal/markethours"
	"tick-analytics/internal/model"
)

// Profile retention.
const (
	ProfileRetentionDays = 10
	// Per-level counts are dropped from sessions older than this.
	ProfileDetailDays = 2
)

type profileRow struct {
	SecurityID   string  `db:"security_id"`
	SessionDate  string  `db:"session_date"`
	POC          float64 `db:"poc"`
	VAH          float64 `db:"vah"`
	VAL          float64 `db:"val"`
	VPOC         float64 `db:"vpoc"`
	TPOCounts    string  `db:"tpo_counts"`
	VolumeLevels string  `db:"volume_levels"`
	UpdatedAt    int64   `db:"updated_at"`
}

type profileKey struct {
	id   string
	date string
}

// ProfileStore implements model.ProfileStore.
type ProfileStore struct {
	db *sqlx.DB

	mu       sync.Mutex
	profiles map[string]map[string]model.MarketProfileData
	dirty    map[profileKey]bool

	// Now is the clock used for pruning.
	Now func() time.Time
}

// NewProfileStore loads every stored profile.
func NewProfileStore(ctx context.Context, db *sqlx.DB) (*ProfileStore, error) {
	s := &ProfileStore{
		db:       db,
		profiles: make(map[string]map[string]model.MarketProfileData),
		dirty:    make(map[profileKey]bool),
		Now:      time.Now,
	}
	var rows []profileRow
	if err := db.SelectContext(ctx, &rows, `SELECT * FROM market_profiles`); err != nil {
		return nil, fmt.Errorf("sqldb: load profiles: %w", err)
	}
	for _, r := range rows {
		p, err := r.toModel()
		if err != nil {
			log.Printf("[sqldb] skipping profile %s %s: %v", r.SecurityID, r.SessionDate, err)
			continue
		}
		s.put(r.SecurityID, r.SessionDate, p)
	}
	log.Printf("[sqldb] loaded %d market profiles", len(rows))
	return s, nil
}

func (s *ProfileStore) put(id, date string, p model.MarketProfileData) {
	m, ok := s.profiles[id]
	if !ok {
		m = make(map[string]model.MarketProfileData)
		s.profiles[id] = m
	}
	m[date] = p
}

// GetProfiles returns the instrument's profiles, newest first.
func (s *ProfileStore) GetProfiles(securityID string) []model.MarketProfileData {
	s.mu.Lock()
	defer s.mu.Unlock()
	m := s.profiles[securityID]
	out := make([]model.MarketProfileData, 0, len(m))
	for _, p := range m {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date.After(out[j].Date) })
	return out
}

// UpsertProfile replaces the profile for p.Date.
func (s *ProfileStore) UpsertProfile(securityID string, p model.MarketProfileData) {
	date := formatDate(p.Date)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.put(securityID, date, p)
	s.dirty[profileKey{securityID, date}] = true
}

// Prune drops sessions older than ProfileRetentionDays and strips the
// per-level counts of sessions older than ProfileDetailDays.
func (s *ProfileStore) Prune(ctx context.Context) error {
	today := markethours.SessionDate(s.Now())
	dropBefore := formatDate(today.AddDate(0, 0, -ProfileRetentionDays))
	stripBefore := formatDate(today.AddDate(0, 0, -ProfileDetailDays))

	s.mu.Lock()
	for id, m := range s.profiles {
		for date, p := range m {
			switch {
			case date < dropBefore:
				delete(m, date)
				delete(s.dirty, profileKey{id, date})
			case date < stripBefore && (p.TPOCounts != nil || p.VolumeLevels != nil):
				p.TPOCounts, p.VolumeLevels = nil, nil
				m[date] = p
			}
		}
		if len(m) == 0 {
			delete(s.profiles, id)
		}
	}
	s.mu.Unlock()

	if _, err := s.db.ExecContext(ctx, s.db.Rebind(`DELETE FROM market_profiles WHERE session_date < ?`), dropBefore); err != nil {
		return fmt.Errorf("sqldb: prune profiles: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, s.db.Rebind(
		`UPDATE market_profiles SET tpo_counts = '', volume_levels = '' WHERE session_date < ? AND (tpo_counts <> '' OR volume_levels <> '')`),
		stripBefore); err != nil {
		return fmt.Errorf("sqldb: strip profiles: %w", err)
	}
	return nil
}

const upsertProfile = `
INSERT INTO market_profiles (security_id, session_date, poc, vah, val, vpoc, tpo_counts, volume_levels, updated_at)
VALUES (:security_id, :session_date, :poc, :vah, :val, :vpoc, :tpo_counts, :volume_levels, :updated_at)
ON CONFLICT (security_id, session_date) DO UPDATE SET
	poc = excluded.poc, vah = excluded.vah, val = excluded.val, vpoc = excluded.vpoc,
	tpo_counts = excluded.tpo_counts, volume_levels = excluded.volume_levels,
	updated_at = excluded.updated_at`

// Flush writes changed profiles and prunes expired ones.
func (s *ProfileStore) Flush(ctx context.Context) error {
	s.mu.Lock()
	rows := make([]profileRow, 0, len(s.dirty))
	now := s.Now().Unix()
	for k := range s.dirty {
		p, ok := s.profiles[k.id][k.date]
		if !ok {
			continue
		}
		r, err := fromModel(k.id, p, now)
		if err != nil {
			s.mu.Unlock()
			return err
		}
		rows = append(rows, r)
	}
	s.dirty = make(map[profileKey]bool)
	s.mu.Unlock()

	if len(rows) > 0 {
		start := time.Now()
		if err := s.write(ctx, rows); err != nil {
			s.requeue(rows)
			return err
		}
		log.Printf("[sqldb] committed %d profiles in %v", len(rows), time.Since(start))
	}
	return s.Prune(ctx)
}

func (s *ProfileStore) write(ctx context.Context, rows []profileRow) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqldb: begin: %w", err)
	}
	for _, r := range rows {
		if _, err := tx.NamedExecContext(ctx, upsertProfile, r); err != nil {
			tx.Rollback()
			return fmt.Errorf("sqldb: upsert profile %s %s: %w", r.SecurityID, r.SessionDate, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqldb: commit profiles: %w", err)
	}
	return nil
}

// requeue marks rows dirty again after a failed write.
func (s *ProfileStore) requeue(rows []profileRow) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range rows {
		s.dirty[profileKey{r.SecurityID, r.SessionDate}] = true
	}
}

func fromModel(id string, p model.MarketProfileData, now int64) (profileRow, error) {
	r := profileRow{
		SecurityID:  id,
		SessionDate: formatDate(p.Date),
		POC:         p.TPO.POC,
		VAH:         p.TPO.VAH,
		VAL:         p.TPO.VAL,
		VPOC:        p.Volume.VPOC,
		UpdatedAt:   now,
	}
	if p.TPOCounts != nil {
		b, err := json.Marshal(p.TPOCounts)
		if err != nil {
			return r, fmt.Errorf("sqldb: encode tpo counts: %w", err)
		}
		r.TPOCounts = string(b)
	}
	if p.VolumeLevels != nil {
		b, err := json.Marshal(p.VolumeLevels)
		if err != nil {
			return r, fmt.Errorf("sqldb: encode volume levels: %w", err)
		}
		r.VolumeLevels = string(b)
	}
	return r, nil
}

func (r profileRow) toModel() (model.MarketProfileData, error) {
	date, err := parseDate(r.SessionDate)
	if err != nil {
		return model.MarketProfileData{}, err
	}
	p := model.MarketProfileData{
		Date:   date,
		TPO:    model.TPOInfo{POC: r.POC, VAH: r.VAH, VAL: r.VAL},
		Volume: model.VolumeInfo{VPOC: r.VPOC},
	}
	if r.TPOCounts != "" {
		if err := json.Unmarshal([]byte(r.TPOCounts), &p.TPOCounts); err != nil {
			return p, fmt.Errorf("decode tpo counts: %w", err)
		}
	}
	if r.VolumeLevels != "" {
		if err := json.Unmarshal([]byte(r.VolumeLevels), &p.VolumeLevels); err != nil {
			return p, fmt.Errorf("decode volume levels: %w", err)
		}
	}
	return p, nil
}
