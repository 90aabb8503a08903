// Package sqldb persists market profiles, daily IV ranges and indicator
// snapshots through sqlx. SQLite (mattn/go-sqlite3) is the default driver;
// Postgres (lib/pq) is selected with driver "postgres".
//
// Every store keeps an in-memory view that the analysis path reads and
// writes without I/O. Flush writes the rows changed since the last flush
// in one transaction and prunes expired data.
package sqldb

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"

	"tick-analytics/internal/markethours"
)

const dateLayout = "2006-01-02"

const schema = `
CREATE TABLE IF NOT EXISTS market_profiles (
	security_id   TEXT             NOT NULL,
	session_date  TEXT             NOT NULL,
	poc           DOUBLE PRECISION NOT NULL,
	vah           DOUBLE PRECISION NOT NULL,
	val           DOUBLE PRECISION NOT NULL,
	vpoc          DOUBLE PRECISION NOT NULL,
	tpo_counts    TEXT             NOT NULL DEFAULT '',
	volume_levels TEXT             NOT NULL DEFAULT '',
	updated_at    BIGINT           NOT NULL,
	PRIMARY KEY (security_id, session_date)
);

CREATE TABLE IF NOT EXISTS iv_daily (
	bucket       TEXT             NOT NULL,
	session_date TEXT             NOT NULL,
	high         DOUBLE PRECISION NOT NULL,
	low          DOUBLE PRECISION NOT NULL,
	PRIMARY KEY (bucket, session_date)
);

CREATE TABLE IF NOT EXISTS indicator_state (
	state_key  TEXT   NOT NULL PRIMARY KEY,
	data       TEXT   NOT NULL,
	updated_at BIGINT NOT NULL
);
`

// Open connects to the database and creates the schema. For sqlite3 the
// dsn is a file path; WAL mode and a single writer connection are used.
func Open(ctx context.Context, driver, dsn string) (*sqlx.DB, error) {
	var (
		db  *sqlx.DB
		err error
	)
	switch driver {
	case "sqlite3", "":
		if dir := filepath.Dir(dsn); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("sqldb: create %s: %w", dir, err)
			}
		}
		db, err = sqlx.Open("sqlite3", dsn+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000")
		if err == nil {
			db.SetMaxOpenConns(1)
			db.SetMaxIdleConns(1)
		}
	case "postgres":
		db, err = sqlx.Open("postgres", dsn)
		if err == nil {
			db.SetMaxOpenConns(5)
			db.SetMaxIdleConns(2)
			db.SetConnMaxLifetime(30 * time.Minute)
		}
	default:
		return nil, fmt.Errorf("sqldb: unsupported driver %q", driver)
	}
	if err != nil {
		return nil, fmt.Errorf("sqldb: open %s: %w", driver, err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqldb: ping %s: %w", driver, err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqldb: schema: %w", err)
	}
	log.Printf("[sqldb] opened %s database", db.DriverName())
	return db, nil
}

// Store bundles the three stores over one connection.
type Store struct {
	DB         *sqlx.DB
	Profiles   *ProfileStore
	IV         *IVStore
	Indicators *IndicatorStore
}

// New opens the database and loads every store.
func New(ctx context.Context, driver, dsn string) (*Store, error) {
	db, err := Open(ctx, driver, dsn)
	if err != nil {
		return nil, err
	}
	s := &Store{DB: db}
	if s.Profiles, err = NewProfileStore(ctx, db); err != nil {
		db.Close()
		return nil, err
	}
	if s.IV, err = NewIVStore(ctx, db); err != nil {
		db.Close()
		return nil, err
	}
	if s.Indicators, err = NewIndicatorStore(ctx, db); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Flush flushes every store.
func (s *Store) Flush(ctx context.Context) error {
	return errors.Join(
		s.Profiles.Flush(ctx),
		s.IV.Flush(ctx),
		s.Indicators.Flush(ctx),
	)
}

// Close closes the connection.
func (s *Store) Close() error { return s.DB.Close() }

func formatDate(t time.Time) string {
	return t.In(markethours.IST).Format(dateLayout)
}

func parseDate(s string) (time.Time, error) {
	return time.ParseInLocation(dateLayout, s, markethours.IST)
}
