package sqldb

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tick-analytics/internal/markethours"
	"tick-analytics/internal/model"
)

func ist(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, markethours.IST)
}

func openStore(t *testing.T, path string, now time.Time) *Store {
	t.Helper()
	s, err := New(context.Background(), "sqlite3", path)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	clock := func() time.Time { return now }
	s.Profiles.Now = clock
	s.IV.Now = clock
	return s
}

func session(d time.Time, poc float64) model.MarketProfileData {
	return model.MarketProfileData{
		Date:         d,
		TPO:          model.TPOInfo{POC: poc, VAH: poc + 1, VAL: poc - 1},
		Volume:       model.VolumeInfo{VPOC: poc},
		TPOCounts:    []model.PriceCount{{Price: poc, Count: 3}},
		VolumeLevels: []model.PriceCount{{Price: poc, Count: 1200}},
	}
}

func TestOpen_UnsupportedDriver(t *testing.T) {
	_, err := Open(context.Background(), "mysql", "x")
	assert.Error(t, err)
}

func TestProfileStore_UpsertFlushReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data", "analytics.db")
	now := time.Date(2025, 1, 8, 12, 0, 0, 0, markethours.IST)
	s := openStore(t, path, now)

	s.Profiles.UpsertProfile("2885", session(ist(2025, 1, 6), 100))
	s.Profiles.UpsertProfile("2885", session(ist(2025, 1, 7), 105))
	s.Profiles.UpsertProfile("2885", session(ist(2025, 1, 7), 106)) // replaces
	s.Profiles.UpsertProfile("26000", session(ist(2025, 1, 7), 23450))

	got := s.Profiles.GetProfiles("2885")
	require.Len(t, got, 2)
	assert.Equal(t, 106.0, got[0].TPO.POC, "newest first")
	assert.Equal(t, 100.0, got[1].TPO.POC)

	require.NoError(t, s.Flush(context.Background()))
	require.NoError(t, s.Close())

	s2 := openStore(t, path, now)
	got = s2.Profiles.GetProfiles("2885")
	require.Len(t, got, 2)
	assert.True(t, model.SameDay(got[0].Date, ist(2025, 1, 7)))
	assert.Equal(t, 107.0, got[0].TPO.VAH)
	assert.Equal(t, 106.0, got[0].Volume.VPOC)
	assert.Equal(t, []model.PriceCount{{Price: 106, Count: 3}}, got[0].TPOCounts)
	assert.Len(t, s2.Profiles.GetProfiles("26000"), 1)
	assert.Empty(t, s2.Profiles.GetProfiles("missing"))
}

func TestProfileStore_Prune(t *testing.T) {
	path := filepath.Join(t.TempDir(), "analytics.db")
	now := time.Date(2025, 1, 20, 10, 0, 0, 0, markethours.IST)
	s := openStore(t, path, now)

	s.Profiles.UpsertProfile("2885", session(ist(2025, 1, 5), 90))  // older than 10 days
	s.Profiles.UpsertProfile("2885", session(ist(2025, 1, 15), 95)) // detail stripped
	s.Profiles.UpsertProfile("2885", session(ist(2025, 1, 19), 99)) // kept intact
	require.NoError(t, s.Profiles.Flush(context.Background()))

	got := s.Profiles.GetProfiles("2885")
	require.Len(t, got, 2)
	assert.NotNil(t, got[0].TPOCounts)
	assert.Nil(t, got[1].TPOCounts)
	assert.Nil(t, got[1].VolumeLevels)

	require.NoError(t, s.Close())
	s2 := openStore(t, path, now)
	got = s2.Profiles.GetProfiles("2885")
	require.Len(t, got, 2)
	assert.Nil(t, got[1].TPOCounts, "stripped in the database too")
	assert.Equal(t, 95.0, got[1].TPO.POC)
}

func TestIVStore_MergeAndRange(t *testing.T) {
	path := filepath.Join(t.TempDir(), "analytics.db")
	now := time.Date(2025, 6, 2, 10, 0, 0, 0, markethours.IST)
	s := openStore(t, path, now)
	const key = "NIFTY_ATM_CE"

	hi, lo := s.IV.Get90DayRange(key)
	assert.Zero(t, hi)
	assert.Zero(t, lo)

	s.IV.RecordDaily(key, ist(2025, 6, 2), 15, 12)
	s.IV.RecordDaily(key, ist(2025, 6, 2), 14, 13) // merge keeps 15 / 12
	s.IV.RecordDaily(key, ist(2025, 5, 30), 18, 11)
	s.IV.RecordDaily(key, ist(2025, 1, 2), 40, 5) // outside 90 days

	hi, lo = s.IV.Get90DayRange(key)
	assert.Equal(t, 18.0, hi)
	assert.Equal(t, 11.0, lo)

	days := s.IV.Days(key)
	require.Len(t, days, 3)
	assert.Equal(t, IVDay{Date: "2025-06-02", High: 15, Low: 12}, days[0])
	assert.Equal(t, "2025-01-02", days[2].Date)
	assert.Empty(t, s.IV.Days("missing"))

	require.NoError(t, s.IV.Flush(context.Background()))
	require.NoError(t, s.Close())

	s2 := openStore(t, path, now)
	hi, lo = s2.IV.Get90DayRange(key)
	assert.Equal(t, 18.0, hi)
	assert.Equal(t, 11.0, lo)

	s2.IV.Now = func() time.Time { return ist(2025, 3, 1) }
	hi, _ = s2.IV.Get90DayRange(key)
	assert.Equal(t, 18.0, hi, "the January day was pruned on flush")
}

func TestIndicatorStore_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "analytics.db")
	s := openStore(t, path, time.Now())

	_, ok := s.Indicators.LoadState("2885_5")
	assert.False(t, ok)

	s.Indicators.SaveState("2885_5", []byte(`{"last_atr":1.5}`))
	s.Indicators.SaveState("2885_5", []byte(`{"last_atr":2.5}`))
	b, ok := s.Indicators.LoadState("2885_5")
	require.True(t, ok)
	assert.JSONEq(t, `{"last_atr":2.5}`, string(b))

	b[0] = 'X'
	b2, _ := s.Indicators.LoadState("2885_5")
	assert.Equal(t, byte('{'), b2[0], "LoadState returns a copy")

	require.NoError(t, s.Indicators.Flush(context.Background()))
	require.NoError(t, s.Close())

	s2 := openStore(t, path, time.Now())
	b, ok = s2.Indicators.LoadState("2885_5")
	require.True(t, ok)
	assert.JSONEq(t, `{"last_atr":2.5}`, string(b))
	assert.Equal(t, 1, s2.Indicators.Len())
}
