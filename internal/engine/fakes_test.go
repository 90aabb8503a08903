package engine

import (
	"context"
	"sync"
	"time"

	"tick-analytics/internal/markethours"
	"tick-analytics/internal/model"
	"tick-analytics/internal/profile"
)

type memProfiles struct {
	mu       sync.Mutex
	data     map[string][]model.MarketProfileData
	upserts  int
	onUpsert func()
}

func newMemProfiles() *memProfiles {
	return &memProfiles{data: make(map[string][]model.MarketProfileData)}
}

func (m *memProfiles) GetProfiles(id string) []model.MarketProfileData {
	m.mu.Lock()
	defer m.mu.Unlock()
	return profile.NewestFirst(m.data[id])
}

func (m *memProfiles) UpsertProfile(id string, p model.MarketProfileData) {
	if m.onUpsert != nil {
		m.onUpsert()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.upserts++
	for i, s := range m.data[id] {
		if model.SameDay(s.Date, p.Date) {
			m.data[id][i] = p
			return
		}
	}
	m.data[id] = append(m.data[id], p)
}

func (m *memProfiles) has(id string, date time.Time) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.data[id] {
		if model.SameDay(s.Date, date) {
			return true
		}
	}
	return false
}

type memStates struct {
	mu      sync.Mutex
	data    map[string][]byte
	flushes int
}

func newMemStates() *memStates { return &memStates{data: make(map[string][]byte)} }

func (m *memStates) LoadState(key string) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.data[key]
	return b, ok
}

func (m *memStates) SaveState(key string, data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = data
}

func (m *memStates) Flush(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.flushes++
	return nil
}

type fakeBars struct {
	mu    sync.Mutex
	bars  []model.Candle
	dates []time.Time
}

// FetchIntraday returns the bars that fall on date's session.
func (f *fakeBars) FetchIntraday(_ context.Context, _ model.Instrument, date time.Time) ([]model.Candle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dates = append(f.dates, date)
	var out []model.Candle
	for _, b := range f.bars {
		if model.SameDay(markethours.SessionDate(b.TS), date) {
			out = append(out, b)
		}
	}
	return out, nil
}
