package profile

import (
	"sort"
	"time"

	"tick-analytics/internal/model"
)

// HistoryDays is how many finalized sessions an instrument keeps in memory.
const HistoryDays = 10

// History is the finalized-session history of one instrument, newest first.
type History struct {
	sessions []model.MarketProfileData
}

// NewHistory builds a history from stored sessions in any order.
func NewHistory(sessions []model.MarketProfileData) *History {
	h := &History{sessions: NewestFirst(sessions)}
	h.trim()
	return h
}

// Upsert replaces the session with the same date or inserts it.
func (h *History) Upsert(p model.MarketProfileData) {
	for i := range h.sessions {
		if model.SameDay(h.sessions[i].Date, p.Date) {
			h.sessions[i] = p
			return
		}
	}
	h.sessions = NewestFirst(append(h.sessions, p))
	h.trim()
}

// Has reports whether a session for date exists.
func (h *History) Has(date time.Time) bool {
	for _, s := range h.sessions {
		if model.SameDay(s.Date, date) {
			return true
		}
	}
	return false
}

// Sessions returns the sessions newest first. The slice must not be modified.
func (h *History) Sessions() []model.MarketProfileData { return h.sessions }

// Len returns the number of sessions.
func (h *History) Len() int { return len(h.sessions) }

// Previous returns the newest session dated before today.
func (h *History) Previous(today time.Time) *model.MarketProfileData {
	return PreviousSession(h.sessions, today)
}

func (h *History) trim() {
	if len(h.sessions) > HistoryDays {
		h.sessions = h.sessions[:HistoryDays]
	}
}

// NewestFirst returns a copy of sessions sorted by date, newest first.
func NewestFirst(sessions []model.MarketProfileData) []model.MarketProfileData {
	out := append([]model.MarketProfileData(nil), sessions...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Date.After(out[j].Date) })
	return out
}

// PreviousSession returns the first session in newest-first order whose
// calendar date is before today's.
func PreviousSession(newestFirst []model.MarketProfileData, today time.Time) *model.MarketProfileData {
	ty, tm, td := today.Date()
	cut := time.Date(ty, tm, td, 0, 0, 0, 0, time.UTC)
	for i := range newestFirst {
		y, m, d := newestFirst[i].Date.Date()
		if time.Date(y, m, d, 0, 0, 0, 0, time.UTC).Before(cut) {
			p := newestFirst[i]
			return &p
		}
	}
	return nil
}
