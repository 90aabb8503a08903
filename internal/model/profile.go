package model

import "time"

// TPOInfo holds the TPO-derived structural levels of a session.
type TPOInfo struct {
	POC float64 `json:"poc"`
	VAH float64 `json:"vah"`
	VAL float64 `json:"val"`
}

// VolumeInfo holds the volume-profile levels of a session.
type VolumeInfo struct {
	VPOC float64 `json:"vpoc"`
}

// PriceCount is one price level of a TPO or volume distribution.
type PriceCount struct {
	Price float64 `json:"p"`
	Count int64   `json:"n"`
}

// MarketProfileData is the storable summary of one session's market profile.
// TPOCounts and VolumeLevels are nil once the record has been pruned.
type MarketProfileData struct {
	Date         time.Time    `json:"date"` // session date, midnight IST
	TPO          TPOInfo      `json:"tpo"`
	Volume       VolumeInfo   `json:"volume"`
	TPOCounts    []PriceCount `json:"tpo_counts,omitempty"`
	VolumeLevels []PriceCount `json:"volume_levels,omitempty"`
}

// SameDay reports whether two session dates fall on the same calendar day.
func SameDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}
