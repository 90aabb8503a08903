package profile

import (
	"strings"
	"time"

	"tick-analytics/internal/model"
)

// Structure and opening classifications.
const (
	StructureBuilding      = "Building"
	StructureTrendingUp    = "Trending Up"
	StructureTrendingDown  = "Trending Down"
	StructureBalancing     = "Balancing"
	StructureTransitioning = "Transitioning"

	AwaitingOpen        = "Awaiting Open"
	OpeningAboveValue   = "Opening Above Value"
	OpeningBelowValue   = "Opening Below Value"
	OpeningInsideHigh   = "Opening Inside Value (High)"
	OpeningInsideLow    = "Opening Inside Value (Low)"
	OpeningAtPOC        = "Opening at POC"
	InsufficientHistory = "Insufficient History"
)

// biasProfiles is how many recent sessions the bias looks at.
const biasProfiles = 8

// MarketStructure classifies the multi-day structure from profiles ordered
// newest first using the three most recent value areas.
func MarketStructure(profiles []model.MarketProfileData) string {
	if len(profiles) < 3 {
		return StructureBuilding
	}
	d1, d2, d3 := profiles[0].TPO, profiles[1].TPO, profiles[2].TPO

	if d1.VAL > d2.VAL && d2.VAL > d3.VAL {
		return StructureTrendingUp
	}
	if d1.VAH < d2.VAH && d2.VAH < d3.VAH {
		return StructureTrendingDown
	}
	if d1.VAH >= d2.VAL && d1.VAL <= d2.VAH {
		return StructureBalancing
	}
	return StructureTransitioning
}

// OpeningCondition places today's open relative to the previous session.
func OpeningCondition(open float64, prev model.MarketProfileData) string {
	switch {
	case open == 0:
		return AwaitingOpen
	case open > prev.TPO.VAH:
		return OpeningAboveValue
	case open < prev.TPO.VAL:
		return OpeningBelowValue
	case open > prev.TPO.POC:
		return OpeningInsideHigh
	case open < prev.TPO.POC:
		return OpeningInsideLow
	}
	return OpeningAtPOC
}

// SynthesizeBias maps structure and opening to the daily bias.
func SynthesizeBias(structure, opening string) string {
	if opening == AwaitingOpen {
		return AwaitingOpen
	}
	inside := strings.Contains(opening, "Inside Value")
	switch {
	case structure == StructureTrendingUp && opening == OpeningAboveValue:
		return "Strong Bullish"
	case structure == StructureTrendingDown && opening == OpeningBelowValue:
		return "Strong Bearish"
	case structure == StructureTrendingUp && inside:
		return "Bullish Rotational"
	case structure == StructureTrendingDown && inside:
		return "Bearish Rotational"
	case structure == StructureBalancing && opening == OpeningAboveValue:
		return "Bullish Breakout Watch"
	case structure == StructureBalancing && opening == OpeningBelowValue:
		return "Bearish Breakout Watch"
	case structure == StructureBalancing && inside:
		return "Pure Rotational"
	}
	return "Neutral"
}

// Bias is the outcome of a daily bias run.
type Bias struct {
	Structure string // empty when not evaluated
	Bias      string
}

// DailyBias evaluates the bias for today from the session history
// (any order) and today's open. ok is false when there is no session
// before today to compare with, in which case the caller keeps its
// previous values.
func DailyBias(history []model.MarketProfileData, today time.Time, open float64) (b Bias, ok bool) {
	if len(history) < 2 {
		return Bias{Bias: InsufficientHistory}, true
	}
	recent := NewestFirst(history)
	if len(recent) > biasProfiles {
		recent = recent[:biasProfiles]
	}
	prev := PreviousSession(recent, today)
	if prev == nil {
		return Bias{}, false
	}
	structure := MarketStructure(recent)
	return Bias{
		Structure: structure,
		Bias:      SynthesizeBias(structure, OpeningCondition(open, *prev)),
	}, true
}
