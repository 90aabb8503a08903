package model

import "time"

// Tick is a single market data update for one instrument.
// Prices are in rupees. Day OHLC and the previous close come from the
// SNAP_QUOTE packet and are zero when the feed does not carry them.
type Tick struct {
	SecurityID        string    `json:"security_id"`
	Exchange          string    `json:"exchange"`
	LTP               float64   `json:"ltp"`
	LastTradedQty     int64     `json:"ltq"`
	AvgTradePrice     float64   `json:"atp"`
	DayVolume         int64     `json:"volume"`
	OpenInterest      int64     `json:"oi"`
	ImpliedVolatility float64   `json:"iv"`
	Open              float64   `json:"open"`
	High              float64   `json:"high"`
	Low               float64   `json:"low"`
	Close             float64   `json:"close"` // previous session close
	UnderlyingPrice   float64   `json:"underlying_price"`
	TS                time.Time `json:"ts"` // exchange timestamp (UTC)
}
