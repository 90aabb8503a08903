package model

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// Candle is an OHLCV+VWAP bar for one instrument and timeframe.
// A candle is mutable only while it is the last one of its series.
type Candle struct {
	TS           time.Time `json:"ts"` // period start (UTC, timeframe-aligned)
	Open         float64   `json:"open"`
	High         float64   `json:"high"`
	Low          float64   `json:"low"`
	Close        float64   `json:"close"`
	Volume       int64     `json:"volume"`
	OpenInterest int64     `json:"oi"`
	VWAP         float64   `json:"vwap"`

	// running sums behind VWAP, not part of the wire format
	CumPriceVolume float64 `json:"-"`
	CumVolume      int64   `json:"-"`
}

// JSON returns the JSON-encoded candle (ignoring errors for hot-path usage).
func (c *Candle) JSON() []byte {
	b, _ := json.Marshal(c)
	return b
}

func (c Candle) String() string {
	return fmt.Sprintf("T: %s, O: %g, H: %g, L: %g, C: %g, V: %d",
		c.TS.Format("15:04:05"), c.Open, c.High, c.Low, c.Close, c.Volume)
}

// TFMinutes returns the timeframe in whole minutes.
func TFMinutes(tf time.Duration) int { return int(tf / time.Minute) }

// TFKey returns the short timeframe label used in keys, e.g. "5m".
func TFKey(tf time.Duration) string {
	return strconv.Itoa(TFMinutes(tf)) + "m"
}
