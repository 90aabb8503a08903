// Package history loads intraday minute bars from the SmartAPI historical
// candle endpoint and implements model.HistoricalBars.
package history

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/pquerna/otp/totp"

	"tick-analytics/internal/markethours"
	"tick-analytics/internal/model"
	smartconnect "tick-analytics/pkg/smartconnect"
)

// CandleSource is the subset of the SmartAPI client used here.
type CandleSource interface {
	GetCandleData(ctx context.Context, p smartconnect.CandleParams) ([]smartconnect.CandleRow, error)
}

// MinRequestGap keeps the client under SmartAPI's 3 req/s candle limit.
const MinRequestGap = 350 * time.Millisecond

// Client fetches 1-minute bars for one session date. Requests are
// serialized and spaced MinRequestGap apart.
type Client struct {
	src CandleSource
	gap time.Duration

	mu   sync.Mutex
	last time.Time

	// OnFetch is called after every request with the bar count and error.
	OnFetch func(securityID string, bars int, err error)
}

var _ model.HistoricalBars = (*Client)(nil)

// New wraps src.
func New(src CandleSource) *Client {
	return &Client{src: src, gap: MinRequestGap}
}

// FetchIntraday returns date's 09:15-15:30 IST minute bars, oldest first.
func (c *Client) FetchIntraday(ctx context.Context, inst model.Instrument, date time.Time) ([]model.Candle, error) {
	if err := c.wait(ctx); err != nil {
		return nil, err
	}

	from := markethours.SessionStart(date)
	to := markethours.TodayClose(from)
	rows, err := c.src.GetCandleData(ctx, smartconnect.CandleParams{
		Exchange:    exchangeName(inst),
		SymbolToken: inst.SecurityID,
		Interval:    smartconnect.IntervalOneMinute,
		From:        from,
		To:          to,
	})
	if c.OnFetch != nil {
		c.OnFetch(inst.SecurityID, len(rows), err)
	}
	if err != nil {
		return nil, fmt.Errorf("history: %s %s: %w", inst.SecurityID, date.Format("2006-01-02"), err)
	}

	bars := ToCandles(rows, from, to)
	log.Printf("[history] %s: %d minute bars for %s", inst.SecurityID, len(bars), date.In(markethours.IST).Format("2006-01-02"))
	return bars, nil
}

// wait blocks until the next request slot.
func (c *Client) wait(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if d := c.gap - time.Since(c.last); d > 0 {
		t := time.NewTimer(d)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}
	c.last = time.Now()
	return nil
}

// ToCandles converts API rows to candles inside [from, to). The bar VWAP
// is its typical price, since the endpoint carries no traded value.
func ToCandles(rows []smartconnect.CandleRow, from, to time.Time) []model.Candle {
	out := make([]model.Candle, 0, len(rows))
	for _, r := range rows {
		if r.TS.Before(from) || !r.TS.Before(to) {
			continue
		}
		if len(out) > 0 && !r.TS.After(out[len(out)-1].TS) {
			continue
		}
		typical := (r.High + r.Low + r.Close) / 3
		out = append(out, model.Candle{
			TS:             r.TS.UTC(),
			Open:           r.Open,
			High:           r.High,
			Low:            r.Low,
			Close:          r.Close,
			Volume:         r.Volume,
			VWAP:           typical,
			CumPriceVolume: typical * float64(r.Volume),
			CumVolume:      r.Volume,
		})
	}
	return out
}

func exchangeName(inst model.Instrument) string {
	if inst.Exchange != "" {
		return inst.Exchange
	}
	switch inst.ExchangeType {
	case smartconnect.NSE_FO:
		return "NFO"
	case smartconnect.BSE_CM:
		return "BSE"
	case smartconnect.BSE_FO:
		return "BFO"
	case smartconnect.MCX_FO:
		return "MCX"
	case smartconnect.CDE_FO:
		return "CDS"
	}
	return "NSE"
}

// Credentials are the SmartAPI login inputs.
type Credentials struct {
	ClientCode string
	Password   string
	TOTPSecret string
}

// Login opens a SmartAPI session with a freshly generated TOTP code.
func Login(ctx context.Context, sc *smartconnect.SmartConnect, cr Credentials, now time.Time) (smartconnect.Session, error) {
	code, err := totp.GenerateCode(cr.TOTPSecret, now)
	if err != nil {
		return smartconnect.Session{}, fmt.Errorf("history: totp: %w", err)
	}
	sess, err := sc.GenerateSession(ctx, cr.ClientCode, cr.Password, code)
	if err != nil {
		return smartconnect.Session{}, fmt.Errorf("history: login %s: %w", cr.ClientCode, err)
	}
	log.Printf("[history] session ready for %s", cr.ClientCode)
	return sess, nil
}
