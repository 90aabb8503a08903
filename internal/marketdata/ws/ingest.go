package ws

import (
	"context"
	"fmt"
	"log"
	"sort"
	"time"

	"tick-analytics/internal/marketdata/closedetector"
	"tick-analytics/internal/model"
	smartconnect "tick-analytics/pkg/smartconnect"
)

// exchangeTypeToName maps Angel One WS exchange_type ints to exchange name strings.
var exchangeTypeToName = map[int]string{
	1:  "NSE",
	2:  "NFO",
	3:  "BSE",
	4:  "BFO",
	5:  "MCX",
	7:  "NCX",
	13: "CDE",
}

// IngestConfig holds configuration for the WS ingest.
type IngestConfig struct {
	AuthToken  string
	APIKey     string
	ClientCode string
	FeedToken  string

	// Instruments to subscribe in SNAP_QUOTE mode.
	Instruments []model.Instrument
}

// Ingest connects to the Angel One feed and pushes normalized ticks into tickCh.
type Ingest struct {
	cfg  IngestConfig
	feed *smartconnect.SmartWebSocketV2

	underlyingOf map[string]string // derivative id -> underlying id
	lastLTP      map[string]float64

	// Close ends the session once post-close prices settle. Optional.
	Close *closedetector.Detector

	// Optional metrics hooks
	OnReconnect func()
	OnConnected func(bool)
	OnDrop      func()
}

// New creates a new Ingest instance.
func New(cfg IngestConfig) (*Ingest, error) {
	if len(cfg.Instruments) == 0 {
		return nil, fmt.Errorf("ws ingest: no instruments")
	}
	feed, err := smartconnect.NewSmartWebSocketV2(cfg.AuthToken, cfg.APIKey, cfg.ClientCode, cfg.FeedToken)
	if err != nil {
		return nil, fmt.Errorf("ws ingest: create websocket: %w", err)
	}

	ing := &Ingest{
		cfg:          cfg,
		feed:         feed,
		underlyingOf: make(map[string]string),
		lastLTP:      make(map[string]float64),
	}
	for _, inst := range cfg.Instruments {
		if inst.UnderlyingID != "" {
			ing.underlyingOf[inst.SecurityID] = inst.UnderlyingID
		}
	}
	return ing, nil
}

// TokenList groups instrument tokens by exchange type, in a stable order.
func TokenList(insts []model.Instrument) []smartconnect.TokenListEntry {
	groups := map[int][]string{}
	for _, inst := range insts {
		ex := inst.ExchangeType
		if ex == 0 {
			ex = smartconnect.NSE_CM
		}
		groups[ex] = append(groups[ex], inst.SecurityID)
	}
	exs := make([]int, 0, len(groups))
	for ex := range groups {
		exs = append(exs, ex)
	}
	sort.Ints(exs)
	out := make([]smartconnect.TokenListEntry, 0, len(exs))
	for _, ex := range exs {
		out = append(out, smartconnect.TokenListEntry{ExchangeType: ex, Tokens: groups[ex]})
	}
	return out
}

// Start connects to the WebSocket and streams ticks into tickCh.
// Blocks until ctx is cancelled, the close detector fires, or the feed
// gives up reconnecting.
func (ing *Ingest) Start(ctx context.Context, tickCh chan<- model.Tick) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	tokens := TokenList(ing.cfg.Instruments)
	if err := ing.feed.Subscribe("analytics", smartconnect.ModeSnapQuote, tokens); err != nil {
		return fmt.Errorf("ws ingest: subscribe: %w", err)
	}

	ing.feed.OnOpen = func() {
		log.Printf("[ws] connected, subscribed SNAP_QUOTE for %d instruments", len(ing.cfg.Instruments))
		if ing.OnConnected != nil {
			ing.OnConnected(true)
		}
	}
	ing.feed.OnClose = func(err error) {
		log.Printf("[ws] connection closed: %v", err)
		if ing.OnConnected != nil {
			ing.OnConnected(false)
		}
	}
	ing.feed.OnReconnect = func(attempt int) {
		if ing.OnReconnect != nil {
			ing.OnReconnect()
		}
	}
	ing.feed.OnQuote = func(q smartconnect.Quote) {
		now := time.Now()
		tick := ing.toTick(q, now)
		select {
		case tickCh <- tick:
		default:
			if ing.OnDrop != nil {
				ing.OnDrop()
			} else {
				log.Println("[ws] tickCh full, dropping tick")
			}
		}
		if ing.Close != nil && ing.Close.Observe(tick.SecurityID, tick.LTP, now) {
			cancel()
		}
	}

	if err := ing.feed.Run(ctx); err != nil {
		return fmt.Errorf("ws ingest: %w", err)
	}
	return nil
}

// toTick converts a feed quote into a model.Tick, filling UnderlyingPrice
// from the last seen LTP of the instrument's underlying. Called only from
// the feed's read goroutine.
func (ing *Ingest) toTick(q smartconnect.Quote, now time.Time) model.Tick {
	tick := ParseQuote(q, now)
	ing.lastLTP[tick.SecurityID] = tick.LTP
	if u, ok := ing.underlyingOf[tick.SecurityID]; ok {
		tick.UnderlyingPrice = ing.lastLTP[u]
	}
	return tick
}

// ParseQuote normalizes a feed quote: paise to rupees, epoch ms to UTC.
// A missing exchange timestamp falls back to now.
func ParseQuote(q smartconnect.Quote, now time.Time) model.Tick {
	exchange := exchangeTypeToName[q.ExchangeType]
	if exchange == "" {
		exchange = fmt.Sprintf("EX_%d", q.ExchangeType)
	}
	div := smartconnect.PriceDivisor(q.ExchangeType)

	ts := now.UTC()
	if q.ExchangeTS > 0 {
		ts = time.UnixMilli(q.ExchangeTS).UTC()
	}

	return model.Tick{
		SecurityID:    q.Token,
		Exchange:      exchange,
		LTP:           float64(q.LTP) / div,
		LastTradedQty: q.LastTradedQty,
		AvgTradePrice: float64(q.AvgTradePrice) / div,
		DayVolume:     q.Volume,
		OpenInterest:  q.OpenInterest,
		Open:          float64(q.Open) / div,
		High:          float64(q.High) / div,
		Low:           float64(q.Low) / div,
		Close:         float64(q.Close) / div,
		TS:            ts,
	}
}
