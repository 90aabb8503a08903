// Package wssim is a feed that reads JSON-encoded model.Tick messages from
// a plain WebSocket server instead of the SmartAPI binary stream. It lets
// the engine run offline against recorded or generated ticks:
//
//	{"security_id":"99926000","exchange":"NSE","ltp":22510.5,"ltq":50,"volume":120000,"ts":"2025-06-02T03:46:00Z"}
//
// Missing timestamps are stamped with the receive time.
package wssim

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/url"
	"time"

	"github.com/gorilla/websocket"

	"tick-analytics/internal/model"
)

// Config holds configuration for the JSON feed.
type Config struct {
	// URL of the tick server, e.g. "ws://localhost:9001/ticks".
	URL string

	// ReconnectDelay is the initial delay before reconnecting. Default 2s.
	ReconnectDelay time.Duration
	// MaxReconnectDelay caps the exponential backoff. Default 30s.
	MaxReconnectDelay time.Duration
}

// Ingest pushes decoded ticks into tickCh with the same contract as the
// SmartAPI ingest.
type Ingest struct {
	cfg   Config
	known map[string]bool

	OnReconnect func()
	OnConnected func(bool)
	OnDrop      func()
	OnInvalid   func()
}

// New validates the URL. Ticks for ids outside insts are discarded;
// an empty insts accepts everything.
func New(cfg Config, insts []model.Instrument) (*Ingest, error) {
	u, err := url.Parse(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("wssim: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return nil, fmt.Errorf("wssim: unsupported scheme %q", u.Scheme)
	}
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = 2 * time.Second
	}
	if cfg.MaxReconnectDelay <= 0 {
		cfg.MaxReconnectDelay = 30 * time.Second
	}
	ing := &Ingest{cfg: cfg}
	if len(insts) > 0 {
		ing.known = make(map[string]bool, len(insts))
		for _, inst := range insts {
			ing.known[inst.SecurityID] = true
		}
	}
	return ing, nil
}

// Start streams until ctx is cancelled, reconnecting with backoff.
func (ing *Ingest) Start(ctx context.Context, tickCh chan<- model.Tick) error {
	delay := ing.cfg.ReconnectDelay
	for {
		connected, err := ing.runOnce(ctx, tickCh)
		if ctx.Err() != nil {
			return nil
		}
		if connected {
			delay = ing.cfg.ReconnectDelay
		}
		log.Printf("[wssim] disconnected (%v), reconnecting in %s", err, delay)
		if ing.OnReconnect != nil {
			ing.OnReconnect()
		}

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(delay):
		}
		delay *= 2
		if delay > ing.cfg.MaxReconnectDelay {
			delay = ing.cfg.MaxReconnectDelay
		}
	}
}

// runOnce reads one connection until it fails; connected reports whether
// the dial succeeded.
func (ing *Ingest) runOnce(ctx context.Context, tickCh chan<- model.Tick) (connected bool, err error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, ing.cfg.URL, nil)
	if err != nil {
		return false, err
	}
	defer conn.Close()

	log.Printf("[wssim] connected to %s", ing.cfg.URL)
	ing.setConnected(true)
	defer ing.setConnected(false)

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, "shutdown"),
				time.Now().Add(time.Second))
			conn.Close()
		case <-stop:
		}
	}()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return true, err
		}
		tick, ok := ing.decode(raw, time.Now())
		if !ok {
			if ing.OnInvalid != nil {
				ing.OnInvalid()
			}
			continue
		}
		select {
		case tickCh <- tick:
		default:
			if ing.OnDrop != nil {
				ing.OnDrop()
			}
		}
	}
}

func (ing *Ingest) decode(raw []byte, now time.Time) (model.Tick, bool) {
	var tick model.Tick
	if err := json.Unmarshal(raw, &tick); err != nil {
		log.Printf("[wssim] bad message: %v", err)
		return tick, false
	}
	if tick.SecurityID == "" || tick.LTP <= 0 {
		return tick, false
	}
	if ing.known != nil && !ing.known[tick.SecurityID] {
		return tick, false
	}
	if tick.TS.IsZero() {
		tick.TS = now.UTC()
	}
	return tick, true
}

func (ing *Ingest) setConnected(v bool) {
	if ing.OnConnected != nil {
		ing.OnConnected(v)
	}
}
