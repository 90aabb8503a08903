// Package greeks polls the SmartAPI option-greek endpoint and caches the
// implied volatility of each monitored option, since the tick feed does
// not carry IV.
package greeks

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"tick-analytics/internal/model"
	smartconnect "tick-analytics/pkg/smartconnect"
)

// Source is the subset of the SmartAPI client used by the poller.
type Source interface {
	OptionGreek(ctx context.Context, name, expiry string) ([]smartconnect.OptionGreekRow, error)
}

type chain struct {
	name   string
	expiry string
}

// Poller refreshes IVs for a fixed option set. Safe for concurrent use.
type Poller struct {
	src      Source
	interval time.Duration
	chains   []chain

	mu sync.RWMutex
	iv map[string]float64

	// OnPoll is called after each chain request.
	OnPoll func(err error)
}

// New builds a poller for the options in insts; other instruments are ignored.
func New(src Source, insts []model.Instrument, interval time.Duration) *Poller {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	seen := map[chain]bool{}
	var chains []chain
	for _, inst := range insts {
		if !inst.IsOption() || inst.Underlying == "" || inst.Expiry == "" {
			continue
		}
		c := chain{name: strings.ToUpper(inst.Underlying), expiry: strings.ToUpper(inst.Expiry)}
		if !seen[c] {
			seen[c] = true
			chains = append(chains, c)
		}
	}
	return &Poller{src: src, interval: interval, chains: chains, iv: make(map[string]float64)}
}

// Chains returns how many (underlying, expiry) chains are polled.
func (p *Poller) Chains() int { return len(p.chains) }

func ivKey(name, expiry string, strike float64, optType string) string {
	return fmt.Sprintf("%s|%s|%.2f|%s", strings.ToUpper(name), strings.ToUpper(expiry), strike, strings.ToUpper(optType))
}

// Run polls immediately and then every interval until ctx is cancelled.
func (p *Poller) Run(ctx context.Context) {
	if len(p.chains) == 0 {
		return
	}
	log.Printf("[greeks] polling %d option chains every %v", len(p.chains), p.interval)
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		if err := p.PollOnce(ctx); err != nil && ctx.Err() == nil {
			log.Printf("[greeks] poll: %v", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// PollOnce refreshes every chain. Failed chains keep their previous values.
func (p *Poller) PollOnce(ctx context.Context) error {
	var errs []error
	for _, c := range p.chains {
		rows, err := p.src.OptionGreek(ctx, c.name, c.expiry)
		if p.OnPoll != nil {
			p.OnPoll(err)
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("%s %s: %w", c.name, c.expiry, err))
			continue
		}
		p.mu.Lock()
		for _, r := range rows {
			if r.ImpliedVolatility > 0 {
				p.iv[ivKey(c.name, c.expiry, r.Strike, r.OptionType)] = r.ImpliedVolatility
			}
		}
		p.mu.Unlock()
	}
	return errors.Join(errs...)
}

// IV returns the cached implied volatility of an option.
func (p *Poller) IV(inst model.Instrument) (float64, bool) {
	if !inst.IsOption() {
		return 0, false
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	v, ok := p.iv[ivKey(inst.Underlying, inst.Expiry, inst.StrikePrice, inst.OptionType)]
	return v, ok
}

// Enrich sets t.ImpliedVolatility from the cache when the tick carries none.
func (p *Poller) Enrich(inst model.Instrument, t *model.Tick) {
	if t.ImpliedVolatility > 0 {
		return
	}
	if v, ok := p.IV(inst); ok {
		t.ImpliedVolatility = v
	}
}
