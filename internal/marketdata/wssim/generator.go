package wssim

import (
	"context"
	"encoding/json"
	"log"
	"math"
	"math/rand"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"tick-analytics/internal/model"
)

type simState struct {
	inst   model.Instrument
	price  float64
	open   float64
	high   float64
	low    float64
	volume int64
	oi     int64
	iv     float64
}

// Generator produces random-walk ticks for a fixed instrument set.
// Not safe for concurrent use.
type Generator struct {
	rng    *rand.Rand
	states []*simState
	byID   map[string]*simState
}

// defaultPrice picks a plausible starting price per instrument type.
func defaultPrice(inst model.Instrument) float64 {
	switch {
	case inst.IsIndex():
		return 24000
	case inst.IsOption():
		return 150
	}
	return 1000
}

// NewGenerator seeds one walk per instrument. base overrides the starting
// price by security id.
func NewGenerator(insts []model.Instrument, base map[string]float64, seed int64) *Generator {
	g := &Generator{rng: rand.New(rand.NewSource(seed)), byID: make(map[string]*simState, len(insts))}
	for _, inst := range insts {
		p := base[inst.SecurityID]
		if p <= 0 {
			p = defaultPrice(inst)
		}
		st := &simState{inst: inst, price: p, open: p, high: p, low: p}
		if inst.IsFuture() || inst.IsOption() {
			st.oi = 100000
		}
		if inst.IsOption() {
			st.iv = 14
		}
		g.states = append(g.states, st)
		g.byID[inst.SecurityID] = st
	}
	return g
}

// Next advances every walk by one step and returns the ticks stamped now.
func (g *Generator) Next(now time.Time) []model.Tick {
	out := make([]model.Tick, 0, len(g.states))
	for _, st := range g.states {
		step := st.price * (g.rng.Float64()*0.2 - 0.1) / 100
		st.price = math.Max(0.05, math.Round((st.price+step)*20)/20)
		st.high = math.Max(st.high, st.price)
		st.low = math.Min(st.low, st.price)

		var qty int64
		if !st.inst.IsIndex() {
			qty = int64(g.rng.Intn(100)+1) * 25
			st.volume += qty
		}
		if st.oi > 0 {
			st.oi += int64(g.rng.Intn(201)-100) * 25
			if st.oi < 0 {
				st.oi = 0
			}
		}
		if st.iv > 0 {
			st.iv = math.Max(5, st.iv+g.rng.NormFloat64()*0.05)
		}

		t := model.Tick{
			SecurityID:        st.inst.SecurityID,
			Exchange:          st.inst.Exchange,
			LTP:               st.price,
			LastTradedQty:     qty,
			AvgTradePrice:     (st.high + st.low + st.price) / 3,
			DayVolume:         st.volume,
			OpenInterest:      st.oi,
			ImpliedVolatility: st.iv,
			Open:              st.open,
			High:              st.high,
			Low:               st.low,
			Close:             st.open,
			TS:                now.UTC(),
		}
		if u, ok := g.byID[st.inst.UnderlyingID]; ok {
			t.UnderlyingPrice = u.price
		}
		out = append(out, t)
	}
	return out
}

// Server broadcasts generated ticks as JSON to every connected client.
// Slow clients miss ticks rather than stall the generator.
type Server struct {
	gen      *Generator
	upgrader websocket.Upgrader

	mu      sync.RWMutex
	clients map[chan []byte]struct{}
}

// NewServer wraps gen in a broadcasting WebSocket server.
func NewServer(gen *Generator) *Server {
	return &Server{
		gen:      gen,
		upgrader: websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }},
		clients:  make(map[chan []byte]struct{}),
	}
}

// ServeHTTP upgrades the request and writes ticks until the client leaves.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[wssim] upgrade: %v", err)
		return
	}
	defer conn.Close()

	ch := make(chan []byte, 256)
	s.mu.Lock()
	s.clients[ch] = struct{}{}
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.clients, ch)
		s.mu.Unlock()
	}()
	log.Printf("[wssim] client connected: %s", r.RemoteAddr)

	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-gone:
			return
		case msg := <-ch:
			conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		}
	}
}

// Clients returns the number of connected clients.
func (s *Server) Clients() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.clients)
}

// Step generates one round of ticks and broadcasts them.
func (s *Server) Step(now time.Time) {
	for _, t := range s.gen.Next(now) {
		b, err := json.Marshal(t)
		if err != nil {
			continue
		}
		s.mu.RLock()
		for ch := range s.clients {
			select {
			case ch <- b:
			default:
			}
		}
		s.mu.RUnlock()
	}
}

// Run steps every interval until ctx is cancelled.
func (s *Server) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			s.Step(now)
		}
	}
}
