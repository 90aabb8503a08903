package gateway

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"tick-analytics/internal/marketdata/agg"
	"tick-analytics/internal/model"

	"github.com/gorilla/websocket"
)

// Source answers snapshot reads for SUBSCRIBE requests; *engine.Router implements it.
type Source interface {
	GetCandles(securityID string, tf time.Duration) ([]model.Candle, bool)
	Latest(securityID string) (model.AnalysisResult, error)
}

// ResultChannel and CandleChannel name the hub's broadcast channels.
func ResultChannel(securityID string) string { return "analysis:" + securityID }

func CandleChannel(tf, securityID string) string { return "candle:" + tf + ":" + securityID }

// Hub manages WebSocket clients and fans analysis output out to them.
// Every envelope carries a global seq and a per-channel channel_seq; the
// last replaySize envelopes per channel can be fetched again after a gap.
type Hub struct {
	source     Source
	replaySize int

	mu      sync.RWMutex
	clients map[*Client]bool
	latest  map[string]latestEntry
	seq     int64

	// Per-channel monotonic sequence numbers for gap detection
	channelSeqs map[string]int64
	replayBufs  map[string]*ReplayBuffer

	// Tick-to-broadcast latency
	Latency *LatencyTracker

	upgrader websocket.Upgrader

	// OnSlowClient is called when an envelope is dropped for a full client queue.
	OnSlowClient func()
}

type latestEntry struct {
	Data json.RawMessage
	TS   time.Time
	Seq  int64
}

// NewHub creates a Hub. src may be nil, in which case snapshots carry no data.
func NewHub(src Source, replaySize int) *Hub {
	if replaySize <= 0 {
		replaySize = 500
	}
	return &Hub{
		source:      src,
		replaySize:  replaySize,
		clients:     make(map[*Client]bool),
		latest:      make(map[string]latestEntry),
		channelSeqs: make(map[string]int64),
		replayBufs:  make(map[string]*ReplayBuffer),
		Latency:     NewLatencyTracker(10000),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// Run implements model.ResultSink: it broadcasts every result until ctx is
// cancelled or in is closed.
func (h *Hub) Run(ctx context.Context, in <-chan model.AnalysisResult) {
	for {
		select {
		case <-ctx.Done():
			return
		case r, ok := <-in:
			if !ok {
				return
			}
			h.PublishResult(r)
		}
	}
}

// RunCandles broadcasts candle updates until ctx is cancelled or in is closed.
func (h *Hub) RunCandles(ctx context.Context, in <-chan agg.CandleUpdate) {
	for {
		select {
		case <-ctx.Done():
			return
		case u, ok := <-in:
			if !ok {
				return
			}
			h.PublishCandle(u)
		}
	}
}

// PublishResult broadcasts one analysis result.
func (h *Hub) PublishResult(r model.AnalysisResult) {
	h.broadcast(ResultChannel(r.SecurityID), r.JSON(), r.TS)
}

// PublishCandle broadcasts one candle update.
func (h *Hub) PublishCandle(u agg.CandleUpdate) {
	h.broadcast(CandleChannel(u.TF, u.SecurityID), u.Candle.JSON(), time.Time{})
}

// ServeHTTP upgrades the request to a WebSocket and registers the client.
// The optional last_ts query parameter (RFC3339) limits the initial state to
// channels updated after it.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[gateway] ws upgrade failed: %v", err)
		return
	}
	h.register(conn, r.URL.Query().Get("last_ts"))
}

func (h *Hub) register(conn *websocket.Conn, lastTS string) {
	client := &Client{
		conn: conn,
		send: make(chan []byte, 256),
		hub:  h,
		subs: make(map[string]map[string]bool),
	}

	h.mu.Lock()
	h.clients[client] = true
	count := len(h.clients)
	h.mu.Unlock()

	log.Printf("[gateway] ws client connected (%d total)", count)

	client.sendInitialState(lastTS)
	go client.writePump()
	go client.readPump()
}

// RemoveClient removes a client from the hub and closes its queue.
func (h *Hub) RemoveClient(c *Client) {
	h.mu.Lock()
	if h.clients[c] {
		delete(h.clients, c)
		close(c.send)
	}
	h.mu.Unlock()
}

// Shutdown closes every client connection.
func (h *Hub) Shutdown() {
	h.mu.RLock()
	conns := make([]*websocket.Conn, 0, len(h.clients))
	for c := range h.clients {
		conns = append(conns, c.conn)
	}
	h.mu.RUnlock()
	for _, conn := range conns {
		conn.Close()
	}
}

// LatestAll returns the newest payload per channel.
func (h *Hub) LatestAll() map[string]json.RawMessage {
	h.mu.RLock()
	defer h.mu.RUnlock()
	cp := make(map[string]json.RawMessage, len(h.latest))
	for k, v := range h.latest {
		cp[k] = v.Data
	}
	return cp
}

// ReplayRange returns buffered envelopes for channel with seq in [fromSeq, toSeq].
func (h *Hub) ReplayRange(channel string, fromSeq, toSeq int64) [][]byte {
	h.mu.RLock()
	rb, ok := h.replayBufs[channel]
	h.mu.RUnlock()
	if !ok {
		return nil
	}
	entries := rb.Range(fromSeq, toSeq)
	out := make([][]byte, len(entries))
	for i, e := range entries {
		out[i] = e.Data
	}
	return out
}

// ChannelSeq returns the current sequence number for a channel.
func (h *Hub) ChannelSeq(channel string) int64 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.channelSeqs[channel]
}

// ClientCount returns the number of connected WS clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
