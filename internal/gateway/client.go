package gateway

import (
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"tick-analytics/internal/model"

	"github.com/gorilla/websocket"
)

// SubscribeMsg is the client -> server SUBSCRIBE / UNSUBSCRIBE request.
// TF is a label such as "5m"; Candles is how many history candles the
// SNAPSHOT reply carries (default 200).
type SubscribeMsg struct {
	Type       string `json:"type"`
	ReqID      string `json:"reqId"`
	SecurityID string `json:"security_id"`
	TF         string `json:"tf"`
	Candles    int    `json:"candles"`
}

// SnapshotResponse is the server -> client reply to SUBSCRIBE.
type SnapshotResponse struct {
	Type       string                `json:"type"` // "SNAPSHOT"
	ReqID      string                `json:"reqId"`
	SecurityID string                `json:"security_id"`
	TF         string                `json:"tf"`
	Candles    []model.Candle        `json:"candles"`
	Result     *model.AnalysisResult `json:"result,omitempty"`
}

// Client represents a single WebSocket peer.
type Client struct {
	conn *websocket.Conn
	send chan []byte
	hub  *Hub

	// security id -> subscribed candle timeframes; touched only by readPump
	// and broadcast under hub.mu, so it shares the hub lock
	subs map[string]map[string]bool
}

func (c *Client) sendInitialState(lastTS string) {
	var cutoff time.Time
	if lastTS != "" {
		if parsed, err := time.Parse(time.RFC3339Nano, lastTS); err == nil {
			cutoff = parsed
		}
	}

	c.hub.mu.RLock()
	defer c.hub.mu.RUnlock()
	for channel, entry := range c.hub.latest {
		if !cutoff.IsZero() && !entry.TS.After(cutoff) {
			continue
		}
		envelope, _ := json.Marshal(map[string]interface{}{
			"channel":     channel,
			"data":        entry.Data,
			"ts":          entry.TS.Format(time.RFC3339Nano),
			"channel_seq": entry.Seq,
			"initial":     true,
		})
		select {
		case c.send <- envelope:
		default:
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(30 * time.Second)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))

			// coalesce queued envelopes into one frame, newline separated
			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(msg)
			n := len(c.send)
			for i := 0; i < n; i++ {
				next, ok := <-c.send
				if !ok {
					break
				}
				w.Write([]byte{'\n'})
				w.Write(next)
			}
			if err := w.Close(); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) readPump() {
	defer func() {
		c.hub.RemoveClient(c)
		c.conn.Close()
		log.Println("[gateway] ws client disconnected")
	}()

	c.conn.SetReadLimit(4096)
	c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		_, msg, err := c.conn.ReadMessage()
		if err != nil {
			return
		}

		var base struct {
			Type string `json:"type"`
			Ping int64  `json:"ping"`
		}
		if json.Unmarshal(msg, &base) != nil {
			continue
		}

		switch base.Type {
		case "SUBSCRIBE", "UNSUBSCRIBE":
			var sub SubscribeMsg
			if err := json.Unmarshal(msg, &sub); err != nil || sub.SecurityID == "" {
				c.sendError(sub.ReqID, "security_id is required")
				continue
			}
			if base.Type == "SUBSCRIBE" {
				c.handleSubscribe(sub)
			} else {
				c.handleUnsubscribe(sub)
			}
		default:
			if base.Ping > 0 {
				c.sendJSON(map[string]interface{}{
					"type":      "pong",
					"ping":      base.Ping,
					"server_ts": time.Now().UnixMilli(),
				})
			}
		}
	}
}

// handleSubscribe records the subscription and replies with a SNAPSHOT.
func (c *Client) handleSubscribe(msg SubscribeMsg) {
	tf := msg.TF
	if tf == "" {
		tf = "1m"
	}
	dur, err := parseTF(tf)
	if err != nil {
		c.sendError(msg.ReqID, err.Error())
		return
	}
	tf = model.TFKey(dur)

	c.hub.mu.Lock()
	tfs := c.subs[msg.SecurityID]
	if tfs == nil {
		tfs = make(map[string]bool)
		c.subs[msg.SecurityID] = tfs
	}
	tfs[tf] = true
	c.hub.mu.Unlock()

	limit := msg.Candles
	if limit <= 0 {
		limit = 200
	}
	snap := SnapshotResponse{Type: "SNAPSHOT", ReqID: msg.ReqID, SecurityID: msg.SecurityID, TF: tf}
	if src := c.hub.source; src != nil {
		if candles, ok := src.GetCandles(msg.SecurityID, dur); ok {
			if len(candles) > limit {
				candles = candles[len(candles)-limit:]
			}
			snap.Candles = candles
		}
		if r, err := src.Latest(msg.SecurityID); err == nil {
			snap.Result = &r
		}
	}
	if snap.Candles == nil {
		snap.Candles = []model.Candle{}
	}
	c.sendJSON(snap)
	log.Printf("[gateway] subscribed: security_id=%s tf=%s candles=%d", msg.SecurityID, tf, len(snap.Candles))
}

// handleUnsubscribe drops one timeframe, or the whole instrument when tf is empty.
func (c *Client) handleUnsubscribe(msg SubscribeMsg) {
	tf := msg.TF
	if d, err := parseTF(tf); err == nil {
		tf = model.TFKey(d)
	}
	c.hub.mu.Lock()
	if msg.TF == "" {
		delete(c.subs, msg.SecurityID)
	} else if tfs := c.subs[msg.SecurityID]; tfs != nil {
		delete(tfs, tf)
		if len(tfs) == 0 {
			delete(c.subs, msg.SecurityID)
		}
	}
	c.hub.mu.Unlock()
}

// matchesChannel reports whether the client wants channel. A client without
// subscriptions receives everything. Caller holds hub.mu.
func (c *Client) matchesChannel(channel string) bool {
	if len(c.subs) == 0 {
		return true
	}
	parts := strings.Split(channel, ":")
	switch {
	case len(parts) == 2 && parts[0] == "analysis":
		_, ok := c.subs[parts[1]]
		return ok
	case len(parts) == 3 && parts[0] == "candle":
		return c.subs[parts[2]][parts[1]]
	}
	return true
}

func (c *Client) sendJSON(v interface{}) {
	data, err := json.Marshal(v)
	if err != nil {
		log.Printf("[gateway] marshal: %v", err)
		return
	}
	select {
	case c.send <- data:
	default:
	}
}

func (c *Client) sendError(reqID, msg string) {
	c.sendJSON(map[string]string{"type": "ERROR", "reqId": reqID, "error": msg})
}

// parseTF parses labels like "1m", "15m" or "1h".
func parseTF(tf string) (time.Duration, error) {
	d, err := time.ParseDuration(tf)
	if err != nil || d < time.Minute || d%time.Minute != 0 {
		return 0, fmt.Errorf("invalid tf %q", tf)
	}
	return d, nil
}
