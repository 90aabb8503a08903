package smartconnect

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"math"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// SmartWebSocketV2 feed: binary little-endian quote packets over a single
// connection, with subscriptions replayed after every reconnect.

const (
	RootURI           = "wss://smartapisocket.angelone.in/smart-stream"
	HeartBeatMessage  = "ping"
	HeartBeatInterval = 10 * time.Second
)

// Subscription action / modes / exchanges
const (
	SubscribeAction   = 1
	UnsubscribeAction = 0

	ModeLTP       = 1
	ModeQuote     = 2
	ModeSnapQuote = 3

	NSE_CM = 1
	NSE_FO = 2
	BSE_CM = 3
	BSE_FO = 4
	MCX_FO = 5
	NCX_FO = 7
	CDE_FO = 13
)

// Packet sizes per mode.
const (
	ltpPacketLen       = 51
	quotePacketLen     = 123
	snapQuotePacketLen = 379
)

// TokenListEntry represents exchangeType + tokens for subscribe/unsubscribe.
type TokenListEntry struct {
	ExchangeType int      `json:"exchangeType"`
	Tokens       []string `json:"tokens"`
}

// DepthLevel is one best-5 order book row.
type DepthLevel struct {
	Buy      bool
	Quantity int64
	Price    int64 // paise
	Orders   int
}

// Quote is a decoded feed packet. Prices are raw integers in paise
// (1e-7 rupee units for currency derivatives); see PriceDivisor.
type Quote struct {
	Mode         int
	ExchangeType int
	Token        string
	Sequence     int64
	ExchangeTS   int64 // epoch ms
	LTP          int64

	// QUOTE and above
	LastTradedQty int64
	AvgTradePrice int64
	Volume        int64
	TotalBuyQty   float64
	TotalSellQty  float64
	Open          int64
	High          int64
	Low           int64
	Close         int64

	// SNAP_QUOTE only
	LastTradedTS int64
	OpenInterest int64
	OIChangePct  float64
	Best5        []DepthLevel
	UpperCircuit int64
	LowerCircuit int64
	High52Week   int64
	Low52Week    int64
}

// PriceDivisor converts the raw integer prices of exchangeType to rupees.
func PriceDivisor(exchangeType int) float64 {
	if exchangeType == CDE_FO {
		return 1e7
	}
	return 100
}

var ErrShortPacket = errors.New("smartconnect: binary packet too short")

// ParseQuote decodes a binary feed packet. Fields beyond what the packet's
// length carries are left zero.
func ParseQuote(b []byte) (Quote, error) {
	if len(b) < ltpPacketLen {
		return Quote{}, ErrShortPacket
	}
	le := binary.LittleEndian
	q := Quote{
		Mode:         int(b[0]),
		ExchangeType: int(b[1]),
		Token:        cString(b[2:27]),
		Sequence:     int64(le.Uint64(b[27:35])),
		ExchangeTS:   int64(le.Uint64(b[35:43])),
		LTP:          int64(le.Uint64(b[43:51])),
	}
	if q.Mode >= ModeQuote && len(b) >= quotePacketLen {
		q.LastTradedQty = int64(le.Uint64(b[51:59]))
		q.AvgTradePrice = int64(le.Uint64(b[59:67]))
		q.Volume = int64(le.Uint64(b[67:75]))
		q.TotalBuyQty = math.Float64frombits(le.Uint64(b[75:83]))
		q.TotalSellQty = math.Float64frombits(le.Uint64(b[83:91]))
		q.Open = int64(le.Uint64(b[91:99]))
		q.High = int64(le.Uint64(b[99:107]))
		q.Low = int64(le.Uint64(b[107:115]))
		q.Close = int64(le.Uint64(b[115:123]))
	}
	if q.Mode == ModeSnapQuote && len(b) >= snapQuotePacketLen {
		q.LastTradedTS = int64(le.Uint64(b[123:131]))
		q.OpenInterest = int64(le.Uint64(b[131:139]))
		q.OIChangePct = math.Float64frombits(le.Uint64(b[139:147]))
		q.Best5 = parseBest5(b[147:347])
		q.UpperCircuit = int64(le.Uint64(b[347:355]))
		q.LowerCircuit = int64(le.Uint64(b[355:363]))
		q.High52Week = int64(le.Uint64(b[363:371]))
		q.Low52Week = int64(le.Uint64(b[371:379]))
	}
	return q, nil
}

func cString(b []byte) string {
	for i, c := range b {
		if c == 0 {
			return string(b[:i])
		}
	}
	return string(b)
}

// parseBest5 decodes ten 20-byte packets: flag(2) qty(8) price(8) orders(2).
func parseBest5(b []byte) []DepthLevel {
	le := binary.LittleEndian
	out := make([]DepthLevel, 0, 10)
	for i := 0; i+20 <= len(b); i += 20 {
		p := b[i : i+20]
		out = append(out, DepthLevel{
			Buy:      le.Uint16(p[0:2]) == 0,
			Quantity: int64(le.Uint64(p[2:10])),
			Price:    int64(le.Uint64(p[10:18])),
			Orders:   int(le.Uint16(p[18:20])),
		})
	}
	return out
}

// ---- Connection ----

// SmartWebSocketV2 is a reconnecting SmartAPI market feed. Configure the
// exported fields before Run; callbacks run on the read goroutine.
type SmartWebSocketV2 struct {
	AuthToken  string
	APIKey     string
	ClientCode string
	FeedToken  string

	URL    string
	Dialer *websocket.Dialer

	MaxRetries    int // consecutive failed attempts before Run gives up; 0 = forever
	RetryDelay    time.Duration
	MaxRetryDelay time.Duration

	OnQuote     func(Quote)
	OnOpen      func()
	OnClose     func(err error)
	OnReconnect func(attempt int)
	OnControl   func(msg map[string]any)

	mu   sync.Mutex // guards subs
	subs map[int]map[int][]string

	writeMu sync.Mutex
	conn    *websocket.Conn
}

// NewSmartWebSocketV2 validates the tokens and applies the default retry policy.
func NewSmartWebSocketV2(authToken, apiKey, clientCode, feedToken string) (*SmartWebSocketV2, error) {
	if authToken == "" || apiKey == "" || clientCode == "" || feedToken == "" {
		return nil, errors.New("smartconnect: provide valid value for all the tokens")
	}
	return &SmartWebSocketV2{
		AuthToken:     authToken,
		APIKey:        apiKey,
		ClientCode:    clientCode,
		FeedToken:     feedToken,
		URL:           RootURI,
		Dialer:        websocket.DefaultDialer,
		MaxRetries:    5,
		RetryDelay:    5 * time.Second,
		MaxRetryDelay: time.Minute,
		subs:          make(map[int]map[int][]string),
	}, nil
}

type subscribeRequest struct {
	CorrelationID string          `json:"correlationID,omitempty"`
	Action        int             `json:"action"`
	Params        subscribeParams `json:"params"`
}

type subscribeParams struct {
	Mode      int              `json:"mode"`
	TokenList []TokenListEntry `json:"tokenList"`
}

// Subscribe records the tokens so they survive reconnects and sends the
// request if a connection is up.
func (s *SmartWebSocketV2) Subscribe(correlationID string, mode int, tokenList []TokenListEntry) error {
	s.mu.Lock()
	m := s.subs[mode]
	if m == nil {
		m = make(map[int][]string)
		s.subs[mode] = m
	}
	for _, tl := range tokenList {
		m[tl.ExchangeType] = mergeTokens(m[tl.ExchangeType], tl.Tokens)
	}
	s.mu.Unlock()

	return s.send(subscribeRequest{
		CorrelationID: correlationID,
		Action:        SubscribeAction,
		Params:        subscribeParams{Mode: mode, TokenList: tokenList},
	})
}

// Unsubscribe drops the tokens from the replay set and tells the server.
func (s *SmartWebSocketV2) Unsubscribe(correlationID string, mode int, tokenList []TokenListEntry) error {
	s.mu.Lock()
	if m := s.subs[mode]; m != nil {
		for _, tl := range tokenList {
			left := filterRemove(m[tl.ExchangeType], tl.Tokens)
			if len(left) == 0 {
				delete(m, tl.ExchangeType)
			} else {
				m[tl.ExchangeType] = left
			}
		}
	}
	s.mu.Unlock()

	return s.send(subscribeRequest{
		CorrelationID: correlationID,
		Action:        UnsubscribeAction,
		Params:        subscribeParams{Mode: mode, TokenList: tokenList},
	})
}

func mergeTokens(have, add []string) []string {
	seen := make(map[string]bool, len(have))
	for _, t := range have {
		seen[t] = true
	}
	for _, t := range add {
		if !seen[t] {
			seen[t] = true
			have = append(have, t)
		}
	}
	return have
}

func filterRemove(src, remove []string) []string {
	m := make(map[string]struct{}, len(remove))
	for _, r := range remove {
		m[r] = struct{}{}
	}
	out := make([]string, 0, len(src))
	for _, v := range src {
		if _, ok := m[v]; !ok {
			out = append(out, v)
		}
	}
	return out
}

// send writes v if connected. Not being connected is not an error: the
// subscription is replayed on the next connect.
func (s *SmartWebSocketV2) send(v any) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if s.conn == nil {
		return nil
	}
	return s.conn.WriteJSON(v)
}

func (s *SmartWebSocketV2) resubscribe() error {
	s.mu.Lock()
	reqs := make([]subscribeRequest, 0, len(s.subs))
	for mode, m := range s.subs {
		var tl []TokenListEntry
		for ex, toks := range m {
			tl = append(tl, TokenListEntry{ExchangeType: ex, Tokens: append([]string(nil), toks...)})
		}
		if len(tl) > 0 {
			reqs = append(reqs, subscribeRequest{Action: SubscribeAction, Params: subscribeParams{Mode: mode, TokenList: tl}})
		}
	}
	s.mu.Unlock()

	for _, r := range reqs {
		if err := s.send(r); err != nil {
			return err
		}
	}
	return nil
}

// Run connects and keeps the feed alive until ctx is cancelled. It returns
// nil on cancellation, or an error once MaxRetries consecutive attempts fail.
func (s *SmartWebSocketV2) Run(ctx context.Context) error {
	attempt := 0
	for {
		connected, err := s.serve(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if connected {
			attempt = 0
		}
		attempt++
		if s.MaxRetries > 0 && attempt > s.MaxRetries {
			return fmt.Errorf("smartconnect: feed: max retry attempt reached: %w", err)
		}

		delay := s.backoff(attempt)
		log.Printf("[smartconnect] feed down (%v), reconnect #%d in %v", err, attempt, delay)
		if s.OnReconnect != nil {
			s.OnReconnect(attempt)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(delay):
		}
	}
}

func (s *SmartWebSocketV2) backoff(attempt int) time.Duration {
	d := s.RetryDelay
	if d <= 0 {
		d = time.Second
	}
	for i := 1; i < attempt; i++ {
		d *= 2
		if s.MaxRetryDelay > 0 && d >= s.MaxRetryDelay {
			return s.MaxRetryDelay
		}
	}
	return d
}

// serve runs one connection until it fails or ctx ends.
func (s *SmartWebSocketV2) serve(ctx context.Context) (connected bool, err error) {
	header := http.Header{}
	header.Add("Authorization", s.AuthToken)
	header.Add("x-api-key", s.APIKey)
	header.Add("x-client-code", s.ClientCode)
	header.Add("x-feed-token", s.FeedToken)

	conn, resp, err := s.Dialer.DialContext(ctx, s.URL, header)
	if err != nil {
		if resp != nil {
			return false, fmt.Errorf("dial: %s: %w", resp.Status, err)
		}
		return false, fmt.Errorf("dial: %w", err)
	}

	s.writeMu.Lock()
	s.conn = conn
	s.writeMu.Unlock()

	deadline := func() { _ = conn.SetReadDeadline(time.Now().Add(3 * HeartBeatInterval)) }
	deadline()
	conn.SetPongHandler(func(string) error { deadline(); return nil })

	if err := s.resubscribe(); err != nil {
		s.drop(conn)
		return true, fmt.Errorf("resubscribe: %w", err)
	}
	if s.OnOpen != nil {
		s.OnOpen()
	}

	done := make(chan struct{})
	defer close(done)
	go s.heartbeat(ctx, conn, done)

	err = s.readLoop(conn, deadline)
	s.drop(conn)
	if s.OnClose != nil {
		s.OnClose(err)
	}
	return true, err
}

func (s *SmartWebSocketV2) drop(conn *websocket.Conn) {
	s.writeMu.Lock()
	if s.conn == conn {
		s.conn = nil
	}
	s.writeMu.Unlock()
	_ = conn.Close()
}

func (s *SmartWebSocketV2) readLoop(conn *websocket.Conn, deadline func()) error {
	for {
		mt, msg, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		deadline()

		switch mt {
		case websocket.BinaryMessage:
			q, err := ParseQuote(msg)
			if err != nil {
				log.Printf("[smartconnect] parse error: %v (len=%d)", err, len(msg))
				continue
			}
			if s.OnQuote != nil {
				s.OnQuote(q)
			}
		case websocket.TextMessage:
			if string(msg) == "pong" {
				continue
			}
			var obj map[string]any
			if err := json.Unmarshal(msg, &obj); err == nil && s.OnControl != nil {
				s.OnControl(obj)
			}
		}
	}
}

// heartbeat pings every HeartBeatInterval and closes the connection on
// ctx cancellation so the blocked read returns.
func (s *SmartWebSocketV2) heartbeat(ctx context.Context, conn *websocket.Conn, done <-chan struct{}) {
	ticker := time.NewTicker(HeartBeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ctx.Done():
			s.writeMu.Lock()
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
			s.writeMu.Unlock()
			_ = conn.Close()
			return
		case <-ticker.C:
			s.writeMu.Lock()
			err := conn.WriteMessage(websocket.TextMessage, []byte(HeartBeatMessage))
			s.writeMu.Unlock()
			if err != nil {
				log.Printf("[smartconnect] ping write error: %v", err)
				_ = conn.Close()
				return
			}
		}
	}
}
