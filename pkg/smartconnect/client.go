// Package smartconnect is a small client for the Angel One SmartAPI.
// It covers what the analytics service needs: password+TOTP login,
// historical candles, option greeks and the WebSocket V2 market feed.
//
// Usage example:
//
//	sc := smartconnect.NewSmartConnect(smartconnect.Config{APIKey: "your_api_key"})
//	sess, err := sc.GenerateSession(ctx, "CLIENTID", "PASSWORD", "123456")
//	if err != nil { log.Fatal(err) }
//	bars, err := sc.GetCandleData(ctx, smartconnect.CandleParams{
//	    Exchange: "NSE", SymbolToken: "99926000", Interval: smartconnect.IntervalOneMinute,
//	    From: from, To: to,
//	})
package smartconnect

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

// ---- Config & client ----

type Config struct {
	APIKey string

	RootURL        string        // default: https://apiconnect.angelone.in
	Timeout        time.Duration // default: 7s
	HTTPClient     *http.Client  // optional; Timeout is ignored when set
	Debug          bool
	ClientPublicIP string // default 106.193.147.98
	ClientLocalIP  string // default: first non-loopback IPv4, else 127.0.0.1
	ClientMAC      string // default: first interface MAC
}

// SmartConnect holds one SmartAPI session. Safe for concurrent use.
type SmartConnect struct {
	apiKey  string
	rootURL string
	debug   bool
	http    *http.Client

	clientPublicIP string
	clientLocalIP  string
	clientMAC      string

	mu           sync.RWMutex
	accessToken  string
	refreshToken string
	feedToken    string
	clientCode   string

	// SessionExpiryHook is called when the API answers 403 with a TokenException.
	SessionExpiryHook func()
}

// Session is the token set returned by a successful login.
type Session struct {
	ClientCode   string
	JWTToken     string
	RefreshToken string
	FeedToken    string
}

// APIError is a SmartAPI error envelope (status=false or error_type set).
type APIError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("smartconnect: %s (%s, http %d)", e.Message, e.Code, e.StatusCode)
}

// ErrNotLoggedIn is returned by secure routes before GenerateSession.
var ErrNotLoggedIn = errors.New("smartconnect: not logged in")

const (
	defaultRoot     = "https://apiconnect.angelone.in"
	defaultPublicIP = "106.193.147.98"
)

var routes = map[string]string{
	"api.login":   "/rest/auth/angelbroking/user/v1/loginByPassword",
	"api.logout":  "/rest/secure/angelbroking/user/v1/logout",
	"api.refresh": "/rest/auth/angelbroking/jwt/v1/generateTokens",

	"api.candle.data": "/rest/secure/angelbroking/historical/v1/getCandleData",
	"api.optionGreek": "/rest/secure/angelbroking/marketData/v1/optionGreek",
}

// NewSmartConnect builds a client. No network calls are made.
func NewSmartConnect(cfg Config) *SmartConnect {
	if cfg.RootURL == "" {
		cfg.RootURL = defaultRoot
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 7 * time.Second
	}
	if cfg.ClientPublicIP == "" {
		cfg.ClientPublicIP = defaultPublicIP
	}
	if cfg.ClientLocalIP == "" {
		cfg.ClientLocalIP = localIP()
	}
	if cfg.ClientMAC == "" {
		cfg.ClientMAC = macAddress()
	}
	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: cfg.Timeout}
	}
	return &SmartConnect{
		apiKey:         cfg.APIKey,
		rootURL:        strings.TrimRight(cfg.RootURL, "/"),
		debug:          cfg.Debug,
		http:           hc,
		clientPublicIP: cfg.ClientPublicIP,
		clientLocalIP:  cfg.ClientLocalIP,
		clientMAC:      cfg.ClientMAC,
	}
}

func localIP() string {
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return "127.0.0.1"
	}
	for _, a := range addrs {
		if ipNet, ok := a.(*net.IPNet); ok && !ipNet.IP.IsLoopback() && ipNet.IP.To4() != nil {
			return ipNet.IP.String()
		}
	}
	return "127.0.0.1"
}

func macAddress() string {
	ifs, _ := net.Interfaces()
	for _, ifc := range ifs {
		if len(ifc.HardwareAddr) > 0 {
			return ifc.HardwareAddr.String()
		}
	}
	return "00:11:22:33:44:55"
}

// ---- Session ----

func (sc *SmartConnect) AccessToken() string {
	sc.mu.RLock()
	defer sc.mu.RUnlock()
	return sc.accessToken
}

func (sc *SmartConnect) FeedToken() string {
	sc.mu.RLock()
	defer sc.mu.RUnlock()
	return sc.feedToken
}

func (sc *SmartConnect) ClientCode() string {
	sc.mu.RLock()
	defer sc.mu.RUnlock()
	return sc.clientCode
}

type tokenData struct {
	JWTToken     string `json:"jwtToken"`
	RefreshToken string `json:"refreshToken"`
	FeedToken    string `json:"feedToken"`
}

// GenerateSession logs in with password and a current TOTP code and stores
// the returned tokens on the client.
func (sc *SmartConnect) GenerateSession(ctx context.Context, clientCode, password, totp string) (Session, error) {
	var data tokenData
	err := sc.do(ctx, http.MethodPost, "api.login", map[string]any{
		"clientcode": clientCode,
		"password":   password,
		"totp":       totp,
	}, &data)
	if err != nil {
		return Session{}, err
	}
	if data.JWTToken == "" || data.FeedToken == "" {
		return Session{}, errors.New("smartconnect: login returned empty tokens")
	}

	sc.mu.Lock()
	sc.accessToken = data.JWTToken
	sc.refreshToken = data.RefreshToken
	sc.feedToken = data.FeedToken
	sc.clientCode = clientCode
	sc.mu.Unlock()

	return Session{
		ClientCode:   clientCode,
		JWTToken:     data.JWTToken,
		RefreshToken: data.RefreshToken,
		FeedToken:    data.FeedToken,
	}, nil
}

// RenewAccessToken exchanges the refresh token for a new JWT.
func (sc *SmartConnect) RenewAccessToken(ctx context.Context) error {
	sc.mu.RLock()
	rt := sc.refreshToken
	sc.mu.RUnlock()
	if rt == "" {
		return ErrNotLoggedIn
	}

	var data tokenData
	if err := sc.do(ctx, http.MethodPost, "api.refresh", map[string]any{"refreshToken": rt}, &data); err != nil {
		return err
	}

	sc.mu.Lock()
	defer sc.mu.Unlock()
	if data.JWTToken != "" {
		sc.accessToken = data.JWTToken
	}
	if data.RefreshToken != "" {
		sc.refreshToken = data.RefreshToken
	}
	if data.FeedToken != "" {
		sc.feedToken = data.FeedToken
	}
	return nil
}

// TerminateSession logs out and clears the stored tokens.
func (sc *SmartConnect) TerminateSession(ctx context.Context) error {
	code := sc.ClientCode()
	if code == "" {
		return ErrNotLoggedIn
	}
	err := sc.do(ctx, http.MethodPost, "api.logout", map[string]any{"clientcode": code}, nil)

	sc.mu.Lock()
	sc.accessToken, sc.refreshToken, sc.feedToken = "", "", ""
	sc.mu.Unlock()
	return err
}

// ---- Historical candles ----

const (
	IntervalOneMinute     = "ONE_MINUTE"
	IntervalFiveMinute    = "FIVE_MINUTE"
	IntervalFifteenMinute = "FIFTEEN_MINUTE"
	IntervalOneDay        = "ONE_DAY"

	candleTimeLayout = "2006-01-02 15:04"
)

// CandleParams selects a candle range. From and To are sent in IST.
type CandleParams struct {
	Exchange    string
	SymbolToken string
	Interval    string
	From        time.Time
	To          time.Time
}

// CandleRow is one historical bar.
type CandleRow struct {
	TS     time.Time
	Open   float64
	High   float64
	Low    float64
	Close  float64
	Volume int64
}

var ist = time.FixedZone("IST", 5*3600+1800)

// GetCandleData fetches historical bars, ordered as the API returns them
// (oldest first). Malformed rows are skipped.
func (sc *SmartConnect) GetCandleData(ctx context.Context, p CandleParams) ([]CandleRow, error) {
	if p.Interval == "" {
		p.Interval = IntervalOneMinute
	}
	var raw [][]any
	err := sc.do(ctx, http.MethodPost, "api.candle.data", map[string]any{
		"exchange":    p.Exchange,
		"symboltoken": p.SymbolToken,
		"interval":    p.Interval,
		"fromdate":    p.From.In(ist).Format(candleTimeLayout),
		"todate":      p.To.In(ist).Format(candleTimeLayout),
	}, &raw)
	if err != nil {
		return nil, err
	}
	return ParseCandleRows(raw), nil
}

// ParseCandleRows decodes [timestamp, open, high, low, close, volume] rows.
func ParseCandleRows(raw [][]any) []CandleRow {
	rows := make([]CandleRow, 0, len(raw))
	for _, r := range raw {
		if len(r) < 6 {
			continue
		}
		s, _ := r[0].(string)
		ts, err := time.Parse(time.RFC3339, s)
		if err != nil {
			continue
		}
		rows = append(rows, CandleRow{
			TS:     ts.UTC(),
			Open:   toFloat(r[1]),
			High:   toFloat(r[2]),
			Low:    toFloat(r[3]),
			Close:  toFloat(r[4]),
			Volume: int64(toFloat(r[5])),
		})
	}
	return rows
}

// ---- Option greeks ----

// OptionGreekRow is one strike/side from the optionGreek endpoint.
type OptionGreekRow struct {
	Name              string
	Expiry            string
	Strike            float64
	OptionType        string
	Delta             float64
	Gamma             float64
	Theta             float64
	Vega              float64
	ImpliedVolatility float64
	TradeVolume       float64
}

type optionGreekWire struct {
	Name              string `json:"name"`
	Expiry            string `json:"expiry"`
	StrikePrice       any    `json:"strikePrice"`
	OptionType        string `json:"optionType"`
	Delta             any    `json:"delta"`
	Gamma             any    `json:"gamma"`
	Theta             any    `json:"theta"`
	Vega              any    `json:"vega"`
	ImpliedVolatility any    `json:"impliedVolatility"`
	TradeVolume       any    `json:"tradeVolume"`
}

// OptionGreek returns the greeks of every strike of underlying name for
// expiry (format "25JAN2024").
func (sc *SmartConnect) OptionGreek(ctx context.Context, name, expiry string) ([]OptionGreekRow, error) {
	var wire []optionGreekWire
	err := sc.do(ctx, http.MethodPost, "api.optionGreek", map[string]any{
		"name":       name,
		"expirydate": expiry,
	}, &wire)
	if err != nil {
		return nil, err
	}
	rows := make([]OptionGreekRow, 0, len(wire))
	for _, w := range wire {
		rows = append(rows, OptionGreekRow{
			Name:              w.Name,
			Expiry:            w.Expiry,
			Strike:            toFloat(w.StrikePrice),
			OptionType:        w.OptionType,
			Delta:             toFloat(w.Delta),
			Gamma:             toFloat(w.Gamma),
			Theta:             toFloat(w.Theta),
			Vega:              toFloat(w.Vega),
			ImpliedVolatility: toFloat(w.ImpliedVolatility),
			TradeVolume:       toFloat(w.TradeVolume),
		})
	}
	return rows, nil
}

// ---- Transport ----

type envelope struct {
	Status    bool            `json:"status"`
	Message   string          `json:"message"`
	ErrorCode string          `json:"errorcode"`
	ErrorType string          `json:"error_type"`
	Data      json.RawMessage `json:"data"`
}

func (sc *SmartConnect) headers(req *http.Request) {
	h := req.Header
	h.Set("Content-Type", "application/json")
	h.Set("Accept", "application/json")
	h.Set("X-ClientLocalIP", sc.clientLocalIP)
	h.Set("X-ClientPublicIP", sc.clientPublicIP)
	h.Set("X-MACAddress", sc.clientMAC)
	h.Set("X-PrivateKey", sc.apiKey)
	h.Set("X-UserType", "USER")
	h.Set("X-SourceID", "WEB")
	if tok := sc.AccessToken(); tok != "" {
		h.Set("Authorization", "Bearer "+tok)
	}
}

// do posts params to route and decodes the envelope's data into out (if non-nil).
func (sc *SmartConnect) do(ctx context.Context, method, route string, params map[string]any, out any) error {
	uri, ok := routes[route]
	if !ok {
		return fmt.Errorf("smartconnect: unknown route %s", route)
	}
	body, err := json.Marshal(params)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, method, sc.rootURL+uri, bytes.NewReader(body))
	if err != nil {
		return err
	}
	sc.headers(req)

	if sc.debug {
		log.Printf("[smartconnect] request: %s %s", method, route)
	}

	resp, err := sc.http.Do(req)
	if err != nil {
		return fmt.Errorf("smartconnect: %s: %w", route, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("smartconnect: %s: read body: %w", route, err)
	}
	if sc.debug {
		log.Printf("[smartconnect] response: %s code=%d body=%s", route, resp.StatusCode, raw)
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return fmt.Errorf("smartconnect: %s: couldn't parse response (http %d): %w", route, resp.StatusCode, err)
	}
	if env.ErrorType != "" {
		if env.ErrorType == "TokenException" && resp.StatusCode == http.StatusForbidden && sc.SessionExpiryHook != nil {
			sc.SessionExpiryHook()
		}
		return &APIError{StatusCode: resp.StatusCode, Code: env.ErrorType, Message: env.Message}
	}
	if !env.Status {
		return &APIError{StatusCode: resp.StatusCode, Code: env.ErrorCode, Message: env.Message}
	}
	if out == nil || len(env.Data) == 0 || string(env.Data) == "null" {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("smartconnect: %s: decode data: %w", route, err)
	}
	return nil
}

// toFloat accepts the API's mix of JSON numbers and numeric strings.
func toFloat(v any) float64 {
	switch t := v.(type) {
	case float64:
		return t
	case string:
		f, _ := strconv.ParseFloat(strings.TrimSpace(t), 64)
		return f
	case json.Number:
		f, _ := t.Float64()
		return f
	}
	return 0
}
