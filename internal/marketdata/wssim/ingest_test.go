package wssim

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"tick-analytics/internal/model"
)

func TestNew_RejectsNonWebSocketURL(t *testing.T) {
	if _, err := New(Config{URL: "http://localhost:9001"}, nil); err == nil {
		t.Error("expected error for http scheme")
	}
	if _, err := New(Config{URL: "ws://localhost:9001/ticks"}, nil); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestDecode(t *testing.T) {
	ing, _ := New(Config{URL: "ws://x"}, []model.Instrument{{SecurityID: "1"}})
	now := time.Date(2025, 6, 2, 4, 0, 0, 0, time.UTC)

	tick, ok := ing.decode([]byte(`{"security_id":"1","ltp":101.5,"ltq":10}`), now)
	if !ok || tick.LTP != 101.5 || !tick.TS.Equal(now) {
		t.Errorf("decode = %+v, %v", tick, ok)
	}

	for _, raw := range []string{
		`not json`,
		`{"ltp":1}`,
		`{"security_id":"1","ltp":0}`,
		`{"security_id":"2","ltp":5}`,
	} {
		if _, ok := ing.decode([]byte(raw), now); ok {
			t.Errorf("decode(%s) accepted", raw)
		}
	}
}

func TestStart_StreamsTicks(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer c.Close()
		c.WriteMessage(websocket.TextMessage, []byte(`{"security_id":"1","ltp":100,"ts":"2025-06-02T04:00:00Z"}`))
		c.WriteMessage(websocket.TextMessage, []byte(`garbage`))
		c.WriteMessage(websocket.TextMessage, []byte(`{"security_id":"1","ltp":100.5}`))
		c.ReadMessage() // hold open until the client leaves
	}))
	defer srv.Close()

	ing, err := New(Config{URL: "ws" + strings.TrimPrefix(srv.URL, "http")}, nil)
	if err != nil {
		t.Fatal(err)
	}
	var invalid int
	ing.OnInvalid = func() { invalid++ }

	ctx, cancel := context.WithCancel(context.Background())
	tickCh := make(chan model.Tick, 4)
	done := make(chan error, 1)
	go func() { done <- ing.Start(ctx, tickCh) }()

	for _, want := range []float64{100, 100.5} {
		select {
		case tk := <-tickCh:
			if tk.LTP != want {
				t.Errorf("LTP = %v, want %v", tk.LTP, want)
			}
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for tick")
		}
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Start returned %v after cancel", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Start did not return after cancel")
	}
	if invalid != 1 {
		t.Errorf("invalid = %d, want 1", invalid)
	}
}
