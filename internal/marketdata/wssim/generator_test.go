package wssim

import (
	"context"
	"math"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"tick-analytics/internal/model"
)

var simInsts = []model.Instrument{
	{SecurityID: "99926000", Exchange: "NSE", InstrumentType: model.TypeIndex},
	{SecurityID: "43650", Exchange: "NFO", InstrumentType: model.TypeOptIdx, UnderlyingID: "99926000"},
	{SecurityID: "2885", Exchange: "NSE", InstrumentType: model.TypeEquity},
}

func TestGenerator_Walk(t *testing.T) {
	g := NewGenerator(simInsts, map[string]float64{"2885": 2900}, 1)
	now := time.Date(2025, 6, 2, 4, 0, 0, 0, time.UTC)

	prev := map[string]float64{"99926000": 24000, "43650": 150, "2885": 2900}
	var lastVol int64
	for i := 0; i < 200; i++ {
		ticks := g.Next(now.Add(time.Duration(i) * time.Second))
		if len(ticks) != 3 {
			t.Fatalf("got %d ticks, want 3", len(ticks))
		}
		for _, tk := range ticks {
			if move := math.Abs(tk.LTP-prev[tk.SecurityID]) / prev[tk.SecurityID]; move > 0.0011+0.05/prev[tk.SecurityID] {
				t.Fatalf("%s moved %.4f%% in one step", tk.SecurityID, move*100)
			}
			if tk.High < tk.LTP || tk.Low > tk.LTP {
				t.Fatalf("%s LTP %.2f outside day range [%.2f, %.2f]", tk.SecurityID, tk.LTP, tk.Low, tk.High)
			}
			prev[tk.SecurityID] = tk.LTP
		}

		index, option, equity := ticks[0], ticks[1], ticks[2]
		if index.DayVolume != 0 || index.OpenInterest != 0 {
			t.Errorf("index carries volume/OI: %+v", index)
		}
		if option.UnderlyingPrice != index.LTP {
			t.Errorf("option underlying = %.2f, index LTP %.2f", option.UnderlyingPrice, index.LTP)
		}
		if option.ImpliedVolatility < 5 {
			t.Errorf("option IV = %v", option.ImpliedVolatility)
		}
		if equity.DayVolume <= lastVol || equity.LastTradedQty != equity.DayVolume-lastVol {
			t.Errorf("equity volume not cumulative: prev %d, tick %+v", lastVol, equity)
		}
		lastVol = equity.DayVolume
	}
}

func TestGenerator_Deterministic(t *testing.T) {
	now := time.Now()
	a := NewGenerator(simInsts, nil, 7).Next(now)
	b := NewGenerator(simInsts, nil, 7).Next(now)
	for i := range a {
		if a[i] != b[i] {
			t.Errorf("tick %d differs for equal seeds: %+v vs %+v", i, a[i], b[i])
		}
	}
}

func TestServer_FeedsIngest(t *testing.T) {
	srv := NewServer(NewGenerator(simInsts, nil, 3))
	hs := httptest.NewServer(srv)
	defer hs.Close()

	ing, err := New(Config{URL: "ws" + strings.TrimPrefix(hs.URL, "http")}, simInsts[:1])
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	tickCh := make(chan model.Tick, 16)
	go ing.Start(ctx, tickCh)

	go srv.Run(ctx, 5*time.Millisecond)

	select {
	case tk := <-tickCh:
		if tk.SecurityID != "99926000" {
			t.Errorf("unsubscribed instrument leaked through: %s", tk.SecurityID)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no tick relayed")
	}
}
