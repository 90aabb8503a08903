package redis

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"tick-analytics/internal/marketdata/agg"
	"tick-analytics/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakePublisher records writes and fails while down is set.
type fakePublisher struct {
	mu      sync.Mutex
	down    bool
	results []string
	candles []string
}

func (f *fakePublisher) setDown(v bool) {
	f.mu.Lock()
	f.down = v
	f.mu.Unlock()
}

func (f *fakePublisher) writeResult(_ context.Context, r model.AnalysisResult) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.down {
		return errors.New("connection refused")
	}
	f.results = append(f.results, r.SecurityID)
	return nil
}

func (f *fakePublisher) writeCandle(_ context.Context, u agg.CandleUpdate) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.down {
		return errors.New("connection refused")
	}
	f.candles = append(f.candles, u.SecurityID+":"+u.TF)
	return nil
}

func (f *fakePublisher) counts() (int, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.results), len(f.candles)
}

func TestBufferedWriter_PassesThroughWhenClosed(t *testing.T) {
	pub := &fakePublisher{}
	cb, _ := newTestBreaker(2)
	bw := newBufferedWriter(context.Background(), pub, cb, 0)

	require.NoError(t, bw.WriteResult(model.AnalysisResult{SecurityID: "26000"}))
	require.NoError(t, bw.WriteCandle(agg.CandleUpdate{SecurityID: "26000", TF: "1m"}))

	r, c := pub.counts()
	assert.Equal(t, 1, r)
	assert.Equal(t, 1, c)
	assert.Zero(t, bw.PendingCount())
}

func TestBufferedWriter_BuffersWhileOpenAndReplaysOnClose(t *testing.T) {
	pub := &fakePublisher{down: true}
	cb, clk := newTestBreaker(1)
	bw := newBufferedWriter(context.Background(), pub, cb, 0)

	flushed := make(chan int, 1)
	bw.OnFlush = func(n int) { flushed <- n }
	var buffered int
	bw.OnBuffer = func() { buffered++ }

	// first failure trips the breaker and is reported
	assert.Error(t, bw.WriteResult(model.AnalysisResult{SecurityID: "A"}))
	require.Equal(t, StateOpen, cb.CurrentState())

	require.NoError(t, bw.WriteResult(model.AnalysisResult{SecurityID: "B"}))
	require.NoError(t, bw.WriteCandle(agg.CandleUpdate{SecurityID: "B", TF: "5m"}))
	assert.Equal(t, 2, bw.PendingCount())
	assert.Equal(t, 2, buffered)

	pub.setDown(false)
	clk.advance(11 * time.Second)
	require.NoError(t, bw.WriteResult(model.AnalysisResult{SecurityID: "C"}))

	select {
	case n := <-flushed:
		assert.Equal(t, 2, n)
	case <-time.After(2 * time.Second):
		t.Fatal("buffered writes were not replayed")
	}
	assert.Zero(t, bw.PendingCount())
	r, c := pub.counts()
	assert.Equal(t, 2, r) // C then B
	assert.Equal(t, 1, c)
}

func TestBufferedWriter_DropsOldestWhenFull(t *testing.T) {
	pub := &fakePublisher{down: true}
	cb, _ := newTestBreaker(1)
	bw := newBufferedWriter(context.Background(), pub, cb, 2)

	bw.WriteResult(model.AnalysisResult{SecurityID: "trip"})
	for _, id := range []string{"1", "2", "3"} {
		require.NoError(t, bw.WriteResult(model.AnalysisResult{SecurityID: id}))
	}
	require.Equal(t, 2, bw.PendingCount())

	bw.mu.Lock()
	defer bw.mu.Unlock()
	assert.Equal(t, "2", bw.buffer[0].result.SecurityID)
	assert.Equal(t, "3", bw.buffer[1].result.SecurityID)
}

func TestBufferedWriter_RunStopsOnClosedChannel(t *testing.T) {
	pub := &fakePublisher{}
	cb, _ := newTestBreaker(3)
	bw := newBufferedWriter(context.Background(), pub, cb, 0)

	in := make(chan model.AnalysisResult, 3)
	in <- model.AnalysisResult{SecurityID: "1"}
	in <- model.AnalysisResult{SecurityID: "2"}
	close(in)

	done := make(chan struct{})
	go func() {
		bw.Run(context.Background(), in)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return")
	}
	r, _ := pub.counts()
	assert.Equal(t, 2, r)
}

func TestKeyLayout(t *testing.T) {
	assert.Equal(t, "analysis:latest:26000", LatestResultKey("26000"))
	assert.Equal(t, "analysis:26000", ResultStreamKey("26000"))
	assert.Equal(t, "pub:analysis:26000", ResultChannel("26000"))
	assert.Equal(t, "candle:5m:latest:26000", CandleLatestKey("5m", "26000"))
	assert.Equal(t, "pub:candle:5m:26000", CandleChannel("5m", "26000"))
}
