package greeks

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tick-analytics/internal/model"
	smartconnect "tick-analytics/pkg/smartconnect"
)

type fakeSource struct {
	mu    sync.Mutex
	calls []string
	rows  map[string][]smartconnect.OptionGreekRow
	err   error
}

func (f *fakeSource) OptionGreek(_ context.Context, name, expiry string) ([]smartconnect.OptionGreekRow, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, name+" "+expiry)
	if f.err != nil {
		return nil, f.err
	}
	return f.rows[name], nil
}

func (f *fakeSource) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

var (
	niftyCE = model.Instrument{SecurityID: "1", InstrumentType: model.TypeOptIdx, Underlying: "NIFTY", Expiry: "25jan2024", StrikePrice: 21500, OptionType: "CE"}
	niftyPE = model.Instrument{SecurityID: "2", InstrumentType: model.TypeOptIdx, Underlying: "NIFTY", Expiry: "25JAN2024", StrikePrice: 21500, OptionType: "PE"}
	index   = model.Instrument{SecurityID: "99926000", InstrumentType: model.TypeIndex}
)

func niftyRows() map[string][]smartconnect.OptionGreekRow {
	return map[string][]smartconnect.OptionGreekRow{
		"NIFTY": {
			{Name: "NIFTY", Strike: 21500, OptionType: "CE", ImpliedVolatility: 14.2},
			{Name: "NIFTY", Strike: 21500, OptionType: "PE", ImpliedVolatility: 15.8},
			{Name: "NIFTY", Strike: 21600, OptionType: "CE", ImpliedVolatility: 0},
		},
	}
}

func TestPollOnce_CachesIV(t *testing.T) {
	src := &fakeSource{rows: niftyRows()}
	p := New(src, []model.Instrument{niftyCE, niftyPE, index}, time.Minute)
	assert.Equal(t, 1, p.Chains(), "CE and PE share a chain; index ignored")

	require.NoError(t, p.PollOnce(context.Background()))
	assert.Equal(t, []string{"NIFTY 25JAN2024"}, src.calls)

	iv, ok := p.IV(niftyCE)
	require.True(t, ok)
	assert.Equal(t, 14.2, iv)
	iv, ok = p.IV(niftyPE)
	require.True(t, ok)
	assert.Equal(t, 15.8, iv)

	_, ok = p.IV(index)
	assert.False(t, ok)
}

func TestPollOnce_ErrorKeepsPreviousValues(t *testing.T) {
	src := &fakeSource{rows: niftyRows()}
	p := New(src, []model.Instrument{niftyCE}, time.Minute)
	var polls, failures int
	p.OnPoll = func(err error) {
		polls++
		if err != nil {
			failures++
		}
	}
	require.NoError(t, p.PollOnce(context.Background()))

	src.err = errors.New("rate limited")
	err := p.PollOnce(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "NIFTY 25JAN2024")
	assert.Equal(t, 2, polls)
	assert.Equal(t, 1, failures)

	iv, ok := p.IV(niftyCE)
	assert.True(t, ok)
	assert.Equal(t, 14.2, iv)
}

func TestEnrich(t *testing.T) {
	p := New(&fakeSource{rows: niftyRows()}, []model.Instrument{niftyCE}, time.Minute)
	require.NoError(t, p.PollOnce(context.Background()))

	tick := model.Tick{SecurityID: "1", LTP: 120}
	p.Enrich(niftyCE, &tick)
	assert.Equal(t, 14.2, tick.ImpliedVolatility)

	tick = model.Tick{SecurityID: "1", ImpliedVolatility: 20}
	p.Enrich(niftyCE, &tick)
	assert.Equal(t, 20.0, tick.ImpliedVolatility, "feed IV wins")
}

func TestRun_PollsUntilCancelled(t *testing.T) {
	src := &fakeSource{rows: niftyRows()}
	p := New(src, []model.Instrument{niftyCE}, 10*time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		p.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool { return src.callCount() >= 2 }, time.Second, 5*time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not stop")
	}
}

func TestRun_NoChainsReturns(t *testing.T) {
	p := New(&fakeSource{}, []model.Instrument{index}, time.Minute)
	p.Run(context.Background())
}
