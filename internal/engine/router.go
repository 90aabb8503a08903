package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"tick-analytics/internal/marketdata/agg"
	"tick-analytics/internal/model"
)

var (
	// ErrMailboxFull is returned by OnTick when the instrument's mailbox is full
	// and the tick was dropped.
	ErrMailboxFull = errors.New("engine: mailbox full, tick dropped")
	// ErrRouterStopped is returned by OnTick after Stop.
	ErrRouterStopped = errors.New("engine: router stopped")
	// ErrUnknownInstrument is returned for requests about an instrument without a worker.
	ErrUnknownInstrument = errors.New("engine: unknown instrument")
)

// Options configures a Router.
type Options struct {
	MailboxSize  int // per instrument, default 1024
	ResultBuffer int // Results() capacity, default 4096
	CandleBuffer int // Candles() capacity, default 8192
}

// Router dispatches ticks to one worker per instrument, creating workers
// on first sight. A slow or broken instrument never blocks the others.
type Router struct {
	an   *Analyzer
	opts Options

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	workers map[string]*Worker
	stopped bool

	results chan model.AnalysisResult
	candles chan agg.CandleUpdate

	// OnDrop is called when a tick is dropped on a full mailbox (optional).
	OnDrop func(securityID string)
	// OnLateTick is called when a tick older than the current minute is rejected (optional).
	OnLateTick func(securityID string)
	// OnResultDrop is called when Results() or Candles() is full (optional).
	OnResultDrop func(stream string)
	// OnPanic is called when a worker recovered from a panic (optional).
	OnPanic func(securityID string)
	// OnWorkers is called with the worker count whenever it changes (optional).
	OnWorkers func(n int)
}

// NewRouter creates a router. Workers live until Remove, Stop or ctx cancellation.
func NewRouter(ctx context.Context, an *Analyzer, opts Options) *Router {
	if opts.MailboxSize <= 0 {
		opts.MailboxSize = 1024
	}
	if opts.ResultBuffer <= 0 {
		opts.ResultBuffer = 4096
	}
	if opts.CandleBuffer <= 0 {
		opts.CandleBuffer = 8192
	}
	ctx, cancel := context.WithCancel(ctx)
	return &Router{
		an:      an,
		opts:    opts,
		ctx:     ctx,
		cancel:  cancel,
		workers: make(map[string]*Worker),
		results: make(chan model.AnalysisResult, opts.ResultBuffer),
		candles: make(chan agg.CandleUpdate, opts.CandleBuffer),
	}
}

// Results delivers one deep-copied analysis result per processed tick.
// It is closed by Stop.
func (r *Router) Results() <-chan model.AnalysisResult { return r.results }

// Candles delivers every candle creation and extension. It is closed by Stop.
func (r *Router) Candles() <-chan agg.CandleUpdate { return r.candles }

// OnTick routes a tick to its instrument's worker, creating the worker on
// first sight. It never blocks.
func (r *Router) OnTick(inst model.Instrument, t model.Tick) error {
	if inst.SecurityID == "" {
		inst.SecurityID = t.SecurityID
	}
	w, err := r.worker(inst, t.TS)
	if err != nil {
		return err
	}
	if !w.enqueue(t) {
		if r.OnDrop != nil {
			r.OnDrop(inst.SecurityID)
		}
		return ErrMailboxFull
	}
	return nil
}

func (r *Router) worker(inst model.Instrument, first time.Time) (*Worker, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stopped {
		return nil, ErrRouterStopped
	}
	if w, ok := r.workers[inst.SecurityID]; ok {
		return w, nil
	}

	st, err := r.an.NewState(inst, first)
	if err != nil {
		return nil, fmt.Errorf("engine: refusing instrument %s: %w", inst.SecurityID, err)
	}
	w := newWorker(r.ctx, r.an, st, r.opts.MailboxSize, r.results, r.candles, workerHooks{
		onResultDrop: r.OnResultDrop,
		onPanic:      r.OnPanic,
		onLate:       r.OnLateTick,
	})
	r.workers[inst.SecurityID] = w
	if r.OnWorkers != nil {
		r.OnWorkers(len(r.workers))
	}
	return w, nil
}

func (r *Router) lookup(id string) (*Worker, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	w, ok := r.workers[id]
	return w, ok
}

// GetCandles returns a copy of an instrument's candle series for tf.
// The read is served by the owning worker, so it never races with ticks.
func (r *Router) GetCandles(securityID string, tf time.Duration) ([]model.Candle, bool) {
	w, ok := r.lookup(securityID)
	if !ok {
		return nil, false
	}
	rep := w.request(message{kind: msgCandles, tf: tf})
	if rep.err != nil {
		log.Printf("[engine] GetCandles %s %v: %v", securityID, tf, rep.err)
		return nil, false
	}
	return rep.candles, rep.ok
}

// Latest returns the most recent analysis result of an instrument.
func (r *Router) Latest(securityID string) (model.AnalysisResult, error) {
	w, ok := r.lookup(securityID)
	if !ok {
		return model.AnalysisResult{}, ErrUnknownInstrument
	}
	rep := w.request(message{kind: msgLatest})
	if rep.err != nil {
		return model.AnalysisResult{}, rep.err
	}
	if !rep.ok {
		return model.AnalysisResult{}, ErrUnknownInstrument
	}
	return rep.result, nil
}

// Instruments lists the instruments with a running worker, by security id.
func (r *Router) Instruments() []model.Instrument {
	r.mu.Lock()
	out := make([]model.Instrument, 0, len(r.workers))
	for _, w := range r.workers {
		out = append(out, w.inst)
	}
	r.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].SecurityID < out[j].SecurityID })
	return out
}

// Remove stops an instrument's worker. Its indicator snapshots are saved
// and a pending backfill is abandoned.
func (r *Router) Remove(securityID string) bool {
	r.mu.Lock()
	w, ok := r.workers[securityID]
	delete(r.workers, securityID)
	n := len(r.workers)
	r.mu.Unlock()
	if !ok {
		return false
	}
	w.stop()
	if r.OnWorkers != nil {
		r.OnWorkers(n)
	}
	return true
}

// Flush saves every worker's indicator snapshots and then flushes the
// stores that buffer writes.
func (r *Router) Flush(ctx context.Context) error {
	r.mu.Lock()
	workers := make([]*Worker, 0, len(r.workers))
	for _, w := range r.workers {
		workers = append(workers, w)
	}
	r.mu.Unlock()

	g, gctx := errgroup.WithContext(ctx)
	for _, w := range workers {
		w := w
		g.Go(func() error {
			if gctx.Err() != nil {
				return gctx.Err()
			}
			rep := w.request(message{kind: msgSnapshot})
			if errors.Is(rep.err, ErrWorkerStopped) {
				return nil
			}
			if rep.err != nil {
				return fmt.Errorf("engine: snapshot %s: %w", w.inst.SecurityID, rep.err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	return flushStores(ctx, r.an.stores)
}

// flushStores flushes each distinct store implementing model.Flusher.
func flushStores(ctx context.Context, s Stores) error {
	seen := make(map[model.Flusher]bool)
	var errs []error
	for _, v := range []any{s.Profiles, s.IV, s.Indicators} {
		f, ok := v.(model.Flusher)
		if !ok || seen[f] {
			continue
		}
		seen[f] = true
		if err := f.Flush(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Stop stops every worker and closes Results and Candles. Later ticks
// are rejected with ErrRouterStopped.
func (r *Router) Stop() {
	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return
	}
	r.stopped = true
	workers := r.workers
	r.workers = make(map[string]*Worker)
	r.mu.Unlock()

	var wg sync.WaitGroup
	for _, w := range workers {
		wg.Add(1)
		go func(w *Worker) {
			defer wg.Done()
			w.stop()
		}(w)
	}
	wg.Wait()
	r.cancel()
	close(r.results)
	close(r.candles)
	log.Printf("[engine] router stopped (%d workers)", len(workers))
}
