package engine

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"runtime/debug"
	"time"

	"tick-analytics/internal/logger"
	"tick-analytics/internal/marketdata/agg"
	"tick-analytics/internal/model"
)

// ErrWorkerStopped is returned by requests to a worker that has exited.
var ErrWorkerStopped = errors.New("engine: worker stopped")

// requestTimeout bounds how long a caller waits for a worker reply.
const requestTimeout = 2 * time.Second

type msgKind int

const (
	msgTick msgKind = iota
	msgBackfill
	msgCandles
	msgLatest
	msgSnapshot
)

// message is one mailbox entry. Exactly one payload is set per kind.
type message struct {
	kind     msgKind
	tick     model.Tick
	backfill backfillResult
	tf       time.Duration
	reply    chan reply
}

type reply struct {
	candles []model.Candle
	result  model.AnalysisResult
	ok      bool
	err     error
}

// workerHooks are optional callbacks shared by all workers of a router.
type workerHooks struct {
	onResultDrop func(stream string)
	onPanic      func(securityID string)
	onLate       func(securityID string)
}

// Worker owns one instrument's state and processes its mailbox on a
// single goroutine.
type Worker struct {
	inst    model.Instrument
	an      *Analyzer
	state   *InstrumentState
	mailbox chan message
	results chan<- model.AnalysisResult
	candles chan<- agg.CandleUpdate
	hooks   workerHooks

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
	corrID string
}

func newWorker(parent context.Context, an *Analyzer, st *InstrumentState, mailboxSize int,
	results chan<- model.AnalysisResult, candles chan<- agg.CandleUpdate, hooks workerHooks) *Worker {
	ctx, cancel := context.WithCancel(parent)
	w := &Worker{
		inst:    st.Inst,
		an:      an,
		state:   st,
		mailbox: make(chan message, mailboxSize),
		results: results,
		candles: candles,
		hooks:   hooks,
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
		corrID:  logger.NewCorrelationID(),
	}
	st.Candles.OnDroppedTick = func() {
		if hooks.onLate != nil {
			hooks.onLate(st.Inst.SecurityID)
		}
	}
	go w.run()
	return w
}

// enqueue offers a tick without blocking. It returns false when the
// mailbox is full or the worker has stopped.
func (w *Worker) enqueue(t model.Tick) bool {
	select {
	case <-w.done:
		return false
	default:
	}
	select {
	case w.mailbox <- message{kind: msgTick, tick: t}:
		return true
	default:
		return false
	}
}

// request sends a control message and waits for its reply.
func (w *Worker) request(m message) reply {
	m.reply = make(chan reply, 1)
	timer := time.NewTimer(requestTimeout)
	defer timer.Stop()

	select {
	case w.mailbox <- m:
	case <-w.done:
		return reply{err: ErrWorkerStopped}
	case <-timer.C:
		return reply{err: context.DeadlineExceeded}
	}
	select {
	case r := <-m.reply:
		return r
	case <-w.done:
		return reply{err: ErrWorkerStopped}
	case <-timer.C:
		return reply{err: context.DeadlineExceeded}
	}
}

func (w *Worker) stop() {
	w.cancel()
	<-w.done
}

func (w *Worker) run() {
	id := w.inst.SecurityID
	log.Printf("[engine] worker %s (%s) started [%s]", id, w.inst.Name(), w.corrID)
	defer func() {
		if err := w.an.SaveSnapshots(w.state); err != nil {
			log.Printf("[engine] worker %s: save snapshots: %v", id, err)
		}
		close(w.done)
		log.Printf("[engine] worker %s stopped [%s]", id, w.corrID)
	}()

	for {
		select {
		case <-w.ctx.Done():
			return
		case m := <-w.mailbox:
			w.handle(m)
		}
	}
}

// handle processes one message. A panic is logged and the message skipped.
func (w *Worker) handle(m message) {
	defer func() {
		if r := recover(); r != nil {
			ctx := w.ctx
			if m.kind == msgTick {
				ctx = logger.WithTraceID(ctx, logger.GenerateTraceID(w.inst.SecurityID, m.tick.TS))
			}
			slog.Error("worker recovered panic",
				append(logger.LogWithTrace(ctx),
					"security_id", w.inst.SecurityID, "worker", w.corrID, "panic", r, "stack", string(debug.Stack()))...)
			if w.hooks.onPanic != nil {
				w.hooks.onPanic(w.inst.SecurityID)
			}
			if m.reply != nil {
				m.reply <- reply{err: errors.New("engine: request failed")}
			}
		}
	}()

	switch m.kind {
	case msgTick:
		w.onTick(m.tick)
	case msgBackfill:
		w.an.applyBackfill(w.state, m.backfill)
	case msgCandles:
		c, ok := w.state.Candles.Candles(m.tf)
		m.reply <- reply{candles: c, ok: ok}
	case msgLatest:
		m.reply <- reply{result: w.state.Result.Clone(), ok: !w.state.Result.TS.IsZero()}
	case msgSnapshot:
		m.reply <- reply{err: w.an.SaveSnapshots(w.state)}
	}
}

func (w *Worker) onTick(t model.Tick) {
	if !w.state.backfillStarted {
		w.state.backfillStarted = true
		w.startBackfill(t.TS)
	}

	out, res, ok := w.an.Process(w.state, t)
	if !ok {
		return
	}
	for _, u := range res.Updates {
		select {
		case w.candles <- u:
		default:
			w.dropped("candles")
		}
	}
	select {
	case w.results <- out:
	default:
		w.dropped("results")
	}
}

func (w *Worker) dropped(stream string) {
	if w.hooks.onResultDrop != nil {
		w.hooks.onResultDrop(stream)
	}
}

// startBackfill fetches history off the worker goroutine and hands the
// results back through the mailbox. Cancelling the worker abandons it.
func (w *Worker) startBackfill(now time.Time) {
	if w.an.stores.Bars == nil {
		return
	}
	withPrevious := w.an.needsPreviousSession(w.state, now)
	go func() {
		for _, br := range w.an.fetchBackfill(w.ctx, w.inst, now, withPrevious) {
			if w.ctx.Err() != nil {
				return
			}
			select {
			case w.mailbox <- message{kind: msgBackfill, backfill: br}:
			case <-w.ctx.Done():
				return
			}
		}
	}()
}
