package redis

import (
	"context"
	"errors"
	"log"
	"sync"

	"tick-analytics/internal/marketdata/agg"
	"tick-analytics/internal/model"
)

// publisher is the write side BufferedWriter guards; *Writer implements it.
type publisher interface {
	writeResult(ctx context.Context, r model.AnalysisResult) error
	writeCandle(ctx context.Context, u agg.CandleUpdate) error
}

// pendingWrite is a write held back while the circuit was open.
type pendingWrite struct {
	result *model.AnalysisResult
	candle *agg.CandleUpdate
}

// BufferedWriter wraps a Writer with a circuit breaker.
// While the circuit is open, writes are buffered locally and replayed
// once the circuit closes again.
type BufferedWriter struct {
	writer publisher
	cb     *CircuitBreaker
	ctx    context.Context

	mu     sync.Mutex
	buffer []pendingWrite
	maxBuf int

	// Callbacks
	OnBuffer func()          // called when a write is buffered (for metrics)
	OnFlush  func(count int) // called after replaying buffered writes
}

// NewBufferedWriter creates a BufferedWriter. maxBufferSize <= 0 means 10000.
func NewBufferedWriter(ctx context.Context, w *Writer, cb *CircuitBreaker, maxBufferSize int) *BufferedWriter {
	return newBufferedWriter(ctx, w, cb, maxBufferSize)
}

func newBufferedWriter(ctx context.Context, w publisher, cb *CircuitBreaker, maxBufferSize int) *BufferedWriter {
	if maxBufferSize <= 0 {
		maxBufferSize = 10000
	}
	bw := &BufferedWriter{
		writer: w,
		cb:     cb,
		ctx:    ctx,
		buffer: make([]pendingWrite, 0, 256),
		maxBuf: maxBufferSize,
	}

	prev := cb.OnStateChange
	cb.OnStateChange = func(from, to State) {
		if prev != nil {
			prev(from, to)
		}
		if to == StateClosed {
			go bw.flush()
		}
	}
	return bw
}

// Run implements model.ResultSink.
func (bw *BufferedWriter) Run(ctx context.Context, in <-chan model.AnalysisResult) {
	for {
		select {
		case <-ctx.Done():
			return
		case r, ok := <-in:
			if !ok {
				return
			}
			if err := bw.WriteResult(r); err != nil {
				log.Printf("[buffered-writer] result %s: %v", r.SecurityID, err)
			}
		}
	}
}

// RunCandles writes candle updates until ctx is cancelled or in is closed.
func (bw *BufferedWriter) RunCandles(ctx context.Context, in <-chan agg.CandleUpdate) {
	for {
		select {
		case <-ctx.Done():
			return
		case u, ok := <-in:
			if !ok {
				return
			}
			if err := bw.WriteCandle(u); err != nil {
				log.Printf("[buffered-writer] candle %s %s: %v", u.SecurityID, u.TF, err)
			}
		}
	}
}

// WriteResult writes a result through the circuit breaker.
// If the circuit is open, the write is buffered and nil is returned.
func (bw *BufferedWriter) WriteResult(r model.AnalysisResult) error {
	err := bw.cb.Execute(func() error { return bw.writer.writeResult(bw.ctx, r) })
	if errors.Is(err, ErrCircuitOpen) {
		bw.bufferWrite(pendingWrite{result: &r})
		return nil
	}
	return err
}

// WriteCandle writes a candle update through the circuit breaker.
func (bw *BufferedWriter) WriteCandle(u agg.CandleUpdate) error {
	err := bw.cb.Execute(func() error { return bw.writer.writeCandle(bw.ctx, u) })
	if errors.Is(err, ErrCircuitOpen) {
		bw.bufferWrite(pendingWrite{candle: &u})
		return nil
	}
	return err
}

func (bw *BufferedWriter) bufferWrite(pw pendingWrite) {
	bw.mu.Lock()
	if len(bw.buffer) >= bw.maxBuf {
		// drop oldest
		bw.buffer = bw.buffer[1:]
	}
	bw.buffer = append(bw.buffer, pw)
	bw.mu.Unlock()

	if bw.OnBuffer != nil {
		bw.OnBuffer()
	}
}

// flush replays buffered writes directly on the underlying writer.
func (bw *BufferedWriter) flush() {
	bw.mu.Lock()
	if len(bw.buffer) == 0 {
		bw.mu.Unlock()
		return
	}
	toFlush := bw.buffer
	bw.buffer = make([]pendingWrite, 0, 256)
	bw.mu.Unlock()

	flushed, failed := 0, 0
	for _, pw := range toFlush {
		var err error
		switch {
		case pw.result != nil:
			err = bw.writer.writeResult(bw.ctx, *pw.result)
		case pw.candle != nil:
			err = bw.writer.writeCandle(bw.ctx, *pw.candle)
		}
		if err != nil {
			failed++
			continue
		}
		flushed++
	}

	log.Printf("[buffered-writer] flushed %d buffered writes (%d failed)", flushed, failed)
	if bw.OnFlush != nil {
		bw.OnFlush(flushed)
	}
}

// PendingCount returns the number of buffered writes waiting to be replayed.
func (bw *BufferedWriter) PendingCount() int {
	bw.mu.Lock()
	defer bw.mu.Unlock()
	return len(bw.buffer)
}
