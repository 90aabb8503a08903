package redis

import (
	"context"
	"fmt"
	"log"
	"time"

	"tick-analytics/internal/marketdata/agg"
	"tick-analytics/internal/model"

	goredis "github.com/go-redis/redis/v8"
)

const (
	// ~one session of per-tick results for a busy instrument
	resultStreamMaxLen = 20000
	defaultLatestTTL   = 30 * time.Minute
)

// Key layout shared by the publisher, the reader and the CLI.
func LatestResultKey(securityID string) string { return "analysis:latest:" + securityID }
func ResultStreamKey(securityID string) string { return "analysis:" + securityID }
func ResultChannel(securityID string) string { return "pub:analysis:" + securityID }
func CandleLatestKey(tf, securityID string) string {
	return "candle:" + tf + ":latest:" + securityID
}
func CandleChannel(tf, securityID string) string { return "pub:candle:" + tf + ":" + securityID }

// ResultChannelPattern matches every instrument's result channel.
const ResultChannelPattern = "pub:analysis:*"

// WriterConfig configures the Redis writer.
type WriterConfig struct {
	Addr     string // Redis address, e.g. "localhost:6379"
	Password string
	DB       int
}

// Writer publishes analysis results and candle updates to Redis.
type Writer struct {
	client *goredis.Client
}

// Client returns the underlying Redis client for health checks.
func (w *Writer) Client() *goredis.Client { return w.client }

// New creates a new Redis Writer and pings the server.
func New(cfg WriterConfig) (*Writer, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	log.Printf("[redis] connected to %s", cfg.Addr)
	return &Writer{client: client}, nil
}

// Run writes every result from in until ctx is cancelled or in is closed.
func (w *Writer) Run(ctx context.Context, in <-chan model.AnalysisResult) {
	for {
		select {
		case <-ctx.Done():
			return
		case r, ok := <-in:
			if !ok {
				return
			}
			if err := w.writeResult(ctx, r); err != nil {
				log.Printf("[redis] result pipeline error for %s: %v", r.SecurityID, err)
			}
		}
	}
}

// RunCandles writes candle updates until ctx is cancelled or in is closed.
func (w *Writer) RunCandles(ctx context.Context, in <-chan agg.CandleUpdate) {
	for {
		select {
		case <-ctx.Done():
			return
		case u, ok := <-in:
			if !ok {
				return
			}
			if err := w.writeCandle(ctx, u); err != nil {
				log.Printf("[redis] candle pipeline error for %s %s: %v", u.SecurityID, u.TF, err)
			}
		}
	}
}

// WriteResultBatch writes several results in one pipeline round trip.
func (w *Writer) WriteResultBatch(ctx context.Context, results []model.AnalysisResult) error {
	if len(results) == 0 {
		return nil
	}
	pipe := w.client.Pipeline()
	for i := range results {
		queueResult(ctx, pipe, &results[i])
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("result batch (%d): %w", len(results), err)
	}
	return nil
}

// writeResult performs SET latest + XADD + PUBLISH for one result.
func (w *Writer) writeResult(ctx context.Context, r model.AnalysisResult) error {
	pipe := w.client.Pipeline()
	queueResult(ctx, pipe, &r)
	_, err := pipe.Exec(ctx)
	return err
}

func queueResult(ctx context.Context, pipe goredis.Pipeliner, r *model.AnalysisResult) {
	jsonData := string(r.JSON())
	pipe.Set(ctx, LatestResultKey(r.SecurityID), jsonData, defaultLatestTTL)
	pipe.XAdd(ctx, &goredis.XAddArgs{
		Stream: ResultStreamKey(r.SecurityID),
		MaxLen: resultStreamMaxLen,
		Approx: true,
		Values: map[string]interface{}{"data": jsonData},
	})
	pipe.Publish(ctx, ResultChannel(r.SecurityID), jsonData)
}

// writeCandle publishes a candle update and keeps the latest candle per timeframe.
// Candle history is served by the engine, so no stream is kept.
func (w *Writer) writeCandle(ctx context.Context, u agg.CandleUpdate) error {
	jsonData := string(u.Candle.JSON())
	pipe := w.client.Pipeline()
	pipe.Set(ctx, CandleLatestKey(u.TF, u.SecurityID), jsonData, defaultLatestTTL)
	pipe.Publish(ctx, CandleChannel(u.TF, u.SecurityID), jsonData)
	_, err := pipe.Exec(ctx)
	return err
}

// Close closes the Redis client.
func (w *Writer) Close() error {
	return w.client.Close()
}
