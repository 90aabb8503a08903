package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"tick-analytics/internal/model"

	goredis "github.com/go-redis/redis/v8"
)

// ErrNoResult is returned when no result is stored for an instrument.
var ErrNoResult = errors.New("no analysis result")

// Reader reads published analysis results back from Redis.
type Reader struct {
	client *goredis.Client
}

// NewReader creates a new Redis Reader and pings the server.
func NewReader(cfg WriterConfig) (*Reader, error) {
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
	return &Reader{client: client}, nil
}

// Latest returns the most recent result for securityID.
func (r *Reader) Latest(ctx context.Context, securityID string) (model.AnalysisResult, error) {
	var res model.AnalysisResult
	data, err := r.client.Get(ctx, LatestResultKey(securityID)).Bytes()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return res, fmt.Errorf("%s: %w", securityID, ErrNoResult)
		}
		return res, fmt.Errorf("redis get %s: %w", LatestResultKey(securityID), err)
	}
	if err := json.Unmarshal(data, &res); err != nil {
		return res, fmt.Errorf("unmarshal result: %w", err)
	}
	return res, nil
}

// History returns up to n results from the instrument's stream, newest first.
func (r *Reader) History(ctx context.Context, securityID string, n int64) ([]model.AnalysisResult, error) {
	msgs, err := r.client.XRevRangeN(ctx, ResultStreamKey(securityID), "+", "-", n).Result()
	if err != nil {
		return nil, fmt.Errorf("xrevrange %s: %w", ResultStreamKey(securityID), err)
	}
	return decodeMessages(msgs), nil
}

func decodeMessages(msgs []goredis.XMessage) []model.AnalysisResult {
	out := make([]model.AnalysisResult, 0, len(msgs))
	for _, msg := range msgs {
		data, ok := msg.Values["data"].(string)
		if !ok {
			continue
		}
		var res model.AnalysisResult
		if err := json.Unmarshal([]byte(data), &res); err != nil {
			continue
		}
		out = append(out, res)
	}
	return out
}

// SubscribeResults streams results published for securityID ("" = every
// instrument) into out. Blocks until ctx is cancelled.
func (r *Reader) SubscribeResults(ctx context.Context, securityID string, out chan<- model.AnalysisResult) error {
	var pubsub *goredis.PubSub
	if securityID == "" {
		pubsub = r.client.PSubscribe(ctx, ResultChannelPattern)
	} else {
		pubsub = r.client.Subscribe(ctx, ResultChannel(securityID))
	}
	defer pubsub.Close()

	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var res model.AnalysisResult
			if err := json.Unmarshal([]byte(msg.Payload), &res); err != nil {
				log.Printf("[redis-reader] bad payload on %s: %v", msg.Channel, err)
				continue
			}
			select {
			case out <- res:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
}

// Close closes the Redis client.
func (r *Reader) Close() error {
	return r.client.Close()
}
