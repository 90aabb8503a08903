// Package logger provides the JSON slog logger and the trace/correlation
// ids threaded through API requests, workers and feed sessions.
package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
)

type ctxKey string

const traceIDKey ctxKey = "trace_id"

// ParseLevel maps "debug", "info", "warn" and "error" to a slog level (default info).
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}

// Init creates the process logger for service, writing JSON to stdout,
// and installs it as the slog default.
func Init(service string, level slog.Level) *slog.Logger {
	l := New(os.Stdout, service, level)
	slog.SetDefault(l)
	return l
}

// New returns a JSON logger writing to w with the service attribute set.
func New(w io.Writer, service string, level slog.Level) *slog.Logger {
	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level})
	return slog.New(handler).With(slog.String("service", service))
}

// WithTraceID stores a trace ID in the context for downstream propagation.
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, traceIDKey, traceID)
}

// TraceID extracts the trace ID from context. Returns "" if not set.
func TraceID(ctx context.Context) string {
	if v, ok := ctx.Value(traceIDKey).(string); ok {
		return v
	}
	return ""
}

// GenerateTraceID creates a per-tick trace ID from a security id and timestamp.
// Format: "{token}-{unixNano}". Cheap enough for the tick path.
func GenerateTraceID(token string, ts time.Time) string {
	return fmt.Sprintf("%s-%d", token, ts.UnixNano())
}

// NewCorrelationID returns a random id for long-lived flows such as a worker
// lifetime, a backfill run or a feed subscription.
func NewCorrelationID() string {
	return uuid.NewString()
}

// LogWithTrace returns slog attributes including the trace ID from context.
// Usage: slog.Info("msg", logger.LogWithTrace(ctx)...)
func LogWithTrace(ctx context.Context) []any {
	tid := TraceID(ctx)
	if tid == "" {
		return nil
	}
	return []any{slog.String("trace_id", tid)}
}
