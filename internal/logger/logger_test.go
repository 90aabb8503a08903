package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"
	"time"
)

func TestNew_WritesJSONWithServiceAndTrace(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf, "analyticsd", slog.LevelInfo)

	ctx := WithTraceID(context.Background(), "req-7")
	l.Info("flushed", append(LogWithTrace(ctx), "stores", 3)...)
	l.Debug("hidden")

	var rec map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &rec); err != nil {
		t.Fatalf("expected exactly one JSON record, got %q: %v", buf.String(), err)
	}
	for k, want := range map[string]any{"service": "analyticsd", "msg": "flushed", "trace_id": "req-7", "stores": 3.0} {
		if rec[k] != want {
			t.Errorf("%s = %v, want %v", k, rec[k], want)
		}
	}
}

func TestTraceID_Context(t *testing.T) {
	ctx := context.Background()
	if tid := TraceID(ctx); tid != "" {
		t.Errorf("unset trace id = %q", tid)
	}
	if attrs := LogWithTrace(ctx); attrs != nil {
		t.Errorf("LogWithTrace without id = %v, want nil", attrs)
	}

	ctx = WithTraceID(ctx, "2885-1")
	if tid := TraceID(ctx); tid != "2885-1" {
		t.Errorf("TraceID = %q", tid)
	}
}

func TestGenerateTraceID(t *testing.T) {
	ts := time.Date(2025, 6, 2, 4, 0, 0, 5, time.UTC)
	if got, want := GenerateTraceID("2885", ts), "2885-1748836800000000005"; got != want {
		t.Errorf("GenerateTraceID = %q, want %q", got, want)
	}
}

func TestNewCorrelationID(t *testing.T) {
	a, b := NewCorrelationID(), NewCorrelationID()
	if len(a) != 36 || a == b {
		t.Errorf("correlation ids %q, %q: want distinct uuids", a, b)
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		" WARN ":  slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
		"bogus":   slog.LevelInfo,
	}
	for in, want := range cases {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q)=%v, want %v", in, got, want)
		}
	}
}
