package notification

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"tick-analytics/internal/markethours"
)

// FileNotifier appends alerts to a daily file trade_signals_YYYY-MM-DD.log
// (IST date) under dir.
type FileNotifier struct {
	dir string
	mu  sync.Mutex

	// Now is the clock; tests replace it.
	Now func() time.Time
}

// NewFileNotifier creates dir if needed.
func NewFileNotifier(dir string) (*FileNotifier, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("signal log dir: %w", err)
	}
	return &FileNotifier{dir: dir, Now: time.Now}, nil
}

// Path returns the file alerts at t are written to.
func (f *FileNotifier) Path(t time.Time) string {
	return filepath.Join(f.dir, "trade_signals_"+t.In(markethours.IST).Format("2006-01-02")+".log")
}

func (f *FileNotifier) Send(ctx context.Context, alert Alert) error {
	now := f.Now()
	rule := strings.Repeat("-", 54)

	var b strings.Builder
	b.WriteString(rule + "\n")
	fmt.Fprintf(&b, "[SIGNAL GENERATED] at %s\n", now.In(markethours.IST).Format("2006-01-02 15:04:05.000 -07:00"))
	b.WriteString(rule + "\n")
	b.WriteString(alert.Message)
	b.WriteString(rule + "\n\n")

	f.mu.Lock()
	defer f.mu.Unlock()
	fh, err := os.OpenFile(f.Path(now), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("signal log: %w", err)
	}
	defer fh.Close()
	if _, err := fh.WriteString(b.String()); err != nil {
		return fmt.Errorf("signal log: %w", err)
	}
	return nil
}
