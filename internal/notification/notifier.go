// Package notification delivers final-signal alerts to external channels
// (log, daily signal file, webhook, Telegram).
package notification

import (
	"context"
	"errors"
	"log"
	"time"
)

// AlertLevel represents the severity of an alert.
type AlertLevel string

const (
	AlertInfo     AlertLevel = "INFO"
	AlertWarning  AlertLevel = "WARNING"
	AlertCritical AlertLevel = "CRITICAL"
)

// Alert represents a notification to be sent. Signal alerts also carry
// the structured fields so webhooks need not parse Message.
type Alert struct {
	Level   AlertLevel `json:"level"`
	Title   string     `json:"title"`
	Message string     `json:"message"`

	SecurityID string    `json:"security_id,omitempty"`
	Symbol     string    `json:"symbol,omitempty"`
	Signal     string    `json:"signal,omitempty"`
	Conviction int       `json:"conviction_score,omitempty"`
	LTP        float64   `json:"ltp,omitempty"`
	TS         time.Time `json:"ts"`
	Bullish    []string  `json:"bullish_drivers,omitempty"`
	Bearish    []string  `json:"bearish_drivers,omitempty"`
}

// Notifier is the interface for all notification backends.
type Notifier interface {
	// Send delivers an alert. Returns error if delivery fails.
	Send(ctx context.Context, alert Alert) error
}

// LogNotifier logs alerts.
type LogNotifier struct{}

// NewLogNotifier creates a log-based notifier.
func NewLogNotifier() *LogNotifier {
	return &LogNotifier{}
}

func (n *LogNotifier) Send(ctx context.Context, alert Alert) error {
	log.Printf("[notify] [%s] %s: %s", alert.Level, alert.Title, alert.Message)
	return nil
}

// Multi sends every alert to all notifiers and joins their errors.
type Multi []Notifier

func (m Multi) Send(ctx context.Context, alert Alert) error {
	var errs []error
	for _, n := range m {
		if err := n.Send(ctx, alert); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
