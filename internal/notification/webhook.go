package notification

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"
)

// WebhookNotifier POSTs each alert as JSON to an HTTP endpoint.
type WebhookNotifier struct {
	url    string
	client *http.Client
	now    func() time.Time
}

// NewWebhookNotifier creates a webhook notifier for url.
func NewWebhookNotifier(url string) *WebhookNotifier {
	return &WebhookNotifier{
		url:    url,
		client: &http.Client{Timeout: 10 * time.Second},
		now:    time.Now,
	}
}

type webhookPayload struct {
	Source string `json:"source"`
	SentAt string `json:"sent_at"`
	Alert
}

// Send posts the alert with its signal fields flattened into the body.
func (w *WebhookNotifier) Send(ctx context.Context, alert Alert) error {
	if alert.TS.IsZero() {
		alert.TS = w.now().UTC()
	}
	body, err := json.Marshal(webhookPayload{
		Source: "tick-analytics",
		SentAt: w.now().UTC().Format(time.RFC3339Nano),
		Alert:  alert,
	})
	if err != nil {
		return fmt.Errorf("webhook: marshal: %w", err)
	}
	if err := postJSON(ctx, w.client, w.url, body); err != nil {
		return fmt.Errorf("webhook: %w", err)
	}
	log.Printf("[webhook] %s delivered", alert.Title)
	return nil
}

// postJSON sends body and fails on a non-2xx status, quoting the start of
// the response for diagnosis.
func postJSON(ctx context.Context, client *http.Client, url string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("send: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return fmt.Errorf("status %d: %s", resp.StatusCode, bytes.TrimSpace(snippet))
	}
	return nil
}
