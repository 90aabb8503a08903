package notification

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"tick-analytics/internal/markethours"
	"tick-analytics/internal/synth"
)

// TelegramNotifier sends alerts through the Telegram Bot API.
type TelegramNotifier struct {
	botToken string
	chatID   string
	apiBase  string
	client   *http.Client
}

// NewTelegramNotifier creates a notifier posting to chatID as the bot.
func NewTelegramNotifier(botToken, chatID string) *TelegramNotifier {
	return &TelegramNotifier{
		botToken: botToken,
		chatID:   chatID,
		apiBase:  "https://api.telegram.org",
		client:   &http.Client{Timeout: 10 * time.Second},
	}
}

// Send posts the alert as a MarkdownV2 message.
func (t *TelegramNotifier) Send(ctx context.Context, alert Alert) error {
	body, err := json.Marshal(map[string]any{
		"chat_id":    t.chatID,
		"text":       telegramText(alert),
		"parse_mode": "MarkdownV2",
	})
	if err != nil {
		return fmt.Errorf("telegram: marshal: %w", err)
	}
	url := fmt.Sprintf("%s/bot%s/sendMessage", t.apiBase, t.botToken)
	if err := postJSON(ctx, t.client, url, body); err != nil {
		return fmt.Errorf("telegram: %w", err)
	}
	log.Printf("[telegram] sent: %s", alert.Title)
	return nil
}

func telegramText(a Alert) string {
	if a.Signal == "" {
		return fmt.Sprintf("%s *%s*\n\n%s", levelIcon(a.Level), escapeMarkdown(a.Title), escapeMarkdown(a.Message))
	}

	icon := "📈"
	if a.Signal == synth.StrongSell {
		icon = "📉"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%s *%s* %s\n", icon, escapeMarkdown(a.Signal), escapeMarkdown(a.Symbol))
	fmt.Fprintf(&b, "LTP `%s` \\| conviction `%d`\n", escapeMarkdown(fmt.Sprintf("%.2f", a.LTP)), a.Conviction)
	if !a.TS.IsZero() {
		fmt.Fprintf(&b, "_%s_\n", escapeMarkdown(a.TS.In(markethours.IST).Format("02 Jan 15:04:05")))
	}
	for _, d := range a.Bullish {
		b.WriteString("\n🟢 " + escapeMarkdown(d))
	}
	for _, d := range a.Bearish {
		b.WriteString("\n🔴 " + escapeMarkdown(d))
	}
	return b.String()
}

func levelIcon(l AlertLevel) string {
	switch l {
	case AlertWarning:
		return "⚠️"
	case AlertCritical:
		return "🚨"
	}
	return "ℹ️"
}

// escapeMarkdown escapes the characters MarkdownV2 reserves.
func escapeMarkdown(s string) string {
	const specials = "_*[]()~`>#+-=|{}.!\\"
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if strings.ContainsRune(specials, r) {
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}
