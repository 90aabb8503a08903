package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds process configuration loaded from the environment (and an
// optional .env file). Analysis parameters live in Settings.
type Config struct {
	// Angel One credentials (only needed for the live feed and backfill)
	AngelAPIKey     string
	AngelClientCode string
	AngelPassword   string
	AngelTOTPSecret string

	// Infrastructure
	RedisAddr     string // empty disables the Redis sink
	RedisPassword string
	DBDriver      string // sqlite3 or postgres
	DBDSN         string
	MetricsAddr   string
	APIAddr       string

	// Analysis
	SettingsPath  string
	Timeframes    string // comma-separated minutes, e.g. "1,5,15"
	MailboxSize   int
	FlushInterval time.Duration
	GreeksPoll    time.Duration

	// Alerts
	WebhookURL       string
	TelegramBotToken string
	TelegramChatID   string
	SignalLogDir     string // daily trade_signals_*.log files; empty disables

	LogLevel string
}

// Load reads .env (if present) and then the environment, with sensible defaults.
func Load() *Config {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Printf("[config] .env not loaded: %v", err)
	}

	return &Config{
		AngelAPIKey:     getEnv("ANGEL_API_KEY", ""),
		AngelClientCode: getEnv("ANGEL_CLIENT_CODE", ""),
		AngelPassword:   getEnv("ANGEL_PASSWORD", ""),
		AngelTOTPSecret: getEnv("ANGEL_TOTP_SECRET", ""),

		RedisAddr:     os.Getenv("REDIS_ADDR"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		DBDriver:      getEnv("DB_DRIVER", "sqlite3"),
		DBDSN:         getEnv("DB_DSN", "data/analytics.db"),
		MetricsAddr:   getEnv("METRICS_ADDR", ":9090"),
		APIAddr:       getEnv("API_ADDR", ":8080"),

		SettingsPath:  getEnv("SETTINGS_PATH", "config/settings.yaml"),
		Timeframes:    getEnv("TIMEFRAMES", "1,5,15"),
		MailboxSize:   getInt("MAILBOX_SIZE", 1024),
		FlushInterval: getDuration("FLUSH_INTERVAL", time.Minute),
		GreeksPoll:    getDuration("GREEKS_POLL_INTERVAL", 30*time.Second),

		WebhookURL:       getEnv("ALERT_WEBHOOK_URL", ""),
		TelegramBotToken: getEnv("TELEGRAM_BOT_TOKEN", ""),
		TelegramChatID:   getEnv("TELEGRAM_CHAT_ID", ""),
		SignalLogDir:     getEnv("SIGNAL_LOG_DIR", "logs"),

		LogLevel: getEnv("LOG_LEVEL", "info"),
	}
}

// RequireFeed checks that the SmartAPI credentials are present.
func (c *Config) RequireFeed() error {
	var missing []string
	for k, v := range map[string]string{
		"ANGEL_API_KEY":     c.AngelAPIKey,
		"ANGEL_CLIENT_CODE": c.AngelClientCode,
		"ANGEL_PASSWORD":    c.AngelPassword,
		"ANGEL_TOTP_SECRET": c.AngelTOTPSecret,
	} {
		if v == "" {
			missing = append(missing, k)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("config: required env vars not set: %s", strings.Join(missing, ", "))
	}
	return nil
}

// ParseTimeframes parses Timeframes into durations. Invalid entries are skipped;
// 1 minute is always present since the market profile is built from it.
func (c *Config) ParseTimeframes() []time.Duration {
	parts := strings.Split(c.Timeframes, ",")
	tfs := make([]time.Duration, 0, len(parts)+1)
	seen := map[int]bool{}
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		n, err := strconv.Atoi(p)
		if err != nil || n <= 0 {
			log.Printf("[config] skipping invalid timeframe value: %q", p)
			continue
		}
		if seen[n] {
			continue
		}
		seen[n] = true
		tfs = append(tfs, time.Duration(n)*time.Minute)
	}
	if !seen[1] {
		tfs = append([]time.Duration{time.Minute}, tfs...)
	}
	return tfs
}

func getEnv(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func getInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		log.Printf("[config] invalid %s=%q, using %d", key, v, fallback)
		return fallback
	}
	return n
}

func getDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		log.Printf("[config] invalid %s=%q, using %s", key, v, fallback)
		return fallback
	}
	return d
}
