package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"tick-analytics/internal/markethours"
	"tick-analytics/internal/model"
)

// ErrInvalidSettings is wrapped by every Settings validation failure.
var ErrInvalidSettings = errors.New("invalid settings")

// IndexLevels are user-defined trading levels for one index.
type IndexLevels struct {
	NoTradeUpperBand float64 `yaml:"no_trade_upper" json:"no_trade_upper"`
	NoTradeLowerBand float64 `yaml:"no_trade_lower" json:"no_trade_lower"`
	SupportLevel     float64 `yaml:"support" json:"support"`
	ResistanceLevel  float64 `yaml:"resistance" json:"resistance"`
	Threshold        float64 `yaml:"threshold" json:"threshold"`
}

// Settings is the read-only snapshot of every analysis parameter.
type Settings struct {
	ShortEMALength         int     `yaml:"short_ema_length"`
	LongEMALength          int     `yaml:"long_ema_length"`
	AtrPeriod              int     `yaml:"atr_period"`
	AtrSmaPeriod           int     `yaml:"atr_sma_period"`
	RsiPeriod              int     `yaml:"rsi_period"`
	RsiDivergenceLookback  int     `yaml:"rsi_divergence_lookback"`
	VolumeHistoryLength    int     `yaml:"volume_history_length"`
	VolumeBurstMultiplier  float64 `yaml:"volume_burst_multiplier"`
	IvHistoryLength        int     `yaml:"iv_history_length"`
	IvSpikeThreshold       float64 `yaml:"iv_spike_threshold"`
	ObvMovingAveragePeriod int     `yaml:"obv_moving_average_period"`

	CustomIndexLevels map[string]IndexLevels `yaml:"custom_index_levels"`
	MarketHolidays    []string               `yaml:"market_holidays"` // YYYY-MM-DD
	Instruments       []model.Instrument     `yaml:"instruments"`
}

// DefaultSettings returns the built-in parameter set.
func DefaultSettings() Settings {
	return Settings{
		ShortEMALength:         9,
		LongEMALength:          21,
		AtrPeriod:              14,
		AtrSmaPeriod:           10,
		RsiPeriod:              14,
		RsiDivergenceLookback:  20,
		VolumeHistoryLength:    12,
		VolumeBurstMultiplier:  2.0,
		IvHistoryLength:        15,
		IvSpikeThreshold:       0.01,
		ObvMovingAveragePeriod: 20,
		CustomIndexLevels: map[string]IndexLevels{
			"NIFTY":     {NoTradeUpperBand: 23500, NoTradeLowerBand: 23400, SupportLevel: 23300, ResistanceLevel: 23600, Threshold: 20},
			"BANKNIFTY": {NoTradeUpperBand: 50000, NoTradeLowerBand: 49800, SupportLevel: 49500, ResistanceLevel: 50500, Threshold: 50},
			"SENSEX":    {NoTradeUpperBand: 77000, NoTradeLowerBand: 76800, SupportLevel: 76500, ResistanceLevel: 77500, Threshold: 100},
		},
	}
}

// LoadSettings reads a YAML settings file over the defaults.
// A missing file yields the defaults.
func LoadSettings(path string) (Settings, error) {
	s := DefaultSettings()
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		log.Printf("[config] settings file %s not found, using defaults", path)
		return s, s.Validate()
	}
	if err != nil {
		return s, fmt.Errorf("config: read settings: %w", err)
	}
	if err := yaml.Unmarshal(data, &s); err != nil {
		return s, fmt.Errorf("config: parse settings %s: %w", path, err)
	}
	return s, s.Validate()
}

// Validate fails fast on parameters the engine cannot run with.
func (s Settings) Validate() error {
	positive := []struct {
		name string
		v    int
	}{
		{"short_ema_length", s.ShortEMALength},
		{"long_ema_length", s.LongEMALength},
		{"atr_period", s.AtrPeriod},
		{"atr_sma_period", s.AtrSmaPeriod},
		{"rsi_period", s.RsiPeriod},
		{"rsi_divergence_lookback", s.RsiDivergenceLookback},
		{"volume_history_length", s.VolumeHistoryLength},
		{"iv_history_length", s.IvHistoryLength},
		{"obv_moving_average_period", s.ObvMovingAveragePeriod},
	}
	for _, p := range positive {
		if p.v <= 0 {
			return fmt.Errorf("%w: %s must be > 0, got %d", ErrInvalidSettings, p.name, p.v)
		}
	}
	if s.ShortEMALength > s.LongEMALength {
		return fmt.Errorf("%w: short_ema_length %d exceeds long_ema_length %d",
			ErrInvalidSettings, s.ShortEMALength, s.LongEMALength)
	}
	if s.VolumeBurstMultiplier <= 0 {
		return fmt.Errorf("%w: volume_burst_multiplier must be > 0", ErrInvalidSettings)
	}
	if s.IvSpikeThreshold < 0 {
		return fmt.Errorf("%w: iv_spike_threshold must be >= 0", ErrInvalidSettings)
	}
	if _, err := s.Holidays(); err != nil {
		return err
	}
	seen := make(map[string]bool, len(s.Instruments))
	for _, inst := range s.Instruments {
		if inst.SecurityID == "" {
			return fmt.Errorf("%w: instrument %q has no security_id", ErrInvalidSettings, inst.Symbol)
		}
		if seen[inst.SecurityID] {
			return fmt.Errorf("%w: duplicate instrument %s", ErrInvalidSettings, inst.SecurityID)
		}
		seen[inst.SecurityID] = true
		if inst.TickSize < 0 {
			return fmt.Errorf("%w: instrument %s has negative tick_size", ErrInvalidSettings, inst.SecurityID)
		}
	}
	return nil
}

// Holidays parses MarketHolidays as IST dates.
func (s Settings) Holidays() ([]time.Time, error) {
	out := make([]time.Time, 0, len(s.MarketHolidays))
	for _, d := range s.MarketHolidays {
		t, err := time.ParseInLocation("2006-01-02", d, markethours.IST)
		if err != nil {
			return nil, fmt.Errorf("%w: market holiday %q: %v", ErrInvalidSettings, d, err)
		}
		out = append(out, t)
	}
	return out, nil
}

// LevelsFor returns the custom levels configured for an index symbol.
func (s Settings) LevelsFor(symbol string) (IndexLevels, bool) {
	l, ok := s.CustomIndexLevels[symbol]
	return l, ok
}
