package model

import "strings"

// Instrument types as carried by the instrument master.
const (
	TypeIndex  = "INDEX"
	TypeEquity = "EQUITY"
	TypeFutIdx = "FUTIDX"
	TypeFutStk = "FUTSTK"
	TypeOptIdx = "OPTIDX"
	TypeOptStk = "OPTSTK"
)

// Instrument describes a monitored instrument.
type Instrument struct {
	SecurityID     string  `json:"security_id" yaml:"security_id"`
	ExchangeType   int     `json:"exchange_type" yaml:"exchange_type"` // SmartAPI exchange type (1=nse_cm, 2=nse_fo, ...)
	Exchange       string  `json:"exchange" yaml:"exchange"`           // NSE, NFO, BSE, ...
	Symbol         string  `json:"symbol" yaml:"symbol"`               // trading symbol or index name, e.g. NIFTY
	DisplayName    string  `json:"display_name" yaml:"display_name"`
	InstrumentType string  `json:"instrument_type" yaml:"instrument_type"`
	Underlying     string  `json:"underlying" yaml:"underlying"` // underlying symbol for derivatives
	UnderlyingID   string  `json:"underlying_id" yaml:"underlying_id"`
	StrikePrice    float64 `json:"strike" yaml:"strike"`
	OptionType     string  `json:"option_type" yaml:"option_type"` // CE, PE
	Expiry         string  `json:"expiry" yaml:"expiry"`
	TickSize       float64 `json:"tick_size" yaml:"tick_size"` // 0 = derive from type
}

// IsIndex reports whether the instrument is a cash index.
func (i *Instrument) IsIndex() bool { return i.InstrumentType == TypeIndex }

// IsFuture reports whether the instrument is a future.
func (i *Instrument) IsFuture() bool { return strings.HasPrefix(i.InstrumentType, "FUT") }

// IsOption reports whether the instrument is an option.
func (i *Instrument) IsOption() bool { return strings.HasPrefix(i.InstrumentType, "OPT") }

// ProfileTickSize returns the market-profile price step: 1.0 for indices, 0.05 otherwise.
func (i *Instrument) ProfileTickSize() float64 {
	if i.TickSize > 0 {
		return i.TickSize
	}
	if i.IsIndex() {
		return 1.0
	}
	return 0.05
}

// Name returns the display name, falling back to the symbol.
func (i *Instrument) Name() string {
	if i.DisplayName != "" {
		return i.DisplayName
	}
	if i.Symbol != "" {
		return i.Symbol
	}
	return i.SecurityID
}

// Group classifies the instrument as Indices, Futures, Options or Stocks.
func (i *Instrument) Group() string {
	if i.IsIndex() {
		return "Indices"
	}
	if i.IsFuture() {
		return "Futures"
	}
	name := strings.ToUpper(i.Name())
	if i.IsOption() || strings.Contains(name, "CALL") || strings.Contains(name, "PUT") {
		return "Options"
	}
	return "Stocks"
}
