package notification

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"tick-analytics/internal/model"
	"tick-analytics/internal/synth"
)

// Alerter watches analysis results and alerts when an instrument's final
// trade signal changes to Strong Buy or Strong Sell. Repeats of the same
// signal are suppressed until it changes again.
type Alerter struct {
	notifier Notifier
	timeout  time.Duration

	mu   sync.Mutex
	last map[string]string

	// OnAlert is called after an alert was handed to the notifier (optional).
	OnAlert func(signal string)
}

// NewAlerter creates an Alerter delivering through n.
func NewAlerter(n Notifier) *Alerter {
	return &Alerter{
		notifier: n,
		timeout:  10 * time.Second,
		last:     make(map[string]string),
	}
}

// Run implements model.ResultSink.
func (a *Alerter) Run(ctx context.Context, in <-chan model.AnalysisResult) {
	for {
		select {
		case <-ctx.Done():
			return
		case r, ok := <-in:
			if !ok {
				return
			}
			a.Observe(ctx, r)
		}
	}
}

// Observe checks one result and sends an alert when due.
// Returns the alert and whether one was sent.
func (a *Alerter) Observe(ctx context.Context, r model.AnalysisResult) (Alert, bool) {
	a.mu.Lock()
	prev, seen := a.last[r.SecurityID]
	a.last[r.SecurityID] = r.FinalTradeSignal
	a.mu.Unlock()

	if seen && prev == r.FinalTradeSignal {
		return Alert{}, false
	}
	if r.FinalTradeSignal != synth.StrongBuy && r.FinalTradeSignal != synth.StrongSell {
		return Alert{}, false
	}

	alert := SignalAlert(r)
	sendCtx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()
	if err := a.notifier.Send(sendCtx, alert); err != nil {
		log.Printf("[notify] %s alert for %s: %v", r.FinalTradeSignal, r.SecurityID, err)
	}
	if a.OnAlert != nil {
		a.OnAlert(r.FinalTradeSignal)
	}
	return alert, true
}

// SignalAlert formats a result as an alert with its drivers.
func SignalAlert(r model.AnalysisResult) Alert {
	var b strings.Builder
	fmt.Fprintf(&b, "Instrument: %s\n", r.Symbol)
	fmt.Fprintf(&b, "Signal: %s\n", r.FinalTradeSignal)
	fmt.Fprintf(&b, "Conviction Score: %d\n", r.ConvictionScore)
	fmt.Fprintf(&b, "LTP: %.2f\n\n", r.LTP)
	writeDrivers(&b, "Bullish Drivers", r.BullishDrivers)
	b.WriteString("\n")
	writeDrivers(&b, "Bearish Drivers", r.BearishDrivers)

	return Alert{
		Level:      AlertWarning,
		Title:      r.FinalTradeSignal + " " + r.Symbol,
		Message:    b.String(),
		SecurityID: r.SecurityID,
		Symbol:     r.Symbol,
		Signal:     r.FinalTradeSignal,
		Conviction: r.ConvictionScore,
		LTP:        r.LTP,
		TS:         r.TS,
		Bullish:    r.BullishDrivers,
		Bearish:    r.BearishDrivers,
	}
}

func writeDrivers(b *strings.Builder, title string, drivers []string) {
	b.WriteString(title + ":\n")
	if len(drivers) == 0 {
		b.WriteString("  - None\n")
		return
	}
	for _, d := range drivers {
		b.WriteString("  - " + d + "\n")
	}
}
