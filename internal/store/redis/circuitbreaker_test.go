package redis

import (
	"errors"
	"testing"
	"time"
)

var errFail = errors.New("fail")

// fakeClock drives the breaker's reset timeout without sleeping.
type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestBreaker(maxFailures int) (*CircuitBreaker, *fakeClock) {
	clk := &fakeClock{t: time.Date(2025, 1, 6, 9, 15, 0, 0, time.UTC)}
	cb := NewCircuitBreaker(maxFailures, 10*time.Second)
	cb.Now = clk.now
	return cb, clk
}

func TestCircuitBreaker_StartsClosed(t *testing.T) {
	cb, _ := newTestBreaker(3)
	if cb.CurrentState() != StateClosed {
		t.Errorf("expected closed, got %v", cb.CurrentState())
	}
}

func TestCircuitBreaker_OpensAfterFailures(t *testing.T) {
	cb, clk := newTestBreaker(3)

	for i := 0; i < 3; i++ {
		if err := cb.Execute(func() error { return errFail }); err != errFail {
			t.Fatalf("expected errFail, got %v", err)
		}
	}
	if cb.CurrentState() != StateOpen {
		t.Fatalf("expected open after 3 failures, got %v", cb.CurrentState())
	}

	called := false
	clk.advance(5 * time.Second)
	err := cb.Execute(func() error { called = true; return nil })
	if err != ErrCircuitOpen {
		t.Errorf("expected ErrCircuitOpen, got %v", err)
	}
	if called {
		t.Error("fn must not run while open")
	}
}

func TestCircuitBreaker_HalfOpenRecovery(t *testing.T) {
	cb, clk := newTestBreaker(2)
	cb.Execute(func() error { return errFail })
	cb.Execute(func() error { return errFail })

	clk.advance(11 * time.Second)
	if err := cb.Execute(func() error { return nil }); err != nil {
		t.Fatalf("expected nil, got %v", err)
	}
	if cb.CurrentState() != StateClosed {
		t.Errorf("expected closed after successful probe, got %v", cb.CurrentState())
	}
	if cb.Failures() != 0 {
		t.Errorf("failures = %d, want 0", cb.Failures())
	}
}

func TestCircuitBreaker_HalfOpenFailureReopens(t *testing.T) {
	cb, clk := newTestBreaker(2)
	cb.Execute(func() error { return errFail })
	cb.Execute(func() error { return errFail })

	clk.advance(11 * time.Second)
	cb.Execute(func() error { return errFail })
	if cb.CurrentState() != StateOpen {
		t.Fatalf("expected open after failed probe, got %v", cb.CurrentState())
	}

	// the reset timeout restarts from the failed probe
	clk.advance(5 * time.Second)
	if err := cb.Execute(func() error { return nil }); err != ErrCircuitOpen {
		t.Errorf("expected ErrCircuitOpen, got %v", err)
	}
}

func TestCircuitBreaker_SuccessResetsFailureCount(t *testing.T) {
	cb, _ := newTestBreaker(3)
	cb.Execute(func() error { return errFail })
	cb.Execute(func() error { return errFail })
	cb.Execute(func() error { return nil })
	cb.Execute(func() error { return errFail })
	cb.Execute(func() error { return errFail })

	if cb.CurrentState() != StateClosed {
		t.Errorf("expected closed (counter reset), got %v", cb.CurrentState())
	}
}

func TestCircuitBreaker_OnStateChangeCallback(t *testing.T) {
	cb, clk := newTestBreaker(1)
	var transitions []State
	cb.OnStateChange = func(from, to State) {
		transitions = append(transitions, to)
	}

	cb.Execute(func() error { return errFail })
	if len(transitions) != 1 || transitions[0] != StateOpen {
		t.Fatalf("expected [open], got %v", transitions)
	}

	clk.advance(11 * time.Second)
	cb.Execute(func() error { return nil })
	if len(transitions) != 3 || transitions[1] != StateHalfOpen || transitions[2] != StateClosed {
		t.Errorf("expected [open half-open closed], got %v", transitions)
	}
}
