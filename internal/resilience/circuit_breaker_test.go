package resilience

import (
	"errors"
	"testing"
	"time"
)

func TestCircuitBreaker_StartsClosed(t *testing.T) {
	cb := NewCircuitBreaker("test", 3, time.Second)

	if cb.GetState() != StateClosed {
		t.Errorf("Expected initial state StateClosed, got %v", cb.GetState())
	}
}

func TestCircuitBreaker_OpensAfterMaxFailures(t *testing.T) {
	cb := NewCircuitBreaker("test", 3, time.Second)
	failing := func() error { return errors.New("boom") }

	for i := 0; i < 3; i++ {
		_ = cb.Call(failing)
	}

	if cb.GetState() != StateOpen {
		t.Errorf("Expected StateOpen after 3 failures, got %v", cb.GetState())
	}

	// Open circuit rejects immediately
	err := cb.Call(func() error { return nil })
	if !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("Expected ErrCircuitOpen, got %v", err)
	}
}

func TestCircuitBreaker_SuccessResetsFailureCount(t *testing.T) {
	cb := NewCircuitBreaker("test", 3, time.Second)
	failing := func() error { return errors.New("boom") }

	_ = cb.Call(failing)
	_ = cb.Call(failing)
	_ = cb.Call(func() error { return nil })
	_ = cb.Call(failing)
	_ = cb.Call(failing)

	if cb.GetState() != StateClosed {
		t.Errorf("Expected StateClosed, got %v", cb.GetState())
	}
}

func TestCircuitBreaker_HalfOpenRecovery(t *testing.T) {
	cb := NewCircuitBreaker("test", 1, 10*time.Millisecond)

	_ = cb.Call(func() error { return errors.New("boom") })
	if cb.GetState() != StateOpen {
		t.Fatalf("Expected StateOpen, got %v", cb.GetState())
	}

	time.Sleep(20 * time.Millisecond)

	// Two successes in half-open close the circuit
	if err := cb.Call(func() error { return nil }); err != nil {
		t.Fatalf("Expected half-open probe to run, got %v", err)
	}
	if cb.GetState() != StateHalfOpen {
		t.Errorf("Expected StateHalfOpen, got %v", cb.GetState())
	}

	_ = cb.Call(func() error { return nil })
	if cb.GetState() != StateClosed {
		t.Errorf("Expected StateClosed after recovery, got %v", cb.GetState())
	}
}

func TestCircuitBreaker_HalfOpenFailureReopens(t *testing.T) {
	cb := NewCircuitBreaker("test", 1, 10*time.Millisecond)

	_ = cb.Call(func() error { return errors.New("boom") })
	time.Sleep(20 * time.Millisecond)

	_ = cb.Call(func() error { return errors.New("still down") })
	if cb.GetState() != StateOpen {
		t.Errorf("Expected StateOpen after half-open failure, got %v", cb.GetState())
	}
}

func TestCircuitBreaker_Reset(t *testing.T) {
	cb := NewCircuitBreaker("test", 1, time.Hour)

	_ = cb.Call(func() error { return errors.New("boom") })
	if cb.GetState() != StateOpen {
		t.Fatalf("Expected StateOpen, got %v", cb.GetState())
	}

	cb.Reset()
	if cb.GetState() != StateClosed {
		t.Errorf("Expected StateClosed after Reset, got %v", cb.GetState())
	}
}
