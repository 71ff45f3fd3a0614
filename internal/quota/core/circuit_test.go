package core

import (
	"testing"
	"time"
)

func TestCircuitBreaker_OpensAndRecovers(t *testing.T) {
	t.Parallel()

	now := time.Unix(1_700_000_000, 0)
	cb := NewCircuitBreaker(CircuitOptions{FailureThreshold: 2, OpenDuration: 30 * time.Millisecond, HalfOpenMaxCalls: 1})
	cb.SetClock(func() time.Time { return now })
	if !cb.Allow() {
		t.Fatalf("expected allow in closed state")
	}
	cb.OnFailure()
	cb.OnFailure()
	if cb.Allow() {
		t.Fatalf("expected breaker to be open")
	}
	now = now.Add(35 * time.Millisecond)
	if !cb.Allow() {
		t.Fatalf("expected breaker to allow in half-open")
	}
	if cb.Allow() {
		t.Fatalf("expected half-open to admit a single probe")
	}
	cb.OnSuccess()
	if cb.State() != CircuitClosed {
		t.Fatalf("expected closed state, got %s", cb.State())
	}
	if !cb.Allow() {
		t.Fatalf("expected breaker to close after success")
	}
}

func TestCircuitBreaker_HalfOpenFailureReopens(t *testing.T) {
	t.Parallel()

	now := time.Unix(1_700_000_000, 0)
	cb := NewCircuitBreaker(CircuitOptions{FailureThreshold: 1, OpenDuration: time.Second, HalfOpenMaxCalls: 1})
	cb.SetClock(func() time.Time { return now })
	cb.OnFailure()
	if cb.State() != CircuitOpen {
		t.Fatalf("expected open state, got %s", cb.State())
	}
	now = now.Add(time.Second)
	if !cb.Allow() {
		t.Fatalf("expected half-open probe")
	}
	cb.OnFailure()
	if cb.State() != CircuitOpen || cb.Allow() {
		t.Fatalf("expected breaker to reopen after failed probe")
	}
}

func TestCircuitBreaker_SuccessResetsFailureCount(t *testing.T) {
	t.Parallel()

	cb := NewCircuitBreaker(CircuitOptions{FailureThreshold: 2})
	cb.OnFailure()
	cb.OnSuccess()
	cb.OnFailure()
	if cb.State() != CircuitClosed {
		t.Fatalf("expected closed state, got %s", cb.State())
	}

	var nilBreaker *CircuitBreaker
	if !nilBreaker.Allow() {
		t.Fatalf("expected nil breaker to allow")
	}
}

func TestCircuitBreaker_ReleaseFreesHalfOpenSlot(t *testing.T) {
	t.Parallel()

	now := time.Unix(1_700_000_000, 0)
	cb := NewCircuitBreaker(CircuitOptions{FailureThreshold: 1, OpenDuration: time.Second, HalfOpenMaxCalls: 1})
	cb.SetClock(func() time.Time { return now })
	cb.OnFailure()
	now = now.Add(time.Second)
	if !cb.Allow() {
		t.Fatalf("expected half-open probe")
	}
	cb.Release()
	if cb.State() != CircuitHalfOpen {
		t.Fatalf("expected half-open state, got %s", cb.State())
	}
	if !cb.Allow() {
		t.Fatalf("expected released slot to admit another probe")
	}
}
