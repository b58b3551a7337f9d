package circuitbreaker

import (
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestCircuitBreaker_OpensAfterMaxFailures(t *testing.T) {
	cb := New(Config{Name: "test", MaxFailures: 2, Timeout: 50 * time.Millisecond, MaxRequests: 1, Logger: zerolog.Nop()})

	failing := func() error { return errors.New("boom") }
	cb.Execute(failing)
	cb.Execute(failing)

	if cb.GetState() != StateOpen {
		t.Fatalf("state = %v, want Open after %d consecutive failures", cb.GetState(), 2)
	}

	if err := cb.Execute(func() error { return nil }); err == nil {
		t.Fatal("expected Execute to reject calls while the breaker is open")
	}
}

func TestCircuitBreaker_HalfOpenRecovers(t *testing.T) {
	cb := New(Config{Name: "test", MaxFailures: 1, Timeout: 10 * time.Millisecond, MaxRequests: 1, Logger: zerolog.Nop()})

	cb.Execute(func() error { return errors.New("boom") })
	if cb.GetState() != StateOpen {
		t.Fatalf("state = %v, want Open", cb.GetState())
	}

	time.Sleep(20 * time.Millisecond)

	if err := cb.Execute(func() error { return nil }); err != nil {
		t.Fatalf("expected the half-open trial call to be allowed, got error: %v", err)
	}
	if cb.GetState() != StateClosed {
		t.Fatalf("state = %v, want Closed after a successful half-open trial", cb.GetState())
	}
}

func TestCircuitBreaker_ClosedResetsFailureCountOnSuccess(t *testing.T) {
	cb := New(Config{Name: "test", MaxFailures: 2, Timeout: time.Second, MaxRequests: 1, Logger: zerolog.Nop()})

	cb.Execute(func() error { return errors.New("boom") })
	cb.Execute(func() error { return nil })
	cb.Execute(func() error { return errors.New("boom") })

	if cb.GetState() != StateClosed {
		t.Fatalf("state = %v, want Closed: a success should reset the consecutive failure count", cb.GetState())
	}
}
