package breaker

import (
	"errors"
	"testing"
	"time"
)

var errDownstream = errors.New("downstream failed")

func failing() error { return errDownstream }
func passing() error { return nil }

func TestBreaker_TripsAfterConsecutiveFailures(t *testing.T) {
	b := New(2, 1, time.Minute)

	for i := 0; i < 2; i++ {
		if err := b.Do(failing); !errors.Is(err, errDownstream) {
			t.Fatalf("call %d error = %v, want downstream error", i+1, err)
		}
	}

	if b.State() != Open {
		t.Fatalf("state = %v, want Open", b.State())
	}
	if err := b.Do(passing); !errors.Is(err, ErrOpen) {
		t.Fatalf("open breaker error = %v, want ErrOpen", err)
	}
}

func TestBreaker_SuccessResetsFailureCount(t *testing.T) {
	b := New(2, 1, time.Minute)

	if err := b.Do(failing); !errors.Is(err, errDownstream) {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := b.Do(passing); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := b.Do(failing); !errors.Is(err, errDownstream) {
		t.Fatalf("unexpected error: %v", err)
	}

	if b.State() != Closed {
		t.Fatalf("state = %v, want Closed after interleaved success", b.State())
	}
}

func TestBreaker_RecoversThroughHalfOpen(t *testing.T) {
	b := New(1, 2, 10*time.Millisecond)
	current := time.Now()
	b.now = func() time.Time { return current }

	if err := b.Do(failing); !errors.Is(err, errDownstream) {
		t.Fatalf("unexpected error: %v", err)
	}
	if b.State() != Open {
		t.Fatalf("state = %v, want Open", b.State())
	}

	// Advance past the open timeout; trial calls are allowed again.
	current = current.Add(20 * time.Millisecond)
	if b.State() != HalfOpen {
		t.Fatalf("state = %v, want HalfOpen", b.State())
	}

	if err := b.Do(passing); err != nil {
		t.Fatalf("trial call error = %v", err)
	}
	if err := b.Do(passing); err != nil {
		t.Fatalf("trial call error = %v", err)
	}
	if b.State() != Closed {
		t.Fatalf("state = %v, want Closed after recovery", b.State())
	}
}

func TestBreaker_HalfOpenFailureReopens(t *testing.T) {
	b := New(1, 1, 10*time.Millisecond)
	current := time.Now()
	b.now = func() time.Time { return current }

	if err := b.Do(failing); !errors.Is(err, errDownstream) {
		t.Fatalf("unexpected error: %v", err)
	}
	current = current.Add(20 * time.Millisecond)

	if err := b.Do(failing); !errors.Is(err, errDownstream) {
		t.Fatalf("unexpected error: %v", err)
	}
	if b.State() != Open {
		t.Fatalf("state = %v, want Open after half-open failure", b.State())
	}
}
