package resilience

import (
	"errors"
	"testing"
	"time"
)

var errBoom = errors.New("boom")

func failing() error { return errBoom }
func ok() error      { return nil }

func TestBreaker_TripsAfterMaxFailures(t *testing.T) {
	t.Parallel()
	b := NewBreaker(BreakerConfig{Name: "test", MaxFailures: 3, Cooldown: time.Hour})

	for i := 0; i < 3; i++ {
		if err := b.Do(failing); !errors.Is(err, errBoom) {
			t.Fatalf("call %d: %v", i, err)
		}
	}
	if b.State() != Open {
		t.Fatalf("state = %v, want open", b.State())
	}
	if err := b.Do(ok); !errors.Is(err, ErrOpen) {
		t.Errorf("open breaker ran the call, err = %v", err)
	}
}

func TestBreaker_SuccessResetsFailureCount(t *testing.T) {
	t.Parallel()
	b := NewBreaker(BreakerConfig{MaxFailures: 3, Cooldown: time.Hour})

	_ = b.Do(failing)
	_ = b.Do(failing)
	_ = b.Do(ok)
	_ = b.Do(failing)
	_ = b.Do(failing)

	if b.State() != Closed {
		t.Errorf("state = %v, interleaved success should keep it closed", b.State())
	}
}

func TestBreaker_ClosesAfterSuccessfulProbes(t *testing.T) {
	t.Parallel()
	b := NewBreaker(BreakerConfig{MaxFailures: 1, Cooldown: 10 * time.Millisecond, Probes: 2})

	_ = b.Do(failing)
	if b.State() != Open {
		t.Fatalf("state = %v, want open", b.State())
	}

	time.Sleep(20 * time.Millisecond)
	if b.State() != HalfOpen {
		t.Fatalf("state = %v, want half-open after cooldown", b.State())
	}
	for i := 0; i < 2; i++ {
		if err := b.Do(ok); err != nil {
			t.Fatalf("probe %d: %v", i, err)
		}
	}
	if b.State() != Closed {
		t.Errorf("state = %v, want closed after probes", b.State())
	}
}

func TestBreaker_ReopensOnProbeFailure(t *testing.T) {
	t.Parallel()
	b := NewBreaker(BreakerConfig{MaxFailures: 1, Cooldown: 10 * time.Millisecond, Probes: 2})

	_ = b.Do(failing)
	time.Sleep(20 * time.Millisecond)
	_ = b.Do(failing)

	if b.State() != Open {
		t.Errorf("state = %v, want open after a failed probe", b.State())
	}
}

func TestBreaker_Reset(t *testing.T) {
	t.Parallel()
	b := NewBreaker(BreakerConfig{MaxFailures: 1, Cooldown: time.Hour})

	_ = b.Do(failing)
	b.Reset()
	if b.State() != Closed {
		t.Errorf("state = %v after reset", b.State())
	}
	if err := b.Do(ok); err != nil {
		t.Errorf("call after reset: %v", err)
	}
}
