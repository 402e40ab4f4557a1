// Package resilience shields the gateway from flaky collaborator services.
//
// [Breaker] is a three-state circuit breaker (closed, open, half-open) that
// turns a dead backend into an immediate error instead of a per-request
// timeout. [Group] composes several instances of one provider type, each
// behind its own breaker, and fails over in registration order. The concrete
// wrappers ([LLMFallback], [ASRFallback], [TTSFallback]) put a group behind
// the corresponding provider interface so callers stay unaware of it.
//
// All types are safe for concurrent use.
package resilience

import (
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrOpen is returned by [Breaker.Do] while the breaker rejects calls.
var ErrOpen = errors.New("resilience: circuit open")

// State is the operating mode of a [Breaker].
type State int

const (
	// Closed forwards every call.
	Closed State = iota

	// Open rejects calls with [ErrOpen] until the cooldown elapses.
	Open

	// HalfOpen lets a bounded number of probe calls through after the
	// cooldown. Probes decide whether the breaker closes or re-opens.
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half-open"
	}
	return "unknown"
}

// BreakerConfig tunes a [Breaker]. Zero fields get defaults.
type BreakerConfig struct {
	// Name labels the breaker in log lines.
	Name string

	// MaxFailures is how many consecutive failures trip the breaker.
	// Default 5.
	MaxFailures int

	// Cooldown is how long the breaker stays open before probing.
	// Default 30s.
	Cooldown time.Duration

	// Probes is the half-open call budget. Default 3.
	Probes int
}

// Breaker is a consecutive-failure circuit breaker.
type Breaker struct {
	name        string
	maxFailures int
	cooldown    time.Duration
	probeBudget int

	mu          sync.Mutex
	state       State
	failures    int
	lastFailure time.Time
	probes      int
	probeFails  int
}

// NewBreaker creates a breaker in the closed state.
func NewBreaker(cfg BreakerConfig) *Breaker {
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 5
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 30 * time.Second
	}
	if cfg.Probes <= 0 {
		cfg.Probes = 3
	}
	return &Breaker{
		name:        cfg.Name,
		maxFailures: cfg.MaxFailures,
		cooldown:    cfg.Cooldown,
		probeBudget: cfg.Probes,
	}
}

// Do runs fn unless the breaker is rejecting calls. The error from fn is
// returned unchanged; a rejected call returns [ErrOpen] without running fn.
func (b *Breaker) Do(fn func() error) error {
	b.mu.Lock()
	switch b.state {
	case Open:
		if time.Since(b.lastFailure) < b.cooldown {
			b.mu.Unlock()
			return ErrOpen
		}
		b.state = HalfOpen
		b.probes = 0
		b.probeFails = 0
		slog.Info("circuit half-open", "name", b.name)
	case HalfOpen:
		if b.probes >= b.probeBudget {
			b.mu.Unlock()
			return ErrOpen
		}
	}
	probing := b.state == HalfOpen
	if probing {
		b.probes++
	}
	b.mu.Unlock()

	err := fn()

	b.mu.Lock()
	defer b.mu.Unlock()
	if err != nil {
		b.onFailure(probing)
	} else {
		b.onSuccess(probing)
	}
	return err
}

func (b *Breaker) onFailure(probing bool) {
	b.lastFailure = time.Now()
	if probing {
		b.probeFails++
		b.state = Open
		b.failures = b.maxFailures
		slog.Warn("circuit re-opened", "name", b.name)
		return
	}
	b.failures++
	if b.failures >= b.maxFailures {
		b.state = Open
		slog.Warn("circuit opened", "name", b.name, "failures", b.failures)
	}
}

func (b *Breaker) onSuccess(probing bool) {
	if !probing {
		b.failures = 0
		return
	}
	if b.probes-b.probeFails >= b.probeBudget {
		b.state = Closed
		b.failures = 0
		b.probes = 0
		b.probeFails = 0
		slog.Info("circuit closed", "name", b.name)
	}
}

// State reports the effective state: an open breaker past its cooldown reads
// as half-open even though the transition happens on the next Do.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == Open && time.Since(b.lastFailure) >= b.cooldown {
		return HalfOpen
	}
	return b.state
}

// Reset forces the breaker closed and clears all counters.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = Closed
	b.failures = 0
	b.probes = 0
	b.probeFails = 0
}
