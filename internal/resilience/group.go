package resilience

import (
	"errors"
	"fmt"
	"log/slog"
)

// ErrExhausted is returned when every member of a [Group] failed or had an
// open breaker.
var ErrExhausted = errors.New("resilience: all backends failed")

// member pairs one backend with its breaker.
type member[T any] struct {
	name    string
	backend T
	breaker *Breaker
}

// Group is an ordered failover set: the primary first, then fallbacks in the
// order they were added. Each member gets its own [Breaker] so a tripped
// primary is skipped without waiting out its timeout.
type Group[T any] struct {
	members []member[T]
	cfg     BreakerConfig
}

// NewGroup creates a group with primary as its first member. cfg seeds the
// breaker for every member; the Name field is overridden per member.
func NewGroup[T any](primary T, name string, cfg BreakerConfig) *Group[T] {
	g := &Group[T]{cfg: cfg}
	g.Add(name, primary)
	return g
}

// Add appends a fallback backend.
func (g *Group[T]) Add(name string, backend T) {
	cfg := g.cfg
	cfg.Name = name
	g.members = append(g.members, member[T]{
		name:    name,
		backend: backend,
		breaker: NewBreaker(cfg),
	})
}

// Do tries fn against each member in order until one succeeds. Members with
// an open breaker are skipped. When every member fails, the returned error
// wraps [ErrExhausted] and the last failure.
func Do[T, R any](g *Group[T], fn func(T) (R, error)) (R, error) {
	var (
		zero    R
		lastErr error
	)
	for i := range g.members {
		m := &g.members[i]
		var out R
		err := m.breaker.Do(func() error {
			var inner error
			out, inner = fn(m.backend)
			return inner
		})
		if err == nil {
			return out, nil
		}
		lastErr = err
		if errors.Is(err, ErrOpen) {
			slog.Debug("backend skipped, circuit open", "backend", m.name)
		} else {
			slog.Warn("backend failed, trying next", "backend", m.name, "err", err)
		}
	}
	return zero, fmt.Errorf("%w: %v", ErrExhausted, lastErr)
}
