package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/mentorverse/liplink/internal/config"
	"github.com/mentorverse/liplink/internal/observe"
)

// Factory builds a fully loaded Engine for one tutor. Loading may be slow
// (model weights, avatar frames); the cache guarantees at most one concurrent
// build per tutor.
type Factory func(ctx context.Context, tutorID int) (*Engine, error)

// Cache hands out shared Engine instances keyed by tutor ID.
type Cache struct {
	factory Factory
	metrics *observe.Metrics

	mu      sync.RWMutex
	engines map[int]*cacheEntry
}

type cacheEntry struct {
	once sync.Once
	eng  *Engine
	err  error
}

// NewCache creates an engine cache backed by factory. metrics may be nil.
func NewCache(factory Factory, metrics *observe.Metrics) *Cache {
	if metrics == nil {
		metrics = observe.DefaultMetrics()
	}
	return &Cache{
		factory: factory,
		metrics: metrics,
		engines: make(map[int]*cacheEntry),
	}
}

// Get returns the engine for tutorID, building it on first use. Concurrent
// callers for the same tutor share one build; a failed build is not cached.
func (c *Cache) Get(ctx context.Context, tutorID int) (*Engine, error) {
	// Every websocket message resolves an engine, so the loaded case takes a
	// read lock only.
	c.mu.RLock()
	e, ok := c.engines[tutorID]
	c.mu.RUnlock()
	if !ok {
		c.mu.Lock()
		e, ok = c.engines[tutorID]
		if !ok {
			e = &cacheEntry{}
			c.engines[tutorID] = e
		}
		c.mu.Unlock()
	}

	e.once.Do(func() {
		e.eng, e.err = c.factory(ctx, tutorID)
		if e.err != nil {
			c.mu.Lock()
			delete(c.engines, tutorID)
			c.mu.Unlock()
			return
		}
		c.metrics.LoadedEngines.Add(ctx, 1)
		slog.Info("tutor engine loaded", "tutor_id", tutorID, "model", e.eng.Model)
	})
	if e.err != nil {
		return nil, fmt.Errorf("engine: load tutor %d: %w", tutorID, e.err)
	}
	return e.eng, nil
}

// Remove evicts and closes the engine for tutorID, if loaded. The next Get
// rebuilds it.
func (c *Cache) Remove(tutorID int) {
	c.mu.Lock()
	e, ok := c.engines[tutorID]
	if ok {
		delete(c.engines, tutorID)
	}
	c.mu.Unlock()
	if !ok || e.eng == nil {
		return
	}

	c.metrics.LoadedEngines.Add(context.Background(), -1)
	if err := e.eng.Close(); err != nil {
		slog.Warn("engine close failed", "tutor_id", tutorID, "err", err)
	}
	slog.Info("tutor engine released", "tutor_id", tutorID)
}

// Tutors lists the tutor IDs with a loaded engine, in ascending order.
func (c *Cache) Tutors() []int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ids := make([]int, 0, len(c.engines))
	for id, e := range c.engines {
		if e.eng != nil {
			ids = append(ids, id)
		}
	}
	sort.Ints(ids)
	return ids
}

// ApplyDiff releases engines whose configuration changed under them, so the
// next connection picks up the new model or avatar. Added tutors load lazily.
func (c *Cache) ApplyDiff(d config.ConfigDiff) {
	if d.DefaultModelChanged {
		// Every tutor without an explicit override is affected.
		c.Close()
		return
	}
	for _, tc := range d.TutorChanges {
		if tc.Removed || tc.ModelChanged {
			c.Remove(tc.TutorID)
		}
	}
}

// WarmUp eagerly loads the engines for the given tutors. Failures are logged
// and skipped; a tutor that fails to warm still loads lazily on first use.
func (c *Cache) WarmUp(ctx context.Context, tutorIDs []int) {
	for _, id := range tutorIDs {
		if _, err := c.Get(ctx, id); err != nil {
			slog.Warn("engine warm-up failed", "tutor_id", id, "err", err)
		}
	}
}

// Close releases every loaded engine.
func (c *Cache) Close() {
	for _, id := range c.Tutors() {
		c.Remove(id)
	}
}
