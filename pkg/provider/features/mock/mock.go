// Package mock provides a test double for the features.Extractor interface.
package mock

import (
	"context"
	"sync"

	"github.com/mentorverse/liplink/pkg/provider/features"
)

// Audio2FeatCall records a single invocation of Audio2Feat.
type Audio2FeatCall struct {
	Ctx context.Context
	PCM []float32
}

// Extractor is a mock implementation of features.Extractor.
// When Rows is nil it synthesises one deterministic row per 320 input
// samples (the 50 Hz feature rate at 16 kHz), with row[0] holding the row
// index so tests can verify window alignment.
type Extractor struct {
	mu sync.Mutex

	// Rows, when non-nil, is returned by Audio2Feat.
	Rows [][]float32

	// Err, if non-nil, is returned as the error from Audio2Feat.
	Err error

	// Audio2FeatCalls records every invocation of Audio2Feat in order.
	Audio2FeatCalls []Audio2FeatCall
}

// Audio2Feat records the call and returns the configured or synthesised rows.
func (e *Extractor) Audio2Feat(ctx context.Context, pcm []float32) ([][]float32, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	buf := make([]float32, len(pcm))
	copy(buf, pcm)
	e.Audio2FeatCalls = append(e.Audio2FeatCalls, Audio2FeatCall{Ctx: ctx, PCM: buf})

	if e.Err != nil {
		return nil, e.Err
	}
	if e.Rows != nil {
		return e.Rows, nil
	}

	n := len(pcm) / 320
	rows := make([][]float32, n)
	for i := range rows {
		rows[i] = []float32{float32(i), 0, 0, 0}
	}
	return rows, nil
}

// Reset clears all recorded calls. Thread-safe.
func (e *Extractor) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.Audio2FeatCalls = nil
}

// Ensure Extractor implements features.Extractor at compile time.
var _ features.Extractor = (*Extractor)(nil)
