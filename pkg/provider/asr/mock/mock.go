// Package mock provides a test double for the asr.Provider interface.
package mock

import (
	"context"
	"sync"

	"github.com/mentorverse/liplink/pkg/provider/asr"
)

// TranscribeCall records a single invocation of Transcribe.
type TranscribeCall struct {
	Ctx      context.Context
	PCM      []byte
	Language string
}

// Provider is a mock implementation of asr.Provider.
// Zero values cause methods to return zero values and nil errors.
type Provider struct {
	mu sync.Mutex

	// Text is returned by Transcribe.
	Text string

	// Err, if non-nil, is returned as the error from Transcribe.
	Err error

	// TranscribeCalls records every invocation of Transcribe in order.
	TranscribeCalls []TranscribeCall
}

// Transcribe records the call and returns Text, Err.
func (p *Provider) Transcribe(ctx context.Context, pcm []byte, language string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	buf := make([]byte, len(pcm))
	copy(buf, pcm)
	p.TranscribeCalls = append(p.TranscribeCalls, TranscribeCall{Ctx: ctx, PCM: buf, Language: language})
	return p.Text, p.Err
}

// Reset clears all recorded calls. Thread-safe.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.TranscribeCalls = nil
}

// Ensure Provider implements asr.Provider at compile time.
var _ asr.Provider = (*Provider)(nil)
