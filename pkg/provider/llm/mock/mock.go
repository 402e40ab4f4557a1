// Package mock provides a test double for the llm.Provider interface.
//
// Zero values for response fields cause methods to return zero values and nil
// errors. Set the Err fields to inject failures.
package mock

import (
	"context"
	"sync"

	"github.com/mentorverse/liplink/pkg/provider/llm"
)

// Call records a single invocation of Complete or StreamCompletion.
type Call struct {
	Ctx context.Context
	Req llm.Request
}

// Provider is a mock implementation of llm.Provider.
type Provider struct {
	mu sync.Mutex

	// CompleteText is returned by Complete.
	CompleteText string

	// CompleteErr, if non-nil, is returned as the error from Complete.
	CompleteErr error

	// StreamChunks is the sequence emitted on the channel returned by
	// StreamCompletion before it is closed.
	StreamChunks []llm.Chunk

	// StreamErr, if non-nil, is returned from StreamCompletion instead of
	// opening a channel.
	StreamErr error

	// CompleteCalls records every invocation of Complete in order.
	CompleteCalls []Call

	// StreamCalls records every invocation of StreamCompletion in order.
	StreamCalls []Call
}

// Complete records the call and returns CompleteText, CompleteErr.
func (p *Provider) Complete(ctx context.Context, req llm.Request) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.CompleteCalls = append(p.CompleteCalls, Call{Ctx: ctx, Req: req})
	return p.CompleteText, p.CompleteErr
}

// StreamCompletion records the call and returns a channel emitting StreamChunks.
func (p *Provider) StreamCompletion(ctx context.Context, req llm.Request) (<-chan llm.Chunk, error) {
	p.mu.Lock()
	if p.StreamErr != nil {
		err := p.StreamErr
		p.StreamCalls = append(p.StreamCalls, Call{Ctx: ctx, Req: req})
		p.mu.Unlock()
		return nil, err
	}
	chunks := make([]llm.Chunk, len(p.StreamChunks))
	copy(chunks, p.StreamChunks)
	p.StreamCalls = append(p.StreamCalls, Call{Ctx: ctx, Req: req})
	p.mu.Unlock()

	ch := make(chan llm.Chunk, len(chunks))
	go func() {
		defer close(ch)
		for _, c := range chunks {
			select {
			case <-ctx.Done():
				return
			case ch <- c:
			}
		}
	}()
	return ch, nil
}

// Reset clears all recorded calls. Thread-safe.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.CompleteCalls = nil
	p.StreamCalls = nil
}

// Ensure Provider implements llm.Provider at compile time.
var _ llm.Provider = (*Provider)(nil)
