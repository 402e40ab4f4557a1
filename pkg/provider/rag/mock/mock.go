// Package mock provides a test double for the rag.Provider interface.
package mock

import (
	"context"
	"sync"

	"github.com/mentorverse/liplink/pkg/provider/rag"
	"github.com/mentorverse/liplink/pkg/types"
)

// RetrieveCall records a single invocation of Retrieve.
type RetrieveCall struct {
	Ctx    context.Context
	Query  string
	KBID   string
	UserID int
}

// Provider is a mock implementation of rag.Provider.
// The zero value returns no documents, matching a tutor without a
// knowledge base.
type Provider struct {
	mu sync.Mutex

	// Documents is returned by Retrieve.
	Documents []types.Document

	// Err, if non-nil, is returned as the error from Retrieve.
	Err error

	// RetrieveCalls records every invocation of Retrieve in order.
	RetrieveCalls []RetrieveCall
}

// Retrieve records the call and returns Documents, Err.
func (p *Provider) Retrieve(ctx context.Context, query, kbID string, userID int) ([]types.Document, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.RetrieveCalls = append(p.RetrieveCalls, RetrieveCall{Ctx: ctx, Query: query, KBID: kbID, UserID: userID})
	return p.Documents, p.Err
}

// Reset clears all recorded calls. Thread-safe.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.RetrieveCalls = nil
}

// Ensure Provider implements rag.Provider at compile time.
var _ rag.Provider = (*Provider)(nil)
