// Package rag defines the Provider interface for the retrieval collaborator.
//
// Retrieval failures must degrade gracefully: a tutor reply without supporting
// passages beats no reply, so callers treat errors as "no context" and log
// them rather than failing the request.
package rag

import (
	"context"
	"fmt"
	"strings"

	"github.com/mentorverse/liplink/pkg/types"
)

// Provider is the abstraction over a retrieval backend.
type Provider interface {
	// Retrieve returns up to the provider's configured number of passages
	// relevant to query. kbID names the knowledge base; empty means the
	// backend's default collection. userID scopes per-learner material.
	Retrieve(ctx context.Context, query, kbID string, userID int) ([]types.Document, error)
}

// FormatContext renders retrieved passages as a prompt block for the LLM.
// Returns the empty string when docs is empty.
func FormatContext(docs []types.Document) string {
	if len(docs) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("Reference material:\n")
	for i, d := range docs {
		fmt.Fprintf(&b, "[%d] %s\n", i+1, strings.TrimSpace(d.Content))
	}
	return b.String()
}
