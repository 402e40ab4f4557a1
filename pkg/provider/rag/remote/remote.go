// Package remote provides a rag.Provider backed by a remote retrieval
// service exposing a JSON search endpoint.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/mentorverse/liplink/pkg/provider/rag"
	"github.com/mentorverse/liplink/pkg/types"
)

const defaultTopK = 3

// Compile-time assertion that Provider implements rag.Provider.
var _ rag.Provider = (*Provider)(nil)

// Option is a functional option for configuring a Provider.
type Option func(*Provider)

// WithTopK bounds how many passages a retrieval returns. Defaults to 3.
func WithTopK(k int) Option {
	return func(p *Provider) {
		if k > 0 {
			p.topK = k
		}
	}
}

// WithHTTPClient overrides the HTTP client, mainly for tests.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) { p.httpClient = c }
}

// Provider implements rag.Provider against a remote retrieval service.
type Provider struct {
	baseURL    string
	topK       int
	httpClient *http.Client
}

// New creates a Provider that queries the retrieval service at baseURL.
func New(baseURL string, opts ...Option) (*Provider, error) {
	if baseURL == "" {
		return nil, errors.New("rag: baseURL must not be empty")
	}
	p := &Provider{
		baseURL:    baseURL,
		topK:       defaultTopK,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

type searchRequest struct {
	Query  string `json:"query"`
	KBID   string `json:"kb_id,omitempty"`
	UserID int    `json:"user_id"`
	TopK   int    `json:"top_k"`
}

type searchResponse struct {
	Documents []types.Document `json:"documents"`
}

// Retrieve implements rag.Provider.
func (p *Provider) Retrieve(ctx context.Context, query, kbID string, userID int) ([]types.Document, error) {
	body, err := json.Marshal(searchRequest{
		Query:  query,
		KBID:   kbID,
		UserID: userID,
		TopK:   p.topK,
	})
	if err != nil {
		return nil, fmt.Errorf("rag: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/api/search", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("rag: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("rag: http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("rag: server returned HTTP %d", resp.StatusCode)
	}

	var result searchResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("rag: decode response: %w", err)
	}
	if len(result.Documents) > p.topK {
		result.Documents = result.Documents[:p.topK]
	}
	return result.Documents, nil
}
