// Package anyllm provides an llm.Provider backed by
// github.com/mozilla-ai/any-llm-go. The gateway runs one instance per tutor,
// each bound to that tutor's Ollama model.
//
// Usage:
//
//	p, err := anyllm.NewOllama("qwen2.5:7b", anyllmlib.WithBaseURL("http://127.0.0.1:11434"))
package anyllm

import (
	"context"
	"fmt"

	anyllmlib "github.com/mozilla-ai/any-llm-go"
	"github.com/mozilla-ai/any-llm-go/providers/ollama"

	"github.com/mentorverse/liplink/pkg/provider/llm"
)

// Provider implements llm.Provider by wrapping an any-llm-go backend.
type Provider struct {
	backend anyllmlib.Provider
	model   string
}

// NewOllama creates a Provider backed by a local Ollama instance.
// Without options, it connects to http://localhost:11434.
func NewOllama(model string, opts ...anyllmlib.Option) (*Provider, error) {
	if model == "" {
		return nil, fmt.Errorf("anyllm: model must not be empty")
	}
	backend, err := ollama.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("anyllm: create ollama backend: %w", err)
	}
	return &Provider{backend: backend, model: model}, nil
}

// Model returns the model this provider is bound to.
func (p *Provider) Model() string {
	return p.model
}

// Complete implements llm.Provider.
func (p *Provider) Complete(ctx context.Context, req llm.Request) (string, error) {
	resp, err := p.backend.Completion(ctx, p.buildParams(req))
	if err != nil {
		return "", fmt.Errorf("anyllm: completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("anyllm: empty choices in response")
	}
	return resp.Choices[0].Message.ContentString(), nil
}

// StreamCompletion implements llm.Provider.
func (p *Provider) StreamCompletion(ctx context.Context, req llm.Request) (<-chan llm.Chunk, error) {
	backendChunks, backendErrs := p.backend.CompletionStream(ctx, p.buildParams(req))

	ch := make(chan llm.Chunk, 32)
	go func() {
		defer close(ch)

		for chunk := range backendChunks {
			if len(chunk.Choices) == 0 {
				continue
			}
			choice := chunk.Choices[0]
			out := llm.Chunk{
				Text:         choice.Delta.Content,
				FinishReason: choice.FinishReason,
			}
			select {
			case ch <- out:
			case <-ctx.Done():
				return
			}
		}

		// Check for backend errors after the chunk channel is drained.
		if err := <-backendErrs; err != nil {
			select {
			case ch <- llm.Chunk{FinishReason: "error", Text: err.Error()}:
			case <-ctx.Done():
			}
		}
	}()

	return ch, nil
}

// buildParams converts an llm.Request into anyllm CompletionParams.
func (p *Provider) buildParams(req llm.Request) anyllmlib.CompletionParams {
	var messages []anyllmlib.Message

	if req.System != "" {
		messages = append(messages, anyllmlib.Message{
			Role:    anyllmlib.RoleSystem,
			Content: req.System,
		})
	}
	for _, m := range req.Messages {
		messages = append(messages, anyllmlib.Message{
			Role:    m.Role,
			Content: m.Content,
		})
	}

	params := anyllmlib.CompletionParams{
		Model:    p.model,
		Messages: messages,
	}
	if req.Temperature != 0 {
		t := req.Temperature
		params.Temperature = &t
	}
	if req.MaxTokens > 0 {
		mt := req.MaxTokens
		params.MaxTokens = &mt
	}
	return params
}

// Ensure Provider implements llm.Provider at compile time.
var _ llm.Provider = (*Provider)(nil)
