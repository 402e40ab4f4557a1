// Package llm defines the Provider interface for the text-generation
// collaborator.
//
// A provider wraps a model API (typically a local Ollama instance, one model
// per tutor) and exposes completion and streaming completion. Implementors
// must be safe for concurrent use; channels returned by StreamCompletion must
// be closed by the implementation when the stream ends or the context is
// cancelled.
package llm

import "context"

// Conversation roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is a single turn of a tutoring conversation.
type Message struct {
	Role    string
	Content string
}

// Request carries everything the model needs to produce a reply.
type Request struct {
	// System is the tutor persona prompt, injected before the history.
	System string

	// Messages is the ordered conversation history. The last message is the
	// user turn that drives the response.
	Messages []Message

	// Temperature controls output randomness in [0, 2]. Zero uses the
	// provider default.
	Temperature float64

	// MaxTokens caps the completion length. Zero means provider default.
	MaxTokens int
}

// Chunk is a fragment emitted by a streaming completion. FinishReason is set
// on the final chunk; the value "error" carries a mid-stream failure in Text.
type Chunk struct {
	Text         string
	FinishReason string
}

// Provider is the abstraction over a text-generation backend.
type Provider interface {
	// Complete sends req and waits for the full reply text.
	Complete(ctx context.Context, req Request) (string, error)

	// StreamCompletion sends req and returns a channel emitting reply
	// fragments as they arrive. Callers must drain the channel. The initial
	// error is non-nil only for failures that prevent the stream from
	// starting; later failures surface as a Chunk with FinishReason "error".
	StreamCompletion(ctx context.Context, req Request) (<-chan Chunk, error)
}
