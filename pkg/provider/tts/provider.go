// Package tts defines the Provider interface for Text-to-Speech backends.
//
// A TTS provider wraps a speech synthesis service and returns compressed
// audio (typically MP3) per text fragment. The streaming pipeline decodes the
// compressed output to PCM before chunking; inline replies ship it to the
// client base64-encoded as-is.
//
// Implementations must be safe for concurrent use.
package tts

import "context"

// Provider is the abstraction over any TTS backend.
type Provider interface {
	// Synthesize converts text to compressed audio. language is a BCP-47
	// code; empty uses the provider default voice's language.
	Synthesize(ctx context.Context, text, language string) ([]byte, error)

	// SynthesizeStream consumes text fragments from the text channel and
	// returns a channel emitting one compressed audio clip per fragment.
	// This lets the lip-sync pipeline start rendering the first sentence
	// while later ones are still being synthesised.
	//
	// The returned channel is closed by the implementation when the text
	// channel closes or ctx is cancelled. Callers must drain it. Fragments
	// that fail to synthesise are skipped, not fatal.
	SynthesizeStream(ctx context.Context, text <-chan string) (<-chan []byte, error)
}
