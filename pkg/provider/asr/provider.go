// Package asr defines the Provider interface for the speech-recognition
// collaborator.
//
// The gateway transcribes one complete utterance per client message, so the
// interface is batch shaped: callers hand over a full PCM buffer and wait for
// the text. Implementors must be safe for concurrent use.
package asr

import "context"

// SampleRate is the PCM sample rate every provider expects: 16 kHz mono
// 16-bit little-endian.
const SampleRate = 16000

// Provider is the abstraction over a speech-recognition backend.
type Provider interface {
	// Transcribe converts a complete utterance of 16 kHz mono s16le PCM to
	// text. language is a BCP-47 code ("en", "zh"); empty uses the provider
	// default. An empty transcription with nil error means no speech was
	// recognised.
	Transcribe(ctx context.Context, pcm []byte, language string) (string, error)
}
