// This file contains the NativeProvider implementation backed by the
// whisper.cpp CGO bindings. The whisper.cpp static library (libwhisper.a)
// and headers (whisper.h) must be available at link time via LIBRARY_PATH
// and C_INCLUDE_PATH environment variables.

package whisper

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"

	whisperlib "github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"

	"github.com/mentorverse/liplink/pkg/audio"
	"github.com/mentorverse/liplink/pkg/provider/asr"
)

// Compile-time assertion that NativeProvider satisfies asr.Provider.
var _ asr.Provider = (*NativeProvider)(nil)

// NativeProvider implements asr.Provider using the whisper.cpp Go bindings
// (CGO), eliminating HTTP overhead entirely. The model is loaded once and
// shared across all calls; each transcription runs in its own whisper
// context because contexts are not thread-safe.
type NativeProvider struct {
	mu       sync.Mutex
	model    whisperlib.Model
	language string
}

// NativeOption is a functional option for configuring a NativeProvider.
type NativeOption func(*NativeProvider)

// WithNativeLanguage sets the default BCP-47 language code. Defaults to "en".
func WithNativeLanguage(lang string) NativeOption {
	return func(p *NativeProvider) { p.language = lang }
}

// NewNative creates a NativeProvider that loads the whisper.cpp model from
// the given GGML file path. The caller must call Close when the provider is
// no longer needed.
func NewNative(modelPath string, opts ...NativeOption) (*NativeProvider, error) {
	if modelPath == "" {
		return nil, errors.New("whisper: modelPath must not be empty")
	}
	model, err := whisperlib.New(modelPath)
	if err != nil {
		return nil, fmt.Errorf("whisper: load model %q: %w", modelPath, err)
	}

	p := &NativeProvider{
		model:    model,
		language: defaultLanguage,
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Close releases the whisper model.
func (p *NativeProvider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.model != nil {
		err := p.model.Close()
		p.model = nil
		return err
	}
	return nil
}

// Transcribe runs whisper.cpp inference over the full utterance and returns
// the concatenated segment text.
func (p *NativeProvider) Transcribe(ctx context.Context, pcm []byte, language string) (string, error) {
	if len(pcm) == 0 {
		return "", nil
	}
	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("whisper: context cancelled: %w", err)
	}
	if language == "" {
		language = p.language
	}

	samples := audio.Int16sToFloat32(audio.BytesToInt16s(pcm))

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.model == nil {
		return "", errors.New("whisper: provider is closed")
	}

	wctx, err := p.model.NewContext()
	if err != nil {
		return "", fmt.Errorf("whisper: create context: %w", err)
	}
	if err := wctx.SetLanguage(language); err != nil {
		slog.Warn("whisper: failed to set language, using default", "language", language, "err", err)
	}
	if err := wctx.Process(samples, nil, nil, nil); err != nil {
		return "", fmt.Errorf("whisper: process audio: %w", err)
	}

	var parts []string
	for {
		segment, err := wctx.NextSegment()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", fmt.Errorf("whisper: read segment: %w", err)
		}
		if text := strings.TrimSpace(segment.Text); text != "" {
			parts = append(parts, text)
		}
	}
	return strings.Join(parts, " "), nil
}
