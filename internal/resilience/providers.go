package resilience

import (
	"context"

	"github.com/mentorverse/liplink/pkg/provider/asr"
	"github.com/mentorverse/liplink/pkg/provider/llm"
	"github.com/mentorverse/liplink/pkg/provider/tts"
)

// LLMFallback implements [llm.Provider] with failover across model backends,
// e.g. a tutor's dedicated model backed by the platform default.
type LLMFallback struct {
	group *Group[llm.Provider]
}

var _ llm.Provider = (*LLMFallback)(nil)

// NewLLMFallback creates the failover wrapper with primary preferred.
func NewLLMFallback(primary llm.Provider, name string, cfg BreakerConfig) *LLMFallback {
	return &LLMFallback{group: NewGroup(primary, name, cfg)}
}

// AddFallback registers another model backend, tried after the earlier ones.
func (f *LLMFallback) AddFallback(name string, p llm.Provider) {
	f.group.Add(name, p)
}

// Complete returns the reply from the first healthy backend.
func (f *LLMFallback) Complete(ctx context.Context, req llm.Request) (string, error) {
	return Do(f.group, func(p llm.Provider) (string, error) {
		return p.Complete(ctx, req)
	})
}

// StreamCompletion opens a stream on the first healthy backend. Only the
// initial connection takes part in failover; once fragments flow, mid-stream
// failures surface as error chunks from that backend.
func (f *LLMFallback) StreamCompletion(ctx context.Context, req llm.Request) (<-chan llm.Chunk, error) {
	return Do(f.group, func(p llm.Provider) (<-chan llm.Chunk, error) {
		return p.StreamCompletion(ctx, req)
	})
}

// ASRFallback implements [asr.Provider] behind a breaker group. With a single
// member it still pays off: a dead whisper-server fails requests immediately
// instead of stalling each utterance on a timeout.
type ASRFallback struct {
	group *Group[asr.Provider]
}

var _ asr.Provider = (*ASRFallback)(nil)

// NewASRFallback creates the failover wrapper with primary preferred.
func NewASRFallback(primary asr.Provider, name string, cfg BreakerConfig) *ASRFallback {
	return &ASRFallback{group: NewGroup(primary, name, cfg)}
}

// AddFallback registers another recognition backend.
func (f *ASRFallback) AddFallback(name string, p asr.Provider) {
	f.group.Add(name, p)
}

// Transcribe runs the utterance through the first healthy backend.
func (f *ASRFallback) Transcribe(ctx context.Context, pcm []byte, language string) (string, error) {
	return Do(f.group, func(p asr.Provider) (string, error) {
		return p.Transcribe(ctx, pcm, language)
	})
}

// TTSFallback implements [tts.Provider] behind a breaker group.
type TTSFallback struct {
	group *Group[tts.Provider]
}

var _ tts.Provider = (*TTSFallback)(nil)

// NewTTSFallback creates the failover wrapper with primary preferred.
func NewTTSFallback(primary tts.Provider, name string, cfg BreakerConfig) *TTSFallback {
	return &TTSFallback{group: NewGroup(primary, name, cfg)}
}

// AddFallback registers another synthesis backend.
func (f *TTSFallback) AddFallback(name string, p tts.Provider) {
	f.group.Add(name, p)
}

// Synthesize renders the fragment on the first healthy backend.
func (f *TTSFallback) Synthesize(ctx context.Context, text, language string) ([]byte, error) {
	return Do(f.group, func(p tts.Provider) ([]byte, error) {
		return p.Synthesize(ctx, text, language)
	})
}

// SynthesizeStream opens the fragment stream on the first healthy backend.
// As with [LLMFallback.StreamCompletion], failover covers only the opening.
func (f *TTSFallback) SynthesizeStream(ctx context.Context, text <-chan string) (<-chan []byte, error) {
	return Do(f.group, func(p tts.Provider) (<-chan []byte, error) {
		return p.SynthesizeStream(ctx, text)
	})
}
