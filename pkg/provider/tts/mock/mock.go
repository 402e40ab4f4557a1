// Package mock provides a test double for the tts.Provider interface.
//
// By default Synthesize returns a short deterministic WAV tone so pipeline
// tests have decodable audio without a speech service. Set Clip to override.
package mock

import (
	"context"
	"math"
	"sync"

	"github.com/mentorverse/liplink/pkg/audio"
	"github.com/mentorverse/liplink/pkg/provider/tts"
)

// SynthesizeCall records a single invocation of Synthesize.
type SynthesizeCall struct {
	Ctx      context.Context
	Text     string
	Language string
}

// Provider is a mock implementation of tts.Provider.
type Provider struct {
	mu sync.Mutex

	// Clip, when non-nil, is returned by Synthesize and emitted per fragment
	// by SynthesizeStream. When nil a deterministic 200 ms 440 Hz WAV tone
	// is used instead.
	Clip []byte

	// Err, if non-nil, is returned as the error from Synthesize.
	Err error

	// SynthesizeCalls records every invocation of Synthesize in order.
	SynthesizeCalls []SynthesizeCall

	// StreamTexts records every fragment consumed by SynthesizeStream.
	StreamTexts []string
}

// Synthesize records the call and returns the configured clip.
func (p *Provider) Synthesize(ctx context.Context, text, language string) ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.SynthesizeCalls = append(p.SynthesizeCalls, SynthesizeCall{Ctx: ctx, Text: text, Language: language})
	if p.Err != nil {
		return nil, p.Err
	}
	return p.clip(), nil
}

// SynthesizeStream emits one clip per consumed text fragment.
func (p *Provider) SynthesizeStream(ctx context.Context, text <-chan string) (<-chan []byte, error) {
	out := make(chan []byte, 4)
	go func() {
		defer close(out)
		for t := range text {
			p.mu.Lock()
			p.StreamTexts = append(p.StreamTexts, t)
			clip := p.clip()
			p.mu.Unlock()

			select {
			case out <- clip:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

func (p *Provider) clip() []byte {
	if p.Clip != nil {
		c := make([]byte, len(p.Clip))
		copy(c, p.Clip)
		return c
	}
	return ToneWAV(200, 440)
}

// ToneWAV generates a mono 16 kHz sine tone WAV of the given duration in
// milliseconds and frequency in Hz.
func ToneWAV(durationMs int, freq float64) []byte {
	n := 16000 * durationMs / 1000
	samples := make([]int16, n)
	for i := range samples {
		samples[i] = int16(8000 * math.Sin(2*math.Pi*freq*float64(i)/16000))
	}
	return audio.EncodeWAV(samples, 16000)
}

// Reset clears all recorded calls. Thread-safe.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.SynthesizeCalls = nil
	p.StreamTexts = nil
}

// Ensure Provider implements tts.Provider at compile time.
var _ tts.Provider = (*Provider)(nil)
