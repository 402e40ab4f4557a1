// Package edge provides a tts.Provider backed by an edge-tts compatible HTTP
// speech service. The service accepts a JSON synthesis request and responds
// with MP3 audio.
//
// Usage:
//
//	p, err := edge.New("http://localhost:5002",
//	    edge.WithVoice("zh-CN-XiaoxiaoNeural"),
//	    edge.WithRate("+10%"),
//	)
package edge

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/mentorverse/liplink/pkg/provider/tts"
)

const defaultVoice = "en-US-AriaNeural"

// Compile-time assertion that Provider implements tts.Provider.
var _ tts.Provider = (*Provider)(nil)

// Option is a functional option for configuring a Provider.
type Option func(*Provider)

// WithVoice sets the synthesis voice identifier. Defaults to "en-US-AriaNeural".
func WithVoice(voice string) Option {
	return func(p *Provider) { p.voice = voice }
}

// WithRate sets the speaking-speed adjustment as a signed percentage,
// e.g. "+20%" or "-10%".
func WithRate(rate string) Option {
	return func(p *Provider) { p.rate = rate }
}

// WithPitch sets the pitch adjustment as a signed frequency offset,
// e.g. "+5Hz".
func WithPitch(pitch string) Option {
	return func(p *Provider) { p.pitch = pitch }
}

// WithHTTPClient overrides the HTTP client, mainly for tests.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) { p.httpClient = c }
}

// Provider implements tts.Provider against an edge-tts HTTP service.
type Provider struct {
	serverURL  string
	voice      string
	rate       string
	pitch      string
	httpClient *http.Client
}

// New creates a Provider that connects to the speech service at serverURL.
func New(serverURL string, opts ...Option) (*Provider, error) {
	if serverURL == "" {
		return nil, errors.New("edge: serverURL must not be empty")
	}
	p := &Provider{
		serverURL:  serverURL,
		voice:      defaultVoice,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// synthesisRequest is the JSON body of a synthesis call.
type synthesisRequest struct {
	Text     string `json:"text"`
	Voice    string `json:"voice"`
	Rate     string `json:"rate,omitempty"`
	Pitch    string `json:"pitch,omitempty"`
	Language string `json:"language,omitempty"`
}

// Synthesize implements tts.Provider.
func (p *Provider) Synthesize(ctx context.Context, text, language string) ([]byte, error) {
	if text == "" {
		return nil, nil
	}

	body, err := json.Marshal(synthesisRequest{
		Text:     text,
		Voice:    p.voice,
		Rate:     p.rate,
		Pitch:    p.pitch,
		Language: language,
	})
	if err != nil {
		return nil, fmt.Errorf("edge: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.serverURL+"/api/tts", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("edge: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("edge: http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("edge: server returned HTTP %d", resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("edge: read response body: %w", err)
	}
	return data, nil
}

// SynthesizeStream implements tts.Provider. Each incoming fragment is
// synthesised independently; fragments that fail are logged and skipped so
// one bad sentence does not kill the whole reply.
func (p *Provider) SynthesizeStream(ctx context.Context, text <-chan string) (<-chan []byte, error) {
	out := make(chan []byte, 4)
	go func() {
		defer close(out)
		for t := range text {
			clip, err := p.Synthesize(ctx, t, "")
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				slog.Warn("edge: fragment synthesis failed, skipping", "err", err)
				continue
			}
			if len(clip) == 0 {
				continue
			}
			select {
			case out <- clip:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}
