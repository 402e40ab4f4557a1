// Package whisper provides whisper.cpp-backed ASR providers.
//
// Two variants exist: [Provider] talks to a running whisper-server binary
// (REST API at POST /inference), and [NativeProvider] loads the model
// in-process through the whisper.cpp CGO bindings.
//
// Usage:
//
//	p, err := whisper.New("http://localhost:8080", whisper.WithLanguage("en"))
//	text, err := p.Transcribe(ctx, pcm, "")
package whisper

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/mentorverse/liplink/pkg/audio"
	"github.com/mentorverse/liplink/pkg/provider/asr"
)

const defaultLanguage = "en"

// Compile-time assertion that Provider implements asr.Provider.
var _ asr.Provider = (*Provider)(nil)

// Option is a functional option for configuring a Provider.
type Option func(*Provider)

// WithModel sets the model identifier forwarded to the whisper-server
// (e.g., "base.en", "small"). When empty the server uses whichever model it
// was started with.
func WithModel(model string) Option {
	return func(p *Provider) { p.model = model }
}

// WithLanguage sets the default BCP-47 language code. Defaults to "en".
func WithLanguage(lang string) Option {
	return func(p *Provider) { p.language = lang }
}

// WithHTTPClient overrides the HTTP client, mainly for tests.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) { p.httpClient = c }
}

// Provider implements asr.Provider backed by a whisper-server HTTP instance.
type Provider struct {
	serverURL  string
	model      string
	language   string
	httpClient *http.Client
}

// New creates a Provider that connects to the whisper-server at serverURL
// (e.g., "http://localhost:8080").
func New(serverURL string, opts ...Option) (*Provider, error) {
	if serverURL == "" {
		return nil, errors.New("whisper: serverURL must not be empty")
	}
	p := &Provider{
		serverURL:  serverURL,
		language:   defaultLanguage,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Transcribe encodes pcm as WAV and POSTs it to the /inference endpoint as
// multipart/form-data.
func (p *Provider) Transcribe(ctx context.Context, pcm []byte, language string) (string, error) {
	if len(pcm) == 0 {
		return "", nil
	}
	if language == "" {
		language = p.language
	}

	wav := audio.EncodeWAV(audio.BytesToInt16s(pcm), asr.SampleRate)

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	fw, err := mw.CreateFormFile("file", "audio.wav")
	if err != nil {
		return "", fmt.Errorf("whisper: create form file: %w", err)
	}
	if _, err := fw.Write(wav); err != nil {
		return "", fmt.Errorf("whisper: write wav data: %w", err)
	}
	if err := mw.WriteField("language", language); err != nil {
		return "", fmt.Errorf("whisper: write language field: %w", err)
	}
	if p.model != "" {
		if err := mw.WriteField("model", p.model); err != nil {
			return "", fmt.Errorf("whisper: write model field: %w", err)
		}
	}
	if err := mw.Close(); err != nil {
		return "", fmt.Errorf("whisper: close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.serverURL+"/inference", &body)
	if err != nil {
		return "", fmt.Errorf("whisper: create request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("whisper: http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("whisper: server returned HTTP %d", resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("whisper: read response body: %w", err)
	}

	var result struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(data, &result); err != nil {
		return "", fmt.Errorf("whisper: parse JSON response: %w", err)
	}
	return result.Text, nil
}
