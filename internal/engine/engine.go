// Package engine bundles the per-tutor collaborators (LLM, ASR, TTS,
// retrieval, neural lip-sync) behind a single handle and caches those handles
// by tutor ID, so concurrent connections to the same tutor share one set of
// loaded models.
package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/mentorverse/liplink/internal/lipsync"
	"github.com/mentorverse/liplink/internal/observe"
	"github.com/mentorverse/liplink/pkg/provider/asr"
	"github.com/mentorverse/liplink/pkg/provider/llm"
	prov "github.com/mentorverse/liplink/pkg/provider/lipsync"
	"github.com/mentorverse/liplink/pkg/provider/rag"
	"github.com/mentorverse/liplink/pkg/provider/tts"
)

// Engine is the loaded collaborator set for one tutor. Fields other than
// TutorID may be nil when the corresponding capability is disabled; the
// operations below degrade accordingly.
type Engine struct {
	TutorID int

	LLM     llm.Provider
	ASR     asr.Provider
	TTS     tts.Provider
	RAG     rag.Provider
	Lipsync prov.Engine

	// Avatar and Info hold the decoded frame cycle and the engine-reported
	// geometry for this tutor's avatar. Nil when video is disabled.
	Avatar *lipsync.Avatar
	Info   *prov.AvatarInfo

	// Decoder turns compressed TTS clips into PCM for the pipeline.
	Decoder lipsync.AudioDecoder

	// System is the tutor's persona prompt.
	System string

	// Model is the LLM model serving this tutor.
	Model string

	// Temperature and MaxTokens are passed through to the LLM.
	Temperature float64
	MaxTokens   int

	metrics *observe.Metrics
}

// Metrics returns the engine's metrics sink, falling back to the default.
func (e *Engine) Metrics() *observe.Metrics {
	if e.metrics == nil {
		e.metrics = observe.DefaultMetrics()
	}
	return e.metrics
}

// SetMetrics overrides the metrics sink. Intended for tests.
func (e *Engine) SetMetrics(m *observe.Metrics) { e.metrics = m }

// buildRequest assembles the LLM request: persona prompt, retrieved
// reference material, prior turns, and the new user message. kbID selects the
// session's knowledge base; empty uses the backend default.
func (e *Engine) buildRequest(ctx context.Context, history []llm.Message, studentID int, kbID, text string) llm.Request {
	system := e.System
	if e.RAG != nil {
		docs, err := e.RAG.Retrieve(ctx, text, kbID, studentID)
		if err != nil {
			observe.Logger(ctx).Warn("retrieval failed", "tutor_id", e.TutorID, "err", err)
		} else if ctxBlock := rag.FormatContext(docs); ctxBlock != "" {
			system = system + "\n\n" + ctxBlock
		}
	}

	msgs := make([]llm.Message, 0, len(history)+1)
	msgs = append(msgs, history...)
	msgs = append(msgs, llm.Message{Role: llm.RoleUser, Content: text})

	return llm.Request{
		System:      system,
		Messages:    msgs,
		Temperature: e.Temperature,
		MaxTokens:   e.MaxTokens,
	}
}

// RespondText produces a complete tutor reply for one user message. history
// holds the prior turns of this conversation in order.
func (e *Engine) RespondText(ctx context.Context, history []llm.Message, studentID int, kbID, text string) (string, error) {
	if e.LLM == nil {
		return "", fmt.Errorf("engine: tutor %d has no language model", e.TutorID)
	}

	req := e.buildRequest(ctx, history, studentID, kbID, text)

	start := time.Now()
	reply, err := e.LLM.Complete(ctx, req)
	e.Metrics().LLMDuration.Record(ctx, time.Since(start).Seconds())
	if err != nil {
		e.Metrics().RecordProviderError(ctx, e.Model, "llm")
		return "", fmt.Errorf("engine: tutor %d reply: %w", e.TutorID, err)
	}
	e.Metrics().RecordTutorReply(ctx, e.TutorID)
	return reply, nil
}

// RespondStream produces the tutor reply as a stream of sentence fragments,
// suitable for feeding the lip-sync pipeline as they arrive. The returned
// channel closes when the reply is complete or the stream fails.
func (e *Engine) RespondStream(ctx context.Context, history []llm.Message, studentID int, kbID, text string) (<-chan string, error) {
	if e.LLM == nil {
		return nil, fmt.Errorf("engine: tutor %d has no language model", e.TutorID)
	}

	req := e.buildRequest(ctx, history, studentID, kbID, text)

	start := time.Now()
	chunks, err := e.LLM.StreamCompletion(ctx, req)
	if err != nil {
		e.Metrics().RecordProviderError(ctx, e.Model, "llm")
		return nil, fmt.Errorf("engine: tutor %d stream: %w", e.TutorID, err)
	}

	out := make(chan string, 8)
	go func() {
		defer close(out)
		splitSentences(ctx, chunks, out)
		e.Metrics().LLMDuration.Record(ctx, time.Since(start).Seconds())
		e.Metrics().RecordTutorReply(ctx, e.TutorID)
	}()
	return out, nil
}

// Transcribe converts one utterance of 16 kHz mono s16le PCM into text.
func (e *Engine) Transcribe(ctx context.Context, pcm []byte, language string) (string, error) {
	if e.ASR == nil {
		return "", fmt.Errorf("engine: tutor %d has no speech recognition", e.TutorID)
	}
	start := time.Now()
	text, err := e.ASR.Transcribe(ctx, pcm, language)
	e.Metrics().ASRDuration.Record(ctx, time.Since(start).Seconds())
	if err != nil {
		e.Metrics().RecordProviderError(ctx, "whisper", "asr")
		return "", fmt.Errorf("engine: tutor %d transcribe: %w", e.TutorID, err)
	}
	return text, nil
}

// Close releases the engine's model state.
func (e *Engine) Close() error {
	if e.Lipsync != nil {
		if err := e.Lipsync.Close(); err != nil {
			return fmt.Errorf("engine: close tutor %d: %w", e.TutorID, err)
		}
	}
	return nil
}
