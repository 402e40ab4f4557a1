package engine

import (
	"context"
	"errors"
	"strings"
	"testing"

	asrmock "github.com/mentorverse/liplink/pkg/provider/asr/mock"
	"github.com/mentorverse/liplink/pkg/provider/llm"
	llmmock "github.com/mentorverse/liplink/pkg/provider/llm/mock"
	ragmock "github.com/mentorverse/liplink/pkg/provider/rag/mock"
	"github.com/mentorverse/liplink/pkg/types"
)

func TestRespondText_IncludesRetrievedContext(t *testing.T) {
	t.Parallel()
	llmProv := &llmmock.Provider{CompleteText: "the answer"}
	ragProv := &ragmock.Provider{Documents: []types.Document{
		{Content: "photosynthesis converts light to energy", Source: "bio.md"},
	}}

	e := &Engine{TutorID: 1, LLM: llmProv, RAG: ragProv, System: "You are a biology tutor."}

	reply, err := e.RespondText(context.Background(), nil, 42, "kb-bio", "how do plants eat?")
	if err != nil {
		t.Fatalf("RespondText: %v", err)
	}
	if reply != "the answer" {
		t.Errorf("reply = %q", reply)
	}

	if len(ragProv.RetrieveCalls) != 1 {
		t.Fatalf("retrieve calls = %d, want 1", len(ragProv.RetrieveCalls))
	}
	if got := ragProv.RetrieveCalls[0]; got.KBID != "kb-bio" || got.UserID != 42 {
		t.Errorf("retrieve scope = kb %q user %d", got.KBID, got.UserID)
	}

	if len(llmProv.CompleteCalls) != 1 {
		t.Fatalf("complete calls = %d, want 1", len(llmProv.CompleteCalls))
	}
	req := llmProv.CompleteCalls[0].Req
	if !strings.Contains(req.System, "photosynthesis") {
		t.Error("retrieved document missing from system prompt")
	}
	if !strings.Contains(req.System, "biology tutor") {
		t.Error("persona missing from system prompt")
	}
}

func TestRespondText_RetrievalFailureIsNotFatal(t *testing.T) {
	t.Parallel()
	llmProv := &llmmock.Provider{CompleteText: "reply"}
	ragProv := &ragmock.Provider{Err: errors.New("index offline")}

	e := &Engine{TutorID: 1, LLM: llmProv, RAG: ragProv, System: "persona"}

	reply, err := e.RespondText(context.Background(), nil, 1, "", "question")
	if err != nil {
		t.Fatalf("RespondText: %v", err)
	}
	if reply != "reply" {
		t.Errorf("reply = %q", reply)
	}
	if got := llmProv.CompleteCalls[0].Req.System; got != "persona" {
		t.Errorf("system prompt = %q, want bare persona", got)
	}
}

func TestRespondText_CarriesHistory(t *testing.T) {
	t.Parallel()
	llmProv := &llmmock.Provider{CompleteText: "ok"}
	e := &Engine{TutorID: 1, LLM: llmProv}

	history := []llm.Message{
		{Role: llm.RoleUser, Content: "first"},
		{Role: llm.RoleAssistant, Content: "second"},
	}
	if _, err := e.RespondText(context.Background(), history, 1, "", "third"); err != nil {
		t.Fatalf("RespondText: %v", err)
	}

	msgs := llmProv.CompleteCalls[0].Req.Messages
	if len(msgs) != 3 {
		t.Fatalf("messages = %d, want 3", len(msgs))
	}
	if msgs[2].Content != "third" || msgs[2].Role != llm.RoleUser {
		t.Errorf("last message = %+v", msgs[2])
	}
}

func TestRespondText_NoLLM(t *testing.T) {
	t.Parallel()
	e := &Engine{TutorID: 5}
	if _, err := e.RespondText(context.Background(), nil, 1, "", "hi"); err == nil {
		t.Error("expected error for tutor without language model")
	}
}

func TestRespondStream_EmitsSentenceFragments(t *testing.T) {
	t.Parallel()
	llmProv := &llmmock.Provider{StreamChunks: []llm.Chunk{
		{Text: "The mitochondria is"},
		{Text: " the powerhouse of the cell. It also"},
		{Text: " makes ATP", FinishReason: "stop"},
	}}
	e := &Engine{TutorID: 1, LLM: llmProv}

	out, err := e.RespondStream(context.Background(), nil, 1, "", "tell me")
	if err != nil {
		t.Fatalf("RespondStream: %v", err)
	}

	var got []string
	for s := range out {
		got = append(got, s)
	}
	if len(got) != 2 {
		t.Fatalf("fragments = %q, want 2", got)
	}
	if got[0] != "The mitochondria is the powerhouse of the cell." {
		t.Errorf("first fragment = %q", got[0])
	}
	if got[1] != "It also makes ATP" {
		t.Errorf("trailing fragment = %q", got[1])
	}
}

func TestTranscribe(t *testing.T) {
	t.Parallel()
	asrProv := &asrmock.Provider{Text: "hello world"}
	e := &Engine{TutorID: 1, ASR: asrProv}

	text, err := e.Transcribe(context.Background(), []byte{1, 2, 3, 4}, "en")
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if text != "hello world" {
		t.Errorf("text = %q", text)
	}
	if len(asrProv.TranscribeCalls) != 1 {
		t.Errorf("transcribe calls = %d, want 1", len(asrProv.TranscribeCalls))
	}
}
