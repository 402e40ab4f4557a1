package main

import (
	"context"
	"testing"

	"github.com/mentorverse/liplink/internal/config"
	"github.com/mentorverse/liplink/pkg/audio"
	asrmock "github.com/mentorverse/liplink/pkg/provider/asr/mock"
	lipsyncmock "github.com/mentorverse/liplink/pkg/provider/lipsync/mock"
	llmmock "github.com/mentorverse/liplink/pkg/provider/llm/mock"
	ragmock "github.com/mentorverse/liplink/pkg/provider/rag/mock"
	ttsmock "github.com/mentorverse/liplink/pkg/provider/tts/mock"
)

func TestBuildSharedProviders_DisabledGatesUseMocks(t *testing.T) {
	t.Parallel()
	s, err := buildSharedProviders(&config.Config{})
	if err != nil {
		t.Fatalf("buildSharedProviders: %v", err)
	}
	if _, ok := s.asr.(*asrmock.Provider); !ok {
		t.Errorf("asr = %T, want mock provider", s.asr)
	}
	if _, ok := s.tts.(*ttsmock.Provider); !ok {
		t.Errorf("tts = %T, want mock provider", s.tts)
	}
	if _, ok := s.rag.(*ragmock.Provider); !ok {
		t.Errorf("rag = %T, want mock provider", s.rag)
	}
}

func TestEngineFactory_DisabledGatesUseMocks(t *testing.T) {
	t.Parallel()
	cfg := &config.Config{}
	shared, err := buildSharedProviders(cfg)
	if err != nil {
		t.Fatalf("buildSharedProviders: %v", err)
	}

	ctx := context.Background()
	eng, err := engineFactory(cfg, shared)(ctx, 7)
	if err != nil {
		t.Fatalf("engineFactory: %v", err)
	}

	if _, ok := eng.LLM.(*llmmock.Provider); !ok {
		t.Errorf("llm = %T, want mock provider", eng.LLM)
	}
	if _, ok := eng.Lipsync.(*lipsyncmock.Engine); !ok {
		t.Errorf("lipsync = %T, want mock engine", eng.Lipsync)
	}
	if _, ok := eng.Decoder.(audio.WAVDecoder); !ok {
		t.Errorf("decoder = %T, want WAV decoder", eng.Decoder)
	}
	if eng.Avatar == nil || eng.Info == nil {
		t.Fatal("mock media stack not attached")
	}
	if eng.Avatar.CycleLength() != eng.Info.CycleLength {
		t.Errorf("frame cycle %d does not match runner info %d",
			eng.Avatar.CycleLength(), eng.Info.CycleLength)
	}

	// The full text path works end to end on mocks alone.
	reply, err := eng.RespondText(ctx, nil, 0, "", "hi")
	if err != nil {
		t.Fatalf("RespondText: %v", err)
	}
	if reply != mockReply {
		t.Errorf("reply = %q, want the canned mock answer", reply)
	}
}
