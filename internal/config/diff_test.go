package config_test

import (
	"testing"

	"github.com/mentorverse/liplink/internal/config"
)

func baseConfig() *config.Config {
	cfg := &config.Config{}
	cfg.Server.LogLevel = config.LogInfo
	cfg.LLM.DefaultModel = "qwen2.5:7b"
	cfg.Tutors = map[int]config.TutorConfig{
		1: {LLMModel: "llama3.1:8b"},
		2: {LLMModel: "mistral:7b"},
	}
	return cfg
}

func TestDiff_NoChanges(t *testing.T) {
	t.Parallel()
	old := baseConfig()
	new := baseConfig()

	d := config.Diff(old, new)
	if d.TutorsChanged || d.LogLevelChanged || d.DefaultModelChanged {
		t.Errorf("expected empty diff, got %+v", d)
	}
}

func TestDiff_LogLevel(t *testing.T) {
	t.Parallel()
	old := baseConfig()
	new := baseConfig()
	new.Server.LogLevel = config.LogDebug

	d := config.Diff(old, new)
	if !d.LogLevelChanged {
		t.Fatal("expected LogLevelChanged")
	}
	if d.NewLogLevel != config.LogDebug {
		t.Errorf("NewLogLevel: got %q, want %q", d.NewLogLevel, config.LogDebug)
	}
}

func TestDiff_DefaultModel(t *testing.T) {
	t.Parallel()
	old := baseConfig()
	new := baseConfig()
	new.LLM.DefaultModel = "llama3.1:70b"

	d := config.Diff(old, new)
	if !d.DefaultModelChanged {
		t.Error("expected DefaultModelChanged")
	}
}

func TestDiff_TutorModelChanged(t *testing.T) {
	t.Parallel()
	old := baseConfig()
	new := baseConfig()
	new.Tutors[1] = config.TutorConfig{LLMModel: "gemma2:9b"}

	d := config.Diff(old, new)
	if !d.TutorsChanged {
		t.Fatal("expected TutorsChanged")
	}
	if len(d.TutorChanges) != 1 {
		t.Fatalf("expected 1 tutor change, got %d", len(d.TutorChanges))
	}
	tc := d.TutorChanges[0]
	if tc.TutorID != 1 || !tc.ModelChanged {
		t.Errorf("unexpected tutor change: %+v", tc)
	}
}

func TestDiff_TutorAddedAndRemoved(t *testing.T) {
	t.Parallel()
	old := baseConfig()
	new := baseConfig()
	delete(new.Tutors, 2)
	new.Tutors[9] = config.TutorConfig{LLMModel: "phi3:14b"}

	d := config.Diff(old, new)
	if !d.TutorsChanged {
		t.Fatal("expected TutorsChanged")
	}

	var sawRemoved, sawAdded bool
	for _, tc := range d.TutorChanges {
		switch {
		case tc.TutorID == 2 && tc.Removed:
			sawRemoved = true
		case tc.TutorID == 9 && tc.Added:
			sawAdded = true
		}
	}
	if !sawRemoved {
		t.Error("expected a Removed diff for tutor 2")
	}
	if !sawAdded {
		t.Error("expected an Added diff for tutor 9")
	}
}
