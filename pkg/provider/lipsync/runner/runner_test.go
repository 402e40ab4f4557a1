package runner

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// startFakeRunner launches a shell script standing in for the Python runner.
// Every script must print the ready line before anything else.
func startFakeRunner(t *testing.T, script string) *Engine {
	t.Helper()
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "runner.sh"), []byte(script), 0o755); err != nil {
		t.Fatalf("write script: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	e, err := Start(ctx, Config{
		MuseTalkBase: dir,
		Python:       "sh",
		Script:       "runner.sh",
	})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() { _ = e.Close() })
	return e
}

func TestRoundTrip_FailsFastWhenRunnerDies(t *testing.T) {
	t.Parallel()
	// The fake answers the ready handshake, then dies on the first request
	// without replying.
	e := startFakeRunner(t, `#!/bin/sh
echo '{"id":0,"ok":true}'
read line
exit 1
`)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	start := time.Now()
	_, err := e.LoadAvatar(ctx, "avatars/tutor_7")
	if err == nil {
		t.Fatal("LoadAvatar succeeded against a dead runner")
	}
	if !strings.Contains(err.Error(), "runner exited") {
		t.Errorf("err = %v, want the exit reported", err)
	}
	// The failure must come from the death signal, not the 30 s deadline.
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Errorf("round trip took %v to fail", elapsed)
	}
}

func TestRoundTrip_AnswersBeforeExit(t *testing.T) {
	t.Parallel()
	// The fake answers one request and keeps its stdin open afterwards.
	e := startFakeRunner(t, `#!/bin/sh
echo '{"id":0,"ok":true}'
read line
echo '{"id":1,"ok":true,"cycle_length":1,"boxes":[[1,2,3,4]]}'
cat >/dev/null
`)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	info, err := e.LoadAvatar(ctx, "avatars/tutor_7")
	if err != nil {
		t.Fatalf("LoadAvatar: %v", err)
	}
	if info.CycleLength != 1 || len(info.Boxes) != 1 {
		t.Errorf("info = %+v", info)
	}
	if info.Boxes[0].X2 != 3 || info.Boxes[0].Y2 != 4 {
		t.Errorf("box = %+v", info.Boxes[0])
	}
}

func TestClose_ReapsSubprocess(t *testing.T) {
	t.Parallel()
	e := startFakeRunner(t, `#!/bin/sh
echo '{"id":0,"ok":true}'
cat >/dev/null
`)

	if err := e.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	// Close is idempotent.
	if err := e.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}

	// With the child gone, new round trips fail immediately on the closed
	// stdin pipe.
	if _, err := e.LoadAvatar(context.Background(), "avatars/tutor_7"); err == nil {
		t.Error("LoadAvatar succeeded after Close")
	}
}
