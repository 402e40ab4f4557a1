package features_test

import (
	"testing"

	"github.com/mentorverse/liplink/pkg/provider/features"
)

// rows builds n feature rows where row i carries the value i in position 0.
func rows(n int) [][]float32 {
	out := make([][]float32, n)
	for i := range out {
		out[i] = []float32{float32(i)}
	}
	return out
}

func TestSliceFeature_WindowSize(t *testing.T) {
	t.Parallel()
	window := features.SliceFeature(rows(100), 10, 25)
	// 2 rows per frame across left context + target + right context.
	want := (features.ContextLeft + features.ContextRight + 1) * 2
	if len(window) != want {
		t.Fatalf("window size: got %d, want %d", len(window), want)
	}
}

func TestSliceFeature_CenterAlignment(t *testing.T) {
	t.Parallel()
	window := features.SliceFeature(rows(100), 10, 25)
	// Frame 10 at 25 fps maps to feature row 20; the window starts
	// ContextLeft*2 rows earlier.
	if got := window[0][0]; got != 16 {
		t.Errorf("first row: got %v, want 16", got)
	}
	if got := window[len(window)-1][0]; got != 25 {
		t.Errorf("last row: got %v, want 25", got)
	}
}

func TestSliceFeature_EdgeReplication(t *testing.T) {
	t.Parallel()
	window := features.SliceFeature(rows(10), 0, 25)
	// Frame 0 centres on row 0; the left context is clamped to row 0.
	for i := 0; i < features.ContextLeft*2; i++ {
		if window[i][0] != 0 {
			t.Errorf("left-clamped row %d: got %v, want 0", i, window[i][0])
		}
	}

	window = features.SliceFeature(rows(10), 100, 25)
	// Far past the end every row clamps to the last one.
	for i, r := range window {
		if r[0] != 9 {
			t.Errorf("right-clamped row %d: got %v, want 9", i, r[0])
		}
	}
}

func TestFeature2Chunks_OneChunkPerFrame(t *testing.T) {
	t.Parallel()
	chunks := features.Feature2Chunks(rows(100), 25, 8, 2)
	if len(chunks) != 8 {
		t.Fatalf("chunks: got %d, want 8", len(chunks))
	}
	// Chunk i is the window for frame i+start; consecutive frames at 25 fps
	// advance the centre by 2 rows.
	c0 := chunks[0]
	c1 := chunks[1]
	if c1[0][0] != c0[0][0]+2 {
		t.Errorf("consecutive chunk starts: got %v then %v, want +2", c0[0][0], c1[0][0])
	}
}

func TestSliceFeature_EmptyFeatures(t *testing.T) {
	t.Parallel()
	if window := features.SliceFeature(nil, 0, 25); window != nil {
		t.Errorf("empty features should yield nil window, got %d rows", len(window))
	}
}
