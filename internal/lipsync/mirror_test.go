package lipsync

import "testing"

func TestMirrorIndex_SweepsBackAndForth(t *testing.T) {
	t.Parallel()
	want := []int{0, 1, 2, 3, 3, 2, 1, 0, 0, 1}
	for i, w := range want {
		if got := MirrorIndex(4, i); got != w {
			t.Errorf("MirrorIndex(4, %d) = %d, want %d", i, got, w)
		}
	}
}

func TestMirrorIndex_SingleFrame(t *testing.T) {
	t.Parallel()
	for i := range 5 {
		if got := MirrorIndex(1, i); got != 0 {
			t.Errorf("MirrorIndex(1, %d) = %d, want 0", i, got)
		}
	}
}

func TestMirrorIndex_ZeroSize(t *testing.T) {
	t.Parallel()
	if got := MirrorIndex(0, 3); got != 0 {
		t.Errorf("MirrorIndex(0, 3) = %d, want 0", got)
	}
}
