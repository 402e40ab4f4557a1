package lipsync

import "testing"

func TestFIFO_Ordering(t *testing.T) {
	t.Parallel()
	var q fifo[int]
	for i := range 5 {
		q.Put(i)
	}
	for i := range 5 {
		v, ok := q.TryGet()
		if !ok {
			t.Fatalf("TryGet %d: queue empty", i)
		}
		if v != i {
			t.Errorf("TryGet %d: got %d", i, v)
		}
	}
	if _, ok := q.TryGet(); ok {
		t.Error("TryGet on drained queue reported ok")
	}
}

func TestFIFO_Clear(t *testing.T) {
	t.Parallel()
	var q fifo[string]
	q.Put("a")
	q.Put("b")
	q.Clear()
	if q.Len() != 0 {
		t.Errorf("Len after Clear = %d, want 0", q.Len())
	}
}
