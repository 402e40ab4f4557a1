package rtc

import (
	"context"
	"testing"
	"time"

	codecmock "github.com/mentorverse/liplink/pkg/provider/codec/mock"
	"github.com/mentorverse/liplink/pkg/types"
)

// stubOpus returns the raw little-endian PCM as the "encoded" payload.
type stubOpus struct {
	calls int
}

func (s *stubOpus) Encode(pcm []int16, frameSize, maxBytes int) ([]byte, error) {
	s.calls++
	return []byte{1, 2, 3}, nil
}

func TestStreamVideo_WaitsForLatch(t *testing.T) {
	t.Parallel()
	tracks, err := NewTracks("test")
	if err != nil {
		t.Fatalf("NewTracks: %v", err)
	}

	latch := NewSyncLatch()
	enc := &codecmock.Encoder{}
	frames := make(chan types.Image, 4)
	frames <- types.Image{Width: 2, Height: 2, Pix: make([]byte, 12)}

	done := make(chan error, 1)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { done <- tracks.StreamVideo(ctx, frames, enc, latch) }()

	// Nothing must be encoded while the latch is closed.
	time.Sleep(50 * time.Millisecond)
	if len(enc.EncodeCalls) != 0 {
		t.Fatal("frame encoded before latch fired")
	}

	latch.Trigger()
	close(frames)
	if err := <-done; err != nil {
		t.Fatalf("StreamVideo: %v", err)
	}
	if len(enc.EncodeCalls) != 1 {
		t.Errorf("encoded frames = %d, want 1", len(enc.EncodeCalls))
	}
}

func TestStreamVideo_DrainsUntilChannelCloses(t *testing.T) {
	t.Parallel()
	tracks, err := NewTracks("test")
	if err != nil {
		t.Fatalf("NewTracks: %v", err)
	}

	latch := NewSyncLatch()
	latch.Trigger()
	enc := &codecmock.Encoder{}

	frames := make(chan types.Image, 8)
	for range 5 {
		frames <- types.Image{Width: 2, Height: 2, Pix: make([]byte, 12)}
	}
	close(frames)

	if err := tracks.StreamVideo(context.Background(), frames, enc, latch); err != nil {
		t.Fatalf("StreamVideo: %v", err)
	}
	if len(enc.EncodeCalls) != 5 {
		t.Errorf("encoded frames = %d, want 5", len(enc.EncodeCalls))
	}
}

func TestStreamAudio_EncodesWholeOpusFrames(t *testing.T) {
	t.Parallel()
	tracks, err := NewTracks("test")
	if err != nil {
		t.Fatalf("NewTracks: %v", err)
	}

	latch := NewSyncLatch()
	latch.Trigger()
	enc := &stubOpus{}

	pcm := make(chan []float32, 4)
	pcm <- make([]float32, 320) // one 20 ms frame at 16 kHz
	pcm <- make([]float32, 320)
	close(pcm)

	if err := tracks.StreamAudio(context.Background(), pcm, enc, latch); err != nil {
		t.Fatalf("StreamAudio: %v", err)
	}
	if enc.calls != 2 {
		t.Errorf("opus encode calls = %d, want 2", enc.calls)
	}
}

func TestStreamVideo_CancelledContext(t *testing.T) {
	t.Parallel()
	tracks, err := NewTracks("test")
	if err != nil {
		t.Fatalf("NewTracks: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err = tracks.StreamVideo(ctx, make(chan types.Image), &codecmock.Encoder{}, NewSyncLatch())
	if err == nil {
		t.Error("expected context error while waiting on latch")
	}
}
