package rtc

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
	"layeh.com/gopus"

	"github.com/mentorverse/liplink/pkg/audio"
	"github.com/mentorverse/liplink/pkg/provider/codec"
	"github.com/mentorverse/liplink/pkg/types"
)

const (
	videoFrameDuration = 40 * time.Millisecond // 25 fps
	audioFrameDuration = 20 * time.Millisecond

	opusSampleRate = 48000
	// 20 ms at 48 kHz.
	opusFrameSize = 960
	opusMaxBytes  = 4000
)

// OpusEncoder compresses one 20 ms PCM frame. *gopus.Encoder satisfies this;
// tests substitute a stub.
type OpusEncoder interface {
	Encode(pcm []int16, frameSize, maxBytes int) ([]byte, error)
}

// NewOpusEncoder returns a mono 48 kHz Opus encoder.
func NewOpusEncoder() (OpusEncoder, error) {
	enc, err := gopus.NewEncoder(opusSampleRate, 1, gopus.Audio)
	if err != nil {
		return nil, fmt.Errorf("rtc: opus encoder: %w", err)
	}
	return enc, nil
}

// Tracks is the sample-track pair for one peer connection.
type Tracks struct {
	Video *webrtc.TrackLocalStaticSample
	Audio *webrtc.TrackLocalStaticSample
}

// NewTracks creates the VP8 video and Opus audio tracks sharing one stream ID.
func NewTracks(streamID string) (*Tracks, error) {
	video, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8, ClockRate: 90000},
		"video", streamID,
	)
	if err != nil {
		return nil, fmt.Errorf("rtc: create video track: %w", err)
	}
	audioTrack, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: opusSampleRate, Channels: 1},
		"audio", streamID,
	)
	if err != nil {
		return nil, fmt.Errorf("rtc: create audio track: %w", err)
	}
	return &Tracks{Video: video, Audio: audioTrack}, nil
}

// StreamVideo encodes and paces frames onto the video track. Playback holds
// until the latch fires; frame n is then due at T0+n*40ms, so late frames are
// sent immediately and early frames wait. Returns when frames closes or ctx
// is cancelled.
func (t *Tracks) StreamVideo(ctx context.Context, frames <-chan types.Image, enc codec.Encoder, latch *SyncLatch) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-latch.Done():
	}
	t0, _ := latch.T0()

	n := 0
	for {
		var frame types.Image
		var ok bool
		select {
		case <-ctx.Done():
			return ctx.Err()
		case frame, ok = <-frames:
			if !ok {
				return nil
			}
		}

		payload, err := enc.Encode(frame)
		if err != nil {
			slog.Warn("video encode failed", "err", err)
			n++
			continue
		}

		waitUntil(ctx, t0.Add(time.Duration(n)*videoFrameDuration))
		// WriteSample errors only surface before any peer is bound.
		if err := t.Video.WriteSample(media.Sample{Data: payload, Duration: videoFrameDuration}); err != nil {
			slog.Debug("video sample dropped", "err", err)
		}
		n++
	}
}

// StreamAudio resamples, Opus-encodes, and paces 20 ms PCM frames onto the
// audio track against the same latch instant as the video pacer.
func (t *Tracks) StreamAudio(ctx context.Context, pcmFrames <-chan []float32, enc OpusEncoder, latch *SyncLatch) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-latch.Done():
	}
	t0, _ := latch.T0()

	n := 0
	for {
		var pcm []float32
		var ok bool
		select {
		case <-ctx.Done():
			return ctx.Err()
		case pcm, ok = <-pcmFrames:
			if !ok {
				return nil
			}
		}

		resampled := audio.ResampleMonoFloat32(pcm, asrSampleRate, opusSampleRate)
		pcm16 := audio.Float32ToInt16s(resampled)
		if len(pcm16) != opusFrameSize {
			// Pad or trim to a whole Opus frame.
			fixed := make([]int16, opusFrameSize)
			copy(fixed, pcm16)
			pcm16 = fixed
		}

		payload, err := enc.Encode(pcm16, opusFrameSize, opusMaxBytes)
		if err != nil {
			slog.Warn("opus encode failed", "err", err)
			n++
			continue
		}

		waitUntil(ctx, t0.Add(time.Duration(n)*audioFrameDuration))
		if err := t.Audio.WriteSample(media.Sample{Data: payload, Duration: audioFrameDuration}); err != nil {
			slog.Debug("audio sample dropped", "err", err)
		}
		n++
	}
}

// asrSampleRate is the pipeline's PCM rate.
const asrSampleRate = 16000

// waitUntil sleeps until the deadline, returning early on cancellation.
func waitUntil(ctx context.Context, due time.Time) {
	d := time.Until(due)
	if d <= 0 {
		return
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
