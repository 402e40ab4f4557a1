package gateway

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/mentorverse/liplink/internal/engine"
	"github.com/mentorverse/liplink/internal/lipsync"
	"github.com/mentorverse/liplink/internal/rtc"
	"github.com/mentorverse/liplink/pkg/provider/codec"
)

// EncoderFactory builds a video encoder for the avatar's frame geometry.
type EncoderFactory func(width, height, fps int) (codec.Encoder, error)

// OpusFactory builds the audio encoder for one media session.
type OpusFactory func() (rtc.OpusEncoder, error)

// mediaSession ties one peer connection to one running lip-sync pipeline.
type mediaSession struct {
	peer     *rtc.Peer
	pipeline *lipsync.Pipeline
	latch    *rtc.SyncLatch
	enc      codec.Encoder
	cancel   context.CancelFunc
}

// startMedia spins up the full media path for an engine: tracks, peer
// connection, pipeline, and the two pacers. The session runs until close.
func (c *conn) startMedia(ctx context.Context, eng *engine.Engine) (*mediaSession, error) {
	if eng.Avatar == nil || eng.Info == nil || eng.Lipsync == nil {
		return nil, fmt.Errorf("gateway: tutor %d has no avatar loaded", eng.TutorID)
	}

	tracks, err := rtc.NewTracks(c.connectionID)
	if err != nil {
		return nil, err
	}
	peer, err := rtc.NewPeer(c.h.transport, tracks)
	if err != nil {
		return nil, err
	}

	latch := rtc.NewSyncLatch()
	pipe, err := lipsync.NewPipeline(eng.Lipsync, eng.TTS, eng.Decoder, eng.Avatar, eng.Info,
		c.h.metrics, lipsync.Config{
			FPS:       c.h.fps,
			BatchSize: c.h.batchSize,
			Language:  c.h.language,
			TutorID:   eng.TutorID,
		}, latch.Trigger)
	if err != nil {
		_ = peer.Close()
		return nil, err
	}

	frame := eng.Avatar.Frames[0]
	videoEnc, err := c.h.newEncoder(frame.Width, frame.Height, c.h.fps)
	if err != nil {
		_ = peer.Close()
		return nil, err
	}
	opusEnc, err := c.h.newOpus()
	if err != nil {
		_ = videoEnc.Close()
		_ = peer.Close()
		return nil, err
	}

	mediaCtx, cancel := context.WithCancel(ctx)
	pipe.Start(mediaCtx)

	go func() {
		if err := tracks.StreamVideo(mediaCtx, pipe.VideoOut, videoEnc, latch); err != nil && mediaCtx.Err() == nil {
			slog.Warn("video pacer stopped", "connection_id", c.connectionID, "err", err)
		}
	}()
	go func() {
		if err := tracks.StreamAudio(mediaCtx, pipe.AudioOut, opusEnc, latch); err != nil && mediaCtx.Err() == nil {
			slog.Warn("audio pacer stopped", "connection_id", c.connectionID, "err", err)
		}
	}()

	return &mediaSession{
		peer:     peer,
		pipeline: pipe,
		latch:    latch,
		enc:      videoEnc,
		cancel:   cancel,
	}, nil
}

// idleClip encodes the avatar's full idle cycle into one compressed clip and
// caches the result per tutor. The clip is the inline-video reply to init,
// giving the client moving video before any media negotiation.
func (h *Handler) idleClip(eng *engine.Engine) ([]byte, error) {
	if eng.Avatar == nil || eng.Avatar.CycleLength() == 0 {
		return nil, fmt.Errorf("gateway: tutor %d has no avatar loaded", eng.TutorID)
	}
	if v, ok := h.idleClips.Load(eng.TutorID); ok {
		return v.([]byte), nil
	}
	if h.newEncoder == nil {
		return nil, fmt.Errorf("gateway: no video encoder configured")
	}

	frame := eng.Avatar.Frames[0]
	enc, err := h.newEncoder(frame.Width, frame.Height, h.fps)
	if err != nil {
		return nil, err
	}
	defer func() { _ = enc.Close() }()

	var clip []byte
	for _, f := range eng.Avatar.Frames {
		payload, err := enc.Encode(f)
		if err != nil {
			return nil, err
		}
		clip = append(clip, payload...)
	}
	h.idleClips.Store(eng.TutorID, clip)
	return clip, nil
}

// close tears the media path down in dependency order.
func (m *mediaSession) close() {
	m.cancel()
	m.pipeline.Stop()
	if err := m.enc.Close(); err != nil {
		slog.Debug("encoder close", "err", err)
	}
	if err := m.peer.Close(); err != nil {
		slog.Debug("peer close", "err", err)
	}
}
