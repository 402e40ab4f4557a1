package gateway

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"

	"github.com/mentorverse/liplink/internal/engine"
	"github.com/mentorverse/liplink/internal/session"
	"github.com/mentorverse/liplink/pkg/provider/llm"
	"github.com/mentorverse/liplink/pkg/types"
)

// handleMessage dispatches one client envelope. All failures are reported to
// the client as error envelopes; the connection itself stays up.
func (c *conn) handleMessage(ctx context.Context, msg types.ClientMessage) {
	cv, err := c.resolveConvo(msg)
	if err != nil {
		c.sendError(ctx, err.Error())
		return
	}
	if cv.sess != nil {
		c.h.registry.Touch(cv.sess.ID)
	}

	switch msg.Type {
	case types.MsgInit:
		c.handleInit(ctx, cv)
	case types.MsgText:
		c.handleText(ctx, cv, msg.Content)
	case types.MsgTextWebRTC:
		c.handleTextWebRTC(ctx, cv, msg)
	case types.MsgAudio:
		c.handleAudio(ctx, cv, msg)
	case types.MsgWebRTCOffer:
		c.handleOffer(ctx, cv, msg)
	case types.MsgWebRTCCandidate:
		c.handleCandidate(ctx, msg)
	default:
		c.sendError(ctx, fmt.Sprintf("Unsupported message type: %s", msg.Type))
	}
}

// resolveConvo picks the conversation context for a message. Session-scoped
// connections always use their own session. User-scoped connections select a
// context via engine_session_id, fall back to the token's session when one
// was presented, and in sessionless mode resolve the engine straight from the
// message's tutor_id.
func (c *conn) resolveConvo(msg types.ClientMessage) (*convo, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.userScoped {
		return c.contextLocked(c.sess.ID, c.sess, 0), nil
	}

	if id := msg.EngineSessionID; id != "" {
		if cv, ok := c.contexts[id]; ok {
			return cv, nil
		}
		target, err := c.h.registry.Get(id)
		if err != nil {
			return nil, fmt.Errorf("Invalid engine_session_id: %s", id)
		}
		cv := c.contextLocked(id, target, 0)
		slog.Info("session context created", "connection_id", c.connectionID, "engine_session_id", id)
		return cv, nil
	}

	if c.sess != nil {
		return c.contextLocked(c.sess.ID, c.sess, 0), nil
	}

	if msg.TutorID > 0 {
		return c.contextLocked(fmt.Sprintf("tutor:%d", msg.TutorID), nil, msg.TutorID), nil
	}
	if msg.Type == types.MsgWebRTCCandidate {
		// Candidates act on the live media session and need no engine.
		return &convo{}, nil
	}
	return nil, errors.New("tutor_id is required in sessionless mode")
}

// contextLocked returns the conversation context stored under key, creating
// it on first use. Callers hold c.mu.
func (c *conn) contextLocked(key string, sess *session.Session, tutorID int) *convo {
	cv, ok := c.contexts[key]
	if !ok {
		cv = &convo{sess: sess, tutorID: tutorID}
		c.contexts[key] = cv
	}
	return cv
}

// handleInit replies with one inline clip of the avatar's idle cycle, loading
// the tutor engine as a side effect so the first real message does not pay
// the model load.
func (c *conn) handleInit(ctx context.Context, cv *convo) {
	eng, err := c.h.engines.Get(ctx, cv.tutor())
	if err != nil {
		slog.Warn("engine warm failed", "tutor_id", cv.tutor(), "err", err)
		c.sendError(ctx, "Tutor engine unavailable")
		return
	}

	clip, err := c.h.idleClip(eng)
	if err != nil {
		slog.Warn("idle clip unavailable", "tutor_id", cv.tutor(), "err", err)
		c.sendError(ctx, "No avatar video for this tutor")
		return
	}
	if err := c.send.Send(ctx, types.ServerMessage{
		Type:      types.MsgVideo,
		Video:     base64.StdEncoding.EncodeToString(clip),
		Timestamp: timestamp(),
	}); err != nil {
		slog.Debug("idle clip send failed", "err", err)
	}
}

// handleText runs the plain request/response path: one user message in, one
// complete reply out, with an inline audio clip when configured.
func (c *conn) handleText(ctx context.Context, cv *convo, content string) {
	if content == "" {
		c.sendError(ctx, "content is required")
		return
	}

	eng, err := c.h.engines.Get(ctx, cv.tutor())
	if err != nil {
		c.sendError(ctx, "Tutor engine unavailable")
		return
	}

	reply, err := eng.RespondText(ctx, cv.history, cv.student(), cv.kb(), content)
	if err != nil {
		slog.Warn("reply failed", "connection_id", c.connectionID, "err", err)
		c.sendError(ctx, "Failed to generate a reply")
		return
	}
	c.recordTurn(cv, content, reply)

	out := types.ServerMessage{
		Type:      types.MsgText,
		Role:      "assistant",
		Content:   reply,
		Timestamp: timestamp(),
	}
	if c.h.inlineAudio && eng.TTS != nil {
		if clip, err := eng.TTS.Synthesize(ctx, reply, c.h.language); err != nil {
			slog.Warn("inline audio synthesis failed", "connection_id", c.connectionID, "err", err)
		} else {
			out.Audio = base64.StdEncoding.EncodeToString(clip)
		}
	}
	if err := c.send.Send(ctx, out); err != nil {
		slog.Debug("reply send failed", "err", err)
	}
}

// handleTextWebRTC streams the reply through the lip-sync pipeline when a
// media session is live, falling back to the plain text path otherwise.
func (c *conn) handleTextWebRTC(ctx context.Context, cv *convo, msg types.ClientMessage) {
	c.mu.Lock()
	media := c.media
	c.mu.Unlock()

	if media == nil {
		c.handleText(ctx, cv, msg.Content)
		return
	}
	if msg.Content == "" {
		c.sendError(ctx, "content is required")
		return
	}

	eng, err := c.h.engines.Get(ctx, cv.tutor())
	if err != nil {
		c.sendError(ctx, "Tutor engine unavailable")
		return
	}

	fragments, err := eng.RespondStream(ctx, cv.history, cv.student(), cv.kb(), msg.Content)
	if err != nil {
		slog.Warn("streamed reply failed", "connection_id", c.connectionID, "err", err)
		c.sendError(ctx, "Failed to generate a reply")
		return
	}

	var full string
	for frag := range fragments {
		if err := media.pipeline.Speak(ctx, frag); err != nil {
			slog.Warn("pipeline rejected fragment", "connection_id", c.connectionID, "err", err)
			break
		}
		if full != "" {
			full += " "
		}
		full += frag
	}
	c.recordTurn(cv, msg.Content, full)

	if err := c.send.Send(ctx, types.ServerMessage{
		Type:      types.MsgText,
		Role:      "assistant",
		Content:   full,
		Timestamp: timestamp(),
	}); err != nil {
		slog.Debug("reply send failed", "err", err)
	}
}

// handleAudio transcribes one utterance, echoes the transcription, and then
// answers it like a text message.
func (c *conn) handleAudio(ctx context.Context, cv *convo, msg types.ClientMessage) {
	if msg.Data == "" {
		c.sendError(ctx, "data is required")
		return
	}
	pcm, err := base64.StdEncoding.DecodeString(msg.Data)
	if err != nil {
		c.sendError(ctx, "Invalid audio encoding")
		return
	}

	eng, err := c.h.engines.Get(ctx, cv.tutor())
	if err != nil {
		c.sendError(ctx, "Tutor engine unavailable")
		return
	}

	text, err := eng.Transcribe(ctx, pcm, c.h.language)
	if err != nil {
		slog.Warn("transcription failed", "connection_id", c.connectionID, "err", err)
		c.sendError(ctx, "Failed to transcribe audio")
		return
	}

	if err := c.send.Send(ctx, types.ServerMessage{
		Type:      types.MsgTranscription,
		Role:      "user",
		Content:   text,
		Timestamp: timestamp(),
	}); err != nil {
		slog.Debug("transcription send failed", "err", err)
	}
	if text == "" {
		return
	}

	c.mu.Lock()
	hasMedia := c.media != nil
	c.mu.Unlock()
	if hasMedia {
		c.handleTextWebRTC(ctx, cv, types.ClientMessage{Type: types.MsgTextWebRTC, Content: text})
		return
	}
	c.handleText(ctx, cv, text)
}

// handleOffer negotiates the media path: it starts the pipeline and pacers,
// answers the offer, trickles the relay candidates, and marks the end of
// candidates with the completion sentinel.
func (c *conn) handleOffer(ctx context.Context, cv *convo, msg types.ClientMessage) {
	if msg.SDP == "" {
		c.sendError(ctx, "sdp is required")
		return
	}

	eng, err := c.h.engines.Get(ctx, cv.tutor())
	if err != nil {
		c.sendError(ctx, "Tutor engine unavailable")
		return
	}

	c.mu.Lock()
	if c.media != nil {
		old := c.media
		c.media = nil
		c.mu.Unlock()
		old.close()
		c.mu.Lock()
	}
	c.mu.Unlock()

	media, err := c.startMedia(ctx, eng)
	if err != nil {
		slog.Warn("media setup failed", "connection_id", c.connectionID, "err", err)
		c.sendError(ctx, "Failed to set up media")
		return
	}

	answer, candidates, err := media.peer.HandleOffer(ctx, msg.SDP)
	if err != nil {
		media.close()
		slog.Warn("offer failed", "connection_id", c.connectionID, "err", err)
		c.sendError(ctx, "Failed to negotiate media")
		return
	}

	c.mu.Lock()
	c.media = media
	c.mu.Unlock()

	if err := c.send.Send(ctx, types.ServerMessage{
		Type:      types.MsgWebRTCAnswer,
		SDP:       answer,
		Timestamp: timestamp(),
	}); err != nil {
		slog.Debug("answer send failed", "err", err)
		return
	}

	for i := range candidates {
		if err := c.send.Send(ctx, types.ServerMessage{
			Type:      types.MsgWebRTCCandidate,
			Candidate: &candidates[i],
			Timestamp: timestamp(),
		}); err != nil {
			slog.Debug("candidate send failed", "err", err)
			return
		}
	}

	if err := c.send.Send(ctx, types.ServerMessage{
		Type:      types.MsgWebRTCComplete,
		Timestamp: timestamp(),
	}); err != nil {
		slog.Debug("completion send failed", "err", err)
	}
}

// handleCandidate feeds one client candidate to the ICE agent. An empty
// candidate string is the browser's end-of-candidates marker.
func (c *conn) handleCandidate(ctx context.Context, msg types.ClientMessage) {
	if msg.Candidate == nil || msg.Candidate.Candidate == "" {
		return
	}

	c.mu.Lock()
	media := c.media
	c.mu.Unlock()
	if media == nil {
		c.sendError(ctx, "No media session for candidate")
		return
	}

	if err := media.peer.AddICECandidate(*msg.Candidate); err != nil {
		slog.Warn("candidate rejected", "connection_id", c.connectionID, "err", err)
	}
}

// recordTurn appends a completed exchange to the conversation history.
func (c *conn) recordTurn(cv *convo, user, assistant string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	cv.history = append(cv.history,
		llm.Message{Role: llm.RoleUser, Content: user},
		llm.Message{Role: llm.RoleAssistant, Content: assistant},
	)
	// Bound the context window to the last 20 turns.
	if len(cv.history) > 40 {
		cv.history = cv.history[len(cv.history)-40:]
	}
}

// Ensure engine.Cache satisfies EngineSource.
var _ EngineSource = (*engine.Cache)(nil)
