package types

// ClientMessage is the JSON envelope for every message a browser client sends
// over the bidirectional channel. Type is mandatory; the remaining fields are
// populated per message kind (see the gateway router for the field matrix).
type ClientMessage struct {
	Type string `json:"type"`

	// Content carries the user text for "text" and "text_webrtc".
	Content string `json:"content,omitempty"`

	// Data carries base64-encoded utterance audio for "audio".
	Data string `json:"data,omitempty"`

	// AvatarID selects the avatar asset bundle for video-producing messages.
	AvatarID string `json:"avatar_id,omitempty"`

	// UserID identifies the media-session owner for WebRTC messages.
	UserID int `json:"user_id,omitempty"`

	// TutorID resolves the engine directly in sessionless user-scoped mode.
	TutorID int `json:"tutor_id,omitempty"`

	// EngineSessionID selects the session context on user-scoped connections.
	EngineSessionID string `json:"engine_session_id,omitempty"`

	// SDP carries the offer for "webrtc_offer".
	SDP string `json:"sdp,omitempty"`

	// Candidate carries the ICE candidate for "webrtc_ice_candidate".
	Candidate *ICECandidate `json:"candidate,omitempty"`
}

// ServerMessage is the JSON envelope for every message the gateway sends to a
// client. Audio and Video are base64-encoded payloads when delivered inline
// (the non-media-channel fallback).
type ServerMessage struct {
	Type      string        `json:"type"`
	Role      string        `json:"role,omitempty"`
	Content   string        `json:"content,omitempty"`
	Audio     string        `json:"audio,omitempty"`
	Video     string        `json:"video,omitempty"`
	SDP       string        `json:"sdp,omitempty"`
	Candidate *ICECandidate `json:"candidate,omitempty"`
	Mode      string        `json:"mode,omitempty"`
	Timestamp string        `json:"timestamp"`
}

// ICECandidate is the browser-shaped trickle candidate exchanged over the
// message channel alongside the SDP answer.
type ICECandidate struct {
	Candidate     string `json:"candidate"`
	SDPMLineIndex int    `json:"sdpMLineIndex"`
	SDPMid        string `json:"sdpMid"`
}

// Message kinds accepted from clients.
const (
	MsgInit            = "init"
	MsgText            = "text"
	MsgTextWebRTC      = "text_webrtc"
	MsgAudio           = "audio"
	MsgWebRTCOffer     = "webrtc_offer"
	MsgWebRTCCandidate = "webrtc_ice_candidate"
)

// Message kinds sent to clients.
const (
	MsgTranscription  = "transcription"
	MsgVideo          = "video"
	MsgError          = "error"
	MsgWebRTCAnswer   = "webrtc_answer"
	MsgWebRTCComplete = "webrtc_ice_complete"
	MsgConnected      = "connection_success"
)
