// Package config provides the configuration schema, loader, and file watcher
// for the liplink inference gateway.
package config

import (
	"fmt"
	"os"
)

// LogLevel controls log verbosity for the gateway.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Config is the root configuration structure for the gateway.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Sessions SessionsConfig `yaml:"sessions"`
	LLM      LLMConfig      `yaml:"llm"`
	ASR      ASRConfig      `yaml:"asr"`
	TTS      TTSConfig      `yaml:"tts"`
	RAG      RAGConfig      `yaml:"rag"`
	Avatar   AvatarConfig   `yaml:"avatar"`
	WebRTC   WebRTCConfig   `yaml:"webrtc"`

	// Tutors holds optional per-tutor overrides keyed by tutor ID.
	// Environment variables of the form TUTOR_{id}_LLM_MODEL take
	// precedence over entries here (see [Config.TutorModel]).
	Tutors map[int]TutorConfig `yaml:"tutors"`
}

// ServerConfig holds network and logging settings.
type ServerConfig struct {
	// ListenAddr is the TCP address the server listens on (e.g., ":9000").
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`

	// WebSocketURL is the externally reachable base URL clients use for the
	// message channel (e.g., "ws://gpu.example.com:9000"). The admission API
	// appends the /ws/{session_id} path when minting engine URLs.
	WebSocketURL string `yaml:"websocket_url"`

	// UnifiedMode reports whether the management API and the message channel
	// are mounted on the same listener. In unified mode the websocket app is
	// mounted under /ws, so full engine URLs take the /ws/ws/{id} shape.
	UnifiedMode bool `yaml:"unified_mode"`
}

// SessionsConfig bounds the session registry.
type SessionsConfig struct {
	// MaxSessions is the admission cap for concurrently live sessions.
	MaxSessions int `yaml:"max_sessions"`

	// TimeoutSeconds is the idle-eviction threshold. Sessions with no
	// activity for this long are swept.
	TimeoutSeconds int `yaml:"session_timeout_seconds"`
}

// LLMConfig configures the text-generation collaborator.
type LLMConfig struct {
	// Enabled gates the real backend; when false a deterministic mock is
	// substituted.
	Enabled bool `yaml:"enable_llm"`

	// BaseURL is the Ollama-compatible endpoint (default http://127.0.0.1:11434).
	BaseURL string `yaml:"base_url"`

	// DefaultModel is used for tutors without a per-tutor override.
	DefaultModel string `yaml:"default_llm_model"`

	// Temperature controls sampling randomness.
	Temperature float64 `yaml:"llm_temperature"`
}

// ASRConfig configures the speech-recognition collaborator.
type ASRConfig struct {
	Enabled bool `yaml:"enable_asr"`

	// Model is the whisper model identifier; when Device is "native" it is a
	// GGML model path loaded through the whisper.cpp bindings, otherwise it
	// is forwarded to the whisper-server instance at ServerURL.
	Model string `yaml:"asr_model"`

	// Device selects the execution mode: "native" (in-process CGO bindings)
	// or "server" (remote whisper-server REST API).
	Device string `yaml:"asr_device"`

	// Language is the BCP-47 recognition language (e.g., "en", "zh").
	Language string `yaml:"asr_language"`

	// ServerURL is the whisper-server base URL when Device is "server".
	ServerURL string `yaml:"server_url"`
}

// TTSConfig configures the speech-synthesis collaborator.
type TTSConfig struct {
	Enabled bool `yaml:"enable_tts"`

	// ServerURL is the HTTP speech service endpoint.
	ServerURL string `yaml:"server_url"`

	// Voice is the synthesis voice identifier (e.g., "zh-CN-XiaoxiaoNeural").
	Voice string `yaml:"tts_voice"`

	// Rate adjusts speaking speed as a signed percentage (e.g., "+20%").
	Rate string `yaml:"tts_rate"`

	// Pitch adjusts pitch as a signed frequency offset (e.g., "+5Hz").
	Pitch string `yaml:"tts_pitch"`
}

// RAGConfig configures the retrieval collaborator.
type RAGConfig struct {
	Enabled bool `yaml:"enable_rag"`

	// URL is the retrieval service endpoint.
	URL string `yaml:"rag_url"`

	// TopK bounds how many passages a retrieval returns.
	TopK int `yaml:"rag_top_k"`
}

// AvatarConfig configures the lip-sync data plane.
type AvatarConfig struct {
	Enabled bool `yaml:"enable_avatar"`

	// AvatarsDir is the root directory of preprocessed avatar bundles.
	AvatarsDir string `yaml:"avatars_dir"`

	// MuseTalkBase is the checkout of the neural lip-sync model that the
	// runner subprocess executes from.
	MuseTalkBase string `yaml:"musetalk_base"`

	// CondaEnv names the conda environment the runner is launched in.
	CondaEnv string `yaml:"musetalk_conda_env"`

	// FFmpegPath locates the ffmpeg binary used for audio decode and video
	// encode. Defaults to "ffmpeg" (resolved via PATH).
	FFmpegPath string `yaml:"ffmpeg_path"`

	// BatchSize is the inference batch size (frames per UNet invocation).
	BatchSize int `yaml:"batch_size"`

	// IdleFrames bounds how many prerendered frames the idle source loads
	// per avatar. 125 frames is 5 s at 25 fps.
	IdleFrames int `yaml:"idle_frames"`

	// WarmupAvatar, when set, pre-starts a streaming engine for this avatar
	// at boot so the first request does not pay the model-load cost.
	WarmupAvatar string `yaml:"warmup_avatar"`

	// InlineAudioWithVideo controls the text-path race policy: when true the
	// inline audio reply is sent even if a background video (carrying the
	// same audio) follows. Clients that play the video should ignore the
	// inline audio.
	InlineAudioWithVideo bool `yaml:"inline_audio_with_video"`
}

// WebRTCConfig configures the media transport and its advertised
// connectivity. Only relay candidates are reachable externally, so the
// TURN relay settings are mandatory for real deployments.
type WebRTCConfig struct {
	// PublicIP replaces any internal address in answer SDP.
	PublicIP string `yaml:"webrtc_public_ip"`

	// PortMin/PortMax bound the ephemeral UDP range the relay forwards.
	PortMin uint16 `yaml:"webrtc_port_min"`
	PortMax uint16 `yaml:"webrtc_port_max"`

	// STUNServer is advertised to clients (e.g., "stun:stun.l.google.com:19302").
	STUNServer string `yaml:"webrtc_stun_server"`

	// TURNServer is the public relay URL advertised to clients.
	TURNServer string `yaml:"webrtc_turn_server"`

	// TURNServerLocal is the relay URL the gateway itself connects through
	// (the colocated coturn, reachable via loopback).
	TURNServerLocal string `yaml:"webrtc_turn_server_local"`

	TURNUsername string `yaml:"webrtc_turn_username"`
	TURNPassword string `yaml:"webrtc_turn_password"`
}

// TutorConfig holds per-tutor overrides.
type TutorConfig struct {
	// LLMModel overrides llm.default_llm_model for this tutor.
	LLMModel string `yaml:"llm_model"`
}

// TutorModel resolves the LLM model for a tutor: the TUTOR_{id}_LLM_MODEL
// environment variable wins, then the tutors section, then the default.
func (c *Config) TutorModel(tutorID int) string {
	if m := os.Getenv(fmt.Sprintf("TUTOR_%d_LLM_MODEL", tutorID)); m != "" {
		return m
	}
	if t, ok := c.Tutors[tutorID]; ok && t.LLMModel != "" {
		return t.LLMModel
	}
	return c.LLM.DefaultModel
}
