package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

// validASRDevices lists recognised values for asr.asr_device.
var validASRDevices = []string{"native", "server"}

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader] and [Validate].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies defaults, and validates
// the result. Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	applyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyDefaults fills zero-valued fields with their documented defaults.
func applyDefaults(cfg *Config) {
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = ":9000"
	}
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}
	if cfg.Sessions.MaxSessions == 0 {
		cfg.Sessions.MaxSessions = 50
	}
	if cfg.Sessions.TimeoutSeconds == 0 {
		cfg.Sessions.TimeoutSeconds = 3600
	}
	if cfg.LLM.BaseURL == "" {
		cfg.LLM.BaseURL = "http://127.0.0.1:11434"
	}
	if cfg.ASR.Device == "" {
		cfg.ASR.Device = "server"
	}
	if cfg.ASR.Language == "" {
		cfg.ASR.Language = "en"
	}
	if cfg.RAG.TopK == 0 {
		cfg.RAG.TopK = 3
	}
	if cfg.Avatar.FFmpegPath == "" {
		cfg.Avatar.FFmpegPath = "ffmpeg"
	}
	if cfg.Avatar.BatchSize == 0 {
		cfg.Avatar.BatchSize = 4
	}
	if cfg.Avatar.IdleFrames == 0 {
		cfg.Avatar.IdleFrames = 125
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	// Sessions
	if cfg.Sessions.MaxSessions < 1 {
		errs = append(errs, fmt.Errorf("sessions.max_sessions %d must be at least 1", cfg.Sessions.MaxSessions))
	}
	if cfg.Sessions.TimeoutSeconds < 1 {
		errs = append(errs, fmt.Errorf("sessions.session_timeout_seconds %d must be at least 1", cfg.Sessions.TimeoutSeconds))
	}

	// LLM
	if cfg.LLM.Temperature < 0 || cfg.LLM.Temperature > 2 {
		errs = append(errs, fmt.Errorf("llm.llm_temperature %.2f is out of range [0, 2]", cfg.LLM.Temperature))
	}
	if cfg.LLM.Enabled && cfg.LLM.DefaultModel == "" {
		errs = append(errs, errors.New("llm.default_llm_model is required when enable_llm is true"))
	}

	// ASR
	if !slices.Contains(validASRDevices, cfg.ASR.Device) {
		errs = append(errs, fmt.Errorf("asr.asr_device %q is invalid; valid values: native, server", cfg.ASR.Device))
	}
	if cfg.ASR.Enabled {
		switch cfg.ASR.Device {
		case "native":
			if cfg.ASR.Model == "" {
				errs = append(errs, errors.New("asr.asr_model is required when asr_device is native"))
			}
		case "server":
			if cfg.ASR.ServerURL == "" {
				errs = append(errs, errors.New("asr.server_url is required when asr_device is server"))
			}
		}
	}

	// TTS
	if cfg.TTS.Enabled && cfg.TTS.ServerURL == "" {
		errs = append(errs, errors.New("tts.server_url is required when enable_tts is true"))
	}

	// RAG
	if cfg.RAG.Enabled && cfg.RAG.URL == "" {
		errs = append(errs, errors.New("rag.rag_url is required when enable_rag is true"))
	}
	if cfg.RAG.TopK < 1 {
		errs = append(errs, fmt.Errorf("rag.rag_top_k %d must be at least 1", cfg.RAG.TopK))
	}

	// Avatar
	if cfg.Avatar.Enabled {
		if cfg.Avatar.AvatarsDir == "" {
			errs = append(errs, errors.New("avatar.avatars_dir is required when enable_avatar is true"))
		}
		if cfg.Avatar.MuseTalkBase == "" {
			errs = append(errs, errors.New("avatar.musetalk_base is required when enable_avatar is true"))
		}
	}
	if cfg.Avatar.BatchSize < 1 {
		errs = append(errs, fmt.Errorf("avatar.batch_size %d must be at least 1", cfg.Avatar.BatchSize))
	}
	if cfg.Avatar.IdleFrames < 1 {
		errs = append(errs, fmt.Errorf("avatar.idle_frames %d must be at least 1", cfg.Avatar.IdleFrames))
	}

	// WebRTC
	if cfg.WebRTC.PortMin != 0 || cfg.WebRTC.PortMax != 0 {
		if cfg.WebRTC.PortMin == 0 || cfg.WebRTC.PortMax == 0 {
			errs = append(errs, errors.New("webrtc.webrtc_port_min and webrtc_port_max must be set together"))
		} else if cfg.WebRTC.PortMin > cfg.WebRTC.PortMax {
			errs = append(errs, fmt.Errorf("webrtc.webrtc_port_min %d exceeds webrtc_port_max %d", cfg.WebRTC.PortMin, cfg.WebRTC.PortMax))
		}
	}
	if cfg.WebRTC.TURNServer != "" && (cfg.WebRTC.TURNUsername == "" || cfg.WebRTC.TURNPassword == "") {
		errs = append(errs, errors.New("webrtc.webrtc_turn_username and webrtc_turn_password are required when a TURN server is configured"))
	}
	if cfg.Avatar.Enabled && cfg.WebRTC.TURNServer == "" {
		slog.Warn("avatar is enabled without a TURN relay; media transport will only work on loopback deployments")
	}
	if cfg.WebRTC.PublicIP == "" && cfg.WebRTC.TURNServer != "" {
		slog.Warn("webrtc.webrtc_public_ip is empty; answer SDP will advertise internal addresses")
	}

	return errors.Join(errs...)
}
