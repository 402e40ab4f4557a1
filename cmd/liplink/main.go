// Command liplink is the GPU-side inference gateway for the virtual tutor
// platform: session admission over REST, the realtime message channel over
// websocket, and the lip-synced avatar stream over WebRTC.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	anyllmlib "github.com/mozilla-ai/any-llm-go"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/mentorverse/liplink/internal/api"
	"github.com/mentorverse/liplink/internal/config"
	"github.com/mentorverse/liplink/internal/engine"
	"github.com/mentorverse/liplink/internal/gateway"
	"github.com/mentorverse/liplink/internal/health"
	intlipsync "github.com/mentorverse/liplink/internal/lipsync"
	"github.com/mentorverse/liplink/internal/observe"
	"github.com/mentorverse/liplink/internal/resilience"
	"github.com/mentorverse/liplink/internal/rtc"
	"github.com/mentorverse/liplink/internal/session"
	"github.com/mentorverse/liplink/pkg/audio"
	"github.com/mentorverse/liplink/pkg/provider/asr"
	asrmock "github.com/mentorverse/liplink/pkg/provider/asr/mock"
	"github.com/mentorverse/liplink/pkg/provider/asr/whisper"
	"github.com/mentorverse/liplink/pkg/provider/codec"
	"github.com/mentorverse/liplink/pkg/provider/codec/ffmpeg"
	lipsyncmock "github.com/mentorverse/liplink/pkg/provider/lipsync/mock"
	"github.com/mentorverse/liplink/pkg/provider/lipsync/runner"
	"github.com/mentorverse/liplink/pkg/provider/llm"
	"github.com/mentorverse/liplink/pkg/provider/llm/anyllm"
	llmmock "github.com/mentorverse/liplink/pkg/provider/llm/mock"
	"github.com/mentorverse/liplink/pkg/provider/rag"
	ragmock "github.com/mentorverse/liplink/pkg/provider/rag/mock"
	"github.com/mentorverse/liplink/pkg/provider/rag/remote"
	"github.com/mentorverse/liplink/pkg/provider/tts"
	ttsmock "github.com/mentorverse/liplink/pkg/provider/tts/mock"
	"github.com/mentorverse/liplink/pkg/provider/tts/edge"
	"github.com/mentorverse/liplink/pkg/types"
)

// sweepInterval is how often the registry evicts idle sessions in the
// background, in addition to the sweep-on-create.
const sweepInterval = time.Minute

// defaultSystemPrompt is the persona used for tutors without an override.
const defaultSystemPrompt = "You are a patient, encouraging tutor. Answer the " +
	"student's questions clearly and concisely, in the same language they use. " +
	"Prefer short spoken-style sentences; the reply is read aloud."

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "liplink: config file %q not found — copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "liplink: %v\n", err)
		}
		return 1
	}

	logger := newLogger(cfg.Server.LogLevel)
	slog.SetDefault(logger)

	slog.Info("liplink starting",
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName: "liplink",
	})
	if err != nil {
		slog.Error("telemetry init failed", "err", err)
		return 1
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(flushCtx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	shared, err := buildSharedProviders(cfg)
	if err != nil {
		slog.Error("failed to build providers", "err", err)
		return 1
	}

	registry := session.NewRegistry(
		cfg.Sessions.MaxSessions,
		time.Duration(cfg.Sessions.TimeoutSeconds)*time.Second,
	)

	cache := engine.NewCache(engineFactory(cfg, shared), observe.DefaultMetrics())
	defer cache.Close()

	// Config reload drops the engines whose settings changed; they reload on
	// the next request.
	watcher, err := config.NewWatcher(*configPath, func(old, new *config.Config) {
		cache.ApplyDiff(config.Diff(old, new))
	})
	if err != nil {
		slog.Warn("config watcher disabled", "err", err)
	} else {
		defer watcher.Stop()
	}

	if warm := warmupTutors(cfg); len(warm) > 0 {
		go cache.WarmUp(ctx, warm)
	}

	printStartupSummary(cfg)

	router := buildRouter(cfg, registry, cache)
	server := &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("server ready — press Ctrl+C to shut down")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen on %s: %w", cfg.Server.ListenAddr, err)
		}
		return nil
	})
	g.Go(func() error {
		ticker := time.NewTicker(sweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.C:
				if n := registry.Sweep(); n > 0 {
					slog.Info("idle sessions evicted", "count", n)
				}
			}
		}
	})
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutdown signal received, stopping…")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		return 1
	}

	if shared.closer != nil {
		if err := shared.closer(); err != nil {
			slog.Warn("provider close error", "err", err)
		}
	}
	slog.Info("goodbye")
	return 0
}

// buildRouter assembles the HTTP surface: management REST, Prometheus
// metrics, and the websocket gateway (mounted twice in unified mode to keep
// the split-mode URL shape working).
func buildRouter(cfg *config.Config, registry *session.Registry, cache *engine.Cache) chi.Router {
	clientTransport, localTransport := transports(cfg)

	gw := gateway.NewHandler(registry, cache, gateway.Options{
		Transport:   localTransport,
		NewEncoder:  encoderFactory(cfg),
		NewOpus:     rtc.NewOpusEncoder,
		Language:    cfg.ASR.Language,
		InlineAudio: cfg.Avatar.InlineAudioWithVideo,
		BatchSize:   cfg.Avatar.BatchSize,
	})

	apiHandler := api.New(registry, api.Options{
		WebSocketURL: cfg.Server.WebSocketURL,
		UnifiedMode:  cfg.Server.UnifiedMode,
		Transport:    clientTransport,
	})

	probes := health.New(health.Capacity(registry), health.Binary("ffmpeg"))

	r := chi.NewRouter()
	r.Use(observe.Middleware(observe.DefaultMetrics()))
	apiHandler.Register(r)
	probes.Register(r)
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/ws/{connectionID}", gw.ServeHTTP)
	if cfg.Server.UnifiedMode {
		r.Get("/ws/ws/{connectionID}", gw.ServeHTTP)
	}
	return r
}

// transports splits the WebRTC config into the client-facing view (public
// TURN URL for browsers) and the local view the gateway's own ICE agent uses
// (the colocated relay when one is configured).
func transports(cfg *config.Config) (client, local rtc.TransportConfig) {
	client = rtc.TransportConfig{
		PublicIP: cfg.WebRTC.PublicIP,
		PortMin:  cfg.WebRTC.PortMin,
		PortMax:  cfg.WebRTC.PortMax,
		STUNURL:  cfg.WebRTC.STUNServer,
		TURNURL:  cfg.WebRTC.TURNServer,
		TURNUser: cfg.WebRTC.TURNUsername,
		TURNPass: cfg.WebRTC.TURNPassword,
	}
	local = client
	if cfg.WebRTC.TURNServerLocal != "" {
		local.TURNURL = cfg.WebRTC.TURNServerLocal
	}
	return client, local
}

// sharedProviders holds the collaborators shared by every tutor engine.
type sharedProviders struct {
	asr    asr.Provider
	tts    tts.Provider
	rag    rag.Provider
	closer func() error
}

func buildSharedProviders(cfg *config.Config) (*sharedProviders, error) {
	s := &sharedProviders{}

	if cfg.ASR.Enabled {
		switch cfg.ASR.Device {
		case "native":
			p, err := whisper.NewNative(cfg.ASR.Model, whisper.WithNativeLanguage(cfg.ASR.Language))
			if err != nil {
				return nil, fmt.Errorf("create native whisper: %w", err)
			}
			s.asr = p
			s.closer = p.Close
			slog.Info("provider created", "kind", "asr", "name", "whisper-native", "model", cfg.ASR.Model)
		default:
			p, err := whisper.New(cfg.ASR.ServerURL,
				whisper.WithModel(cfg.ASR.Model),
				whisper.WithLanguage(cfg.ASR.Language))
			if err != nil {
				return nil, fmt.Errorf("create whisper client: %w", err)
			}
			// A breaker turns a dead whisper-server into an immediate
			// error envelope instead of a per-utterance timeout.
			s.asr = resilience.NewASRFallback(p, "whisper-server", resilience.BreakerConfig{})
			slog.Info("provider created", "kind", "asr", "name", "whisper-server", "url", cfg.ASR.ServerURL)
		}
	} else {
		s.asr = &asrmock.Provider{Text: "[mock transcription]"}
		slog.Info("provider created", "kind", "asr", "name", "mock")
	}

	if cfg.TTS.Enabled {
		p, err := edge.New(cfg.TTS.ServerURL,
			edge.WithVoice(cfg.TTS.Voice),
			edge.WithRate(cfg.TTS.Rate),
			edge.WithPitch(cfg.TTS.Pitch))
		if err != nil {
			return nil, fmt.Errorf("create tts client: %w", err)
		}
		s.tts = resilience.NewTTSFallback(p, "edge", resilience.BreakerConfig{})
		slog.Info("provider created", "kind", "tts", "name", "edge", "voice", cfg.TTS.Voice)
	} else {
		s.tts = &ttsmock.Provider{}
		slog.Info("provider created", "kind", "tts", "name", "mock")
	}

	if cfg.RAG.Enabled {
		p, err := remote.New(cfg.RAG.URL, remote.WithTopK(cfg.RAG.TopK))
		if err != nil {
			return nil, fmt.Errorf("create rag client: %w", err)
		}
		s.rag = p
		slog.Info("provider created", "kind", "rag", "name", "remote", "url", cfg.RAG.URL)
	} else {
		s.rag = &ragmock.Provider{}
		slog.Info("provider created", "kind", "rag", "name", "mock")
	}

	return s, nil
}

// engineFactory builds the per-tutor collaborator set. The LLM client and the
// lip-sync runner are per tutor (the runner is a subprocess whose lifetime the
// engine owns); ASR, TTS, and retrieval are shared.
func engineFactory(cfg *config.Config, shared *sharedProviders) engine.Factory {
	return func(ctx context.Context, tutorID int) (*engine.Engine, error) {
		eng := &engine.Engine{
			TutorID:     tutorID,
			ASR:         shared.asr,
			TTS:         shared.tts,
			RAG:         shared.rag,
			System:      defaultSystemPrompt,
			Model:       cfg.TutorModel(tutorID),
			Temperature: cfg.LLM.Temperature,
		}

		if cfg.LLM.Enabled {
			var opts []anyllmlib.Option
			if cfg.LLM.BaseURL != "" {
				opts = append(opts, anyllmlib.WithBaseURL(cfg.LLM.BaseURL))
			}
			p, err := anyllm.NewOllama(eng.Model, opts...)
			if err != nil {
				return nil, fmt.Errorf("tutor %d: create llm: %w", tutorID, err)
			}
			// Tutors with a dedicated model fall back to the platform
			// default when that model misbehaves.
			if eng.Model != cfg.LLM.DefaultModel && cfg.LLM.DefaultModel != "" {
				fb, err := anyllm.NewOllama(cfg.LLM.DefaultModel, opts...)
				if err != nil {
					return nil, fmt.Errorf("tutor %d: create fallback llm: %w", tutorID, err)
				}
				wrapped := resilience.NewLLMFallback(p, eng.Model, resilience.BreakerConfig{})
				wrapped.AddFallback(cfg.LLM.DefaultModel, fb)
				eng.LLM = wrapped
			} else {
				eng.LLM = p
			}
		} else {
			eng.LLM = &llmmock.Provider{
				CompleteText: mockReply,
				StreamChunks: []llm.Chunk{
					{Text: "This is a mock reply"},
					{Text: " from the disabled language model."},
				},
			}
		}

		if cfg.Avatar.Enabled {
			if err := attachAvatar(ctx, cfg, tutorID, eng); err != nil {
				return nil, err
			}
		} else if err := attachMockAvatar(ctx, eng); err != nil {
			return nil, err
		}
		return eng, nil
	}
}

// mockReply is the canned answer used when the language model is disabled.
const mockReply = "This is a mock reply from the disabled language model."

// attachAvatar starts this tutor's model-runner subprocess and loads the
// preprocessed frame cycle from disk. The runner and the on-disk frames must
// agree on the cycle length.
func attachAvatar(ctx context.Context, cfg *config.Config, tutorID int, eng *engine.Engine) error {
	dir := filepath.Join(cfg.Avatar.AvatarsDir, fmt.Sprintf("tutor_%d", tutorID))
	if _, err := os.Stat(dir); err != nil {
		slog.Warn("no avatar bundle, video disabled for tutor", "tutor_id", tutorID, "dir", dir)
		return nil
	}

	rn, err := runner.Start(ctx, runner.Config{
		MuseTalkBase: cfg.Avatar.MuseTalkBase,
		CondaEnv:     cfg.Avatar.CondaEnv,
	})
	if err != nil {
		return fmt.Errorf("tutor %d: start model runner: %w", tutorID, err)
	}

	info, err := rn.LoadAvatar(ctx, dir)
	if err != nil {
		_ = rn.Close()
		return fmt.Errorf("tutor %d: %w", tutorID, err)
	}
	avatar, err := intlipsync.LoadAvatar(dir, cfg.Avatar.IdleFrames)
	if err != nil {
		_ = rn.Close()
		return fmt.Errorf("tutor %d: %w", tutorID, err)
	}

	eng.Lipsync = rn
	eng.Info = info
	eng.Avatar = avatar
	eng.Decoder = &audio.Decoder{FFmpegPath: cfg.Avatar.FFmpegPath}
	return nil
}

// attachMockAvatar wires the deterministic in-process media stack used when
// the model runner is disabled: a mock lip-sync engine, a synthetic frame
// cycle, and a pure-Go WAV decoder matched to the mock TTS output.
func attachMockAvatar(ctx context.Context, eng *engine.Engine) error {
	mockEng := &lipsyncmock.Engine{}
	info, err := mockEng.LoadAvatar(ctx, "mock")
	if err != nil {
		return err
	}

	avatar := &intlipsync.Avatar{Frames: make([]types.Image, info.CycleLength)}
	for i := range avatar.Frames {
		pix := make([]byte, 64*64*3)
		for j := range pix {
			pix[j] = byte(64 + 32*i)
		}
		avatar.Frames[i] = types.Image{Width: 64, Height: 64, Pix: pix}
	}

	eng.Lipsync = mockEng
	eng.Info = info
	eng.Avatar = avatar
	eng.Decoder = audio.WAVDecoder{}
	return nil
}

// encoderFactory closes over the configured ffmpeg path for video encoding.
func encoderFactory(cfg *config.Config) gateway.EncoderFactory {
	return func(width, height, fps int) (codec.Encoder, error) {
		var opts []ffmpeg.Option
		if cfg.Avatar.FFmpegPath != "" {
			opts = append(opts, ffmpeg.WithFFmpegPath(cfg.Avatar.FFmpegPath))
		}
		return ffmpeg.New(width, height, fps, opts...)
	}
}

// warmupTutors resolves the configured warm-up target to tutor IDs.
func warmupTutors(cfg *config.Config) []int {
	if cfg.Avatar.WarmupAvatar == "" {
		return nil
	}
	id, err := strconv.Atoi(cfg.Avatar.WarmupAvatar)
	if err != nil {
		slog.Warn("warmup_avatar is not a tutor ID, skipping warm-up", "value", cfg.Avatar.WarmupAvatar)
		return nil
	}
	return []int{id}
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║         liplink — startup summary     ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printFeature("LLM", cfg.LLM.Enabled, cfg.LLM.DefaultModel)
	printFeature("ASR", cfg.ASR.Enabled, cfg.ASR.Device)
	printFeature("TTS", cfg.TTS.Enabled, cfg.TTS.Voice)
	printFeature("RAG", cfg.RAG.Enabled, "")
	printFeature("Avatar", cfg.Avatar.Enabled, "")
	fmt.Printf("║  Max sessions    : %-19d ║\n", cfg.Sessions.MaxSessions)
	if cfg.Server.ListenAddr != "" {
		fmt.Printf("║  Listen addr     : %-19s ║\n", cfg.Server.ListenAddr)
	}
	fmt.Println("╚═══════════════════════════════════════╝")
}

func printFeature(kind string, enabled bool, detail string) {
	value := "(disabled)"
	if enabled {
		value = "enabled"
		if detail != "" {
			value = detail
		}
	}
	if len(value) > 19 {
		value = value[:16] + "…"
	}
	fmt.Printf("║  %-12s    : %-19s ║\n", kind, value)
}

// ── Logger ─────────────────────────────────────────────────────────────────────

func newLogger(level config.LogLevel) *slog.Logger {
	var lvl slog.Level
	switch level {
	case config.LogDebug:
		lvl = slog.LevelDebug
	case config.LogWarn:
		lvl = slog.LevelWarn
	case config.LogError:
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
