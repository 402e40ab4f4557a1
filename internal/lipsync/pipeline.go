package lipsync

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/mentorverse/liplink/internal/observe"
	"github.com/mentorverse/liplink/pkg/audio"
	"github.com/mentorverse/liplink/pkg/provider/features"
	prov "github.com/mentorverse/liplink/pkg/provider/lipsync"
	"github.com/mentorverse/liplink/pkg/provider/tts"
	"github.com/mentorverse/liplink/pkg/types"
)

// prebufferFrames is how many composed frames must accumulate before playback
// starts. Three frames at 25 fps is 120 ms, enough to absorb inference jitter
// without adding noticeable latency.
const prebufferFrames = 3

// AudioDecoder decodes a compressed TTS clip into 16 kHz mono float32 PCM.
// audio.Decoder is the production implementation.
type AudioDecoder interface {
	DecodeToPCM(ctx context.Context, data []byte) ([]float32, error)
}

// Config holds the pipeline tuning knobs.
type Config struct {
	// FPS is the video frame rate. Default 25.
	FPS int

	// BatchSize is the number of video frames per inference batch. Default 4.
	BatchSize int

	// StrideLeft and StrideRight are the audio context frames kept on each
	// side of a feature window. Default 4 each.
	StrideLeft  int
	StrideRight int

	// Language is passed to the TTS provider.
	Language string

	// TutorID labels log lines and metrics.
	TutorID int
}

func (c *Config) applyDefaults() {
	if c.FPS <= 0 {
		c.FPS = 25
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 4
	}
	if c.StrideLeft <= 0 {
		c.StrideLeft = 4
	}
	if c.StrideRight <= 0 {
		c.StrideRight = 4
	}
}

// audioFrame is one 20 ms slice of the audio feed. Silence frames are
// fabricated whenever the TTS feed runs dry, which keeps the video loop
// producing idle frames.
type audioFrame struct {
	pcm     []float32
	silence bool
}

// result pairs one composed-frame decision with its two audio frames.
type result struct {
	face *prov.Face // nil for silent batches
	idx  int        // avatar cycle index
	aud  [2]audioFrame
}

// Pipeline is the streaming lip-sync pipeline for one connection. Text
// fragments submitted via Speak come out of VideoOut and AudioOut as a
// continuous, ordered stream of frames; with no pending speech the avatar's
// idle cycle flows instead.
type Pipeline struct {
	cfg     Config
	engine  prov.Engine
	tts     tts.Provider
	dec     AudioDecoder
	avatar  *Avatar
	info    *prov.AvatarInfo
	metrics *observe.Metrics
	onReady func()

	textCh  chan string
	audioIn fifo[audioFrame]
	outputQ chan audioFrame
	featCh  chan [][][]float32
	resCh   chan result

	// ctxFrames carries the feature-context tail between extraction steps.
	ctxFrames []audioFrame

	// VideoOut delivers composed full frames at the configured frame rate's
	// cadence (paced by consumer backpressure).
	VideoOut chan types.Image

	// AudioOut delivers 20 ms float32 PCM frames, two per video frame.
	AudioOut chan []float32

	readyOnce sync.Once
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

// NewPipeline assembles a pipeline. onReady fires once, when the prebuffer
// has filled and paced playback should begin; it may be nil.
func NewPipeline(engine prov.Engine, ttsProv tts.Provider, dec AudioDecoder,
	avatar *Avatar, info *prov.AvatarInfo, metrics *observe.Metrics,
	cfg Config, onReady func()) (*Pipeline, error) {

	cfg.applyDefaults()
	if avatar.CycleLength() == 0 {
		return nil, fmt.Errorf("lipsync: avatar has no frames")
	}
	if info.CycleLength != avatar.CycleLength() {
		return nil, fmt.Errorf("lipsync: engine cycle length %d does not match avatar %d",
			info.CycleLength, avatar.CycleLength())
	}
	if metrics == nil {
		metrics = observe.DefaultMetrics()
	}

	return &Pipeline{
		cfg:     cfg,
		engine:  engine,
		tts:     ttsProv,
		dec:     dec,
		avatar:  avatar,
		info:    info,
		metrics: metrics,
		onReady: onReady,

		textCh:   make(chan string, 16),
		outputQ:  make(chan audioFrame, cfg.BatchSize*16),
		featCh:   make(chan [][][]float32, 2),
		resCh:    make(chan result, cfg.BatchSize*2),
		VideoOut: make(chan types.Image, cfg.BatchSize*4),
		AudioOut: make(chan []float32, cfg.BatchSize*8),
	}, nil
}

// Start launches the worker goroutines. The pipeline runs until Stop or
// until ctx is cancelled.
func (p *Pipeline) Start(ctx context.Context) {
	ctx, p.cancel = context.WithCancel(ctx)

	p.warmUp()

	p.wg.Add(3)
	go p.ttsWorker(ctx)
	go p.featureWorker(ctx)
	go p.inferenceWorker(ctx)

	// The output worker closes the public channels when it exits.
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer close(p.VideoOut)
		defer close(p.AudioOut)
		p.outputWorker(ctx)
	}()
}

// Stop cancels the workers and waits for them to drain.
func (p *Pipeline) Stop() {
	if p.cancel != nil {
		p.cancel()
	}
	p.wg.Wait()
}

// Speak queues one text fragment for synthesis.
func (p *Pipeline) Speak(ctx context.Context, text string) error {
	if text == "" {
		return nil
	}
	select {
	case p.textCh <- text:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Flush drops all queued text and audio that has not reached inference yet.
func (p *Pipeline) Flush() {
	for {
		select {
		case <-p.textCh:
		default:
			p.audioIn.Clear()
			return
		}
	}
}

// warmUp primes the context buffer with silence so the first real feature
// window has a full left context, then drops the left-context frames from the
// playback feed to keep audio aligned with the generated frames.
func (p *Pipeline) warmUp() {
	total := p.cfg.StrideLeft + p.cfg.StrideRight
	for range total {
		f := audioFrame{pcm: make([]float32, audio.FrameSize16k20ms), silence: true}
		p.ctxFrames = append(p.ctxFrames, f)
		p.outputQ <- f
	}
	for range p.cfg.StrideLeft {
		<-p.outputQ
	}
}

// ttsWorker turns queued text fragments into 20 ms PCM frames.
func (p *Pipeline) ttsWorker(ctx context.Context) {
	defer p.wg.Done()
	for {
		var text string
		select {
		case <-ctx.Done():
			return
		case text = <-p.textCh:
		}

		start := time.Now()
		clip, err := p.tts.Synthesize(ctx, text, p.cfg.Language)
		p.metrics.TTSDuration.Record(ctx, time.Since(start).Seconds())
		if err != nil {
			p.metrics.RecordProviderError(ctx, "tts", "tts")
			slog.Warn("tts synthesis failed", "tutor_id", p.cfg.TutorID, "err", err)
			continue
		}

		pcm, err := p.dec.DecodeToPCM(ctx, clip)
		if err != nil {
			slog.Warn("tts clip decode failed", "tutor_id", p.cfg.TutorID, "err", err)
			continue
		}

		for _, frame := range audio.ChunkFrames(pcm, audio.FrameSize16k20ms) {
			p.audioIn.Put(audioFrame{pcm: frame})
		}
	}
}

// nextAudioFrame pops the next speech frame, or fabricates silence when the
// feed is empty.
func (p *Pipeline) nextAudioFrame() audioFrame {
	if f, ok := p.audioIn.TryGet(); ok {
		return f
	}
	return audioFrame{pcm: make([]float32, audio.FrameSize16k20ms), silence: true}
}

// featureWorker slides a context window over the audio feed and extracts one
// feature-chunk batch per BatchSize video frames. Backpressure from featCh
// (capacity 2) paces the whole upstream.
func (p *Pipeline) featureWorker(ctx context.Context) {
	defer p.wg.Done()
	tail := p.cfg.StrideLeft + p.cfg.StrideRight

	for {
		if ctx.Err() != nil {
			return
		}

		for range p.cfg.BatchSize * 2 {
			f := p.nextAudioFrame()
			p.ctxFrames = append(p.ctxFrames, f)
			select {
			case p.outputQ <- f:
			case <-ctx.Done():
				return
			}
		}
		if len(p.ctxFrames) <= tail {
			continue
		}

		pcm := make([]float32, 0, len(p.ctxFrames)*audio.FrameSize16k20ms)
		for _, f := range p.ctxFrames {
			pcm = append(pcm, f.pcm...)
		}

		start := time.Now()
		feats, err := p.engine.Audio2Feat(ctx, pcm)
		p.metrics.FeatureDuration.Record(ctx, time.Since(start).Seconds())
		if err != nil {
			slog.Warn("feature extraction failed", "tutor_id", p.cfg.TutorID, "err", err)
			p.ctxFrames = p.ctxFrames[len(p.ctxFrames)-tail:]
			continue
		}

		chunks := features.Feature2Chunks(feats, float64(p.cfg.FPS), p.cfg.BatchSize,
			float64(p.cfg.StrideLeft)/2)

		select {
		case p.featCh <- chunks:
		case <-ctx.Done():
			return
		}

		p.ctxFrames = p.ctxFrames[len(p.ctxFrames)-tail:]
	}
}

// inferenceWorker consumes feature batches, skips inference for all-silence
// batches, and emits one result per video frame in cycle order.
func (p *Pipeline) inferenceWorker(ctx context.Context) {
	defer p.wg.Done()

	length := p.info.CycleLength
	index := 0
	count := 0
	var countTime time.Duration

	for {
		var chunks [][][]float32
		select {
		case <-ctx.Done():
			return
		case chunks = <-p.featCh:
		}

		frames := make([]audioFrame, 0, p.cfg.BatchSize*2)
		allSilence := true
		for range p.cfg.BatchSize * 2 {
			select {
			case <-ctx.Done():
				return
			case f := <-p.outputQ:
				if !f.silence {
					allSilence = false
				}
				frames = append(frames, f)
			}
		}

		if allSilence || len(chunks) < p.cfg.BatchSize {
			for i := range p.cfg.BatchSize {
				r := result{idx: MirrorIndex(length, index), aud: [2]audioFrame{frames[i*2], frames[i*2+1]}}
				index++
				select {
				case p.resCh <- r:
				case <-ctx.Done():
					return
				}
			}
			continue
		}

		start := time.Now()
		positions := make([]int, p.cfg.BatchSize)
		for i := range positions {
			positions[i] = MirrorIndex(length, index+i)
		}

		faces, err := p.engine.GenerateFaces(ctx, positions, chunks[:p.cfg.BatchSize])
		p.metrics.InferenceDuration.Record(ctx, time.Since(start).Seconds())
		if err != nil {
			slog.Warn("face generation failed", "tutor_id", p.cfg.TutorID, "err", err)
			faces = nil
		}

		for i := range p.cfg.BatchSize {
			r := result{idx: positions[i], aud: [2]audioFrame{frames[i*2], frames[i*2+1]}}
			if faces != nil {
				r.face = &faces[i]
			}
			index++
			select {
			case p.resCh <- r:
			case <-ctx.Done():
				return
			}
		}

		count += p.cfg.BatchSize
		countTime += time.Since(start)
		if count >= 100 {
			slog.Info("inference throughput",
				"tutor_id", p.cfg.TutorID,
				"fps", fmt.Sprintf("%.2f", float64(count)/countTime.Seconds()))
			count = 0
			countTime = 0
		}
		p.metrics.RecordFrames(ctx, p.cfg.TutorID, int64(p.cfg.BatchSize))
	}
}

// outputWorker composes final frames and feeds the public channels. The
// prebuffer callback fires once enough frames have accumulated.
func (p *Pipeline) outputWorker(ctx context.Context) {
	frameCount := 0
	for {
		var r result
		select {
		case <-ctx.Done():
			return
		case r = <-p.resCh:
		}

		// Only frames carrying speech count toward the prebuffer: idle
		// filler would trip the latch before any real content is queued.
		if r.face != nil && (!r.aud[0].silence || !r.aud[1].silence) {
			frameCount++
			if frameCount >= prebufferFrames && p.onReady != nil {
				p.readyOnce.Do(p.onReady)
			}
		}

		var img types.Image
		if r.face == nil || (r.aud[0].silence && r.aud[1].silence) {
			img = p.avatar.Frames[r.idx]
		} else {
			var mask *types.Image
			if r.idx < len(p.avatar.Masks) {
				mask = &p.avatar.Masks[r.idx]
			}
			img = Composite(p.avatar.Frames[r.idx], r.face.Image, p.info.Boxes[r.idx], mask)
		}

		select {
		case p.VideoOut <- img:
		case <-ctx.Done():
			return
		}
		for _, af := range r.aud {
			select {
			case p.AudioOut <- af.pcm:
			case <-ctx.Done():
				return
			}
		}
	}
}
