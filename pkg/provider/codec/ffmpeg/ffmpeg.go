// Package ffmpeg implements codec.Encoder on top of an ffmpeg subprocess.
//
// Raw BGR24 frames are piped to ffmpeg's stdin and a VP8 bitstream comes back
// on stdout wrapped in IVF, which is demuxed frame by frame. Realtime
// deadline with zero lookahead keeps the pipeline at one frame in, one frame
// out.
package ffmpeg

import (
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strconv"
	"sync"
	"time"

	"github.com/pion/webrtc/v4/pkg/media/ivfreader"

	"github.com/mentorverse/liplink/pkg/provider/codec"
	"github.com/mentorverse/liplink/pkg/types"
)

// Compile-time assertion that Encoder implements codec.Encoder.
var _ codec.Encoder = (*Encoder)(nil)

// Encoder pipes raw frames through an ffmpeg VP8 encode.
type Encoder struct {
	width  int
	height int

	ffmpegPath  string
	bitrateKbps int

	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout io.ReadCloser

	mu     sync.Mutex
	reader *ivfreader.IVFReader
	closed bool
}

// Option configures an Encoder.
type Option func(*Encoder)

// WithFFmpegPath overrides the ffmpeg binary location.
func WithFFmpegPath(path string) Option {
	return func(e *Encoder) {
		e.ffmpegPath = path
	}
}

// WithBitrate sets the target bitrate in kbit/s.
func WithBitrate(kbps int) Option {
	return func(e *Encoder) {
		e.bitrateKbps = kbps
	}
}

// New starts an ffmpeg subprocess encoding width x height BGR frames at the
// given frame rate.
func New(width, height, fps int, opts ...Option) (*Encoder, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("ffmpeg: invalid frame size %dx%d", width, height)
	}
	if fps <= 0 {
		return nil, fmt.Errorf("ffmpeg: invalid frame rate %d", fps)
	}

	e := &Encoder{
		width:       width,
		height:      height,
		ffmpegPath:  "ffmpeg",
		bitrateKbps: 1000,
	}
	for _, opt := range opts {
		opt(e)
	}

	e.cmd = exec.Command(e.ffmpegPath, buildArgs(width, height, fps, e.bitrateKbps)...)

	stdin, err := e.cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("ffmpeg: stdin pipe: %w", err)
	}
	stdout, err := e.cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("ffmpeg: stdout pipe: %w", err)
	}
	e.stdin = stdin
	e.stdout = stdout

	if err := e.cmd.Start(); err != nil {
		return nil, fmt.Errorf("ffmpeg: start encoder: %w", err)
	}
	return e, nil
}

// buildArgs assembles the encode command line. Zero lookahead and realtime
// deadline are required so every written frame produces an output frame
// before the next write.
func buildArgs(width, height, fps, bitrateKbps int) []string {
	return []string{
		"-hide_banner", "-loglevel", "error",
		"-f", "rawvideo",
		"-pix_fmt", "bgr24",
		"-s", fmt.Sprintf("%dx%d", width, height),
		"-r", strconv.Itoa(fps),
		"-i", "pipe:0",
		"-c:v", "libvpx",
		"-deadline", "realtime",
		"-cpu-used", "8",
		"-lag-in-frames", "0",
		"-error-resilient", "1",
		"-b:v", fmt.Sprintf("%dk", bitrateKbps),
		"-f", "ivf",
		"pipe:1",
	}
}

// Encode implements codec.Encoder.
func (e *Encoder) Encode(frame types.Image) ([]byte, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return nil, errors.New("ffmpeg: encoder is closed")
	}
	if frame.Width != e.width || frame.Height != e.height {
		return nil, fmt.Errorf("ffmpeg: frame is %dx%d, encoder expects %dx%d",
			frame.Width, frame.Height, e.width, e.height)
	}
	if len(frame.Pix) != e.width*e.height*3 {
		return nil, fmt.Errorf("ffmpeg: frame has %d bytes, want %d", len(frame.Pix), e.width*e.height*3)
	}

	if _, err := e.stdin.Write(frame.Pix); err != nil {
		return nil, fmt.Errorf("ffmpeg: write frame: %w", err)
	}

	// The IVF file header only appears once the first frame has been
	// encoded, so the demuxer is set up lazily here.
	if e.reader == nil {
		r, _, err := ivfreader.NewWith(e.stdout)
		if err != nil {
			return nil, fmt.Errorf("ffmpeg: read ivf header: %w", err)
		}
		e.reader = r
	}

	payload, _, err := e.reader.ParseNextFrame()
	if err != nil {
		return nil, fmt.Errorf("ffmpeg: read encoded frame: %w", err)
	}
	return payload, nil
}

// Close shuts the subprocess down and reaps it.
func (e *Encoder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return nil
	}
	e.closed = true
	_ = e.stdin.Close()

	waited := make(chan error, 1)
	go func() { waited <- e.cmd.Wait() }()

	select {
	case err := <-waited:
		if err != nil {
			return fmt.Errorf("ffmpeg: close: %w", err)
		}
		return nil
	case <-time.After(3 * time.Second):
		_ = e.cmd.Process.Kill()
		<-waited
		return nil
	}
}
