package audio

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
)

// Decoder decompresses encoded audio (MP3, Opus, AAC, ...) to mono float32
// PCM at a fixed sample rate by piping it through an ffmpeg child process.
// One decode spawns one short-lived process; the child is always reaped.
type Decoder struct {
	// FFmpegPath locates the ffmpeg binary. Empty means "ffmpeg" on PATH.
	FFmpegPath string

	// SampleRate is the output rate. Zero means 16000.
	SampleRate int
}

// DecodeToPCM decodes data and returns mono float32 samples in [-1, 1) at
// the decoder's sample rate. The context bounds the child process lifetime.
func (d *Decoder) DecodeToPCM(ctx context.Context, data []byte) ([]float32, error) {
	if len(data) == 0 {
		return nil, nil
	}

	path := d.FFmpegPath
	if path == "" {
		path = "ffmpeg"
	}
	rate := d.SampleRate
	if rate == 0 {
		rate = 16000
	}

	cmd := exec.CommandContext(ctx, path,
		"-hide_banner", "-loglevel", "error",
		"-i", "pipe:0",
		"-f", "s16le",
		"-acodec", "pcm_s16le",
		"-ar", fmt.Sprint(rate),
		"-ac", "1",
		"pipe:1",
	)
	cmd.Stdin = bytes.NewReader(data)

	var out, stderr bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("audio: ffmpeg decode: %w (%s)", err, bytes.TrimSpace(stderr.Bytes()))
	}

	return Int16sToFloat32(BytesToInt16s(out.Bytes())), nil
}
