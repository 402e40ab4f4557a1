package audio

// FrameSize16k20ms is the number of samples in a 20 ms frame at 16 kHz, the
// chunk granularity of the streaming pipeline.
const FrameSize16k20ms = 320

// ChunkFrames splits pcm into frames of frameSize samples. The final partial
// frame is zero-padded to full size so every emitted frame has the same
// duration. An empty input yields no frames.
func ChunkFrames(pcm []float32, frameSize int) [][]float32 {
	if frameSize <= 0 || len(pcm) == 0 {
		return nil
	}
	n := (len(pcm) + frameSize - 1) / frameSize
	frames := make([][]float32, 0, n)
	for off := 0; off < len(pcm); off += frameSize {
		end := off + frameSize
		if end <= len(pcm) {
			frames = append(frames, pcm[off:end:end])
			continue
		}
		padded := make([]float32, frameSize)
		copy(padded, pcm[off:])
		frames = append(frames, padded)
	}
	return frames
}

// SilenceFrame returns an all-zero frame of frameSize samples.
func SilenceFrame(frameSize int) []float32 {
	return make([]float32, frameSize)
}

// IsSilence reports whether every sample's magnitude is at or below threshold.
func IsSilence(frame []float32, threshold float32) bool {
	for _, s := range frame {
		if s > threshold || s < -threshold {
			return false
		}
	}
	return true
}
