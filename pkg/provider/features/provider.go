// Package features defines the audio-feature extraction seam of the lip-sync
// pipeline and the pure windowing that aligns audio features with video
// frames.
//
// Audio features are produced at 50 rows per second of audio. Video runs at
// 25 fps, so each video frame owns two feature rows; the inference model
// additionally wants two video frames of context on each side, giving a
// 10-row window per frame.
package features

import "context"

const (
	// FeatureRate is the feature rows produced per second of audio.
	FeatureRate = 50.0

	// ContextLeft and ContextRight are the context window sizes in video
	// frames on each side of the target frame.
	ContextLeft  = 2
	ContextRight = 2
)

// Extractor converts PCM audio into a sequence of feature rows.
type Extractor interface {
	// Audio2Feat extracts feature rows from 16 kHz mono float32 PCM.
	// The result has one row per 20 ms of audio.
	Audio2Feat(ctx context.Context, pcm []float32) ([][]float32, error)
}

// SliceFeature returns the feature window owned by video frame vidIdx: the
// rows covering the frame plus ContextLeft/ContextRight frames of context,
// clamped to the valid range by edge replication. fps is the video frame
// rate the indices are expressed in.
func SliceFeature(feats [][]float32, vidIdx float64, fps float64) [][]float32 {
	if len(feats) == 0 {
		return nil
	}
	centerIdx := int(vidIdx * FeatureRate / fps)
	leftIdx := centerIdx - ContextLeft*2
	rightIdx := centerIdx + (ContextRight+1)*2

	window := make([][]float32, 0, rightIdx-leftIdx)
	for idx := leftIdx; idx < rightIdx; idx++ {
		i := idx
		if i < 0 {
			i = 0
		}
		if i > len(feats)-1 {
			i = len(feats) - 1
		}
		window = append(window, feats[i])
	}
	return window
}

// Feature2Chunks produces one feature window per video frame for a batch.
// start offsets the first frame index, which the streaming pipeline uses to
// skip the left context rows it already emitted.
func Feature2Chunks(feats [][]float32, fps float64, batchSize int, start float64) [][][]float32 {
	chunks := make([][][]float32, 0, batchSize)
	for i := 0; i < batchSize; i++ {
		chunks = append(chunks, SliceFeature(feats, float64(i)+start, fps))
	}
	return chunks
}
