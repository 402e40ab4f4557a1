// Package lipsync defines the Engine interface for the neural lip-sync
// collaborator.
//
// An engine owns one avatar's model state (face latents, bounding boxes) and
// turns audio-feature windows into synthesised mouth regions. The real
// implementation is a model-runner subprocess (see the runner subpackage);
// tests use the deterministic mock.
package lipsync

import (
	"context"

	"github.com/mentorverse/liplink/pkg/types"
)

// AvatarInfo describes a loaded avatar's preprocessed frame cycle.
type AvatarInfo struct {
	// CycleLength is the number of frames in the preprocessed cycle. Frame
	// positions passed to GenerateFaces must lie in [0, CycleLength).
	CycleLength int

	// Boxes holds the face bounding box for each frame of the cycle, in
	// full-frame pixel coordinates.
	Boxes []types.Rect
}

// Face is one synthesised mouth region, sized to the bounding box of the
// frame at Position.
type Face struct {
	Position int
	Image    types.Image
}

// Engine is the abstraction over a neural lip-sync backend.
//
// Implementations must be safe for concurrent use. GenerateFaces calls are
// typically serialised internally; callers should treat throughput as one
// batch at a time.
type Engine interface {
	// LoadAvatar loads the avatar bundle rooted at avatarDir (latents,
	// coordinate lists, blending masks) and returns its cycle geometry.
	// Must be called before GenerateFaces.
	LoadAvatar(ctx context.Context, avatarDir string) (*AvatarInfo, error)

	// Audio2Feat extracts audio-feature rows from 16 kHz mono float32 PCM,
	// one row per 20 ms.
	Audio2Feat(ctx context.Context, pcm []float32) ([][]float32, error)

	// GenerateFaces runs batched inference: for each position and its
	// feature window it returns the synthesised face crop. positions and
	// chunks must have equal length.
	GenerateFaces(ctx context.Context, positions []int, chunks [][][]float32) ([]Face, error)

	// Close releases model state. The engine is unusable afterwards.
	Close() error
}
