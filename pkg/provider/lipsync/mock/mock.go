// Package mock provides a test double for the lipsync.Engine interface.
//
// The zero value behaves like a small loaded avatar: LoadAvatar reports a
// 4-frame cycle with 32x32 face boxes and GenerateFaces returns solid-fill
// crops whose first pixel encodes the frame position, so pipeline tests can
// verify frame ordering without model weights.
package mock

import (
	"context"
	"fmt"
	"sync"

	"github.com/mentorverse/liplink/pkg/provider/lipsync"
	"github.com/mentorverse/liplink/pkg/types"
)

// GenerateCall records a single invocation of GenerateFaces.
type GenerateCall struct {
	Ctx       context.Context
	Positions []int
	Chunks    [][][]float32
}

// Engine is a mock implementation of lipsync.Engine.
type Engine struct {
	mu sync.Mutex

	// Info, when non-nil, is returned by LoadAvatar.
	Info *lipsync.AvatarInfo

	// LoadErr, if non-nil, is returned as the error from LoadAvatar.
	LoadErr error

	// GenerateErr, if non-nil, is returned as the error from GenerateFaces.
	GenerateErr error

	// FeatRows, when non-nil, is returned by Audio2Feat; otherwise one row
	// per 320 samples is synthesised.
	FeatRows [][]float32

	// LoadCalls records the avatar directories passed to LoadAvatar.
	LoadCalls []string

	// GenerateCalls records every invocation of GenerateFaces in order.
	GenerateCalls []GenerateCall

	// Closed reports whether Close was called.
	Closed bool
}

// LoadAvatar records the call and returns Info or a default 4-frame cycle.
func (e *Engine) LoadAvatar(ctx context.Context, avatarDir string) (*lipsync.AvatarInfo, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.LoadCalls = append(e.LoadCalls, avatarDir)
	if e.LoadErr != nil {
		return nil, e.LoadErr
	}
	if e.Info != nil {
		return e.Info, nil
	}
	boxes := make([]types.Rect, 4)
	for i := range boxes {
		boxes[i] = types.Rect{X1: 10, Y1: 10, X2: 42, Y2: 42}
	}
	return &lipsync.AvatarInfo{CycleLength: 4, Boxes: boxes}, nil
}

// Audio2Feat synthesises one feature row per 320 samples.
func (e *Engine) Audio2Feat(ctx context.Context, pcm []float32) ([][]float32, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.FeatRows != nil {
		return e.FeatRows, nil
	}
	n := len(pcm) / 320
	rows := make([][]float32, n)
	for i := range rows {
		rows[i] = []float32{float32(i)}
	}
	return rows, nil
}

// GenerateFaces records the call and returns one solid-fill 32x32 crop per
// position, first byte set to the position value.
func (e *Engine) GenerateFaces(ctx context.Context, positions []int, chunks [][][]float32) ([]lipsync.Face, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(positions) != len(chunks) {
		return nil, fmt.Errorf("mock lipsync: %d positions but %d chunks", len(positions), len(chunks))
	}
	e.GenerateCalls = append(e.GenerateCalls, GenerateCall{Ctx: ctx, Positions: positions, Chunks: chunks})
	if e.GenerateErr != nil {
		return nil, e.GenerateErr
	}

	faces := make([]lipsync.Face, len(positions))
	for i, pos := range positions {
		pix := make([]byte, 32*32*3)
		for j := range pix {
			pix[j] = byte(pos)
		}
		faces[i] = lipsync.Face{
			Position: pos,
			Image:    types.Image{Width: 32, Height: 32, Pix: pix},
		}
	}
	return faces, nil
}

// Close marks the engine closed.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.Closed = true
	return nil
}

// Reset clears all recorded calls. Thread-safe.
func (e *Engine) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.LoadCalls = nil
	e.GenerateCalls = nil
	e.Closed = false
}

// Ensure Engine implements lipsync.Engine at compile time.
var _ lipsync.Engine = (*Engine)(nil)
