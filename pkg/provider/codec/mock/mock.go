// Package mock provides a test double for the codec.Encoder interface.
package mock

import (
	"sync"

	"github.com/mentorverse/liplink/pkg/provider/codec"
	"github.com/mentorverse/liplink/pkg/types"
)

// Encoder is a mock implementation of codec.Encoder. By default Encode is a
// passthrough returning a copy of the frame's raw pixels, so transport tests
// can match payloads back to the frames that produced them.
type Encoder struct {
	mu sync.Mutex

	// Payload, when non-nil, is returned by every Encode call.
	Payload []byte

	// Err, if non-nil, is returned as the error from Encode.
	Err error

	// EncodeCalls records the frames passed to Encode in order.
	EncodeCalls []types.Image

	// Closed reports whether Close was called.
	Closed bool
}

// Encode records the call and returns Payload or a copy of the frame pixels.
func (e *Encoder) Encode(frame types.Image) ([]byte, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.EncodeCalls = append(e.EncodeCalls, frame)
	if e.Err != nil {
		return nil, e.Err
	}
	if e.Payload != nil {
		return e.Payload, nil
	}
	out := make([]byte, len(frame.Pix))
	copy(out, frame.Pix)
	return out, nil
}

// Close marks the encoder closed.
func (e *Encoder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.Closed = true
	return nil
}

// Reset clears all recorded calls. Thread-safe.
func (e *Encoder) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.EncodeCalls = nil
	e.Closed = false
}

// Ensure Encoder implements codec.Encoder at compile time.
var _ codec.Encoder = (*Encoder)(nil)
