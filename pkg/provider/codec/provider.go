// Package codec defines the video encoder abstraction used by the media
// transport. Raw BGR frames from the lip-sync pipeline are compressed into a
// WebRTC-ready bitstream, one encoded frame per input frame.
package codec

import "github.com/mentorverse/liplink/pkg/types"

// Encoder compresses raw frames into a codec bitstream.
//
// Implementations are not required to be safe for concurrent use; the
// transport owns one encoder per video track and calls it from a single
// goroutine.
type Encoder interface {
	// Encode compresses one frame and returns its bitstream payload. All
	// frames must share the dimensions given at construction.
	Encode(frame types.Image) ([]byte, error)

	// Close releases the encoder. The encoder is unusable afterwards.
	Close() error
}
