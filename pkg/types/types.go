// Package types defines the shared types used across all liplink packages.
//
// These types form the lingua franca between the gateway, the per-tutor
// engines, the lip-sync pipeline, and the media transport. They are
// intentionally minimal — each package defines its own domain types, but
// cross-cutting data structures live here to avoid circular imports.
package types

// Image is a single uncompressed video frame in BGR byte order, row-major,
// three bytes per pixel. BGR matches the layout of the prerendered avatar
// assets, so frames can be blended without a channel swap.
type Image struct {
	Width  int
	Height int
	// Pix holds Width*Height*3 bytes. Row r, column c starts at
	// (r*Width+c)*3.
	Pix []byte
}

// Empty reports whether the image carries no pixel data.
func (im Image) Empty() bool {
	return im.Width == 0 || im.Height == 0 || len(im.Pix) == 0
}

// Rect is a pixel-space bounding box with exclusive right/bottom edges,
// matching the coordinate lists stored alongside each avatar.
type Rect struct {
	X1, Y1, X2, Y2 int
}

// Width returns the horizontal extent of the box.
func (r Rect) Width() int { return r.X2 - r.X1 }

// Height returns the vertical extent of the box.
func (r Rect) Height() int { return r.Y2 - r.Y1 }

// Document is a single retrieval result from the RAG collaborator.
type Document struct {
	// Content is the retrieved passage text.
	Content string `json:"content"`

	// Source identifies where the passage came from (file name, URL, ...).
	Source string `json:"source"`

	// Score is the retrieval relevance score reported by the backend.
	Score float64 `json:"score"`
}
