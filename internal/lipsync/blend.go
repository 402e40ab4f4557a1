package lipsync

import "github.com/mentorverse/liplink/pkg/types"

// Composite pastes a generated face crop back into its frame. The crop is
// resized to the bounding box and, when a mask is available, feathered in by
// the mask's per-pixel alpha so the seam along the jaw does not flicker.
// The input frame is not modified; a blended copy is returned.
func Composite(frame, face types.Image, box types.Rect, mask *types.Image) types.Image {
	out := types.Image{
		Width:  frame.Width,
		Height: frame.Height,
		Pix:    make([]byte, len(frame.Pix)),
	}
	copy(out.Pix, frame.Pix)

	bw, bh := box.Width(), box.Height()
	if bw <= 0 || bh <= 0 {
		return out
	}

	resized := face
	if face.Width != bw || face.Height != bh {
		resized = resizeBGR(face, bw, bh)
	}
	var alpha types.Image
	if mask != nil {
		alpha = *mask
		if alpha.Width != bw || alpha.Height != bh {
			alpha = resizeBGR(alpha, bw, bh)
		}
	}

	for y := 0; y < bh; y++ {
		fy := box.Y1 + y
		if fy < 0 || fy >= frame.Height {
			continue
		}
		for x := 0; x < bw; x++ {
			fx := box.X1 + x
			if fx < 0 || fx >= frame.Width {
				continue
			}
			src := (y*bw + x) * 3
			dst := (fy*frame.Width + fx) * 3

			if mask == nil {
				copy(out.Pix[dst:dst+3], resized.Pix[src:src+3])
				continue
			}
			a := int(alpha.Pix[src])
			for c := 0; c < 3; c++ {
				o := int(out.Pix[dst+c])
				n := int(resized.Pix[src+c])
				out.Pix[dst+c] = byte((n*a + o*(255-a)) / 255)
			}
		}
	}
	return out
}

// resizeBGR scales an image with nearest-neighbour sampling. Face crops and
// boxes differ by a few pixels at most, so interpolation quality does not
// matter here.
func resizeBGR(src types.Image, w, h int) types.Image {
	out := types.Image{Width: w, Height: h, Pix: make([]byte, w*h*3)}
	if src.Width == 0 || src.Height == 0 {
		return out
	}
	for y := 0; y < h; y++ {
		sy := y * src.Height / h
		for x := 0; x < w; x++ {
			sx := x * src.Width / w
			copy(out.Pix[(y*w+x)*3:(y*w+x)*3+3], src.Pix[(sy*src.Width+sx)*3:(sy*src.Width+sx)*3+3])
		}
	}
	return out
}
