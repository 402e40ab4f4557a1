package lipsync

import (
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/mentorverse/liplink/pkg/types"
)

// Avatar holds the decoded frame cycle for one avatar: the original full
// frames and the per-frame blending masks. Face bounding boxes live in
// lipsync.AvatarInfo, reported by the engine when the model state is loaded.
type Avatar struct {
	// Frames is the preprocessed frame cycle in BGR order.
	Frames []types.Image

	// Masks holds one blending mask per frame, aligned with the face
	// bounding box. Empty when the avatar bundle ships no masks; generated
	// faces are then pasted without feathering.
	Masks []types.Image
}

// CycleLength returns the number of frames in the cycle.
func (a *Avatar) CycleLength() int {
	return len(a.Frames)
}

// LoadAvatar reads the avatar bundle at dir: full frames from full_imgs/ and
// optional blending masks from mask/. Files are ordered by their numeric
// basename. maxFrames caps the cycle length; 0 means no cap.
func LoadAvatar(dir string, maxFrames int) (*Avatar, error) {
	framePaths, err := listNumeric(filepath.Join(dir, "full_imgs"))
	if err != nil {
		return nil, fmt.Errorf("lipsync: list avatar frames: %w", err)
	}
	if len(framePaths) == 0 {
		return nil, fmt.Errorf("lipsync: avatar %q has no frames", dir)
	}
	if maxFrames > 0 && len(framePaths) > maxFrames {
		framePaths = framePaths[:maxFrames]
	}

	av := &Avatar{Frames: make([]types.Image, len(framePaths))}
	for i, p := range framePaths {
		img, err := decodeBGR(p)
		if err != nil {
			return nil, fmt.Errorf("lipsync: frame %q: %w", p, err)
		}
		av.Frames[i] = img
	}

	maskPaths, err := listNumeric(filepath.Join(dir, "mask"))
	if err != nil || len(maskPaths) == 0 {
		return av, nil
	}
	if len(maskPaths) > len(av.Frames) {
		maskPaths = maskPaths[:len(av.Frames)]
	}
	av.Masks = make([]types.Image, len(maskPaths))
	for i, p := range maskPaths {
		img, err := decodeBGR(p)
		if err != nil {
			return nil, fmt.Errorf("lipsync: mask %q: %w", p, err)
		}
		av.Masks[i] = img
	}
	return av, nil
}

// listNumeric returns the image files in dir sorted by the integer value of
// their basename, matching how the preprocessing step numbers frames.
func listNumeric(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	type numbered struct {
		n    int
		path string
	}
	var files []numbered
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		ext := strings.ToLower(filepath.Ext(name))
		if ext != ".png" && ext != ".jpg" && ext != ".jpeg" {
			continue
		}
		n, err := strconv.Atoi(strings.TrimSuffix(name, filepath.Ext(name)))
		if err != nil {
			continue
		}
		files = append(files, numbered{n: n, path: filepath.Join(dir, name)})
	}
	sort.Slice(files, func(i, j int) bool { return files[i].n < files[j].n })

	out := make([]string, len(files))
	for i, f := range files {
		out[i] = f.path
	}
	return out, nil
}

// decodeBGR decodes an image file into raw BGR24 pixels.
func decodeBGR(path string) (types.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return types.Image{}, err
	}
	defer f.Close()

	src, _, err := image.Decode(f)
	if err != nil {
		return types.Image{}, err
	}

	b := src.Bounds()
	w, h := b.Dx(), b.Dy()
	pix := make([]byte, w*h*3)
	i := 0
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			r, g, bl, _ := src.At(x, y).RGBA()
			pix[i] = byte(bl >> 8)
			pix[i+1] = byte(g >> 8)
			pix[i+2] = byte(r >> 8)
			i += 3
		}
	}
	return types.Image{Width: w, Height: h, Pix: pix}, nil
}
