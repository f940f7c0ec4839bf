package compose

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"os"
	"path/filepath"
	"strings"

	"github.com/cjeanneret/photobox/internal/debug"
	"github.com/cjeanneret/photobox/internal/layout"
)

// BuiltinPrefix marks overlays rendered in code instead of read from disk.
const BuiltinPrefix = "builtin:"

var (
	// PolaroidFrame is the paper color of the builtin polaroid overlay.
	PolaroidFrame = color.RGBA{R: 248, G: 245, B: 238, A: 255}
	// PolaroidEdge outlines each photo window.
	PolaroidEdge = color.RGBA{R: 70, G: 70, B: 70, A: 255}
)

// polaroidEdgePx is the width of the line drawn around each window.
const polaroidEdgePx = 2

// Assets loads overlay templates. File references are resolved under Root
// and may not escape it.
type Assets struct {
	Root string
}

// NewAssets returns a loader rooted at dir.
func NewAssets(dir string) *Assets {
	return &Assets{Root: dir}
}

// Load resolves ref for layout l.
func (a *Assets) Load(ctx context.Context, ref string, l layout.Layout) (image.Image, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if name, ok := strings.CutPrefix(ref, BuiltinPrefix); ok {
		switch name {
		case "polaroid":
			return Polaroid(l), nil
		case "none":
			return image.NewRGBA(image.Rect(0, 0, layout.CollageSize, layout.CollageSize)), nil
		}
		return nil, fmt.Errorf("unknown builtin overlay %q", name)
	}
	return a.loadFile(ref)
}

func (a *Assets) loadFile(ref string) (image.Image, error) {
	if ref == "" || !filepath.IsLocal(ref) {
		return nil, fmt.Errorf("invalid asset path %q", ref)
	}
	path := filepath.Join(a.Root, ref)
	fh, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer fh.Close()

	img, format, err := image.Decode(fh)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	debug.Verbose("Overlay %s loaded (%s, %v)", path, format, img.Bounds())
	return img, nil
}

// Polaroid renders a frame covering the whole canvas except the layout's
// placement windows, with a thin edge around each window.
func Polaroid(l layout.Layout) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, layout.CollageSize, layout.CollageSize))
	draw.Draw(img, img.Bounds(), image.NewUniform(PolaroidFrame), image.Point{}, draw.Src)
	edge := image.NewUniform(PolaroidEdge)
	for _, p := range l.Placements {
		draw.Draw(img, p.Rect().Inset(-polaroidEdgePx), edge, image.Point{}, draw.Src)
	}
	for _, p := range l.Placements {
		draw.Draw(img, p.Rect(), image.Transparent, image.Point{}, draw.Src)
	}
	return img
}
