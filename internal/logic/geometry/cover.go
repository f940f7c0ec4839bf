// Package geometry holds the pure placement math used by the compositor.
package geometry

import (
	"image"
	"math"

	"github.com/cjeanneret/photobox/internal/layout"
)

// Rect is a floating-point rectangle in collage coordinates.
type Rect struct {
	X, Y, W, H float64
}

// Bounds converts r to integer pixel bounds. Min is floored and Max is
// ceiled so the pixel rectangle always contains r.
func (r Rect) Bounds() image.Rectangle {
	return image.Rect(
		int(math.Floor(r.X)),
		int(math.Floor(r.Y)),
		int(math.Ceil(r.X+r.W)),
		int(math.Ceil(r.Y+r.H)),
	)
}

// Aspect returns W/H.
func (r Rect) Aspect() float64 {
	return r.W / r.H
}

// Cover computes the draw rectangle for an image of srcW x srcH pixels so it
// fills dst completely while keeping its aspect ratio ("cover" scaling).
// The longer dimension overflows dst by the same amount on both sides.
//
// imageAspect > dstAspect (image relatively wider):
//
//	height = h, width = h × imageAspect, x = dst.x − (width − w) / 2
//
// otherwise (image relatively taller or equal):
//
//	width = w, height = w / imageAspect, y = dst.y − (height − h) / 2
func Cover(srcW, srcH int, dst layout.Placement) Rect {
	x, y := float64(dst.X), float64(dst.Y)
	w, h := float64(dst.W), float64(dst.H)
	if srcW <= 0 || srcH <= 0 {
		return Rect{X: x, Y: y, W: w, H: h}
	}

	imageAspect := float64(srcW) / float64(srcH)
	if imageAspect > w/h {
		drawW := h * imageAspect
		return Rect{X: x - (drawW-w)/2, Y: y, W: drawW, H: h}
	}
	drawH := w / imageAspect
	return Rect{X: x, Y: y - (drawH-h)/2, W: w, H: drawH}
}
