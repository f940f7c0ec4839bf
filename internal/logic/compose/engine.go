// Package compose renders captured shots into a collage and wraps finished
// collages for export.
package compose

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	_ "image/jpeg"
	"image/png"
	"sync/atomic"
	"time"

	xdraw "golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
	"golang.org/x/sync/errgroup"

	"github.com/cjeanneret/photobox/internal/debug"
	"github.com/cjeanneret/photobox/internal/layout"
	"github.com/cjeanneret/photobox/internal/logic/capture"
	"github.com/cjeanneret/photobox/internal/logic/geometry"
)

// DecodeError reports a shot that could not be decoded. The slot is left
// as background fill.
type DecodeError struct {
	Index int
	Err   error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode photo #%d: %v", e.Index+1, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// TemplateLoadError reports an overlay that could not be loaded. The collage
// is published without it.
type TemplateLoadError struct {
	Ref string
	Err error
}

func (e *TemplateLoadError) Error() string {
	return fmt.Sprintf("load template %q: %v", e.Ref, e.Err)
}

func (e *TemplateLoadError) Unwrap() error { return e.Err }

// Decoder turns a captured still into pixels.
type Decoder interface {
	Decode(ctx context.Context, a *capture.PhotoArtifact) (image.Image, error)
}

// DecoderFunc adapts a function to Decoder.
type DecoderFunc func(ctx context.Context, a *capture.PhotoArtifact) (image.Image, error)

func (f DecoderFunc) Decode(ctx context.Context, a *capture.PhotoArtifact) (image.Image, error) {
	return f(ctx, a)
}

// StillDecoder decodes the artifact payload with the registered image
// formats (PNG, JPEG, WebP).
var StillDecoder = DecoderFunc(func(_ context.Context, a *capture.PhotoArtifact) (image.Image, error) {
	if a == nil || len(a.PNG) == 0 {
		return nil, fmt.Errorf("empty payload")
	}
	img, _, err := image.Decode(bytes.NewReader(a.PNG))
	return img, err
})

// OverlayLoader resolves a layout's overlay reference.
type OverlayLoader interface {
	Load(ctx context.Context, ref string, l layout.Layout) (image.Image, error)
}

// Collage is a finished composition. It is replaced, never updated, when a
// session is retried.
type Collage struct {
	SessionID  string      `json:"session_id"`
	LayoutID   string      `json:"layout_id"`
	LayoutName string      `json:"layout_name"`
	Image      *image.RGBA `json:"-"`
	Failed     []int       `json:"failed,omitempty"` // slots left unpainted
	Overlay    bool        `json:"overlay"`          // overlay drawn
	OverlayErr string      `json:"overlay_error,omitempty"`
	Settled    int         `json:"settled"`
	Total      int         `json:"total"`
	CreatedAt  time.Time   `json:"created_at"`
}

// Degraded reports whether any slot or the overlay is missing.
func (c *Collage) Degraded() bool {
	return len(c.Failed) > 0 || c.OverlayErr != ""
}

// PNG encodes the collage.
func (c *Collage) PNG() ([]byte, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, c.Image); err != nil {
		return nil, fmt.Errorf("encode collage: %w", err)
	}
	return buf.Bytes(), nil
}

// DataURI encodes the collage as a PNG data URI.
func (c *Collage) DataURI() (string, error) {
	b, err := c.PNG()
	if err != nil {
		return "", err
	}
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(b), nil
}

// Engine composes collages. The zero value decodes with StillDecoder,
// scales with Catmull-Rom and draws no overlay.
type Engine struct {
	Decoder  Decoder
	Overlays OverlayLoader
	Scaler   xdraw.Scaler
	now      func() time.Time
}

// NewEngine returns an engine loading overlays from overlays.
func NewEngine(overlays OverlayLoader) *Engine {
	return &Engine{Decoder: StillDecoder, Overlays: overlays, Scaler: xdraw.CatmullRom}
}

type tile struct {
	img *image.RGBA
	err error
}

// Compose renders shots into a fresh CollageSize x CollageSize buffer.
//
// Every shot with a matching placement is decoded and scaled concurrently.
// Once all of them have settled, tiles are painted by shot index and the
// overlay is drawn full bleed exactly once. Decode and overlay failures
// degrade the result; Compose itself only fails when ctx is cancelled.
func (e *Engine) Compose(ctx context.Context, l layout.Layout, shots []*capture.PhotoArtifact) (*Collage, error) {
	dec := e.Decoder
	if dec == nil {
		dec = StillDecoder
	}
	scaler := e.Scaler
	if scaler == nil {
		scaler = xdraw.CatmullRom
	}
	now := time.Now
	if e.now != nil {
		now = e.now
	}

	canvas := image.NewRGBA(image.Rect(0, 0, layout.CollageSize, layout.CollageSize))
	draw.Draw(canvas, canvas.Bounds(), image.NewUniform(color.White), image.Point{}, draw.Src)

	total := min(len(shots), len(l.Placements))
	tiles := make([]tile, total)
	var settled atomic.Int32

	debug.Verbose("Compose %s: %d photos", l.ID, total)
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < total; i++ {
		g.Go(func() error {
			defer settled.Add(1)
			img, err := dec.Decode(gctx, shots[i])
			if err != nil {
				if cerr := gctx.Err(); cerr != nil {
					return cerr
				}
				tiles[i].err = &DecodeError{Index: i, Err: err}
				return nil
			}
			tiles[i].img = fit(scaler, img, l.Placements[i])
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	// Barrier: every decode has settled, successfully or not.
	if n := int(settled.Load()); n != total {
		return nil, fmt.Errorf("compose %s: %d of %d photos settled", l.ID, n, total)
	}

	c := &Collage{
		LayoutID:   l.ID,
		LayoutName: l.Name,
		Image:      canvas,
		Settled:    total,
		Total:      total,
	}
	for i, t := range tiles {
		if t.err != nil {
			debug.Warn("Compose %s: slot %d left empty: %v", l.ID, i, t.err)
			c.Failed = append(c.Failed, i)
			continue
		}
		r := l.Placements[i].Rect()
		draw.Draw(canvas, r, t.img, r.Min, draw.Over)
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := e.drawOverlay(ctx, canvas, l); err != nil {
		debug.Warn("Compose %s: %v", l.ID, err)
		c.OverlayErr = err.Error()
	} else if l.Overlay != "" {
		c.Overlay = true
	}

	c.CreatedAt = now()
	debug.Info("Collage %s ready (%d/%d photos, overlay=%t)", l.ID, total-len(c.Failed), total, c.Overlay)
	return c, nil
}

// fit scales img to cover p and clips the result to p.
func fit(scaler xdraw.Scaler, img image.Image, p layout.Placement) *image.RGBA {
	sb := img.Bounds()
	dr := geometry.Cover(sb.Dx(), sb.Dy(), p).Bounds()
	dst := image.NewRGBA(p.Rect())
	scaler.Scale(dst, dr, img, sb, draw.Over, nil)
	debug.Trace("fit %dx%d -> %v clipped to %v", sb.Dx(), sb.Dy(), dr, p.Rect())
	return dst
}

func (e *Engine) drawOverlay(ctx context.Context, canvas *image.RGBA, l layout.Layout) error {
	if l.Overlay == "" {
		return nil
	}
	if e.Overlays == nil {
		return &TemplateLoadError{Ref: l.Overlay, Err: fmt.Errorf("no overlay loader")}
	}
	ov, err := e.Overlays.Load(ctx, l.Overlay, l)
	if err != nil {
		return &TemplateLoadError{Ref: l.Overlay, Err: err}
	}
	if ov.Bounds().Size() == canvas.Bounds().Size() {
		draw.Draw(canvas, canvas.Bounds(), ov, ov.Bounds().Min, draw.Over)
		return nil
	}
	xdraw.BiLinear.Scale(canvas, canvas.Bounds(), ov, ov.Bounds(), draw.Over, nil)
	return nil
}
