package camera

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"sync"

	"github.com/cjeanneret/photobox/internal/debug"
)

// Synthetic generates a test-pattern feed. It is used in mock mode (no
// webcam on the host) and in tests.
//
// The pattern has a left-to-right hue gradient and a marker band on the
// left edge, so a mirrored still is easy to tell apart from the raw frame.
type Synthetic struct {
	Width, Height int

	// WarmupFrames is the number of initial Frame calls that return a
	// zero-sized image, like a decoder that has not produced output yet.
	WarmupFrames int

	// Deny makes Open fail as if camera permission had been refused.
	Deny bool

	mu     sync.Mutex
	open   bool
	served int
	closes int
}

// NewSynthetic returns a synthetic device producing width x height frames.
func NewSynthetic(width, height, warmupFrames int) *Synthetic {
	return &Synthetic{Width: width, Height: height, WarmupFrames: warmupFrames}
}

func (s *Synthetic) Open(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.Deny {
		return fmt.Errorf("synthetic camera: permission denied: %w", ErrDeviceUnavailable)
	}
	if s.Width <= 0 || s.Height <= 0 {
		return fmt.Errorf("synthetic camera: invalid size %dx%d: %w", s.Width, s.Height, ErrDeviceUnavailable)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.open = true
	debug.Verbose("Synthetic camera opened (%dx%d, warmup=%d)", s.Width, s.Height, s.WarmupFrames)
	return nil
}

func (s *Synthetic) Frame() (image.Image, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.open {
		return nil, ErrFrameNotReady
	}
	s.served++
	if s.served <= s.WarmupFrames {
		debug.Trace("Synthetic camera: warm-up frame %d/%d", s.served, s.WarmupFrames)
		return image.NewRGBA(image.Rectangle{}), nil
	}
	return s.pattern(s.served), nil
}

func (s *Synthetic) pattern(seq int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, s.Width, s.Height))
	band := s.Width / 10
	for y := 0; y < s.Height; y++ {
		for x := 0; x < s.Width; x++ {
			if x < band {
				img.SetRGBA(x, y, color.RGBA{R: 255, A: 255})
				continue
			}
			img.SetRGBA(x, y, color.RGBA{
				R: uint8(x * 255 / s.Width),
				G: uint8(y * 255 / s.Height),
				B: uint8(seq * 40),
				A: 255,
			})
		}
	}
	return img
}

func (s *Synthetic) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.open {
		debug.Verbose("Synthetic camera: tracks stopped")
	}
	s.open = false
	s.closes++
	return nil
}

// Closed reports whether Close has been called at least once.
func (s *Synthetic) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closes > 0 && !s.open
}
