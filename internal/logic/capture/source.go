package capture

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/draw"
	"image/png"
	"sync"
	"time"

	"github.com/cjeanneret/photobox/internal/debug"
	"github.com/cjeanneret/photobox/internal/hw/camera"
	xdraw "golang.org/x/image/draw"
	"golang.org/x/image/math/f64"
)

// SourceState is the lifecycle of a frame source.
type SourceState int

const (
	SourceIdle SourceState = iota
	SourceAcquiring
	SourceReady
	SourceFailed
	SourceClosed
)

func (s SourceState) String() string {
	switch s {
	case SourceIdle:
		return "idle"
	case SourceAcquiring:
		return "acquiring"
	case SourceReady:
		return "ready"
	case SourceFailed:
		return "failed"
	case SourceClosed:
		return "closed"
	}
	return fmt.Sprintf("SourceState(%d)", int(s))
}

// DefaultRetryDelay is the wait before the single retry when the device
// is open but has not produced a non-zero frame yet.
const DefaultRetryDelay = 700 * time.Millisecond

// Source owns the camera device for the lifetime of the booth and turns
// its live feed into mirrored stills. The device is acquired once and
// reused for every shot; it is released only by Close.
type Source struct {
	dev        camera.Device
	retryDelay time.Duration
	now        func() time.Time

	mu        sync.Mutex
	state     SourceState
	err       error
	acquiring chan struct{} // closed when the running Open returns
}

// NewSource wraps dev. retryDelay <= 0 selects DefaultRetryDelay.
func NewSource(dev camera.Device, retryDelay time.Duration) *Source {
	if retryDelay <= 0 {
		retryDelay = DefaultRetryDelay
	}
	return &Source{dev: dev, retryDelay: retryDelay, now: time.Now}
}

// State returns the current lifecycle state.
func (s *Source) State() SourceState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Err returns the acquisition error once the source has failed.
func (s *Source) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Acquire opens the device. A denied or missing device leaves the source
// in SourceFailed: later calls return the same error without retrying.
// The device is released on the failure path too. The lock is not held
// while the device opens; concurrent callers wait for the running open.
func (s *Source) Acquire(ctx context.Context) error {
	s.mu.Lock()
	for s.state == SourceAcquiring {
		ch := s.acquiring
		s.mu.Unlock()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ch:
		}
		s.mu.Lock()
	}

	switch s.state {
	case SourceReady:
		s.mu.Unlock()
		return nil
	case SourceFailed:
		err := s.err
		s.mu.Unlock()
		return err
	case SourceClosed:
		s.mu.Unlock()
		return ErrSourceClosed
	}
	s.state = SourceAcquiring
	done := make(chan struct{})
	s.acquiring = done
	s.mu.Unlock()

	debug.Info("Requesting camera access")
	err := s.dev.Open(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()
	defer close(done)
	s.acquiring = nil

	if s.state == SourceClosed {
		// Closed while opening: release what Open may have started.
		if cerr := s.dev.Close(); cerr != nil {
			debug.Error(fmt.Errorf("release camera after close: %w", cerr))
		}
		return ErrSourceClosed
	}
	if err != nil {
		if cerr := s.dev.Close(); cerr != nil {
			debug.Error(fmt.Errorf("release camera after failed open: %w", cerr))
		}
		if ctx.Err() != nil && !errors.Is(err, camera.ErrDeviceUnavailable) {
			// Interrupted, not refused: a later Acquire may try again.
			s.state = SourceIdle
			return err
		}
		if !errors.Is(err, camera.ErrDeviceUnavailable) {
			err = fmt.Errorf("%w: %w", camera.ErrDeviceUnavailable, err)
		}
		s.state = SourceFailed
		s.err = fmt.Errorf("acquire camera: %w", err)
		debug.Error(s.err)
		return s.err
	}

	s.state = SourceReady
	debug.Info("Camera ready")
	return nil
}

// Rearm abandons a pending physical shot on devices that trigger one, so
// the next capture starts a new shot.
func (s *Source) Rearm() {
	if r, ok := s.dev.(camera.Rearmer); ok {
		r.Rearm()
	}
}

// CaptureStill grabs the current frame, mirrors it horizontally and
// returns it as a PNG artifact. When the device reports no frame yet it
// waits retryDelay and tries exactly once more before failing with a
// CaptureError wrapping camera.ErrFrameNotReady.
func (s *Source) CaptureStill(ctx context.Context, index int) (*PhotoArtifact, error) {
	for attempt := 0; ; attempt++ {
		img, err := s.grab()
		if err == nil {
			return s.still(index, img)
		}
		if !errors.Is(err, camera.ErrFrameNotReady) || attempt > 0 {
			return nil, &CaptureError{Index: index, Err: err}
		}

		debug.Live("Photo #%d: frame not ready, retrying in %v", index+1, s.retryDelay)
		timer := time.NewTimer(s.retryDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, &CaptureError{Index: index, Err: ctx.Err()}
		case <-timer.C:
		}
	}
}

func (s *Source) grab() (*image.RGBA, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case SourceClosed:
		return nil, ErrSourceClosed
	case SourceFailed:
		return nil, s.err
	case SourceIdle, SourceAcquiring:
		return nil, camera.ErrFrameNotReady
	}

	img, err := s.dev.Frame()
	if err != nil {
		return nil, err
	}
	if camera.Empty(img) {
		return nil, camera.ErrFrameNotReady
	}
	// Detach from the device buffer before releasing the lock.
	return Mirror(img), nil
}

func (s *Source) still(index int, mirrored *image.RGBA) (*PhotoArtifact, error) {
	var buf bytes.Buffer
	enc := png.Encoder{CompressionLevel: png.BestSpeed}
	if err := enc.Encode(&buf, mirrored); err != nil {
		return nil, &CaptureError{Index: index, Err: fmt.Errorf("encode still: %w", err)}
	}
	b := mirrored.Bounds()
	debug.Verbose("Photo #%d: still %dx%d (%d bytes)", index+1, b.Dx(), b.Dy(), buf.Len())
	return &PhotoArtifact{
		Index:   index,
		Width:   b.Dx(),
		Height:  b.Dy(),
		PNG:     buf.Bytes(),
		TakenAt: s.now(),
	}, nil
}

// Close stops the device tracks. Safe to call repeatedly.
func (s *Source) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == SourceClosed {
		return nil
	}
	s.state = SourceClosed
	debug.Info("Releasing camera")
	return s.dev.Close()
}

// Mirror returns a horizontally flipped copy of img at its native size,
// so the still matches what the subject sees in a mirror.
func Mirror(img image.Image) *image.RGBA {
	b := img.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	// src -> dst: dx = (b.Min.X + width) - sx, dy = sy - b.Min.Y
	s2d := f64.Aff3{
		-1, 0, float64(b.Min.X + b.Dx()),
		0, 1, float64(-b.Min.Y),
	}
	xdraw.NearestNeighbor.Transform(dst, s2d, img, b, draw.Src, nil)
	return dst
}
