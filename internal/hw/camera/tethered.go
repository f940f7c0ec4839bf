package camera

import (
	"context"
	"fmt"
	"image"
	"sync"
	"time"

	"github.com/cjeanneret/photobox/internal/debug"
	"github.com/cjeanneret/photobox/internal/hw/gpio"
)

// Tethered is a DSLR fired through its 3-pin remote connector while a
// tether tool (gphoto2, digiCamControl, ...) downloads each shot to Path:
// - GND: connected to Raspberry Pi ground
// - FOCUS: autofocus (activate by setting to LOW)
// - SHUTTER: trigger (activate by setting to LOW)
//
// Frame fires the shutter once, then reports a not-warm frame until the
// tether tool has written a new file. Retries of the same shot do not fire
// again, unless the download is still missing after the download timeout
// or the shot was abandoned with Rearm.
type Tethered struct {
	gpio         gpio.Driver
	focusPin     int
	shutterPin   int
	focusDelay   time.Duration // time for autofocus
	shutterDelay time.Duration // shutter hold time
	timeout      time.Duration // re-fire when no download lands in time, 0 = never
	file         *File
	now          func() time.Time

	mu      sync.Mutex
	pending bool
	firedAt uint64    // file frame count when the shutter fired
	firedOn time.Time // when the shutter fired
}

// NewTethered creates a GPIO-fired camera whose shots arrive at path.
// downloadTimeout bounds the wait for one shot's file before the shutter
// fires again; 0 waits forever.
func NewTethered(g gpio.Driver, focusPin, shutterPin int, focusDelay, shutterDelay, downloadTimeout time.Duration, path string) *Tethered {
	return &Tethered{
		gpio:         g,
		focusPin:     focusPin,
		shutterPin:   shutterPin,
		focusDelay:   focusDelay,
		shutterDelay: shutterDelay,
		timeout:      downloadTimeout,
		file:         NewFile(path),
		now:          time.Now,
	}
}

// Open configures the remote lines (HIGH is inactive) and starts watching
// the download path.
func (t *Tethered) Open(ctx context.Context) error {
	for _, pin := range []int{t.focusPin, t.shutterPin} {
		if err := t.gpio.SetupPin(pin, gpio.Output); err != nil {
			return fmt.Errorf("tethered camera: pin %d: %v: %w", pin, err, ErrDeviceUnavailable)
		}
		if err := t.gpio.WritePin(pin, gpio.High); err != nil {
			return fmt.Errorf("tethered camera: pin %d: %v: %w", pin, err, ErrDeviceUnavailable)
		}
	}
	return t.file.Open(ctx)
}

func (t *Tethered) Frame() (image.Image, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, err := t.file.Frame(); err != nil {
		return nil, err // not open
	}
	if t.pending && t.timeout > 0 && t.now().Sub(t.firedOn) >= t.timeout {
		debug.Warn("Camera: no download %v after the shutter, firing again", t.timeout)
		t.pending = false
	}
	if !t.pending {
		t.firedAt = t.file.Frames()
		if err := t.shoot(); err != nil {
			return nil, fmt.Errorf("tethered camera: %w", err)
		}
		t.pending = true
		t.firedOn = t.now()
	}
	if t.file.Frames() <= t.firedAt {
		debug.Verbose("Camera: waiting for the tethered download")
		return image.NewRGBA(image.Rectangle{}), nil
	}
	t.pending = false
	return t.file.Frame()
}

// shoot runs FOCUS -> wait for AF -> SHUTTER -> hold -> release.
func (t *Tethered) shoot() error {
	debug.Printf("Camera: triggering shot (focus=%d, shutter=%d)", t.focusPin, t.shutterPin)

	debug.Verbose("Camera: activating FOCUS (pin %d -> LOW)", t.focusPin)
	if err := t.gpio.WritePin(t.focusPin, gpio.Low); err != nil {
		return err
	}

	debug.Verbose("Camera: waiting for autofocus (%v)", t.focusDelay)
	time.Sleep(t.focusDelay)

	debug.Verbose("Camera: activating SHUTTER (pin %d -> LOW)", t.shutterPin)
	if err := t.gpio.WritePin(t.shutterPin, gpio.Low); err != nil {
		// Release FOCUS on error
		_ = t.gpio.WritePin(t.focusPin, gpio.High)
		return err
	}

	debug.Verbose("Camera: holding shutter (%v)", t.shutterDelay)
	time.Sleep(t.shutterDelay)

	debug.Verbose("Camera: releasing SHUTTER then FOCUS")
	if err := t.gpio.WritePin(t.shutterPin, gpio.High); err != nil {
		return err
	}
	return t.gpio.WritePin(t.focusPin, gpio.High)
}

// Rearm abandons the pending shot; the next Frame fires the shutter.
func (t *Tethered) Rearm() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.pending {
		debug.Verbose("Camera: pending shot abandoned")
	}
	t.pending = false
}

// Close releases both remote lines and stops the file watcher.
func (t *Tethered) Close() error {
	t.mu.Lock()
	t.pending = false
	t.mu.Unlock()
	_ = t.gpio.WritePin(t.shutterPin, gpio.High)
	_ = t.gpio.WritePin(t.focusPin, gpio.High)
	return t.file.Close()
}
