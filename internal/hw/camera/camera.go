package camera

import (
	"context"
	"errors"
	"image"
)

var (
	// ErrDeviceUnavailable is returned when access is denied or no device exists.
	ErrDeviceUnavailable = errors.New("camera device unavailable")
	// ErrFrameNotReady is returned while the device has no decodable frame yet.
	ErrFrameNotReady = errors.New("camera frame not ready")
)

// Device is the live video feed used by the booth, regardless of how it is
// backed (generated pattern, snapshot file written by a grabber, ...).
type Device interface {
	// Open requests access to the device and starts the feed. It returns
	// once the feed reports its metadata, wrapping ErrDeviceUnavailable when
	// permission is denied or no device exists.
	Open(ctx context.Context) error

	// Frame returns the current frame. A zero-sized image means the decoder
	// is not warm yet. Callers must not retain or mutate the returned image
	// beyond the next call.
	Frame() (image.Image, error)

	// Close stops all tracks and releases the device. It is safe to call
	// more than once and after a failed Open.
	Close() error
}

// Rearmer is implemented by devices that trigger a physical shot and then
// wait for its result. Rearm abandons the pending shot so the next Frame
// triggers a new one.
type Rearmer interface {
	Rearm()
}

// Empty reports whether img carries no pixels (device not warmed up).
func Empty(img image.Image) bool {
	return img == nil || img.Bounds().Empty()
}
