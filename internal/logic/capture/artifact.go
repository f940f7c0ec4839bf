package capture

import (
	"encoding/base64"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrSourceClosed is returned when capturing after the source was torn down.
	ErrSourceClosed = errors.New("frame source closed")
	// ErrNoFailedShot is returned by Retry when no shot is waiting for a retry.
	ErrNoFailedShot = errors.New("no failed shot to retry")
	// ErrNoSession is returned when an operation needs an active session.
	ErrNoSession = errors.New("no capture session")
	// ErrSequencerClosed is returned by Start after Close.
	ErrSequencerClosed = errors.New("capture sequencer closed")
)

// CaptureError reports a failed still for one shot. It is non-fatal: the
// session keeps its previous shots and waits for a retry.
type CaptureError struct {
	Index int // zero-based shot index
	Err   error
}

func (e *CaptureError) Error() string {
	return fmt.Sprintf("capture photo #%d: %v", e.Index+1, e.Err)
}

func (e *CaptureError) Unwrap() error { return e.Err }

// PhotoArtifact is one captured still. It is never mutated after creation.
type PhotoArtifact struct {
	Index   int       `json:"index"` // capture order, maps to the layout placement
	Width   int       `json:"width"`
	Height  int       `json:"height"`
	PNG     []byte    `json:"-"`
	TakenAt time.Time `json:"taken_at"`
}

// DataURI returns the still as a PNG data URI.
func (a *PhotoArtifact) DataURI() string {
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(a.PNG)
}
