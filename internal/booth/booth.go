// Package booth wires the camera, the capture sequencer and the compositing
// pipeline into one photobooth.
package booth

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/cjeanneret/photobox/internal/debug"
	"github.com/cjeanneret/photobox/internal/layout"
	"github.com/cjeanneret/photobox/internal/logic/capture"
	"github.com/cjeanneret/photobox/internal/logic/compose"
)

var (
	// ErrUnknownLayout is returned by Start for an id missing from the registry.
	ErrUnknownLayout = errors.New("unknown layout")
	// ErrNoCollage is returned while the current session has no collage yet.
	ErrNoCollage = errors.New("no collage available")
	// ErrNoShot is returned for a shot index not taken yet.
	ErrNoShot = errors.New("no such photo")
	// ErrTooSoon is returned when sessions are restarted faster than allowed.
	ErrTooSoon = errors.New("session restarted too soon")
)

// Event kinds published to listeners.
const (
	EventSession = "session"
	EventCollage = "collage"
)

// Event is a session state change or a published collage.
type Event struct {
	Kind    string           `json:"kind"`
	Session *capture.Event   `json:"session,omitempty"`
	Collage *compose.Collage `json:"collage,omitempty"`
}

// Status is the booth state served to clients.
type Status struct {
	capture.Snapshot
	Camera       string `json:"camera"`
	CameraError  string `json:"camera_error,omitempty"`
	CollageReady bool   `json:"collage_ready"`
}

// Options tunes a Booth.
type Options struct {
	Timing        capture.Timing
	DefaultLayout string        // used when Start gets an empty id
	MinStartGap   time.Duration // 0 disables the start rate limit
}

// Booth owns one camera and runs one session at a time.
type Booth struct {
	registry *layout.Registry
	source   *capture.Source
	seq      *capture.Sequencer
	engine   *compose.Engine
	exporter *compose.Exporter
	opts     Options
	now      func() time.Time

	mu        sync.Mutex
	lastStart time.Time
	collage   *compose.Collage
	published chan struct{} // closed and replaced on every collage publish
	listeners []func(Event)
}

// New creates a booth. The camera is acquired on the first Start.
func New(reg *layout.Registry, source *capture.Source, engine *compose.Engine, exporter *compose.Exporter, opts Options) *Booth {
	b := &Booth{
		registry:  reg,
		source:    source,
		engine:    engine,
		exporter:  exporter,
		opts:      opts,
		now:       time.Now,
		published: make(chan struct{}),
	}
	b.seq = capture.NewSequencer(source, capture.Options{
		Timing:     opts.Timing,
		OnEvent:    b.onSessionEvent,
		OnComplete: b.onComplete,
	})
	return b
}

// Subscribe registers fn for every booth event. fn runs on the session
// goroutine and must not block.
func (b *Booth) Subscribe(fn func(Event)) {
	b.mu.Lock()
	b.listeners = append(b.listeners, fn)
	b.mu.Unlock()
}

// Layouts returns the selectable layouts.
func (b *Booth) Layouts() []layout.Layout {
	return b.registry.List()
}

// Start begins a new session with layoutID, discarding the current one.
// It fails with camera.ErrDeviceUnavailable when the camera cannot be
// acquired; no session is started in that case.
func (b *Booth) Start(ctx context.Context, layoutID string) (string, error) {
	if layoutID == "" {
		layoutID = b.opts.DefaultLayout
	}
	l, ok := b.registry.Get(layoutID)
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownLayout, layoutID)
	}

	b.mu.Lock()
	gap := b.opts.MinStartGap
	if gap > 0 && !b.lastStart.IsZero() && b.now().Sub(b.lastStart) < gap {
		b.mu.Unlock()
		return "", ErrTooSoon
	}
	b.mu.Unlock()

	if err := b.source.Acquire(ctx); err != nil {
		return "", err
	}
	id, err := b.seq.Start(l)
	if err != nil {
		return "", err
	}
	// a shot pending from the replaced session never completes
	b.source.Rearm()
	// only sessions that actually started count against the gap
	b.mu.Lock()
	b.lastStart = b.now()
	b.mu.Unlock()
	return id, nil
}

// Retry retries the failed shot of the current session immediately.
func (b *Booth) Retry() error {
	if err := b.seq.Retry(); err != nil {
		return err
	}
	b.source.Rearm()
	return nil
}

// Discard drops the current session and its collage.
func (b *Booth) Discard() {
	b.seq.Discard()
	b.mu.Lock()
	b.collage = nil
	b.mu.Unlock()
}

// Status returns the current session state.
func (b *Booth) Status() Status {
	snap := b.seq.Snapshot()
	st := Status{Snapshot: snap, Camera: b.source.State().String()}
	if err := b.source.Err(); err != nil {
		st.CameraError = err.Error()
	}
	_, err := b.Collage()
	st.CollageReady = err == nil
	return st
}

// Shot returns photo index of the current session.
func (b *Booth) Shot(index int) (*capture.PhotoArtifact, error) {
	a, ok := b.seq.Shot(index)
	if !ok {
		return nil, fmt.Errorf("%w: #%d", ErrNoShot, index+1)
	}
	return a, nil
}

// Collage returns the collage of the current session.
func (b *Booth) Collage() (*compose.Collage, error) {
	current := b.seq.Snapshot().SessionID
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.collage == nil || current == "" || b.collage.SessionID != current {
		return nil, ErrNoCollage
	}
	return b.collage, nil
}

// Export renders the current collage with its header band.
func (b *Booth) Export() (*compose.Export, error) {
	c, err := b.Collage()
	if err != nil {
		return nil, err
	}
	return b.exporter.Render(c, b.now())
}

// WaitCollage blocks until the current session publishes its collage.
func (b *Booth) WaitCollage(ctx context.Context) (*compose.Collage, error) {
	for {
		if c, err := b.Collage(); err == nil {
			return c, nil
		}
		b.mu.Lock()
		ch := b.published
		b.mu.Unlock()
		// re-check: a publish may have happened before ch was read
		if c, err := b.Collage(); err == nil {
			return c, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ch:
		}
	}
}

// Close stops the session and releases the camera.
func (b *Booth) Close() error {
	b.seq.Close()
	return b.source.Close()
}

func (b *Booth) onSessionEvent(ev capture.Event) {
	b.emit(Event{Kind: EventSession, Session: &ev})
}

func (b *Booth) onComplete(ctx context.Context, s capture.Session) {
	debug.Section("Composing " + s.Layout.ID)
	c, err := b.engine.Compose(ctx, s.Layout, s.Shots)
	if err != nil {
		debug.Verbose("Compose for session %s abandoned: %v", s.ID, err)
		return
	}
	c.SessionID = s.ID
	if b.seq.Snapshot().SessionID != s.ID {
		debug.Verbose("Dropping collage of replaced session %s", s.ID)
		return
	}

	b.mu.Lock()
	b.collage = c
	close(b.published)
	b.published = make(chan struct{})
	b.mu.Unlock()

	debug.Info("Collage published for session %s", s.ID)
	b.emit(Event{Kind: EventCollage, Collage: c})
}

func (b *Booth) emit(ev Event) {
	b.mu.Lock()
	ls := slices.Clone(b.listeners)
	b.mu.Unlock()
	for _, fn := range ls {
		fn(ev)
	}
}
