package capture

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/cjeanneret/photobox/internal/debug"
	"github.com/cjeanneret/photobox/internal/layout"
)

// Phase is the capture sequencer state.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseCountdown
	PhaseCapturing
	PhaseAwaitingNext
	PhaseComplete
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseCountdown:
		return "countdown"
	case PhaseCapturing:
		return "capturing"
	case PhaseAwaitingNext:
		return "awaiting_next"
	case PhaseComplete:
		return "complete"
	}
	return fmt.Sprintf("Phase(%d)", int(p))
}

// MarshalText renders the phase by name in JSON.
func (p Phase) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// Shooter produces one still per call. *Source implements it.
type Shooter interface {
	CaptureStill(ctx context.Context, index int) (*PhotoArtifact, error)
}

// Timing drives the countdown and capture schedule.
type Timing struct {
	CountdownFrom  int           // countdown start value for each shot
	Tick           time.Duration // countdown period
	Settle         time.Duration // wait between countdown 0 and the capture
	AutoRetry      bool          // retry a failed shot without user action
	AutoRetryDelay time.Duration // wait before an automatic retry
}

// DefaultTiming is 3-2-1 at 1 Hz with a 300 ms settle.
func DefaultTiming() Timing {
	return Timing{
		CountdownFrom:  3,
		Tick:           time.Second,
		Settle:         300 * time.Millisecond,
		AutoRetry:      true,
		AutoRetryDelay: 1500 * time.Millisecond,
	}
}

// Event is emitted on every state change of the current session.
type Event struct {
	SessionID string    `json:"session_id"`
	LayoutID  string    `json:"layout_id"`
	Phase     Phase     `json:"phase"`
	Countdown int       `json:"countdown"`
	Shots     int       `json:"shots"`
	MaxShots  int       `json:"max_shots"`
	Status    string    `json:"status"`
	Error     string    `json:"error,omitempty"`
	At        time.Time `json:"at"`
}

// Snapshot is a point-in-time view of the session.
type Snapshot = Event

// Session is the completed capture set handed to the completion hook.
type Session struct {
	ID     string
	Layout layout.Layout
	Shots  []*PhotoArtifact // capture order; Shots[i].Index == i
}

// Options configures a Sequencer.
type Options struct {
	Timing Timing

	// OnEvent receives every state change. It runs on the session
	// goroutine and must not call Start or Discard synchronously.
	OnEvent func(Event)

	// OnComplete is invoked once per session, after the last shot, on the
	// session goroutine. ctx is cancelled when the session is replaced.
	OnComplete func(ctx context.Context, s Session)
}

type session struct {
	id        string
	layout    layout.Layout
	shots     []*PhotoArtifact
	phase     Phase
	countdown int
	lastErr   error
	waiting   bool // a failed shot is waiting for a retry
	retry     chan struct{}
	cancel    context.CancelFunc
}

// Sequencer runs one timed multi-shot session at a time. Starting a new
// session discards the current one; a discarded session can no longer
// change the published state.
type Sequencer struct {
	shooter Shooter
	opts    Options
	now     func() time.Time

	root context.Context
	stop context.CancelFunc
	wg   sync.WaitGroup

	emitMu sync.Mutex // serializes state change + notification
	mu     sync.Mutex
	cur    *session
}

// NewSequencer creates a sequencer driving shooter.
func NewSequencer(shooter Shooter, opts Options) *Sequencer {
	if opts.Timing.CountdownFrom <= 0 {
		opts.Timing.CountdownFrom = DefaultTiming().CountdownFrom
	}
	root, stop := context.WithCancel(context.Background())
	return &Sequencer{
		shooter: shooter,
		opts:    opts,
		now:     time.Now,
		root:    root,
		stop:    stop,
	}
}

// Start resets the session with layout l and begins the countdown for the
// first shot. Any session in progress is discarded. It returns the new
// session id.
func (s *Sequencer) Start(l layout.Layout) (string, error) {
	if err := l.Validate(); err != nil {
		return "", err
	}
	if s.root.Err() != nil {
		return "", ErrSequencerClosed
	}

	s.emitMu.Lock()
	defer s.emitMu.Unlock()

	ctx, cancel := context.WithCancel(s.root)
	sess := &session{
		id:        uuid.NewString(),
		layout:    l,
		shots:     make([]*PhotoArtifact, 0, l.MaxShots),
		phase:     PhaseIdle,
		retry:     make(chan struct{}, 1),
		cancel:    cancel,
	}

	s.mu.Lock()
	if old := s.cur; old != nil {
		old.cancel()
		debug.Live("Session %s discarded", old.id)
	}
	s.cur = sess
	idle := s.eventLocked(sess)
	sess.phase = PhaseCountdown
	sess.countdown = s.opts.Timing.CountdownFrom
	first := s.eventLocked(sess)
	s.mu.Unlock()

	debug.Info("Session %s started (layout=%s, photos=%d)", sess.id, l.ID, l.MaxShots)
	s.notify(idle)
	s.notify(first)
	debug.Tick(1, sess.countdown)

	s.wg.Add(1)
	go s.run(ctx, sess)
	return sess.id, nil
}

// Retry triggers an immediate retry of the failed shot.
func (s *Sequencer) Retry() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cur == nil {
		return ErrNoSession
	}
	if !s.cur.waiting {
		return ErrNoFailedShot
	}
	select {
	case s.cur.retry <- struct{}{}:
	default:
	}
	return nil
}

// Discard drops the current session and returns to idle.
func (s *Sequencer) Discard() {
	s.emitMu.Lock()
	defer s.emitMu.Unlock()

	s.mu.Lock()
	old := s.cur
	s.cur = nil
	s.mu.Unlock()
	if old == nil {
		return
	}
	old.cancel()
	debug.Live("Session %s discarded", old.id)
	s.notify(Event{
		SessionID: old.id,
		LayoutID:  old.layout.ID,
		Phase:     PhaseIdle,
		MaxShots:  old.layout.MaxShots,
		Status:    StatusText(PhaseIdle, 0, 0, nil),
		At:        s.now(),
	})
}

// Snapshot returns the current session state.
func (s *Sequencer) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cur == nil {
		return Snapshot{Phase: PhaseIdle, Status: StatusText(PhaseIdle, 0, 0, nil), At: s.now()}
	}
	return s.eventLocked(s.cur)
}

// Shot returns shot index of the current session, if taken.
func (s *Sequencer) Shot(index int) (*PhotoArtifact, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cur == nil || index < 0 || index >= len(s.cur.shots) {
		return nil, false
	}
	return s.cur.shots[index], true
}

// Close stops every session goroutine and waits for them to exit.
func (s *Sequencer) Close() {
	s.stop()
	s.wg.Wait()
}

// run drives one session: countdown, settle, capture, repeat until the
// layout is full. It returns as soon as the session is replaced.
func (s *Sequencer) run(ctx context.Context, sess *session) {
	defer s.wg.Done()
	t := s.opts.Timing

	for {
		for n := t.CountdownFrom - 1; n >= 0; n-- {
			if !sleep(ctx, t.Tick) {
				return
			}
			if n == 0 {
				break
			}
			if !s.transition(sess, func(ss *session) { ss.countdown = n }) {
				return
			}
			debug.Tick(len(sess.shots)+1, n)
		}

		if !s.transition(sess, func(ss *session) {
			ss.phase = PhaseCapturing
			ss.countdown = 0
		}) {
			return
		}
		if !sleep(ctx, t.Settle) {
			return
		}

		art, ok := s.shoot(ctx, sess)
		if !ok {
			return
		}

		done := false
		if !s.transition(sess, func(ss *session) {
			if len(ss.shots) >= ss.layout.MaxShots {
				return
			}
			ss.lastErr = nil
			ss.waiting = false
			ss.shots = append(ss.shots, art)
			if len(ss.shots) == ss.layout.MaxShots {
				ss.phase = PhaseComplete
				done = true
				return
			}
			ss.phase = PhaseAwaitingNext
		}) {
			return
		}
		debug.Shot(art.Index+1, sess.layout.MaxShots)

		if done {
			debug.Info("Session %s complete (%d photos)", sess.id, len(sess.shots))
			if s.opts.OnComplete != nil {
				s.opts.OnComplete(ctx, Session{
					ID:     sess.id,
					Layout: sess.layout,
					Shots:  append([]*PhotoArtifact(nil), sess.shots...),
				})
			}
			return
		}

		if !s.transition(sess, func(ss *session) {
			ss.phase = PhaseCountdown
			ss.countdown = t.CountdownFrom
		}) {
			return
		}
		debug.Tick(len(sess.shots)+1, t.CountdownFrom)
	}
}

// shoot captures the next still, waiting for a manual or automatic retry
// after each failure. The shot count never advances on failure.
func (s *Sequencer) shoot(ctx context.Context, sess *session) (*PhotoArtifact, bool) {
	t := s.opts.Timing
	index := len(sess.shots)
	for {
		art, err := s.shooter.CaptureStill(ctx, index)
		if err == nil {
			art.Index = index
			return art, true
		}
		if ctx.Err() != nil {
			return nil, false
		}

		debug.Live("Photo #%d failed: %v", index+1, err)
		if !s.transition(sess, func(ss *session) {
			ss.lastErr = err
			ss.waiting = true
		}) {
			return nil, false
		}

		var auto <-chan time.Time
		var timer *time.Timer
		if t.AutoRetry {
			timer = time.NewTimer(t.AutoRetryDelay)
			auto = timer.C
		}
		select {
		case <-ctx.Done():
		case <-sess.retry:
			debug.Live("Photo #%d: manual retry", index+1)
		case <-auto:
			debug.Live("Photo #%d: automatic retry", index+1)
		}
		if timer != nil {
			timer.Stop()
		}
		if ctx.Err() != nil {
			return nil, false
		}

		if !s.transition(sess, func(ss *session) { ss.waiting = false }) {
			return nil, false
		}
		if !sleep(ctx, t.Settle) {
			return nil, false
		}
	}
}

// transition applies mutate to sess and publishes the resulting state, but
// only while sess is still the current session.
func (s *Sequencer) transition(sess *session, mutate func(*session)) bool {
	s.emitMu.Lock()
	defer s.emitMu.Unlock()

	s.mu.Lock()
	if s.cur != sess {
		s.mu.Unlock()
		return false
	}
	mutate(sess)
	ev := s.eventLocked(sess)
	s.mu.Unlock()

	s.notify(ev)
	return true
}

func (s *Sequencer) eventLocked(sess *session) Event {
	ev := Event{
		SessionID: sess.id,
		LayoutID:  sess.layout.ID,
		Phase:     sess.phase,
		Countdown: sess.countdown,
		Shots:     len(sess.shots),
		MaxShots:  sess.layout.MaxShots,
		Status:    StatusText(sess.phase, len(sess.shots), sess.countdown, sess.lastErr),
		At:        s.now(),
	}
	if sess.lastErr != nil {
		ev.Error = sess.lastErr.Error()
	}
	return ev
}

func (s *Sequencer) notify(ev Event) {
	if s.opts.OnEvent != nil {
		s.opts.OnEvent(ev)
	}
}

// StatusText is the human-readable status for a phase.
func StatusText(p Phase, shots, countdown int, lastErr error) string {
	switch p {
	case PhaseCountdown:
		return fmt.Sprintf("Photo #%d: ready in %d...", shots+1, countdown)
	case PhaseCapturing:
		if lastErr != nil {
			return fmt.Sprintf("Photo #%d failed, retrying", shots+1)
		}
		return fmt.Sprintf("Photo #%d: SNAP!", shots+1)
	case PhaseAwaitingNext:
		return fmt.Sprintf("Photo #%d taken", shots)
	case PhaseComplete:
		return "Processing collage..."
	}
	return "Choose a layout and press Start."
}

func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
