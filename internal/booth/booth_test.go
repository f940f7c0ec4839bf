package booth

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cjeanneret/photobox/internal/hw/camera"
	"github.com/cjeanneret/photobox/internal/hw/gpio"
	"github.com/cjeanneret/photobox/internal/layout"
	"github.com/cjeanneret/photobox/internal/logic/capture"
	"github.com/cjeanneret/photobox/internal/logic/compose"
)

func fastTiming() capture.Timing {
	return capture.Timing{
		CountdownFrom:  3,
		Tick:           time.Millisecond,
		Settle:         time.Millisecond,
		AutoRetry:      true,
		AutoRetryDelay: time.Millisecond,
	}
}

func newTestBooth(t *testing.T, cam camera.Device, opts Options) *Booth {
	t.Helper()
	reg, err := layout.NewRegistry(layout.Builtin()...)
	require.NoError(t, err)
	x, err := compose.NewExporter("", 0)
	require.NoError(t, err)
	if opts.Timing == (capture.Timing{}) {
		opts.Timing = fastTiming()
	}
	if opts.DefaultLayout == "" {
		opts.DefaultLayout = "L_1_SINGLE"
	}
	b := New(reg, capture.NewSource(cam, time.Millisecond), compose.NewEngine(compose.NewAssets(t.TempDir())), x, opts)
	t.Cleanup(func() { _ = b.Close() })
	return b
}

func waitCollage(t *testing.T, b *Booth) *compose.Collage {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	c, err := b.WaitCollage(ctx)
	require.NoError(t, err)
	return c
}

func TestBooth_SessionToExport(t *testing.T) {
	cam := camera.NewSynthetic(160, 90, 1)
	b := newTestBooth(t, cam, Options{})

	var mu sync.Mutex
	kinds := map[string]int{}
	b.Subscribe(func(ev Event) {
		mu.Lock()
		kinds[ev.Kind]++
		mu.Unlock()
	})

	_, err := b.Collage()
	assert.ErrorIs(t, err, ErrNoCollage)

	id, err := b.Start(context.Background(), "L_4_SQUARE")
	require.NoError(t, err)
	c := waitCollage(t, b)

	assert.Equal(t, id, c.SessionID)
	assert.Equal(t, "L_4_SQUARE", c.LayoutID)
	assert.Equal(t, 4, c.Total)
	assert.Empty(t, c.Failed)
	assert.True(t, c.Overlay)

	st := b.Status()
	assert.Equal(t, capture.PhaseComplete, st.Phase)
	assert.True(t, st.CollageReady)
	assert.Equal(t, "ready", st.Camera)
	assert.Equal(t, 4, st.Shots)

	shot, err := b.Shot(3)
	require.NoError(t, err)
	assert.Equal(t, 3, shot.Index)
	_, err = b.Shot(4)
	assert.ErrorIs(t, err, ErrNoShot)

	e, err := b.Export()
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(e.Filename, "photobox_4_Foto_-_Polaroid_Modern_"))
	assert.Equal(t, 880, e.Height)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, kinds[EventCollage])
	assert.Greater(t, kinds[EventSession], 4)
}

func TestBooth_DefaultLayout(t *testing.T) {
	b := newTestBooth(t, camera.NewSynthetic(32, 32, 0), Options{})
	_, err := b.Start(context.Background(), "")
	require.NoError(t, err)
	c := waitCollage(t, b)
	assert.Equal(t, "L_1_SINGLE", c.LayoutID)
}

func TestBooth_UnknownLayout(t *testing.T) {
	cam := camera.NewSynthetic(32, 32, 0)
	b := newTestBooth(t, cam, Options{})
	_, err := b.Start(context.Background(), "L_9_NOPE")
	assert.ErrorIs(t, err, ErrUnknownLayout)
	assert.Equal(t, "idle", b.Status().Camera, "camera must not be acquired for a rejected start")
}

func TestBooth_DeviceUnavailableIsSticky(t *testing.T) {
	cam := &camera.Synthetic{Width: 32, Height: 32, Deny: true}
	b := newTestBooth(t, cam, Options{})

	_, err := b.Start(context.Background(), "L_1_SINGLE")
	assert.ErrorIs(t, err, camera.ErrDeviceUnavailable)
	st := b.Status()
	assert.Equal(t, "failed", st.Camera)
	assert.NotEmpty(t, st.CameraError)
	assert.Equal(t, capture.PhaseIdle, st.Phase)

	cam.Deny = false
	_, err = b.Start(context.Background(), "L_1_SINGLE")
	assert.ErrorIs(t, err, camera.ErrDeviceUnavailable)
}

func TestBooth_RateLimitedStarts(t *testing.T) {
	b := newTestBooth(t, camera.NewSynthetic(32, 32, 0), Options{MinStartGap: time.Hour})
	_, err := b.Start(context.Background(), "L_1_SINGLE")
	require.NoError(t, err)
	_, err = b.Start(context.Background(), "L_1_SINGLE")
	assert.ErrorIs(t, err, ErrTooSoon)
}

func TestBooth_FailedStartDoesNotCountAgainstGap(t *testing.T) {
	b := newTestBooth(t, camera.NewSynthetic(32, 32, 0), Options{MinStartGap: time.Hour})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := b.Start(ctx, "L_1_SINGLE")
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, "idle", b.Status().Camera)

	_, err = b.Start(context.Background(), "L_1_SINGLE")
	require.NoError(t, err, "a start that never ran must not trip the rate limit")
	_, err = b.Start(context.Background(), "L_1_SINGLE")
	assert.ErrorIs(t, err, ErrTooSoon)
}

// pressCounter counts shutter presses on the DSLR remote.
type pressCounter struct {
	*gpio.MockDriver
	shutter int

	mu    sync.Mutex
	fired int
}

func (c *pressCounter) WritePin(pin int, level gpio.Level) error {
	if pin == c.shutter && level == gpio.Low {
		c.mu.Lock()
		c.fired++
		c.mu.Unlock()
	}
	return c.MockDriver.WritePin(pin, level)
}

func (c *pressCounter) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.fired
}

func TestBooth_RestartFiresStuckDSLR(t *testing.T) {
	g := &pressCounter{MockDriver: gpio.NewMockDriver(), shutter: 24}
	// the tether tool never delivers: every shot stays pending
	cam := camera.NewTethered(g, 23, 24, 0, 0, time.Hour, t.TempDir()+"/shot.png")
	b := newTestBooth(t, cam, Options{})

	_, err := b.Start(context.Background(), "L_1_SINGLE")
	require.NoError(t, err)
	require.Eventually(t, func() bool { return g.count() == 1 }, 5*time.Second, time.Millisecond)

	// auto-retries of the pending shot must not press again
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, 1, g.count())

	_, err = b.Start(context.Background(), "L_1_SINGLE")
	require.NoError(t, err)
	assert.Eventually(t, func() bool { return g.count() == 2 }, 5*time.Second, time.Millisecond,
		"a new session must press the shutter again")
}

func TestBooth_RetryFiresStuckDSLR(t *testing.T) {
	g := &pressCounter{MockDriver: gpio.NewMockDriver(), shutter: 24}
	cam := camera.NewTethered(g, 23, 24, 0, 0, time.Hour, t.TempDir()+"/shot.png")
	timing := fastTiming()
	timing.AutoRetry = false
	b := newTestBooth(t, cam, Options{Timing: timing})

	_, err := b.Start(context.Background(), "L_1_SINGLE")
	require.NoError(t, err)
	require.Eventually(t, func() bool { return b.Status().Error != "" }, 5*time.Second, time.Millisecond)
	assert.Equal(t, 1, g.count())

	require.NoError(t, b.Retry())
	assert.Eventually(t, func() bool { return g.count() == 2 }, 5*time.Second, time.Millisecond,
		"a manual retry must press the shutter again")
}

func TestBooth_RestartReplacesCollage(t *testing.T) {
	b := newTestBooth(t, camera.NewSynthetic(32, 32, 0), Options{})

	first, err := b.Start(context.Background(), "L_1_SINGLE")
	require.NoError(t, err)
	c1 := waitCollage(t, b)
	assert.Equal(t, first, c1.SessionID)

	second, err := b.Start(context.Background(), "L_4_SQUARE")
	require.NoError(t, err)
	_, err = b.Collage()
	assert.ErrorIs(t, err, ErrNoCollage, "previous session's collage must not be served")

	c2 := waitCollage(t, b)
	assert.Equal(t, second, c2.SessionID)
	assert.NotSame(t, c1, c2)
}

func TestBooth_Discard(t *testing.T) {
	b := newTestBooth(t, camera.NewSynthetic(32, 32, 0), Options{})
	_, err := b.Start(context.Background(), "L_1_SINGLE")
	require.NoError(t, err)
	waitCollage(t, b)

	b.Discard()
	_, err = b.Collage()
	assert.ErrorIs(t, err, ErrNoCollage)
	_, err = b.Export()
	assert.ErrorIs(t, err, ErrNoCollage)
	assert.Equal(t, capture.PhaseIdle, b.Status().Phase)
	assert.ErrorIs(t, b.Retry(), capture.ErrNoSession)
}

func TestBooth_WaitCollageHonorsContext(t *testing.T) {
	b := newTestBooth(t, camera.NewSynthetic(32, 32, 0), Options{})
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := b.WaitCollage(ctx)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}
