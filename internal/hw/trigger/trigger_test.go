package trigger

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cjeanneret/photobox/internal/hw/gpio"
)

// recordingDriver wraps the mock and records writes.
type recordingDriver struct {
	*gpio.MockDriver
	mu     sync.Mutex
	writes []gpio.Level
	modes  map[int]gpio.PinMode
	failRd bool
}

func newRecordingDriver() *recordingDriver {
	return &recordingDriver{MockDriver: gpio.NewMockDriver(), modes: map[int]gpio.PinMode{}}
}

func (r *recordingDriver) SetupPin(pin int, mode gpio.PinMode) error {
	r.mu.Lock()
	r.modes[pin] = mode
	r.mu.Unlock()
	return r.MockDriver.SetupPin(pin, mode)
}

func (r *recordingDriver) WritePin(pin int, level gpio.Level) error {
	r.mu.Lock()
	r.writes = append(r.writes, level)
	r.mu.Unlock()
	return r.MockDriver.WritePin(pin, level)
}

func (r *recordingDriver) ReadPin(pin int) (gpio.Level, error) {
	r.mu.Lock()
	fail := r.failRd
	r.mu.Unlock()
	if fail {
		return gpio.Low, errors.New("bus error")
	}
	return r.MockDriver.ReadPin(pin)
}

func (r *recordingDriver) writeLog() []gpio.Level {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]gpio.Level(nil), r.writes...)
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timeout waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
}

func TestNewButton_ConfiguresPullUp(t *testing.T) {
	drv := newRecordingDriver()
	if _, err := NewButton(drv, 17, time.Millisecond, 0); err != nil {
		t.Fatalf("NewButton: %v", err)
	}
	if drv.modes[17] != gpio.InputPullUp {
		t.Errorf("pin 17 mode = %v, want InputPullUp", drv.modes[17])
	}
	if lvl := drv.Level(17); lvl != gpio.High {
		t.Errorf("released button reads %v, want HIGH", lvl)
	}
}

func TestButton_PressReportedOnce(t *testing.T) {
	drv := newRecordingDriver()
	btn, err := NewButton(drv, 17, time.Millisecond, 3*time.Millisecond)
	if err != nil {
		t.Fatal(err)
	}

	var presses atomic.Int32
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- btn.Watch(ctx, func() { presses.Add(1) }) }()

	drv.SetInput(17, gpio.Low)
	eventually(t, "first press", func() bool { return presses.Load() == 1 })

	// holding does not repeat
	time.Sleep(20 * time.Millisecond)
	if n := presses.Load(); n != 1 {
		t.Errorf("presses while held = %d, want 1", n)
	}

	drv.SetInput(17, gpio.High)
	time.Sleep(20 * time.Millisecond)
	drv.SetInput(17, gpio.Low)
	eventually(t, "second press", func() bool { return presses.Load() == 2 })

	cancel()
	if err := <-done; err != nil {
		t.Errorf("Watch: %v", err)
	}
}

func TestButton_GlitchFiltered(t *testing.T) {
	drv := newRecordingDriver()
	btn, err := NewButton(drv, 17, time.Millisecond, 80*time.Millisecond)
	if err != nil {
		t.Fatal(err)
	}

	var presses atomic.Int32
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- btn.Watch(ctx, func() { presses.Add(1) }) }()

	drv.SetInput(17, gpio.Low)
	time.Sleep(5 * time.Millisecond)
	drv.SetInput(17, gpio.High)
	time.Sleep(150 * time.Millisecond)

	cancel()
	<-done
	if n := presses.Load(); n != 0 {
		t.Errorf("presses = %d, want 0 for a glitch shorter than debounce", n)
	}
}

func TestButton_ReadErrorStopsWatch(t *testing.T) {
	drv := newRecordingDriver()
	btn, err := NewButton(drv, 17, time.Millisecond, 0)
	if err != nil {
		t.Fatal(err)
	}
	drv.mu.Lock()
	drv.failRd = true
	drv.mu.Unlock()

	done := make(chan error, 1)
	go func() { done <- btn.Watch(context.Background(), func() {}) }()
	select {
	case err := <-done:
		if err == nil {
			t.Error("Watch = nil, want read error")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Watch did not return on read error")
	}
}

func TestLamp_OnOff(t *testing.T) {
	drv := newRecordingDriver()
	lamp, err := NewLamp(drv, 27)
	if err != nil {
		t.Fatal(err)
	}
	if drv.modes[27] != gpio.Output {
		t.Errorf("pin 27 mode = %v, want Output", drv.modes[27])
	}
	if err := lamp.On(); err != nil {
		t.Fatal(err)
	}
	if drv.Level(27) != gpio.High {
		t.Error("lamp should be HIGH after On")
	}
	if err := lamp.Close(); err != nil {
		t.Fatal(err)
	}
	if drv.Level(27) != gpio.Low {
		t.Error("lamp should be LOW after Close")
	}

	want := []gpio.Level{gpio.Low, gpio.High, gpio.Low}
	got := drv.writeLog()
	if len(got) != len(want) {
		t.Fatalf("writes = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("write %d = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestLamp_PulseSwitchesOff(t *testing.T) {
	drv := newRecordingDriver()
	lamp, err := NewLamp(drv, 27)
	if err != nil {
		t.Fatal(err)
	}
	if err := lamp.Pulse(5 * time.Millisecond); err != nil {
		t.Fatal(err)
	}
	if drv.Level(27) != gpio.High {
		t.Error("lamp should be HIGH during pulse")
	}
	eventually(t, "pulse end", func() bool { return drv.Level(27) == gpio.Low })
}

func TestLamp_OnCancelsPulse(t *testing.T) {
	drv := newRecordingDriver()
	lamp, err := NewLamp(drv, 27)
	if err != nil {
		t.Fatal(err)
	}
	_ = lamp.Pulse(5 * time.Millisecond)
	_ = lamp.On()
	time.Sleep(30 * time.Millisecond)
	if drv.Level(27) != gpio.High {
		t.Error("a cancelled pulse switched the lamp off")
	}
	_ = lamp.Close()
}
