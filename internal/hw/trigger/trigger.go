// Package trigger drives the physical booth controls: a start button and a
// countdown lamp wired to the Raspberry Pi header.
package trigger

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cjeanneret/photobox/internal/debug"
	"github.com/cjeanneret/photobox/internal/hw/gpio"
)

// Button is a momentary push button wired between an input pin and GND:
// - released: the internal pull-up holds the line HIGH
// - pressed: the line is pulled LOW
//
// The line is sampled every poll interval. A level change is accepted once
// it has been stable for the debounce duration.
type Button struct {
	gpio     gpio.Driver
	pin      int
	poll     time.Duration
	debounce time.Duration
}

// NewButton configures pin as a pulled-up input.
func NewButton(g gpio.Driver, pin int, poll, debounce time.Duration) (*Button, error) {
	if poll <= 0 {
		poll = 20 * time.Millisecond
	}
	if err := g.SetupPin(pin, gpio.InputPullUp); err != nil {
		return nil, fmt.Errorf("button pin %d: %w", pin, err)
	}
	return &Button{gpio: g, pin: pin, poll: poll, debounce: debounce}, nil
}

// Watch calls onPress on every debounced press until ctx is done. A
// press is reported once, on the falling edge; holding the button does not
// repeat it.
func (b *Button) Watch(ctx context.Context, onPress func()) error {
	debug.Verbose("Button: watching pin %d (poll=%v, debounce=%v)", b.pin, b.poll, b.debounce)
	ticker := time.NewTicker(b.poll)
	defer ticker.Stop()

	stable := gpio.High
	candidate := stable
	var since time.Time

	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-ticker.C:
			lvl, err := b.gpio.ReadPin(b.pin)
			if err != nil {
				return fmt.Errorf("read button pin %d: %w", b.pin, err)
			}
			if lvl != candidate {
				candidate = lvl
				since = now
			}
			if candidate == stable || now.Sub(since) < b.debounce {
				continue
			}
			stable = candidate
			if stable == gpio.Low {
				debug.Live("Button: pressed (pin %d)", b.pin)
				onPress()
			} else {
				debug.Trace("Button: released (pin %d)", b.pin)
			}
		}
	}
}

// Lamp is an active-high output (LED or relay) used as countdown light.
type Lamp struct {
	gpio gpio.Driver
	pin  int

	mu    sync.Mutex
	timer *time.Timer
}

// NewLamp configures pin as an output and switches the lamp off.
func NewLamp(g gpio.Driver, pin int) (*Lamp, error) {
	if err := g.SetupPin(pin, gpio.Output); err != nil {
		return nil, fmt.Errorf("lamp pin %d: %w", pin, err)
	}
	if err := g.WritePin(pin, gpio.Low); err != nil {
		return nil, fmt.Errorf("lamp pin %d: %w", pin, err)
	}
	return &Lamp{gpio: g, pin: pin}, nil
}

// On switches the lamp on and cancels a pending pulse.
func (l *Lamp) On() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.stopLocked()
	return l.gpio.WritePin(l.pin, gpio.High)
}

// Off switches the lamp off and cancels a pending pulse.
func (l *Lamp) Off() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.stopLocked()
	return l.gpio.WritePin(l.pin, gpio.Low)
}

// Pulse switches the lamp on for d without blocking. A new pulse restarts
// the timer.
func (l *Lamp) Pulse(d time.Duration) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.stopLocked()
	if err := l.gpio.WritePin(l.pin, gpio.High); err != nil {
		return err
	}
	var t *time.Timer
	t = time.AfterFunc(d, func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		if l.timer != t {
			return
		}
		l.timer = nil
		if err := l.gpio.WritePin(l.pin, gpio.Low); err != nil {
			debug.Error(fmt.Errorf("lamp pin %d: %w", l.pin, err))
		}
	})
	l.timer = t
	return nil
}

// Close switches the lamp off.
func (l *Lamp) Close() error {
	return l.Off()
}

func (l *Lamp) stopLocked() {
	if l.timer != nil {
		l.timer.Stop()
		l.timer = nil
	}
}
