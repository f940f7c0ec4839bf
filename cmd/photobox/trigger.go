package main

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cjeanneret/photobox/internal/booth"
	"github.com/cjeanneret/photobox/internal/config"
	"github.com/cjeanneret/photobox/internal/debug"
	"github.com/cjeanneret/photobox/internal/hw/gpio"
	"github.com/cjeanneret/photobox/internal/hw/trigger"
	"github.com/cjeanneret/photobox/internal/logic/capture"
)

// Button actions, decided from the booth state at press time.
const (
	pressStart  = "start"
	pressRetry  = "retry"
	pressIgnore = "ignore"
)

// pressAction maps a button press to an action: a failed shot is retried, a
// running countdown is left alone, anything else starts a new session.
func pressAction(st booth.Status) string {
	switch st.Phase {
	case capture.PhaseIdle, capture.PhaseComplete:
		return pressStart
	}
	if st.Error != "" {
		return pressRetry
	}
	return pressIgnore
}

// lampListener blinks the lamp on each countdown tick and holds it on while
// the photo is taken.
func lampListener(l *trigger.Lamp, tick time.Duration) func(booth.Event) {
	return func(ev booth.Event) {
		if ev.Kind != booth.EventSession {
			return
		}
		var err error
		switch ev.Session.Phase {
		case capture.PhaseCountdown:
			err = l.Pulse(tick / 2)
		case capture.PhaseCapturing:
			if ev.Session.Error == "" {
				err = l.On()
			} else {
				err = l.Off()
			}
		default:
			err = l.Off()
		}
		if err != nil {
			debug.Error(fmt.Errorf("lamp: %w", err))
		}
	}
}

// startTrigger watches the GPIO button until ctx is done. The returned
// function stops the watcher and switches the lamp off.
func startTrigger(ctx context.Context, cfg *config.Config, g gpio.Driver, b *booth.Booth) (func(), error) {
	debug.Section("Trigger")
	btn, err := trigger.NewButton(g, cfg.Trigger.ButtonPin, cfg.PollInterval(), cfg.Debounce())
	if err != nil {
		return nil, err
	}
	debug.Value("Button pin", cfg.Trigger.ButtonPin)

	var lamp *trigger.Lamp
	if cfg.Trigger.LampPin > 0 {
		lamp, err = trigger.NewLamp(g, cfg.Trigger.LampPin)
		if err != nil {
			return nil, err
		}
		b.Subscribe(lampListener(lamp, cfg.Tick()))
		debug.Value("Lamp pin", cfg.Trigger.LampPin)
	}

	ctx, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		err := btn.Watch(ctx, func() {
			switch pressAction(b.Status()) {
			case pressStart:
				if _, err := b.Start(ctx, ""); err != nil {
					debug.Warn("Button: start failed: %v", err)
				}
			case pressRetry:
				if err := b.Retry(); err != nil {
					debug.Warn("Button: retry failed: %v", err)
				}
			default:
				debug.Verbose("Button: press ignored while a session is running")
			}
		})
		if err != nil {
			debug.Error(err)
		}
	}()

	return func() {
		cancel()
		wg.Wait()
		if lamp != nil {
			if err := lamp.Close(); err != nil {
				debug.Error(fmt.Errorf("closing lamp failed: %w", err))
			}
		}
	}, nil
}
