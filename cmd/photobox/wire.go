package main

import (
	"fmt"

	"github.com/cjeanneret/photobox/internal/booth"
	"github.com/cjeanneret/photobox/internal/config"
	"github.com/cjeanneret/photobox/internal/debug"
	"github.com/cjeanneret/photobox/internal/hw/camera"
	"github.com/cjeanneret/photobox/internal/hw/gpio"
	"github.com/cjeanneret/photobox/internal/layout"
	"github.com/cjeanneret/photobox/internal/logic/capture"
	"github.com/cjeanneret/photobox/internal/logic/compose"
)

// openGPIO returns the GPIO driver when a configured component drives pins,
// nil otherwise.
func openGPIO(cfg *config.Config) (gpio.Driver, error) {
	if !cfg.UsesGPIO() {
		return nil, nil
	}
	debug.Value("Mock GPIO", cfg.Defaults.MockGPIO)
	g, err := gpio.NewDriver(cfg.Defaults.MockGPIO)
	if err != nil {
		return nil, fmt.Errorf("init GPIO failed: %w", err)
	}
	return g, nil
}

func closeGPIO(g gpio.Driver) {
	if g == nil {
		return
	}
	if err := g.Close(); err != nil {
		debug.Error(fmt.Errorf("closing GPIO driver failed: %w", err))
	}
}

// newBooth assembles the layout registry, camera, compositing engine and
// exporter described by cfg. g may be nil when cfg drives no pins.
func newBooth(cfg *config.Config, g gpio.Driver) (*booth.Booth, error) {
	reg, err := layout.FromConfig(cfg.Layouts)
	if err != nil {
		return nil, fmt.Errorf("layouts: %w", err)
	}
	if _, ok := reg.Get(cfg.Session.DefaultLayout); !ok {
		return nil, fmt.Errorf("session.default_layout %q is not a known layout", cfg.Session.DefaultLayout)
	}
	debug.Value("Layouts", reg.Len())

	cam, err := newCameraFromConfig(g, cfg)
	if err != nil {
		return nil, fmt.Errorf("init camera failed: %w", err)
	}
	debug.Value("Camera type", cfg.Camera.Type)

	exporter, err := compose.NewExporter(cfg.Collage.Title, cfg.Collage.HeaderPx)
	if err != nil {
		return nil, fmt.Errorf("init exporter failed: %w", err)
	}
	debug.Value("Assets dir", cfg.Collage.AssetsDir)

	opts := booth.Options{
		Timing:        timingFromConfig(cfg),
		DefaultLayout: cfg.Session.DefaultLayout,
		MinStartGap:   cfg.MinStartGap(),
	}
	debug.PrintStruct("Session timing", opts.Timing)

	return booth.New(
		reg,
		capture.NewSource(cam, cfg.RetryDelay()),
		compose.NewEngine(compose.NewAssets(cfg.Collage.AssetsDir)),
		exporter,
		opts,
	), nil
}

func timingFromConfig(cfg *config.Config) capture.Timing {
	return capture.Timing{
		CountdownFrom:  cfg.Session.CountdownFrom,
		Tick:           cfg.Tick(),
		Settle:         cfg.SettleDelay(),
		AutoRetry:      cfg.AutoRetry(),
		AutoRetryDelay: cfg.AutoRetryDelay(),
	}
}

// newCameraFromConfig selects a camera implementation based on configuration.
func newCameraFromConfig(g gpio.Driver, cfg *config.Config) (camera.Device, error) {
	switch cfg.Camera.Type {
	case "synthetic":
		return camera.NewSynthetic(cfg.Camera.WidthPx, cfg.Camera.HeightPx, cfg.Camera.WarmupFrames), nil
	case "file":
		return camera.NewFile(cfg.Camera.Path), nil
	case "dslr_gpio":
		if g == nil {
			return nil, fmt.Errorf("camera type %s needs a GPIO driver", cfg.Camera.Type)
		}
		debug.Value("Focus pin", cfg.Camera.FocusPin)
		debug.Value("Shutter pin", cfg.Camera.ShutterPin)
		return camera.NewTethered(
			g,
			cfg.Camera.FocusPin,
			cfg.Camera.ShutterPin,
			cfg.FocusDelay(),
			cfg.ShutterDelay(),
			cfg.DownloadTimeout(),
			cfg.Camera.Path,
		), nil
	default:
		return nil, fmt.Errorf("unsupported camera type: %s", cfg.Camera.Type)
	}
}
