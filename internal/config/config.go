package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// MaxConfigFileBytes caps the size of a config file accepted by Load.
const MaxConfigFileBytes = 1 << 20

// EnvPrefix is prepended to every environment override (e.g. PHOTOBOX_WEB_PORT).
const EnvPrefix = "PHOTOBOX_"

// CameraConfig selects and tunes the camera device.
// Type selects a concrete implementation ("synthetic", "file" or "dslr_gpio").
type CameraConfig struct {
	Type              string `yaml:"type" env:"CAMERA_TYPE"`                               // "synthetic" | "file" | "dslr_gpio"
	Path              string `yaml:"path" env:"CAMERA_PATH"`                               // snapshot or download file for "file" and "dslr_gpio"
	WidthPx           int    `yaml:"width_px" env:"CAMERA_WIDTH_PX"`                       // synthetic frame width
	HeightPx          int    `yaml:"height_px" env:"CAMERA_HEIGHT_PX"`                     // synthetic frame height
	WarmupFrames      int    `yaml:"warmup_frames" env:"CAMERA_WARMUP_FRAMES"`             // zero-sized frames before the decoder is warm
	RetryDelayMs      int    `yaml:"retry_delay_ms" env:"CAMERA_RETRY_DELAY_MS"`           // delay before the single not-ready retry
	FocusPin          int    `yaml:"focus_pin" env:"CAMERA_FOCUS_PIN"`                     // BCM GPIO for FOCUS, "dslr_gpio" only
	ShutterPin        int    `yaml:"shutter_pin" env:"CAMERA_SHUTTER_PIN"`                 // BCM GPIO for SHUTTER, "dslr_gpio" only
	FocusDelayMs      int    `yaml:"focus_delay_ms" env:"CAMERA_FOCUS_DELAY_MS"`           // autofocus time before the shutter
	ShutterDelayMs    int    `yaml:"shutter_delay_ms" env:"CAMERA_SHUTTER_DELAY_MS"`       // shutter hold time
	DownloadTimeoutMs int    `yaml:"download_timeout_ms" env:"CAMERA_DOWNLOAD_TIMEOUT_MS"` // re-fire when no file lands in time, negative waits forever
}

// SessionConfig drives the capture sequencer timing.
type SessionConfig struct {
	CountdownFrom    int    `yaml:"countdown_from" env:"SESSION_COUNTDOWN_FROM"`
	TickMs           int    `yaml:"tick_ms" env:"SESSION_TICK_MS"`                 // countdown tick period
	SettleDelayMs    int    `yaml:"settle_delay_ms" env:"SESSION_SETTLE_DELAY_MS"` // wait between countdown 0 and capture
	AutoRetry        *bool  `yaml:"auto_retry" env:"SESSION_AUTO_RETRY"`
	AutoRetryDelayMs int    `yaml:"auto_retry_delay_ms" env:"SESSION_AUTO_RETRY_DELAY_MS"`
	DefaultLayout    string `yaml:"default_layout" env:"SESSION_DEFAULT_LAYOUT"`
	MinStartGapMs    int    `yaml:"min_start_gap_ms" env:"SESSION_MIN_START_GAP_MS"` // rate limit between session starts
}

// CollageConfig describes overlay assets and the exported image.
type CollageConfig struct {
	AssetsDir string `yaml:"assets_dir" env:"COLLAGE_ASSETS_DIR"`
	HeaderPx  int    `yaml:"header_px" env:"COLLAGE_HEADER_PX"`
	Title     string `yaml:"title" env:"COLLAGE_TITLE"`
	OutputDir string `yaml:"output_dir" env:"COLLAGE_OUTPUT_DIR"`
}

// PlacementConfig is one destination rectangle in collage space.
type PlacementConfig struct {
	X int `yaml:"x"`
	Y int `yaml:"y"`
	W int `yaml:"w"`
	H int `yaml:"h"`
}

// LayoutConfig overrides or extends the built-in layout table.
type LayoutConfig struct {
	ID         string            `yaml:"id"`
	Name       string            `yaml:"name"`
	MaxPhotos  int               `yaml:"max_photos"`
	Template   string            `yaml:"template"`
	Placements []PlacementConfig `yaml:"placements"`
}

// TriggerConfig wires the physical shutter button and countdown lamp.
type TriggerConfig struct {
	Enabled    bool `yaml:"enabled" env:"TRIGGER_ENABLED"`
	ButtonPin  int  `yaml:"button_pin" env:"TRIGGER_BUTTON_PIN"` // BCM pin, active LOW
	LampPin    int  `yaml:"lamp_pin" env:"TRIGGER_LAMP_PIN"`     // BCM pin, 0 = no lamp
	PollMs     int  `yaml:"poll_ms" env:"TRIGGER_POLL_MS"`
	DebounceMs int  `yaml:"debounce_ms" env:"TRIGGER_DEBOUNCE_MS"`
}

// WebConfig holds the HTTP surface settings.
type WebConfig struct {
	Port int `yaml:"port" env:"WEB_PORT"`
}

// DefaultsConfig contains generic parameters.
type DefaultsConfig struct {
	DebugLevel int  `yaml:"debug_level" env:"DEBUG_LEVEL"` // debug level 0-4 (0=off, 1=info, 2=live, 3=verbose, 4=trace)
	MockGPIO   bool `yaml:"mock_gpio" env:"MOCK_GPIO"`     // use mock GPIO (true=dev/test, false=real Raspberry Pi)
}

// Config aggregates all application configuration.
type Config struct {
	Camera   CameraConfig   `yaml:"camera"`
	Session  SessionConfig  `yaml:"session"`
	Collage  CollageConfig  `yaml:"collage"`
	Layouts  []LayoutConfig `yaml:"layouts,omitempty" env:"-"` // optional, replaces built-ins
	Trigger  TriggerConfig  `yaml:"trigger"`
	Web      WebConfig      `yaml:"web"`
	Defaults DefaultsConfig `yaml:"defaults"`
}

// ValidateConfigPath rejects paths that are empty, contain traversal
// segments, are not .yaml files, or do not live in a configs/ directory.
func ValidateConfigPath(path string) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	for _, seg := range strings.Split(filepath.ToSlash(path), "/") {
		if seg == ".." {
			return fmt.Errorf("config path %q must not contain '..'", path)
		}
	}
	if filepath.Ext(path) != ".yaml" {
		return fmt.Errorf("config path %q must have a .yaml extension", path)
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("resolve config path: %w", err)
	}
	if filepath.Base(filepath.Dir(abs)) != "configs" {
		return fmt.Errorf("config path %q must be inside a configs/ directory", path)
	}
	return nil
}

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// Load reads a YAML file, applies defaults and PHOTOBOX_* environment
// overrides, and returns the validated configuration.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, MaxConfigFileBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	if len(data) > MaxConfigFileBytes {
		return nil, fmt.Errorf("config file exceeds %d bytes", MaxConfigFileBytes)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal yaml: %w", err)
	}

	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Camera.Type == "" {
		c.Camera.Type = "synthetic"
	}
	if c.Camera.WidthPx <= 0 {
		c.Camera.WidthPx = 1280
	}
	if c.Camera.HeightPx <= 0 {
		c.Camera.HeightPx = 720
	}
	if c.Camera.RetryDelayMs <= 0 {
		c.Camera.RetryDelayMs = 700 // decoder warm-up grace
	}
	if c.Camera.FocusDelayMs <= 0 {
		c.Camera.FocusDelayMs = 500
	}
	if c.Camera.ShutterDelayMs <= 0 {
		c.Camera.ShutterDelayMs = 200
	}
	if c.Camera.DownloadTimeoutMs == 0 {
		c.Camera.DownloadTimeoutMs = 10000
	}

	if c.Session.CountdownFrom <= 0 {
		c.Session.CountdownFrom = 3
	}
	if c.Session.TickMs <= 0 {
		c.Session.TickMs = 1000 // 1 Hz
	}
	if c.Session.SettleDelayMs <= 0 {
		c.Session.SettleDelayMs = 300
	}
	if c.Session.AutoRetry == nil {
		on := true
		c.Session.AutoRetry = &on
	}
	if c.Session.AutoRetryDelayMs <= 0 {
		c.Session.AutoRetryDelayMs = 1500
	}
	if c.Session.DefaultLayout == "" {
		c.Session.DefaultLayout = "L_1_SINGLE"
	}
	if c.Session.MinStartGapMs < 0 {
		c.Session.MinStartGapMs = 0
	}

	if c.Collage.AssetsDir == "" {
		c.Collage.AssetsDir = "assets"
	}
	if c.Collage.HeaderPx <= 0 {
		c.Collage.HeaderPx = 80
	}
	if c.Collage.Title == "" {
		c.Collage.Title = "FRAME MAKER PHOTOBOX"
	}
	if c.Collage.OutputDir == "" {
		c.Collage.OutputDir = "out"
	}

	if c.Trigger.PollMs <= 0 {
		c.Trigger.PollMs = 20
	}
	if c.Trigger.DebounceMs <= 0 {
		c.Trigger.DebounceMs = 50
	}

	if c.Web.Port == 0 {
		c.Web.Port = 8080
	}
}

func (c *Config) validate() error {
	switch c.Camera.Type {
	case "synthetic":
	case "file":
		if c.Camera.Path == "" {
			return fmt.Errorf("camera.path is required for camera.type %q", c.Camera.Type)
		}
	case "dslr_gpio":
		if c.Camera.Path == "" {
			return fmt.Errorf("camera.path is required for camera.type %q", c.Camera.Type)
		}
		if c.Camera.FocusPin <= 0 || c.Camera.ShutterPin <= 0 {
			return fmt.Errorf("camera.focus_pin and camera.shutter_pin are required for camera.type %q", c.Camera.Type)
		}
		if c.Camera.FocusPin == c.Camera.ShutterPin {
			return fmt.Errorf("camera.focus_pin and camera.shutter_pin must differ, got %d", c.Camera.FocusPin)
		}
	default:
		return fmt.Errorf("unsupported camera.type: %s", c.Camera.Type)
	}
	if c.Camera.WarmupFrames < 0 {
		return fmt.Errorf("camera.warmup_frames must be >= 0, got %d", c.Camera.WarmupFrames)
	}
	if c.Web.Port < 0 || c.Web.Port > 65535 {
		return fmt.Errorf("web.port must be 1-65535, got %d", c.Web.Port)
	}
	if c.Defaults.DebugLevel < 0 || c.Defaults.DebugLevel > 4 {
		return fmt.Errorf("defaults.debug_level must be between 0 and 4, got %d", c.Defaults.DebugLevel)
	}
	if c.Trigger.Enabled && c.Trigger.ButtonPin <= 0 {
		return fmt.Errorf("trigger.button_pin is required when the trigger is enabled")
	}
	for i, l := range c.Layouts {
		if l.ID == "" {
			return fmt.Errorf("layouts[%d].id is required", i)
		}
		if l.MaxPhotos <= 0 {
			return fmt.Errorf("layouts[%d].max_photos must be > 0", i)
		}
	}
	return nil
}

// RetryDelay returns the delay before the single frame-not-ready retry.
func (c *Config) RetryDelay() time.Duration {
	return time.Duration(c.Camera.RetryDelayMs) * time.Millisecond
}

// FocusDelay returns the autofocus wait of the DSLR remote.
func (c *Config) FocusDelay() time.Duration {
	return time.Duration(c.Camera.FocusDelayMs) * time.Millisecond
}

// ShutterDelay returns the shutter hold time of the DSLR remote.
func (c *Config) ShutterDelay() time.Duration {
	return time.Duration(c.Camera.ShutterDelayMs) * time.Millisecond
}

// DownloadTimeout returns how long the DSLR waits for a shot's file before
// firing again; 0 means forever.
func (c *Config) DownloadTimeout() time.Duration {
	if c.Camera.DownloadTimeoutMs < 0 {
		return 0
	}
	return time.Duration(c.Camera.DownloadTimeoutMs) * time.Millisecond
}

// UsesGPIO reports whether any configured component drives GPIO pins.
func (c *Config) UsesGPIO() bool {
	return c.Trigger.Enabled || c.Camera.Type == "dslr_gpio"
}

// Tick returns the countdown tick period.
func (c *Config) Tick() time.Duration {
	return time.Duration(c.Session.TickMs) * time.Millisecond
}

// SettleDelay returns the delay between countdown 0 and the capture.
func (c *Config) SettleDelay() time.Duration {
	return time.Duration(c.Session.SettleDelayMs) * time.Millisecond
}

// AutoRetry reports whether a failed shot is retried automatically.
func (c *Config) AutoRetry() bool {
	return c.Session.AutoRetry == nil || *c.Session.AutoRetry
}

// AutoRetryDelay returns the wait before an automatic shot retry.
func (c *Config) AutoRetryDelay() time.Duration {
	return time.Duration(c.Session.AutoRetryDelayMs) * time.Millisecond
}

// MinStartGap returns the minimum interval between two session starts.
func (c *Config) MinStartGap() time.Duration {
	return time.Duration(c.Session.MinStartGapMs) * time.Millisecond
}

// PollInterval returns the trigger button polling period.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.Trigger.PollMs) * time.Millisecond
}

// Debounce returns the trigger button debounce window.
func (c *Config) Debounce() time.Duration {
	return time.Duration(c.Trigger.DebounceMs) * time.Millisecond
}
