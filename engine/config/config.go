package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/pelletier/go-toml/v2"

	"github.com/spaghettifunk/anima-rhi/engine/math"
)

const (
	BackendVulkan   = "vulkan"
	BackendHeadless = "headless"

	MaxFramesInFlight = 3
)

// Duration lets durations be written as strings ("250ms", "1s") in TOML.
type Duration struct {
	time.Duration
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

type Config struct {
	AppName string `toml:"app_name"`
	// Either "vulkan" or "headless".
	Backend string `toml:"backend"`
	Width   uint32 `toml:"width"`
	Height  uint32 `toml:"height"`
	// Number of frames the host may record ahead of the device.
	FramesInFlight uint32 `toml:"frames_in_flight"`
	// Slots per descriptor kind in the bindless table. Must be a power of two.
	DescriptorCapacity uint32   `toml:"descriptor_capacity"`
	AcquireTimeout     Duration `toml:"acquire_timeout"`
	Validation         bool     `toml:"validation"`
	VSync              bool     `toml:"vsync"`
	LogLevel           string   `toml:"log_level"`
	ShaderDir          string   `toml:"shader_dir"`
	WatchShaders       bool     `toml:"watch_shaders"`
}

func Default() *Config {
	return &Config{
		AppName:            "Anima RHI",
		Backend:            BackendVulkan,
		Width:              1280,
		Height:             720,
		FramesInFlight:     2,
		DescriptorCapacity: 1 << 16,
		AcquireTimeout:     Duration{time.Second},
		Validation:         false,
		VSync:              false,
		LogLevel:           "info",
		ShaderDir:          "assets/shaders",
		WatchShaders:       false,
	}
}

// Load reads a TOML file on top of the defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes TOML on top of the defaults. Unknown keys are rejected.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	dec := toml.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(cfg); err != nil {
		var strict *toml.StrictMissingError
		if errors.As(err, &strict) {
			return nil, fmt.Errorf("unknown configuration keys:\n%s", strict.String())
		}
		var decodeErr *toml.DecodeError
		if errors.As(err, &decodeErr) {
			row, col := decodeErr.Position()
			return nil, fmt.Errorf("invalid configuration at line %d column %d: %w", row, col, err)
		}
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	switch c.Backend {
	case BackendVulkan, BackendHeadless:
	default:
		return fmt.Errorf("unknown backend %q", c.Backend)
	}
	if c.FramesInFlight < 1 || c.FramesInFlight > MaxFramesInFlight {
		return fmt.Errorf("frames_in_flight must be between 1 and %d, got %d", MaxFramesInFlight, c.FramesInFlight)
	}
	if !math.IsPowerOfTwo(c.DescriptorCapacity) {
		return fmt.Errorf("descriptor_capacity must be a power of two, got %d", c.DescriptorCapacity)
	}
	if c.Width == 0 || c.Height == 0 {
		return fmt.Errorf("window size must be non-zero, got %dx%d", c.Width, c.Height)
	}
	if c.AcquireTimeout.Duration <= 0 {
		return fmt.Errorf("acquire_timeout must be positive, got %s", c.AcquireTimeout)
	}
	return nil
}

// Marshal renders the configuration back to TOML.
func (c *Config) Marshal() ([]byte, error) {
	return toml.Marshal(c)
}
