package config

import (
	"os"

	"github.com/pelletier/go-toml/v2"
	"github.com/spaghettifunk/halcyon/engine/core"
	"github.com/spaghettifunk/halcyon/engine/math"
)

// Config drives engine startup and the parts of the renderer that can be
// tuned without code changes. LogLevel and ValidateRecording are also picked
// up live by Watcher.
type Config struct {
	AppName  string `toml:"app_name"`
	Backend  string `toml:"backend"`
	Headless bool   `toml:"headless"`

	Width  uint32 `toml:"width"`
	Height uint32 `toml:"height"`

	// Number of native recording slots rotated by the command buffer.
	// Immediate backends ignore this and use one implicit slot.
	Slots int `toml:"slots"`

	// Sample count for the testbed render target. 1 disables multisampling.
	Samples int `toml:"samples"`

	LogLevel          string `toml:"log_level"`
	ValidateRecording bool   `toml:"validate_recording"`

	ScreenshotPath string `toml:"screenshot_path"`

	// path the config was loaded from, empty when running on defaults.
	path string
}

// Path returns the file this configuration was loaded from, or "" when no
// file existed and the defaults apply. Watching is only possible with a path.
func (c *Config) Path() string {
	return c.path
}

func Default() *Config {
	return &Config{
		AppName:           "Halcyon Testbed",
		Backend:           "soft",
		Headless:          true,
		Width:             1280,
		Height:            720,
		Slots:             3,
		Samples:           1,
		LogLevel:          "info",
		ValidateRecording: true,
		ScreenshotPath:    "testbed.png",
	}
}

// Load reads a TOML config file on top of the defaults. A missing file is
// not an error, the defaults apply unchanged.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			// The watcher registers the directory, so a file written here
			// later still gets picked up.
			cfg.path = path
			core.LogInfo("no config file at %s, using defaults", path)
			return cfg, nil
		}
		return nil, core.Errorf("failed to read config %s: %w", path, err)
	}

	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, core.Errorf("failed to parse config %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg.path = path
	return cfg, nil
}

// Validate normalizes out-of-range values and rejects the unusable ones.
func (c *Config) Validate() error {
	if c.AppName == "" {
		c.AppName = "Halcyon Testbed"
	}
	if c.Backend == "" {
		c.Backend = "soft"
	}
	if c.Width == 0 || c.Height == 0 {
		return core.Errorf("config: resolution %dx%d is not renderable", c.Width, c.Height)
	}
	c.Slots = math.Clamp(c.Slots, 1, 8)
	switch c.Samples {
	case 0:
		c.Samples = 1
	case 1, 2, 4, 8:
	default:
		return core.Errorf("config: sample count %d not supported, use 1, 2, 4 or 8", c.Samples)
	}
	return nil
}
