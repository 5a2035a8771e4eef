package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"phenoviewer/internal/colormode"
	"phenoviewer/internal/viewer"
)

// Config holds all viewer, capture and batch settings.
type Config struct {
	// Sampling
	GridSize       int      `json:"grid_size" yaml:"grid_size"`
	Spread         *float64 `json:"spread" yaml:"spread"`
	AlphaThreshold *float64 `json:"alpha_threshold" yaml:"alpha_threshold"`
	FetchTimeout   Duration `json:"fetch_timeout" yaml:"fetch_timeout"`

	// Display
	Mode       string `json:"mode" yaml:"mode"`
	AutoRotate *bool  `json:"auto_rotate" yaml:"auto_rotate"`
	Width      int    `json:"width" yaml:"width"`
	Height     int    `json:"height" yaml:"height"`

	// Capture
	CaptureFormat string `json:"capture_format" yaml:"capture_format"`
	Supersample   int    `json:"supersample" yaml:"supersample"`
	Workers       int    `json:"workers" yaml:"workers"`
	OutputDir     string `json:"output_dir" yaml:"output_dir"`
}

// Duration is a time.Duration written as "30s" in config files.
type Duration time.Duration

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

func (d *Duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(string(b))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

// Load reads a JSON or YAML (.yaml, .yml) config file.
// Fields not set in the file keep their zero values.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: read %s: %w", path, err)
	}

	var cfg Config
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &cfg)
	default:
		err = json.Unmarshal(data, &cfg)
	}
	if err != nil {
		return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return cfg, nil
}

// Flags holds CLI flag values that override config file settings.
type Flags struct {
	GridSize      int
	Mode          string
	NoAutoRotate  bool
	Width         int
	Height        int
	CaptureFormat string
	Supersample   int
	Workers       int
	OutputDir     string
}

// Resolve applies flag overrides, then fills any empty field with its
// default. CLI flags take priority when non-zero/non-empty.
func (c *Config) Resolve(flags Flags) {
	if flags.GridSize > 0 {
		c.GridSize = flags.GridSize
	}
	if flags.Mode != "" {
		c.Mode = flags.Mode
	}
	if flags.NoAutoRotate {
		off := false
		c.AutoRotate = &off
	}
	if flags.Width > 0 {
		c.Width = flags.Width
	}
	if flags.Height > 0 {
		c.Height = flags.Height
	}
	if flags.CaptureFormat != "" {
		c.CaptureFormat = flags.CaptureFormat
	}
	if flags.Supersample > 0 {
		c.Supersample = flags.Supersample
	}
	if flags.Workers > 0 {
		c.Workers = flags.Workers
	}
	if flags.OutputDir != "" {
		c.OutputDir = flags.OutputDir
	}

	if c.GridSize <= 0 {
		c.GridSize = 300
	}
	// nil means unset; an explicit 0 threshold hides only transparent pixels
	if c.Spread == nil {
		spread := 4.0
		c.Spread = &spread
	}
	if c.AlphaThreshold == nil {
		threshold := 0.1
		c.AlphaThreshold = &threshold
	}
	if c.FetchTimeout <= 0 {
		c.FetchTimeout = Duration(30 * time.Second)
	}
	if c.Mode == "" {
		c.Mode = colormode.RGB.String()
	}
	if c.AutoRotate == nil {
		on := true
		c.AutoRotate = &on
	}
	if c.Width <= 0 {
		c.Width = 800
	}
	if c.Height <= 0 {
		c.Height = 500
	}
	if c.CaptureFormat == "" {
		c.CaptureFormat = string(viewer.FormatPNG)
	}
	if c.Supersample <= 0 {
		c.Supersample = 1
	}
	if c.Workers <= 0 {
		c.Workers = runtime.NumCPU()
	}
	if c.OutputDir == "" {
		c.OutputDir = "captures"
	}
}

// Validate checks a resolved config.
func (c *Config) Validate() error {
	if _, err := colormode.ParseMode(c.Mode); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if _, err := viewer.ParseFormat(c.CaptureFormat); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	switch {
	case c.GridSize > 2048:
		return fmt.Errorf("config: grid_size %d exceeds 2048", c.GridSize)
	case c.Spread == nil || *c.Spread <= 0:
		return fmt.Errorf("config: spread must be positive")
	case c.AlphaThreshold == nil || *c.AlphaThreshold < 0 || *c.AlphaThreshold >= 1:
		return fmt.Errorf("config: alpha_threshold must be in [0, 1)")
	case c.Supersample > 4:
		return fmt.Errorf("config: supersample %d exceeds 4", c.Supersample)
	case c.Width > 8192 || c.Height > 8192:
		return fmt.Errorf("config: viewport %dx%d too large", c.Width, c.Height)
	}
	return nil
}
