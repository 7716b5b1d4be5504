// Package config loads the page-screenshot settings.
//
// Settings come from three layers, later ones winning:
//
//  1. built-in defaults
//  2. an optional YAML file
//  3. environment variables (optionally seeded from a .env file)
//
// Example configuration file:
//
//	url: https://grafana.example.com/d/abc?kiosk
//	username: viewer
//	update_time_margin: 10s
//	post_load_delay: 2s
//	width: 800
//	height: 480
//	epaper:
//	  enabled: true
//	  dither: hybrid
//
// Durations accept Go duration strings ("10s", "1m30s") or a bare integer
// number of milliseconds, matching the environment variables.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	v "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// ErrMissingURL is returned when no target page is configured.
var ErrMissingURL = errors.New("URL env var required")

// Defaults.
const (
	DefaultUpdateTimeMargin = 10 * time.Second
	DefaultPostLoadDelay    = 2 * time.Second
	DefaultRenderTimeout    = 2 * time.Minute
	DefaultWidth            = 800
	DefaultHeight           = 600
	DefaultPort             = 8000
	DefaultUserDataDir      = "./data/"
	DefaultLogLevel         = "info"
)

// Config is the complete runtime configuration.
type Config struct {
	// URL is the page to screenshot. Required.
	URL string `yaml:"url"`

	// Username and Password are typed into the page's login form, if it has
	// one. Both must be set for the login step to run.
	Username string `yaml:"username"`
	Password string `yaml:"password"`

	// UpdateTimeMargin is how long before the next expected request a
	// refresh should complete.
	UpdateTimeMargin Duration `yaml:"update_time_margin"`

	// PostLoadDelay is waited after the page loads before the screenshot.
	PostLoadDelay Duration `yaml:"post_load_delay"`

	// RenderTimeout aborts a render that takes longer. Zero disables it.
	RenderTimeout Duration `yaml:"render_timeout"`

	// Width and Height are the browser viewport in CSS pixels.
	Width  int `yaml:"width"`
	Height int `yaml:"height"`

	// Port is the HTTP listen port.
	Port int `yaml:"port"`

	// UserDataDir is the Chrome profile directory kept between renders.
	UserDataDir string `yaml:"user_data_dir"`

	// ChromePath overrides the Chrome binary. Empty searches PATH.
	ChromePath string `yaml:"chrome_path"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level"`

	EPaper EPaper `yaml:"epaper"`
}

// EPaper configures the dithered bitmap served at /page.bmp.
type EPaper struct {
	Enabled bool `yaml:"enabled"`

	// Width and Height of the panel. Zero uses the viewport size.
	Width  int `yaml:"width"`
	Height int `yaml:"height"`

	Dither string `yaml:"dither"`
	Fit    string `yaml:"fit"`
	Invert bool   `yaml:"invert"`
	Depth  int    `yaml:"depth"`
	Stamp  bool   `yaml:"stamp"`
}

// Duration is a time.Duration that unmarshals from "10s" or from an
// integer number of milliseconds.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler for Duration.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}

	parsed, err := parseDuration(s)
	if err != nil {
		return err
	}

	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler for Duration.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// Duration returns the underlying time.Duration value.
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

func parseDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.Duration(ms) * time.Millisecond, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q: %w", s, err)
	}
	return d, nil
}

// Default returns the configuration used when nothing is set.
func Default() Config {
	return Config{
		UpdateTimeMargin: Duration(DefaultUpdateTimeMargin),
		PostLoadDelay:    Duration(DefaultPostLoadDelay),
		RenderTimeout:    Duration(DefaultRenderTimeout),
		Width:            DefaultWidth,
		Height:           DefaultHeight,
		Port:             DefaultPort,
		UserDataDir:      DefaultUserDataDir,
		LogLevel:         DefaultLogLevel,
		EPaper: EPaper{
			Dither: "floyd-steinberg",
			Fit:    "cover",
			Depth:  1,
		},
	}
}

// LoadEnvFile loads a .env file into the process environment without
// overriding variables that are already set. A missing file is not an error.
func LoadEnvFile(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to load env file: %w", err)
	}
	return nil
}

// Load reads the optional YAML file at path, applies environment overrides
// from the process environment and validates the result.
func Load(path string) (*Config, error) {
	return LoadWith(path, os.LookupEnv)
}

// LookupFunc looks up an environment variable.
type LookupFunc func(key string) (string, bool)

// LoadWith is Load with an explicit environment.
func LoadWith(path string, lookup LookupFunc) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse YAML: %w", err)
		}
	}

	if err := cfg.applyEnv(lookup); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyEnv overrides fields from environment variables. Empty values are
// treated as unset.
func (c *Config) applyEnv(lookup LookupFunc) error {
	get := func(key string) (string, bool) {
		s, ok := lookup(key)
		s = strings.TrimSpace(s)
		return s, ok && s != ""
	}

	strs := map[string]*string{
		"URL":           &c.URL,
		"USERNAME":      &c.Username,
		"PASSWORD":      &c.Password,
		"USER_DATA_DIR": &c.UserDataDir,
		"CHROME_PATH":   &c.ChromePath,
		"LOG_LEVEL":     &c.LogLevel,
		"EPAPER_DITHER": &c.EPaper.Dither,
		"EPAPER_FIT":    &c.EPaper.Fit,
	}
	for key, dst := range strs {
		if s, ok := get(key); ok {
			*dst = s
		}
	}

	ints := map[string]*int{
		"WIDTH":         &c.Width,
		"HEIGHT":        &c.Height,
		"PORT":          &c.Port,
		"EPAPER_WIDTH":  &c.EPaper.Width,
		"EPAPER_HEIGHT": &c.EPaper.Height,
		"EPAPER_DEPTH":  &c.EPaper.Depth,
	}
	for key, dst := range ints {
		if s, ok := get(key); ok {
			n, err := strconv.Atoi(s)
			if err != nil {
				return fmt.Errorf("%s: invalid integer %q", key, s)
			}
			*dst = n
		}
	}

	durations := map[string]*Duration{
		"UPDATE_TIME_MARGIN": &c.UpdateTimeMargin,
		"POST_LOAD_DELAY":    &c.PostLoadDelay,
		"RENDER_TIMEOUT":     &c.RenderTimeout,
	}
	for key, dst := range durations {
		if s, ok := get(key); ok {
			d, err := parseDuration(s)
			if err != nil {
				return fmt.Errorf("%s: %w", key, err)
			}
			*dst = Duration(d)
		}
	}

	bools := map[string]*bool{
		"EPAPER":        &c.EPaper.Enabled,
		"EPAPER_INVERT": &c.EPaper.Invert,
		"EPAPER_STAMP":  &c.EPaper.Stamp,
	}
	for key, dst := range bools {
		if s, ok := get(key); ok {
			b, err := strconv.ParseBool(s)
			if err != nil {
				return fmt.Errorf("%s: invalid boolean %q", key, s)
			}
			*dst = b
		}
	}

	return nil
}

// Validate checks the configuration. A missing URL is reported as
// [ErrMissingURL].
func (c Config) Validate() error {
	if strings.TrimSpace(c.URL) == "" {
		return ErrMissingURL
	}
	return v.ValidateStruct(&c,
		v.Field(&c.URL, v.Required, is.URL),
		v.Field(&c.UpdateTimeMargin, v.Min(0)),
		v.Field(&c.PostLoadDelay, v.Min(0)),
		v.Field(&c.RenderTimeout, v.Min(0)),
		v.Field(&c.Width, v.Required, v.Min(1), v.Max(16384)),
		v.Field(&c.Height, v.Required, v.Min(1), v.Max(16384)),
		v.Field(&c.Port, v.Required, v.Min(1), v.Max(65535)),
		v.Field(&c.LogLevel, v.In("debug", "info", "warn", "error")),
		v.Field(&c.EPaper),
	)
}

// Validate checks the e-paper settings.
func (e EPaper) Validate() error {
	return v.ValidateStruct(&e,
		v.Field(&e.Width, v.Min(0), v.Max(16384)),
		v.Field(&e.Height, v.Min(0), v.Max(16384)),
		v.Field(&e.Dither, v.In("floyd-steinberg", "bayer4", "bayer8", "hybrid")),
		v.Field(&e.Fit, v.In("cover", "stretch")),
		v.Field(&e.Depth, v.In(1, 24)),
	)
}

// Redacted returns a copy safe to print.
func (c Config) Redacted() Config {
	if c.Password != "" {
		c.Password = "********"
	}
	return c
}
