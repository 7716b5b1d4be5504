package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"page-screenshot/internal/config"
	"page-screenshot/internal/epaper"
	"page-screenshot/internal/render"
)

// loadConfig seeds the environment from --env-file, then loads --config and
// the environment on top of the defaults. --log-level wins over both.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	envFile, _ := cmd.Flags().GetString("env-file")
	if err := config.LoadEnvFile(envFile); err != nil {
		return nil, err
	}

	configFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(configFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	if level, _ := cmd.Flags().GetString("log-level"); level != "" {
		cfg.LogLevel = level
		if err := cfg.Validate(); err != nil {
			return nil, fmt.Errorf("failed to load config: %w", err)
		}
	}
	return cfg, nil
}

// newLogger creates a JSON logger for CLI use.
func newLogger(level string) *slog.Logger {
	var l slog.Level
	if err := l.UnmarshalText([]byte(strings.ToUpper(level))); err != nil {
		l = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: l,
	}))
}

func newRenderer(cfg *config.Config, logger *slog.Logger) *render.Chrome {
	return render.NewChrome(render.Options{
		URL: cfg.URL,
		Viewport: render.Viewport{
			Width:  cfg.Width,
			Height: cfg.Height,
		},
		Credentials: render.Credentials{
			Username: cfg.Username,
			Password: cfg.Password,
		},
		PostLoadDelay: cfg.PostLoadDelay.Duration(),
		UserDataDir:   cfg.UserDataDir,
		ExecPath:      cfg.ChromePath,
	}, logger.With("component", "render"))
}

// newConverter returns the e-paper converter. A zero panel size falls back
// to the viewport.
func newConverter(cfg *config.Config) *epaper.Converter {
	width, height := cfg.EPaper.Width, cfg.EPaper.Height
	if width == 0 {
		width = cfg.Width
	}
	if height == 0 {
		height = cfg.Height
	}
	return epaper.New(epaper.Options{
		Width:  width,
		Height: height,
		Dither: epaper.Dither(cfg.EPaper.Dither),
		Fit:    epaper.Fit(cfg.EPaper.Fit),
		Invert: cfg.EPaper.Invert,
		Depth:  cfg.EPaper.Depth,
		Stamp:  cfg.EPaper.Stamp,
	})
}
