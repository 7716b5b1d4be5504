package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"page-screenshot/internal/cache"
	"page-screenshot/internal/refresh"
	"page-screenshot/internal/scheduler"
	"page-screenshot/internal/server"
)

const (
	shutdownTimeout = 10 * time.Second
)

// serveCmd starts the screenshot server.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the screenshot server",
	Long: `Start the screenshot server.

The server will:
  - Load configuration from defaults, the config file and the environment
  - Serve the cached screenshot at /page.png (and /page.bmp when EPAPER is set)
  - Render the page in the background, timed from the request rate

The first request returns 204 No Content and starts the first render.
The server runs until interrupted (Ctrl+C) or receives SIGTERM.

Example:
  URL=https://example.com pagescreenshot serve
  pagescreenshot serve --config /etc/pagescreenshot/config.yaml`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logger := newLogger(cfg.LogLevel)

	logger.Info("starting server",
		"url", cfg.URL,
		"port", cfg.Port,
		"viewport", fmt.Sprintf("%dx%d", cfg.Width, cfg.Height),
		"update_time_margin", cfg.UpdateTimeMargin.Duration().String(),
		"login", cfg.Username != "" && cfg.Password != "",
		"epaper", cfg.EPaper.Enabled,
	)

	// cancel on SIGINT/SIGTERM; also aborts a render in progress
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cell := &cache.Cell{}

	opts := []refresh.Option{
		refresh.WithTimeout(cfg.RenderTimeout.Duration()),
	}
	if cfg.EPaper.Enabled {
		opts = append(opts, refresh.WithConverter(newConverter(cfg)))
	}
	coord := refresh.New(ctx, newRenderer(cfg, logger), cell, logger.With("component", "refresh"), opts...)

	sched := scheduler.New(coord, cell, cfg.UpdateTimeMargin.Duration(), logger.With("component", "scheduler"))
	defer sched.Stop()

	srv := server.NewServer(cell, sched, coord, cfg.Port, cfg.EPaper.Enabled, logger.With("component", "server"))
	if err := srv.Start(ctx); err != nil {
		return fmt.Errorf("server error: %w", err)
	}

	<-ctx.Done()
	sched.Stop()

	select {
	case <-srv.Done():
		logger.Info("shutdown complete")
	case <-time.After(shutdownTimeout):
		logger.Warn("shutdown timed out",
			"timeout", shutdownTimeout.String(),
			"action", "forcing exit",
		)
	}
	return nil
}
