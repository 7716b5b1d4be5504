package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"page-screenshot/internal/cache"
	"page-screenshot/internal/refresh"
)

// shotCmd renders the page once and writes the result to disk.
var shotCmd = &cobra.Command{
	Use:   "shot",
	Short: "Render the page once and write it to a file",
	Long: `Render the configured page once, with the same browser settings and
login handling as the server, and write the PNG to a file.

Useful to check credentials, viewport and post-load delay before
running the server.

Example:
  URL=https://example.com pagescreenshot shot -o page.png
  pagescreenshot shot -c config.yaml -o page.png --bmp page.bmp`,
	RunE: runShot,
}

func init() {
	rootCmd.AddCommand(shotCmd)

	shotCmd.Flags().StringP("output", "o", "page.png", "PNG output path")
	shotCmd.Flags().String("bmp", "", "also write the e-paper BMP to this path")
}

func runShot(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logger := newLogger(cfg.LogLevel)

	output, _ := cmd.Flags().GetString("output")
	bmpOutput, _ := cmd.Flags().GetString("bmp")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	opts := []refresh.Option{
		refresh.WithTimeout(cfg.RenderTimeout.Duration()),
	}
	if bmpOutput != "" {
		opts = append(opts, refresh.WithConverter(newConverter(cfg)))
	}
	cell := &cache.Cell{}
	coord := refresh.New(ctx, newRenderer(cfg, logger), cell, logger, opts...)

	out := <-coord.Trigger()
	if out.Err != nil {
		return out.Err
	}

	if err := os.WriteFile(output, out.Image, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", output, err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s (%d bytes) in %s\n", output, len(out.Image), out.Duration.Round(time.Millisecond))

	if bmpOutput != "" {
		frame := cell.Current()
		if frame == nil || frame.BMP == nil {
			return fmt.Errorf("e-paper conversion failed, see log")
		}
		if err := os.WriteFile(bmpOutput, frame.BMP, 0o644); err != nil {
			return fmt.Errorf("failed to write %s: %w", bmpOutput, err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s (%d bytes)\n", bmpOutput, len(frame.BMP))
	}
	return nil
}
