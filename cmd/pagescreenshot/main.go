// Package main is the entry point for the pagescreenshot CLI.
//
// pagescreenshot keeps a screenshot of one web page fresh in memory and
// serves it over HTTP. Renders run in the background, timed from how often
// the image is actually requested.
//
// Usage:
//
//	pagescreenshot serve                 # Start the server (URL from env)
//	pagescreenshot serve -c config.yaml  # Start with a config file
//	pagescreenshot shot -o page.png      # Render once to a file
//	pagescreenshot validate              # Print the resolved configuration
//	pagescreenshot version               # Show version info
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version information, set at build time via ldflags.
// Example: go build -ldflags "-X main.version=1.0.0"
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// rootCmd only displays help. The work happens in subcommands.
var rootCmd = &cobra.Command{
	Use:   "pagescreenshot",
	Short: "Serve an adaptively refreshed screenshot of a web page",
	Long: `pagescreenshot serves a screenshot of a web page over HTTP.

The page is rendered in headless Chrome in the background. Requests always
get the latest cached image immediately, and the next render is scheduled
to finish shortly before the next request is expected.

Quick start:
  1. export URL=https://grafana.example.com/d/abc?kiosk
  2. Run: pagescreenshot serve
  3. Poll http://localhost:8000/page.png

Environment:
  URL, USERNAME, PASSWORD, UPDATE_TIME_MARGIN, POST_LOAD_DELAY,
  RENDER_TIMEOUT, WIDTH, HEIGHT, PORT, USER_DATA_DIR, CHROME_PATH,
  LOG_LEVEL, EPAPER, EPAPER_WIDTH, EPAPER_HEIGHT, EPAPER_DITHER,
  EPAPER_FIT, EPAPER_INVERT, EPAPER_DEPTH, EPAPER_STAMP`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		// cobra already printed the error
		os.Exit(1)
	}
}

func main() {
	Execute()
}

// versionCmd prints version information.
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Long:  `Print the version, commit hash, and build date of this pagescreenshot binary.`,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "pagescreenshot %s\n", version)
		fmt.Fprintf(cmd.OutOrStdout(), "  commit: %s\n", commit)
		fmt.Fprintf(cmd.OutOrStdout(), "  built:  %s\n", date)
	},
}

func init() {
	rootCmd.PersistentFlags().StringP("config", "c", "", "path to an optional YAML config file")
	rootCmd.PersistentFlags().String("env-file", ".env", "path to an optional .env file")
	rootCmd.PersistentFlags().String("log-level", "", "log level override (debug, info, warn, error)")

	rootCmd.AddCommand(versionCmd)
}
