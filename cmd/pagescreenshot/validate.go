package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

// validateCmd resolves and validates the configuration without starting
// the server.
var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the configuration",
	Long: `Resolve the configuration from defaults, the config file, the .env file
and the environment, validate it and print the result. The password is
redacted. No browser is started.

Exit codes:
  0 - Config is valid
  1 - Config is invalid (error details printed to stderr)

Example:
  pagescreenshot validate
  pagescreenshot validate --config /etc/pagescreenshot/config.yaml`,
	RunE: runValidate,
}

func init() {
	rootCmd.AddCommand(validateCmd)
}

func runValidate(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	out, err := yaml.Marshal(cfg.Redacted())
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}

	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "Config is valid!\n")
	fmt.Fprintf(w, "  URL:      %s\n", cfg.URL)
	fmt.Fprintf(w, "  Listen:   :%d\n", cfg.Port)
	fmt.Fprintf(w, "  Viewport: %dx%d\n", cfg.Width, cfg.Height)
	fmt.Fprintf(w, "  Margin:   %s\n", cfg.UpdateTimeMargin.Duration())
	fmt.Fprintf(w, "\n%s", out)
	return nil
}
