package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// executeCmd runs the root command with args and returns captured stdout and
// any error. Shared flags are always passed explicitly because rootCmd keeps
// flag values between runs.
func executeCmd(t *testing.T, configPath string, args ...string) (string, error) {
	t.Helper()

	var buf bytes.Buffer
	rootCmd.SetOut(&buf)
	rootCmd.SetErr(&buf)
	t.Cleanup(func() {
		rootCmd.SetOut(nil)
		rootCmd.SetErr(nil)
	})

	args = append(args,
		"--config="+configPath,
		"--env-file="+filepath.Join(t.TempDir(), ".env"),
		"--log-level=",
	)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return buf.String(), err
}

// clearEnv unsets the variables the config layer reads, so the developer's
// environment cannot leak into a test.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"URL", "USERNAME", "PASSWORD", "UPDATE_TIME_MARGIN", "POST_LOAD_DELAY",
		"RENDER_TIMEOUT", "WIDTH", "HEIGHT", "PORT", "USER_DATA_DIR",
		"CHROME_PATH", "LOG_LEVEL", "EPAPER", "EPAPER_WIDTH", "EPAPER_HEIGHT",
		"EPAPER_DITHER", "EPAPER_FIT", "EPAPER_INVERT", "EPAPER_DEPTH", "EPAPER_STAMP",
	} {
		t.Setenv(key, "")
	}
}

func TestRunValidate_FromEnvironment(t *testing.T) {
	clearEnv(t)
	t.Setenv("URL", "https://example.com/dashboard")
	t.Setenv("PASSWORD", "s3cret")
	t.Setenv("UPDATE_TIME_MARGIN", "5000")

	output, err := executeCmd(t, "", "validate")
	if err != nil {
		t.Fatalf("validate command error = %v", err)
	}

	expectedPhrases := []string{
		"Config is valid!",
		"URL:      https://example.com/dashboard",
		"Listen:   :8000",
		"Viewport: 800x600",
		"Margin:   5s",
		"update_time_margin: 5s",
	}
	for _, phrase := range expectedPhrases {
		if !strings.Contains(output, phrase) {
			t.Errorf("output missing %q\nGot: %s", phrase, output)
		}
	}
	if strings.Contains(output, "s3cret") {
		t.Errorf("output leaks the password\nGot: %s", output)
	}
}

func TestRunValidate_ConfigFile(t *testing.T) {
	clearEnv(t)
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	configContent := `
url: https://example.com
port: 9000
width: 1024
height: 768
`
	if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}

	output, err := executeCmd(t, configPath, "validate")
	if err != nil {
		t.Fatalf("validate command error = %v", err)
	}
	for _, phrase := range []string{"Listen:   :9000", "Viewport: 1024x768"} {
		if !strings.Contains(output, phrase) {
			t.Errorf("output missing %q\nGot: %s", phrase, output)
		}
	}
}

func TestRunValidate_MissingURL(t *testing.T) {
	clearEnv(t)

	_, err := executeCmd(t, "", "validate")
	if err == nil {
		t.Fatal("validate command expected error without URL, got nil")
	}
	if !strings.Contains(err.Error(), "URL env var required") {
		t.Errorf("error should mention the missing URL, got: %v", err)
	}
}

func TestRunValidate_MissingFile(t *testing.T) {
	clearEnv(t)

	_, err := executeCmd(t, "/nonexistent/path/config.yaml", "validate")
	if err == nil {
		t.Fatal("validate command expected error for missing file, got nil")
	}
	if !strings.Contains(err.Error(), "failed to read") {
		t.Errorf("error should mention 'failed to read', got: %v", err)
	}
}

func TestVersionCmd(t *testing.T) {
	output, err := executeCmd(t, "", "version")
	if err != nil {
		t.Fatalf("version command error = %v", err)
	}
	if !strings.Contains(output, "pagescreenshot dev") {
		t.Errorf("output = %q", output)
	}
}
