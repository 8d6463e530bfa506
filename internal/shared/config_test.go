package shared

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestConfig(t *testing.T) {
	t.Run("DefaultConfig", func(t *testing.T) {
		config := DefaultConfig()

		if config.Database.Path != "./mnow.db" {
			t.Errorf("expected database path ./mnow.db, got %s", config.Database.Path)
		}
		if config.API.BaseURL != "http://127.0.0.1:8787" {
			t.Errorf("expected base url http://127.0.0.1:8787, got %s", config.API.BaseURL)
		}
		if config.API.Timeout != 15*time.Second {
			t.Errorf("expected timeout 15s, got %v", config.API.Timeout)
		}
		if config.Retry.MaxAttempts != 3 {
			t.Errorf("expected 3 max attempts, got %d", config.Retry.MaxAttempts)
		}
		if config.Retry.BaseDelay != 250*time.Millisecond {
			t.Errorf("expected base delay 250ms, got %v", config.Retry.BaseDelay)
		}
		if err := ValidateConfig(config); err != nil {
			t.Errorf("default config should validate: %v", err)
		}
	})

	t.Run("TokenURL", func(t *testing.T) {
		config := DefaultConfig()
		if got := config.TokenURL(); got != "http://127.0.0.1:8787/oauth/token" {
			t.Errorf("unexpected token url %s", got)
		}

		config.Auth.TokenPath = "https://id.example.com/token"
		if got := config.TokenURL(); got != "https://id.example.com/token" {
			t.Errorf("absolute token path should be used verbatim, got %s", got)
		}
	})

	t.Run("CreateConfigFile", func(t *testing.T) {
		tmpDir := t.TempDir()
		configPath := filepath.Join(tmpDir, "config.toml")

		if err := CreateConfigFile(configPath); err != nil {
			t.Fatalf("failed to create config file: %v", err)
		}

		config, err := LoadConfig(configPath)
		if err != nil {
			t.Fatalf("failed to load created config: %v", err)
		}

		if config.Database.Path != DefaultConfig().Database.Path {
			t.Errorf("created config database path doesn't match default")
		}

		if err := CreateConfigFile(configPath); err == nil {
			t.Error("creating config file again should fail")
		}
	})

	t.Run("LoadConfig reports a missing file", func(t *testing.T) {
		_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.toml"))
		if !errors.Is(err, ErrMissingConfig) {
			t.Errorf("expected ErrMissingConfig, got %v", err)
		}
	})

	t.Run("LoadConfig", func(t *testing.T) {
		tmpDir := t.TempDir()
		configPath := filepath.Join(tmpDir, "config.toml")

		testConfig := `[api]
base_url = "https://api.moviesnow.example"
timeout = "5s"

[retry]
max_attempts = 2
base_delay = "10ms"
`
		if err := os.WriteFile(configPath, []byte(testConfig), 0644); err != nil {
			t.Fatalf("failed to write test config: %v", err)
		}

		config, err := LoadConfig(configPath)
		if err != nil {
			t.Fatalf("failed to load config: %v", err)
		}

		if config.API.BaseURL != "https://api.moviesnow.example" {
			t.Errorf("expected overridden base url, got %s", config.API.BaseURL)
		}
		if config.Retry.MaxAttempts != 2 {
			t.Errorf("expected 2 max attempts, got %d", config.Retry.MaxAttempts)
		}
		if config.Auth.ClientID != "mnow-cli" {
			t.Errorf("expected default client id to survive, got %s", config.Auth.ClientID)
		}
	})

	t.Run("LoadConfig With Env Overrides", func(t *testing.T) {
		tmpDir := t.TempDir()
		configPath := filepath.Join(tmpDir, "config.toml")
		if err := CreateConfigFile(configPath); err != nil {
			t.Fatalf("failed to create config file: %v", err)
		}

		t.Setenv("MNOW_API__BASE_URL", "http://localhost:9999")
		t.Setenv("MNOW_RETRY__MAX_ATTEMPTS", "1")
		t.Setenv("MNOW_LOGGER__LEVEL", "debug")

		config, err := LoadConfig(configPath)
		if err != nil {
			t.Fatalf("failed to load config: %v", err)
		}

		if config.API.BaseURL != "http://localhost:9999" {
			t.Errorf("expected env base url, got %s", config.API.BaseURL)
		}
		if config.Retry.MaxAttempts != 1 {
			t.Errorf("expected env max attempts 1, got %d", config.Retry.MaxAttempts)
		}
		if config.Logger.Level != "debug" {
			t.Errorf("expected env log level debug, got %s", config.Logger.Level)
		}
	})

	t.Run("LoadConfig Rejects Invalid Values", func(t *testing.T) {
		tmpDir := t.TempDir()
		configPath := filepath.Join(tmpDir, "config.toml")
		if err := os.WriteFile(configPath, []byte("[retry]\nmax_attempts = 9\n"), 0644); err != nil {
			t.Fatalf("failed to write test config: %v", err)
		}

		_, err := LoadConfig(configPath)
		if !errors.Is(err, ErrInvalidConfig) {
			t.Errorf("expected ErrInvalidConfig, got %v", err)
		}
	})

	t.Run("LoadConfig Missing File", func(t *testing.T) {
		if _, err := LoadConfig(filepath.Join(t.TempDir(), "nope.toml")); err == nil {
			t.Error("expected error for missing file")
		}
	})
}
