package shared

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/go-playground/validator"
	"github.com/knadh/koanf"
	"github.com/knadh/koanf/providers/env"
)

//go:embed config.example.toml
var exampleConf []byte

// EnvPrefix is the prefix for environment overrides (MNOW_API__BASE_URL -> api.base_url).
const EnvPrefix = "MNOW_"

// Config represents the application configuration loaded from a TOML file.
type Config struct {
	API         APIConfig         `toml:"api" koanf:"api"`
	Auth        AuthConfig        `toml:"auth" koanf:"auth"`
	Retry       RetryConfig       `toml:"retry" koanf:"retry"`
	Idempotency IdempotencyConfig `toml:"idempotency" koanf:"idempotency"`
	Database    DatabaseConfig    `toml:"database" koanf:"database"`
	Server      ServerConfig      `toml:"server" koanf:"server"`
	Logger      LoggerConfig      `toml:"logger" koanf:"logger"`
}

// APIConfig describes how to reach the MoviesNow backend.
type APIConfig struct {
	BaseURL   string        `toml:"base_url" koanf:"base_url" validate:"required,url"`
	Timeout   time.Duration `toml:"timeout" koanf:"timeout" validate:"required"`
	RateLimit float64       `toml:"rate_limit" koanf:"rate_limit" validate:"gte=0"`
	UserAgent string        `toml:"user_agent" koanf:"user_agent"`
}

// AuthConfig contains the OAuth2 client settings used for refresh and browser login.
type AuthConfig struct {
	ClientID      string `toml:"client_id" koanf:"client_id" validate:"required"`
	TokenPath     string `toml:"token_path" koanf:"token_path" validate:"required"`
	AuthorizePath string `toml:"authorize_path" koanf:"authorize_path"`
	RedirectURI   string `toml:"redirect_uri" koanf:"redirect_uri"`
}

// RetryConfig bounds automatic retries of a single logical mutation.
type RetryConfig struct {
	MaxAttempts int           `toml:"max_attempts" koanf:"max_attempts" validate:"min=1,max=5"`
	BaseDelay   time.Duration `toml:"base_delay" koanf:"base_delay"`
	MaxDelay    time.Duration `toml:"max_delay" koanf:"max_delay"`
}

// IdempotencyConfig selects the idempotency key format.
type IdempotencyConfig struct {
	Format string `toml:"format" koanf:"format" validate:"omitempty,oneof=uuid ksuid"`
}

// DatabaseConfig contains database connection settings.
type DatabaseConfig struct {
	Path         string `toml:"path" koanf:"path" validate:"required"`
	MaxOpenConns int    `toml:"max_open_conns" koanf:"max_open_conns"`
	MaxIdleConns int    `toml:"max_idle_conns" koanf:"max_idle_conns"`
}

// ServerConfig contains settings for the local development backend.
type ServerConfig struct {
	Host string `toml:"host" koanf:"host"`
	Port int    `toml:"port" koanf:"port"`
}

// LoggerConfig contains log output settings.
type LoggerConfig struct {
	Level string `toml:"level" koanf:"level" validate:"omitempty,oneof=debug info warn error"`
}

// Addr returns the host:port the development backend listens on.
func (c ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// TokenURL resolves the OAuth2 token endpoint against the API base URL.
func (c *Config) TokenURL() string {
	return joinURL(c.API.BaseURL, c.Auth.TokenPath)
}

// AuthorizeURL resolves the OAuth2 authorization endpoint against the API base URL.
func (c *Config) AuthorizeURL() string {
	return joinURL(c.API.BaseURL, c.Auth.AuthorizePath)
}

func joinURL(base, path string) string {
	if strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		return path
	}
	return strings.TrimRight(base, "/") + "/" + strings.TrimLeft(path, "/")
}

// LoadConfig reads and parses a TOML configuration file from the specified path.
//
// Values missing from the file keep the embedded defaults; environment overrides are applied last
// and the result is validated.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrMissingConfig, path)
	} else if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := DefaultConfig()
	if err := toml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := ApplyEnv(config); err != nil {
		return nil, err
	}

	if err := ValidateConfig(config); err != nil {
		return nil, err
	}

	return config, nil
}

// ApplyEnv overlays MNOW_* environment variables onto config.
func ApplyEnv(config *Config) error {
	k := koanf.New(".")

	err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		return strings.ReplaceAll(
			strings.ToLower(strings.TrimPrefix(s, EnvPrefix)),
			"__",
			".",
		)
	}), nil)
	if err != nil {
		return fmt.Errorf("%w: failed to load environment: %v", ErrInvalidConfig, err)
	}

	if err := k.Unmarshal("", config); err != nil {
		return fmt.Errorf("%w: failed to apply environment: %v", ErrInvalidConfig, err)
	}

	return nil
}

// ValidateConfig checks config against its validate tags.
func ValidateConfig(config *Config) error {
	if err := validator.New().Struct(config); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return nil
}

// DefaultConfig returns a Config with sensible defaults loaded from the embedded example config.
func DefaultConfig() *Config {
	var config Config
	if err := toml.Unmarshal(exampleConf, &config); err != nil {
		panic(fmt.Sprintf("failed to parse embedded default config: %v", err))
	}
	return &config
}

// CreateConfigFile creates a config.toml file at the specified path using the embedded example config.
func CreateConfigFile(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	}

	if err := os.WriteFile(path, exampleConf, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}
