package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/habedi/cloudauth/pkg/validation"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

const (
	baseURLEnvVar        = "CLOUDAUTH_BASE_URL"
	tokenURLEnvVar       = "CLOUDAUTH_TOKEN_URL"
	dbPathEnvVar         = "CLOUDAUTH_DB_PATH"
	requestTimeoutEnvVar = "CLOUDAUTH_REQUEST_TIMEOUT"

	DefaultBaseURL  = "https://proapi.115.com"
	DefaultTokenURL = "https://passportapi.115.com/open/refreshToken"
)

// Config holds the process settings. The refresh policy itself is persisted with the credential
// record, not here.
type Config struct {
	DatabasePath string    `yaml:"database_path"`
	API          APIConfig `yaml:"api"`
	Search       Search    `yaml:"search"`
}

type APIConfig struct {
	BaseURL        string        `yaml:"base_url"`
	TokenURL       string        `yaml:"token_url"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
	RefreshTimeout time.Duration `yaml:"refresh_timeout"`
	MaxRetries     int           `yaml:"max_retries"`
	RetryBackoff   time.Duration `yaml:"retry_backoff"`
}

type Search struct {
	Workers  int `yaml:"workers"`
	PageSize int `yaml:"page_size"`
}

// DefaultPath returns ~/.cloudauth/config.yaml.
func DefaultPath() string {
	return filepath.Join(homeDir(), ".cloudauth", "config.yaml")
}

// Default returns the configuration used when no file or environment overrides exist.
func Default() *Config {
	return &Config{
		DatabasePath: filepath.Join(homeDir(), ".cloudauth", "credentials.db"),
		API: APIConfig{
			BaseURL:        DefaultBaseURL,
			TokenURL:       DefaultTokenURL,
			RequestTimeout: 30 * time.Second,
			RefreshTimeout: 30 * time.Second,
			MaxRetries:     3,
			RetryBackoff:   time.Second,
		},
		Search: Search{Workers: 4, PageSize: 100},
	}
}

// Load reads path on top of the defaults and then applies environment overrides. A missing file
// is not an error; an unreadable or malformed one is.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		path = DefaultPath()
	}

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		log.Debug().Str("path", path).Msg("No config file, using defaults")
	case err != nil:
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
		log.Debug().Str("path", path).Msg("Loaded config file")
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	c.API.BaseURL = getEnv(baseURLEnvVar, c.API.BaseURL)
	c.API.TokenURL = getEnv(tokenURLEnvVar, c.API.TokenURL)
	c.DatabasePath = getEnv(dbPathEnvVar, c.DatabasePath)
	if v := os.Getenv(requestTimeoutEnvVar); v != "" {
		d, err := parseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid %s %q: %w", requestTimeoutEnvVar, v, err)
		}
		c.API.RequestTimeout = d
	}
	return nil
}

// Validate checks the settings that would otherwise fail late and obscurely.
func (c *Config) Validate() error {
	checks := []error{
		validation.ValidateNonEmptyString("database_path", c.DatabasePath),
		validation.ValidateHTTPURL("api.base_url", c.API.BaseURL),
		validation.ValidateHTTPURL("api.token_url", c.API.TokenURL),
		validation.ValidatePositiveDuration("api.request_timeout", c.API.RequestTimeout),
		validation.ValidatePositiveDuration("api.refresh_timeout", c.API.RefreshTimeout),
		validation.ValidatePositiveInt("api.max_retries", c.API.MaxRetries),
		validation.ValidateWorkerCount("search.workers", c.Search.Workers),
		validation.ValidatePositiveInt("search.page_size", c.Search.PageSize),
	}
	for _, err := range checks {
		if err != nil {
			return err
		}
	}
	if c.API.RetryBackoff < 0 {
		return errors.New("api.retry_backoff cannot be negative")
	}
	return nil
}

// parseDuration accepts Go durations ("45s") and bare seconds ("45").
func parseDuration(v string) (time.Duration, error) {
	if secs, err := strconv.Atoi(v); err == nil {
		return time.Duration(secs) * time.Second, nil
	}
	return time.ParseDuration(v)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func homeDir() string {
	if home, err := os.UserHomeDir(); err == nil {
		return home
	}
	return os.Getenv("HOME")
}
