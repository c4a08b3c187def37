// Package config loads the server settings.
//
// Values are layered, later sources winning:
//
//	defaults → optional YAML file (--config) → environment variables
//
// Environment variables use the upper-cased key, e.g. REDIS_URL or
// SESSION_SECRET.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/spf13/viper"
)

// Config holds every setting the server reads at startup.
type Config struct {
	Port int `mapstructure:"port"`

	// StoreBackend is "redis" for shared deployments or "sqlite" for a
	// single node.
	StoreBackend string `mapstructure:"store_backend"`
	RedisURL     string `mapstructure:"redis_url"`
	DBPath       string `mapstructure:"db_path"`

	SessionSecret string        `mapstructure:"session_secret"`
	SessionTTL    time.Duration `mapstructure:"session_ttl"`
	SecureCookies bool          `mapstructure:"secure_cookies"`

	GitHubClientID     string `mapstructure:"github_client_id"`
	GitHubClientSecret string `mapstructure:"github_client_secret"`
	GitHubCallbackURL  string `mapstructure:"github_callback_url"`
	GitHubAPIURL       string `mapstructure:"github_api_url"`
	GitHubGraphQLURL   string `mapstructure:"github_graphql_url"`
	FrontendURL        string `mapstructure:"frontend_url"`

	OpenAIBaseURL    string        `mapstructure:"openai_api_base_url"`
	OpenAIAPIKey     string        `mapstructure:"openai_api_key"`
	OpenAIModel      string        `mapstructure:"openai_model"`
	OpenAITimeout    time.Duration `mapstructure:"openai_timeout"`
	OpenAIMaxRetries int           `mapstructure:"openai_max_retries"`

	PresetsFile     string `mapstructure:"presets_file"`
	DisplayTimezone string `mapstructure:"display_timezone"`

	UserDataTTL time.Duration `mapstructure:"userdata_ttl"`
	ReportTTL   time.Duration `mapstructure:"report_ttl"`
	PendingTTL  time.Duration `mapstructure:"pending_ttl"`

	LogLevel  string `mapstructure:"log_level"`
	LogFormat string `mapstructure:"log_format"`
}

var defaults = map[string]any{
	"port":                 8080,
	"store_backend":        "redis",
	"redis_url":            "redis://localhost:6379/0",
	"db_path":              "data/report.db",
	"session_secret":       "",
	"session_ttl":          7 * 24 * time.Hour,
	"secure_cookies":       false,
	"github_client_id":     "",
	"github_client_secret": "",
	"github_callback_url":  "http://localhost:8080/auth/github/callback",
	"github_api_url":       "https://api.github.com/",
	"github_graphql_url":   "https://api.github.com/graphql",
	"frontend_url":         "/",
	"openai_api_base_url":  "https://api.deepseek.com/v1",
	"openai_api_key":       "",
	"openai_model":         "deepseek-chat",
	"openai_timeout":       30 * time.Second,
	"openai_max_retries":   1,
	"presets_file":         "",
	"display_timezone":     "Asia/Shanghai",
	"userdata_ttl":         time.Hour,
	"report_ttl":           30 * 24 * time.Hour,
	"pending_ttl":          10 * time.Minute,
	"log_level":            "info",
	"log_format":           "text",
}

// Load reads the configuration. path may be empty, in which case only
// defaults and the environment apply.
func Load(path string) (*Config, error) {
	v := viper.New()
	for k, val := range defaults {
		v.SetDefault(k, val)
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: reading %s: %w", path, err)
		}
	}

	// Every key has a default, so AutomaticEnv sees all of them on Unmarshal.
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: decoding: %w", err)
	}
	return &cfg, nil
}

// Validate reports every missing or malformed setting at once.
func (c *Config) Validate() error {
	var errs []error

	if c.Port <= 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("port %d out of range", c.Port))
	}

	switch c.StoreBackend {
	case "redis":
		if c.RedisURL == "" {
			errs = append(errs, errors.New("redis_url is required for the redis store"))
		}
	case "sqlite":
		if c.DBPath == "" {
			errs = append(errs, errors.New("db_path is required for the sqlite store"))
		}
	default:
		errs = append(errs, fmt.Errorf("store_backend %q must be redis or sqlite", c.StoreBackend))
	}

	if len(c.SessionSecret) < 16 {
		errs = append(errs, errors.New("session_secret must be at least 16 characters"))
	}
	if c.GitHubClientID == "" || c.GitHubClientSecret == "" {
		errs = append(errs, errors.New("github_client_id and github_client_secret are required"))
	}
	if c.OpenAIAPIKey == "" {
		errs = append(errs, errors.New("openai_api_key is required"))
	}
	if c.OpenAIMaxRetries < 0 {
		errs = append(errs, errors.New("openai_max_retries must not be negative"))
	}

	for name, d := range map[string]time.Duration{
		"session_ttl":    c.SessionTTL,
		"userdata_ttl":   c.UserDataTTL,
		"report_ttl":     c.ReportTTL,
		"pending_ttl":    c.PendingTTL,
		"openai_timeout": c.OpenAITimeout,
	} {
		if d <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive", name))
		}
	}

	if _, err := c.Location(); err != nil {
		errs = append(errs, err)
	}
	if _, err := c.SlogLevel(); err != nil {
		errs = append(errs, err)
	}
	if f := strings.ToLower(c.LogFormat); f != "text" && f != "json" {
		errs = append(errs, fmt.Errorf("log_format %q must be text or json", c.LogFormat))
	}

	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}

// Location is the time zone timestamps in prompts are rendered in.
func (c *Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.DisplayTimezone)
	if err != nil {
		return nil, fmt.Errorf("display_timezone %q: %w", c.DisplayTimezone, err)
	}
	return loc, nil
}

// SlogLevel parses LogLevel ("debug", "info", "warn", "error").
func (c *Config) SlogLevel() (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return 0, fmt.Errorf("log_level %q: %w", c.LogLevel, err)
	}
	return l, nil
}
