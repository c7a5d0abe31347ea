// Package config provides application configuration.
package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"slices"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
)

// DefaultMaxRequestBodyBytes matches the 50MB limit on chat request bodies.
const DefaultMaxRequestBodyBytes = 50 << 20

// ServerConfig holds relay server configuration.
type ServerConfig struct {
	Port                string
	APIKeyEnv           string
	UpstreamBaseURL     string
	AllowedOrigins      []string
	MaxRequestBodyBytes int64
	// RateLimitPerMinute is the sustained request rate allowed per client
	// address on the relay routes. 0, the default, disables limiting.
	RateLimitPerMinute int
	RateLimitBurst     int
	Log                LogConfig
}

// ClientConfig holds terminal client configuration.
type ClientConfig struct {
	ProxyURL    string    `toml:"proxy_url"`
	DBPath      string    `toml:"db_path"`
	Model       string    `toml:"model"`
	Models      []string  `toml:"models"`
	ImageModels []string  `toml:"image_models"`
	ViewAddr    string    `toml:"view_addr"`
	Log         LogConfig `toml:"log"`
}

// LogConfig controls the slog handler.
type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

var (
	defaultModels      = []string{"gpt-4o-mini", "gpt-4o", "gpt-4.1", "gpt-4.1-mini", "o3-mini"}
	defaultImageModels = []string{"gpt-4o-mini", "gpt-4o", "gpt-4.1", "gpt-4.1-mini"}
)

// LoadServer reads relay configuration from environment variables.
func LoadServer() (*ServerConfig, error) {
	maxBody := getEnvInt("MAX_REQUEST_BODY_BYTES", DefaultMaxRequestBodyBytes)
	if maxBody <= 0 {
		maxBody = DefaultMaxRequestBodyBytes
	}

	cfg := &ServerConfig{
		Port:                getEnv("PORT", "3000"),
		APIKeyEnv:           getEnv("API_KEY_ENV", "OPENAI_API_KEY"),
		UpstreamBaseURL:     getEnv("UPSTREAM_BASE_URL", "https://api.openai.com/v1"),
		AllowedOrigins:      getEnvList("CORS_ALLOWED_ORIGINS", []string{"*"}),
		MaxRequestBodyBytes: int64(maxBody),
		RateLimitPerMinute:  getEnvInt("RATE_LIMIT_PER_MINUTE", 0),
		RateLimitBurst:      getEnvInt("RATE_LIMIT_BURST", 20),
		Log: LogConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required configuration fields are set.
func (c *ServerConfig) Validate() error {
	if c.Port == "" {
		return errors.New("PORT cannot be empty")
	}
	if c.APIKeyEnv == "" {
		return errors.New("API_KEY_ENV cannot be empty")
	}
	if err := validateURL("UPSTREAM_BASE_URL", c.UpstreamBaseURL); err != nil {
		return err
	}
	if len(c.AllowedOrigins) == 0 {
		return errors.New("CORS_ALLOWED_ORIGINS cannot be empty")
	}
	if c.MaxRequestBodyBytes <= 0 {
		return errors.New("MAX_REQUEST_BODY_BYTES must be > 0")
	}
	if c.RateLimitPerMinute < 0 {
		return errors.New("RATE_LIMIT_PER_MINUTE must be >= 0")
	}
	if c.RateLimitPerMinute > 0 && c.RateLimitBurst <= 0 {
		return errors.New("RATE_LIMIT_BURST must be > 0 when rate limiting is enabled")
	}
	return c.Log.Validate()
}

// APIKey reads the upstream API key from the environment. It is looked up on
// every call so the key can change without a restart.
func (c *ServerConfig) APIKey() string {
	return os.Getenv(c.APIKeyEnv)
}

// LoadClient reads client configuration. Defaults are overlaid by the TOML
// file named in CHAT_CONFIG_FILE, then by environment variables.
func LoadClient() (*ClientConfig, error) {
	cfg := &ClientConfig{
		ProxyURL:    "http://localhost:3000",
		DBPath:      "./data/chat.db",
		Model:       "gpt-4o-mini",
		Models:      slices.Clone(defaultModels),
		ImageModels: slices.Clone(defaultImageModels),
		Log:         LogConfig{Level: "warn", Format: "text"},
	}

	if path := getEnv("CHAT_CONFIG_FILE", ""); path != "" {
		if err := cfg.LoadTOML(path); err != nil {
			return nil, err
		}
	}

	cfg.ProxyURL = getEnv("CHAT_PROXY_URL", cfg.ProxyURL)
	cfg.DBPath = getEnv("CHAT_DB_PATH", cfg.DBPath)
	cfg.Model = getEnv("CHAT_MODEL", cfg.Model)
	cfg.Models = getEnvList("CHAT_MODELS", cfg.Models)
	cfg.ImageModels = getEnvList("CHAT_IMAGE_MODELS", cfg.ImageModels)
	cfg.ViewAddr = getEnv("CHAT_VIEW_ADDR", cfg.ViewAddr)
	cfg.Log.Level = getEnv("LOG_LEVEL", cfg.Log.Level)
	cfg.Log.Format = getEnv("LOG_FORMAT", cfg.Log.Format)

	if !slices.Contains(cfg.Models, cfg.Model) {
		cfg.Models = append(cfg.Models, cfg.Model)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// LoadTOML overlays values from a TOML file. Keys absent from the file keep
// their current values.
func (c *ClientConfig) LoadTOML(path string) error {
	if _, err := toml.DecodeFile(path, c); err != nil {
		return fmt.Errorf("load config file %s: %w", path, err)
	}
	return nil
}

// Validate checks that all required configuration fields are set.
func (c *ClientConfig) Validate() error {
	if err := validateURL("CHAT_PROXY_URL", c.ProxyURL); err != nil {
		return err
	}
	if c.DBPath == "" {
		return errors.New("CHAT_DB_PATH cannot be empty")
	}
	if c.Model == "" {
		return errors.New("CHAT_MODEL cannot be empty")
	}
	return c.Log.Validate()
}

// Validate checks the level and format names.
func (l LogConfig) Validate() error {
	if _, err := parseLevel(l.Level); err != nil {
		return err
	}
	switch strings.ToLower(l.Format) {
	case "json", "text":
		return nil
	default:
		return fmt.Errorf("LOG_FORMAT must be json or text, got %q", l.Format)
	}
}

// NewLogger builds a slog logger writing to w.
func (l LogConfig) NewLogger(w io.Writer) *slog.Logger {
	level, err := parseLevel(l.Level)
	if err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(l.Format, "text") {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}

func parseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(s))); err != nil {
		return 0, fmt.Errorf("LOG_LEVEL: %w", err)
	}
	return level, nil
}

func validateURL(name, raw string) error {
	if raw == "" {
		return fmt.Errorf("%s cannot be empty", name)
	}
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("%s must be an absolute URL, got %q", name, raw)
	}
	return nil
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

func getEnvList(key string, fallback []string) []string {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return fallback
	}
	return out
}
