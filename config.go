package main

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/pelletier/go-toml/v2"
)

// Config is the pastehook configuration, read from pastehook.toml and then
// overridden by environment variables and flags.
type Config struct {
	API     apiConfig     `toml:"api"`
	Upload  uploadConfig  `toml:"upload"`
	Paste   pasteConfig   `toml:"paste"`
	Storage storageConfig `toml:"storage"`
	Logging loggingConfig `toml:"logging"`
}

type apiConfig struct {
	BaseURL string `toml:"base_url" validate:"omitempty,url"` // e.g. https://api.example.com/api
	Timeout string `toml:"timeout"`                           // e.g. "30s"
}

type uploadConfig struct {
	TicketFormat string `toml:"ticket_format" validate:"oneof=post-policy put"`
	Concurrency  int    `toml:"concurrency" validate:"gte=0"`    // 0 = all images at once
	MaxFileBytes int64  `toml:"max_file_bytes" validate:"gte=0"` // 0 = unlimited
}

type pasteConfig struct {
	RemoteImages     string `toml:"remote_images" validate:"oneof=passthrough reupload"`
	RejectConcurrent bool   `toml:"reject_concurrent"`
	Proxy            string `toml:"proxy" validate:"omitempty,url"` // remote image fetches only
}

// storageConfig enables local presigning against an S3-compatible bucket.
// Leave endpoint empty to negotiate tickets through the API instead.
type storageConfig struct {
	Endpoint      string `toml:"endpoint"` // host[:port], no scheme
	Bucket        string `toml:"bucket" validate:"required_with=Endpoint"`
	Region        string `toml:"region" validate:"required_with=Endpoint"`
	AccessKey     string `toml:"access_key" validate:"required_with=Endpoint"`
	SecretKey     string `toml:"secret_key" validate:"required_with=Endpoint"`
	Prefix        string `toml:"prefix"`
	PublicBaseURL string `toml:"public_base_url" validate:"omitempty,url"`
	Secure        bool   `toml:"secure"`
	Expiry        string `toml:"expiry"`
}

type loggingConfig struct {
	Level string `toml:"level" validate:"oneof=trace debug info warn error"`
}

func newDefaultConfig() *Config {
	return &Config{
		API: apiConfig{Timeout: "30s"},
		Upload: uploadConfig{
			TicketFormat: string(ticketPostPolicy),
			MaxFileBytes: 32 * 1024 * 1024,
		},
		Paste: pasteConfig{RemoteImages: string(remotePassthrough)},
		Storage: storageConfig{
			Secure: true,
			Expiry: "15m",
		},
		Logging: loggingConfig{Level: "info"},
	}
}

// loadConfig reads path over the defaults. An empty path yields the
// defaults plus environment overrides.
func loadConfig(path string) (*Config, error) {
	cfg := newDefaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config: %w", err)
		}
		if err := toml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing %s: %w", path, err)
		}
	}
	applyEnvOverrides(cfg)
	return cfg, nil
}

// applyEnvOverrides lets credentials stay out of the config file.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("PASTEHOOK_API_BASE_URL"); v != "" {
		cfg.API.BaseURL = v
	}
	if v := os.Getenv("PASTEHOOK_STORAGE_ACCESS_KEY"); v != "" {
		cfg.Storage.AccessKey = v
	}
	if v := os.Getenv("PASTEHOOK_STORAGE_SECRET_KEY"); v != "" {
		cfg.Storage.SecretKey = v
	}
}

var validate = validator.New()

// validateConfig checks struct tags, duration strings, and that some
// upload backend is configured.
func validateConfig(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed %q", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
		}
		return fmt.Errorf("invalid config: %w", err)
	}
	if _, err := parseDuration(cfg.API.Timeout, 0); err != nil {
		return fmt.Errorf("invalid config: api.timeout: %w", err)
	}
	if _, err := parseDuration(cfg.Storage.Expiry, 0); err != nil {
		return fmt.Errorf("invalid config: storage.expiry: %w", err)
	}
	if cfg.API.BaseURL == "" && cfg.Storage.Endpoint == "" {
		return fmt.Errorf("invalid config: set api.base_url or storage.endpoint")
	}
	return nil
}

// parseDuration parses s, returning def for an empty string.
func parseDuration(s string, def time.Duration) (time.Duration, error) {
	if strings.TrimSpace(s) == "" {
		return def, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, err
	}
	if d < 0 {
		return 0, fmt.Errorf("negative duration %s", s)
	}
	return d, nil
}
