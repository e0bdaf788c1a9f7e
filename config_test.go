package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "pastehook.toml")
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := loadConfig("")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Upload.TicketFormat != "post-policy" || cfg.Paste.RemoteImages != "passthrough" {
		t.Errorf("defaults = %+v", cfg)
	}
	if cfg.Upload.MaxFileBytes != 32*1024*1024 || cfg.Logging.Level != "info" {
		t.Errorf("defaults = %+v", cfg)
	}
	if err := validateConfig(cfg); err == nil || !strings.Contains(err.Error(), "api.base_url or storage.endpoint") {
		t.Errorf("defaults without a backend should not validate, got %v", err)
	}
}

func TestLoadConfig_File(t *testing.T) {
	path := writeConfig(t, `
[api]
base_url = "https://app.example/api"
timeout = "5s"

[upload]
ticket_format = "put"
concurrency = 3

[paste]
remote_images = "reupload"
reject_concurrent = true

[storage]
endpoint = "s3.example:9000"
bucket = "pastes"
region = "eu-west-1"
access_key = "from-file"
secret_key = "from-file"
prefix = "media"

[logging]
level = "debug"
`)
	t.Setenv("PASTEHOOK_STORAGE_SECRET_KEY", "from-env")

	cfg, err := loadConfig(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := validateConfig(cfg); err != nil {
		t.Fatal(err)
	}
	if cfg.API.BaseURL != "https://app.example/api" || cfg.API.Timeout != "5s" {
		t.Errorf("api = %+v", cfg.API)
	}
	if cfg.Upload.TicketFormat != "put" || cfg.Upload.Concurrency != 3 {
		t.Errorf("upload = %+v", cfg.Upload)
	}
	if cfg.Upload.MaxFileBytes != 32*1024*1024 {
		t.Errorf("unset key should keep its default, got %d", cfg.Upload.MaxFileBytes)
	}
	if cfg.Paste.RemoteImages != "reupload" || !cfg.Paste.RejectConcurrent {
		t.Errorf("paste = %+v", cfg.Paste)
	}
	if cfg.Storage.SecretKey != "from-env" || cfg.Storage.AccessKey != "from-file" {
		t.Errorf("env override not applied: %+v", cfg.Storage)
	}
	if !cfg.Storage.Secure || cfg.Storage.Expiry != "15m" {
		t.Errorf("storage defaults lost: %+v", cfg.Storage)
	}
}

func TestLoadConfig_Errors(t *testing.T) {
	if _, err := loadConfig(filepath.Join(t.TempDir(), "missing.toml")); err == nil {
		t.Error("expected error for missing file")
	}
	if _, err := loadConfig(writeConfig(t, "[api\nbase_url=")); err == nil {
		t.Error("expected error for malformed TOML")
	}
}

func TestValidateConfig(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{"valid", func(c *Config) {}, ""},
		{"bad ticket format", func(c *Config) { c.Upload.TicketFormat = "fax" }, "TicketFormat"},
		{"bad remote policy", func(c *Config) { c.Paste.RemoteImages = "maybe" }, "RemoteImages"},
		{"negative concurrency", func(c *Config) { c.Upload.Concurrency = -2 }, "Concurrency"},
		{"bad base url", func(c *Config) { c.API.BaseURL = "not a url" }, "BaseURL"},
		{"bad level", func(c *Config) { c.Logging.Level = "loud" }, "Level"},
		{"bad timeout", func(c *Config) { c.API.Timeout = "forever" }, "api.timeout"},
		{"bad expiry", func(c *Config) { c.Storage.Expiry = "-1m" }, "storage.expiry"},
		{"storage without bucket", func(c *Config) {
			c.API.BaseURL = ""
			c.Storage = storageConfig{Endpoint: "s3.example", Region: "r", AccessKey: "a", SecretKey: "s"}
		}, "Bucket"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := newDefaultConfig()
			cfg.API.BaseURL = "https://app.example/api"
			tt.mutate(cfg)
			err := validateConfig(cfg)
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error = %v, want mention of %q", err, tt.wantErr)
			}
		})
	}
}

func TestParseDuration(t *testing.T) {
	if d, err := parseDuration("", 7); err != nil || d != 7 {
		t.Errorf("empty = %v, %v", d, err)
	}
	if d, err := parseDuration("90s", 0); err != nil || d.Seconds() != 90 {
		t.Errorf("90s = %v, %v", d, err)
	}
	if _, err := parseDuration("-3s", 0); err == nil {
		t.Error("negative duration accepted")
	}
}
