// Stargazer - Live Room Watcher and Social Notification Relay
// Copyright 2026 SuiseiCN Developers
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/suisei-cn/stargazer

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := defaultConfig()

	if cfg.Logging.Level != "info" {
		t.Errorf("Logging.Level = %q, want info", cfg.Logging.Level)
	}
	if cfg.Logging.Format != "json" {
		t.Errorf("Logging.Format = %q, want json", cfg.Logging.Format)
	}

	if cfg.Feed.DefaultSource != "bililive" {
		t.Errorf("Feed.DefaultSource = %q, want bililive", cfg.Feed.DefaultSource)
	}
	if cfg.Feed.Bililive.ReadTimeout <= cfg.Feed.Bililive.HeartbeatInterval {
		t.Errorf("Bililive.ReadTimeout %v must exceed HeartbeatInterval %v",
			cfg.Feed.Bililive.ReadTimeout, cfg.Feed.Bililive.HeartbeatInterval)
	}

	if cfg.NATS.URL != "nats://127.0.0.1:4222" {
		t.Errorf("NATS.URL = %q, want nats://127.0.0.1:4222", cfg.NATS.URL)
	}
	if !cfg.NATS.Embedded {
		t.Error("NATS.Embedded should be true by default")
	}
	if cfg.NATS.StreamName != "STARGAZER_EVENTS" {
		t.Errorf("NATS.StreamName = %q, want STARGAZER_EVENTS", cfg.NATS.StreamName)
	}
	if cfg.NATS.SubjectPrefix != "stargazer.events" {
		t.Errorf("NATS.SubjectPrefix = %q, want stargazer.events", cfg.NATS.SubjectPrefix)
	}

	if cfg.Relay.Workers != 4 {
		t.Errorf("Relay.Workers = %d, want 4", cfg.Relay.Workers)
	}
	if cfg.Relay.MaxAttempts != 5 {
		t.Errorf("Relay.MaxAttempts = %d, want 5", cfg.Relay.MaxAttempts)
	}

	if cfg.Poster.Mode != "log" {
		t.Errorf("Poster.Mode = %q, want log", cfg.Poster.Mode)
	}
	if !strings.Contains(cfg.Poster.Templates.Live, "{name}") {
		t.Errorf("Poster.Templates.Live %q should reference {name}", cfg.Poster.Templates.Live)
	}

	if cfg.Watcher.ReconnectBase != time.Second {
		t.Errorf("Watcher.ReconnectBase = %v, want 1s", cfg.Watcher.ReconnectBase)
	}
	if cfg.Watcher.ReconnectMax != 32*time.Second {
		t.Errorf("Watcher.ReconnectMax = %v, want 32s", cfg.Watcher.ReconnectMax)
	}
	if cfg.Watcher.RestartLimit != 5 {
		t.Errorf("Watcher.RestartLimit = %d, want 5", cfg.Watcher.RestartLimit)
	}

	if !cfg.Server.Enabled {
		t.Error("Server.Enabled should be true by default")
	}
	if cfg.Server.Port != 8343 {
		t.Errorf("Server.Port = %d, want 8343", cfg.Server.Port)
	}

	if cfg.Shutdown.Grace != 15*time.Second {
		t.Errorf("Shutdown.Grace = %v, want 15s", cfg.Shutdown.Grace)
	}

	// Defaults must pass their own validation.
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config failed validation: %v", err)
	}
}

func TestEnvTransform(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"STARGAZER_LOG_LEVEL", "logging.level"},
		{"STARGAZER_ROOMS", "rooms"},
		{"STARGAZER_NATS_URL", "nats.url"},
		{"STARGAZER_NATS_EMBEDDED", "nats.embedded"},
		{"STARGAZER_STORE_DIR", "store.dir"},
		{"STARGAZER_RELAY_MAX_ATTEMPTS", "relay.max_attempts"},
		{"STARGAZER_POSTER_URL", "poster.url"},
		{"STARGAZER_POSTER_TOKEN", "poster.token"},
		{"STARGAZER_WATCHER_RESTART_LIMIT", "watcher.restart_limit"},
		{"STARGAZER_HTTP_PORT", "server.port"},
		{"STARGAZER_SHUTDOWN_GRACE", "shutdown.grace"},

		// Unknown and unprefixed variables are skipped.
		{"STARGAZER_RANDOM", ""},
		{"PATH", ""},
		{"HOME", ""},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := envTransform(tt.input); got != tt.expected {
				t.Errorf("envTransform(%q) = %q, want %q", tt.input, got, tt.expected)
			}
		})
	}
}

func TestLoadFromFile(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "stargazer.yaml")

	yamlContent := `
rooms:
  - id: "92613"
    name: "suisei"
  - id: "81004"
    source: "debug"
nats:
  embedded: false
  url: "nats://broker:4222"
poster:
  mode: http
  url: "https://poster.example.com/api/post"
  token: "secret"
watcher:
  reconnect_max: 64s
`
	if err := os.WriteFile(configPath, []byte(yamlContent), 0o644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}

	t.Setenv(ConfigPathEnvVar, configPath)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	if len(cfg.Rooms) != 2 {
		t.Fatalf("len(Rooms) = %d, want 2", len(cfg.Rooms))
	}
	if cfg.Rooms[0].ID != "92613" || cfg.Rooms[0].Name != "suisei" {
		t.Errorf("Rooms[0] = %+v, want id 92613 name suisei", cfg.Rooms[0])
	}
	if cfg.Rooms[1].Source != "debug" {
		t.Errorf("Rooms[1].Source = %q, want debug", cfg.Rooms[1].Source)
	}
	if cfg.NATS.Embedded {
		t.Error("NATS.Embedded should be overridden to false")
	}
	if cfg.NATS.URL != "nats://broker:4222" {
		t.Errorf("NATS.URL = %q, want nats://broker:4222", cfg.NATS.URL)
	}
	if cfg.Poster.Mode != "http" {
		t.Errorf("Poster.Mode = %q, want http", cfg.Poster.Mode)
	}
	if cfg.Watcher.ReconnectMax != 64*time.Second {
		t.Errorf("Watcher.ReconnectMax = %v, want 64s", cfg.Watcher.ReconnectMax)
	}
	// Untouched settings keep their defaults.
	if cfg.Relay.Workers != 4 {
		t.Errorf("Relay.Workers = %d, want default 4", cfg.Relay.Workers)
	}
}

func TestLoadEnvOverride(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "stargazer.yaml")
	if err := os.WriteFile(configPath, []byte("logging:\n  level: debug\n"), 0o644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}

	t.Setenv(ConfigPathEnvVar, configPath)
	t.Setenv("STARGAZER_LOG_LEVEL", "warn")
	t.Setenv("STARGAZER_ROOMS", "92613, 81004")
	t.Setenv("STARGAZER_HTTP_PORT", "9000")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	// Environment beats file.
	if cfg.Logging.Level != "warn" {
		t.Errorf("Logging.Level = %q, want warn", cfg.Logging.Level)
	}
	if cfg.Server.Port != 9000 {
		t.Errorf("Server.Port = %d, want 9000", cfg.Server.Port)
	}
	if len(cfg.Rooms) != 2 || cfg.Rooms[0].ID != "92613" || cfg.Rooms[1].ID != "81004" {
		t.Errorf("Rooms = %+v, want ids 92613 and 81004", cfg.Rooms)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:   "defaults are valid",
			mutate: func(*Config) {},
		},
		{
			name: "missing nats url without embedded",
			mutate: func(c *Config) {
				c.NATS.Embedded = false
				c.NATS.URL = ""
			},
			wantErr: "NATS_URL",
		},
		{
			name:    "bad stream name",
			mutate:  func(c *Config) { c.NATS.StreamName = "bad.name" },
			wantErr: "stream_name",
		},
		{
			name:    "duplicate rooms",
			mutate:  func(c *Config) { c.Rooms = []RoomConfig{{ID: "1"}, {ID: "1"}} },
			wantErr: "duplicate",
		},
		{
			name:    "room without id",
			mutate:  func(c *Config) { c.Rooms = []RoomConfig{{Name: "x"}} },
			wantErr: "missing an id",
		},
		{
			name:    "unknown room source",
			mutate:  func(c *Config) { c.Rooms = []RoomConfig{{ID: "1", Source: "twitcasting"}} },
			wantErr: "not a known source",
		},
		{
			name: "read timeout below heartbeat",
			mutate: func(c *Config) {
				c.Feed.Bililive.HeartbeatInterval = 30 * time.Second
				c.Feed.Bililive.ReadTimeout = 10 * time.Second
			},
			wantErr: "read_timeout",
		},
		{
			name: "duplicate window exceeds retention",
			mutate: func(c *Config) {
				c.NATS.RetentionDays = 1
				c.NATS.DuplicateWindow = 48 * time.Hour
			},
			wantErr: "duplicate_window",
		},
		{
			name:    "http poster without url",
			mutate:  func(c *Config) { c.Poster.Mode = "http" },
			wantErr: "POSTER_URL",
		},
		{
			name: "http poster with bad url",
			mutate: func(c *Config) {
				c.Poster.Mode = "http"
				c.Poster.URL = "ftp://example.com"
			},
			wantErr: "not a valid http",
		},
		{
			name:    "unknown poster mode",
			mutate:  func(c *Config) { c.Poster.Mode = "carrier-pigeon" },
			wantErr: "poster.mode",
		},
		{
			name: "http poster with blank template",
			mutate: func(c *Config) {
				c.Poster.Mode = "http"
				c.Poster.URL = "https://poster.example.com/api/post"
				c.Poster.Templates.Offline = ""
			},
			wantErr: "poster.templates",
		},
		{
			name:    "zero restart limit",
			mutate:  func(c *Config) { c.Watcher.RestartLimit = 0 },
			wantErr: "restart_limit",
		},
		{
			name: "reconnect max below base",
			mutate: func(c *Config) {
				c.Watcher.ReconnectBase = 10 * time.Second
				c.Watcher.ReconnectMax = time.Second
			},
			wantErr: "reconnect bounds",
		},
		{
			name:    "zero relay workers",
			mutate:  func(c *Config) { c.Relay.Workers = 0 },
			wantErr: "relay.workers",
		},
		{
			name:    "out of range port",
			mutate:  func(c *Config) { c.Server.Port = 70000 },
			wantErr: "out of range",
		},
		{
			name: "disabled server skips port check",
			mutate: func(c *Config) {
				c.Server.Enabled = false
				c.Server.Port = 0
			},
		},
		{
			name:    "zero shutdown grace",
			mutate:  func(c *Config) { c.Shutdown.Grace = 0 },
			wantErr: "shutdown.grace",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaultConfig()
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() = %v, want nil", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("Validate() = nil, want error containing %q", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() = %v, want error containing %q", err, tt.wantErr)
			}
		})
	}
}
