// Stargazer - Live Room Watcher and Social Notification Relay
// Copyright 2026 SuiseiCN Developers
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/suisei-cn/stargazer

package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// DefaultConfigPaths lists where config files are searched, in order. The
// first file found wins.
var DefaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
	"/etc/stargazer/config.yaml",
	"/etc/stargazer/config.yml",
}

// ConfigPathEnvVar overrides the config file search path.
const ConfigPathEnvVar = "STARGAZER_CONFIG"

// envPrefix namespaces all Stargazer environment variables.
const envPrefix = "STARGAZER_"

// Load builds the configuration from layered sources: struct defaults, then
// an optional YAML file, then STARGAZER_-prefixed environment variables.
func Load() (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if path := findConfigFile(); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(envPrefix, ".", envTransform), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := normalizeCompoundFields(k); err != nil {
		return nil, err
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// findConfigFile returns the first existing config file, or "".
func findConfigFile() string {
	if envPath := os.Getenv(ConfigPathEnvVar); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}
	for _, path := range DefaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// sliceConfigPaths are string-list settings that environments supply as
// comma-separated values.
var sliceConfigPaths = []string{
	"server.cors_origins",
}

// normalizeCompoundFields converts env-supplied compound values into the
// shapes the Config struct expects: comma-separated strings into []string,
// and a comma-separated STARGAZER_ROOMS list into room entries.
func normalizeCompoundFields(k *koanf.Koanf) error {
	for _, path := range sliceConfigPaths {
		val := k.Get(path)
		strVal, ok := val.(string)
		if !ok || strVal == "" {
			continue
		}
		if err := k.Set(path, splitTrimmed(strVal)); err != nil {
			return fmt.Errorf("failed to set %s: %w", path, err)
		}
	}

	// STARGAZER_ROOMS=92613,81004 expands into rooms with the default
	// source; YAML configs use the structured rooms list instead.
	if strVal, ok := k.Get("rooms").(string); ok && strVal != "" {
		rooms := make([]map[string]interface{}, 0, 4)
		for _, id := range splitTrimmed(strVal) {
			rooms = append(rooms, map[string]interface{}{"id": id})
		}
		if err := k.Set("rooms", rooms); err != nil {
			return fmt.Errorf("failed to set rooms: %w", err)
		}
	}

	return nil
}

func splitTrimmed(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// envTransform maps STARGAZER_* variable names to koanf config paths.
// Unmapped variables return "" and are skipped, so unrelated environment
// noise never leaks into the config.
//
// Examples:
//   - STARGAZER_LOG_LEVEL -> logging.level
//   - STARGAZER_NATS_URL -> nats.url
//   - STARGAZER_POSTER_TOKEN -> poster.token
func envTransform(key string) string {
	key = strings.ToLower(strings.TrimPrefix(key, envPrefix))

	envMappings := map[string]string{
		// Logging
		"log_level":  "logging.level",
		"log_format": "logging.format",
		"log_caller": "logging.caller",

		// Initial room set (comma-separated ids)
		"rooms": "rooms",

		// Feed
		"feed_default_source":         "feed.default_source",
		"bililive_endpoint":           "feed.bililive.endpoint",
		"bililive_api_base":           "feed.bililive.api_base",
		"bililive_dial_timeout":       "feed.bililive.dial_timeout",
		"bililive_heartbeat_interval": "feed.bililive.heartbeat_interval",
		"bililive_read_timeout":       "feed.bililive.read_timeout",

		// NATS / stream
		"nats_url":              "nats.url",
		"nats_embedded":         "nats.embedded",
		"nats_store_dir":        "nats.store_dir",
		"nats_max_memory":       "nats.max_memory",
		"nats_max_store":        "nats.max_store",
		"nats_stream_name":      "nats.stream_name",
		"nats_subject_prefix":   "nats.subject_prefix",
		"nats_durable_name":     "nats.durable_name",
		"nats_retention_days":   "nats.retention_days",
		"nats_duplicate_window": "nats.duplicate_window",

		// Store
		"store_dir":         "store.dir",
		"store_gc_interval": "store.gc_interval",

		// Relay
		"relay_publish_retry_base": "relay.publish_retry_base",
		"relay_publish_retry_max":  "relay.publish_retry_max",
		"relay_republish_interval": "relay.republish_interval",
		"relay_workers":            "relay.workers",
		"relay_max_attempts":       "relay.max_attempts",
		"relay_post_retry_base":    "relay.post_retry_base",
		"relay_post_retry_max":     "relay.post_retry_max",
		"relay_ack_wait":           "relay.ack_wait",

		// Poster
		"poster_mode":             "poster.mode",
		"poster_url":              "poster.url",
		"poster_token":            "poster.token",
		"poster_timeout":          "poster.timeout",
		"poster_rate_per_minute":  "poster.rate_per_minute",
		"poster_rate_burst":       "poster.rate_burst",
		"poster_breaker_failures": "poster.breaker_failures",
		"poster_breaker_cooldown": "poster.breaker_cooldown",
		"poster_template_live":    "poster.templates.live",
		"poster_template_offline": "poster.templates.offline",
		"poster_template_title":   "poster.templates.title",

		// Watcher
		"watcher_reconnect_base": "watcher.reconnect_base",
		"watcher_reconnect_max":  "watcher.reconnect_max",
		"watcher_restart_limit":  "watcher.restart_limit",
		"watcher_restart_window": "watcher.restart_window",
		"watcher_stop_timeout":   "watcher.stop_timeout",

		// Ops server
		"server_enabled":           "server.enabled",
		"http_host":                "server.host",
		"http_port":                "server.port",
		"http_timeout":             "server.timeout",
		"server_auth_token":        "server.auth_token",
		"cors_origins":             "server.cors_origins",
		"server_rate_limit_reqs":   "server.rate_limit_reqs",
		"server_rate_limit_window": "server.rate_limit_window",

		// Shutdown
		"shutdown_grace": "shutdown.grace",
	}

	if mapped, ok := envMappings[key]; ok {
		return mapped
	}
	return ""
}
