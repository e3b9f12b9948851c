// Stargazer - Live Room Watcher and Social Notification Relay
// Copyright 2026 SuiseiCN Developers
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/suisei-cn/stargazer

package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"
)

// knownSources are the feed implementations rooms may reference.
var knownSources = map[string]bool{
	"bililive": true,
	"debug":    true,
}

// Validate checks that the configuration is complete and consistent.
func (c *Config) Validate() error {
	if err := c.validateLogging(); err != nil {
		return err
	}
	if err := c.validateRooms(); err != nil {
		return err
	}
	if err := c.validateFeed(); err != nil {
		return err
	}
	if err := c.validateNATS(); err != nil {
		return err
	}
	if err := c.validateStore(); err != nil {
		return err
	}
	if err := c.validateRelay(); err != nil {
		return err
	}
	if err := c.validatePoster(); err != nil {
		return err
	}
	if err := c.validateWatcher(); err != nil {
		return err
	}
	if err := c.validateServer(); err != nil {
		return err
	}
	return c.validateShutdown()
}

func (c *Config) validateLogging() error {
	switch strings.ToLower(c.Logging.Level) {
	case "", "trace", "debug", "info", "warn", "warning", "error", "disabled":
	default:
		return fmt.Errorf("logging.level %q is not a known level", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "", "json", "console":
	default:
		return fmt.Errorf("logging.format %q must be json or console", c.Logging.Format)
	}
	return nil
}

func (c *Config) validateRooms() error {
	if !knownSources[c.Feed.DefaultSource] {
		return fmt.Errorf("feed.default_source %q is not a known source", c.Feed.DefaultSource)
	}

	seen := make(map[string]bool, len(c.Rooms))
	for i, room := range c.Rooms {
		if room.ID == "" {
			return fmt.Errorf("rooms[%d] is missing an id", i)
		}
		if seen[room.ID] {
			return fmt.Errorf("rooms contains duplicate id %q", room.ID)
		}
		seen[room.ID] = true
		if room.Source != "" && !knownSources[room.Source] {
			return fmt.Errorf("rooms[%d] source %q is not a known source", i, room.Source)
		}
	}
	return nil
}

func (c *Config) validateFeed() error {
	bl := c.Feed.Bililive
	if bl.Endpoint == "" {
		return fmt.Errorf("feed.bililive.endpoint must not be empty")
	}
	if bl.APIBase == "" {
		return fmt.Errorf("feed.bililive.api_base must not be empty")
	}
	if bl.DialTimeout <= 0 {
		return fmt.Errorf("feed.bililive.dial_timeout must be positive, got %s", bl.DialTimeout)
	}
	if bl.HeartbeatInterval <= 0 {
		return fmt.Errorf("feed.bililive.heartbeat_interval must be positive, got %s", bl.HeartbeatInterval)
	}
	if bl.ReadTimeout <= bl.HeartbeatInterval {
		return fmt.Errorf("feed.bililive.read_timeout %s must exceed heartbeat_interval %s",
			bl.ReadTimeout, bl.HeartbeatInterval)
	}
	return nil
}

func (c *Config) validateNATS() error {
	if c.NATS.URL == "" && !c.NATS.Embedded {
		return fmt.Errorf("STARGAZER_NATS_URL is required when the embedded server is disabled")
	}
	if c.NATS.StreamName == "" {
		return fmt.Errorf("nats.stream_name must not be empty")
	}
	if strings.ContainsAny(c.NATS.StreamName, " .*>") {
		return fmt.Errorf("nats.stream_name %q contains invalid characters", c.NATS.StreamName)
	}
	if c.NATS.SubjectPrefix == "" {
		return fmt.Errorf("nats.subject_prefix must not be empty")
	}
	if strings.ContainsAny(c.NATS.SubjectPrefix, " *>") {
		return fmt.Errorf("nats.subject_prefix %q contains wildcard or space characters", c.NATS.SubjectPrefix)
	}
	if c.NATS.DurableName == "" {
		return fmt.Errorf("nats.durable_name must not be empty")
	}
	if c.NATS.Embedded && c.NATS.StoreDir == "" {
		return fmt.Errorf("nats.store_dir is required when the embedded server is enabled")
	}
	if c.NATS.RetentionDays <= 0 {
		return fmt.Errorf("nats.retention_days must be positive, got %d", c.NATS.RetentionDays)
	}
	if c.NATS.DuplicateWindow < 0 {
		return fmt.Errorf("nats.duplicate_window must not be negative, got %s", c.NATS.DuplicateWindow)
	}
	// JetStream rejects stream configs whose duplicate window exceeds the
	// stream's max age, so catch that before the broker does.
	if retention := time.Duration(c.NATS.RetentionDays) * 24 * time.Hour; c.NATS.DuplicateWindow > retention {
		return fmt.Errorf("nats.duplicate_window %s exceeds the %d day stream retention",
			c.NATS.DuplicateWindow, c.NATS.RetentionDays)
	}
	return nil
}

func (c *Config) validateStore() error {
	if c.Store.Dir == "" {
		return fmt.Errorf("STARGAZER_STORE_DIR is required")
	}
	if c.Store.GCInterval <= 0 {
		return fmt.Errorf("store.gc_interval must be positive, got %s", c.Store.GCInterval)
	}
	return nil
}

func (c *Config) validateRelay() error {
	if c.Relay.Workers <= 0 {
		return fmt.Errorf("relay.workers must be positive, got %d", c.Relay.Workers)
	}
	if c.Relay.MaxAttempts <= 0 {
		return fmt.Errorf("relay.max_attempts must be positive, got %d", c.Relay.MaxAttempts)
	}
	if c.Relay.PublishRetryBase <= 0 || c.Relay.PublishRetryMax < c.Relay.PublishRetryBase {
		return fmt.Errorf("relay publish retry bounds are invalid: base %s, max %s",
			c.Relay.PublishRetryBase, c.Relay.PublishRetryMax)
	}
	if c.Relay.PostRetryBase <= 0 || c.Relay.PostRetryMax < c.Relay.PostRetryBase {
		return fmt.Errorf("relay post retry bounds are invalid: base %s, max %s",
			c.Relay.PostRetryBase, c.Relay.PostRetryMax)
	}
	if c.Relay.RepublishInterval <= 0 {
		return fmt.Errorf("relay.republish_interval must be positive, got %s", c.Relay.RepublishInterval)
	}
	if c.Relay.AckWait <= 0 {
		return fmt.Errorf("relay.ack_wait must be positive, got %s", c.Relay.AckWait)
	}
	return nil
}

func (c *Config) validatePoster() error {
	switch c.Poster.Mode {
	case "log":
		return nil
	case "http":
	default:
		return fmt.Errorf("poster.mode %q must be http or log", c.Poster.Mode)
	}

	if c.Poster.URL == "" {
		return fmt.Errorf("STARGAZER_POSTER_URL is required when poster.mode=http")
	}
	u, err := url.Parse(c.Poster.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("STARGAZER_POSTER_URL %q is not a valid http(s) URL", c.Poster.URL)
	}
	if c.Poster.Timeout <= 0 {
		return fmt.Errorf("poster.timeout must be positive, got %s", c.Poster.Timeout)
	}
	if c.Poster.RatePerMinute < 0 || c.Poster.RateBurst < 0 {
		return fmt.Errorf("poster rate limits must not be negative")
	}
	if c.Poster.Templates.Live == "" || c.Poster.Templates.Offline == "" || c.Poster.Templates.Title == "" {
		return fmt.Errorf("poster.templates must define live, offline and title when poster.mode=http")
	}
	return nil
}

func (c *Config) validateWatcher() error {
	if c.Watcher.ReconnectBase <= 0 || c.Watcher.ReconnectMax < c.Watcher.ReconnectBase {
		return fmt.Errorf("watcher reconnect bounds are invalid: base %s, max %s",
			c.Watcher.ReconnectBase, c.Watcher.ReconnectMax)
	}
	if c.Watcher.RestartLimit <= 0 {
		return fmt.Errorf("watcher.restart_limit must be positive, got %d", c.Watcher.RestartLimit)
	}
	if c.Watcher.RestartWindow <= 0 {
		return fmt.Errorf("watcher.restart_window must be positive, got %s", c.Watcher.RestartWindow)
	}
	if c.Watcher.StopTimeout <= 0 {
		return fmt.Errorf("watcher.stop_timeout must be positive, got %s", c.Watcher.StopTimeout)
	}
	return nil
}

func (c *Config) validateServer() error {
	if !c.Server.Enabled {
		return nil
	}
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d is out of range", c.Server.Port)
	}
	if c.Server.Host == "" {
		return fmt.Errorf("server.host must not be empty when the server is enabled")
	}
	return nil
}

func (c *Config) validateShutdown() error {
	if c.Shutdown.Grace <= 0 {
		return fmt.Errorf("shutdown.grace must be positive, got %s", c.Shutdown.Grace)
	}
	return nil
}
