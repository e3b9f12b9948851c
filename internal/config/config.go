// Stargazer - Live Room Watcher and Social Notification Relay
// Copyright 2026 SuiseiCN Developers
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/suisei-cn/stargazer

package config

import (
	"time"
)

// Config holds all Stargazer configuration, loaded once at startup and
// immutable afterwards.
//
// Loading order (koanf v2):
//  1. Defaults: built-in values for every optional setting
//  2. Config file: optional YAML file (config.yaml)
//  3. Environment: STARGAZER_-prefixed variables override everything
//
// The watcher, relay and poster sections correspond to the three stages of
// the pipeline; nats and store configure the broker and the persistence
// layer they share.
type Config struct {
	Logging  LoggingConfig  `koanf:"logging"`
	Rooms    []RoomConfig   `koanf:"rooms"`
	Feed     FeedConfig     `koanf:"feed"`
	NATS     NATSConfig     `koanf:"nats"`
	Store    StoreConfig    `koanf:"store"`
	Relay    RelayConfig    `koanf:"relay"`
	Poster   PosterConfig   `koanf:"poster"`
	Watcher  WatcherConfig  `koanf:"watcher"`
	Server   ServerConfig   `koanf:"server"`
	Shutdown ShutdownConfig `koanf:"shutdown"`
}

// LoggingConfig controls log output.
type LoggingConfig struct {
	Level  string `koanf:"level"`  // trace, debug, info, warn, error
	Format string `koanf:"format"` // json or console
	Caller bool   `koanf:"caller"`
}

// RoomConfig is one entry of the initial desired room set. Rooms can also be
// added and removed at runtime through the ops API.
type RoomConfig struct {
	ID   string `koanf:"id"`
	Name string `koanf:"name"`
	// Source selects the feed watching this room. Empty means the default
	// source from the feed section.
	Source string `koanf:"source"`
}

// FeedConfig configures the platform feed clients.
type FeedConfig struct {
	// DefaultSource is used for rooms that do not name a source.
	DefaultSource string `koanf:"default_source"`

	Bililive BililiveConfig `koanf:"bililive"`
}

// BililiveConfig configures the Bilibili live broadcast websocket client.
type BililiveConfig struct {
	// Endpoint is the broadcast websocket endpoint.
	Endpoint string `koanf:"endpoint"`
	// APIBase is the REST endpoint used for the initial room state fetch.
	APIBase string `koanf:"api_base"`
	// DialTimeout bounds the websocket dial and the REST calls.
	DialTimeout time.Duration `koanf:"dial_timeout"`
	// HeartbeatInterval is the protocol keepalive period.
	HeartbeatInterval time.Duration `koanf:"heartbeat_interval"`
	// ReadTimeout tears the connection down when no frame arrives in time.
	// Must exceed HeartbeatInterval or healthy connections get recycled.
	ReadTimeout time.Duration `koanf:"read_timeout"`
}

// NATSConfig configures the broker connection and the event stream.
type NATSConfig struct {
	URL string `koanf:"url"`

	// Embedded runs a NATS server with JetStream inside this process, so a
	// single binary needs no external broker.
	Embedded  bool   `koanf:"embedded"`
	StoreDir  string `koanf:"store_dir"`
	MaxMemory int64  `koanf:"max_memory"`
	MaxStore  int64  `koanf:"max_store"`

	// StreamName is the JetStream stream holding transition events.
	StreamName string `koanf:"stream_name"`
	// SubjectPrefix roots every event subject:
	// <prefix>.<source>.<room_id>.
	SubjectPrefix string `koanf:"subject_prefix"`
	// DurableName is the consumer group of the notification consumer.
	DurableName string `koanf:"durable_name"`

	// RetentionDays bounds how long events stay replayable.
	RetentionDays int `koanf:"retention_days"`
	// DuplicateWindow is the broker-side dedup window on message ids.
	DuplicateWindow time.Duration `koanf:"duplicate_window"`
}

// StoreConfig configures the Badger database holding room state and the
// delivery ledger.
type StoreConfig struct {
	Dir string `koanf:"dir"`
	// GCInterval is how often value-log garbage collection runs.
	GCInterval time.Duration `koanf:"gc_interval"`
}

// RelayConfig configures the publisher and consumer halves of the pipeline.
type RelayConfig struct {
	// PublishRetryBase/Max bound the publish retry backoff.
	PublishRetryBase time.Duration `koanf:"publish_retry_base"`
	PublishRetryMax  time.Duration `koanf:"publish_retry_max"`
	// RepublishInterval is how often the publisher sweeps the ledger for
	// events that never reached the broker.
	RepublishInterval time.Duration `koanf:"republish_interval"`

	// Workers is the number of concurrent consumer goroutines. Per dedupe
	// key processing stays serialized at any worker count.
	Workers int `koanf:"workers"`
	// MaxAttempts is the poster attempt budget before an event is dead
	// lettered.
	MaxAttempts int `koanf:"max_attempts"`
	// PostRetryBase/Max bound the in-process backoff between poster
	// attempts of one delivery.
	PostRetryBase time.Duration `koanf:"post_retry_base"`
	PostRetryMax  time.Duration `koanf:"post_retry_max"`
	// AckWait is how long the broker waits for an ack before redelivering.
	AckWait time.Duration `koanf:"ack_wait"`
}

// PosterConfig configures the social poster client.
type PosterConfig struct {
	// Mode selects the implementation: "http" posts to the configured
	// endpoint, "log" writes posts to the log (development).
	Mode string `koanf:"mode"`

	URL     string        `koanf:"url"`
	Token   string        `koanf:"token"`
	Timeout time.Duration `koanf:"timeout"`

	// RatePerMinute caps outgoing posts client-side. Zero disables the
	// limiter.
	RatePerMinute int `koanf:"rate_per_minute"`
	RateBurst     int `koanf:"rate_burst"`

	// BreakerFailures opens the circuit after this many consecutive
	// failures; BreakerCooldown is the open interval before a probe.
	BreakerFailures int           `koanf:"breaker_failures"`
	BreakerCooldown time.Duration `koanf:"breaker_cooldown"`

	Templates TemplateConfig `koanf:"templates"`
}

// TemplateConfig holds the post text templates per transition kind. The
// placeholders {name}, {title} and {room_id} are substituted.
type TemplateConfig struct {
	Live    string `koanf:"live"`
	Offline string `koanf:"offline"`
	Title   string `koanf:"title"`
}

// WatcherConfig configures per-room actors and their supervision.
type WatcherConfig struct {
	// ReconnectBase/Max bound the feed reconnect backoff.
	ReconnectBase time.Duration `koanf:"reconnect_base"`
	ReconnectMax  time.Duration `koanf:"reconnect_max"`

	// RestartLimit and RestartWindow bound actor crash restarts: more than
	// RestartLimit restarts inside RestartWindow marks the room failed
	// instead of restarting again.
	RestartLimit  int           `koanf:"restart_limit"`
	RestartWindow time.Duration `koanf:"restart_window"`

	// StopTimeout bounds graceful actor shutdown on room removal.
	StopTimeout time.Duration `koanf:"stop_timeout"`
}

// ServerConfig configures the optional ops HTTP server.
type ServerConfig struct {
	Enabled bool   `koanf:"enabled"`
	Host    string `koanf:"host"`
	Port    int    `koanf:"port"`

	Timeout time.Duration `koanf:"timeout"`

	// AuthToken, when set, requires a matching bearer token on /api routes.
	AuthToken string `koanf:"auth_token"`

	CORSOrigins     []string      `koanf:"cors_origins"`
	RateLimitReqs   int           `koanf:"rate_limit_reqs"`
	RateLimitWindow time.Duration `koanf:"rate_limit_window"`
}

// ShutdownConfig bounds graceful teardown.
type ShutdownConfig struct {
	// Grace is how long components get to flush in-flight writes after the
	// stop signal before the process force-exits.
	Grace time.Duration `koanf:"grace"`
}

// defaultConfig returns a Config with every optional setting at its default.
// Defaults are layered first, then overridden by file and environment.
func defaultConfig() *Config {
	return &Config{
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Caller: false,
		},
		Feed: FeedConfig{
			DefaultSource: "bililive",
			Bililive: BililiveConfig{
				Endpoint:          "wss://broadcastlv.chat.bilibili.com/sub",
				APIBase:           "https://api.live.bilibili.com",
				DialTimeout:       10 * time.Second,
				HeartbeatInterval: 30 * time.Second,
				ReadTimeout:       60 * time.Second,
			},
		},
		NATS: NATSConfig{
			URL:             "nats://127.0.0.1:4222",
			Embedded:        true,
			StoreDir:        "/data/nats/jetstream",
			MaxMemory:       1 << 30,  // 1GB
			MaxStore:        10 << 30, // 10GB
			StreamName:      "STARGAZER_EVENTS",
			SubjectPrefix:   "stargazer.events",
			DurableName:     "notification-consumer",
			RetentionDays:   7,
			DuplicateWindow: 2 * time.Minute,
		},
		Store: StoreConfig{
			Dir:        "/data/stargazer",
			GCInterval: 10 * time.Minute,
		},
		Relay: RelayConfig{
			PublishRetryBase:  500 * time.Millisecond,
			PublishRetryMax:   30 * time.Second,
			RepublishInterval: time.Minute,
			Workers:           4,
			MaxAttempts:       5,
			PostRetryBase:     time.Second,
			PostRetryMax:      time.Minute,
			AckWait:           2 * time.Minute,
		},
		Poster: PosterConfig{
			Mode:            "log",
			Timeout:         15 * time.Second,
			RatePerMinute:   15,
			RateBurst:       3,
			BreakerFailures: 5,
			BreakerCooldown: time.Minute,
			Templates: TemplateConfig{
				Live:    "{name} went live: {title}",
				Offline: "{name} is now offline",
				Title:   "{name} changed the title to: {title}",
			},
		},
		Watcher: WatcherConfig{
			ReconnectBase: time.Second,
			ReconnectMax:  32 * time.Second,
			RestartLimit:  5,
			RestartWindow: 2 * time.Minute,
			StopTimeout:   10 * time.Second,
		},
		Server: ServerConfig{
			Enabled:         true,
			Host:            "127.0.0.1",
			Port:            8343,
			Timeout:         30 * time.Second,
			CORSOrigins:     []string{"*"},
			RateLimitReqs:   100,
			RateLimitWindow: time.Minute,
		},
		Shutdown: ShutdownConfig{
			Grace: 15 * time.Second,
		},
	}
}
