// Stargazer - Live Room Watcher and Social Notification Relay
// Copyright 2026 SuiseiCN Developers
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/suisei-cn/stargazer

// Stargazer watches live broadcast rooms and relays go-live, go-offline and
// title-change events to a social poster, exactly once per event.
//
// The binary is self contained: it embeds a NATS server with JetStream for
// the event stream and keeps room state and the delivery ledger in a local
// Badger database, so a single process with a data directory is a complete
// deployment. Configuration comes from an optional config.yaml and
// STARGAZER_-prefixed environment variables.
//
// Development run, posting to the log instead of a social endpoint:
//
//	export STARGAZER_ROOMS=92613
//	export STARGAZER_POSTER_MODE=log
//	./stargazer
//
// Production with a posting endpoint:
//
//	export STARGAZER_ROOMS=92613,81004
//	export STARGAZER_POSTER_MODE=http
//	export STARGAZER_POSTER_URL=https://poster.example.com/post
//	export STARGAZER_POSTER_TOKEN=your-poster-token
//	export STARGAZER_STORE_DIR=/data/stargazer
//	./stargazer
//
// The ops API listens on 127.0.0.1:8343 by default and serves health
// probes, Prometheus metrics, room management and a websocket event tap.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/suisei-cn/stargazer/internal/app"
	"github.com/suisei-cn/stargazer/internal/config"
	"github.com/suisei-cn/stargazer/internal/logging"
)

func main() {
	// Load configuration first to get logging settings.
	cfg, err := config.Load()
	if err != nil {
		// Config errors log through the default logger, config is not
		// available yet.
		logging.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
	})

	logging.Info().Msg("Starting Stargazer")
	logging.Info().
		Int("rooms", len(cfg.Rooms)).
		Str("default_source", cfg.Feed.DefaultSource).
		Str("poster_mode", cfg.Poster.Mode).
		Bool("nats_embedded", cfg.NATS.Embedded).
		Bool("server_enabled", cfg.Server.Enabled).
		Msg("Configuration loaded")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	application, err := app.New(ctx, cfg)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to initialize application")
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logging.Info().Str("signal", sig.String()).Msg("Received shutdown signal")
		cancel()
	}()

	if err := application.Run(ctx); err != nil {
		logging.Error().Err(err).Msg("Supervisor tree error")
	}

	logging.Info().Msg("Stargazer stopped gracefully")
}
