// Stargazer - Live Room Watcher and Social Notification Relay
// Copyright 2026 SuiseiCN Developers
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/suisei-cn/stargazer

package relay

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/suisei-cn/stargazer/internal/config"
)

// EmbeddedServer runs a NATS server with JetStream inside the stargazer
// process, so single-instance deployments need no external broker. It binds
// the loopback interface only; the ops API is the outward surface.
type EmbeddedServer struct {
	srv       *server.Server
	clientURL string
}

// NewEmbeddedServer creates and starts an embedded NATS server, waiting up
// to 30 seconds for it to accept connections.
func NewEmbeddedServer(cfg config.NATSConfig) (*EmbeddedServer, error) {
	opts := &server.Options{
		ServerName:         "stargazer",
		Host:               "127.0.0.1",
		Port:               4222,
		JetStream:          true,
		StoreDir:           cfg.StoreDir,
		JetStreamMaxMemory: cfg.MaxMemory,
		JetStreamMaxStore:  cfg.MaxStore,
	}

	ns, err := server.NewServer(opts)
	if err != nil {
		return nil, fmt.Errorf("create NATS server: %w", err)
	}

	ns.ConfigureLogger()
	go ns.Start()

	if !ns.ReadyForConnections(30 * time.Second) {
		ns.Shutdown()
		return nil, fmt.Errorf("NATS server not ready within timeout")
	}

	return &EmbeddedServer{srv: ns, clientURL: ns.ClientURL()}, nil
}

// ClientURL returns the connection URL for in-process clients.
func (s *EmbeddedServer) ClientURL() string {
	return s.clientURL
}

// Running reports server health.
func (s *EmbeddedServer) Running() bool {
	return s.srv.Running()
}

// Shutdown stops the server and waits for it to finish, or returns early
// when ctx expires.
func (s *EmbeddedServer) Shutdown(ctx context.Context) error {
	s.srv.Shutdown()

	done := make(chan struct{})
	go func() {
		s.srv.WaitForShutdown()
		close(done)
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return nil
	}
}

// JetStreamManager is the subset of jetstream.JetStream the stream
// initializer needs. Tests implement it in memory.
type JetStreamManager interface {
	Stream(ctx context.Context, name string) (jetstream.Stream, error)
	CreateStream(ctx context.Context, cfg jetstream.StreamConfig) (jetstream.Stream, error)
	UpdateStream(ctx context.Context, cfg jetstream.StreamConfig) (jetstream.Stream, error)
}

// StreamInitializer ensures the transition event stream exists with the
// configured settings before the publisher and consumer start. Subscribers
// bind to the stream rather than provisioning their own, so this must run
// first.
type StreamInitializer struct {
	js  JetStreamManager
	cfg config.NATSConfig
}

// NewStreamInitializer creates a stream initializer for the configured
// stream.
func NewStreamInitializer(js JetStreamManager, cfg config.NATSConfig) (*StreamInitializer, error) {
	if js == nil {
		return nil, fmt.Errorf("jetstream manager required")
	}
	return &StreamInitializer{js: js, cfg: cfg}, nil
}

// EnsureStream creates the stream or updates its configuration when it
// already exists. Calling it repeatedly is safe.
//
// The stream uses file storage with LimitsPolicy retention bounded by the
// configured retention age, and the duplicate window that makes republishing
// under the same message id collapse broker-side.
func (si *StreamInitializer) EnsureStream(ctx context.Context) (jetstream.Stream, error) {
	streamCfg := jetstream.StreamConfig{
		Name:        si.cfg.StreamName,
		Subjects:    []string{EventsWildcard(si.cfg.SubjectPrefix)},
		Retention:   jetstream.LimitsPolicy,
		MaxAge:      time.Duration(si.cfg.RetentionDays) * 24 * time.Hour,
		Duplicates:  si.cfg.DuplicateWindow,
		Storage:     jetstream.FileStorage,
		AllowDirect: true,
		Discard:     jetstream.DiscardOld,
	}

	_, err := si.js.Stream(ctx, si.cfg.StreamName)
	if err == nil {
		stream, err := si.js.UpdateStream(ctx, streamCfg)
		if err != nil {
			return nil, fmt.Errorf("update stream %s: %w", si.cfg.StreamName, err)
		}
		return stream, nil
	}

	if errors.Is(err, jetstream.ErrStreamNotFound) {
		stream, err := si.js.CreateStream(ctx, streamCfg)
		if err != nil {
			return nil, fmt.Errorf("create stream %s: %w", si.cfg.StreamName, err)
		}
		return stream, nil
	}

	return nil, fmt.Errorf("check stream %s: %w", si.cfg.StreamName, err)
}

// Check reports whether the stream is reachable. A missing stream maps to
// ErrStreamNotFound so readiness probes can tell a provisioning problem from
// a broker outage.
func (si *StreamInitializer) Check(ctx context.Context) error {
	_, err := si.js.Stream(ctx, si.cfg.StreamName)
	if errors.Is(err, jetstream.ErrStreamNotFound) {
		return ErrStreamNotFound
	}
	if err != nil {
		return fmt.Errorf("check stream %s: %w", si.cfg.StreamName, err)
	}
	return nil
}
