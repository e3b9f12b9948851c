// Stargazer - Live Room Watcher and Social Notification Relay
// Copyright 2026 SuiseiCN Developers
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/suisei-cn/stargazer

// Package app assembles the Stargazer pipeline: it opens the store, brings
// up the broker, wires the watcher, relay, poster and ops API together, and
// runs them under one supervisor tree.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	natsgo "github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/suisei-cn/stargazer/internal/api"
	"github.com/suisei-cn/stargazer/internal/config"
	"github.com/suisei-cn/stargazer/internal/feed"
	"github.com/suisei-cn/stargazer/internal/logging"
	"github.com/suisei-cn/stargazer/internal/metrics"
	"github.com/suisei-cn/stargazer/internal/poster"
	"github.com/suisei-cn/stargazer/internal/relay"
	"github.com/suisei-cn/stargazer/internal/store"
	"github.com/suisei-cn/stargazer/internal/tap"
	"github.com/suisei-cn/stargazer/internal/watcher"
)

// App owns every long-lived resource of a Stargazer process. Services run
// under the supervisor tree; resources that are not services (the NATS
// connection, the embedded broker, the Badger handle) are torn down by Run
// after the tree stops.
type App struct {
	cfg  *config.Config
	tree *SupervisorTree

	st     *store.Store
	states *store.StateStore
	ledger *store.DeliveryLedger

	embedded *relay.EmbeddedServer
	nc       *natsgo.Conn

	pub    message.Publisher
	sub    message.Subscriber
	tapSub message.Subscriber

	consumer *relay.NotificationConsumer
}

// New builds the full component graph from cfg. On any failure the
// resources built so far are released before the error returns, so a half
// initialized process never leaks a store lock or a broker port.
//
// Bring-up order matters: the stream must exist before the publisher and
// consumer bind to it, and the initial room set is seeded before the tree
// starts so the first snapshots find their actors supervised.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	a := &App{cfg: cfg}

	tree, err := NewSupervisorTree(logging.NewSlogLogger(), TreeConfig{
		FailureThreshold: 5,
		FailureBackoff:   15 * time.Second,
		ShutdownTimeout:  cfg.Shutdown.Grace,
	})
	if err != nil {
		return nil, fmt.Errorf("create supervisor tree: %w", err)
	}
	a.tree = tree

	st, err := store.Open(store.Config{
		Dir:        cfg.Store.Dir,
		SyncWrites: true,
		GCInterval: cfg.Store.GCInterval,
	})
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	a.st = st
	a.states = store.NewStateStore(st)
	a.ledger = store.NewDeliveryLedger(st)

	// The dead-letter gauge restarts at zero; reload it from the ledger so
	// dashboards keep showing letters parked before the restart.
	if deadLetters, err := a.ledger.ListDeadLettered(ctx); err != nil {
		logging.Warn().Err(err).Msg("could not count dead letters for the gauge")
	} else {
		metrics.DeadLettersPending.Set(float64(len(deadLetters)))
	}

	natsURL := cfg.NATS.URL
	if cfg.NATS.Embedded {
		embedded, err := relay.NewEmbeddedServer(cfg.NATS)
		if err != nil {
			a.teardown()
			return nil, fmt.Errorf("start embedded NATS server: %w", err)
		}
		a.embedded = embedded
		natsURL = embedded.ClientURL()
		logging.Info().Str("url", natsURL).Msg("embedded NATS server running")
	}

	nc, err := natsgo.Connect(natsURL,
		natsgo.RetryOnFailedConnect(true),
		natsgo.MaxReconnects(-1),
		natsgo.ReconnectWait(2*time.Second),
	)
	if err != nil {
		a.teardown()
		return nil, fmt.Errorf("connect to NATS at %s: %w", natsURL, err)
	}
	a.nc = nc

	js, err := jetstream.New(nc)
	if err != nil {
		a.teardown()
		return nil, fmt.Errorf("create JetStream context: %w", err)
	}

	checker, err := relay.NewStreamInitializer(js, cfg.NATS)
	if err != nil {
		a.teardown()
		return nil, err
	}
	stream, err := checker.EnsureStream(ctx)
	if err != nil {
		a.teardown()
		return nil, fmt.Errorf("ensure event stream: %w", err)
	}
	info := stream.CachedInfo()
	logging.Info().
		Str("stream", info.Config.Name).
		Strs("subjects", info.Config.Subjects).
		Dur("max_age", info.Config.MaxAge).
		Msg("event stream ready")

	wmLogger := relay.NewWatermillLogger(logging.With().Str("component", "relay").Logger())

	pub, err := relay.NewBrokerPublisher(natsURL, wmLogger)
	if err != nil {
		a.teardown()
		return nil, fmt.Errorf("create broker publisher: %w", err)
	}
	a.pub = pub

	eventPub, err := relay.NewEventPublisher(pub, a.ledger, cfg.NATS, cfg.Relay)
	if err != nil {
		a.teardown()
		return nil, err
	}

	registry := feed.NewRegistry(
		feed.NewBililiveSource(cfg.Feed.Bililive),
		feed.NewDebugSource(),
	)
	rooms := watcher.NewSupervisor(cfg.Watcher, registry, a.states, eventPub)
	if err := rooms.SetRooms(withDefaultSource(cfg.Rooms, cfg.Feed.DefaultSource)); err != nil {
		a.teardown()
		return nil, fmt.Errorf("seed initial rooms: %w", err)
	}
	logging.Info().Int("rooms", len(cfg.Rooms)).Strs("sources", registry.Names()).Msg("room watchers seeded")

	post, err := poster.New(cfg.Poster)
	if err != nil {
		a.teardown()
		return nil, fmt.Errorf("create poster: %w", err)
	}
	render := poster.NewRenderer(cfg.Poster.Templates)

	sub, err := relay.NewBrokerSubscriber(natsURL, cfg.NATS, cfg.Relay, wmLogger)
	if err != nil {
		a.teardown()
		return nil, fmt.Errorf("create broker subscriber: %w", err)
	}
	a.sub = sub

	consumer, err := relay.NewNotificationConsumer(sub, a.ledger, a.states, post, render, cfg.NATS, cfg.Relay, wmLogger)
	if err != nil {
		a.teardown()
		return nil, err
	}
	a.consumer = consumer

	tree.AddDataService(st)
	tree.AddPipelineService(rooms)
	tree.AddPipelineService(eventPub)
	tree.AddPipelineService(consumer)

	if cfg.Server.Enabled {
		hub := tap.NewHub()

		tapSub, err := relay.NewTapSubscriber(natsURL, cfg.NATS, wmLogger)
		if err != nil {
			a.teardown()
			return nil, fmt.Errorf("create tap subscriber: %w", err)
		}
		a.tapSub = tapSub

		bridge, err := tap.NewBridge(tapSub, hub, cfg.NATS)
		if err != nil {
			a.teardown()
			return nil, err
		}

		handler, err := api.NewHandler(cfg.Server, cfg.Feed.DefaultSource, a.states, a.ledger, rooms, eventPub, checker, hub)
		if err != nil {
			a.teardown()
			return nil, fmt.Errorf("create ops API handler: %w", err)
		}
		server := api.NewServer(cfg.Server, api.NewRouter(cfg.Server, handler).Routes())

		tree.AddPipelineService(hub)
		tree.AddPipelineService(bridge)
		tree.AddAPIService(server)
	} else {
		logging.Info().Msg("ops API disabled")
	}

	return a, nil
}

// Run serves the supervisor tree until ctx is canceled or the tree fails,
// then releases every non-service resource. It returns the first supervisor
// error that was not plain context cancellation.
func (a *App) Run(ctx context.Context) error {
	defer a.teardown()

	logging.Info().Msg("starting supervisor tree")
	errCh := a.tree.ServeBackground(ctx)

	// Serve delivers exactly one error on errCh when the tree stops.
	var serveErr error
	select {
	case <-ctx.Done():
		logging.Info().Msg("stop requested, waiting for services to finish")
		if err := <-errCh; err != nil && !errors.Is(err, context.Canceled) {
			serveErr = err
		}
	case err := <-errCh:
		if err != nil && !errors.Is(err, context.Canceled) {
			serveErr = err
		}
	}

	unstopped, _ := a.tree.UnstoppedServiceReport()
	if len(unstopped) > 0 {
		logging.Warn().Int("count", len(unstopped)).Msg("services failed to stop within timeout")
		for _, svc := range unstopped {
			logging.Warn().Str("service", svc.Name).Msg("service failed to stop")
		}
	}

	return serveErr
}

// teardown releases resources in reverse bring-up order: consumers first so
// no handler is mid-delivery when the transports drop, the store last so
// every ledger write still lands. Safe to call with any subset of fields
// set, and more than once.
func (a *App) teardown() {
	if a.consumer != nil {
		if err := a.consumer.Close(); err != nil {
			logging.Error().Err(err).Msg("error closing notification consumer")
		}
		a.consumer = nil
	}
	if a.tapSub != nil {
		if err := a.tapSub.Close(); err != nil {
			logging.Error().Err(err).Msg("error closing tap subscriber")
		}
		a.tapSub = nil
	}
	if a.sub != nil {
		if err := a.sub.Close(); err != nil {
			logging.Error().Err(err).Msg("error closing broker subscriber")
		}
		a.sub = nil
	}
	if a.pub != nil {
		if err := a.pub.Close(); err != nil {
			logging.Error().Err(err).Msg("error closing broker publisher")
		}
		a.pub = nil
	}
	if a.nc != nil {
		a.nc.Close()
		a.nc = nil
	}
	if a.embedded != nil {
		ctx, cancel := context.WithTimeout(context.Background(), a.grace())
		if err := a.embedded.Shutdown(ctx); err != nil {
			logging.Error().Err(err).Msg("error shutting down embedded NATS server")
		}
		cancel()
		a.embedded = nil
	}
	if a.st != nil {
		if err := a.st.Close(); err != nil {
			logging.Error().Err(err).Msg("error closing store")
		}
		a.st = nil
	}
}

func (a *App) grace() time.Duration {
	if a.cfg != nil && a.cfg.Shutdown.Grace > 0 {
		return a.cfg.Shutdown.Grace
	}
	return 15 * time.Second
}

// withDefaultSource fills empty room sources with the configured default,
// mirroring what the ops API does for rooms added at runtime.
func withDefaultSource(rooms []config.RoomConfig, def string) []config.RoomConfig {
	out := make([]config.RoomConfig, len(rooms))
	for i, rc := range rooms {
		if rc.Source == "" {
			rc.Source = def
		}
		out[i] = rc
	}
	return out
}
