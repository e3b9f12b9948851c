// Stargazer - Live Room Watcher and Social Notification Relay
// Copyright 2026 SuiseiCN Developers
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/suisei-cn/stargazer

package relay

import (
	"context"
	"errors"
	"fmt"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/message/router/middleware"

	"github.com/suisei-cn/stargazer/internal/config"
	"github.com/suisei-cn/stargazer/internal/logging"
	"github.com/suisei-cn/stargazer/internal/metrics"
	"github.com/suisei-cn/stargazer/internal/models"
	"github.com/suisei-cn/stargazer/internal/poster"
	"github.com/suisei-cn/stargazer/internal/store"
)

// NotificationConsumer is the poster side of the pipeline. It consumes
// transition events from the broker, renders each into a social post, and
// settles the outcome in the delivery ledger before acknowledging.
//
// Acknowledgement discipline: a delivery is acked only once its record is in
// a final state (posted or dead-lettered) or the payload is undecodable. A
// handler error leaves the message unacked, so the broker redelivers after
// the ack wait; because every poster call first consults the ledger under
// the event's key lock, redeliveries and concurrent workers can never
// double-post one dedupe key.
type NotificationConsumer struct {
	router *message.Router

	ledger *store.DeliveryLedger
	states *store.StateStore
	poster poster.Poster
	render *poster.Renderer
	ser    *Serializer
	locks  *keyMutex

	prefix      string
	maxAttempts int
}

// NewNotificationConsumer wires the consumer's router: panic recovery, then
// in-process retry with backoff between poster attempts of one delivery.
// Broker redelivery backstops anything the in-process retry cannot outlast.
func NewNotificationConsumer(
	sub message.Subscriber,
	ledger *store.DeliveryLedger,
	states *store.StateStore,
	post poster.Poster,
	render *poster.Renderer,
	natsCfg config.NATSConfig,
	relayCfg config.RelayConfig,
	logger watermill.LoggerAdapter,
) (*NotificationConsumer, error) {
	if sub == nil {
		return nil, fmt.Errorf("subscriber required")
	}
	if ledger == nil {
		return nil, fmt.Errorf("delivery ledger required")
	}
	if post == nil {
		return nil, fmt.Errorf("poster required")
	}

	router, err := message.NewRouter(message.RouterConfig{CloseTimeout: closeTimeout}, logger)
	if err != nil {
		return nil, fmt.Errorf("create consumer router: %w", err)
	}

	c := &NotificationConsumer{
		router:      router,
		ledger:      ledger,
		states:      states,
		poster:      post,
		render:      render,
		ser:         NewSerializer(),
		locks:       newKeyMutex(0),
		prefix:      natsCfg.SubjectPrefix,
		maxAttempts: relayCfg.MaxAttempts,
	}

	// Outermost counts broker deliveries exactly once each, before the
	// retry middleware starts re-invoking the handler.
	router.AddMiddleware(func(h message.HandlerFunc) message.HandlerFunc {
		return func(msg *message.Message) ([]*message.Message, error) {
			metrics.ConsumeTotal.Inc()
			return h(msg)
		}
	})
	router.AddMiddleware(middleware.Recoverer)

	retry := middleware.Retry{
		MaxRetries:      relayCfg.MaxAttempts,
		InitialInterval: relayCfg.PostRetryBase,
		MaxInterval:     relayCfg.PostRetryMax,
		Multiplier:      2.0,
		Logger:          logger,
	}
	router.AddMiddleware(retry.Middleware)

	router.AddConsumerHandler(
		"notification-poster",
		EventsWildcard(natsCfg.SubjectPrefix),
		sub,
		c.handle,
	)

	return c, nil
}

// Serve runs the router until ctx is canceled.
func (c *NotificationConsumer) Serve(ctx context.Context) error {
	return c.router.Run(ctx)
}

func (c *NotificationConsumer) String() string {
	return "notification-consumer"
}

// Running returns a channel that closes once the router consumes.
func (c *NotificationConsumer) Running() <-chan struct{} {
	return c.router.Running()
}

// Close stops the router without waiting for ctx plumbing.
func (c *NotificationConsumer) Close() error {
	return c.router.Close()
}

// handle settles one delivery. Returning nil acks the message; returning an
// error hands it to the retry middleware and eventually back to the broker.
func (c *NotificationConsumer) handle(msg *message.Message) error {
	ctx := msg.Context()

	ev, err := c.ser.Unmarshal(msg.Payload)
	if err != nil {
		// Undecodable payloads cannot improve on redelivery and carry no
		// usable dedupe key, so this log line is their tombstone.
		logging.Error().
			Err(err).
			Str("message_uuid", msg.UUID).
			Msg("dropping undecodable event payload")
		return nil
	}

	unlock := c.locks.Lock(ev.DedupeKey)
	defer unlock()

	// The publisher normally created this record long before the event
	// reached the broker. Recreating it here covers a wiped store facing a
	// longer-lived stream.
	rec, err := c.ledger.EnsurePending(ctx, models.DeliveryRecord{
		DedupeKey: ev.DedupeKey,
		Subject:   SubjectFor(c.prefix, msg.Metadata.Get("source"), ev.RoomID),
		Event:     ev,
	})
	if err != nil {
		return fmt.Errorf("ensure pending %s: %w", ev.DedupeKey, err)
	}

	if rec.PostFinal() {
		metrics.ConsumeDedupedTotal.Inc()
		logging.Debug().
			Str("dedupe_key", rec.DedupeKey).
			Str("post_state", string(rec.PostState)).
			Msg("redelivery of settled event acknowledged")
		return nil
	}

	if rec.Attempts >= c.maxAttempts {
		// The budget was spent on earlier deliveries; a crash kept the
		// final state from being written then.
		return c.buryExhausted(ctx, rec)
	}

	text, err := c.renderText(ctx, ev)
	if err != nil {
		return c.bury(ctx, rec.DedupeKey, err)
	}

	postID, err := c.poster.Post(ctx, text)
	if err == nil {
		return c.settlePosted(ctx, ev, postID)
	}

	if poster.IsPermanent(err) {
		if _, aerr := c.ledger.RecordAttempt(ctx, ev.DedupeKey, err); aerr != nil {
			return fmt.Errorf("record attempt %s: %w", ev.DedupeKey, aerr)
		}
		return c.bury(ctx, ev.DedupeKey, err)
	}

	rec, aerr := c.ledger.RecordAttempt(ctx, ev.DedupeKey, err)
	if aerr != nil {
		return fmt.Errorf("record attempt %s: %w", ev.DedupeKey, aerr)
	}
	if rec.Attempts >= c.maxAttempts {
		return c.bury(ctx, ev.DedupeKey, fmt.Errorf("gave up after %d attempts: %w", rec.Attempts, err))
	}

	return fmt.Errorf("post %s attempt %d/%d: %w", ev.DedupeKey, rec.Attempts, c.maxAttempts, err)
}

// renderText resolves the room's display name and renders the post text.
// The wire event carries only the room id; the name lives in room state.
func (c *NotificationConsumer) renderText(ctx context.Context, ev models.TransitionEvent) (string, error) {
	var name string
	if room, err := c.states.Get(ctx, ev.RoomID); err == nil {
		name = room.DisplayName
	}
	return c.render.Render(ev, name)
}

// settlePosted records the successful post. When the ledger write fails the
// message is still acked: the post went out, and posting it a second time
// to repair a ledger row is the worse trade.
func (c *NotificationConsumer) settlePosted(ctx context.Context, ev models.TransitionEvent, postID string) error {
	if err := c.ledger.MarkPosted(ctx, ev.DedupeKey); err != nil {
		logging.Error().
			Err(err).
			Str("dedupe_key", ev.DedupeKey).
			Str("post_id", postID).
			Msg("post delivered but ledger update failed")
		return nil
	}
	logging.Info().
		Str("dedupe_key", ev.DedupeKey).
		Str("room_id", ev.RoomID).
		Str("kind", string(ev.Kind)).
		Str("post_id", postID).
		Msg("notification posted")
	return nil
}

// bury moves the record to the dead letter state and acks the delivery.
func (c *NotificationConsumer) bury(ctx context.Context, dedupeKey string, cause error) error {
	if err := c.ledger.MarkDeadLettered(ctx, dedupeKey, cause.Error()); err != nil {
		return fmt.Errorf("mark dead-lettered %s: %w", dedupeKey, err)
	}
	logging.Error().
		Str("dedupe_key", dedupeKey).
		Str("reason", cause.Error()).
		Msg("event dead-lettered")
	return nil
}

func (c *NotificationConsumer) buryExhausted(ctx context.Context, rec models.DeliveryRecord) error {
	reason := rec.LastError
	if reason == "" {
		reason = fmt.Sprintf("attempt budget of %d exhausted", c.maxAttempts)
	}
	return c.bury(ctx, rec.DedupeKey, errors.New(reason))
}
