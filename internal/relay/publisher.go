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

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/google/uuid"
	natsgo "github.com/nats-io/nats.go"

	"github.com/suisei-cn/stargazer/internal/config"
	"github.com/suisei-cn/stargazer/internal/logging"
	"github.com/suisei-cn/stargazer/internal/metrics"
	"github.com/suisei-cn/stargazer/internal/models"
	"github.com/suisei-cn/stargazer/internal/store"
	"github.com/suisei-cn/stargazer/internal/watcher"
)

// inlinePublishAttempts bounds how long PublishTransition blocks its room
// actor on a broker outage before handing the record to the sweep.
const inlinePublishAttempts = 3

// EventPublisher is the watcher side of the pipeline. It writes every
// detected transition to the delivery ledger before the broker sees it, so
// a crash or outage between detection and broker ack can only delay an
// event, never lose it.
//
// The message id on the wire is the event's dedupe key. JetStream tracks
// ids inside the stream's duplicate window, so a republish of a record
// whose original publish did reach the broker collapses server-side.
type EventPublisher struct {
	pub    message.Publisher
	ledger *store.DeliveryLedger
	ser    *Serializer

	prefix   string
	relayCfg config.RelayConfig
}

// NewEventPublisher creates the publisher. pub must be a JetStream
// publisher with message id tracking enabled.
func NewEventPublisher(pub message.Publisher, ledger *store.DeliveryLedger, natsCfg config.NATSConfig, relayCfg config.RelayConfig) (*EventPublisher, error) {
	if pub == nil {
		return nil, ErrNilPublisher
	}
	if ledger == nil {
		return nil, fmt.Errorf("delivery ledger required")
	}
	return &EventPublisher{
		pub:      pub,
		ledger:   ledger,
		ser:      NewSerializer(),
		prefix:   natsCfg.SubjectPrefix,
		relayCfg: relayCfg,
	}, nil
}

// PublishTransition records ev in the ledger and pushes it to the broker.
//
// The ledger write comes first and is the durability point: once it
// succeeds, this method never returns an error for broker trouble. Inline
// retries cover short hiccups; anything longer is left to the republish
// sweep, because failing the calling room actor over a broker outage would
// burn its restart budget on a problem that is not the room's.
func (p *EventPublisher) PublishTransition(ctx context.Context, ev models.TransitionEvent) error {
	subject := SubjectFor(p.prefix, ev.Source, ev.RoomID)

	rec, err := p.ledger.EnsurePending(ctx, models.DeliveryRecord{
		DedupeKey: ev.DedupeKey,
		Subject:   subject,
		Event:     ev,
	})
	if err != nil {
		return fmt.Errorf("ensure pending %s: %w", ev.DedupeKey, err)
	}
	if rec.PublishState == models.Published {
		metrics.PublishSkippedTotal.Inc()
		return nil
	}

	backoff := watcher.NewBackoff(p.relayCfg.PublishRetryBase, p.relayCfg.PublishRetryMax, time.Now().UnixNano())
	var lastErr error
	for attempt := 0; attempt < inlinePublishAttempts; attempt++ {
		if attempt > 0 {
			metrics.PublishRetriesTotal.Inc()
			if err := backoff.Sleep(ctx); err != nil {
				return err
			}
		}
		if lastErr = p.republish(ctx, rec, rec.DedupeKey); lastErr == nil {
			return nil
		}
	}

	logging.Warn().
		Err(lastErr).
		Str("dedupe_key", rec.DedupeKey).
		Str("subject", subject).
		Msg("publish deferred to republish sweep")
	return nil
}

// Republish pushes a requeued record back to the broker under a fresh
// message id. The original id may still sit inside the broker's duplicate
// window, and an operator requeue must reach the consumer again.
func (p *EventPublisher) Republish(ctx context.Context, rec models.DeliveryRecord) error {
	return p.republish(ctx, rec, uuid.NewString())
}

// republish marshals the record's event and publishes it on the record's
// captured subject, marking the record published on broker ack.
func (p *EventPublisher) republish(ctx context.Context, rec models.DeliveryRecord, msgID string) error {
	data, err := p.ser.Marshal(rec.Event)
	if err != nil {
		return err
	}

	msg := message.NewMessage(msgID, data)
	if msg.Metadata.Get(natsgo.MsgIdHdr) == "" {
		msg.Metadata.Set(natsgo.MsgIdHdr, msgID)
	}
	msg.Metadata.Set("room_id", rec.Event.RoomID)
	msg.Metadata.Set("kind", string(rec.Event.Kind))
	if rec.Event.Source != "" {
		msg.Metadata.Set("source", rec.Event.Source)
	}

	if err := p.pub.Publish(rec.Subject, msg); err != nil {
		return fmt.Errorf("publish %s to %s: %w", rec.DedupeKey, rec.Subject, err)
	}
	if err := p.ledger.MarkPublished(ctx, rec.DedupeKey); err != nil {
		return fmt.Errorf("mark published %s: %w", rec.DedupeKey, err)
	}
	metrics.PublishTotal.Inc()
	return nil
}

// Serve periodically republishes ledger records whose broker ack never
// arrived. The first sweep runs immediately: pending records from a
// previous run should not wait a full interval after boot.
//
// A sweep may race a concurrent PublishTransition of the same key. Both
// publish under the same message id and MarkPublished is idempotent, so the
// race is harmless.
func (p *EventPublisher) Serve(ctx context.Context) error {
	p.sweep(ctx)

	ticker := time.NewTicker(p.relayCfg.RepublishInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			p.sweep(ctx)
		}
	}
}

func (p *EventPublisher) String() string {
	return "event-publisher"
}

// sweep republishes every publish-pending record once. Failures stay
// pending and get another chance next interval.
func (p *EventPublisher) sweep(ctx context.Context) {
	recs, err := p.ledger.ListPendingPublish(ctx)
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			logging.Warn().Err(err).Msg("republish sweep could not list pending records")
		}
		return
	}
	if len(recs) == 0 {
		return
	}

	logging.Info().Int("count", len(recs)).Msg("republishing pending events")
	for _, rec := range recs {
		if ctx.Err() != nil {
			return
		}
		metrics.PublishRetriesTotal.Inc()
		if err := p.republish(ctx, rec, rec.DedupeKey); err != nil {
			logging.Warn().
				Err(err).
				Str("dedupe_key", rec.DedupeKey).
				Msg("republish failed, keeping record pending")
		}
	}
}
