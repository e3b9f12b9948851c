// Stargazer - Live Room Watcher and Social Notification Relay
// Copyright 2026 SuiseiCN Developers
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/suisei-cn/stargazer

package relay

import (
	"fmt"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	wmNats "github.com/ThreeDotsLabs/watermill-nats/v2/pkg/nats"
	"github.com/ThreeDotsLabs/watermill/message"
	natsgo "github.com/nats-io/nats.go"

	"github.com/suisei-cn/stargazer/internal/config"
)

const (
	reconnectWait = 2 * time.Second
	closeTimeout  = 30 * time.Second

	// maxAckPending caps in-flight deliveries per consumer. The per-key
	// locks serialize what must be serialized, so this only bounds memory.
	maxAckPending = 256
)

// natsOptions builds the shared connection options. Reconnection is
// unbounded: the pipeline outlives broker hiccups.
func natsOptions(logger watermill.LoggerAdapter) []natsgo.Option {
	return []natsgo.Option{
		natsgo.RetryOnFailedConnect(true),
		natsgo.MaxReconnects(-1),
		natsgo.ReconnectWait(reconnectWait),
		natsgo.DisconnectErrHandler(func(nc *natsgo.Conn, err error) {
			if err != nil {
				logger.Error("NATS disconnected", err, nil)
			}
		}),
		natsgo.ReconnectHandler(func(nc *natsgo.Conn) {
			logger.Info("NATS reconnected", watermill.LogFields{
				"url": nc.ConnectedUrl(),
			})
		}),
		natsgo.ErrorHandler(func(nc *natsgo.Conn, sub *natsgo.Subscription, err error) {
			fields := watermill.LogFields{}
			if sub != nil {
				fields["subject"] = sub.Subject
			}
			logger.Error("NATS async error", err, fields)
		}),
	}
}

// NewBrokerPublisher creates the JetStream publisher the event publisher
// sends through. TrackMsgId makes the broker collapse publishes that reuse
// a message id inside the stream's duplicate window, which is what lets
// crash recovery republish pending records without double delivery.
func NewBrokerPublisher(url string, logger watermill.LoggerAdapter) (message.Publisher, error) {
	wmCfg := wmNats.PublisherConfig{
		URL:         url,
		NatsOptions: natsOptions(logger),
		Marshaler:   &wmNats.NATSMarshaler{},
		JetStream: wmNats.JetStreamConfig{
			AutoProvision: false, // stream is pre-created by StreamInitializer
			TrackMsgId:    true,
			PublishOptions: []natsgo.PubOpt{
				natsgo.RetryAttempts(3),
				natsgo.RetryWait(100 * time.Millisecond),
			},
		},
	}

	pub, err := wmNats.NewPublisher(wmCfg, logger)
	if err != nil {
		return nil, fmt.Errorf("create broker publisher: %w", err)
	}
	return pub, nil
}

// NewBrokerSubscriber creates the durable queue subscriber behind the
// notification consumer.
//
// The subscriber binds to the pre-created stream because AutoProvision
// cannot create a stream from the wildcard topic. DeliverAll rather than
// DeliverNew: the durable may first be created after events are already in
// the stream, and those must not be skipped. MaxDeliver stays unlimited on
// purpose. The delivery ledger bounds poster attempts, and the broker must
// keep redelivering until the consumer records a final state, or a crash
// loop could strand an event in limbo.
func NewBrokerSubscriber(url string, natsCfg config.NATSConfig, relayCfg config.RelayConfig, logger watermill.LoggerAdapter) (message.Subscriber, error) {
	subOpts := []natsgo.SubOpt{
		natsgo.MaxAckPending(maxAckPending),
		natsgo.AckWait(relayCfg.AckWait),
		natsgo.DeliverAll(),
		natsgo.BindStream(natsCfg.StreamName),
	}

	wmCfg := wmNats.SubscriberConfig{
		URL:              url,
		QueueGroupPrefix: natsCfg.DurableName,
		SubscribersCount: relayCfg.Workers,
		AckWaitTimeout:   relayCfg.AckWait,
		CloseTimeout:     closeTimeout,
		NatsOptions:      natsOptions(logger),
		Unmarshaler:      &wmNats.NATSMarshaler{},
		JetStream: wmNats.JetStreamConfig{
			AutoProvision:    false,
			AckAsync:         false, // synchronous acks, the ledger is the truth
			SubscribeOptions: subOpts,
			DurablePrefix:    natsCfg.DurableName,
		},
	}

	sub, err := wmNats.NewSubscriber(wmCfg, logger)
	if err != nil {
		return nil, fmt.Errorf("create broker subscriber: %w", err)
	}
	return sub, nil
}

// NewTapSubscriber creates the event tap's subscription: ephemeral, no
// queue group, new events only. A tap that reconnects resumes from the
// live edge instead of replaying the stream.
func NewTapSubscriber(url string, natsCfg config.NATSConfig, logger watermill.LoggerAdapter) (message.Subscriber, error) {
	subOpts := []natsgo.SubOpt{
		natsgo.DeliverNew(),
		natsgo.BindStream(natsCfg.StreamName),
	}

	wmCfg := wmNats.SubscriberConfig{
		URL:            url,
		AckWaitTimeout: closeTimeout,
		CloseTimeout:   closeTimeout,
		NatsOptions:    natsOptions(logger),
		Unmarshaler:    &wmNats.NATSMarshaler{},
		JetStream: wmNats.JetStreamConfig{
			AutoProvision:    false,
			SubscribeOptions: subOpts,
		},
	}

	sub, err := wmNats.NewSubscriber(wmCfg, logger)
	if err != nil {
		return nil, fmt.Errorf("create tap subscriber: %w", err)
	}
	return sub, nil
}
