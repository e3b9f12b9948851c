// Stargazer - Live Room Watcher and Social Notification Relay
// Copyright 2026 SuiseiCN Developers
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/suisei-cn/stargazer

package tap

import (
	"context"
	"fmt"

	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/suisei-cn/stargazer/internal/config"
	"github.com/suisei-cn/stargazer/internal/logging"
	"github.com/suisei-cn/stargazer/internal/relay"
)

// Bridge forwards every event on the transition stream to the hub. It
// consumes through its own subscription, independent of the notification
// consumer's durable group.
type Bridge struct {
	sub   message.Subscriber
	hub   *Hub
	ser   *relay.Serializer
	topic string
}

// NewBridge wires a subscriber to the hub.
func NewBridge(sub message.Subscriber, hub *Hub, natsCfg config.NATSConfig) (*Bridge, error) {
	if sub == nil {
		return nil, fmt.Errorf("subscriber required")
	}
	if hub == nil {
		return nil, fmt.Errorf("hub required")
	}
	return &Bridge{
		sub:   sub,
		hub:   hub,
		ser:   relay.NewSerializer(),
		topic: relay.EventsWildcard(natsCfg.SubjectPrefix),
	}, nil
}

// Serve consumes the event stream until ctx is canceled. A closed
// subscription returns nil so the supervisor re-establishes it.
func (b *Bridge) Serve(ctx context.Context) error {
	msgs, err := b.sub.Subscribe(ctx, b.topic)
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", b.topic, err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-msgs:
			if !ok {
				return nil
			}
			b.forward(msg)
		}
	}
}

func (b *Bridge) String() string {
	return "event-tap-bridge"
}

// forward acks unconditionally. The notification consumer owns delivery
// accounting; a tap must never hold a message back.
func (b *Bridge) forward(msg *message.Message) {
	defer msg.Ack()

	ev, err := b.ser.Unmarshal(msg.Payload)
	if err != nil {
		logging.Warn().
			Err(err).
			Str("message_uuid", msg.UUID).
			Msg("tap skipping undecodable event")
		return
	}
	b.hub.BroadcastTransition(ev)
}
