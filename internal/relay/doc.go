// Stargazer - Live Room Watcher and Social Notification Relay
// Copyright 2026 SuiseiCN Developers
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/suisei-cn/stargazer

// Package relay moves transition events from the room watchers to the social
// poster through NATS JetStream, with Watermill on both ends and the Badger
// delivery ledger in the middle.
//
// The pipeline has two independent halves joined only by the broker:
//
//	┌──────────────┐    PublishTransition    ┌────────────────┐
//	│ room watcher ├────────────────────────►│ EventPublisher │
//	└──────────────┘                         └───────┬────────┘
//	                                                 │ ledger: pending → published
//	                                                 ▼
//	                                   ┌───────────────────────────┐
//	                                   │   NATS JetStream stream   │
//	                                   │  <prefix>.<source>.<room> │
//	                                   └─────────────┬─────────────┘
//	                                                 │ durable queue group
//	                                                 ▼
//	┌──────────────┐        poster.Post      ┌──────────────────────┐
//	│ social       │◄────────────────────────┤ NotificationConsumer │
//	│ platform     │                         └──────────┬───────────┘
//	└──────────────┘                                    │ ledger: posted or
//	                                                    ▼         dead-lettered
//	                                            delivery ledger
//
// Delivery is at least once end to end. Exactly-once user-visible behavior
// comes from the dedupe key: the publisher stamps it as the broker message id
// so JetStream collapses redundant publishes inside the duplicate window, and
// the consumer checks the ledger before every poster call so redeliveries of
// an already-posted or dead-lettered event are acknowledged without a second
// post. Events for one room keep their detection order because they share a
// subject; no order is promised across rooms.
//
// A publish that never got a broker acknowledgement leaves its ledger record
// in the pending state. The publisher sweeps for such records periodically
// and republishes them under the same message id, so a crash between ledger
// write and broker ack costs a delay, never a loss.
package relay
