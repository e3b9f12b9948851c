// Stargazer - Live Room Watcher and Social Notification Relay
// Copyright 2026 SuiseiCN Developers
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/suisei-cn/stargazer

/*
Package models defines the data structures shared across the Stargazer
pipeline. It is the single source of truth for the room state machine's
vocabulary and for the wire schema between watcher and consumer.

Key types:

  - Room: authoritative per-room state, persisted by internal/store and
    mutated only by the room's single actor goroutine.
  - TransitionEvent: one immutable detected change (went_live, went_offline,
    title_changed), also the broker wire payload.
  - DeliveryRecord: publish/post fate of one dedupe key, with disjoint
    writer ownership between publisher and consumer.

Dedupe keys:

Every logical event maps to exactly one key via EventDedupeKey. The key is a
pure function of room, session, kind and (for title changes) a per-session
revision counter, so re-detection after a crash, broker redelivery and
operator-driven republish all collapse onto the same identity.

Thread safety:

All types here are plain data, immutable after creation and safe for
concurrent reads. Serialization uses snake_case JSON tags; decoders ignore
unknown fields for forward compatibility.
*/
package models
