// Stargazer - Live Room Watcher and Social Notification Relay
// Copyright 2026 SuiseiCN Developers
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/suisei-cn/stargazer

package models

import (
	"fmt"
	"time"
)

// TransitionKind classifies a detected room state change.
type TransitionKind string

const (
	KindWentLive     TransitionKind = "went_live"
	KindWentOffline  TransitionKind = "went_offline"
	KindTitleChanged TransitionKind = "title_changed"
)

// Valid reports whether k is one of the three known kinds. Consumers use it
// to reject malformed wire payloads.
func (k TransitionKind) Valid() bool {
	switch k {
	case KindWentLive, KindWentOffline, KindTitleChanged:
		return true
	}
	return false
}

// TransitionEvent is one immutable detected change for one room. It is the
// wire payload between the watcher and the notification consumer.
//
// Field order on the wire is irrelevant and unknown fields are ignored on
// decode, so the schema can grow without breaking older consumers.
type TransitionEvent struct {
	RoomID    string         `json:"room_id"`
	SessionID string         `json:"session_id"`
	Kind      TransitionKind `json:"kind"`

	// Payload is kind-specific: the title snapshot for went_live, the new
	// title for title_changed, empty for went_offline.
	Payload string `json:"payload,omitempty"`

	OccurredAt time.Time `json:"occurred_at"`

	// DedupeKey is the stable identity of this logical event. Recomputing
	// the same detection after a crash yields the same key, which is what
	// makes redundant publishes and redeliveries safe to collapse.
	DedupeKey string `json:"dedupe_key"`

	// Source names the feed that produced the event. It routes the publish
	// subject and is not part of the wire schema.
	Source string `json:"-"`
}

// EventDedupeKey builds the deterministic dedupe key for one logical event.
//
// Live/offline events are unique per (room, session, kind): a session goes
// live once and offline once. Title changes repeat within a session, so their
// key carries the per-session revision counter instead of a timestamp; a
// counter survives clock skew, a timestamp does not.
func EventDedupeKey(roomID, sessionID string, kind TransitionKind, titleRevision uint64) string {
	if kind == KindTitleChanged {
		return fmt.Sprintf("%s:%s:%s:r%d", roomID, sessionID, kind, titleRevision)
	}
	return fmt.Sprintf("%s:%s:%s", roomID, sessionID, kind)
}
