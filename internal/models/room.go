// Stargazer - Live Room Watcher and Social Notification Relay
// Copyright 2026 SuiseiCN Developers
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/suisei-cn/stargazer

package models

import (
	"time"
)

// RoomStatus is the last authoritative broadcast state of a watched room.
type RoomStatus string

const (
	// StatusUnknown means no feed snapshot has been observed yet. This is
	// the zero state of a freshly added room and never reappears once a
	// snapshot has been persisted.
	StatusUnknown RoomStatus = "unknown"

	// StatusOffline means the room is not broadcasting.
	StatusOffline RoomStatus = "offline"

	// StatusLive means the room is broadcasting. A live room always has a
	// non-empty CurrentSessionID.
	StatusLive RoomStatus = "live"
)

// Room is the authoritative per-room record persisted in the state store.
//
// Rooms are single-writer: only the one actor goroutine that currently owns
// the room mutates its record, and every mutation goes through the store's
// compare-and-set so a superseded actor instance can never clobber the state
// written by its replacement.
//
// Invariant: CurrentSessionID is non-empty exactly when Status is StatusLive.
// The status sequence of a room over time never contains two consecutive live
// entries without an intervening offline; the transition logic emits a
// synthetic offline first when the platform silently rolled sessions.
type Room struct {
	RoomID      string `json:"room_id"`
	DisplayName string `json:"display_name,omitempty"`

	// Source names the feed that watches this room ("bililive", "debug").
	// It selects the publish subject for the room's events.
	Source string `json:"source,omitempty"`

	Status RoomStatus `json:"status"`

	// CurrentSessionID identifies the live session. Regenerated on every
	// offline-to-live transition, cleared on live-to-offline.
	CurrentSessionID string `json:"current_session_id,omitempty"`

	LastTitle string `json:"last_title,omitempty"`

	// TitleRevision counts title changes within the current session. It
	// resets to zero when a new session starts and feeds the dedupe key of
	// title-change events, so recomputation after a crash lands on the
	// same key.
	TitleRevision uint64 `json:"title_revision,omitempty"`

	LastTransitionAt time.Time `json:"last_transition_at"`
}

// Live reports whether the room is currently broadcasting.
func (r Room) Live() bool {
	return r.Status == StatusLive
}

// Known reports whether any feed snapshot has ever been persisted.
func (r Room) Known() bool {
	return r.Status != "" && r.Status != StatusUnknown
}

// Normalized returns the room with the zero-value status mapped to
// StatusUnknown so fresh records compare cleanly.
func (r Room) Normalized() Room {
	if r.Status == "" {
		r.Status = StatusUnknown
	}
	return r
}
