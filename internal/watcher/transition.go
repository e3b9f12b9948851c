// Stargazer - Live Room Watcher and Social Notification Relay
// Copyright 2026 SuiseiCN Developers
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/suisei-cn/stargazer

package watcher

import (
	"fmt"
	"time"

	"github.com/suisei-cn/stargazer/internal/feed"
	"github.com/suisei-cn/stargazer/internal/models"
)

// Diff compares a feed snapshot against the persisted room record and
// returns the advanced record plus the transition events the observation
// implies, in emission order.
//
// The function is pure: callers persist the returned record (compare-and-set
// against prev) before handing any event onward, and recomputing the same
// diff after a crash yields identical events with identical dedupe keys.
//
// A platform that silently rolled sessions while we were away shows up as
// live(B) against a persisted live(A); that yields went_offline for A
// followed by went_live for B, so the emitted status sequence never holds
// two lives without an offline between them. An unchanged session yields
// nothing at all.
func Diff(prev models.Room, snap feed.Snapshot) (models.Room, []models.TransitionEvent, error) {
	prev = prev.Normalized()
	if snap.Status == models.StatusLive && snap.SessionID == "" {
		return prev, nil, fmt.Errorf("%w: live snapshot without session id", feed.ErrMalformed)
	}

	occurred := snap.At
	if occurred.IsZero() {
		occurred = time.Now().UTC()
	}

	next := prev
	var events []models.TransitionEvent

	switch {
	case snap.Status == models.StatusLive && !prev.Live():
		next = goLive(next, snap, occurred)
		events = append(events, liveEvent(next, snap, occurred))

	case snap.Status == models.StatusLive && prev.CurrentSessionID != snap.SessionID:
		// Session rolled while detached: close the old one first.
		events = append(events, offlineEvent(prev, occurred))
		next = goLive(next, snap, occurred)
		events = append(events, liveEvent(next, snap, occurred))

	case snap.Status == models.StatusLive:
		// Same session. Only the title can move.
		if snap.Title != "" && snap.Title != prev.LastTitle {
			next.TitleRevision++
			next.LastTitle = snap.Title
			next.LastTransitionAt = occurred
			events = append(events, models.TransitionEvent{
				RoomID:     prev.RoomID,
				SessionID:  prev.CurrentSessionID,
				Kind:       models.KindTitleChanged,
				Payload:    snap.Title,
				OccurredAt: occurred,
				DedupeKey:  models.EventDedupeKey(prev.RoomID, prev.CurrentSessionID, models.KindTitleChanged, next.TitleRevision),
			})
		}

	case prev.Live():
		next.Status = models.StatusOffline
		next.CurrentSessionID = ""
		next.LastTransitionAt = occurred
		if snap.Title != "" {
			next.LastTitle = snap.Title
		}
		events = append(events, offlineEvent(prev, occurred))

	default:
		// Offline observed, offline (or never seen) persisted: nothing to
		// announce, but the record still absorbs what the feed knows.
		next.Status = models.StatusOffline
		if snap.Title != "" {
			next.LastTitle = snap.Title
		}
	}

	return next, events, nil
}

func goLive(room models.Room, snap feed.Snapshot, occurred time.Time) models.Room {
	room.Status = models.StatusLive
	room.CurrentSessionID = snap.SessionID
	room.LastTitle = snap.Title
	room.TitleRevision = 0
	room.LastTransitionAt = occurred
	return room
}

func liveEvent(room models.Room, snap feed.Snapshot, occurred time.Time) models.TransitionEvent {
	return models.TransitionEvent{
		RoomID:     room.RoomID,
		SessionID:  snap.SessionID,
		Kind:       models.KindWentLive,
		Payload:    snap.Title,
		OccurredAt: occurred,
		DedupeKey:  models.EventDedupeKey(room.RoomID, snap.SessionID, models.KindWentLive, 0),
	}
}

func offlineEvent(prev models.Room, occurred time.Time) models.TransitionEvent {
	return models.TransitionEvent{
		RoomID:     prev.RoomID,
		SessionID:  prev.CurrentSessionID,
		Kind:       models.KindWentOffline,
		OccurredAt: occurred,
		DedupeKey:  models.EventDedupeKey(prev.RoomID, prev.CurrentSessionID, models.KindWentOffline, 0),
	}
}

// sameRoomState reports whether the observable room state is unchanged, in
// which case the snapshot needs no store write.
func sameRoomState(a, b models.Room) bool {
	return a.Status == b.Status &&
		a.CurrentSessionID == b.CurrentSessionID &&
		a.LastTitle == b.LastTitle &&
		a.TitleRevision == b.TitleRevision
}
