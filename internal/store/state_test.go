// Stargazer - Live Room Watcher and Social Notification Relay
// Copyright 2026 SuiseiCN Developers
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/suisei-cn/stargazer

package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/suisei-cn/stargazer/internal/models"
)

func TestStateStore_GetMissing(t *testing.T) {
	s := setupStore(t)
	defer s.Close()

	_, err := NewStateStore(s).Get(context.Background(), "room-1")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("Get missing = %v, want ErrNotFound", err)
	}
}

func TestStateStore_FirstWriteMatchesZeroExpected(t *testing.T) {
	s := setupStore(t)
	defer s.Close()
	ss := NewStateStore(s)
	ctx := context.Background()

	next := testRoom("room-1", models.StatusLive, "sess-a")
	next.LastTransitionAt = time.Now().UTC()

	// A room never written matches an expected zero value.
	if err := ss.CompareAndSet(ctx, models.Room{RoomID: "room-1"}, next); err != nil {
		t.Fatalf("CompareAndSet on fresh room failed: %v", err)
	}

	got, err := ss.Get(ctx, "room-1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Status != models.StatusLive || got.CurrentSessionID != "sess-a" {
		t.Errorf("Got status=%s session=%s, want live/sess-a", got.Status, got.CurrentSessionID)
	}
}

func TestStateStore_CompareAndSetAdvances(t *testing.T) {
	s := setupStore(t)
	defer s.Close()
	ss := NewStateStore(s)
	ctx := context.Background()

	live := testRoom("room-1", models.StatusLive, "sess-a")
	if err := ss.Put(ctx, live); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	offline := testRoom("room-1", models.StatusOffline, "")
	if err := ss.CompareAndSet(ctx, live, offline); err != nil {
		t.Fatalf("CompareAndSet live->offline failed: %v", err)
	}

	got, err := ss.Get(ctx, "room-1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Status != models.StatusOffline {
		t.Errorf("Status = %s, want offline", got.Status)
	}
	if got.CurrentSessionID != "" {
		t.Errorf("CurrentSessionID = %q, want empty", got.CurrentSessionID)
	}
}

// A compare-and-set whose expected view is stale must fail with a conflict
// and leave the stored record untouched.
func TestStateStore_StaleCompareAndSetRejected(t *testing.T) {
	s := setupStore(t)
	defer s.Close()
	ss := NewStateStore(s)
	ctx := context.Background()

	if err := ss.Put(ctx, testRoom("room-1", models.StatusLive, "sess-b")); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	// Stale writer still believes the room is on sess-a.
	stale := testRoom("room-1", models.StatusLive, "sess-a")
	next := testRoom("room-1", models.StatusOffline, "")
	err := ss.CompareAndSet(ctx, stale, next)
	if !IsConflict(err) {
		t.Fatalf("CompareAndSet with stale view = %v, want ConflictError", err)
	}

	got, err := ss.Get(ctx, "room-1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Status != models.StatusLive || got.CurrentSessionID != "sess-b" {
		t.Errorf("Record changed after rejected CAS: status=%s session=%s", got.Status, got.CurrentSessionID)
	}
}

func TestStateStore_StaleStatusRejected(t *testing.T) {
	s := setupStore(t)
	defer s.Close()
	ss := NewStateStore(s)
	ctx := context.Background()

	if err := ss.Put(ctx, testRoom("room-1", models.StatusOffline, "")); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	stale := testRoom("room-1", models.StatusLive, "")
	err := ss.CompareAndSet(ctx, stale, testRoom("room-1", models.StatusOffline, ""))
	if !IsConflict(err) {
		t.Errorf("CompareAndSet with stale status = %v, want ConflictError", err)
	}
}

func TestStateStore_ExpectedPresentButAbsent(t *testing.T) {
	s := setupStore(t)
	defer s.Close()
	ss := NewStateStore(s)

	expected := testRoom("room-1", models.StatusLive, "sess-a")
	err := ss.CompareAndSet(context.Background(), expected, testRoom("room-1", models.StatusOffline, ""))
	if !IsConflict(err) {
		t.Errorf("CompareAndSet expecting state on absent room = %v, want ConflictError", err)
	}
}

func TestStateStore_List(t *testing.T) {
	s := setupStore(t)
	defer s.Close()
	ss := NewStateStore(s)
	ctx := context.Background()

	for _, r := range []models.Room{
		testRoom("room-1", models.StatusLive, "sess-a"),
		testRoom("room-2", models.StatusOffline, ""),
		testRoom("room-3", models.StatusUnknown, ""),
	} {
		if err := ss.Put(ctx, r); err != nil {
			t.Fatalf("Put %s failed: %v", r.RoomID, err)
		}
	}

	rooms, err := ss.List(ctx)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(rooms) != 3 {
		t.Fatalf("List returned %d rooms, want 3", len(rooms))
	}
	seen := make(map[string]models.RoomStatus, len(rooms))
	for _, r := range rooms {
		seen[r.RoomID] = r.Status
	}
	if seen["room-1"] != models.StatusLive {
		t.Errorf("room-1 status = %s, want live", seen["room-1"])
	}
	if seen["room-2"] != models.StatusOffline {
		t.Errorf("room-2 status = %s, want offline", seen["room-2"])
	}
}

// Room keys must not collide with delivery keys in the shared keyspace.
func TestStateStore_PrefixIsolation(t *testing.T) {
	s := setupStore(t)
	defer s.Close()
	ctx := context.Background()

	if err := NewStateStore(s).Put(ctx, testRoom("room-1", models.StatusLive, "sess-a")); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	dl := NewDeliveryLedger(s)
	if _, err := dl.EnsurePending(ctx, models.DeliveryRecord{DedupeKey: "room-1:sess-a:went_live"}); err != nil {
		t.Fatalf("EnsurePending failed: %v", err)
	}

	rooms, err := NewStateStore(s).List(ctx)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(rooms) != 1 {
		t.Errorf("List returned %d rooms, want 1", len(rooms))
	}
	recs, err := dl.ListPendingPublish(ctx)
	if err != nil {
		t.Fatalf("ListPendingPublish failed: %v", err)
	}
	if len(recs) != 1 {
		t.Errorf("ListPendingPublish returned %d records, want 1", len(recs))
	}
}
