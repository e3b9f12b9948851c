// Stargazer - Live Room Watcher and Social Notification Relay
// Copyright 2026 SuiseiCN Developers
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/suisei-cn/stargazer

package watcher

import (
	"context"
	"errors"
	"fmt"

	"github.com/thejerf/suture/v4"

	"github.com/suisei-cn/stargazer/internal/feed"
	"github.com/suisei-cn/stargazer/internal/logging"
	"github.com/suisei-cn/stargazer/internal/metrics"
	"github.com/suisei-cn/stargazer/internal/models"
	"github.com/suisei-cn/stargazer/internal/store"
)

// EventSink receives detected transitions in per-room order. The relay's
// publisher implements it; tests substitute a recorder.
type EventSink interface {
	PublishTransition(ctx context.Context, ev models.TransitionEvent) error
}

// actorHost is the supervisor surface an actor reports its death to.
type actorHost interface {
	// noteExit records one abnormal actor exit and reports whether the
	// room's restart budget is spent.
	noteExit(roomID string, cause error) (giveUp bool)

	// markFailed retires the room permanently.
	markFailed(roomID string, cause error)
}

// RoomActor owns one room: it holds the feed subscription, diffs snapshots
// against the persisted record, advances the record with compare-and-set and
// only then hands events to the sink.
//
// Feed loss is routine and handled in-actor with jittered backoff; the actor
// only exits for terminal feed errors, store or sink failure, or shutdown.
type RoomActor struct {
	roomID     string
	name       string
	sourceName string

	source  feed.Source
	states  *store.StateStore
	sink    EventSink
	backoff *Backoff
	host    actorHost
}

func newRoomActor(roomID, name string, source feed.Source, states *store.StateStore, sink EventSink, backoff *Backoff, host actorHost) *RoomActor {
	return &RoomActor{
		roomID:     roomID,
		name:       name,
		sourceName: source.Name(),
		source:     source,
		states:     states,
		sink:       sink,
		backoff:    backoff,
		host:       host,
	}
}

func (a *RoomActor) String() string {
	return "room-watcher-" + a.roomID
}

// Serve implements suture.Service.
func (a *RoomActor) Serve(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("room watcher panic: %v", r)
		}
		err = a.accountExit(ctx, err)
	}()
	return a.watch(ctx)
}

// accountExit folds the exit into the supervisor's restart budget and maps
// unrecoverable conditions to suture's do-not-restart signal.
func (a *RoomActor) accountExit(ctx context.Context, err error) error {
	if err == nil || ctx.Err() != nil {
		return err
	}
	if feed.Terminal(err) {
		a.host.markFailed(a.roomID, err)
		return suture.ErrDoNotRestart
	}
	metrics.ActorRestartsTotal.Inc()
	if a.host.noteExit(a.roomID, err) {
		return suture.ErrDoNotRestart
	}
	return err
}

func (a *RoomActor) watch(ctx context.Context) error {
	for {
		sub, err := a.source.Subscribe(ctx, a.roomID)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if feed.Terminal(err) {
				return err
			}
			metrics.RecordFeedReconnect(a.sourceName)
			logging.Warn().
				Err(err).
				Str("room_id", a.roomID).
				Str("source", a.sourceName).
				Msg("feed subscribe failed, backing off")
			if err := a.backoff.Sleep(ctx); err != nil {
				return err
			}
			continue
		}

		a.backoff.Reset()
		logging.Debug().
			Str("room_id", a.roomID).
			Str("source", a.sourceName).
			Msg("feed attached")

		if err := a.consume(ctx, sub); err != nil {
			return err
		}

		if err := sub.Err(); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if feed.Terminal(err) {
				return err
			}
			metrics.RecordFeedReconnect(a.sourceName)
			logging.Warn().
				Err(err).
				Str("room_id", a.roomID).
				Str("source", a.sourceName).
				Msg("feed detached, backing off")
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := a.backoff.Sleep(ctx); err != nil {
			return err
		}
	}
}

// consume applies snapshots until the subscription drains (nil return), a
// write or the sink fails, or ctx is canceled. It never trusts the feed to
// notice cancellation on its own.
func (a *RoomActor) consume(ctx context.Context, sub feed.Subscription) error {
	for {
		select {
		case <-ctx.Done():
			sub.Close()
			return ctx.Err()
		case snap, ok := <-sub.Snapshots():
			if !ok {
				return nil
			}
			if err := a.applySnapshot(ctx, snap); err != nil {
				sub.Close()
				return err
			}
		}
	}
}

// applySnapshot advances the persisted record and emits the implied events.
// The record is written before any event leaves the actor; a conflicting
// concurrent write triggers a reload-and-recompute.
func (a *RoomActor) applySnapshot(ctx context.Context, snap feed.Snapshot) error {
	const casAttempts = 3

	for attempt := 0; attempt < casAttempts; attempt++ {
		prev, err := a.states.Get(ctx, a.roomID)
		if errors.Is(err, store.ErrNotFound) {
			prev = models.Room{RoomID: a.roomID}
		} else if err != nil {
			return fmt.Errorf("load room state: %w", err)
		}

		next, events, err := Diff(prev, snap)
		if err != nil {
			metrics.RecordFeedMalformed(a.sourceName)
			logging.Warn().
				Err(err).
				Str("room_id", a.roomID).
				Msg("dropping inconsistent feed snapshot")
			return nil
		}
		next.DisplayName = a.name
		next.Source = a.sourceName

		if len(events) == 0 && sameRoomState(prev, next) {
			return nil
		}

		if err := a.states.CompareAndSet(ctx, prev, next); err != nil {
			if store.IsConflict(err) {
				logging.Debug().
					Str("room_id", a.roomID).
					Int("attempt", attempt+1).
					Msg("room state moved underneath us, recomputing")
				continue
			}
			return fmt.Errorf("advance room state: %w", err)
		}

		for _, ev := range events {
			ev.Source = a.sourceName
			metrics.RecordTransition(string(ev.Kind), a.roomID, ev.Kind != models.KindWentOffline)
			if err := a.sink.PublishTransition(ctx, ev); err != nil {
				return fmt.Errorf("hand transition to publisher: %w", err)
			}
		}
		return nil
	}

	return fmt.Errorf("room %s: compare-and-set conflicted %d times in a row", a.roomID, casAttempts)
}
