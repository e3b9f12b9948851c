// Stargazer - Live Room Watcher and Social Notification Relay
// Copyright 2026 SuiseiCN Developers
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/suisei-cn/stargazer

// Package feed abstracts the platform feeds that report room broadcast state.
//
// A Source opens one Subscription per room. The subscription delivers an
// initial snapshot of the room's current state followed by incremental
// updates, each as a complete observation. Reconnection is not the feed's
// job: when the underlying connection dies the snapshot channel closes, Err
// reports why, and the owning watcher decides when to subscribe again.
package feed

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/suisei-cn/stargazer/internal/models"
)

var (
	// ErrClosed is returned when subscribing on a closed source.
	ErrClosed = errors.New("feed: source closed")

	// ErrUnauthorized means the platform rejected the subscription. The
	// condition is terminal: retrying with the same credentials cannot
	// succeed, so the watcher reports the room failed instead of
	// reconnecting.
	ErrUnauthorized = errors.New("feed: unauthorized")

	// ErrMalformed wraps feed payloads that cannot be decoded. Subscriptions
	// log and drop such payloads; they never tear the connection down.
	ErrMalformed = errors.New("feed: malformed payload")

	// ErrRoomNotFound means the platform does not know the room. Terminal,
	// like ErrUnauthorized.
	ErrRoomNotFound = errors.New("feed: room not found")
)

// Terminal reports whether err can never be cured by reconnecting.
func Terminal(err error) bool {
	return errors.Is(err, ErrUnauthorized) || errors.Is(err, ErrRoomNotFound)
}

// Snapshot is one complete feed observation of a room. Sources always fill
// every field they know; the watcher diffs snapshots against persisted state,
// so a partial observation would read as a transition that never happened.
type Snapshot struct {
	Status models.RoomStatus

	// SessionID identifies the live session, derived from the platform's
	// broadcast start time so it is stable across reconnects. Empty when
	// offline.
	SessionID string

	Title string

	At time.Time
}

// Subscription is one live feed attachment for one room.
//
// Snapshots is closed when the subscription ends for any reason; Err then
// reports the terminal error, nil after a clean Close.
type Subscription interface {
	Snapshots() <-chan Snapshot
	Err() error
	Close() error
}

// Source produces subscriptions for rooms of one platform.
type Source interface {
	// Name is the stable source identifier used in room config, publish
	// subjects and metrics labels.
	Name() string

	Subscribe(ctx context.Context, roomID string) (Subscription, error)
}

// Registry resolves configured source names to implementations.
type Registry struct {
	sources map[string]Source
}

func NewRegistry(sources ...Source) *Registry {
	m := make(map[string]Source, len(sources))
	for _, s := range sources {
		m[s.Name()] = s
	}
	return &Registry{sources: m}
}

// Get returns the source registered under name.
func (r *Registry) Get(name string) (Source, error) {
	s, ok := r.sources[name]
	if !ok {
		return nil, fmt.Errorf("feed: unknown source %q", name)
	}
	return s, nil
}

// Names returns the registered source names.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.sources))
	for name := range r.sources {
		names = append(names, name)
	}
	return names
}
