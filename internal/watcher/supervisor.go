// Stargazer - Live Room Watcher and Social Notification Relay
// Copyright 2026 SuiseiCN Developers
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/suisei-cn/stargazer

// Package watcher turns platform feeds into persisted, ordered transition
// events. One supervised actor per room owns that room's subscription and
// state; the supervisor keeps the actor set aligned with the desired room
// set and retires rooms that crash faster than their restart budget allows.
package watcher

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/thejerf/suture/v4"

	"github.com/suisei-cn/stargazer/internal/config"
	"github.com/suisei-cn/stargazer/internal/feed"
	"github.com/suisei-cn/stargazer/internal/logging"
	"github.com/suisei-cn/stargazer/internal/metrics"
	"github.com/suisei-cn/stargazer/internal/store"
)

var (
	// ErrRoomExists is returned when adding a room that is already watched.
	ErrRoomExists = errors.New("watcher: room already watched")

	// ErrRoomNotWatched is returned for operations on an unknown room.
	ErrRoomNotWatched = errors.New("watcher: room not watched")
)

// Room lifecycle states surfaced to operators.
const (
	RoomRunning = "running"
	RoomFailed  = "failed"
)

// RoomStatus is the operator view of one watched room.
type RoomStatus struct {
	RoomID    string    `json:"room_id"`
	Name      string    `json:"name,omitempty"`
	Source    string    `json:"source"`
	State     string    `json:"state"`
	Restarts  int       `json:"restarts_in_window"`
	LastError string    `json:"last_error,omitempty"`
	StartedAt time.Time `json:"started_at"`
}

type roomEntry struct {
	cfg       config.RoomConfig
	token     suture.ServiceToken
	state     string
	restarts  []time.Time
	lastError string
	startedAt time.Time
}

// Supervisor runs one RoomActor per watched room under its own suture
// subtree. Rooms can be added and removed at runtime; a room whose actor
// exits abnormally more than the configured limit within the sliding window
// is marked failed and not restarted again.
type Supervisor struct {
	cfg      config.WatcherConfig
	registry *feed.Registry
	states   *store.StateStore
	sink     EventSink

	sup *suture.Supervisor

	mu    sync.Mutex
	rooms map[string]*roomEntry
}

func NewSupervisor(cfg config.WatcherConfig, registry *feed.Registry, states *store.StateStore, sink EventSink) *Supervisor {
	return &Supervisor{
		cfg:      cfg,
		registry: registry,
		states:   states,
		sink:     sink,
		sup: suture.New("room-watchers", suture.Spec{
			Timeout: cfg.StopTimeout,
		}),
		rooms: make(map[string]*roomEntry),
	}
}

func (s *Supervisor) String() string { return "room-supervisor" }

// Serve implements suture.Service so the whole room subtree nests under the
// application tree.
func (s *Supervisor) Serve(ctx context.Context) error {
	return s.sup.Serve(ctx)
}

// AddRoom starts watching a room. Adding a running room fails with
// ErrRoomExists; re-adding a failed room replaces it with a fresh actor and
// a fresh restart budget.
func (s *Supervisor) AddRoom(rc config.RoomConfig) error {
	if rc.ID == "" {
		return fmt.Errorf("watcher: room id must not be empty")
	}
	source, err := s.registry.Get(rc.Source)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.rooms[rc.ID]; ok {
		if existing.state != RoomFailed {
			return ErrRoomExists
		}
		metrics.RoomsFailed.Dec()
	}

	actor := newRoomActor(
		rc.ID, rc.Name, source, s.states, s.sink,
		NewBackoff(s.cfg.ReconnectBase, s.cfg.ReconnectMax, 0),
		s,
	)
	s.rooms[rc.ID] = &roomEntry{
		cfg:       rc,
		token:     s.sup.Add(actor),
		state:     RoomRunning,
		startedAt: time.Now().UTC(),
	}
	metrics.RoomsWatched.Inc()

	logging.Info().
		Str("room_id", rc.ID).
		Str("source", rc.Source).
		Msg("room added to watcher")
	return nil
}

// RemoveRoom stops the room's actor and waits for it to terminate, so no
// superseded actor can still be writing when the caller proceeds.
func (s *Supervisor) RemoveRoom(roomID string) error {
	s.mu.Lock()
	entry, ok := s.rooms[roomID]
	if !ok {
		s.mu.Unlock()
		return ErrRoomNotWatched
	}
	delete(s.rooms, roomID)
	s.mu.Unlock()

	if entry.state == RoomFailed {
		metrics.RoomsFailed.Dec()
	} else {
		metrics.RoomsWatched.Dec()
		// A failed room's service is already gone; a running one is
		// stopped synchronously.
		if err := s.sup.RemoveAndWait(entry.token, s.cfg.StopTimeout); err != nil {
			logging.Warn().
				Err(err).
				Str("room_id", roomID).
				Msg("room actor did not stop cleanly")
		}
	}
	metrics.DropRoom(roomID)

	logging.Info().Str("room_id", roomID).Msg("room removed from watcher")
	return nil
}

// SetRooms reconciles the watched set against desired: missing rooms are
// added, surplus rooms are removed. Failed rooms named in desired restart
// with a fresh budget.
func (s *Supervisor) SetRooms(desired []config.RoomConfig) error {
	want := make(map[string]config.RoomConfig, len(desired))
	for _, rc := range desired {
		want[rc.ID] = rc
	}

	s.mu.Lock()
	var surplus []string
	for id := range s.rooms {
		if _, ok := want[id]; !ok {
			surplus = append(surplus, id)
		}
	}
	s.mu.Unlock()

	var errs []error
	for _, id := range surplus {
		if err := s.RemoveRoom(id); err != nil && !errors.Is(err, ErrRoomNotWatched) {
			errs = append(errs, err)
		}
	}
	for _, rc := range desired {
		if err := s.AddRoom(rc); err != nil && !errors.Is(err, ErrRoomExists) {
			errs = append(errs, fmt.Errorf("room %s: %w", rc.ID, err))
		}
	}
	return errors.Join(errs...)
}

// Status returns the operator view of one room.
func (s *Supervisor) Status(roomID string) (RoomStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.rooms[roomID]
	if !ok {
		return RoomStatus{}, ErrRoomNotWatched
	}
	return s.statusLocked(roomID, entry), nil
}

// Statuses returns the operator view of every room, ordered by id.
func (s *Supervisor) Statuses() []RoomStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]RoomStatus, 0, len(s.rooms))
	for id, entry := range s.rooms {
		out = append(out, s.statusLocked(id, entry))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RoomID < out[j].RoomID })
	return out
}

func (s *Supervisor) statusLocked(roomID string, entry *roomEntry) RoomStatus {
	return RoomStatus{
		RoomID:    roomID,
		Name:      entry.cfg.Name,
		Source:    entry.cfg.Source,
		State:     entry.state,
		Restarts:  s.countWindow(entry.restarts, time.Now()),
		LastError: entry.lastError,
		StartedAt: entry.startedAt,
	}
}

// noteExit implements actorHost. It records one abnormal exit in the room's
// sliding window; exceeding the limit retires the room.
func (s *Supervisor) noteExit(roomID string, cause error) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.rooms[roomID]
	if !ok {
		// Removed while dying; nothing left to restart.
		return true
	}

	now := time.Now()
	entry.restarts = append(s.pruneWindow(entry.restarts, now), now)
	entry.lastError = cause.Error()

	if len(entry.restarts) > s.cfg.RestartLimit {
		metrics.RestartLimitExceededTotal.Inc()
		s.failLocked(roomID, entry, fmt.Errorf(
			"%d restarts within %v, last error: %w",
			len(entry.restarts), s.cfg.RestartWindow, cause,
		))
		return true
	}

	logging.Warn().
		Err(cause).
		Str("room_id", roomID).
		Int("restarts_in_window", len(entry.restarts)).
		Int("restart_limit", s.cfg.RestartLimit).
		Msg("room actor exited, restarting")
	return false
}

// markFailed implements actorHost for terminal feed errors.
func (s *Supervisor) markFailed(roomID string, cause error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if entry, ok := s.rooms[roomID]; ok {
		s.failLocked(roomID, entry, cause)
	}
}

func (s *Supervisor) failLocked(roomID string, entry *roomEntry, cause error) {
	if entry.state == RoomFailed {
		return
	}
	entry.state = RoomFailed
	entry.lastError = cause.Error()
	metrics.RoomsWatched.Dec()
	metrics.RoomsFailed.Inc()

	logging.Error().
		Err(cause).
		Str("room_id", roomID).
		Msg("room watcher failed permanently, operator attention required")
}

func (s *Supervisor) pruneWindow(times []time.Time, now time.Time) []time.Time {
	cutoff := now.Add(-s.cfg.RestartWindow)
	kept := times[:0]
	for _, t := range times {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	return kept
}

func (s *Supervisor) countWindow(times []time.Time, now time.Time) int {
	cutoff := now.Add(-s.cfg.RestartWindow)
	n := 0
	for _, t := range times {
		if t.After(cutoff) {
			n++
		}
	}
	return n
}
