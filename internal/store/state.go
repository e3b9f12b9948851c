// Stargazer - Live Room Watcher and Social Notification Relay
// Copyright 2026 SuiseiCN Developers
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/suisei-cn/stargazer

package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"
	json "github.com/goccy/go-json"

	"github.com/suisei-cn/stargazer/internal/metrics"
	"github.com/suisei-cn/stargazer/internal/models"
)

// StateStore is the authoritative record of per-room state. Watchers read it
// on (re)connect and advance it with CompareAndSet before any transition
// event is considered detected.
type StateStore struct {
	s *Store
}

// NewStateStore returns a StateStore backed by s.
func NewStateStore(s *Store) *StateStore {
	return &StateStore{s: s}
}

func roomKey(roomID string) []byte {
	return []byte(prefixRoom + roomID)
}

// Get returns the stored room state, or ErrNotFound for a room that has
// never been written.
func (ss *StateStore) Get(ctx context.Context, roomID string) (models.Room, error) {
	var room models.Room
	err := ss.s.view(func(txn *badger.Txn) error {
		item, err := txn.Get(roomKey(roomID))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("get room %s: %w", roomID, err)
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &room)
		})
	})
	if err != nil {
		return models.Room{}, err
	}
	return room.Normalized(), nil
}

// CompareAndSet writes next only if the stored record still matches
// expected. The comparison covers status and current session, the fields a
// concurrent writer could race on. A room that was never written matches an
// expected zero value, so first writes need no prior Put.
//
// On mismatch the write is not applied and a *ConflictError is returned; the
// caller must reload and recompute.
func (ss *StateStore) CompareAndSet(ctx context.Context, expected, next models.Room) error {
	if next.RoomID == "" {
		return fmt.Errorf("compare-and-set: room id must not be empty")
	}
	expected = expected.Normalized()
	next = next.Normalized()

	err := ss.s.update(func(txn *badger.Txn) error {
		var current models.Room
		item, err := txn.Get(roomKey(next.RoomID))
		switch {
		case errors.Is(err, badger.ErrKeyNotFound):
			current = models.Room{RoomID: next.RoomID}
		case err != nil:
			return fmt.Errorf("get room %s: %w", next.RoomID, err)
		default:
			if err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &current)
			}); err != nil {
				return fmt.Errorf("decode room %s: %w", next.RoomID, err)
			}
		}
		current = current.Normalized()

		if current.Status != expected.Status || current.CurrentSessionID != expected.CurrentSessionID {
			return &ConflictError{Key: next.RoomID}
		}

		val, err := json.Marshal(next)
		if err != nil {
			return fmt.Errorf("encode room %s: %w", next.RoomID, err)
		}
		return txn.Set(roomKey(next.RoomID), val)
	})
	if err != nil {
		if IsConflict(err) {
			metrics.CASConflictsTotal.Inc()
		}
		return err
	}
	return nil
}

// Put writes the record unconditionally. Used for seeding and operator
// repair; watchers go through CompareAndSet.
func (ss *StateStore) Put(ctx context.Context, room models.Room) error {
	if room.RoomID == "" {
		return fmt.Errorf("put room: room id must not be empty")
	}
	room = room.Normalized()
	return ss.s.update(func(txn *badger.Txn) error {
		val, err := json.Marshal(room)
		if err != nil {
			return fmt.Errorf("encode room %s: %w", room.RoomID, err)
		}
		return txn.Set(roomKey(room.RoomID), val)
	})
}

// List returns every stored room record.
func (ss *StateStore) List(ctx context.Context) ([]models.Room, error) {
	var rooms []models.Room
	err := ss.s.view(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(prefixRoom)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.ValidForPrefix([]byte(prefixRoom)); it.Next() {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}
			var room models.Room
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &room)
			}); err != nil {
				return fmt.Errorf("decode room %s: %w", it.Item().Key(), err)
			}
			rooms = append(rooms, room.Normalized())
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return rooms, nil
}
