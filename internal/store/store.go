// Stargazer - Live Room Watcher and Social Notification Relay
// Copyright 2026 SuiseiCN Developers
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/suisei-cn/stargazer

// Package store persists the two durable tables of the pipeline on BadgerDB:
// authoritative room state (StateStore) and the delivery ledger
// (DeliveryLedger). Both share one database handle; their keyspaces are
// separated by prefix.
//
// Every mutation is a single Badger update transaction, so contention is
// scoped to one key and forced process termination can never leave a record
// half written.
package store

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/suisei-cn/stargazer/internal/logging"
)

// Key prefixes separating the tables inside the shared database.
const (
	prefixRoom     = "room:"
	prefixDelivery = "delivery:"
)

var (
	// ErrNotFound is returned when a key has no committed value.
	ErrNotFound = errors.New("store: not found")

	// ErrClosed is returned after Close.
	ErrClosed = errors.New("store: closed")
)

// ConflictError reports a compare-and-set whose expected view no longer
// matches the stored record. The caller must reload and recompute; retrying
// with the same stale view can never succeed.
type ConflictError struct {
	Key string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("store: compare-and-set conflict on %q", e.Key)
}

// IsConflict reports whether err is a compare-and-set conflict.
func IsConflict(err error) bool {
	var ce *ConflictError
	return errors.As(err, &ce)
}

// Config holds store configuration.
type Config struct {
	// Dir is the BadgerDB directory. Must be durable storage.
	Dir string

	// SyncWrites forces fsync on every write. Kept on: the pipeline's
	// crash-safety argument depends on acknowledged writes being durable.
	SyncWrites bool

	// GCInterval is the period of the value-log garbage collection loop.
	GCInterval time.Duration

	// CloseTimeout bounds Close.
	CloseTimeout time.Duration
}

func (c *Config) withDefaults() Config {
	out := *c
	if out.GCInterval <= 0 {
		out.GCInterval = 10 * time.Minute
	}
	if out.CloseTimeout <= 0 {
		out.CloseTimeout = 30 * time.Second
	}
	return out
}

// Store owns the shared BadgerDB handle.
type Store struct {
	db  *badger.DB
	cfg Config

	mu     sync.RWMutex
	closed bool
}

// Open opens (or creates) the database at cfg.Dir.
func Open(cfg Config) (*Store, error) {
	if cfg.Dir == "" {
		return nil, fmt.Errorf("store: dir must not be empty")
	}
	cfg = cfg.withDefaults()

	opts := badger.DefaultOptions(cfg.Dir)
	opts.SyncWrites = cfg.SyncWrites
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("store: open badger: %w", err)
	}

	logging.Info().
		Str("dir", cfg.Dir).
		Bool("sync_writes", cfg.SyncWrites).
		Msg("store opened")

	return &Store{db: db, cfg: cfg}, nil
}

// update runs fn in a single write transaction, refusing when closed.
func (s *Store) update(fn func(txn *badger.Txn) error) error {
	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return ErrClosed
	}
	s.mu.RUnlock()
	return s.db.Update(fn)
}

// view runs fn in a read-only snapshot transaction.
func (s *Store) view(fn func(txn *badger.Txn) error) error {
	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return ErrClosed
	}
	s.mu.RUnlock()
	return s.db.View(fn)
}

// RunGC runs value-log garbage collection until nothing is left to rewrite.
func (s *Store) RunGC() error {
	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return ErrClosed
	}
	s.mu.RUnlock()

	for {
		err := s.db.RunValueLogGC(0.5)
		if errors.Is(err, badger.ErrNoRewrite) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("store: run gc: %w", err)
		}
	}
}

// Serve runs the periodic garbage collection loop until ctx is canceled,
// making the store a supervised service.
func (s *Store) Serve(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.GCInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := s.RunGC(); err != nil && !errors.Is(err, ErrClosed) {
				logging.Warn().Err(err).Msg("store gc failed")
			}
		}
	}
}

func (s *Store) String() string {
	return "store-gc"
}

// Close shuts the database down, bounded by CloseTimeout.
func (s *Store) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	timeout := s.cfg.CloseTimeout
	s.mu.Unlock()

	done := make(chan error, 1)
	go func() {
		done <- s.db.Close()
	}()

	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("store: close badger: %w", err)
		}
		logging.Info().Msg("store closed")
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("store: close timed out after %v", timeout)
	}
}
