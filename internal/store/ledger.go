// Stargazer - Live Room Watcher and Social Notification Relay
// Copyright 2026 SuiseiCN Developers
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/suisei-cn/stargazer

package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
	json "github.com/goccy/go-json"

	"github.com/suisei-cn/stargazer/internal/metrics"
	"github.com/suisei-cn/stargazer/internal/models"
)

var (
	// ErrDeadLettered is returned when marking a dead-lettered record posted.
	ErrDeadLettered = errors.New("store: delivery record is dead-lettered")

	// ErrNotDeadLettered is returned when requeueing a record that is not
	// dead-lettered.
	ErrNotDeadLettered = errors.New("store: delivery record is not dead-lettered")
)

// DeliveryLedger tracks every detected transition from first publish attempt
// to final posting outcome, keyed by dedupe key. The publisher and the
// consumer write disjoint fields, so their updates never conflict.
type DeliveryLedger struct {
	s *Store
}

// NewDeliveryLedger returns a DeliveryLedger backed by s.
func NewDeliveryLedger(s *Store) *DeliveryLedger {
	return &DeliveryLedger{s: s}
}

func deliveryKey(dedupeKey string) []byte {
	return []byte(prefixDelivery + dedupeKey)
}

func (dl *DeliveryLedger) get(txn *badger.Txn, dedupeKey string) (models.DeliveryRecord, error) {
	var rec models.DeliveryRecord
	item, err := txn.Get(deliveryKey(dedupeKey))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return rec, ErrNotFound
	}
	if err != nil {
		return rec, fmt.Errorf("get delivery %s: %w", dedupeKey, err)
	}
	if err := item.Value(func(val []byte) error {
		return json.Unmarshal(val, &rec)
	}); err != nil {
		return rec, fmt.Errorf("decode delivery %s: %w", dedupeKey, err)
	}
	return rec, nil
}

func (dl *DeliveryLedger) put(txn *badger.Txn, rec models.DeliveryRecord) error {
	val, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode delivery %s: %w", rec.DedupeKey, err)
	}
	return txn.Set(deliveryKey(rec.DedupeKey), val)
}

// Get returns the record for dedupeKey, or ErrNotFound.
func (dl *DeliveryLedger) Get(ctx context.Context, dedupeKey string) (models.DeliveryRecord, error) {
	var rec models.DeliveryRecord
	err := dl.s.view(func(txn *badger.Txn) error {
		var err error
		rec, err = dl.get(txn, dedupeKey)
		return err
	})
	return rec, err
}

// EnsurePending returns the existing record for rec.DedupeKey, creating it in
// the pending state when absent. Callers inspect the returned record to
// decide whether the publish already happened.
func (dl *DeliveryLedger) EnsurePending(ctx context.Context, rec models.DeliveryRecord) (models.DeliveryRecord, error) {
	if rec.DedupeKey == "" {
		return models.DeliveryRecord{}, fmt.Errorf("ensure pending: dedupe key must not be empty")
	}
	var out models.DeliveryRecord
	err := dl.s.update(func(txn *badger.Txn) error {
		existing, err := dl.get(txn, rec.DedupeKey)
		if err == nil {
			out = existing
			return nil
		}
		if !errors.Is(err, ErrNotFound) {
			return err
		}
		rec.PublishState = models.PublishPending
		rec.PostState = models.PostPending
		rec.Attempts = 0
		if rec.CreatedAt.IsZero() {
			rec.CreatedAt = time.Now().UTC()
		}
		out = rec
		return dl.put(txn, rec)
	})
	if err != nil {
		return models.DeliveryRecord{}, err
	}
	return out, nil
}

// MarkPublished records broker acknowledgement. Idempotent.
func (dl *DeliveryLedger) MarkPublished(ctx context.Context, dedupeKey string) error {
	return dl.s.update(func(txn *badger.Txn) error {
		rec, err := dl.get(txn, dedupeKey)
		if err != nil {
			return err
		}
		if rec.PublishState == models.Published {
			return nil
		}
		rec.PublishState = models.Published
		return dl.put(txn, rec)
	})
}

// RecordAttempt increments the posting attempt counter and returns the
// updated record. attemptErr, when non-nil, is kept as the last error.
func (dl *DeliveryLedger) RecordAttempt(ctx context.Context, dedupeKey string, attemptErr error) (models.DeliveryRecord, error) {
	var out models.DeliveryRecord
	err := dl.s.update(func(txn *badger.Txn) error {
		rec, err := dl.get(txn, dedupeKey)
		if err != nil {
			return err
		}
		rec.Attempts++
		rec.LastAttemptAt = time.Now().UTC()
		if attemptErr != nil {
			rec.LastError = attemptErr.Error()
		}
		out = rec
		return dl.put(txn, rec)
	})
	if err != nil {
		return models.DeliveryRecord{}, err
	}
	return out, nil
}

// MarkPosted records a successful post. Marking an already posted record is
// a no-op; marking a dead-lettered record fails with ErrDeadLettered, since
// resurrection goes through Requeue.
func (dl *DeliveryLedger) MarkPosted(ctx context.Context, dedupeKey string) error {
	return dl.s.update(func(txn *badger.Txn) error {
		rec, err := dl.get(txn, dedupeKey)
		if err != nil {
			return err
		}
		switch rec.PostState {
		case models.Posted:
			return nil
		case models.DeadLettered:
			return ErrDeadLettered
		}
		rec.PostState = models.Posted
		rec.LastError = ""
		return dl.put(txn, rec)
	})
}

// MarkDeadLettered retires the record from automatic retrying. Idempotent;
// a record that already posted is left alone.
func (dl *DeliveryLedger) MarkDeadLettered(ctx context.Context, dedupeKey, reason string) error {
	var buried bool
	err := dl.s.update(func(txn *badger.Txn) error {
		rec, err := dl.get(txn, dedupeKey)
		if err != nil {
			return err
		}
		if rec.PostState != models.PostPending {
			return nil
		}
		rec.PostState = models.DeadLettered
		if reason != "" {
			rec.LastError = reason
		}
		buried = true
		return dl.put(txn, rec)
	})
	if err != nil {
		return err
	}
	if buried {
		metrics.DeadLettersTotal.Inc()
		metrics.DeadLettersPending.Inc()
	}
	return nil
}

// Requeue returns a dead-lettered record to the pending state so it can be
// republished. The returned record carries the original event envelope.
func (dl *DeliveryLedger) Requeue(ctx context.Context, dedupeKey string) (models.DeliveryRecord, error) {
	var out models.DeliveryRecord
	err := dl.s.update(func(txn *badger.Txn) error {
		rec, err := dl.get(txn, dedupeKey)
		if err != nil {
			return err
		}
		if rec.PostState != models.DeadLettered {
			return ErrNotDeadLettered
		}
		rec.PublishState = models.PublishPending
		rec.PostState = models.PostPending
		rec.Attempts = 0
		rec.LastError = ""
		out = rec
		return dl.put(txn, rec)
	})
	if err != nil {
		return models.DeliveryRecord{}, err
	}
	metrics.DeadLettersPending.Dec()
	return out, nil
}

// ListPendingPublish returns records whose publish was never acknowledged,
// oldest first by key order. Startup recovery republishes these.
func (dl *DeliveryLedger) ListPendingPublish(ctx context.Context) ([]models.DeliveryRecord, error) {
	return dl.list(ctx, func(rec models.DeliveryRecord) bool {
		return rec.PublishState == models.PublishPending
	})
}

// ListDeadLettered returns every dead-lettered record.
func (dl *DeliveryLedger) ListDeadLettered(ctx context.Context) ([]models.DeliveryRecord, error) {
	return dl.list(ctx, func(rec models.DeliveryRecord) bool {
		return rec.PostState == models.DeadLettered
	})
}

func (dl *DeliveryLedger) list(ctx context.Context, keep func(models.DeliveryRecord) bool) ([]models.DeliveryRecord, error) {
	var recs []models.DeliveryRecord
	err := dl.s.view(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(prefixDelivery)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.ValidForPrefix([]byte(prefixDelivery)); it.Next() {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}
			var rec models.DeliveryRecord
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &rec)
			}); err != nil {
				return fmt.Errorf("decode delivery %s: %w", it.Item().Key(), err)
			}
			if keep(rec) {
				recs = append(recs, rec)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return recs, nil
}
