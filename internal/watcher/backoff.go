// Stargazer - Live Room Watcher and Social Notification Relay
// Copyright 2026 SuiseiCN Developers
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/suisei-cn/stargazer

package watcher

import (
	"context"
	"math"
	"math/rand"
	"sync"
	"time"
)

// Backoff computes reconnect delays: exponential growth from base to cap,
// plus a random jitter of up to the current delay so a fleet of watchers
// does not stampede the platform after an outage.
type Backoff struct {
	base time.Duration
	max  time.Duration

	mu      sync.Mutex
	rng     *rand.Rand
	attempt int
}

// NewBackoff returns a backoff over [base, max]. A non-zero seed makes the
// jitter deterministic for tests.
func NewBackoff(base, max time.Duration, seed int64) *Backoff {
	if base <= 0 {
		base = time.Second
	}
	if max < base {
		max = base
	}
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &Backoff{
		base: base,
		max:  max,
		//nolint:gosec // G404: weak random is fine for non-cryptographic jitter
		rng: rand.New(rand.NewSource(seed)),
	}
}

// Next returns the next delay and advances the attempt counter. The result
// lies in [d, 2d] where d is the capped exponential delay for this attempt.
func (b *Backoff) Next() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()

	d := float64(b.base) * math.Pow(2, float64(b.attempt))
	if d > float64(b.max) {
		d = float64(b.max)
	}
	if b.attempt < 32 {
		b.attempt++
	}
	jitter := b.rng.Float64() * d
	return time.Duration(d + jitter)
}

// Reset returns the backoff to its base delay after a successful connection.
func (b *Backoff) Reset() {
	b.mu.Lock()
	b.attempt = 0
	b.mu.Unlock()
}

// Sleep waits for the next delay or until ctx is canceled.
func (b *Backoff) Sleep(ctx context.Context) error {
	timer := time.NewTimer(b.Next())
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
