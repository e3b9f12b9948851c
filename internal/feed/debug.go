// Stargazer - Live Room Watcher and Social Notification Relay
// Copyright 2026 SuiseiCN Developers
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/suisei-cn/stargazer

package feed

import (
	"context"
	"sync"
	"time"

	"github.com/suisei-cn/stargazer/internal/models"
)

// DebugSource is an in-process feed driven by explicit calls. It backs the
// watcher tests and local runs where no platform is reachable: rooms go live
// when told to and nowhere else.
type DebugSource struct {
	mu     sync.Mutex
	state  map[string]Snapshot
	subs   map[string][]*debugSub
	closed bool
}

func NewDebugSource() *DebugSource {
	return &DebugSource{
		state: make(map[string]Snapshot),
		subs:  make(map[string][]*debugSub),
	}
}

func (d *DebugSource) Name() string { return "debug" }

// Subscribe immediately delivers the room's scripted state, offline when
// nothing was scripted.
func (d *DebugSource) Subscribe(ctx context.Context, roomID string) (Subscription, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil, ErrClosed
	}

	snap, ok := d.state[roomID]
	if !ok {
		snap = Snapshot{Status: models.StatusOffline, At: time.Now().UTC()}
	}

	sub := &debugSub{
		snaps: make(chan Snapshot, 16),
	}
	sub.snaps <- snap
	d.subs[roomID] = append(d.subs[roomID], sub)
	return sub, nil
}

// Emit records snap as the room's current state and pushes it to every
// active subscription.
func (d *DebugSource) Emit(roomID string, snap Snapshot) {
	if snap.At.IsZero() {
		snap.At = time.Now().UTC()
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.state[roomID] = snap
	for _, sub := range d.subs[roomID] {
		sub.push(snap)
	}
}

// SetState scripts the room's state without notifying active subscriptions,
// so the next Subscribe observes it as the initial snapshot.
func (d *DebugSource) SetState(roomID string, snap Snapshot) {
	if snap.At.IsZero() {
		snap.At = time.Now().UTC()
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.state[roomID] = snap
}

// Drop terminates every subscription of the room with err, simulating a feed
// connection loss.
func (d *DebugSource) Drop(roomID string, err error) {
	d.mu.Lock()
	subs := d.subs[roomID]
	delete(d.subs, roomID)
	d.mu.Unlock()
	for _, sub := range subs {
		sub.finish(err)
	}
}

// Close terminates every subscription.
func (d *DebugSource) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	var all []*debugSub
	for _, subs := range d.subs {
		all = append(all, subs...)
	}
	d.subs = make(map[string][]*debugSub)
	d.mu.Unlock()
	for _, sub := range all {
		sub.finish(ErrClosed)
	}
}

// debugSub guards sends and the channel close with one mutex so a late Emit
// can never race the close.
type debugSub struct {
	mu    sync.Mutex
	snaps chan Snapshot
	done  bool
	err   error
}

func (s *debugSub) Snapshots() <-chan Snapshot { return s.snaps }

func (s *debugSub) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *debugSub) Close() error {
	s.finish(nil)
	return nil
}

func (s *debugSub) push(snap Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done {
		return
	}
	select {
	case s.snaps <- snap:
	default:
		// Subscriber stopped draining; drop rather than wedge the source.
	}
}

func (s *debugSub) finish(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done {
		return
	}
	s.done = true
	s.err = err
	close(s.snaps)
}
