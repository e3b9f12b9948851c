// Stargazer - Live Room Watcher and Social Notification Relay
// Copyright 2026 SuiseiCN Developers
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/suisei-cn/stargazer

package relay

import (
	"hash/fnv"
	"sync"
)

// keyMutex serializes work per string key using a fixed set of striped locks.
// Concurrent consumer workers take the stripe of an event's dedupe key before
// touching the ledger, so two redeliveries of the same event can never race
// each other into a double post. Distinct keys may share a stripe; that costs
// a little parallelism, never correctness.
type keyMutex struct {
	stripes []sync.Mutex
}

func newKeyMutex(stripes int) *keyMutex {
	if stripes <= 0 {
		stripes = 64
	}
	return &keyMutex{stripes: make([]sync.Mutex, stripes)}
}

// Lock locks the stripe for key and returns the matching unlock.
func (m *keyMutex) Lock(key string) func() {
	h := fnv.New32a()
	h.Write([]byte(key))
	stripe := &m.stripes[h.Sum32()%uint32(len(m.stripes))]
	stripe.Lock()
	return stripe.Unlock
}
