// Stargazer - Live Room Watcher and Social Notification Relay
// Copyright 2026 SuiseiCN Developers
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/suisei-cn/stargazer

package relay

import "errors"

// ErrMalformedEvent is returned when a wire payload cannot be decoded into a
// valid transition event. Malformed deliveries are not retried.
var ErrMalformedEvent = errors.New("relay: malformed transition event")

// ErrNilPublisher is returned when wiring an event publisher without a broker
// publisher behind it.
var ErrNilPublisher = errors.New("relay: publisher cannot be nil")

// ErrStreamNotFound is returned when the configured JetStream stream does not
// exist and auto-provisioning is off.
var ErrStreamNotFound = errors.New("relay: stream not found")
