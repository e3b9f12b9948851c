// Stargazer - Live Room Watcher and Social Notification Relay
// Copyright 2026 SuiseiCN Developers
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/suisei-cn/stargazer

package relay

import (
	"fmt"

	json "github.com/goccy/go-json"

	"github.com/suisei-cn/stargazer/internal/models"
)

// Serializer converts transition events to and from their wire form, the
// JSON encoding of models.TransitionEvent. Unknown fields are ignored on
// decode so older consumers keep working when the schema grows.
type Serializer struct{}

// NewSerializer creates a new serializer.
func NewSerializer() *Serializer {
	return &Serializer{}
}

// Marshal converts an event to JSON bytes, rejecting events that would be
// undeliverable on the consumer side.
func (s *Serializer) Marshal(ev models.TransitionEvent) ([]byte, error) {
	if err := validateEvent(ev); err != nil {
		return nil, err
	}

	data, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("marshal event %s: %w", ev.DedupeKey, err)
	}

	return data, nil
}

// Unmarshal converts JSON bytes to an event. Undecodable payloads and
// payloads missing a required field fail with ErrMalformedEvent.
func (s *Serializer) Unmarshal(data []byte) (models.TransitionEvent, error) {
	var ev models.TransitionEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return models.TransitionEvent{}, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	if err := validateEvent(ev); err != nil {
		return models.TransitionEvent{}, err
	}

	return ev, nil
}

// validateEvent checks the fields the pipeline keys on. Everything else is
// carried opaquely.
func validateEvent(ev models.TransitionEvent) error {
	switch {
	case ev.RoomID == "":
		return fmt.Errorf("%w: missing room_id", ErrMalformedEvent)
	case !ev.Kind.Valid():
		return fmt.Errorf("%w: unknown kind %q", ErrMalformedEvent, ev.Kind)
	case ev.DedupeKey == "":
		return fmt.Errorf("%w: missing dedupe_key", ErrMalformedEvent)
	}
	return nil
}
