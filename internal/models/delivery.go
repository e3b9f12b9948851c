// Stargazer - Live Room Watcher and Social Notification Relay
// Copyright 2026 SuiseiCN Developers
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/suisei-cn/stargazer

package models

import (
	"time"
)

// PublishState tracks whether an event has reached the broker.
type PublishState string

const (
	PublishPending PublishState = "pending"
	Published      PublishState = "published"
)

// PostState tracks the fate of the downstream social post.
type PostState string

const (
	PostPending  PostState = "pending"
	Posted       PostState = "posted"
	DeadLettered PostState = "dead_lettered"
)

// DeliveryRecord follows one dedupe key through the pipeline. The publisher
// owns PublishState, the consumer owns PostState and the attempt counters;
// the two writers never touch each other's fields.
//
// The originating event is retained in the record so pending publishes can be
// replayed after a crash and dead-lettered events stay inspectable. Records
// are small and bounded by the delivery lifecycle, not a long-term archive.
type DeliveryRecord struct {
	DedupeKey string `json:"dedupe_key"`

	PublishState PublishState `json:"publish_state"`
	PostState    PostState    `json:"post_state"`

	// Attempts counts poster calls made for this key. The consumer dead
	// letters the record once it reaches the configured maximum.
	Attempts      int       `json:"attempts"`
	LastAttemptAt time.Time `json:"last_attempt_at,omitempty"`

	// Subject is the broker subject the event was (or will be) published
	// on, captured once so crash recovery republishes to the same place.
	Subject string `json:"subject"`

	Event TransitionEvent `json:"event"`

	CreatedAt time.Time `json:"created_at"`

	// LastError is the final poster error text for dead-lettered records,
	// kept for operator inspection.
	LastError string `json:"last_error,omitempty"`
}

// PostFinal reports whether the post side reached a terminal state, meaning a
// redelivery must be acknowledged without another poster call.
func (d DeliveryRecord) PostFinal() bool {
	return d.PostState == Posted || d.PostState == DeadLettered
}
