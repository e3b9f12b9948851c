// Stargazer - Live Room Watcher and Social Notification Relay
// Copyright 2026 SuiseiCN Developers
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/suisei-cn/stargazer

// Package metrics instruments the watcher and delivery pipeline with
// Prometheus metrics, served on the ops API's /metrics endpoint.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Watcher metrics

	RoomsWatched = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "stargazer_rooms_watched",
			Help: "Number of rooms with a running actor",
		},
	)

	RoomsFailed = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "stargazer_rooms_failed",
			Help: "Number of rooms in the terminal failed state",
		},
	)

	RoomLive = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "stargazer_room_live",
			Help: "Whether a room is currently live (1) or offline (0)",
		},
		[]string{"room_id"},
	)

	TransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stargazer_transitions_total",
			Help: "Total detected state transitions",
		},
		[]string{"kind"}, // went_live, went_offline, title_changed
	)

	FeedReconnectsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stargazer_feed_reconnects_total",
			Help: "Total feed reconnect attempts",
		},
		[]string{"source"},
	)

	FeedMalformedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stargazer_feed_malformed_total",
			Help: "Total malformed feed payloads ignored",
		},
		[]string{"source"},
	)

	ActorRestartsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "stargazer_actor_restarts_total",
			Help: "Total room actor restarts after crashes",
		},
	)

	RestartLimitExceededTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "stargazer_restart_limit_exceeded_total",
			Help: "Total rooms escalated after exhausting the restart window",
		},
	)

	// Store metrics

	CASConflictsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "stargazer_state_cas_conflicts_total",
			Help: "Total compare-and-set conflicts on room state writes",
		},
	)

	// Pipeline metrics

	PublishTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "stargazer_publish_total",
			Help: "Total events published to the broker",
		},
	)

	PublishSkippedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "stargazer_publish_skipped_total",
			Help: "Total publishes skipped because the ledger already shows published",
		},
	)

	PublishRetriesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "stargazer_publish_retries_total",
			Help: "Total publish retries after broker failures",
		},
	)

	ConsumeTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "stargazer_consume_total",
			Help: "Total broker deliveries received by the consumer",
		},
	)

	ConsumeDedupedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "stargazer_consume_deduped_total",
			Help: "Total redeliveries acknowledged without posting (ledger already final)",
		},
	)

	PostsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "stargazer_posts_total",
			Help: "Total successful poster calls",
		},
	)

	PostFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stargazer_post_failures_total",
			Help: "Total failed poster calls",
		},
		[]string{"category"}, // transient, permanent
	)

	PostDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "stargazer_post_duration_seconds",
			Help:    "Poster call duration in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
	)

	DeadLettersTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "stargazer_dead_letters_total",
			Help: "Total events moved to the dead letter state",
		},
	)

	DeadLettersPending = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "stargazer_dead_letters_pending",
			Help: "Dead-lettered records currently retained for inspection",
		},
	)

	// Ops surface metrics

	APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stargazer_api_requests_total",
			Help: "Total ops API requests",
		},
		[]string{"method", "endpoint", "status_code"},
	)

	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "stargazer_api_request_duration_seconds",
			Help:    "Ops API request duration in seconds",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		},
		[]string{"method", "endpoint"},
	)

	TapClients = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "stargazer_tap_clients",
			Help: "Connected event tap websocket clients",
		},
	)
)

// RecordTransition counts one detected transition and keeps the per-room
// live gauge current.
func RecordTransition(kind string, roomID string, live bool) {
	TransitionsTotal.WithLabelValues(kind).Inc()
	if live {
		RoomLive.WithLabelValues(roomID).Set(1)
	} else {
		RoomLive.WithLabelValues(roomID).Set(0)
	}
}

// RecordFeedReconnect counts one reconnect attempt for a source.
func RecordFeedReconnect(source string) {
	FeedReconnectsTotal.WithLabelValues(source).Inc()
}

// RecordFeedMalformed counts one ignored malformed payload.
func RecordFeedMalformed(source string) {
	FeedMalformedTotal.WithLabelValues(source).Inc()
}

// RecordPost records the outcome and duration of one poster call. Category
// is empty on success, "transient" or "permanent" on failure.
func RecordPost(duration time.Duration, category string) {
	PostDuration.Observe(duration.Seconds())
	if category == "" {
		PostsTotal.Inc()
		return
	}
	PostFailuresTotal.WithLabelValues(category).Inc()
}

// RecordAPIRequest records one ops API request.
func RecordAPIRequest(method, endpoint, statusCode string, duration time.Duration) {
	APIRequestsTotal.WithLabelValues(method, endpoint, statusCode).Inc()
	APIRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}

// DropRoom removes the per-room gauge series when a room leaves the watched
// set, so stale rooms do not linger in scrapes.
func DropRoom(roomID string) {
	RoomLive.DeleteLabelValues(roomID)
}
