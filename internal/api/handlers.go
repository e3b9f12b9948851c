// Stargazer - Live Room Watcher and Social Notification Relay
// Copyright 2026 SuiseiCN Developers
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/suisei-cn/stargazer

package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/suisei-cn/stargazer/internal/config"
	"github.com/suisei-cn/stargazer/internal/logging"
	"github.com/suisei-cn/stargazer/internal/models"
	"github.com/suisei-cn/stargazer/internal/store"
	"github.com/suisei-cn/stargazer/internal/tap"
	"github.com/suisei-cn/stargazer/internal/watcher"
)

// RoomManager is the watcher surface the room endpoints drive.
type RoomManager interface {
	AddRoom(rc config.RoomConfig) error
	RemoveRoom(roomID string) error
	Statuses() []watcher.RoomStatus
}

// Republisher pushes a requeued delivery back onto the event stream.
type Republisher interface {
	Republish(ctx context.Context, rec models.DeliveryRecord) error
}

// BrokerChecker reports whether the event stream is reachable and intact.
type BrokerChecker interface {
	Check(ctx context.Context) error
}

// Handler carries the dependencies of all ops API endpoints.
type Handler struct {
	cfg           config.ServerConfig
	defaultSource string

	states    *store.StateStore
	ledger    *store.DeliveryLedger
	rooms     RoomManager
	publisher Republisher

	// broker and hub may be nil: readiness then reports the broker as down
	// and the event tap responds 503.
	broker BrokerChecker
	hub    *tap.Hub

	startTime time.Time
}

// NewHandler builds the endpoint handler set.
func NewHandler(
	cfg config.ServerConfig,
	defaultSource string,
	states *store.StateStore,
	ledger *store.DeliveryLedger,
	rooms RoomManager,
	publisher Republisher,
	broker BrokerChecker,
	hub *tap.Hub,
) (*Handler, error) {
	if states == nil {
		return nil, fmt.Errorf("api: state store is required")
	}
	if ledger == nil {
		return nil, fmt.Errorf("api: delivery ledger is required")
	}
	if rooms == nil {
		return nil, fmt.Errorf("api: room manager is required")
	}
	if publisher == nil {
		return nil, fmt.Errorf("api: publisher is required")
	}
	return &Handler{
		cfg:           cfg,
		defaultSource: defaultSource,
		states:        states,
		ledger:        ledger,
		rooms:         rooms,
		publisher:     publisher,
		broker:        broker,
		hub:           hub,
		startTime:     time.Now(),
	}, nil
}

// Healthz is the liveness probe: 200 whenever the process can answer,
// regardless of dependency health.
func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	respondSuccess(w, http.StatusOK, map[string]interface{}{
		"alive":          true,
		"uptime_seconds": time.Since(h.startTime).Seconds(),
	})
}

// Readyz is the readiness probe: 200 only when the broker stream exists and
// the store answers reads. Not-ready responses carry 503 so orchestrators
// hold traffic.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	brokerReady := h.broker != nil && h.broker.Check(ctx) == nil

	_, storeErr := h.states.List(ctx)
	storeReady := storeErr == nil

	ready := brokerReady && storeReady
	status := http.StatusOK
	if !ready {
		status = http.StatusServiceUnavailable
	}

	respondJSON(w, status, &models.APIResponse{
		Status: readyStatus(ready),
		Data: map[string]interface{}{
			"broker_connected": brokerReady,
			"store_ready":      storeReady,
			"ready_to_serve":   ready,
			"uptime_seconds":   time.Since(h.startTime).Seconds(),
		},
		Metadata: models.Metadata{Timestamp: time.Now().UTC()},
	})
}

func readyStatus(ready bool) string {
	if ready {
		return "ready"
	}
	return "not_ready"
}

// RoomView merges the supervisor's actor view of a room with its persisted
// broadcast state.
type RoomView struct {
	watcher.RoomStatus
	Live  bool   `json:"live"`
	Title string `json:"title,omitempty"`
}

// RoomsResponse is the payload of GET /api/v1/rooms.
type RoomsResponse struct {
	Rooms []RoomView `json:"rooms"`
	Count int        `json:"count"`
}

// ListRooms handles GET /api/v1/rooms.
func (h *Handler) ListRooms(w http.ResponseWriter, r *http.Request) {
	statuses := h.rooms.Statuses()

	views := make([]RoomView, 0, len(statuses))
	for _, st := range statuses {
		view := RoomView{RoomStatus: st}
		room, err := h.states.Get(r.Context(), st.RoomID)
		switch {
		case err == nil:
			view.Live = room.Live()
			view.Title = room.LastTitle
		case errors.Is(err, store.ErrNotFound):
			// No snapshot yet, the room joined moments ago.
		default:
			respondError(w, http.StatusInternalServerError, "STORE_ERROR", "failed to read room state", err)
			return
		}
		views = append(views, view)
	}

	respondSuccess(w, http.StatusOK, RoomsResponse{Rooms: views, Count: len(views)})
}

// AddRoom handles POST /api/v1/rooms. The room starts being watched
// immediately; it is not persisted into the config file.
func (h *Handler) AddRoom(w http.ResponseWriter, r *http.Request) {
	var req AddRoomRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}
	if verr := validateRequest(&req); verr != nil {
		respondValidationError(w, verr)
		return
	}

	rc := config.RoomConfig{
		ID:     req.RoomID,
		Name:   req.DisplayName,
		Source: req.Source,
	}
	if rc.Source == "" {
		rc.Source = h.defaultSource
	}

	if err := h.rooms.AddRoom(rc); err != nil {
		if errors.Is(err, watcher.ErrRoomExists) {
			respondError(w, http.StatusConflict, "CONFLICT", "room is already watched", nil)
			return
		}
		// Remaining failures are caller mistakes, an unknown source above
		// all.
		respondError(w, http.StatusBadRequest, "VALIDATION_ERROR", err.Error(), nil)
		return
	}

	logging.Ctx(r.Context()).Info().
		Str("room_id", rc.ID).
		Str("source", rc.Source).
		Msg("room added via ops API")
	respondSuccess(w, http.StatusCreated, map[string]interface{}{
		"room_id": rc.ID,
		"source":  rc.Source,
	})
}

// RemoveRoom handles DELETE /api/v1/rooms/{roomID}. The actor is stopped
// synchronously before the response returns.
func (h *Handler) RemoveRoom(w http.ResponseWriter, r *http.Request) {
	roomID := chi.URLParam(r, "roomID")
	if roomID == "" {
		respondError(w, http.StatusBadRequest, "VALIDATION_ERROR", "room id is required", nil)
		return
	}

	if err := h.rooms.RemoveRoom(roomID); err != nil {
		if errors.Is(err, watcher.ErrRoomNotWatched) {
			respondError(w, http.StatusNotFound, "NOT_FOUND", "room is not watched", nil)
			return
		}
		respondError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "failed to remove room", err)
		return
	}

	logging.Ctx(r.Context()).Info().Str("room_id", roomID).Msg("room removed via ops API")
	w.WriteHeader(http.StatusNoContent)
}

// DeadLettersResponse is the payload of GET /api/v1/deliveries/dead.
type DeadLettersResponse struct {
	Deliveries []models.DeliveryRecord `json:"deliveries"`
	Count      int                     `json:"count"`
}

// ListDeadLetters handles GET /api/v1/deliveries/dead.
func (h *Handler) ListDeadLetters(w http.ResponseWriter, r *http.Request) {
	records, err := h.ledger.ListDeadLettered(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, "STORE_ERROR", "failed to list dead letters", err)
		return
	}

	respondSuccess(w, http.StatusOK, DeadLettersResponse{Deliveries: records, Count: len(records)})
}

// RetryDeadLetter handles POST /api/v1/deliveries/dead/{dedupeKey}/retry.
// The record returns to pending with a fresh attempt budget and is
// republished under a fresh message id, so the broker's duplicate window
// does not swallow the retry.
func (h *Handler) RetryDeadLetter(w http.ResponseWriter, r *http.Request) {
	dedupeKey := chi.URLParam(r, "dedupeKey")
	if dedupeKey == "" {
		respondError(w, http.StatusBadRequest, "VALIDATION_ERROR", "dedupe key is required", nil)
		return
	}

	rec, err := h.ledger.Requeue(r.Context(), dedupeKey)
	switch {
	case errors.Is(err, store.ErrNotFound):
		respondError(w, http.StatusNotFound, "NOT_FOUND", "no delivery record for dedupe key", nil)
		return
	case errors.Is(err, store.ErrNotDeadLettered):
		respondError(w, http.StatusConflict, "CONFLICT", "delivery is not dead-lettered", nil)
		return
	case err != nil:
		respondError(w, http.StatusInternalServerError, "STORE_ERROR", "failed to requeue delivery", err)
		return
	}

	// A failed inline publish is not an operator error: the record is back
	// in the pending state and the sweep owns it from here.
	if err := h.publisher.Republish(r.Context(), rec); err != nil {
		logging.Ctx(r.Context()).Warn().
			Err(err).
			Str("dedupe_key", dedupeKey).
			Msg("inline republish failed, sweep will retry")
	}

	logging.Ctx(r.Context()).Info().Str("dedupe_key", dedupeKey).Msg("dead letter requeued via ops API")
	respondSuccess(w, http.StatusOK, map[string]interface{}{
		"dedupe_key": dedupeKey,
		"requeued":   true,
	})
}

// EventsWS handles GET /api/v1/events/ws: it upgrades the connection and
// attaches it to the event tap hub.
func (h *Handler) EventsWS(w http.ResponseWriter, r *http.Request) {
	if h.hub == nil {
		respondError(w, http.StatusServiceUnavailable, "SERVICE_UNAVAILABLE", "event tap is not running", nil)
		return
	}

	upgrader := h.upgrader()
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error.
		logging.Ctx(r.Context()).Warn().Err(err).Msg("event tap upgrade failed")
		return
	}

	client := tap.NewClient(h.hub, conn)
	h.hub.Register <- client
	client.Start()
}

func (h *Handler) upgrader() websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:   1024,
		WriteBufferSize:  1024,
		HandshakeTimeout: 10 * time.Second,
		CheckOrigin:      h.checkTapOrigin,
	}
}

// checkTapOrigin admits non-browser clients, which send no Origin header,
// and holds browsers to the configured CORS origins.
func (h *Handler) checkTapOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range h.cfg.CORSOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	logging.Ctx(r.Context()).Warn().
		Str("origin", origin).
		Msg("event tap connection rejected: origin not allowed")
	return false
}
