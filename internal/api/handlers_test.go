// Stargazer - Live Room Watcher and Social Notification Relay
// Copyright 2026 SuiseiCN Developers
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/suisei-cn/stargazer

package api

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	json "github.com/goccy/go-json"
	"github.com/gorilla/websocket"

	"github.com/suisei-cn/stargazer/internal/config"
	"github.com/suisei-cn/stargazer/internal/logging"
	"github.com/suisei-cn/stargazer/internal/models"
	"github.com/suisei-cn/stargazer/internal/store"
	"github.com/suisei-cn/stargazer/internal/tap"
	"github.com/suisei-cn/stargazer/internal/watcher"
)

//nolint:gochecknoinits // keeps handler logs out of test output
func init() {
	logging.Init(logging.Config{Level: "error", Format: "json", Output: io.Discard})
}

type fakeRoomManager struct {
	mu        sync.Mutex
	statuses  []watcher.RoomStatus
	added     []config.RoomConfig
	removed   []string
	addErr    error
	removeErr error
}

func (f *fakeRoomManager) AddRoom(rc config.RoomConfig) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.addErr != nil {
		return f.addErr
	}
	f.added = append(f.added, rc)
	return nil
}

func (f *fakeRoomManager) RemoveRoom(roomID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.removeErr != nil {
		return f.removeErr
	}
	f.removed = append(f.removed, roomID)
	return nil
}

func (f *fakeRoomManager) Statuses() []watcher.RoomStatus {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]watcher.RoomStatus(nil), f.statuses...)
}

type fakeRepublisher struct {
	mu   sync.Mutex
	recs []models.DeliveryRecord
	err  error
}

func (f *fakeRepublisher) Republish(_ context.Context, rec models.DeliveryRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.recs = append(f.recs, rec)
	return f.err
}

func (f *fakeRepublisher) calls() []models.DeliveryRecord {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.DeliveryRecord(nil), f.recs...)
}

type fakeBroker struct {
	err error
}

func (f *fakeBroker) Check(context.Context) error { return f.err }

type opsFixture struct {
	mux    http.Handler
	states *store.StateStore
	ledger *store.DeliveryLedger
	rooms  *fakeRoomManager
	pub    *fakeRepublisher
	broker *fakeBroker
}

func serverTestConfig() config.ServerConfig {
	return config.ServerConfig{
		Enabled:     true,
		Host:        "127.0.0.1",
		CORSOrigins: []string{"*"},
	}
}

func newOpsFixture(t *testing.T, cfg config.ServerConfig, hub *tap.Hub) *opsFixture {
	t.Helper()

	s, err := store.Open(store.Config{
		Dir:        filepath.Join(t.TempDir(), "store"),
		GCInterval: time.Minute,
	})
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() {
		if err := s.Close(); err != nil {
			t.Errorf("close store: %v", err)
		}
	})

	f := &opsFixture{
		states: store.NewStateStore(s),
		ledger: store.NewDeliveryLedger(s),
		rooms:  &fakeRoomManager{},
		pub:    &fakeRepublisher{},
		broker: &fakeBroker{},
	}

	handler, err := NewHandler(cfg, "bililive", f.states, f.ledger, f.rooms, f.pub, f.broker, hub)
	if err != nil {
		t.Fatalf("new handler: %v", err)
	}
	f.mux = NewRouter(cfg, handler).Routes()
	return f
}

// envelope mirrors models.APIResponse with a raw Data for per-test decoding.
type envelope struct {
	Status string           `json:"status"`
	Data   json.RawMessage  `json:"data"`
	Error  *models.APIError `json:"error"`
}

func doRequest(t *testing.T, mux http.Handler, method, target, body string, header http.Header) (*httptest.ResponseRecorder, envelope) {
	t.Helper()

	var reader io.Reader
	if body != "" {
		reader = bytes.NewBufferString(body)
	}
	req := httptest.NewRequest(method, target, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, req)

	// Only JSON responses carry the envelope; /metrics serves Prometheus text.
	var env envelope
	if rr.Body.Len() > 0 && strings.Contains(rr.Header().Get("Content-Type"), "application/json") {
		if err := json.Unmarshal(rr.Body.Bytes(), &env); err != nil {
			t.Fatalf("decode response %q: %v", rr.Body.String(), err)
		}
	}
	return rr, env
}

func decodeData(t *testing.T, env envelope, dst interface{}) {
	t.Helper()
	if err := json.Unmarshal(env.Data, dst); err != nil {
		t.Fatalf("decode data %q: %v", string(env.Data), err)
	}
}

func seedDeadLetter(t *testing.T, ledger *store.DeliveryLedger, dedupeKey, reason string) {
	t.Helper()

	ev := models.TransitionEvent{
		RoomID:     "92613",
		SessionID:  "sess-1",
		Kind:       models.KindWentLive,
		Payload:    "First Night Karaoke",
		OccurredAt: time.Date(2026, 3, 14, 20, 0, 0, 0, time.UTC),
		DedupeKey:  dedupeKey,
	}
	if _, err := ledger.EnsurePending(context.Background(), models.DeliveryRecord{
		DedupeKey: dedupeKey,
		Subject:   "stargazer.events.bililive.92613",
		Event:     ev,
	}); err != nil {
		t.Fatalf("ensure pending: %v", err)
	}
	if err := ledger.MarkDeadLettered(context.Background(), dedupeKey, reason); err != nil {
		t.Fatalf("mark dead lettered: %v", err)
	}
}

func TestHealthz(t *testing.T) {
	f := newOpsFixture(t, serverTestConfig(), nil)

	rr, env := doRequest(t, f.mux, http.MethodGet, "/healthz", "", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}
	if env.Status != "success" {
		t.Errorf("envelope status = %q, want success", env.Status)
	}

	var data struct {
		Alive bool `json:"alive"`
	}
	decodeData(t, env, &data)
	if !data.Alive {
		t.Error("alive = false, want true")
	}
}

func TestReadyz(t *testing.T) {
	t.Run("ready when broker and store answer", func(t *testing.T) {
		f := newOpsFixture(t, serverTestConfig(), nil)

		rr, env := doRequest(t, f.mux, http.MethodGet, "/readyz", "", nil)
		if rr.Code != http.StatusOK {
			t.Fatalf("status = %d, want 200", rr.Code)
		}
		if env.Status != "ready" {
			t.Errorf("envelope status = %q, want ready", env.Status)
		}
	})

	t.Run("not ready when the broker check fails", func(t *testing.T) {
		f := newOpsFixture(t, serverTestConfig(), nil)
		f.broker.err = errors.New("nats: connection refused")

		rr, env := doRequest(t, f.mux, http.MethodGet, "/readyz", "", nil)
		if rr.Code != http.StatusServiceUnavailable {
			t.Fatalf("status = %d, want 503", rr.Code)
		}

		var data struct {
			BrokerConnected bool `json:"broker_connected"`
			StoreReady      bool `json:"store_ready"`
		}
		decodeData(t, env, &data)
		if data.BrokerConnected {
			t.Error("broker_connected = true, want false")
		}
		if !data.StoreReady {
			t.Error("store_ready = false, want true")
		}
	})
}

func TestListRooms(t *testing.T) {
	f := newOpsFixture(t, serverTestConfig(), nil)
	f.rooms.statuses = []watcher.RoomStatus{
		{RoomID: "8230", Source: "bililive", State: watcher.RoomRunning},
		{RoomID: "92613", Name: "Suisei", Source: "bililive", State: watcher.RoomRunning},
	}
	if err := f.states.Put(context.Background(), models.Room{
		RoomID:           "92613",
		Source:           "bililive",
		Status:           models.StatusLive,
		CurrentSessionID: "sess-1",
		LastTitle:        "First Night Karaoke",
	}); err != nil {
		t.Fatalf("seed room state: %v", err)
	}

	rr, env := doRequest(t, f.mux, http.MethodGet, "/api/v1/rooms", "", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}

	var data RoomsResponse
	decodeData(t, env, &data)
	if data.Count != 2 || len(data.Rooms) != 2 {
		t.Fatalf("count = %d rooms = %d, want 2 each", data.Count, len(data.Rooms))
	}

	// Statuses() orders by room id, so 8230 comes first.
	if data.Rooms[0].RoomID != "8230" || data.Rooms[0].Live {
		t.Errorf("room 8230 = %+v, want offline with no state", data.Rooms[0])
	}
	if !data.Rooms[1].Live {
		t.Error("room 92613 should be live")
	}
	if data.Rooms[1].Title != "First Night Karaoke" {
		t.Errorf("room 92613 title = %q, want stream title", data.Rooms[1].Title)
	}
}

func TestAddRoom(t *testing.T) {
	t.Run("defaults the source", func(t *testing.T) {
		f := newOpsFixture(t, serverTestConfig(), nil)

		rr, env := doRequest(t, f.mux, http.MethodPost, "/api/v1/rooms",
			`{"room_id": "92613", "display_name": "Suisei"}`, nil)
		if rr.Code != http.StatusCreated {
			t.Fatalf("status = %d, want 201: %s", rr.Code, rr.Body.String())
		}

		added := f.rooms.added
		if len(added) != 1 {
			t.Fatalf("manager got %d rooms, want 1", len(added))
		}
		want := config.RoomConfig{ID: "92613", Name: "Suisei", Source: "bililive"}
		if added[0] != want {
			t.Errorf("added = %+v, want %+v", added[0], want)
		}

		var data struct {
			Source string `json:"source"`
		}
		decodeData(t, env, &data)
		if data.Source != "bililive" {
			t.Errorf("response source = %q, want bililive", data.Source)
		}
	})

	t.Run("keeps an explicit source", func(t *testing.T) {
		f := newOpsFixture(t, serverTestConfig(), nil)

		rr, _ := doRequest(t, f.mux, http.MethodPost, "/api/v1/rooms",
			`{"room_id": "1", "source": "debug"}`, nil)
		if rr.Code != http.StatusCreated {
			t.Fatalf("status = %d, want 201", rr.Code)
		}
		if f.rooms.added[0].Source != "debug" {
			t.Errorf("source = %q, want debug", f.rooms.added[0].Source)
		}
	})

	t.Run("rejects bad requests", func(t *testing.T) {
		tests := []struct {
			name string
			body string
		}{
			{name: "missing room id", body: `{"display_name": "Suisei"}`},
			{name: "unknown field", body: `{"room_id": "92613", "added_in_v2": true}`},
			{name: "malformed json", body: `{"room_id": `},
		}

		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				f := newOpsFixture(t, serverTestConfig(), nil)

				rr, env := doRequest(t, f.mux, http.MethodPost, "/api/v1/rooms", tt.body, nil)
				if rr.Code != http.StatusBadRequest {
					t.Fatalf("status = %d, want 400", rr.Code)
				}
				if env.Error == nil || env.Error.Code != "VALIDATION_ERROR" {
					t.Errorf("error = %+v, want VALIDATION_ERROR", env.Error)
				}
				if len(f.rooms.added) != 0 {
					t.Error("manager should not have been called")
				}
			})
		}
	})

	t.Run("conflicts on an already watched room", func(t *testing.T) {
		f := newOpsFixture(t, serverTestConfig(), nil)
		f.rooms.addErr = watcher.ErrRoomExists

		rr, env := doRequest(t, f.mux, http.MethodPost, "/api/v1/rooms",
			`{"room_id": "92613"}`, nil)
		if rr.Code != http.StatusConflict {
			t.Fatalf("status = %d, want 409", rr.Code)
		}
		if env.Error == nil || env.Error.Code != "CONFLICT" {
			t.Errorf("error = %+v, want CONFLICT", env.Error)
		}
	})

	t.Run("rejects an unknown source", func(t *testing.T) {
		f := newOpsFixture(t, serverTestConfig(), nil)
		f.rooms.addErr = errors.New(`feed: unknown source "nico"`)

		rr, env := doRequest(t, f.mux, http.MethodPost, "/api/v1/rooms",
			`{"room_id": "92613", "source": "nico"}`, nil)
		if rr.Code != http.StatusBadRequest {
			t.Fatalf("status = %d, want 400", rr.Code)
		}
		if env.Error == nil || !strings.Contains(env.Error.Message, "unknown source") {
			t.Errorf("error = %+v, want unknown source message", env.Error)
		}
	})
}

func TestRemoveRoom(t *testing.T) {
	t.Run("removes a watched room", func(t *testing.T) {
		f := newOpsFixture(t, serverTestConfig(), nil)

		rr, _ := doRequest(t, f.mux, http.MethodDelete, "/api/v1/rooms/92613", "", nil)
		if rr.Code != http.StatusNoContent {
			t.Fatalf("status = %d, want 204", rr.Code)
		}
		if len(f.rooms.removed) != 1 || f.rooms.removed[0] != "92613" {
			t.Errorf("removed = %v, want [92613]", f.rooms.removed)
		}
	})

	t.Run("404 for an unwatched room", func(t *testing.T) {
		f := newOpsFixture(t, serverTestConfig(), nil)
		f.rooms.removeErr = watcher.ErrRoomNotWatched

		rr, env := doRequest(t, f.mux, http.MethodDelete, "/api/v1/rooms/404404", "", nil)
		if rr.Code != http.StatusNotFound {
			t.Fatalf("status = %d, want 404", rr.Code)
		}
		if env.Error == nil || env.Error.Code != "NOT_FOUND" {
			t.Errorf("error = %+v, want NOT_FOUND", env.Error)
		}
	})
}

func TestListDeadLetters(t *testing.T) {
	f := newOpsFixture(t, serverTestConfig(), nil)

	rr, env := doRequest(t, f.mux, http.MethodGet, "/api/v1/deliveries/dead", "", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}
	var data DeadLettersResponse
	decodeData(t, env, &data)
	if data.Count != 0 {
		t.Fatalf("count = %d, want 0", data.Count)
	}

	seedDeadLetter(t, f.ledger, "92613:sess-1:went_live", "rejected by poster")
	seedDeadLetter(t, f.ledger, "92613:sess-2:went_live", "timeout talking to poster")

	rr, env = doRequest(t, f.mux, http.MethodGet, "/api/v1/deliveries/dead", "", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}
	decodeData(t, env, &data)
	if data.Count != 2 || len(data.Deliveries) != 2 {
		t.Fatalf("count = %d, want 2", data.Count)
	}
	for _, rec := range data.Deliveries {
		if rec.PostState != models.DeadLettered {
			t.Errorf("record %s post state = %q, want dead lettered", rec.DedupeKey, rec.PostState)
		}
		if rec.LastError == "" {
			t.Errorf("record %s lost its last error", rec.DedupeKey)
		}
	}
}

func TestRetryDeadLetter(t *testing.T) {
	t.Run("requeues and republishes", func(t *testing.T) {
		f := newOpsFixture(t, serverTestConfig(), nil)
		seedDeadLetter(t, f.ledger, "92613:sess-1:went_live", "rejected by poster")

		rr, env := doRequest(t, f.mux, http.MethodPost,
			"/api/v1/deliveries/dead/92613:sess-1:went_live/retry", "", nil)
		if rr.Code != http.StatusOK {
			t.Fatalf("status = %d, want 200: %s", rr.Code, rr.Body.String())
		}

		var data struct {
			Requeued bool `json:"requeued"`
		}
		decodeData(t, env, &data)
		if !data.Requeued {
			t.Error("requeued = false, want true")
		}

		rec, err := f.ledger.Get(context.Background(), "92613:sess-1:went_live")
		if err != nil {
			t.Fatalf("get record: %v", err)
		}
		if rec.PostState != models.PostPending || rec.PublishState != models.PublishPending {
			t.Errorf("record = %q/%q, want pending/pending", rec.PublishState, rec.PostState)
		}
		if rec.Attempts != 0 || rec.LastError != "" {
			t.Errorf("attempt budget not reset: attempts=%d lastError=%q", rec.Attempts, rec.LastError)
		}

		calls := f.pub.calls()
		if len(calls) != 1 {
			t.Fatalf("republisher got %d calls, want 1", len(calls))
		}
		if calls[0].DedupeKey != "92613:sess-1:went_live" {
			t.Errorf("republished %q, want the requeued record", calls[0].DedupeKey)
		}
	})

	t.Run("404 for an unknown key", func(t *testing.T) {
		f := newOpsFixture(t, serverTestConfig(), nil)

		rr, env := doRequest(t, f.mux, http.MethodPost,
			"/api/v1/deliveries/dead/no-such-key/retry", "", nil)
		if rr.Code != http.StatusNotFound {
			t.Fatalf("status = %d, want 404", rr.Code)
		}
		if env.Error == nil || env.Error.Code != "NOT_FOUND" {
			t.Errorf("error = %+v, want NOT_FOUND", env.Error)
		}
	})

	t.Run("409 for a record that is not dead-lettered", func(t *testing.T) {
		f := newOpsFixture(t, serverTestConfig(), nil)
		if _, err := f.ledger.EnsurePending(context.Background(), models.DeliveryRecord{
			DedupeKey: "92613:sess-9:went_live",
			Event:     models.TransitionEvent{RoomID: "92613", Kind: models.KindWentLive, DedupeKey: "92613:sess-9:went_live"},
		}); err != nil {
			t.Fatalf("ensure pending: %v", err)
		}

		rr, env := doRequest(t, f.mux, http.MethodPost,
			"/api/v1/deliveries/dead/92613:sess-9:went_live/retry", "", nil)
		if rr.Code != http.StatusConflict {
			t.Fatalf("status = %d, want 409", rr.Code)
		}
		if env.Error == nil || env.Error.Code != "CONFLICT" {
			t.Errorf("error = %+v, want CONFLICT", env.Error)
		}
	})

	t.Run("inline publish failure still succeeds", func(t *testing.T) {
		f := newOpsFixture(t, serverTestConfig(), nil)
		f.pub.err = errors.New("nats: timeout")
		seedDeadLetter(t, f.ledger, "92613:sess-1:went_live", "rejected by poster")

		// The requeue leaves the record pending, so the republish sweep
		// picks it up even though the inline publish failed.
		rr, _ := doRequest(t, f.mux, http.MethodPost,
			"/api/v1/deliveries/dead/92613:sess-1:went_live/retry", "", nil)
		if rr.Code != http.StatusOK {
			t.Fatalf("status = %d, want 200", rr.Code)
		}

		rec, err := f.ledger.Get(context.Background(), "92613:sess-1:went_live")
		if err != nil {
			t.Fatalf("get record: %v", err)
		}
		if rec.PublishState != models.PublishPending {
			t.Errorf("publish state = %q, want pending for the sweep", rec.PublishState)
		}
	})
}

func TestBearerAuth(t *testing.T) {
	cfg := serverTestConfig()
	cfg.AuthToken = "s3cret"
	f := newOpsFixture(t, cfg, nil)

	t.Run("rejects a missing token", func(t *testing.T) {
		rr, env := doRequest(t, f.mux, http.MethodGet, "/api/v1/rooms", "", nil)
		if rr.Code != http.StatusUnauthorized {
			t.Fatalf("status = %d, want 401", rr.Code)
		}
		if env.Error == nil || env.Error.Code != "UNAUTHORIZED" {
			t.Errorf("error = %+v, want UNAUTHORIZED", env.Error)
		}
	})

	t.Run("rejects a wrong token", func(t *testing.T) {
		h := http.Header{}
		h.Set("Authorization", "Bearer letmein")
		rr, _ := doRequest(t, f.mux, http.MethodGet, "/api/v1/rooms", "", h)
		if rr.Code != http.StatusUnauthorized {
			t.Fatalf("status = %d, want 401", rr.Code)
		}
	})

	t.Run("accepts the configured token", func(t *testing.T) {
		h := http.Header{}
		h.Set("Authorization", "Bearer s3cret")
		rr, _ := doRequest(t, f.mux, http.MethodGet, "/api/v1/rooms", "", h)
		if rr.Code != http.StatusOK {
			t.Fatalf("status = %d, want 200", rr.Code)
		}
	})

	t.Run("probes stay open", func(t *testing.T) {
		for _, target := range []string{"/healthz", "/readyz", "/metrics"} {
			rr, _ := doRequest(t, f.mux, http.MethodGet, target, "", nil)
			if rr.Code == http.StatusUnauthorized {
				t.Errorf("%s = 401, should not require auth", target)
			}
		}
	})
}

func TestMetricsEndpoint(t *testing.T) {
	f := newOpsFixture(t, serverTestConfig(), nil)

	rr, _ := doRequest(t, f.mux, http.MethodGet, "/metrics", "", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "stargazer_") {
		t.Error("exposition should carry stargazer collectors")
	}
}

func TestEventsWSStreamsTransitions(t *testing.T) {
	hub := tap.NewHub()
	ctx, cancel := context.WithCancel(context.Background())
	hubDone := make(chan struct{})
	go func() {
		_ = hub.Serve(ctx)
		close(hubDone)
	}()
	t.Cleanup(func() {
		cancel()
		<-hubDone
	})

	f := newOpsFixture(t, serverTestConfig(), hub)
	srv := httptest.NewServer(f.mux)
	t.Cleanup(srv.Close)

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/v1/events/ws"
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", wsURL, err)
	}
	if resp != nil {
		resp.Body.Close()
	}
	t.Cleanup(func() { conn.Close() })

	waitFor(t, 5*time.Second, func() bool { return hub.ClientCount() == 1 }, "client never registered")

	hub.BroadcastTransition(models.TransitionEvent{
		RoomID:    "92613",
		SessionID: "sess-1",
		Kind:      models.KindWentLive,
		DedupeKey: "92613:sess-1:went_live",
	})

	if err := conn.SetReadDeadline(time.Now().Add(5 * time.Second)); err != nil {
		t.Fatalf("set read deadline: %v", err)
	}
	var msg tap.Message
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("read frame: %v", err)
	}
	if msg.Type != tap.MessageTypeTransition {
		t.Errorf("frame type = %q, want %q", msg.Type, tap.MessageTypeTransition)
	}
	data, ok := msg.Data.(map[string]interface{})
	if !ok {
		t.Fatalf("frame data has type %T, want object", msg.Data)
	}
	if data["dedupe_key"] != "92613:sess-1:went_live" {
		t.Errorf("frame dedupe_key = %v, want the broadcast event", data["dedupe_key"])
	}
}

func TestEventsWSWithoutHub(t *testing.T) {
	f := newOpsFixture(t, serverTestConfig(), nil)

	rr, env := doRequest(t, f.mux, http.MethodGet, "/api/v1/events/ws", "", nil)
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rr.Code)
	}
	if env.Error == nil || env.Error.Code != "SERVICE_UNAVAILABLE" {
		t.Errorf("error = %+v, want SERVICE_UNAVAILABLE", env.Error)
	}
}

func TestNewHandlerValidation(t *testing.T) {
	s, err := store.Open(store.Config{
		Dir:        filepath.Join(t.TempDir(), "store"),
		GCInterval: time.Minute,
	})
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })

	states := store.NewStateStore(s)
	ledger := store.NewDeliveryLedger(s)
	rooms := &fakeRoomManager{}
	pub := &fakeRepublisher{}

	tests := []struct {
		name string
		fn   func() (*Handler, error)
	}{
		{
			name: "nil state store",
			fn: func() (*Handler, error) {
				return NewHandler(serverTestConfig(), "bililive", nil, ledger, rooms, pub, nil, nil)
			},
		},
		{
			name: "nil ledger",
			fn: func() (*Handler, error) {
				return NewHandler(serverTestConfig(), "bililive", states, nil, rooms, pub, nil, nil)
			},
		},
		{
			name: "nil room manager",
			fn: func() (*Handler, error) {
				return NewHandler(serverTestConfig(), "bililive", states, ledger, nil, pub, nil, nil)
			},
		},
		{
			name: "nil publisher",
			fn: func() (*Handler, error) {
				return NewHandler(serverTestConfig(), "bililive", states, ledger, rooms, nil, nil, nil)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := tt.fn(); err == nil {
				t.Error("NewHandler() = nil error, want error")
			}
		})
	}
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, d time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal(msg)
}
