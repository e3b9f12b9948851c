// Stargazer - Live Room Watcher and Social Notification Relay
// Copyright 2026 SuiseiCN Developers
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/suisei-cn/stargazer

package feed

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	json "github.com/goccy/go-json"
	"github.com/gorilla/websocket"

	"github.com/suisei-cn/stargazer/internal/config"
	"github.com/suisei-cn/stargazer/internal/logging"
	"github.com/suisei-cn/stargazer/internal/metrics"
	"github.com/suisei-cn/stargazer/internal/models"
)

const bililiveName = "bililive"

// Shanghai wall clock used by the room info endpoint.
var bililiveZone = time.FixedZone("CST", 8*3600)

// BililiveSource watches Bilibili live rooms over the broadcast websocket.
// Room state bootstraps from the REST info endpoint; LIVE, PREPARING,
// CUT_OFF and ROOM_CHANGE commands keep it current afterwards.
type BililiveSource struct {
	cfg   config.BililiveConfig
	httpc *http.Client
}

func NewBililiveSource(cfg config.BililiveConfig) *BililiveSource {
	return &BililiveSource{
		cfg: cfg,
		httpc: &http.Client{
			Timeout: cfg.DialTimeout,
		},
	}
}

func (s *BililiveSource) Name() string { return bililiveName }

// Subscribe fetches the room's current state, attaches to the broadcast
// socket and returns a subscription that emits the bootstrap snapshot once
// the server accepts the room join.
func (s *BililiveSource) Subscribe(ctx context.Context, roomID string) (Subscription, error) {
	if _, err := strconv.ParseInt(roomID, 10, 64); err != nil {
		return nil, fmt.Errorf("%w: bililive room id %q is not numeric", ErrRoomNotFound, roomID)
	}

	info, err := s.roomInfo(ctx, roomID)
	if err != nil {
		return nil, err
	}

	dialer := websocket.Dialer{
		HandshakeTimeout:  s.cfg.DialTimeout,
		EnableCompression: true,
	}
	conn, resp, err := dialer.DialContext(ctx, s.cfg.Endpoint, nil)
	if err != nil {
		if resp != nil {
			resp.Body.Close()
			return nil, fmt.Errorf("bililive dial (status %d): %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("bililive dial: %w", err)
	}
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}

	sub := &bililiveSub{
		src:    s,
		conn:   conn,
		roomID: roomID,
		realID: info.RoomID,
		cur:    info.snapshot(),
		snaps:  make(chan Snapshot, 8),
		closed: make(chan struct{}),
	}

	if err := sub.enterRoom(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("bililive join room %s: %w", roomID, err)
	}

	go sub.run(ctx)
	return sub, nil
}

// roomInfoData is the subset of the info endpoint the watcher needs. The
// endpoint returns far more; unknown fields are ignored.
type roomInfoData struct {
	RoomID     int64  `json:"room_id"`
	LiveStatus int    `json:"live_status"` // 0 idle, 1 live, 2 rerun
	LiveTime   string `json:"live_time"`   // "2006-01-02 15:04:05" in CST, zeros when idle
	Title      string `json:"title"`
}

func (d roomInfoData) snapshot() Snapshot {
	snap := Snapshot{
		Status: models.StatusOffline,
		Title:  d.Title,
		At:     time.Now().UTC(),
	}
	if d.LiveStatus == 1 {
		snap.Status = models.StatusLive
		snap.SessionID = bililiveSession(d.RoomID, parseBililiveTime(d.LiveTime))
	}
	return snap
}

func (s *BililiveSource) roomInfo(ctx context.Context, roomID string) (roomInfoData, error) {
	url := fmt.Sprintf("%s/room/v1/Room/get_info?room_id=%s", s.cfg.APIBase, roomID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return roomInfoData{}, fmt.Errorf("bililive room info: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := s.httpc.Do(req)
	if err != nil {
		return roomInfoData{}, fmt.Errorf("bililive room info: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusUnauthorized, http.StatusForbidden:
		return roomInfoData{}, fmt.Errorf("%w: room info returned %d", ErrUnauthorized, resp.StatusCode)
	default:
		return roomInfoData{}, fmt.Errorf("bililive room info: unexpected status %d", resp.StatusCode)
	}

	var body struct {
		Code    int          `json:"code"`
		Message string       `json:"message"`
		Data    roomInfoData `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return roomInfoData{}, fmt.Errorf("bililive room info: %w", err)
	}
	switch body.Code {
	case 0:
		return body.Data, nil
	case 60004: // room does not exist
		return roomInfoData{}, fmt.Errorf("%w: bililive room %s", ErrRoomNotFound, roomID)
	default:
		return roomInfoData{}, fmt.Errorf("bililive room info: code %d: %s", body.Code, body.Message)
	}
}

// bililiveSession derives a session identity from the broadcast start time.
// The platform has no session ids; the start time is the one value every
// observer of the same broadcast agrees on, so it survives reconnects.
func bililiveSession(roomID, startUnix int64) string {
	return fmt.Sprintf("%d-%d", roomID, startUnix)
}

func parseBililiveTime(s string) int64 {
	t, err := time.ParseInLocation("2006-01-02 15:04:05", s, bililiveZone)
	if err != nil {
		return 0
	}
	return t.Unix()
}

type bililiveSub struct {
	src    *BililiveSource
	conn   *websocket.Conn
	roomID string
	realID int64

	// cur is the last complete observation, owned by the run goroutine
	// after enterRoom.
	cur Snapshot

	snaps chan Snapshot

	writeMu sync.Mutex

	closeOnce sync.Once
	closed    chan struct{}

	errMu sync.Mutex
	err   error
}

func (b *bililiveSub) Snapshots() <-chan Snapshot { return b.snaps }

func (b *bililiveSub) Err() error {
	b.errMu.Lock()
	defer b.errMu.Unlock()
	return b.err
}

// Close detaches from the room. Err stays nil after a local close.
func (b *bililiveSub) Close() error {
	b.closeOnce.Do(func() {
		close(b.closed)
		b.writeMu.Lock()
		b.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
		b.conn.WriteMessage(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		)
		b.writeMu.Unlock()
		b.conn.Close()
	})
	return nil
}

func (b *bililiveSub) enterRoom() error {
	join, err := json.Marshal(map[string]any{
		"uid":      0,
		"roomid":   b.realID,
		"protover": 2,
		"platform": "web",
		"type":     2,
	})
	if err != nil {
		return err
	}
	return b.write(blOpEnterRoom, join)
}

func (b *bililiveSub) write(op uint32, body []byte) error {
	b.writeMu.Lock()
	defer b.writeMu.Unlock()
	b.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return b.conn.WriteMessage(websocket.BinaryMessage, encodeBlPacket(op, body))
}

// finish records the terminal error, tears the connection down and closes
// the snapshot channel exactly once.
func (b *bililiveSub) finish(err error) {
	select {
	case <-b.closed:
		err = nil // local close wins
	default:
	}
	b.errMu.Lock()
	b.err = err
	b.errMu.Unlock()
	b.Close()
	close(b.snaps)
}

func (b *bililiveSub) run(ctx context.Context) {
	go b.heartbeatLoop(ctx)

	for {
		b.conn.SetReadDeadline(time.Now().Add(b.src.cfg.ReadTimeout))
		_, data, err := b.conn.ReadMessage()
		if err != nil {
			switch {
			case ctx.Err() != nil:
				b.finish(ctx.Err())
			case websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway):
				b.finish(fmt.Errorf("bililive server closed the stream: %w", err))
			default:
				b.finish(fmt.Errorf("bililive read: %w", err))
			}
			return
		}

		packets, err := decodeBlPackets(data)
		if err != nil {
			// Framing damage is not a reason to drop the room.
			metrics.RecordFeedMalformed(bililiveName)
			logging.Warn().Err(err).Str("room_id", b.roomID).Msg("dropping undecodable feed message")
			continue
		}

		for _, pkt := range packets {
			if !b.handlePacket(ctx, pkt) {
				return
			}
		}
	}
}

// handlePacket returns false when the subscription is finished.
func (b *bililiveSub) handlePacket(ctx context.Context, pkt blPacket) bool {
	switch pkt.op {
	case blOpEnterReply:
		var reply struct {
			Code int `json:"code"`
		}
		if err := json.Unmarshal(pkt.body, &reply); err == nil && reply.Code != 0 {
			b.finish(fmt.Errorf("%w: join rejected with code %d", ErrUnauthorized, reply.Code))
			return false
		}
		// Joined: the bootstrap state becomes the first snapshot.
		return b.emit(ctx, b.cur)

	case blOpHeartbeatReply:
		// Body is the room popularity counter. Not our business.
		return true

	case blOpNotification:
		return b.handleCommand(ctx, pkt.body)

	default:
		return true
	}
}

func (b *bililiveSub) handleCommand(ctx context.Context, body []byte) bool {
	var cmd struct {
		Cmd      string `json:"cmd"`
		LiveTime int64  `json:"live_time"`
		Data     struct {
			Title string `json:"title"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &cmd); err != nil {
		metrics.RecordFeedMalformed(bililiveName)
		logging.Warn().Err(err).Str("room_id", b.roomID).Msg("dropping undecodable feed command")
		return true
	}

	switch cmd.Cmd {
	case "LIVE":
		start := cmd.LiveTime
		if start == 0 {
			// Older servers omit the start time on the LIVE command; the
			// info endpoint has it.
			if info, err := b.src.roomInfo(ctx, b.roomID); err == nil {
				start = parseBililiveTime(info.LiveTime)
			}
		}
		b.cur.Status = models.StatusLive
		b.cur.SessionID = bililiveSession(b.realID, start)
		b.cur.At = time.Now().UTC()
		return b.emit(ctx, b.cur)

	case "PREPARING", "CUT_OFF":
		b.cur.Status = models.StatusOffline
		b.cur.SessionID = ""
		b.cur.At = time.Now().UTC()
		return b.emit(ctx, b.cur)

	case "ROOM_CHANGE":
		if cmd.Data.Title == "" || cmd.Data.Title == b.cur.Title {
			return true
		}
		b.cur.Title = cmd.Data.Title
		b.cur.At = time.Now().UTC()
		return b.emit(ctx, b.cur)

	default:
		// Danmaku, gifts and the rest of the firehose.
		return true
	}
}

func (b *bililiveSub) emit(ctx context.Context, snap Snapshot) bool {
	select {
	case b.snaps <- snap:
		return true
	case <-b.closed:
		b.finish(nil)
		return false
	case <-ctx.Done():
		b.finish(ctx.Err())
		return false
	}
}

func (b *bililiveSub) heartbeatLoop(ctx context.Context) {
	ticker := time.NewTicker(b.src.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-b.closed:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			// The server expects this exact browser artifact as the body.
			if err := b.write(blOpHeartbeat, []byte("[object Object]")); err != nil {
				logging.Debug().Err(err).Str("room_id", b.roomID).Msg("heartbeat write failed")
				return
			}
		}
	}
}
