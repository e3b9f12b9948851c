// Stargazer - Live Room Watcher and Social Notification Relay
// Copyright 2026 SuiseiCN Developers
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/suisei-cn/stargazer

package tap

import (
	"context"
	"sort"
	"sync"

	"github.com/suisei-cn/stargazer/internal/logging"
	"github.com/suisei-cn/stargazer/internal/metrics"
	"github.com/suisei-cn/stargazer/internal/models"
)

// Frame types on the tap socket.
const (
	MessageTypeTransition = "transition"
	MessageTypePing       = "ping"
	MessageTypePong       = "pong"
)

// Message is one JSON frame on the tap socket.
type Message struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

// Hub tracks connected tap clients and fans broadcast frames out to all
// of them. Handlers hand accepted connections to the hub through the
// Register channel; clients unregister themselves when their connection
// dies.
type Hub struct {
	clients    map[*Client]bool
	broadcast  chan Message
	Register   chan *Client
	Unregister chan *Client
	mu         sync.RWMutex
}

// NewHub creates an empty hub. Run it with Serve.
func NewHub() *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan Message, 256),
		Register:   make(chan *Client),
		Unregister: make(chan *Client),
	}
}

// Serve runs the hub loop until ctx is canceled. Lifecycle events are
// drained before broadcasts so the client set is settled when a frame
// fans out.
func (h *Hub) Serve(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			h.shutdown()
			return ctx.Err()
		default:
		}

		select {
		case client := <-h.Register:
			h.add(client)
			continue
		case client := <-h.Unregister:
			h.remove(client)
			continue
		default:
		}

		select {
		case <-ctx.Done():
			h.shutdown()
			return ctx.Err()
		case client := <-h.Register:
			h.add(client)
		case client := <-h.Unregister:
			h.remove(client)
		case msg := <-h.broadcast:
			h.fanOut(msg)
		}
	}
}

func (h *Hub) String() string {
	return "event-tap-hub"
}

// BroadcastTransition queues ev for delivery to every connected client.
// The hub never blocks the caller; a full queue drops the frame.
func (h *Hub) BroadcastTransition(ev models.TransitionEvent) {
	select {
	case h.broadcast <- Message{Type: MessageTypeTransition, Data: ev}:
	default:
		logging.Warn().
			Str("dedupe_key", ev.DedupeKey).
			Msg("tap broadcast queue full, dropping frame")
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) add(client *Client) {
	h.mu.Lock()
	h.clients[client] = true
	total := len(h.clients)
	h.mu.Unlock()

	metrics.TapClients.Set(float64(total))
	logging.Info().Int("total_clients", total).Msg("tap client connected")
}

func (h *Hub) remove(client *Client) {
	h.mu.Lock()
	if _, ok := h.clients[client]; ok {
		delete(h.clients, client)
		close(client.send)
	}
	total := len(h.clients)
	h.mu.Unlock()

	metrics.TapClients.Set(float64(total))
	logging.Info().Int("total_clients", total).Msg("tap client disconnected")
}

// fanOut delivers msg to every client in registration order. A client
// whose send buffer is full is dropped on the spot; one stalled reader
// must not hold frames back from the rest.
func (h *Hub) fanOut(msg Message) {
	h.mu.Lock()
	defer h.mu.Unlock()

	clients := sortedClients(h.clients)

	var dropped []*Client
	for _, client := range clients {
		select {
		case client.send <- msg:
		default:
			dropped = append(dropped, client)
		}
	}

	for _, client := range dropped {
		close(client.send)
		delete(h.clients, client)
		logging.Warn().Uint64("client_id", client.id).Msg("dropping slow tap client")
	}
	if len(dropped) > 0 {
		metrics.TapClients.Set(float64(len(h.clients)))
	}
}

func (h *Hub) shutdown() {
	h.mu.Lock()
	clients := sortedClients(h.clients)
	for _, client := range clients {
		close(client.send)
		delete(h.clients, client)
	}
	h.mu.Unlock()

	metrics.TapClients.Set(0)
	logging.Info().Int("clients_closed", len(clients)).Msg("event tap hub stopped")
}

// sortedClients snapshots the client set in registration-id order, so
// delivery and shutdown sequences are stable. Callers hold h.mu.
func sortedClients(set map[*Client]bool) []*Client {
	clients := make([]*Client, 0, len(set))
	for client := range set {
		clients = append(clients, client)
	}
	sort.Slice(clients, func(i, j int) bool {
		return clients[i].id < clients[j].id
	})
	return clients
}
