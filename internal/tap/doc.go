// Stargazer - Live Room Watcher and Social Notification Relay
// Copyright 2026 SuiseiCN Developers
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/suisei-cn/stargazer

// Package tap streams transition events to websocket clients for
// debugging and dashboards.
//
// A Bridge consumes the event stream through its own ephemeral
// subscription and hands every decoded event to the Hub, which fans it
// out to connected clients as JSON frames. The tap is an observer: it
// acks everything immediately, keeps no state, and dropping a frame (or
// a slow client) has no effect on notification delivery.
package tap
