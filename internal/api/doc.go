// Stargazer - Live Room Watcher and Social Notification Relay
// Copyright 2026 SuiseiCN Developers
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/suisei-cn/stargazer

// Package api serves the ops HTTP surface: health and readiness probes,
// Prometheus metrics, runtime room management, dead letter inspection and
// retry, and the live event tap websocket.
//
// The server is optional. When server.enabled is false the process runs
// headless and rooms come from configuration alone. All /api/v1 routes can
// be locked behind a static bearer token (server.auth_token); the probes
// and /metrics stay open so orchestrators and scrapers need no credentials.
package api
