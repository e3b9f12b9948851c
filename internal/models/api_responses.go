// Stargazer - Live Room Watcher and Social Notification Relay
// Copyright 2026 SuiseiCN Developers
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/suisei-cn/stargazer

package models

import (
	"time"
)

// APIResponse is the envelope every ops API endpoint returns. Status is
// "success" or "error" ("ready"/"not_ready" on the readiness probe); Error
// is populated only on "error".
//
// Example:
//
//	{
//	  "status": "success",
//	  "data": {"rooms": [...]},
//	  "metadata": {"timestamp": "2026-03-14T20:00:00Z"}
//	}
type APIResponse struct {
	Status   string      `json:"status"`
	Data     interface{} `json:"data"`
	Metadata Metadata    `json:"metadata"`
	Error    *APIError   `json:"error,omitempty"`
}

// Metadata carries response metadata shared by all endpoints.
type Metadata struct {
	Timestamp time.Time `json:"timestamp"`
}

// APIError is the structured error payload of an "error" response.
//
// Common codes: VALIDATION_ERROR, NOT_FOUND, CONFLICT, UNAUTHORIZED,
// STORE_ERROR, PUBLISH_ERROR.
type APIError struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}
