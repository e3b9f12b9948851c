// Stargazer - Live Room Watcher and Social Notification Relay
// Copyright 2026 SuiseiCN Developers
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/suisei-cn/stargazer

package api

import (
	"github.com/suisei-cn/stargazer/internal/validation"
)

// AddRoomRequest is the request body of POST /api/v1/rooms. Source is
// optional and defaults to feed.default_source.
type AddRoomRequest struct {
	RoomID      string `json:"room_id" validate:"required,min=1,max=64"`
	DisplayName string `json:"display_name" validate:"omitempty,max=128"`
	Source      string `json:"source" validate:"omitempty,min=1,max=32"`
}

// validateRequest runs validator tags over a request struct. A nil return
// means the request passed.
func validateRequest(v interface{}) *validation.RequestValidationError {
	return validation.ValidateStruct(v)
}
