// Stargazer - Live Room Watcher and Social Notification Relay
// Copyright 2026 SuiseiCN Developers
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/suisei-cn/stargazer

package poster

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/suisei-cn/stargazer/internal/logging"
	"github.com/suisei-cn/stargazer/internal/metrics"
)

// LogPoster writes posts to the log instead of a platform. Default mode for
// development and dry runs.
type LogPoster struct{}

func NewLogPoster() *LogPoster { return &LogPoster{} }

func (p *LogPoster) Post(_ context.Context, text string) (string, error) {
	start := time.Now()
	id := uuid.NewString()
	logging.Info().
		Str("post_id", id).
		Str("text", text).
		Msg("post delivered to log")
	metrics.RecordPost(time.Since(start), "")
	return id, nil
}
