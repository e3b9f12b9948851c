// Stargazer - Live Room Watcher and Social Notification Relay
// Copyright 2026 SuiseiCN Developers
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/suisei-cn/stargazer

// Package poster delivers rendered notification text to the social platform.
//
// Implementations classify every failure as transient or permanent through
// *Error; the consumer retries transient failures and dead-letters permanent
// ones, so a sloppy classification either hammers the platform or silently
// drops posts.
package poster

import (
	"context"
	"errors"
	"fmt"

	"github.com/suisei-cn/stargazer/internal/config"
)

// Poster posts one notification and returns the platform's post id.
type Poster interface {
	Post(ctx context.Context, text string) (string, error)
}

// Category classifies a poster failure.
type Category string

const (
	// CategoryTransient marks failures a retry can cure: timeouts, rate
	// limits, 5xx responses, open circuit breaker.
	CategoryTransient Category = "transient"

	// CategoryPermanent marks failures no retry can cure: rejected content,
	// bad credentials, malformed requests.
	CategoryPermanent Category = "permanent"
)

// Error is a categorized poster failure. StatusCode is zero when the failure
// happened before an HTTP response arrived.
type Error struct {
	Category   Category
	StatusCode int
	Err        error
}

func (e *Error) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("poster: %s failure (status %d): %v", e.Category, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("poster: %s failure: %v", e.Category, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// IsPermanent reports whether err is a classified permanent failure.
// Unclassified errors count as transient: when in doubt, retry.
func IsPermanent(err error) bool {
	var pe *Error
	return errors.As(err, &pe) && pe.Category == CategoryPermanent
}

// New builds the poster selected by cfg.Mode.
func New(cfg config.PosterConfig) (Poster, error) {
	switch cfg.Mode {
	case "http":
		return NewHTTPPoster(cfg)
	case "log", "":
		return NewLogPoster(), nil
	default:
		return nil, fmt.Errorf("poster: unknown mode %q", cfg.Mode)
	}
}
