// Stargazer - Live Room Watcher and Social Notification Relay
// Copyright 2026 SuiseiCN Developers
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/suisei-cn/stargazer

package relay

import (
	"strings"
	"unicode"
)

// SubjectFor builds the broker subject for one room's events:
// <prefix>.<source>.<room_id>. Events of one room share a subject, which is
// what carries their detection order through the stream.
func SubjectFor(prefix, source, roomID string) string {
	return prefix + "." + sanitizeToken(source) + "." + sanitizeToken(roomID)
}

// EventsWildcard matches every event subject under prefix.
func EventsWildcard(prefix string) string {
	return prefix + ".>"
}

// sanitizeToken makes s usable as a single NATS subject token. Dots,
// wildcards and whitespace would change the subject's shape.
func sanitizeToken(s string) string {
	if s == "" {
		return "unknown"
	}
	return strings.Map(func(r rune) rune {
		if r == '.' || r == '*' || r == '>' || unicode.IsSpace(r) {
			return '_'
		}
		return r
	}, s)
}
