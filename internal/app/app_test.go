// Stargazer - Live Room Watcher and Social Notification Relay
// Copyright 2026 SuiseiCN Developers
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/suisei-cn/stargazer

package app

import (
	"testing"

	"github.com/suisei-cn/stargazer/internal/config"
)

func TestWithDefaultSource(t *testing.T) {
	rooms := []config.RoomConfig{
		{ID: "92613", Name: "Suisei"},
		{ID: "8230", Name: "Azki", Source: "debug"},
		{ID: "81004"},
	}

	out := withDefaultSource(rooms, "bililive")

	want := []config.RoomConfig{
		{ID: "92613", Name: "Suisei", Source: "bililive"},
		{ID: "8230", Name: "Azki", Source: "debug"},
		{ID: "81004", Source: "bililive"},
	}
	if len(out) != len(want) {
		t.Fatalf("expected %d rooms, got %d", len(want), len(out))
	}
	for i := range want {
		if out[i] != want[i] {
			t.Errorf("room %d: expected %+v, got %+v", i, want[i], out[i])
		}
	}

	// The input slice stays untouched, config is immutable after load.
	if rooms[0].Source != "" {
		t.Error("input slice was mutated")
	}
}

func TestWithDefaultSourceEmpty(t *testing.T) {
	if out := withDefaultSource(nil, "bililive"); len(out) != 0 {
		t.Errorf("expected no rooms, got %d", len(out))
	}
}
