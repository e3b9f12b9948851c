// Stargazer - Live Room Watcher and Social Notification Relay
// Copyright 2026 SuiseiCN Developers
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/suisei-cn/stargazer

package logging

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func newCapturedSlogger(buf *bytes.Buffer) *slog.Logger {
	zl := zerolog.New(buf)
	return slog.New(NewSlogHandlerWithLogger(zl))
}

func TestSlogHandlerLevels(t *testing.T) {
	t.Parallel()

	// The zerolog global level gates every logger in the process, and this
	// package's init leaves it at info, which would drop the debug case.
	prev := zerolog.GlobalLevel()
	zerolog.SetGlobalLevel(zerolog.TraceLevel)
	t.Cleanup(func() { zerolog.SetGlobalLevel(prev) })

	tests := []struct {
		name  string
		log   func(*slog.Logger)
		level string
	}{
		{"debug", func(l *slog.Logger) { l.Debug("m") }, "debug"},
		{"info", func(l *slog.Logger) { l.Info("m") }, "info"},
		{"warn", func(l *slog.Logger) { l.Warn("m") }, "warn"},
		{"error", func(l *slog.Logger) { l.Error("m") }, "error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			tt.log(newCapturedSlogger(&buf))

			want := `"level":"` + tt.level + `"`
			if !strings.Contains(buf.String(), want) {
				t.Errorf("expected %s in output, got: %s", want, buf.String())
			}
		})
	}
}

func TestSlogHandlerAttrs(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	logger := newCapturedSlogger(&buf)

	logger.Info("supervisor event",
		slog.String("service", "room-92613"),
		slog.Int("restarts", 3),
		slog.Bool("terminal", false),
	)

	out := buf.String()
	for _, want := range []string{
		`"service":"room-92613"`,
		`"restarts":3`,
		`"terminal":false`,
		"supervisor event",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("expected %s in output, got: %s", want, out)
		}
	}
}

func TestSlogHandlerWithAttrsAndGroup(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	zl := zerolog.New(&buf)
	handler := NewSlogHandlerWithLogger(zl).
		WithAttrs([]slog.Attr{slog.String("component", "watcher")}).
		WithGroup("room")

	logger := slog.New(handler)
	logger.Info("state change", slog.String("id", "92613"))

	out := buf.String()
	if !strings.Contains(out, `"component":"watcher"`) {
		t.Errorf("expected pre-set attr, got: %s", out)
	}
	if !strings.Contains(out, `"room.id":"92613"`) {
		t.Errorf("expected group-prefixed key, got: %s", out)
	}
}

func TestSlogHandlerEnabled(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	zl := zerolog.New(&buf).Level(zerolog.WarnLevel)
	handler := NewSlogHandlerWithLogger(zl)

	if handler.Enabled(context.Background(), slog.LevelInfo) {
		t.Error("expected info to be disabled at warn level")
	}
	if !handler.Enabled(context.Background(), slog.LevelError) {
		t.Error("expected error to be enabled at warn level")
	}
}
