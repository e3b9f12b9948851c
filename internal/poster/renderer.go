// Stargazer - Live Room Watcher and Social Notification Relay
// Copyright 2026 SuiseiCN Developers
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/suisei-cn/stargazer

package poster

import (
	"fmt"
	"strings"

	"github.com/suisei-cn/stargazer/internal/config"
	"github.com/suisei-cn/stargazer/internal/models"
)

// Renderer turns a transition event into post text using the configured
// per-kind templates. Supported placeholders: {name}, {title}, {room_id}.
type Renderer struct {
	live    string
	offline string
	title   string
}

func NewRenderer(t config.TemplateConfig) *Renderer {
	return &Renderer{
		live:    t.Live,
		offline: t.Offline,
		title:   t.Title,
	}
}

// Render builds the post text for ev. name is the room's display name; when
// empty the room id stands in.
func (r *Renderer) Render(ev models.TransitionEvent, name string) (string, error) {
	var tmpl string
	switch ev.Kind {
	case models.KindWentLive:
		tmpl = r.live
	case models.KindWentOffline:
		tmpl = r.offline
	case models.KindTitleChanged:
		tmpl = r.title
	default:
		return "", &Error{
			Category: CategoryPermanent,
			Err:      fmt.Errorf("no template for event kind %q", ev.Kind),
		}
	}

	if name == "" {
		name = ev.RoomID
	}
	return strings.NewReplacer(
		"{name}", name,
		"{title}", ev.Payload,
		"{room_id}", ev.RoomID,
	).Replace(tmpl), nil
}
