// Stargazer - Live Room Watcher and Social Notification Relay
// Copyright 2026 SuiseiCN Developers
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/suisei-cn/stargazer

package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/suisei-cn/stargazer/internal/config"
)

// Router assembles the ops API route tree.
type Router struct {
	cfg     config.ServerConfig
	handler *Handler
}

// NewRouter returns a Router serving through handler.
func NewRouter(cfg config.ServerConfig, handler *Handler) *Router {
	return &Router{cfg: cfg, handler: handler}
}

// Routes builds the chi route tree. Probes and /metrics stay outside the
// authenticated group so orchestrators and scrapers need no token.
func (rt *Router) Routes() http.Handler {
	r := chi.NewRouter()

	r.Use(RequestIDWithLogging())
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(CORSMiddleware(rt.cfg.CORSOrigins))

	r.Get("/healthz", rt.handler.Healthz)
	r.Get("/readyz", rt.handler.Readyz)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(RateLimitMiddleware(rt.cfg))
		r.Use(SecurityHeaders())
		r.Use(MetricsMiddleware())
		r.Use(BearerAuth(rt.cfg.AuthToken))

		r.Get("/rooms", rt.handler.ListRooms)
		r.Post("/rooms", rt.handler.AddRoom)
		r.Delete("/rooms/{roomID}", rt.handler.RemoveRoom)

		r.Get("/deliveries/dead", rt.handler.ListDeadLetters)
		r.Post("/deliveries/dead/{dedupeKey}/retry", rt.handler.RetryDeadLetter)

		r.Get("/events/ws", rt.handler.EventsWS)
	})

	return r
}
