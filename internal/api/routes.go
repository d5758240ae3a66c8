// Package api serves a watcher over HTTP: a websocket event stream, the
// watched tree, recent logs, metrics and health.
package api

import (
	"net/http"

	"pathwatch/internal/logging"
	"pathwatch/internal/metrics"
	"pathwatch/internal/watcher"
)

// Source is the part of a watcher the API reads from.
type Source interface {
	Subscribe(ops ...watcher.Op) (<-chan watcher.Event, func())
	History(count int) []watcher.Event
	GetWatched() map[string][]string
	State() watcher.State
	Session() string
}

type RoutesConfig struct {
	Source         Source
	Logger         *logging.Logger
	Registry       *metrics.Registry
	AuthToken      string
	AllowedOrigins []string
}

func RegisterRoutes(mux *http.ServeMux, config RoutesConfig) {
	logger := config.Logger.Category("api")
	registry := config.Registry
	if registry == nil {
		registry = metrics.Default
	}
	rest := &RestHandler{Source: config.Source, Logger: config.Logger}
	events := &EventsHandler{
		Source:         config.Source,
		Logger:         logger,
		AuthToken:      config.AuthToken,
		AllowedOrigins: config.AllowedOrigins,
	}

	mux.Handle("/events", loggingMiddleware(logger, events))
	mux.Handle("/watched", loggingMiddleware(logger, restHandler(config.AuthToken, rest.handleWatched)))
	mux.Handle("/logs", loggingMiddleware(logger, restHandler(config.AuthToken, rest.handleLogs)))
	mux.Handle("/healthz", loggingMiddleware(logger, securityHeadersHandler(cacheControlNoStore, jsonErrorMiddleware(rest.handleHealth))))
	mux.Handle("/metrics", securityHeadersMiddleware(cacheControlNoCache, registry.Handler()))
}
