// Agromet - Agricultural Telemetry and Decision Pipeline for Quillota
// Copyright 2026 J. Cortes (jcortesq)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/jcortesq/agromet

package logging

import (
	"context"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Context keys for logging.
type contextKey string

const (
	// tickIDKey is the context key for pipeline tick correlation IDs.
	tickIDKey contextKey = "tick_id"

	// loggerKey is the context key for storing a logger instance.
	loggerKey contextKey = "logger"
)

// GenerateTickID creates a new unique tick correlation ID.
// Returns the first 8 characters of a UUID for readability.
func GenerateTickID() string {
	return uuid.New().String()[:8]
}

// ContextWithTickID returns a new context carrying the given tick ID.
// The scheduler stamps every tick's context so all stage logs for one
// pipeline pass can be correlated.
func ContextWithTickID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, tickIDKey, id)
}

// ContextWithNewTickID returns a context with a freshly generated tick ID.
func ContextWithNewTickID(ctx context.Context) context.Context {
	return ContextWithTickID(ctx, GenerateTickID())
}

// TickIDFromContext retrieves the tick ID from context.
// Returns empty string if not present.
func TickIDFromContext(ctx context.Context) string {
	if id, ok := ctx.Value(tickIDKey).(string); ok {
		return id
	}
	return ""
}

// ContextWithLogger stores a logger in the context.
//
//nolint:gocritic // zerolog.Logger is designed to be passed by value
func ContextWithLogger(ctx context.Context, l zerolog.Logger) context.Context {
	return context.WithValue(ctx, loggerKey, l)
}

// Ctx returns a logger from the context. If the context carries a logger
// it is returned with the tick ID attached; otherwise the global logger
// is returned, with the tick ID attached when present.
func Ctx(ctx context.Context) zerolog.Logger {
	l, ok := ctx.Value(loggerKey).(zerolog.Logger)
	if !ok {
		l = Logger()
	}
	if id := TickIDFromContext(ctx); id != "" {
		l = l.With().Str("tick_id", id).Logger()
	}
	return l
}
