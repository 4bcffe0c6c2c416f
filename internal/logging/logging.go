// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package logging configures the structured logger shared by deepresearch
// components and provides lightweight span tracing on top of it.
//
// Components accept a zerolog.Logger through their options and default to
// zerolog.Nop(), so library code stays silent unless a caller opts in.
package logging

import (
	"context"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Options controls logger construction.
type Options struct {
	Level  string    // trace, debug, info, warn, error; default info
	Pretty bool      // human-readable console output instead of JSON
	Output io.Writer // default os.Stderr
}

// New builds a logger from opts. Unknown levels fall back to info.
func New(opts Options) zerolog.Logger {
	out := opts.Output
	if out == nil {
		out = os.Stderr
	}
	if opts.Pretty {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.Kitchen}
	}
	return zerolog.New(out).
		Level(ParseLevel(opts.Level)).
		With().Timestamp().
		Logger()
}

// ParseLevel maps a config level string to a zerolog level.
func ParseLevel(level string) zerolog.Level {
	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil || lvl == zerolog.NoLevel {
		return zerolog.InfoLevel
	}
	return lvl
}

// =============================================================================
// SPANS
// =============================================================================

type spanKey struct{}

// StartSpan derives a child logger tagged with the span name and attrs,
// stores it in the returned context, and logs the span start. The finish
// function logs the span end with its duration and, if non-nil, the error.
func StartSpan(ctx context.Context, logger zerolog.Logger, name string, attrs map[string]any) (context.Context, func(err error)) {
	lc := logger.With().Str("span", name)
	for k, v := range attrs {
		lc = lc.Interface(k, v)
	}
	spanLogger := lc.Logger()
	ctx = context.WithValue(ctx, spanKey{}, spanLogger)

	start := time.Now()
	spanLogger.Debug().Str("event", "span_start").Msg("starting span")

	finish := func(err error) {
		event := spanLogger.Info()
		if err != nil {
			event = spanLogger.Error().Err(err)
		}
		event.Str("event", "span_end").Dur("duration", time.Since(start)).Msg("ending span")
	}
	return ctx, finish
}

// FromContext returns the span logger stored by StartSpan, or fallback.
func FromContext(ctx context.Context, fallback zerolog.Logger) zerolog.Logger {
	if l, ok := ctx.Value(spanKey{}).(zerolog.Logger); ok {
		return l
	}
	return fallback
}
