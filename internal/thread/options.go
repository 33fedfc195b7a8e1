package thread

import (
	"log/slog"
	"time"

	"colloquy/internal/observability"
)

type options struct {
	pageSize int
	coalesce time.Duration
	flags    FlagChecker
	logger   *slog.Logger
}

// Option configures the thread engine and its parts.
type Option func(*options)

// WithPageSize limits how many top-level comments a default load returns.
// Zero loads the whole thread.
func WithPageSize(n int) Option {
	return func(o *options) { o.pageSize = n }
}

// WithCoalesceWindow collapses change events arriving within d into one reload.
// Zero reloads on every event.
func WithCoalesceWindow(d time.Duration) Option {
	return func(o *options) { o.coalesce = d }
}

// WithFlags sets the feature flag source.
func WithFlags(f FlagChecker) Option {
	return func(o *options) { o.flags = f }
}

// WithLogger overrides the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

func buildOptions(opts []Option) options {
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = observability.Logger
	}
	return o
}
