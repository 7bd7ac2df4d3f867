// Package logctx carries zerolog loggers through context.Context.
//
// The reducer attaches a phase logger once and tags it as work narrows:
//
//	ctx = logctx.WithLogger(ctx, logging.WithPhase("reduce"))
//	ctx = logctx.WithInstance(ctx, attempt)
//	log := logctx.FromContext(ctx)
//	log.Debug().Msg("group placed")
package logctx

import (
	"context"
	"os"
	"sync/atomic"

	"github.com/rs/zerolog"
)

type ctxKey struct{}

var fallback atomic.Pointer[zerolog.Logger]

func init() {
	l := zerolog.New(os.Stderr).With().Timestamp().Logger()
	fallback.Store(&l)
}

// DefaultLogger returns the logger used for contexts that carry none.
func DefaultLogger() zerolog.Logger {
	return *fallback.Load()
}

// SetDefaultLogger replaces the fallback logger. The reduce command installs the
// configured process logger here.
func SetDefaultLogger(l zerolog.Logger) {
	fallback.Store(&l)
}

// WithLogger attaches l to ctx. A nil ctx is treated as Background.
func WithLogger(ctx context.Context, l zerolog.Logger) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, ctxKey{}, &l)
}

// FromContext returns the logger attached to ctx, falling back to
// DefaultLogger.
func FromContext(ctx context.Context) zerolog.Logger {
	if ctx != nil {
		if l, ok := ctx.Value(ctxKey{}).(*zerolog.Logger); ok {
			return *l
		}
	}
	return DefaultLogger()
}

// With derives a child logger through fields and attaches it to ctx.
func With(ctx context.Context, fields func(zerolog.Context) zerolog.Context) context.Context {
	return WithLogger(ctx, fields(FromContext(ctx).With()).Logger())
}

// WithStr adds a string field.
func WithStr(ctx context.Context, key, value string) context.Context {
	return With(ctx, func(c zerolog.Context) zerolog.Context { return c.Str(key, value) })
}

// WithInt adds an int field.
func WithInt(ctx context.Context, key string, value int) context.Context {
	return With(ctx, func(c zerolog.Context) zerolog.Context { return c.Int(key, value) })
}

// WithInstance tags the logger with the reducer instance (task attempt) id.
func WithInstance(ctx context.Context, id string) context.Context {
	return WithStr(ctx, "instance", id)
}
