// Package log is a context wrapper around slog.Logger
package log

import (
	"context"
	"os"
	"testing"

	"cdr.dev/slog"
	"cdr.dev/slog/sloggers/sloghuman"
	"cdr.dev/slog/sloggers/slogtest"

	"oss.terrastruct.com/pumlmd/lib/env"
)

var _default = slog.Make(sloghuman.Sink(os.Stderr)).Named("pumlmd")

type loggerKey struct{}

func from(ctx context.Context) slog.Logger {
	l, ok := ctx.Value(loggerKey{}).(slog.Logger)
	if !ok {
		return _default
	}
	return l
}

func With(ctx context.Context, l slog.Logger) context.Context {
	return context.WithValue(ctx, loggerKey{}, l)
}

// WithDefault attaches the default stderr logger unless ctx already carries one.
func WithDefault(ctx context.Context) context.Context {
	if _, ok := ctx.Value(loggerKey{}).(slog.Logger); ok {
		return ctx
	}
	l := _default
	if env.Debug() {
		l = l.Leveled(slog.LevelDebug)
	}
	return With(ctx, l)
}

// WithTB calls With with the result of slogtest.Make.
func WithTB(ctx context.Context, t testing.TB, opts *slogtest.Options) context.Context {
	l := slogtest.Make(t, opts)
	if env.Debug() {
		l = l.Leveled(slog.LevelDebug)
	}
	return With(ctx, l)
}

func Debug(ctx context.Context, msg string, fields ...slog.Field) {
	slog.Helper()
	from(ctx).Debug(ctx, msg, fields...)
}

func Info(ctx context.Context, msg string, fields ...slog.Field) {
	slog.Helper()
	from(ctx).Info(ctx, msg, fields...)
}

func Warn(ctx context.Context, msg string, fields ...slog.Field) {
	slog.Helper()
	from(ctx).Warn(ctx, msg, fields...)
}

func Error(ctx context.Context, msg string, fields ...slog.Field) {
	slog.Helper()
	from(ctx).Error(ctx, msg, fields...)
}

func Named(ctx context.Context, name string) context.Context {
	return With(ctx, from(ctx).Named(name))
}

func Leveled(ctx context.Context, level slog.Level) context.Context {
	return With(ctx, from(ctx).Leveled(level))
}

func AppendSinks(ctx context.Context, s ...slog.Sink) context.Context {
	return With(ctx, from(ctx).AppendSinks(s...))
}

func Sync(ctx context.Context) {
	from(ctx).Sync()
}
