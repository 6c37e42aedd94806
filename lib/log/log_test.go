package log

import (
	"context"
	"testing"

	"cdr.dev/slog"
	tassert "github.com/stretchr/testify/assert"
)

func TestWithDefault(t *testing.T) {
	t.Parallel()

	ctx := WithDefault(context.Background())
	_, ok := ctx.Value(loggerKey{}).(slog.Logger)
	tassert.True(t, ok)

	ctx = WithTB(context.Background(), t, nil)
	tassert.True(t, ctx == WithDefault(ctx))
}

func TestFromFallback(t *testing.T) {
	t.Parallel()

	// Logging without a logger attached must not panic.
	Debug(context.Background(), "no logger attached")
	Named(context.Background(), "child")
}
