package util

import (
	"context"
)

type contextKey string

const verboseKey contextKey = "verbose"

// WithVerbose marks the context as belonging to a verbose run.
func WithVerbose(ctx context.Context, verbose bool) context.Context {
	return context.WithValue(ctx, verboseKey, verbose)
}

// IsVerbose reports whether the context belongs to a verbose run.
func IsVerbose(ctx context.Context) bool {
	if ctx == nil {
		return false
	}

	v, ok := ctx.Value(verboseKey).(bool)
	return ok && v
}
