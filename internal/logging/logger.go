// Package logging defines the structured-logging interface used across the
// project and its log/slog backed implementation.
package logging

import "context"

// Logger is a context-aware, structured logger. Args are key/value pairs:
//
//	log.Info(ctx, "account synced", "account", name, "revoked", revoked)
type Logger interface {
	Debug(ctx context.Context, msg string, args ...any)
	Info(ctx context.Context, msg string, args ...any)
	Warn(ctx context.Context, msg string, args ...any)
	Error(ctx context.Context, msg string, args ...any)

	// With returns a child logger that always includes the given pairs.
	With(args ...any) Logger
}

// ForModule tags l with a module attribute and any extra pairs. A nil l
// yields a logger that discards everything.
func ForModule(l Logger, module string, args ...any) Logger {
	if l == nil {
		l = Nop()
	}
	return l.With(append([]any{"module", module}, args...)...)
}
