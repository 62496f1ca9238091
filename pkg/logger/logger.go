// Package logger configures the process-wide slog logger and carries
// request-scoped attributes (request id, prisoner number) through contexts.
package logger

import (
	"context"
	"io"
	"log/slog"
	"os"
)

type contextKey int

const (
	requestIDKey contextKey = iota
	prisonerNumberKey
)

// Setup installs the default logger writing to stdout.
func Setup(level string, format string) {
	SetupWriter(os.Stdout, level, format)
}

// SetupWriter installs the default logger writing to w.
func SetupWriter(w io.Writer, level string, format string) {
	var handler slog.Handler
	opts := &slog.HandlerOptions{
		Level: parseLevel(level),
	}
	switch format {
	case "json":
		handler = slog.NewJSONHandler(w, opts)
	default:
		handler = slog.NewTextHandler(w, opts)
	}
	slog.SetDefault(slog.New(handler))
}

func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey, requestID)
}

func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}

// WithPrisonerNumber tags ctx so loggers derived from it carry the prisoner
// number being synced.
func WithPrisonerNumber(ctx context.Context, prisonerNumber string) context.Context {
	return context.WithValue(ctx, prisonerNumberKey, prisonerNumber)
}

func FromContext(ctx context.Context) *slog.Logger {
	return FromContextWith(ctx, slog.Default())
}

// FromContextWith adds the request id and prisoner number carried by ctx to
// base.
func FromContextWith(ctx context.Context, base *slog.Logger) *slog.Logger {
	logger := base
	if requestID, ok := ctx.Value(requestIDKey).(string); ok {
		logger = logger.With("request_id", requestID)
	}
	if number, ok := ctx.Value(prisonerNumberKey).(string); ok {
		logger = logger.With("prisoner_number", number)
	}
	return logger
}

func WithComponent(component string) *slog.Logger {
	return slog.Default().With("component", component)
}

func parseLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
