package logger

import (
	"context"
	"log/slog"
)

type contextKey string

const RunIDKey contextKey = "run_id"
const ResponderIDKey contextKey = "responder_id"

func WithRunID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, RunIDKey, id)
}

func GetRunID(ctx context.Context) string {
	if id, ok := ctx.Value(RunIDKey).(string); ok {
		return id
	}
	return ""
}

func WithResponderID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ResponderIDKey, id)
}

func GetResponderID(ctx context.Context) string {
	if id, ok := ctx.Value(ResponderIDKey).(string); ok {
		return id
	}
	return ""
}

// From returns the default logger annotated with the run and responder carried by ctx.
func From(ctx context.Context) *slog.Logger {
	l := slog.Default()
	if id := GetRunID(ctx); id != "" {
		l = l.With("run_id", id)
	}
	if id := GetResponderID(ctx); id != "" {
		l = l.With("responder_id", id)
	}
	return l
}
