package logger

import "context"

type contextKey string

const RunIDKey contextKey = "run_id"
const StageKey contextKey = "stage"

func WithRunID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, RunIDKey, id)
}

func GetRunID(ctx context.Context) string {
	if id, ok := ctx.Value(RunIDKey).(string); ok {
		return id
	}
	return ""
}

func WithStage(ctx context.Context, stage string) context.Context {
	return context.WithValue(ctx, StageKey, stage)
}

func GetStage(ctx context.Context) string {
	if stage, ok := ctx.Value(StageKey).(string); ok {
		return stage
	}
	return ""
}
