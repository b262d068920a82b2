package inference

import (
	"context"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// RunMeta identifies the session run a request belongs to.
type RunMeta struct {
	SessionID   string
	InferenceID string
}

type runMetaKey struct{}

func WithRunMeta(ctx context.Context, meta RunMeta) context.Context {
	return context.WithValue(ctx, runMetaKey{}, meta)
}

func RunMetaFromContext(ctx context.Context) (RunMeta, bool) {
	meta, ok := ctx.Value(runMetaKey{}).(RunMeta)
	return meta, ok
}

// Logger is the global logger with the run ids of ctx attached, if any.
func Logger(ctx context.Context) zerolog.Logger {
	meta, ok := RunMetaFromContext(ctx)
	if !ok {
		return log.Logger
	}
	return log.With().
		Str("session_id", meta.SessionID).
		Str("inference_id", meta.InferenceID).
		Logger()
}
