package tracing

import (
	"context"

	"github.com/rs/zerolog"
)

// LoggerFromContext returns baseLogger enriched with the tracing fields
// found in ctx.
func LoggerFromContext(ctx context.Context, baseLogger zerolog.Logger) zerolog.Logger {
	tc := FromContext(ctx)
	if tc.TraceID == "" && tc.TurnID == "" && tc.Session == "" && tc.Provider == "" {
		return baseLogger
	}

	lc := baseLogger.With()
	if tc.TraceID != "" {
		lc = lc.Str("trace_id", tc.TraceID)
	}
	if tc.TurnID != "" {
		lc = lc.Str("turn_id", tc.TurnID)
	}
	if tc.Session != "" {
		lc = lc.Str("session", tc.Session)
	}
	if tc.Provider != "" {
		lc = lc.Str("provider", tc.Provider)
	}
	return lc.Logger()
}

// Detach returns a background context carrying the tracing values of ctx.
// Work that must outlive a cancelled request, such as saving the session,
// uses it to keep log correlation.
func Detach(ctx context.Context) context.Context {
	tc := FromContext(ctx)
	out := context.Background()
	if tc.TraceID != "" {
		out = WithTraceID(out, tc.TraceID)
	}
	if tc.TurnID != "" {
		out = WithTurnID(out, tc.TurnID)
	}
	if tc.Session != "" {
		out = WithSession(out, tc.Session)
	}
	if tc.Provider != "" {
		out = WithProvider(out, tc.Provider)
	}
	return out
}
