package core

import (
	"context"
	"log/slog"
)

type contextKey string

const ctxKeyOrigin contextKey = "request_origin"

// Origin identifies who triggered a data-modifying operation.
type Origin struct {
	IPAddress string
	UserAgent string
	// Source is "http" or "cli".
	Source string
}

// ContextWithOrigin attaches o to ctx so import logs can attribute writes.
func ContextWithOrigin(ctx context.Context, o Origin) context.Context {
	return context.WithValue(ctx, ctxKeyOrigin, o)
}

// OriginFromContext returns the attached origin, or the zero value.
func OriginFromContext(ctx context.Context) Origin {
	if o, ok := ctx.Value(ctxKeyOrigin).(Origin); ok {
		return o
	}
	return Origin{}
}

// logAttrs renders the set fields of o for slog.
func (o Origin) logAttrs() []any {
	var attrs []any
	if o.Source != "" {
		attrs = append(attrs, slog.String("source", o.Source))
	}
	if o.IPAddress != "" {
		attrs = append(attrs, slog.String("client_ip", o.IPAddress))
	}
	if o.UserAgent != "" {
		attrs = append(attrs, slog.String("user_agent", o.UserAgent))
	}
	return attrs
}
