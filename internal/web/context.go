package web

import (
	"context"
	"net/http"

	"github.com/JonMunkholm/tablesync/internal/core"
	"github.com/JonMunkholm/tablesync/internal/web/middleware"
)

// withOrigin tags ctx with the client of r so import logs can attribute writes.
func withOrigin(ctx context.Context, r *http.Request) context.Context {
	return core.ContextWithOrigin(ctx, core.Origin{
		IPAddress: middleware.ClientIP(r),
		UserAgent: r.UserAgent(),
		Source:    "http",
	})
}
