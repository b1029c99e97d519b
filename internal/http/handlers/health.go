package handlers

import (
	"context"
	"time"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	httpctx "fastanalytics/internal/http/ctx"
)

// Pinger is satisfied by *sql.DB.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// HealthCheck reports 200 when the database answers a ping within timeout
// and 503 otherwise.
func HealthCheck(db Pinger, timeout time.Duration) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		httpctx.LoggerFromCtx(ctx).Debug("Call of the health check")
		c, cancel := requestContext(ctx, timeout)
		defer cancel()

		if err := db.PingContext(c); err != nil {
			httpctx.LoggerFromCtx(ctx).Error("Health check failed", zap.Error(err))
			errResponse(ctx, fasthttp.StatusServiceUnavailable, "Database unavailable")
			return
		}
		resultResponse(ctx, fasthttp.StatusOK, "All working fine", map[string]string{"status": "ok"})
	}
}
