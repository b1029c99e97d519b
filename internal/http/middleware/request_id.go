package middleware

import (
	"github.com/google/uuid"
	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	httpctx "fastanalytics/internal/http/ctx"
)

const RequestIDHeader = "X-Request-ID"

// RequestID tags every request with an id, taken from X-Request-ID when the
// client sent a valid UUID and generated otherwise. The id is echoed in the
// response and attached to the request scoped logger.
func RequestID(logger *zap.Logger) func(fasthttp.RequestHandler) fasthttp.RequestHandler {
	return func(next fasthttp.RequestHandler) fasthttp.RequestHandler {
		return func(ctx *fasthttp.RequestCtx) {
			id := string(ctx.Request.Header.Peek(RequestIDHeader))
			if _, err := uuid.Parse(id); err != nil {
				id = uuid.NewString()
			}
			httpctx.SetRequestID(ctx, id)
			httpctx.SetLogger(ctx, logger.With(zap.String("request_id", id)))
			ctx.Response.Header.Set(RequestIDHeader, id)
			next(ctx)
		}
	}
}
