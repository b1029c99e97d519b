package middleware

import (
	"time"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	httpctx "fastanalytics/internal/http/ctx"
)

const ElapsedTimeHeader = "X-Elapsed-Time"

// RequestLogger logs method, path, query, status, duration and client of
// every request, and reports the duration in X-Elapsed-Time.
func RequestLogger(next fasthttp.RequestHandler) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		start := time.Now()
		next(ctx)
		elapsed := time.Since(start)

		ctx.Response.Header.Set(ElapsedTimeHeader, elapsed.String())

		status := ctx.Response.StatusCode()
		fields := []zap.Field{
			zap.ByteString("method", ctx.Method()),
			zap.ByteString("path", ctx.Path()),
			zap.ByteString("query", ctx.QueryArgs().QueryString()),
			zap.Int("status", status),
			zap.Duration("elapsed", elapsed),
			zap.String("client", ctx.RemoteIP().String()),
		}
		logger := httpctx.LoggerFromCtx(ctx)
		switch {
		case status >= fasthttp.StatusInternalServerError:
			logger.Error("request", fields...)
		case status >= fasthttp.StatusBadRequest:
			logger.Warn("request", fields...)
		default:
			logger.Info("request", fields...)
		}
	}
}
