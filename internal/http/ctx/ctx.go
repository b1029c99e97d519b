package ctx

import (
	"github.com/valyala/fasthttp"
	"go.uber.org/zap"
)

const (
	RequestIDKey = "requestID"
	LoggerKey    = "logger"
)

func SetRequestID(ctx *fasthttp.RequestCtx, id string) {
	ctx.SetUserValue(RequestIDKey, id)
}

func RequestIDFromCtx(ctx *fasthttp.RequestCtx) (string, bool) {
	v := ctx.UserValue(RequestIDKey)
	if v == nil {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

func SetLogger(ctx *fasthttp.RequestCtx, logger *zap.Logger) {
	ctx.SetUserValue(LoggerKey, logger)
}

// LoggerFromCtx returns the request scoped logger, or the global one when
// none was attached.
func LoggerFromCtx(ctx *fasthttp.RequestCtx) *zap.Logger {
	if l, ok := ctx.UserValue(LoggerKey).(*zap.Logger); ok && l != nil {
		return l
	}
	return zap.L()
}
