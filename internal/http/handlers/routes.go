package handlers

import (
	"fmt"
	"time"

	"github.com/fasthttp/router"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	httpctx "fastanalytics/internal/http/ctx"
)

const APIPrefix = "/api/v1.0"

type Deps struct {
	Store    EventStore
	DB       Pinger
	Gatherer prometheus.Gatherer
	// Timeout bounds the storage work of a single request.
	Timeout time.Duration
}

// NewRouter registers the API routes. Matched route paths are saved on the
// request so Instrument can label by route.
func NewRouter(d Deps) *router.Router {
	r := router.New()
	r.SaveMatchedRoutePath = true

	api := r.Group(APIPrefix)
	api.GET("/events", ListEvents(d.Store, d.Timeout))
	api.POST("/events", CreateEvent(d.Store, d.Timeout))
	api.GET("/events/aggregate/{field}", AggregateEvents(d.Store, d.Timeout))
	api.GET("/events/{id}", GetEvent(d.Store, d.Timeout))

	health := HealthCheck(d.DB, d.Timeout)
	api.GET("/healthzcheck", health)
	api.HEAD("/healthzcheck", health)

	r.GET("/metrics", MetricsHandler(d.Gatherer))

	r.NotFound = func(ctx *fasthttp.RequestCtx) {
		errResponse(ctx, fasthttp.StatusNotFound, fmt.Sprintf("no route for %s %s", ctx.Method(), ctx.Path()))
	}
	r.PanicHandler = func(ctx *fasthttp.RequestCtx, v any) {
		httpctx.LoggerFromCtx(ctx).Error("Recovered from panic", zap.Any("panic", v), zap.Stack("stack"))
		errResponse(ctx, fasthttp.StatusInternalServerError, "Internal server error")
	}
	return r
}
