package middleware

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/valyala/fasthttp"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	httpctx "fastanalytics/internal/http/ctx"
)

func newRequest(method, uri string) *fasthttp.RequestCtx {
	var ctx fasthttp.RequestCtx
	ctx.Request.Header.SetMethod(method)
	ctx.Request.SetRequestURI(uri)
	return &ctx
}

func TestRequestIDGenerated(t *testing.T) {
	var seen string
	h := RequestID(zap.NewNop())(func(ctx *fasthttp.RequestCtx) {
		seen, _ = httpctx.RequestIDFromCtx(ctx)
	})

	ctx := newRequest(fasthttp.MethodGet, "/api/v1.0/events")
	h(ctx)

	_, err := uuid.Parse(seen)
	require.NoError(t, err)
	assert.Equal(t, seen, string(ctx.Response.Header.Peek(RequestIDHeader)))
}

func TestRequestIDPropagated(t *testing.T) {
	const id = "6f1d8a52-3c1b-4c7e-8d35-54a7f2b0a9c4"
	h := RequestID(zap.NewNop())(func(*fasthttp.RequestCtx) {})

	ctx := newRequest(fasthttp.MethodGet, "/api/v1.0/events")
	ctx.Request.Header.Set(RequestIDHeader, id)
	h(ctx)
	assert.Equal(t, id, string(ctx.Response.Header.Peek(RequestIDHeader)))

	ctx = newRequest(fasthttp.MethodGet, "/api/v1.0/events")
	ctx.Request.Header.Set(RequestIDHeader, "not-a-uuid")
	h(ctx)
	assert.NotEqual(t, "not-a-uuid", string(ctx.Response.Header.Peek(RequestIDHeader)))
}

func TestRequestLogger(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	h := RequestID(zap.New(core))(RequestLogger(func(ctx *fasthttp.RequestCtx) {
		time.Sleep(time.Millisecond)
		ctx.SetStatusCode(fasthttp.StatusBadRequest)
	}))

	ctx := newRequest(fasthttp.MethodGet, "/api/v1.0/events/aggregate/duration?func=avg")
	h(ctx)

	elapsed, err := time.ParseDuration(string(ctx.Response.Header.Peek(ElapsedTimeHeader)))
	require.NoError(t, err)
	assert.GreaterOrEqual(t, elapsed, time.Millisecond)

	entries := logs.All()
	require.Len(t, entries, 1)
	assert.Equal(t, zapcore.WarnLevel, entries[0].Level)
	fields := entries[0].ContextMap()
	assert.Equal(t, "/api/v1.0/events/aggregate/duration", fields["path"])
	assert.Equal(t, "func=avg", fields["query"])
	assert.EqualValues(t, 400, fields["status"])
	assert.NotEmpty(t, fields["request_id"])
}
