package handlers

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	dbpkg "fastanalytics/internal/db"
	httpctx "fastanalytics/internal/http/ctx"
)

const (
	StatusSuccess = "success"
	StatusError   = "error"
)

type Pagination struct {
	PageSize     int   `json:"pageSize"`
	Page         int   `json:"page"`
	TotalRecords int64 `json:"totalRecords"`
	TotalPages   int64 `json:"totalPages"`
}

func newPagination(p dbpkg.Page, total int64) *Pagination {
	return &Pagination{
		PageSize:     p.PageSize,
		Page:         p.Page,
		TotalRecords: total,
		TotalPages:   dbpkg.TotalPages(total, p.PageSize),
	}
}

type Metadata struct {
	Status     string      `json:"status"`
	Message    string      `json:"message"`
	Timestamp  time.Time   `json:"timestamp"`
	Pagination *Pagination `json:"pagination,omitempty"`
}

type ErrorDetail struct {
	Field   string `json:"field,omitempty"`
	Message string `json:"message"`
}

// Envelope wraps every JSON response. Single resources go in Result, pages
// in Results.
type Envelope struct {
	Metadata Metadata      `json:"metadata"`
	Result   any           `json:"result,omitempty"`
	Results  any           `json:"results,omitempty"`
	Errors   []ErrorDetail `json:"errors,omitempty"`
}

func newEnvelope(status, message string) Envelope {
	return Envelope{Metadata: Metadata{Status: status, Message: message, Timestamp: time.Now().UTC()}}
}

func jsonResponse(ctx *fasthttp.RequestCtx, code int, env Envelope) {
	body, err := json.Marshal(env)
	if err != nil {
		httpctx.LoggerFromCtx(ctx).Error("encode response", zap.Error(err))
		ctx.SetStatusCode(fasthttp.StatusInternalServerError)
		ctx.SetContentType("application/json")
		ctx.SetBodyString(`{"metadata":{"status":"error","message":"Internal server error"}}`)
		return
	}
	ctx.SetStatusCode(code)
	ctx.SetContentType("application/json")
	ctx.SetBody(body)
}

func resultResponse(ctx *fasthttp.RequestCtx, code int, message string, result any) {
	env := newEnvelope(StatusSuccess, message)
	env.Result = result
	jsonResponse(ctx, code, env)
}

func pageResponse(ctx *fasthttp.RequestCtx, message string, results any, page dbpkg.Page, total int64) {
	env := newEnvelope(StatusSuccess, message)
	env.Metadata.Pagination = newPagination(page, total)
	env.Results = results
	jsonResponse(ctx, fasthttp.StatusOK, env)
}

func errResponse(ctx *fasthttp.RequestCtx, code int, msg string, details ...ErrorDetail) {
	env := newEnvelope(StatusError, msg)
	env.Errors = details
	jsonResponse(ctx, code, env)
}

// handleError maps err onto a response: client errors are returned as-is,
// anything else is logged and hidden behind a 500.
func handleError(ctx *fasthttp.RequestCtx, err error) {
	switch {
	case dbpkg.IsValidation(err):
		httpctx.LoggerFromCtx(ctx).Warn("Rejected request", zap.Error(err))
		errResponse(ctx, fasthttp.StatusBadRequest, err.Error())
	case errors.Is(err, dbpkg.ErrNotFound):
		errResponse(ctx, fasthttp.StatusNotFound, err.Error())
	default:
		fields := []zap.Field{zap.Error(err)}
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) {
			fields = append(fields,
				zap.String("pg_code", pgErr.Code),
				zap.String("pg_detail", pgErr.Detail),
			)
		}
		httpctx.LoggerFromCtx(ctx).Error("Database error", fields...)
		errResponse(ctx, fasthttp.StatusInternalServerError, "Internal server error")
	}
}
