package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/valyala/fasthttp"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	dbpkg "fastanalytics/internal/db"
	httpctx "fastanalytics/internal/http/ctx"
)

// fakeStore keeps events in memory. Aggregations are validated with the real
// query builder and answered with canned rows.
type fakeStore struct {
	mu     sync.Mutex
	entity *dbpkg.Entity
	events []dbpkg.Event
	rows   []dbpkg.AggregateRow
	err    error
}

func newFakeStore(t *testing.T) *fakeStore {
	t.Helper()
	reg, err := dbpkg.NewRegistry(nil)
	require.NoError(t, err)
	e, err := reg.Lookup(dbpkg.Event{}.TableName())
	require.NoError(t, err)
	return &fakeStore{entity: e}
}

func (f *fakeStore) CreateEvent(_ context.Context, ev *dbpkg.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	ev.ID = int64(len(f.events) + 1)
	if ev.Time.IsZero() {
		ev.Time = time.Now().UTC()
	}
	f.events = append(f.events, *ev)
	return nil
}

func (f *fakeStore) FindEvent(_ context.Context, id int64) (*dbpkg.Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	for i := range f.events {
		if f.events[i].ID == id {
			ev := f.events[i]
			return &ev, nil
		}
	}
	return nil, fmt.Errorf("event %d: %w", id, dbpkg.ErrNotFound)
}

func (f *fakeStore) ListEvents(_ context.Context, page dbpkg.Page) ([]dbpkg.Event, int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, 0, f.err
	}
	return dbpkg.Window(f.events, page), int64(len(f.events)), nil
}

func (f *fakeStore) AggregateEvents(_ context.Context, req dbpkg.AggregationRequest) ([]dbpkg.AggregateRow, int64, error) {
	if _, err := dbpkg.BuildAggregateQuery(f.entity, req); err != nil {
		return nil, 0, err
	}
	if f.err != nil {
		return nil, 0, f.err
	}
	return dbpkg.Window(f.rows, req.Page), int64(len(f.rows)), nil
}

type fakePinger struct{ err error }

func (p fakePinger) PingContext(context.Context) error { return p.err }

type response struct {
	Metadata Metadata        `json:"metadata"`
	Result   json.RawMessage `json:"result"`
	Results  json.RawMessage `json:"results"`
	Errors   []ErrorDetail   `json:"errors"`
}

func serve(t *testing.T, h fasthttp.RequestHandler, method, uri, body string) (*fasthttp.RequestCtx, response) {
	t.Helper()
	var req fasthttp.Request
	req.Header.SetMethod(method)
	req.SetRequestURI(uri)
	if body != "" {
		req.Header.SetContentType("application/json")
		req.SetBodyString(body)
	}
	var ctx fasthttp.RequestCtx
	ctx.Init(&req, nil, nil)
	h(&ctx)

	var resp response
	if method != fasthttp.MethodHead && strings.HasPrefix(string(ctx.Response.Header.ContentType()), "application/json") {
		require.NoError(t, json.Unmarshal(ctx.Response.Body(), &resp), string(ctx.Response.Body()))
	}
	return &ctx, resp
}

func newTestHandler(store EventStore, pinger Pinger) fasthttp.RequestHandler {
	return NewRouter(Deps{Store: store, DB: pinger, Timeout: time.Second}).Handler
}

const validEvent = `{
	"page": "/home",
	"agent": "Mozilla/5.0 (X11; Linux x86_64)",
	"ipAddress": "203.0.113.7",
	"sessionId": "8b3c7e0a-9f0e-4b5e-a3a5-2f1d6c9e7b10",
	"duration": 0
}`

func TestCreateThenGetEvent(t *testing.T) {
	h := newTestHandler(newFakeStore(t), fakePinger{})

	ctx, resp := serve(t, h, fasthttp.MethodPost, APIPrefix+"/events", validEvent)
	require.Equal(t, fasthttp.StatusCreated, ctx.Response.StatusCode())
	assert.Equal(t, StatusSuccess, resp.Metadata.Status)
	assert.Equal(t, "Event created successfully", resp.Metadata.Message)

	var created Event
	require.NoError(t, json.Unmarshal(resp.Result, &created))
	assert.Equal(t, int64(1), created.ID)
	assert.Nil(t, created.Referrer)

	ctx, resp = serve(t, h, fasthttp.MethodGet, fmt.Sprintf("%s/events/%d", APIPrefix, created.ID), "")
	require.Equal(t, fasthttp.StatusOK, ctx.Response.StatusCode())

	var got Event
	require.NoError(t, json.Unmarshal(resp.Result, &got))
	assert.Equal(t, "/home", got.Page)
	assert.Equal(t, "Mozilla/5.0 (X11; Linux x86_64)", got.Agent)
	assert.Equal(t, 0.0, got.Duration)
	assert.Equal(t, "203.0.113.7", got.IPAddress)
	assert.Equal(t, "8b3c7e0a-9f0e-4b5e-a3a5-2f1d6c9e7b10", got.SessionID.String())
	assert.False(t, got.Time.IsZero())
}

func TestCreateEventRejectsInvalidInput(t *testing.T) {
	h := newTestHandler(newFakeStore(t), fakePinger{})

	t.Run("malformed body", func(t *testing.T) {
		ctx, resp := serve(t, h, fasthttp.MethodPost, APIPrefix+"/events", `{"page": "/home"`)
		assert.Equal(t, fasthttp.StatusBadRequest, ctx.Response.StatusCode())
		assert.Equal(t, StatusError, resp.Metadata.Status)
	})

	t.Run("unknown field", func(t *testing.T) {
		body := strings.Replace(validEvent, `"duration": 0`, `"duration": 0, "browser": "firefox"`, 1)
		ctx, _ := serve(t, h, fasthttp.MethodPost, APIPrefix+"/events", body)
		assert.Equal(t, fasthttp.StatusBadRequest, ctx.Response.StatusCode())
	})

	t.Run("field validation", func(t *testing.T) {
		body := `{
			"page": "home",
			"agent": "curl",
			"ipAddress": "300.1.1.1",
			"referrer": "ftp://example.com",
			"sessionId": "nope",
			"duration": -1
		}`
		ctx, resp := serve(t, h, fasthttp.MethodPost, APIPrefix+"/events", body)
		require.Equal(t, fasthttp.StatusBadRequest, ctx.Response.StatusCode())
		assert.Equal(t, dbpkg.ErrInvalidEvent.Error(), resp.Metadata.Message)

		var fields []string
		for _, e := range resp.Errors {
			fields = append(fields, e.Field)
		}
		assert.Equal(t, []string{"page", "agent", "ipAddress", "referrer", "sessionId", "duration"}, fields)
	})
}

func TestCreateEventKeepsReferrer(t *testing.T) {
	store := newFakeStore(t)
	h := newTestHandler(store, fakePinger{})

	body := strings.Replace(validEvent, `"duration": 0`, `"duration": 12.5, "referrer": "https://example.com/blog?id=1"`, 1)
	ctx, resp := serve(t, h, fasthttp.MethodPost, APIPrefix+"/events", body)
	require.Equal(t, fasthttp.StatusCreated, ctx.Response.StatusCode())

	var created Event
	require.NoError(t, json.Unmarshal(resp.Result, &created))
	require.NotNil(t, created.Referrer)
	assert.Equal(t, "https://example.com/blog?id=1", *created.Referrer)
	assert.Equal(t, 12.5, created.Duration)
}

func TestGetEvent(t *testing.T) {
	h := newTestHandler(newFakeStore(t), fakePinger{})

	ctx, resp := serve(t, h, fasthttp.MethodGet, APIPrefix+"/events/42", "")
	assert.Equal(t, fasthttp.StatusNotFound, ctx.Response.StatusCode())
	assert.Equal(t, "Event with id 42 not found", resp.Metadata.Message)

	ctx, _ = serve(t, h, fasthttp.MethodGet, APIPrefix+"/events/abc", "")
	assert.Equal(t, fasthttp.StatusBadRequest, ctx.Response.StatusCode())
}

func TestListEventsPagination(t *testing.T) {
	store := newFakeStore(t)
	h := newTestHandler(store, fakePinger{})
	for i := 0; i < 3; i++ {
		ctx, _ := serve(t, h, fasthttp.MethodPost, APIPrefix+"/events", validEvent)
		require.Equal(t, fasthttp.StatusCreated, ctx.Response.StatusCode())
	}

	ctx, resp := serve(t, h, fasthttp.MethodGet, APIPrefix+"/events?page=2&page_size=2", "")
	require.Equal(t, fasthttp.StatusOK, ctx.Response.StatusCode())
	require.NotNil(t, resp.Metadata.Pagination)
	assert.Equal(t, Pagination{PageSize: 2, Page: 2, TotalRecords: 3, TotalPages: 2}, *resp.Metadata.Pagination)

	var events []Event
	require.NoError(t, json.Unmarshal(resp.Results, &events))
	require.Len(t, events, 1)
	assert.Equal(t, int64(3), events[0].ID)

	ctx, resp = serve(t, h, fasthttp.MethodGet, APIPrefix+"/events", "")
	require.Equal(t, fasthttp.StatusOK, ctx.Response.StatusCode())
	assert.Equal(t, dbpkg.DefaultPageSize, resp.Metadata.Pagination.PageSize)
	assert.Equal(t, 1, resp.Metadata.Pagination.Page)

	for _, q := range []string{"page_size=0", "page_size=1001", "page=0", "page=first", "page=2305843009213693952&page_size=1000"} {
		ctx, resp = serve(t, h, fasthttp.MethodGet, APIPrefix+"/events?"+q, "")
		assert.Equal(t, fasthttp.StatusBadRequest, ctx.Response.StatusCode(), q)
		assert.Equal(t, StatusError, resp.Metadata.Status, q)
	}
}

func TestListEventsEmpty(t *testing.T) {
	h := newTestHandler(newFakeStore(t), fakePinger{})

	ctx, resp := serve(t, h, fasthttp.MethodGet, APIPrefix+"/events", "")
	require.Equal(t, fasthttp.StatusOK, ctx.Response.StatusCode())
	assert.JSONEq(t, `[]`, string(resp.Results))
	assert.Equal(t, int64(0), resp.Metadata.Pagination.TotalPages)
}

func TestAggregateEvents(t *testing.T) {
	store := newFakeStore(t)
	home, blog := "/home", "/blog"
	avg := 4.5
	bucket := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	store.rows = []dbpkg.AggregateRow{
		{Interval: bucket, Field: &blog, Count: 2, AvgDuration: &avg},
		{Interval: bucket, Field: &home, Count: 7, AvgDuration: &avg},
	}
	h := newTestHandler(store, fakePinger{})

	ctx, resp := serve(t, h, fasthttp.MethodGet, APIPrefix+"/events/aggregate/page?interval=1%20hour&func=avg", "")
	require.Equal(t, fasthttp.StatusOK, ctx.Response.StatusCode())
	assert.Equal(t, "Aggregated #Event.page", resp.Metadata.Message)
	assert.Equal(t, int64(2), resp.Metadata.Pagination.TotalRecords)

	var rows []map[string]any
	require.NoError(t, json.Unmarshal(resp.Results, &rows))
	require.Len(t, rows, 2)
	for _, row := range rows {
		assert.Contains(t, row, "interval")
		assert.Contains(t, row, "field")
		assert.Contains(t, row, "count")
		assert.Contains(t, row, "avgDuration")
		assert.NotContains(t, row, "minDuration")
	}

	ctx, resp = serve(t, h, fasthttp.MethodGet, APIPrefix+"/events/aggregate/page?page=2&page_size=1", "")
	require.Equal(t, fasthttp.StatusOK, ctx.Response.StatusCode())
	require.NoError(t, json.Unmarshal(resp.Results, &rows))
	require.Len(t, rows, 1)
	assert.Equal(t, "/home", rows[0]["field"])
	assert.Equal(t, int64(2), resp.Metadata.Pagination.TotalPages)
}

func TestAggregateEventsRejectsInvalidRequests(t *testing.T) {
	h := newTestHandler(newFakeStore(t), fakePinger{})

	tests := []struct {
		name    string
		query   string
		message string
	}{
		{name: "numeric field", query: "/events/aggregate/duration", message: dbpkg.ErrNumericFieldNotAllowed.Error()},
		{name: "numeric id", query: "/events/aggregate/id", message: dbpkg.ErrNumericFieldNotAllowed.Error()},
		{name: "unknown field", query: "/events/aggregate/browser", message: dbpkg.ErrUnknownField.Error()},
		{name: "unknown function", query: "/events/aggregate/page?func=avg&func=median", message: dbpkg.ErrUnknownAggregationFunction.Error()},
		{name: "bad interval", query: "/events/aggregate/page?interval=hourly", message: dbpkg.ErrInvalidBucketInterval.Error()},
		{name: "bad timezone", query: "/events/aggregate/page?timezone=Mars/Olympus", message: "incorrect timezone provided"},
		{name: "bad page size", query: "/events/aggregate/page?page_size=5000", message: dbpkg.ErrInvalidPage.Error()},
		{name: "page beyond offset range", query: "/events/aggregate/page?page=4611686018427387906&page_size=4", message: dbpkg.ErrInvalidPage.Error()},
		{name: "process local timezone", query: "/events/aggregate/page?timezone=Local", message: "incorrect timezone provided"},
		{name: "interval out of range", query: "/events/aggregate/page?interval=99999999999999999999%20hours", message: dbpkg.ErrInvalidBucketInterval.Error()},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx, resp := serve(t, h, fasthttp.MethodGet, APIPrefix+tt.query, "")
			assert.Equal(t, fasthttp.StatusBadRequest, ctx.Response.StatusCode())
			assert.Equal(t, StatusError, resp.Metadata.Status)
			assert.Contains(t, resp.Metadata.Message, tt.message)
		})
	}
}

func TestStorageErrorsAreOpaque(t *testing.T) {
	store := newFakeStore(t)
	store.err = fmt.Errorf("aggregate analytics.events by page: %w", &pgconn.PgError{
		Code:    "57014",
		Message: "canceling statement due to statement timeout",
	})
	h := newTestHandler(store, fakePinger{})

	core, logs := observer.New(zapcore.DebugLevel)
	var req fasthttp.Request
	req.SetRequestURI(APIPrefix + "/events/aggregate/page")
	var ctx fasthttp.RequestCtx
	ctx.Init(&req, nil, nil)
	httpctx.SetLogger(&ctx, zap.New(core))
	h(&ctx)

	require.Equal(t, fasthttp.StatusInternalServerError, ctx.Response.StatusCode())
	body := string(ctx.Response.Body())
	assert.Contains(t, body, "Internal server error")
	assert.NotContains(t, body, "statement timeout")

	entries := logs.FilterMessage("Database error").All()
	require.Len(t, entries, 1)
	assert.Equal(t, "57014", entries[0].ContextMap()["pg_code"])
}

func TestListEventsStorageError(t *testing.T) {
	store := newFakeStore(t)
	store.err = errors.New("connection reset by peer")
	h := newTestHandler(store, fakePinger{})

	ctx, resp := serve(t, h, fasthttp.MethodGet, APIPrefix+"/events", "")
	assert.Equal(t, fasthttp.StatusInternalServerError, ctx.Response.StatusCode())
	assert.Equal(t, "Internal server error", resp.Metadata.Message)
	assert.Empty(t, resp.Results)
}
