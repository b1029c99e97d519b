package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/netip"
	"net/url"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/valyala/fasthttp"
	"go.uber.org/zap"
	"gorm.io/datatypes"

	dbpkg "fastanalytics/internal/db"
	httpctx "fastanalytics/internal/http/ctx"
)

const minAgentLength = 10

// EventStore is the storage the event endpoints need.
type EventStore interface {
	CreateEvent(ctx context.Context, ev *dbpkg.Event) error
	FindEvent(ctx context.Context, id int64) (*dbpkg.Event, error)
	ListEvents(ctx context.Context, page dbpkg.Page) ([]dbpkg.Event, int64, error)
	AggregateEvents(ctx context.Context, req dbpkg.AggregationRequest) ([]dbpkg.AggregateRow, int64, error)
}

// Event is the JSON representation of a stored event.
type Event struct {
	ID        int64     `json:"id"`
	Time      time.Time `json:"time"`
	Page      string    `json:"page"`
	Agent     string    `json:"agent"`
	IPAddress string    `json:"ipAddress"`
	Referrer  *string   `json:"referrer,omitempty"`
	SessionID uuid.UUID `json:"sessionId"`
	Duration  float64   `json:"duration"`
}

func toEvent(e *dbpkg.Event) Event {
	return Event{
		ID:        e.ID,
		Time:      e.Time,
		Page:      e.Page,
		Agent:     e.Agent,
		IPAddress: e.IPAddress,
		Referrer:  e.Referrer,
		SessionID: uuid.UUID(e.SessionID),
		Duration:  e.Duration,
	}
}

type createEventRequest struct {
	Page      string  `json:"page"`
	Agent     string  `json:"agent"`
	IPAddress string  `json:"ipAddress"`
	Referrer  *string `json:"referrer"`
	SessionID string  `json:"sessionId"`
	Duration  float64 `json:"duration"`
}

// validate returns the event to store, or the list of rejected fields.
func (r createEventRequest) validate() (*dbpkg.Event, []ErrorDetail) {
	var errs []ErrorDetail
	if !strings.HasPrefix(r.Page, "/") {
		errs = append(errs, ErrorDetail{Field: "page", Message: `must start with "/"`})
	}
	if utf8.RuneCountInString(r.Agent) < minAgentLength {
		errs = append(errs, ErrorDetail{Field: "agent", Message: fmt.Sprintf("must be at least %d characters", minAgentLength)})
	}
	addr, err := netip.ParseAddr(r.IPAddress)
	if err != nil || addr.Zone() != "" {
		errs = append(errs, ErrorDetail{Field: "ipAddress", Message: "must be a valid IPv4 or IPv6 address"})
	}
	var referrer *string
	if r.Referrer != nil && *r.Referrer != "" {
		u, err := url.Parse(*r.Referrer)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			errs = append(errs, ErrorDetail{Field: "referrer", Message: "must be an http or https URL"})
		} else {
			s := u.String()
			referrer = &s
		}
	}
	session, err := uuid.Parse(r.SessionID)
	if err != nil {
		errs = append(errs, ErrorDetail{Field: "sessionId", Message: "must be a UUID"})
	}
	if r.Duration < 0 {
		errs = append(errs, ErrorDetail{Field: "duration", Message: "must be greater than or equal to 0"})
	}
	if len(errs) > 0 {
		return nil, errs
	}
	return &dbpkg.Event{
		Page:      r.Page,
		Agent:     r.Agent,
		IPAddress: addr.String(),
		Referrer:  referrer,
		SessionID: datatypes.UUID(session),
		Duration:  r.Duration,
	}, nil
}

func requestContext(ctx *fasthttp.RequestCtx, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, timeout)
}

// parsePage reads page and page_size, defaulting to the first page of
// DefaultPageSize rows.
func parsePage(ctx *fasthttp.RequestCtx) (dbpkg.Page, error) {
	page := dbpkg.DefaultPage()
	args := ctx.QueryArgs()
	if v := args.Peek("page"); len(v) > 0 {
		n, err := strconv.Atoi(string(v))
		if err != nil {
			return page, fmt.Errorf("%w: page must be an integer", dbpkg.ErrInvalidPage)
		}
		page.Page = n
	}
	if v := args.Peek("page_size"); len(v) > 0 {
		n, err := strconv.Atoi(string(v))
		if err != nil {
			return page, fmt.Errorf("%w: page_size must be an integer", dbpkg.ErrInvalidPage)
		}
		page.PageSize = n
	}
	return page, page.Validate()
}

func ListEvents(store EventStore, timeout time.Duration) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		page, err := parsePage(ctx)
		if err != nil {
			handleError(ctx, err)
			return
		}
		c, cancel := requestContext(ctx, timeout)
		defer cancel()

		events, total, err := store.ListEvents(c, page)
		if err != nil {
			handleError(ctx, err)
			return
		}
		out := make([]Event, 0, len(events))
		for i := range events {
			out = append(out, toEvent(&events[i]))
		}
		pageResponse(ctx, "Successfully retrieved the model #Events", out, page, total)
	}
}

func GetEvent(store EventStore, timeout time.Duration) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		idStr, _ := ctx.UserValue("id").(string)
		id, err := strconv.ParseInt(idStr, 10, 64)
		if err != nil || id <= 0 {
			errResponse(ctx, fasthttp.StatusBadRequest, "invalid id", ErrorDetail{Field: "id", Message: "must be a positive integer"})
			return
		}
		c, cancel := requestContext(ctx, timeout)
		defer cancel()

		ev, err := store.FindEvent(c, id)
		if err != nil {
			if errors.Is(err, dbpkg.ErrNotFound) {
				httpctx.LoggerFromCtx(ctx).Warn("Event not found", zap.Int64("id", id))
				errResponse(ctx, fasthttp.StatusNotFound, fmt.Sprintf("Event with id %d not found", id))
				return
			}
			handleError(ctx, err)
			return
		}
		resultResponse(ctx, fasthttp.StatusOK, "Processed successfully", toEvent(ev))
	}
}

func CreateEvent(store EventStore, timeout time.Duration) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		var req createEventRequest
		dec := json.NewDecoder(bytes.NewReader(ctx.PostBody()))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&req); err != nil {
			errResponse(ctx, fasthttp.StatusBadRequest, "invalid JSON body", ErrorDetail{Message: err.Error()})
			return
		}
		ev, details := req.validate()
		if len(details) > 0 {
			errResponse(ctx, fasthttp.StatusBadRequest, dbpkg.ErrInvalidEvent.Error(), details...)
			return
		}
		c, cancel := requestContext(ctx, timeout)
		defer cancel()

		if err := store.CreateEvent(c, ev); err != nil {
			handleError(ctx, err)
			return
		}
		eventsCreated.Inc()
		eventDuration.Observe(ev.Duration)
		resultResponse(ctx, fasthttp.StatusCreated, "Event created successfully", toEvent(ev))
	}
}

// parseAggregation builds the aggregation request from the path field and
// the page, page_size, interval, func and timezone query arguments.
func parseAggregation(ctx *fasthttp.RequestCtx) (dbpkg.AggregationRequest, error) {
	field, _ := ctx.UserValue("field").(string)
	req := dbpkg.NewAggregationRequest(field)

	page, err := parsePage(ctx)
	if err != nil {
		return req, err
	}
	req.Page = page

	args := ctx.QueryArgs()
	if v := args.Peek("interval"); len(v) > 0 {
		req.Interval = strings.ToLower(string(v))
	}
	if funcs := args.PeekMulti("func"); len(funcs) > 0 {
		req.Funcs = make([]string, 0, len(funcs))
		for _, f := range funcs {
			req.Funcs = append(req.Funcs, strings.ToLower(string(f)))
		}
	}
	req.Timezone = string(args.Peek("timezone"))
	return req, nil
}

func AggregateEvents(store EventStore, timeout time.Duration) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		req, err := parseAggregation(ctx)
		if err != nil {
			handleError(ctx, err)
			return
		}
		c, cancel := requestContext(ctx, timeout)
		defer cancel()

		start := time.Now()
		rows, total, err := store.AggregateEvents(c, req)
		if err != nil {
			aggregationsTotal.WithLabelValues(outcomeLabel(err)).Inc()
			handleError(ctx, err)
			return
		}
		aggregationsTotal.WithLabelValues(outcomeLabel(nil)).Inc()
		aggregationDuration.Observe(time.Since(start).Seconds())

		if rows == nil {
			rows = []dbpkg.AggregateRow{}
		}
		pageResponse(ctx, "Aggregated #Event."+req.Field, rows, req.Page, total)
	}
}
