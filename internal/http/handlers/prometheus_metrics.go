package handlers

import (
	"bytes"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/fasthttp/router"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"
	"github.com/valyala/fasthttp"

	dbpkg "fastanalytics/internal/db"
)

const namespace = "fastanalytics"

var (
	requestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests served.",
		},
		[]string{"route", "method", "status"},
	)
	requestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "Histogram of HTTP request durations in seconds.",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		},
		[]string{"route", "method"},
	)
	eventsCreated = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "events_created_total",
		Help:      "Total number of events stored.",
	})
	eventDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "event_page_duration_seconds",
		Help:      "Histogram of the time spent on a page reported by stored events.",
		Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
	})
	aggregationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "aggregations_total",
			Help:      "Total number of aggregation queries by outcome.",
		},
		[]string{"outcome"},
	)
	aggregationDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "aggregation_query_duration_seconds",
		Help:      "Histogram of successful aggregation query durations in seconds.",
		Buckets:   prometheus.DefBuckets,
	})

	registerOnce sync.Once
)

// InitPrometheusMetrics registers the collectors with the default registry.
func InitPrometheusMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			requestsTotal,
			requestDuration,
			eventsCreated,
			eventDuration,
			aggregationsTotal,
			aggregationDuration,
		)
	})
}

func outcomeLabel(err error) string {
	switch {
	case err == nil:
		return "ok"
	case dbpkg.IsValidation(err):
		return "invalid"
	default:
		return "error"
	}
}

// Instrument counts and times requests by matched route. The router must be
// built with SaveMatchedRoutePath; unmatched requests are labelled "unmatched".
func Instrument(next fasthttp.RequestHandler) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		start := time.Now()
		next(ctx)
		route, _ := ctx.UserValue(router.MatchedRoutePathParam).(string)
		if route == "" {
			route = "unmatched"
		}
		method := string(ctx.Method())
		requestsTotal.WithLabelValues(route, method, strconv.Itoa(ctx.Response.StatusCode())).Inc()
		requestDuration.WithLabelValues(route, method).Observe(time.Since(start).Seconds())
	}
}

// MetricsHandler exposes the gathered metrics in the Prometheus text format.
// The optional name query argument, repeatable, keeps only the families
// whose name starts with one of the given prefixes.
func MetricsHandler(gatherer prometheus.Gatherer) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		metricFamilies, err := gatherer.Gather()
		if err != nil {
			ctx.SetStatusCode(fasthttp.StatusInternalServerError)
			ctx.SetBodyString("failed to gather metrics")
			return
		}

		var prefixes []string
		for _, v := range ctx.QueryArgs().PeekMulti("name") {
			prefixes = append(prefixes, string(v))
		}

		filtered := make([]*dto.MetricFamily, 0, len(metricFamilies))
		for _, mf := range metricFamilies {
			if len(prefixes) == 0 || hasAnyPrefix(mf.GetName(), prefixes) {
				filtered = append(filtered, mf)
			}
		}

		format := expfmt.NewFormat(expfmt.TypeTextPlain)
		var buf bytes.Buffer
		encoder := expfmt.NewEncoder(&buf, format)
		for _, mf := range filtered {
			if err := encoder.Encode(mf); err != nil {
				ctx.SetStatusCode(fasthttp.StatusInternalServerError)
				ctx.SetBodyString("failed to encode metrics")
				return
			}
		}

		ctx.SetContentType(string(format))
		ctx.Response.Header.Set("Cache-Control", "no-store")
		ctx.SetBody(buf.Bytes())
	}
}

func hasAnyPrefix(name string, prefixes []string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(name, p) {
			return true
		}
	}
	return false
}
