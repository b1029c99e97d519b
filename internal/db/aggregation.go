package db

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"fastanalytics/internal/db/timescale"
)

// AggFunc is an aggregate applied to an entity's measure column.
type AggFunc string

const (
	AggAvg AggFunc = "avg"
	AggMin AggFunc = "min"
	AggMax AggFunc = "max"
)

// aggregateBuilders is the closed set of supported functions.
var aggregateBuilders = map[AggFunc]func(measure string) string{
	AggAvg: func(measure string) string { return "avg(" + timescale.QuoteIdent(measure) + ")" },
	AggMin: func(measure string) string { return "min(" + timescale.QuoteIdent(measure) + ")" },
	AggMax: func(measure string) string { return "max(" + timescale.QuoteIdent(measure) + ")" },
}

// ParseAggFunc maps a request value onto a supported function.
func ParseAggFunc(s string) (AggFunc, error) {
	f := AggFunc(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := aggregateBuilders[f]; !ok {
		return "", fmt.Errorf("%w %s", ErrUnknownAggregationFunction, s)
	}
	return f, nil
}

const DefaultBucketInterval = "1 hour"

// Widths are capped at six digits so every unit stays inside the Postgres interval range.
var bucketIntervalPattern = regexp.MustCompile(`^\d{1,6}\s+(second|seconds|minute|minutes|hour|hours|day|days|week|weeks|month|months|year|years)$`)

// AggregationRequest asks for Funcs over time buckets of width Interval,
// grouped by Field (an external field name).
type AggregationRequest struct {
	Field    string
	Interval string
	Funcs    []string
	// Timezone optionally aligns the buckets to an IANA zone.
	Timezone string
	Page     Page
}

// NewAggregationRequest returns a request with the default interval,
// function and page.
func NewAggregationRequest(field string) AggregationRequest {
	return AggregationRequest{
		Field:    field,
		Interval: DefaultBucketInterval,
		Funcs:    []string{string(AggAvg)},
		Page:     DefaultPage(),
	}
}

// AggregateRow is one (bucket, field value) group.
type AggregateRow struct {
	Interval    time.Time `gorm:"column:interval" json:"interval"`
	Field       *string   `gorm:"column:field" json:"field"`
	Count       int64     `gorm:"column:count" json:"count"`
	AvgDuration *float64  `gorm:"column:avg_duration" json:"avgDuration,omitempty"`
	MinDuration *float64  `gorm:"column:min_duration" json:"minDuration,omitempty"`
	MaxDuration *float64  `gorm:"column:max_duration" json:"maxDuration,omitempty"`
}

// QueryPlan is a validated aggregate query.
type QueryPlan struct {
	SQL     string
	Args    []any
	Column  string
	Columns []string
}

// BuildAggregateQuery validates req against the entity and builds the grouped
// time_bucket query. Rows are ordered by bucket then field value; paging is
// left to the caller, who windows the materialized result.
func BuildAggregateQuery(e *Entity, req AggregationRequest) (*QueryPlan, error) {
	column, ok := e.FieldByAlias(req.Field)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownField, req.Field)
	}
	if e.IsNumeric(column) {
		return nil, fmt.Errorf("%w: %s", ErrNumericFieldNotAllowed, req.Field)
	}
	interval := strings.ToLower(strings.TrimSpace(req.Interval))
	if !bucketIntervalPattern.MatchString(interval) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidBucketInterval, req.Interval)
	}
	if len(req.Funcs) == 0 {
		return nil, ErrNoAggregationFunctions
	}
	if e.MeasureColumn() == "" {
		return nil, fmt.Errorf("%s has no measure column to aggregate", e.Name())
	}

	bucket, err := timescale.TimeBucket(interval, e.TimeColumn(), timescale.BucketOptions{Timezone: req.Timezone})
	if err != nil {
		return nil, err
	}

	quoted := timescale.QuoteIdent(column)
	selects := []string{
		bucket.SQL + ` AS "interval"`,
		e.textExpr(column) + ` AS "field"`,
		"count(" + quoted + `) AS "count"`,
	}
	columns := []string{"interval", "field", "count"}
	for _, raw := range req.Funcs {
		fn, err := ParseAggFunc(raw)
		if err != nil {
			return nil, err
		}
		alias := string(fn) + "_" + e.MeasureColumn()
		selects = append(selects, aggregateBuilders[fn](e.MeasureColumn())+` AS "`+alias+`"`)
		columns = append(columns, alias)
	}

	sql := "SELECT " + strings.Join(selects, ", ") +
		" FROM " + timescale.QuoteIdent(e.QualifiedTable()) +
		" GROUP BY 1, 2 ORDER BY 1, 2"

	return &QueryPlan{
		SQL:     sql,
		Args:    bucket.Args,
		Column:  column,
		Columns: columns,
	}, nil
}

// textExpr renders column as text for grouping output.
func (e *Entity) textExpr(column string) string {
	quoted := timescale.QuoteIdent(column)
	if f := e.schema.LookUpField(column); f != nil && strings.EqualFold(string(f.DataType), "inet") {
		return "host(" + quoted + ")"
	}
	return "CAST(" + quoted + " AS TEXT)"
}
