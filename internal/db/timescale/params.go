package timescale

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrInvalidIntervalFormat      = errors.New("invalid chunk time interval format")
	ErrMissingIntervalDeclaration = errors.New("hypertable model declares no chunk time interval")
	ErrMissingTimeColumn          = errors.New("hypertable model declares no time column")
)

const intervalPrefix = "INTERVAL "

type intervalKind int

const (
	intervalUnset intervalKind = iota
	intervalText
	intervalCount
	intervalDuration
)

// Interval is the raw chunk interval a model declares. Exactly one variant is
// set: a textual interval ("INTERVAL 7 days"), an integer count, or a
// structured duration. The zero value means "not declared".
type Interval struct {
	kind     intervalKind
	text     string
	count    int64
	duration time.Duration
}

// IntervalText declares a textual interval. It must start with "INTERVAL ".
func IntervalText(s string) Interval {
	return Interval{kind: intervalText, text: s}
}

// IntervalCount declares an integer chunk interval, passed to TimescaleDB as is.
// For timestamp time columns TimescaleDB reads it as microseconds.
func IntervalCount(n int64) Interval {
	return Interval{kind: intervalCount, count: n}
}

// IntervalDuration declares a structured duration. It is converted to an
// integer number of microseconds, without truncation of whole seconds.
func IntervalDuration(d time.Duration) Interval {
	return Interval{kind: intervalDuration, duration: d}
}

func (i Interval) IsZero() bool { return i.kind == intervalUnset }

func (i Interval) String() string {
	switch i.kind {
	case intervalText:
		return i.text
	case intervalCount:
		return fmt.Sprintf("%d", i.count)
	case intervalDuration:
		return i.duration.String()
	default:
		return "<unset>"
	}
}

// ChunkInterval is the normalized chunk interval sent to create_hypertable:
// either a duration string without the INTERVAL prefix ("7 DAYS") or an
// integer count of microseconds.
type ChunkInterval struct {
	Text   string
	Micros int64
	IsText bool
}

func (c ChunkInterval) String() string {
	if c.IsText {
		return c.Text
	}
	return fmt.Sprintf("%d", c.Micros)
}

// Model is the metadata a hypertable-backed entity exposes.
type Model interface {
	Name() string
	Schema() string
	Table() string
	TimeColumn() string
	ChunkInterval() Interval
}

// Params holds the validated arguments of a create_hypertable call.
type Params struct {
	TableName         string
	TimeColumn        string
	ChunkTimeInterval ChunkInterval
	IfNotExists       bool
	MigrateData       bool
}

// QualifiedName returns schema.table, or table when no schema is set.
func QualifiedName(schema, table string) string {
	if schema == "" {
		return table
	}
	return schema + "." + table
}

// ExtractParams validates the model declaration and builds the arguments for
// create_hypertable. Creation is always idempotent and always migrates data
// already stored in the plain table.
func ExtractParams(m Model) (Params, error) {
	chunk, err := normalizeInterval(m.ChunkInterval())
	if err != nil {
		return Params{}, fmt.Errorf("%s: %w", m.Name(), err)
	}
	column := strings.TrimSpace(m.TimeColumn())
	if column == "" {
		return Params{}, fmt.Errorf("%s: %w", m.Name(), ErrMissingTimeColumn)
	}
	return Params{
		TableName:         QualifiedName(m.Schema(), m.Table()),
		TimeColumn:        column,
		ChunkTimeInterval: chunk,
		IfNotExists:       true,
		MigrateData:       true,
	}, nil
}

func normalizeInterval(i Interval) (ChunkInterval, error) {
	switch i.kind {
	case intervalText:
		v := strings.ToUpper(strings.TrimSpace(i.text))
		if !strings.HasPrefix(v, intervalPrefix) {
			return ChunkInterval{}, fmt.Errorf("%w: %q must start with %q", ErrInvalidIntervalFormat, v, intervalPrefix)
		}
		v = strings.TrimSpace(strings.TrimPrefix(v, intervalPrefix))
		if v == "" {
			return ChunkInterval{}, fmt.Errorf("%w: empty interval", ErrInvalidIntervalFormat)
		}
		return ChunkInterval{Text: v, IsText: true}, nil
	case intervalCount:
		if i.count < 0 {
			return ChunkInterval{}, fmt.Errorf("%w: negative interval %d", ErrInvalidIntervalFormat, i.count)
		}
		return ChunkInterval{Micros: i.count}, nil
	case intervalDuration:
		if i.duration < 0 {
			return ChunkInterval{}, fmt.Errorf("%w: negative interval %s", ErrInvalidIntervalFormat, i.duration)
		}
		return ChunkInterval{Micros: i.duration.Microseconds()}, nil
	default:
		return ChunkInterval{}, ErrMissingIntervalDeclaration
	}
}
