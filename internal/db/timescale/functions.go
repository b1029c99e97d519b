package timescale

import (
	"errors"
	"fmt"
	"strings"
	"time"
	_ "time/tzdata"
)

var ErrInvalidTimezone = errors.New("incorrect timezone provided")

// BucketOptions are the optional time_bucket arguments.
type BucketOptions struct {
	// Timezone is an IANA zone name the buckets are aligned in.
	Timezone string
	// Origin shifts the bucket alignment.
	Origin *time.Time
	// Offset is an interval ("30 minutes") added to the alignment.
	Offset string
}

// Expr is a SQL fragment with positional "?" arguments.
type Expr struct {
	SQL  string
	Args []any
}

// TimeBucket builds a time_bucket call over column. width and Offset are
// bound as parameters; column must be a trusted identifier.
func TimeBucket(width, column string, opts BucketOptions) (Expr, error) {
	var b strings.Builder
	args := []any{width}
	b.WriteString("time_bucket(CAST(? AS INTERVAL), ")
	b.WriteString(QuoteIdent(column))
	if opts.Timezone != "" {
		if err := ValidateTimezone(opts.Timezone); err != nil {
			return Expr{}, err
		}
		b.WriteString(", timezone => ?")
		args = append(args, opts.Timezone)
	}
	if opts.Origin != nil {
		b.WriteString(", origin => CAST(? AS TIMESTAMPTZ)")
		args = append(args, opts.Origin.UTC())
	}
	if opts.Offset != "" {
		b.WriteString(`, "offset" => CAST(? AS INTERVAL)`)
		args = append(args, opts.Offset)
	}
	b.WriteString(")")
	return Expr{SQL: b.String(), Args: args}, nil
}

// QuoteIdent quotes a possibly schema-qualified identifier for Postgres.
func QuoteIdent(name string) string {
	parts := strings.Split(name, ".")
	for i, p := range parts {
		parts[i] = `"` + strings.ReplaceAll(p, `"`, `""`) + `"`
	}
	return strings.Join(parts, ".")
}

// ValidateTimezone accepts IANA zone names. "Local" resolves in Go but names
// the process zone, which Postgres does not know.
func ValidateTimezone(name string) error {
	if name == "Local" {
		return fmt.Errorf("%w: %q", ErrInvalidTimezone, name)
	}
	if _, err := time.LoadLocation(name); err != nil {
		return fmt.Errorf("%w: %q", ErrInvalidTimezone, name)
	}
	return nil
}
