package db

import (
	"errors"

	"fastanalytics/internal/db/timescale"
)

var (
	ErrNotFound = errors.New("record not found")

	ErrInvalidPage                = errors.New("invalid pagination")
	ErrUnknownField               = errors.New("invalid field for aggregation")
	ErrNumericFieldNotAllowed     = errors.New("it is only allowed to aggregate non-numeric fields")
	ErrUnknownAggregationFunction = errors.New("unknown aggregation function")
	ErrNoAggregationFunctions     = errors.New("at least one aggregation function is required")
	ErrInvalidBucketInterval      = errors.New("invalid aggregation interval")
	ErrInvalidEvent               = errors.New("invalid event")
)

var validationErrors = []error{
	ErrInvalidPage,
	ErrUnknownField,
	ErrNumericFieldNotAllowed,
	ErrUnknownAggregationFunction,
	ErrNoAggregationFunctions,
	ErrInvalidBucketInterval,
	ErrInvalidEvent,
	timescale.ErrInvalidTimezone,
}

// IsValidation reports whether err is caused by bad client input.
func IsValidation(err error) bool {
	for _, target := range validationErrors {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
