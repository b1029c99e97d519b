package db

import (
	"fmt"
	"math"
)

const (
	DefaultPageSize = 500
	MaxPageSize     = 1000

	// MaxPage keeps (Page-1)*PageSize within int for every valid page size.
	MaxPage = math.MaxInt/MaxPageSize + 1
)

// Page selects a window of a result set. Page numbers start at 1.
type Page struct {
	Page     int
	PageSize int
}

// DefaultPage is the first page with the default size.
func DefaultPage() Page {
	return Page{Page: 1, PageSize: DefaultPageSize}
}

func (p Page) Validate() error {
	if p.Page < 1 || p.Page > MaxPage {
		return fmt.Errorf("%w: page must be between 1 and %d, got %d", ErrInvalidPage, MaxPage, p.Page)
	}
	if p.PageSize < 1 || p.PageSize > MaxPageSize {
		return fmt.Errorf("%w: page_size must be between 1 and %d, got %d", ErrInvalidPage, MaxPageSize, p.PageSize)
	}
	return nil
}

func (p Page) Offset() int { return (p.Page - 1) * p.PageSize }

func (p Page) Limit() int { return p.PageSize }

// TotalPages is ceil(total / pageSize).
func TotalPages(total int64, pageSize int) int64 {
	if pageSize < 1 || total <= 0 {
		return 0
	}
	size := int64(pageSize)
	return (total + size - 1) / size
}

// Window returns the rows of a fully materialized result that fall in p.
func Window[T any](rows []T, p Page) []T {
	start := p.Offset()
	if start >= len(rows) || start < 0 {
		return []T{}
	}
	end := start + p.Limit()
	if end > len(rows) {
		end = len(rows)
	}
	return rows[start:end]
}
