package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"fastanalytics/internal/db/timescale"
)

// EventRepository reads and writes events and runs their aggregations.
type EventRepository struct {
	DB     *gorm.DB
	Entity *Entity
}

// NewEventRepository looks the event entity up in the registry.
func NewEventRepository(db *gorm.DB, reg *Registry) (*EventRepository, error) {
	e, err := reg.Lookup(Event{}.TableName())
	if err != nil {
		return nil, err
	}
	return &EventRepository{DB: db, Entity: e}, nil
}

// CreateEvent inserts ev in its own transaction, rolled back on failure.
// Time defaults to now (UTC) when unset.
func (r *EventRepository) CreateEvent(ctx context.Context, ev *Event) error {
	if ev.Time.IsZero() {
		ev.Time = time.Now().UTC()
	}
	return r.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.Create(ev).Error
	})
}

// FindEvent returns the event with the given id or ErrNotFound.
func (r *EventRepository) FindEvent(ctx context.Context, id int64) (*Event, error) {
	var ev Event
	if err := r.DB.WithContext(ctx).Where("id = ?", id).Take(&ev).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("event %d: %w", id, ErrNotFound)
		}
		return nil, err
	}
	return &ev, nil
}

// ListEvents returns a page of events and the approximate number of stored
// events. Both reads share one transaction.
func (r *EventRepository) ListEvents(ctx context.Context, page Page) ([]Event, int64, error) {
	if err := page.Validate(); err != nil {
		return nil, 0, err
	}
	var (
		events []Event
		total  int64
	)
	err := r.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := pageQuery(tx, r.Entity, page).Find(&events).Error; err != nil {
			return err
		}
		n, err := timescale.ApproximateRowCount(ctx, tx, r.Entity.QualifiedTable())
		if err != nil {
			return err
		}
		total = n
		return nil
	})
	if err != nil {
		return nil, 0, err
	}
	return events, total, nil
}

// pageQuery orders rows newest first and selects the page.
func pageQuery(tx *gorm.DB, e *Entity, page Page) *gorm.DB {
	return tx.Order(clause.OrderByColumn{Column: clause.Column{Name: e.TimeColumn()}, Desc: true}).
		Limit(page.Limit()).
		Offset(page.Offset())
}

// AggregateEvents runs the aggregation and returns the requested page of the
// full grouped result along with the total number of groups.
func (r *EventRepository) AggregateEvents(ctx context.Context, req AggregationRequest) ([]AggregateRow, int64, error) {
	if err := req.Page.Validate(); err != nil {
		return nil, 0, err
	}
	plan, err := BuildAggregateQuery(r.Entity, req)
	if err != nil {
		return nil, 0, err
	}
	var rows []AggregateRow
	if err := r.DB.WithContext(ctx).Raw(plan.SQL, plan.Args...).Scan(&rows).Error; err != nil {
		return nil, 0, fmt.Errorf("aggregate %s by %s: %w", r.Entity.QualifiedTable(), plan.Column, err)
	}
	return Window(rows, req.Page), int64(len(rows)), nil
}
