package db

import (
	"time"

	"gorm.io/datatypes"

	"fastanalytics/internal/db/timescale"
)

// Schema is the Postgres schema the analytics tables live in.
const Schema = "analytics"

// Event represents a single page view captured from a client. It is stored
// in a hypertable partitioned on Time.
//
// The json tags are the external field names; aggregation requests address
// fields by them.
type Event struct {
	ID   int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	Time time.Time `gorm:"primaryKey;type:timestamptz;not null;index:page_time_desc,priority:2,sort:desc" json:"time"`

	// Page is the visited path, always starting with "/".
	Page  string `gorm:"type:text;not null;index:page_time_desc,priority:1" json:"page"`
	Agent string `gorm:"type:text;not null" json:"agent"`

	IPAddress string  `gorm:"type:inet;not null" json:"ipAddress"`
	Referrer  *string `gorm:"type:text" json:"referrer"`

	SessionID datatypes.UUID `gorm:"type:uuid;not null" json:"sessionId"`

	// Duration is the time spent on the page, in seconds.
	Duration float64 `gorm:"not null;default:0" json:"duration"`
}

func (Event) TableName() string { return Schema + ".events" }

func (Event) TimeColumn() string { return "time" }

func (Event) ChunkInterval() timescale.Interval {
	return timescale.IntervalText("INTERVAL 7 days")
}

// MeasureColumn is the numeric column avg/min/max aggregate over.
func (Event) MeasureColumn() string { return "duration" }
