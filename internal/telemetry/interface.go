package telemetry

import (
	"context"
	"time"
)

// Collector defines the core domain interface
type Collector interface {
	Record(ctx context.Context, snapshot *CycleSnapshot) error
	Close() error
}

// CycleSnapshot captures the outcome of one poll cycle
type CycleSnapshot struct {
	Timestamp      time.Time
	Temperature    int
	ReadingState   string
	Wrote          bool
	Skipped        bool
	SourceFailures int
	DeviceFailures int
	IntervalMS     int64
}
