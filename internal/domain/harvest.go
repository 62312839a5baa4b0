package domain

import (
	"context"
	"errors"
	"time"
)

// ErrNoRecordsMatch is the source's "empty window" condition. It is an
// expected outcome, not a fault: the harvest loop maps it to a zero-count
// success.
var ErrNoRecordsMatch = errors.New("no records match")

// ErrMalformedRecord marks a record missing a required header field.
var ErrMalformedRecord = errors.New("malformed record")

// RecordIterator is a lazy, finite, non-restartable stream of raw records.
// Next returns io.EOF after the last record.
type RecordIterator interface {
	Next(ctx context.Context) (*RawRecord, error)
}

// FetchWindow is a single harvesting request unit: one set spec over a
// half-open date range [From, Until).
type FetchWindow struct {
	SetSpec string
	From    time.Time
	Until   time.Time
}

// Day returns a one-day window [d, d+1) for the given set spec.
func Day(setSpec string, d time.Time) FetchWindow {
	return FetchWindow{SetSpec: setSpec, From: d, Until: d.AddDate(0, 0, 1)}
}

// HarvestState tracks per-set progress across runs.
type HarvestState struct {
	ID              int64     `db:"id"`
	SetSpec         string    `db:"set_spec"`
	LastHarvestedAt time.Time `db:"last_harvested_at"`
	TotalHarvested  int64     `db:"total_harvested"`
}

// RunStats summarizes a full recent or backfill run.
type RunStats struct {
	Mode             string
	RecordsWritten   int
	WindowsSucceeded int
	WindowsFailed    int
	Duration         time.Duration
}

func (s *RunStats) Add(o *RunStats) {
	s.RecordsWritten += o.RecordsWritten
	s.WindowsSucceeded += o.WindowsSucceeded
	s.WindowsFailed += o.WindowsFailed
}
