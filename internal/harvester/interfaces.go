package harvester

//go:generate mockgen -source=interfaces.go -destination=mocks/mocks.go -package=mocks

import (
	"context"
	"time"

	"arxiv_harvester/internal/domain"
)

// Source is the paged record source. ListRecords returns
// domain.ErrNoRecordsMatch (wrapped) when the window is empty.
type Source interface {
	ListRecords(ctx context.Context, w domain.FetchWindow) (domain.RecordIterator, error)
}

// RecordStore persists harvested records and answers coverage queries.
type RecordStore interface {
	// UpsertBatch writes the batch keyed by identifier and returns the
	// number of records successfully written. Per-record failures are
	// skipped, not fatal.
	UpsertBatch(ctx context.Context, records []domain.Record) (int, error)
	// DistinctDates returns the distinct calendar dates with at least one
	// record whose datestamp falls in [from, until), ascending, optionally
	// filtered to records belonging to setSpec.
	DistinctDates(ctx context.Context, from, until time.Time, setSpec string) ([]time.Time, error)
}

// StateStore tracks per-set harvest progress across runs.
type StateStore interface {
	Get(ctx context.Context, setSpec string) (*domain.HarvestState, error)
	Update(ctx context.Context, state *domain.HarvestState) error
}

type TransactionManager interface {
	WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}

// Publisher forwards upserted records to downstream consumers.
type Publisher interface {
	Publish(ctx context.Context, record *domain.Record) error
	Close() error
}
