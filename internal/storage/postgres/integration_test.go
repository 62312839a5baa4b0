//go:build integration

package postgres

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/stretchr/testify/suite"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"arxiv_harvester/internal/domain"
)

type PostgresIntegrationSuite struct {
	suite.Suite
	ctx       context.Context
	container *postgres.PostgresContainer
	db        *sqlx.DB
	logger    *slog.Logger
}

func (s *PostgresIntegrationSuite) SetupSuite() {
	s.ctx = context.Background()
	s.logger = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))

	migrationsPath, err := filepath.Abs("../../../migrations")
	s.Require().NoError(err)

	container, err := postgres.Run(s.ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("test_db"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		postgres.WithInitScripts(
			filepath.Join(migrationsPath, "001_create_records.up.sql"),
			filepath.Join(migrationsPath, "002_create_harvest_state.up.sql"),
		),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	s.Require().NoError(err)
	s.container = container

	connStr, err := container.ConnectionString(s.ctx, "sslmode=disable")
	s.Require().NoError(err)

	db, err := sqlx.Connect("postgres", connStr)
	s.Require().NoError(err)
	s.db = db
}

func (s *PostgresIntegrationSuite) TearDownSuite() {
	if s.db != nil {
		s.db.Close()
	}
	if s.container != nil {
		_ = s.container.Terminate(s.ctx)
	}
}

func (s *PostgresIntegrationSuite) SetupTest() {
	_, _ = s.db.ExecContext(s.ctx, "DELETE FROM records")
	_, _ = s.db.ExecContext(s.ctx, "DELETE FROM harvest_state")
}

func TestPostgresIntegrationSuite(t *testing.T) {
	suite.Run(t, new(PostgresIntegrationSuite))
}

func testRecord(identifier string, datestamp time.Time, setSpecs ...string) domain.Record {
	return domain.Record{
		Identifier:  identifier,
		Datestamp:   datestamp,
		SetSpecs:    setSpecs,
		Creator:     domain.ListField([]string{"Doe, Jane", "Roe, Richard"}),
		DateField:   domain.ScalarField("2024-01-10"),
		Description: domain.ScalarField("A description."),
		Identifiers: domain.ListField([]string{"http://arxiv.org/abs/" + identifier}),
		Subject:     domain.ScalarField("Computer Science - Databases"),
		Title:       domain.ScalarField("Some Title"),
		Type:        domain.ScalarField("text"),
	}
}

func (s *PostgresIntegrationSuite) TestRecordStore_UpsertBatch_Insert() {
	store := NewRecordStore(s.db, s.logger)
	datestamp := time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)

	written, err := store.UpsertBatch(s.ctx, []domain.Record{
		testRecord("oai:arXiv.org:2401.00001", datestamp, "cs"),
		testRecord("oai:arXiv.org:2401.00002", datestamp, "cs", "math"),
	})
	s.NoError(err)
	s.Equal(2, written)

	var count int
	err = s.db.GetContext(s.ctx, &count, "SELECT COUNT(*) FROM records")
	s.NoError(err)
	s.Equal(2, count)

	rec, err := store.GetByIdentifier(s.ctx, "oai:arXiv.org:2401.00002")
	s.NoError(err)
	s.Equal(domain.StringList{"cs", "math"}, rec.SetSpecs)
	s.Equal("Some Title", rec.Title.First())
	s.True(rec.Title.Scalar)
	s.Equal([]string{"Doe, Jane", "Roe, Richard"}, rec.Creator.Values)
	s.False(rec.Creator.Scalar)
	s.False(rec.CreatedAt.IsZero())
	s.False(rec.UpdatedAt.IsZero())
}

func (s *PostgresIntegrationSuite) TestRecordStore_UpsertBatch_Idempotent() {
	store := NewRecordStore(s.db, s.logger)
	datestamp := time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)

	rec := testRecord("oai:arXiv.org:2401.00001", datestamp, "cs")
	written, err := store.UpsertBatch(s.ctx, []domain.Record{rec})
	s.NoError(err)
	s.Equal(1, written)

	first, err := store.GetByIdentifier(s.ctx, rec.Identifier)
	s.NoError(err)

	time.Sleep(20 * time.Millisecond)

	rec.Title = domain.ScalarField("Revised Title")
	rec.Datestamp = datestamp.AddDate(0, 0, 1)
	written, err = store.UpsertBatch(s.ctx, []domain.Record{rec})
	s.NoError(err)
	s.Equal(1, written)

	var count int
	err = s.db.GetContext(s.ctx, &count, "SELECT COUNT(*) FROM records")
	s.NoError(err)
	s.Equal(1, count)

	second, err := store.GetByIdentifier(s.ctx, rec.Identifier)
	s.NoError(err)
	s.Equal(first.ID, second.ID)
	s.Equal("Revised Title", second.Title.First())
	s.True(second.Datestamp.UTC().Equal(datestamp.AddDate(0, 0, 1)))
	// Re-upsert keeps the creation time and bumps the update time.
	s.Equal(first.CreatedAt, second.CreatedAt)
	s.True(second.UpdatedAt.After(first.UpdatedAt))
}

func (s *PostgresIntegrationSuite) TestRecordStore_UpsertBatch_SkipsFailingRecordInTransaction() {
	store := NewRecordStore(s.db, s.logger)
	tm := NewTransactionManager(s.db)
	datestamp := time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)

	var written int
	err := tm.WithTransaction(s.ctx, func(ctx context.Context) error {
		var err error
		written, err = store.UpsertBatch(ctx, []domain.Record{
			testRecord("oai:arXiv.org:2401.00001", datestamp, "cs"),
			testRecord("", datestamp, "cs"), // violates the identifier check
			testRecord("oai:arXiv.org:2401.00003", datestamp, "cs"),
		})
		return err
	})
	s.NoError(err)
	s.Equal(2, written)

	var count int
	err = s.db.GetContext(s.ctx, &count, "SELECT COUNT(*) FROM records")
	s.NoError(err)
	s.Equal(2, count)

	_, err = store.GetByIdentifier(s.ctx, "oai:arXiv.org:2401.00003")
	s.NoError(err)
}

func (s *PostgresIntegrationSuite) TestRecordStore_DistinctDates() {
	store := NewRecordStore(s.db, s.logger)

	stamps := []time.Time{
		time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC),
		time.Date(2024, 1, 1, 18, 0, 0, 0, time.UTC),
		time.Date(2024, 1, 3, 12, 0, 0, 0, time.UTC),
		time.Date(2024, 1, 6, 12, 0, 0, 0, time.UTC),
	}
	for i, stamp := range stamps {
		identifier := "oai:arXiv.org:2401.0000" + string(rune('1'+i))
		_, err := store.UpsertBatch(s.ctx, []domain.Record{testRecord(identifier, stamp, "cs")})
		s.Require().NoError(err)
	}

	dates, err := store.DistinctDates(s.ctx,
		time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2024, 1, 6, 0, 0, 0, 0, time.UTC),
		"",
	)
	s.NoError(err)

	// Two records on Jan 1 collapse to one date; Jan 6 falls outside the
	// half-open range.
	s.Require().Len(dates, 2)
	s.Equal(1, dates[0].Day())
	s.Equal(3, dates[1].Day())
}

func (s *PostgresIntegrationSuite) TestRecordStore_DistinctDates_SetFilter() {
	store := NewRecordStore(s.db, s.logger)

	_, err := store.UpsertBatch(s.ctx, []domain.Record{
		testRecord("oai:arXiv.org:2401.00001", time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC), "cs"),
		testRecord("oai:arXiv.org:2401.00002", time.Date(2024, 1, 2, 12, 0, 0, 0, time.UTC), "math"),
		testRecord("oai:arXiv.org:2401.00003", time.Date(2024, 1, 3, 12, 0, 0, 0, time.UTC), "cs", "math"),
	})
	s.Require().NoError(err)

	from := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	until := time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC)

	dates, err := store.DistinctDates(s.ctx, from, until, "cs")
	s.NoError(err)
	s.Require().Len(dates, 2)
	s.Equal(1, dates[0].Day())
	s.Equal(3, dates[1].Day())

	dates, err = store.DistinctDates(s.ctx, from, until, "math")
	s.NoError(err)
	s.Require().Len(dates, 2)
	s.Equal(2, dates[0].Day())
	s.Equal(3, dates[1].Day())
}

func (s *PostgresIntegrationSuite) TestHarvestStateStore_GetNew() {
	store := NewHarvestStateStore(s.db)

	state, err := store.Get(s.ctx, "never-harvested")
	s.NoError(err)
	s.NotNil(state)
	s.Equal("never-harvested", state.SetSpec)
	s.True(state.LastHarvestedAt.IsZero())
	s.Equal(int64(0), state.TotalHarvested)
}

func (s *PostgresIntegrationSuite) TestHarvestStateStore_UpdateAndGet() {
	store := NewHarvestStateStore(s.db)
	now := time.Now().UTC().Truncate(time.Microsecond)

	state := &domain.HarvestState{
		SetSpec:         "cs",
		LastHarvestedAt: now,
		TotalHarvested:  1500,
	}
	s.NoError(store.Update(s.ctx, state))

	retrieved, err := store.Get(s.ctx, "cs")
	s.NoError(err)
	s.Equal("cs", retrieved.SetSpec)
	s.Equal(int64(1500), retrieved.TotalHarvested)
	s.WithinDuration(now, retrieved.LastHarvestedAt, time.Second)

	state.TotalHarvested = 2000
	s.NoError(store.Update(s.ctx, state))

	retrieved, err = store.Get(s.ctx, "cs")
	s.NoError(err)
	s.Equal(int64(2000), retrieved.TotalHarvested)
}

func (s *PostgresIntegrationSuite) TestTransaction_Commit() {
	tm := NewTransactionManager(s.db)
	store := NewRecordStore(s.db, s.logger)
	datestamp := time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)

	err := tm.WithTransaction(s.ctx, func(ctx context.Context) error {
		_, err := store.UpsertBatch(ctx, []domain.Record{
			testRecord("oai:arXiv.org:2401.00001", datestamp, "cs"),
		})
		return err
	})
	s.NoError(err)

	var count int
	err = s.db.GetContext(s.ctx, &count, "SELECT COUNT(*) FROM records")
	s.NoError(err)
	s.Equal(1, count)
}

func (s *PostgresIntegrationSuite) TestTransaction_Rollback() {
	tm := NewTransactionManager(s.db)
	store := NewRecordStore(s.db, s.logger)
	datestamp := time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)

	err := tm.WithTransaction(s.ctx, func(ctx context.Context) error {
		if _, err := store.UpsertBatch(ctx, []domain.Record{
			testRecord("oai:arXiv.org:2401.00001", datestamp, "cs"),
		}); err != nil {
			return err
		}
		return context.Canceled
	})
	s.Error(err)

	var count int
	err = s.db.GetContext(s.ctx, &count, "SELECT COUNT(*) FROM records")
	s.NoError(err)
	s.Equal(0, count)
}
