package postgres

import (
	"context"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"

	"arxiv_harvester/internal/domain"
)

type RecordStore struct {
	db     *sqlx.DB
	logger *slog.Logger
}

func NewRecordStore(db *sqlx.DB, logger *slog.Logger) *RecordStore {
	return &RecordStore{db: db, logger: logger}
}

const upsertRecordQuery = `
	INSERT INTO records (
		identifier, datestamp, set_specs, creator, date_field,
		description, identifiers, subject, title, type
	) VALUES (
		$1, $2, $3, $4, $5, $6, $7, $8, $9, $10
	)
	ON CONFLICT (identifier) DO UPDATE SET
		datestamp = EXCLUDED.datestamp,
		set_specs = EXCLUDED.set_specs,
		creator = EXCLUDED.creator,
		date_field = EXCLUDED.date_field,
		description = EXCLUDED.description,
		identifiers = EXCLUDED.identifiers,
		subject = EXCLUDED.subject,
		title = EXCLUDED.title,
		type = EXCLUDED.type,
		updated_at = CURRENT_TIMESTAMP`

// UpsertBatch writes every record keyed by identifier. Inside a
// transaction each record runs under its own savepoint, so one failing
// record is rolled back and skipped while the rest commit together; with
// no transaction in context writes are best-effort per record. Returns
// the count of records written.
func (s *RecordStore) UpsertBatch(ctx context.Context, records []domain.Record) (int, error) {
	exec := GetExecutor(ctx, s.db)
	inTx := GetTxFromContext(ctx) != nil

	written := 0
	for i := range records {
		r := &records[i]

		if inTx {
			if _, err := exec.ExecContext(ctx, "SAVEPOINT upsert_record"); err != nil {
				return written, err
			}
		}

		_, err := exec.ExecContext(ctx, upsertRecordQuery,
			r.Identifier,
			r.Datestamp,
			r.SetSpecs,
			r.Creator,
			r.DateField,
			r.Description,
			r.Identifiers,
			r.Subject,
			r.Title,
			r.Type,
		)
		if err != nil {
			s.logger.Error("failed to upsert record", "identifier", r.Identifier, "error", err)
			if inTx {
				if _, rbErr := exec.ExecContext(ctx, "ROLLBACK TO SAVEPOINT upsert_record"); rbErr != nil {
					return written, rbErr
				}
			}
			continue
		}

		if inTx {
			if _, err := exec.ExecContext(ctx, "RELEASE SAVEPOINT upsert_record"); err != nil {
				return written, err
			}
		}
		written++
	}

	return written, nil
}

// DistinctDates returns the distinct calendar dates with at least one
// record whose datestamp falls in [from, until), ascending. A non-empty
// setSpec restricts the result to records belonging to that set.
func (s *RecordStore) DistinctDates(ctx context.Context, from, until time.Time, setSpec string) ([]time.Time, error) {
	query := `
		SELECT DISTINCT DATE(datestamp) AS harvest_date
		FROM records
		WHERE datestamp >= $1 AND datestamp < $2`
	args := []any{from, until}

	if setSpec != "" {
		query += ` AND set_specs ? $3`
		args = append(args, setSpec)
	}
	query += ` ORDER BY harvest_date`

	var dates []time.Time
	if err := s.db.SelectContext(ctx, &dates, query, args...); err != nil {
		return nil, err
	}
	return dates, nil
}

// GetByIdentifier loads a single stored record.
func (s *RecordStore) GetByIdentifier(ctx context.Context, identifier string) (*domain.Record, error) {
	var rec domain.Record
	query := `
		SELECT id, identifier, datestamp, set_specs, creator, date_field,
		       description, identifiers, subject, title, type,
		       created_at, updated_at
		FROM records
		WHERE identifier = $1`

	if err := s.db.GetContext(ctx, &rec, query, identifier); err != nil {
		return nil, err
	}
	return &rec, nil
}
