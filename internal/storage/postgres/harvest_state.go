package postgres

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"

	"arxiv_harvester/internal/domain"
)

type HarvestStateStore struct {
	db *sqlx.DB
}

func NewHarvestStateStore(db *sqlx.DB) *HarvestStateStore {
	return &HarvestStateStore{db: db}
}

func (s *HarvestStateStore) Get(ctx context.Context, setSpec string) (*domain.HarvestState, error) {
	var state domain.HarvestState
	query := `
		SELECT id, set_spec, last_harvested_at, total_harvested
		FROM harvest_state
		WHERE set_spec = $1`

	err := s.db.GetContext(ctx, &state, query, setSpec)
	if errors.Is(err, sql.ErrNoRows) {
		// Empty state for sets never harvested before.
		return &domain.HarvestState{SetSpec: setSpec}, nil
	}
	if err != nil {
		return nil, err
	}
	return &state, nil
}

func (s *HarvestStateStore) Update(ctx context.Context, state *domain.HarvestState) error {
	query := `
		INSERT INTO harvest_state (set_spec, last_harvested_at, total_harvested)
		VALUES ($1, $2, $3)
		ON CONFLICT (set_spec) DO UPDATE SET
			last_harvested_at = EXCLUDED.last_harvested_at,
			total_harvested = EXCLUDED.total_harvested`

	_, err := s.db.ExecContext(ctx, query,
		state.SetSpec,
		state.LastHarvestedAt,
		state.TotalHarvested,
	)
	return err
}
